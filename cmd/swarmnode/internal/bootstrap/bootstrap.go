// Package bootstrap wires the cobra subcommands of the swarmnode binary:
// parsing flags/environment into an EngineConfig, constructing the engine,
// gossip transport, and background workers, and handing control to the
// caller via RunCmd/CheckpointCmd/FastSyncCmd.
package bootstrap

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"swarmcore/core"
)

// healthSnapshotInterval is how often RunCmd records a health snapshot when
// metrics are enabled.
const healthSnapshotInterval = 15 * time.Second

// pruneInterval is how often the background pruning sweep runs.
const pruneInterval = 5 * time.Minute

// exitError pairs an error with the process exit code §6 assigns it.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func configFailure(err error) error  { return &exitError{code: 1, err: err} }
func serviceFailure(err error) error { return &exitError{code: 2, err: err} }

// ExitCodeFor maps a command error to the exit code §6's CLI surface
// promises: 0 clean shutdown, 1 unrecoverable config/init failure, 2
// external-service unavailable at startup.
func ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

// nodeFlags mirrors the CLI surface: --state-dir, --listen-addr,
// --decide-backend, --bootstrap-threshold, --k-target, --keep-epochs.
type nodeFlags struct {
	stateDir           string
	listenAddr         string
	decideBackend      string
	bootstrapThreshold int
	kTarget            int
	keepEpochs         int
	discoveryTag       string
	bootstrapPeers     []string
	threads            []string
	metricsAddr        string
}

func bindNodeFlags(cmd *cobra.Command) *nodeFlags {
	f := &nodeFlags{}
	cmd.Flags().StringVar(&f.stateDir, "state-dir", "./data", "base directory for checkpoints, cold storage, identity")
	cmd.Flags().StringVar(&f.listenAddr, "listen-addr", "/ip4/0.0.0.0/tcp/4001", "gossip listen multiaddr")
	cmd.Flags().StringVar(&f.decideBackend, "decide-backend", "cas", "DECIDE backend: raft|cas")
	cmd.Flags().IntVar(&f.bootstrapThreshold, "bootstrap-threshold", core.DefaultBootstrapThreshold, "active verifier count below which bootstrap mode applies")
	cmd.Flags().IntVar(&f.kTarget, "k-target", core.DefaultKTarget, "steady-state quorum target")
	cmd.Flags().IntVar(&f.keepEpochs, "keep-epochs", 10, "epochs retained in hot storage before pruning")
	cmd.Flags().StringVar(&f.discoveryTag, "discovery-tag", "swarmcore", "mDNS discovery tag")
	cmd.Flags().StringSliceVar(&f.bootstrapPeers, "bootstrap-peer", nil, "bootstrap peer multiaddr (repeatable)")
	cmd.Flags().StringSliceVar(&f.threads, "thread", nil, "thread id to subscribe to (repeatable)")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "address to serve Prometheus /metrics on (empty disables)")

	_ = viper.BindPFlag("network.listen_addr", cmd.Flags().Lookup("listen-addr"))
	_ = viper.BindPFlag("network.discovery_tag", cmd.Flags().Lookup("discovery-tag"))
	_ = viper.BindPFlag("network.bootstrap_peers", cmd.Flags().Lookup("bootstrap-peer"))
	_ = viper.BindPFlag("storage.state_dir", cmd.Flags().Lookup("state-dir"))
	_ = viper.BindPFlag("decide.backend", cmd.Flags().Lookup("decide-backend"))
	_ = viper.BindPFlag("committee.bootstrap_threshold", cmd.Flags().Lookup("bootstrap-threshold"))
	_ = viper.BindPFlag("committee.k_target", cmd.Flags().Lookup("k-target"))
	_ = viper.BindPFlag("checkpoint.keep_epochs", cmd.Flags().Lookup("keep-epochs"))

	return f
}

func loadEnvAndLogging() error {
	_ = godotenv.Load()
	level := viperStringOr("logging.level", "info")
	lv, err := logrus.ParseLevel(level)
	if err != nil {
		return configFailure(fmt.Errorf("bootstrap: bad logging.level %q: %w", level, err))
	}
	logrus.SetLevel(lv)
	logrus.SetFormatter(&logrus.JSONFormatter{})
	return nil
}

func viperStringOr(key, def string) string {
	if v := viper.GetString(key); v != "" {
		return v
	}
	return def
}

// identity is the node's durable Ed25519 keypair, persisted under
// <state-dir>/identity.key so a restart keeps the same Address.
func loadOrCreateIdentity(stateDir string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, nil, err
	}
	path := filepath.Join(stateDir, "identity.key")
	if raw, err := os.ReadFile(path); err == nil && len(raw) == ed25519.PrivateKeySize {
		sk := ed25519.PrivateKey(raw)
		return sk.Public().(ed25519.PublicKey), sk, nil
	}
	pk, sk, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, nil, err
	}
	if err := os.WriteFile(path, sk, 0o600); err != nil {
		return nil, nil, err
	}
	return pk, sk, nil
}

// runningNode bundles the live components a graceful shutdown needs to tear
// down in order, matching the teacher's bootNode/bootMu package-level
// pattern for process lifecycle.
type runningNode struct {
	engine     *core.Engine
	dispatch   *core.Dispatcher
	gossip     *core.GossipNode
	monitor    *core.LeaseMonitor
	health     *core.HealthLogger
	healthStop context.CancelFunc
	metricsSrv *http.Server
	pruneStop  context.CancelFunc
}

var (
	nodeMu  sync.RWMutex
	current *runningNode
)

func buildNode(f *nodeFlags) (*runningNode, error) {
	if err := os.MkdirAll(f.stateDir, 0o755); err != nil {
		return nil, configFailure(fmt.Errorf("bootstrap: create state dir: %w", err))
	}

	pk, sk, err := loadOrCreateIdentity(f.stateDir)
	if err != nil {
		return nil, configFailure(fmt.Errorf("bootstrap: load identity: %w", err))
	}
	selfID, ok := core.AddressFromBytes(pk)
	if !ok {
		return nil, configFailure(fmt.Errorf("bootstrap: derive address from identity"))
	}

	decide, err := newDecideCoordinator(f)
	if err != nil {
		return nil, serviceFailure(fmt.Errorf("bootstrap: decide backend unavailable: %w", err))
	}

	store := core.NewBlobStore()

	engine, err := core.NewEngine(core.EngineConfig{
		SelfID:             selfID,
		BootstrapThreshold: f.bootstrapThreshold,
		KTarget:            f.kTarget,
	}, decide, store, nil)
	if err != nil {
		return nil, configFailure(fmt.Errorf("bootstrap: construct engine: %w", err))
	}
	engine.SelfPK = pk
	engine.SelfSK = sk

	dispatch := core.NewDispatcher(engine)

	gossip, err := core.NewGossipNode(core.NodeConfig{
		ListenAddr:     f.listenAddr,
		BootstrapPeers: f.bootstrapPeers,
		DiscoveryTag:   f.discoveryTag,
	})
	if err != nil {
		return nil, serviceFailure(fmt.Errorf("bootstrap: start gossip node: %w", err))
	}
	engine.Publisher = gossip

	// libp2p-pubsub topics are exact strings, so one subscription per
	// (thread, verb) pair is opened for every thread the operator names;
	// newly created threads require restarting with an updated --thread
	// list or a discovery mechanism layered on top (out of scope here).
	for _, threadID := range f.threads {
		for _, k := range core.AllKinds() {
			kind, topic := k, k.Topic(threadID)
			if err := gossip.SubscribeEnvelopes(topic, func(env core.Envelope) {
				if err := dispatch.Dispatch(env); err != nil {
					logrus.WithError(err).WithField("kind", env.Kind).Warn("bootstrap: dispatch failed")
				}
			}); err != nil {
				logrus.WithError(err).WithFields(logrus.Fields{"kind": kind, "topic": topic}).Warn("bootstrap: subscribe failed")
			}
		}
	}

	monitor := core.NewLeaseMonitor(engine.Leases, engine.Heartbeats, func(taskID, leaseID string, reason core.ReleaseReason) {
		logrus.WithFields(logrus.Fields{"task_id": taskID, "lease_id": leaseID, "reason": reason}).Info("lease reclaimed")
	})
	monitor.Start()

	node := &runningNode{engine: engine, dispatch: dispatch, gossip: gossip, monitor: monitor}

	coldDir := filepath.Join(f.stateDir, "cold")
	tiered, err := core.NewTieredStorage(coldDir)
	if err != nil {
		node.stop()
		return nil, configFailure(fmt.Errorf("bootstrap: open cold storage: %w", err))
	}
	keepEpochs := f.keepEpochs
	if keepEpochs <= 0 {
		keepEpochs = core.DefaultPruningPolicy().KeepEpochs
	}
	pruner := core.NewPruningManager(core.PruningPolicy{KeepEpochs: int64(keepEpochs), MinOpsPerEpoch: core.DefaultPruningPolicy().MinOpsPerEpoch}, tiered)
	pruneCtx, pruneCancel := context.WithCancel(context.Background())
	node.pruneStop = pruneCancel
	go runPruneLoop(pruneCtx, engine, pruner)

	if f.metricsAddr != "" {
		checkpoints := core.NewCheckpointManager(filepath.Join(f.stateDir, "checkpoints"))
		health, err := core.NewHealthLogger(engine, gossip, checkpoints, filepath.Join(f.stateDir, "health.log"))
		if err != nil {
			node.stop()
			return nil, configFailure(fmt.Errorf("bootstrap: open health log: %w", err))
		}
		ctx, cancel := context.WithCancel(context.Background())
		go health.RunMetricsCollector(ctx, healthSnapshotInterval)
		node.health = health
		node.healthStop = cancel
		node.metricsSrv = health.StartMetricsServer(f.metricsAddr)
	}

	return node, nil
}

// runPruneLoop periodically archives ops whose epoch has fallen behind the
// thread's most recent epoch by more than the manager's KeepEpochs window.
func runPruneLoop(ctx context.Context, engine *core.Engine, pruner *core.PruningManager) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, threadID := range engine.Plans.Threads() {
				ops := engine.Plans.OpsForThread(threadID)
				var maxEpoch int64
				for _, op := range ops {
					if op.Epoch > maxEpoch {
						maxEpoch = op.Epoch
					}
				}
				moved, _, err := pruner.PruneBeforeEpoch(ops, maxEpoch)
				if err != nil {
					logrus.WithError(err).WithField("thread_id", threadID).Warn("bootstrap: prune sweep failed")
					continue
				}
				if moved > 0 {
					logrus.WithFields(logrus.Fields{"thread_id": threadID, "moved": moved}).Info("pruned ops to cold storage")
				}
			}
		}
	}
}

func (n *runningNode) stop() {
	if n == nil {
		return
	}
	if n.pruneStop != nil {
		n.pruneStop()
	}
	if n.metricsSrv != nil {
		_ = n.metricsSrv.Close()
	}
	if n.healthStop != nil {
		n.healthStop()
	}
	if n.health != nil {
		if err := n.health.Close(); err != nil {
			logrus.WithError(err).Warn("bootstrap: health log close error")
		}
	}
	n.monitor.Stop()
	n.dispatch.Stop()
	if err := n.gossip.Close(); err != nil {
		logrus.WithError(err).Warn("bootstrap: gossip shutdown error")
	}
}

func newDecideCoordinator(f *nodeFlags) (core.DecideCoordinator, error) {
	switch f.decideBackend {
	case "cas":
		path := filepath.Join(f.stateDir, "decide.bolt")
		store, err := core.OpenBoltStateStore(path, "decide")
		if err != nil {
			return nil, err
		}
		return core.NewBoltDecideAdapter(store), nil
	case "raft":
		// No Raft implementation is wired into this build; the selection
		// itself fails startup (buildNode reports it with exit code 2)
		// rather than silently falling back to the CAS backend.
		return nil, fmt.Errorf("raft decide backend not available in this build")
	default:
		return nil, fmt.Errorf("unknown decide-backend %q", f.decideBackend)
	}
}

// RunCmd starts a node and blocks until SIGINT/SIGTERM, then shuts down
// cleanly.
func RunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a swarm coordination node",
	}
	f := bindNodeFlags(cmd)
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		if err := loadEnvAndLogging(); err != nil {
			return err
		}
		node, err := buildNode(f)
		if err != nil {
			return err
		}
		nodeMu.Lock()
		current = node
		nodeMu.Unlock()

		logrus.WithField("self", node.engine.SelfID.Hex()).Info("swarm node started")

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		nodeMu.Lock()
		current = nil
		nodeMu.Unlock()
		node.stop()
		logrus.Info("swarm node stopped")
		return nil
	}
	return cmd
}

// CheckpointCmd seals and signs a checkpoint of the current plan store
// state under --state-dir and exits.
func CheckpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Seal a checkpoint of the current state",
	}
	f := bindNodeFlags(cmd)
	var epoch int64
	cmd.Flags().Int64Var(&epoch, "epoch", 0, "epoch to seal")
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		if err := loadEnvAndLogging(); err != nil {
			return err
		}
		nodeMu.RLock()
		node := current
		nodeMu.RUnlock()
		if node == nil {
			return configFailure(fmt.Errorf("checkpoint: no running node in this process; run alongside `swarmnode run`"))
		}

		cm := core.NewCheckpointManager(filepath.Join(f.stateDir, "checkpoints"))
		var hashes [][]byte
		summary := map[string]any{}
		for _, threadID := range node.engine.Plans.Threads() {
			for _, op := range node.engine.Plans.OpsForThread(threadID) {
				hashes = append(hashes, []byte(op.OpID))
			}
		}
		cp, err := cm.Seal(epoch, hashes, summary, true)
		if err != nil {
			return configFailure(fmt.Errorf("checkpoint: seal: %w", err))
		}
		sig, err := core.SignCheckpoint(cp, node.engine.SelfID, node.engine.SelfSK)
		if err != nil {
			return configFailure(fmt.Errorf("checkpoint: sign: %w", err))
		}
		sc := core.SignedCheckpoint{Checkpoint: cp, Signatures: []core.CheckpointSignature{sig}}
		if err := cm.Store(sc); err != nil {
			return configFailure(fmt.Errorf("checkpoint: store: %w", err))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sealed checkpoint epoch=%d ops=%d\n", epoch, len(hashes))
		return nil
	}
	return cmd
}

// FastSyncCmd reports the epoch of the latest checkpoint sealed under
// --state-dir. It does not load or verify that checkpoint and replays no
// ops.
func FastSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fast-sync",
		Short: "Report the latest sealed checkpoint epoch",
	}
	f := bindNodeFlags(cmd)
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		if err := loadEnvAndLogging(); err != nil {
			return err
		}
		cm := core.NewCheckpointManager(filepath.Join(f.stateDir, "checkpoints"))
		epoch, ok, err := cm.LatestEpoch()
		if err != nil {
			return serviceFailure(fmt.Errorf("fast-sync: read checkpoint index: %w", err))
		}
		if !ok {
			return configFailure(fmt.Errorf("fast-sync: no checkpoints under %s", f.stateDir))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "latest checkpoint epoch=%d\n", epoch)
		return nil
	}
	return cmd
}
