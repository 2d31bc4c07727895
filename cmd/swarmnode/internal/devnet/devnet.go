// Package devnet runs a multi-node swarm in a single process, either with
// a fixed node count or from a YAML manifest naming each node's identity
// seed and verifier stake — useful for exercising quorum/committee
// behavior locally without standing up real gossip transports.
package devnet

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"swarmcore/core"
)

// nodeManifest is one entry of a devnet YAML manifest.
type nodeManifest struct {
	Name               string  `yaml:"name"`
	Seed               string  `yaml:"seed"`
	Stake              float64 `yaml:"stake"`
	BootstrapThreshold int     `yaml:"bootstrap_threshold"`
	KTarget            int     `yaml:"k_target"`
}

type manifestFile struct {
	Nodes []nodeManifest `yaml:"nodes"`
}

func waitForSignal() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}

func startFixed(cmd *cobra.Command, n int) error {
	swarm := core.NewLocalSwarm()
	decide := core.NewMemoryDecideAdapter()
	store := core.NewBlobStore()

	for i := 0; i < n; i++ {
		pk, sk, err := ed25519.GenerateKey(nil)
		if err != nil {
			return err
		}
		if err := addSwarmNode(swarm, decide, store, pk, sk, 0, 0); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "devnet started with %d nodes\n", n)
	waitForSignal()
	swarm.Stop()
	return nil
}

func startFromManifest(cmd *cobra.Command, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var mf manifestFile
	if err := yaml.Unmarshal(raw, &mf); err != nil {
		return err
	}

	swarm := core.NewLocalSwarm()
	decide := core.NewMemoryDecideAdapter()
	store := core.NewBlobStore()

	for _, nm := range mf.Nodes {
		seed := make([]byte, ed25519.SeedSize)
		copy(seed, []byte(nm.Seed))
		sk := ed25519.NewKeyFromSeed(seed)
		pk := sk.Public().(ed25519.PublicKey)
		if err := addSwarmNode(swarm, decide, store, pk, sk, nm.BootstrapThreshold, nm.KTarget); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "testnet started with %d nodes from %s\n", len(mf.Nodes), path)
	waitForSignal()
	swarm.Stop()
	return nil
}

func addSwarmNode(swarm *core.LocalSwarm, decide core.DecideCoordinator, store core.CAS, pk ed25519.PublicKey, sk ed25519.PrivateKey, bootstrapThreshold, kTarget int) error {
	selfID, ok := core.AddressFromBytes(pk)
	if !ok {
		return fmt.Errorf("devnet: malformed public key")
	}
	nodeID := core.NodeID(selfID.Hex())
	pub := swarm.NewPublisherFor(nodeID)

	engine, err := core.NewEngine(core.EngineConfig{
		SelfID:             selfID,
		BootstrapThreshold: bootstrapThreshold,
		KTarget:            kTarget,
	}, decide, store, pub)
	if err != nil {
		return err
	}
	engine.SelfPK = pk
	engine.SelfSK = sk

	dispatch := core.NewDispatcher(engine)
	return swarm.AddNode(nodeID, engine, dispatch)
}

// Cmd returns the "devnet" command tree: "devnet start [n]" for a fixed
// node count, "devnet manifest <file.yaml>" for a YAML-described roster.
func Cmd() *cobra.Command {
	root := &cobra.Command{Use: "devnet", Short: "Run an in-process multi-node swarm"}

	start := &cobra.Command{
		Use:   "start [nodes]",
		Short: "Launch N devnet nodes with generated identities",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n := 3
			if len(args) == 1 {
				v, err := strconv.Atoi(args[0])
				if err != nil || v <= 0 {
					return fmt.Errorf("invalid node count: %s", args[0])
				}
				n = v
			}
			return startFixed(cmd, n)
		},
	}

	manifest := &cobra.Command{
		Use:   "manifest <config.yaml>",
		Short: "Launch nodes from a YAML manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return startFromManifest(cmd, args[0])
		},
	}

	root.AddCommand(start, manifest)
	return root
}
