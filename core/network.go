package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"
)

// GossipNode is the concrete implementation of the gossip substrate
// described in §6: publish/subscribe with at-least-once, unordered
// delivery, no duplicate suppression. It is the only component that
// touches libp2p; the rest of the core only ever sees the Publisher
// interface and decoded Envelopes.
type GossipNode struct {
	host   libp2pHost
	pubsub *pubsub.PubSub
	nat    *NATManager
	cfg    NodeConfig

	ctx    context.Context
	cancel context.CancelFunc

	topicLock sync.Mutex
	topics    map[string]*pubsub.Topic

	subLock sync.Mutex
	subs    map[string]*pubsub.Subscription

	peerLock sync.RWMutex
	peers    map[NodeID]*Peer
}

// libp2pHost narrows the libp2p host.Host surface GossipNode relies on so
// tests can substitute a stub.
type libp2pHost interface {
	ID() peer.ID
	Connect(ctx context.Context, pi peer.AddrInfo) error
	Close() error
}

// NewGossipNode creates and bootstraps a libp2p host with gossipsub pubsub,
// NAT traversal best-effort, bootstrap-peer dialing, and mDNS discovery
// under cfg.DiscoveryTag.
func NewGossipNode(cfg NodeConfig) (*GossipNode, error) {
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.ListenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("gossip: create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("gossip: create pubsub: %w", err)
	}

	n := &GossipNode{
		host:   h,
		pubsub: ps,
		topics: make(map[string]*pubsub.Topic),
		subs:   make(map[string]*pubsub.Subscription),
		peers:  make(map[NodeID]*Peer),
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
	}

	if natMgr, err := NewNATManager(); err == nil {
		if port, err := parsePort(cfg.ListenAddr); err == nil {
			if err := natMgr.Map(port); err != nil {
				logrus.Warnf("gossip: NAT map failed: %v", err)
			}
		}
		n.nat = natMgr
	} else {
		logrus.Debugf("gossip: NAT discovery unavailable: %v", err)
	}

	if err := n.DialSeed(cfg.BootstrapPeers); err != nil {
		logrus.Warnf("gossip: bootstrap dial warning: %v", err)
	}

	if err := mdns.NewMdnsService(h, cfg.DiscoveryTag, n).Start(); err != nil {
		logrus.Warnf("gossip: mDNS discovery start failed: %v", err)
	}

	return n, nil
}

var _ mdns.Notifee = (*GossipNode)(nil)

// HandlePeerFound implements mdns.Notifee: connect to a discovered peer,
// ignoring self-discovery and peers already known.
func (n *GossipNode) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.host.ID() {
		return
	}
	n.peerLock.RLock()
	_, exists := n.peers[NodeID(info.ID.String())]
	n.peerLock.RUnlock()
	if exists {
		return
	}
	if err := n.host.Connect(n.ctx, info); err != nil {
		logrus.Warnf("gossip: connect to discovered peer %s: %v", info.ID, err)
		return
	}
	n.peerLock.Lock()
	n.peers[NodeID(info.ID.String())] = &Peer{ID: NodeID(info.ID.String()), Addr: info.String()}
	n.peerLock.Unlock()
	logrus.Infof("gossip: connected to peer %s via mDNS", info.ID)
}

// DialSeed connects to each bootstrap multiaddress, returning a joined
// error for every seed that failed while still dialing the rest.
func (n *GossipNode) DialSeed(seeds []string) error {
	var errs []string
	for _, addr := range seeds {
		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid addr %s: %v", addr, err))
			continue
		}
		if err := n.host.Connect(n.ctx, *pi); err != nil {
			errs = append(errs, fmt.Sprintf("connect %s: %v", addr, err))
			continue
		}
		n.peerLock.Lock()
		n.peers[NodeID(pi.ID.String())] = &Peer{ID: NodeID(pi.ID.String()), Addr: addr}
		n.peerLock.Unlock()
		logrus.Infof("gossip: bootstrapped to %s", addr)
	}
	if len(errs) > 0 {
		return fmt.Errorf("dial errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// joinTopic returns the cached *pubsub.Topic for topic, joining it on first
// use.
func (n *GossipNode) joinTopic(topic string) (*pubsub.Topic, error) {
	n.topicLock.Lock()
	defer n.topicLock.Unlock()
	if t, ok := n.topics[topic]; ok {
		return t, nil
	}
	t, err := n.pubsub.Join(topic)
	if err != nil {
		return nil, fmt.Errorf("join topic %s: %w", topic, err)
	}
	n.topics[topic] = t
	return t, nil
}

// PublishRaw broadcasts data on topic, joining the topic lazily.
func (n *GossipNode) PublishRaw(topic string, data []byte) error {
	t, err := n.joinTopic(topic)
	if err != nil {
		return err
	}
	if err := t.Publish(n.ctx, data); err != nil {
		return fmt.Errorf("publish topic %s: %w", topic, err)
	}
	return nil
}

// Publish implements Publisher: it marshals env with encoding/json and
// broadcasts it under the "/swarm/thread/<thread_id>/<verb>" topic
// convention (§6).
func (n *GossipNode) Publish(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("gossip: marshal envelope: %w", err)
	}
	return n.PublishRaw(env.Kind.Topic(env.ThreadID), data)
}

// SubscribeEnvelopes joins topic and decodes every delivered message as an
// Envelope, forwarding well-formed ones to handle. Malformed payloads are
// dropped and logged at warn, matching the validation-error policy of §7.
func (n *GossipNode) SubscribeEnvelopes(topic string, handle func(Envelope)) error {
	n.subLock.Lock()
	sub, ok := n.subs[topic]
	if !ok {
		if _, err := n.joinTopic(topic); err != nil {
			n.subLock.Unlock()
			return err
		}
		var err error
		sub, err = n.pubsub.Subscribe(topic)
		if err != nil {
			n.subLock.Unlock()
			return fmt.Errorf("subscribe topic %s: %w", topic, err)
		}
		n.subs[topic] = sub
	}
	n.subLock.Unlock()

	go func() {
		for {
			msg, err := sub.Next(n.ctx)
			if err != nil {
				logrus.Debugf("gossip: subscription %s ended: %v", topic, err)
				return
			}
			var env Envelope
			if err := json.Unmarshal(msg.Data, &env); err != nil {
				logrus.WithField("topic", topic).WithError(err).Warn("gossip: dropping malformed envelope")
				continue
			}
			handle(env)
		}
	}()
	return nil
}

// ListenAndServe blocks until the node's context is cancelled, i.e. until
// Close is called.
func (n *GossipNode) ListenAndServe() {
	<-n.ctx.Done()
	logrus.Info("gossip: node shutting down")
}

// Close tears down NAT mappings, cancels the node's context, and closes
// the underlying libp2p host.
func (n *GossipNode) Close() error {
	n.cancel()
	if n.nat != nil {
		_ = n.nat.Unmap()
	}
	return n.host.Close()
}

// Peers returns a snapshot of currently known remote peers.
func (n *GossipNode) Peers() []*Peer {
	n.peerLock.RLock()
	defer n.peerLock.RUnlock()
	list := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		list = append(list, p)
	}
	return list
}
