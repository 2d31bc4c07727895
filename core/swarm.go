package core

import (
	"fmt"
	"sync"
)

// SwarmNode bundles one participant's Engine and Dispatcher under a stable
// identity, the unit LocalSwarm fans envelopes out to.
type SwarmNode struct {
	ID       NodeID
	Engine   *Engine
	Dispatch *Dispatcher
}

// LocalSwarm is an in-process stand-in for the gossip substrate (§6):
// Publish on any member node delivers the envelope to every member's
// dispatcher, the publisher's own included, at-least-once and unordered, exactly like the real substrate's
// contract — but deterministic, so it drives the end-to-end scenarios of
// §8 without a live libp2p mesh. Production deployments wire each Engine's
// Publisher to a GossipNode instead.
type LocalSwarm struct {
	mu    sync.RWMutex
	nodes map[NodeID]*SwarmNode
}

// NewLocalSwarm returns an empty swarm.
func NewLocalSwarm() *LocalSwarm {
	return &LocalSwarm{nodes: make(map[NodeID]*SwarmNode)}
}

// swarmPublisher implements Publisher by fanning an envelope out to every
// node currently registered in the swarm, including the publisher itself —
// matching real pubsub implementations, which deliver a node's own
// publish to its own local subscription handlers alongside the network.
type swarmPublisher struct {
	swarm *LocalSwarm
	self  NodeID
}

func (p *swarmPublisher) Publish(env Envelope) error {
	p.swarm.mu.RLock()
	targets := make([]*SwarmNode, 0, len(p.swarm.nodes))
	for _, n := range p.swarm.nodes {
		targets = append(targets, n)
	}
	p.swarm.mu.RUnlock()

	for _, n := range targets {
		if err := n.Dispatch.Dispatch(env); err != nil {
			return fmt.Errorf("swarm: deliver to %s: %w", n.ID, err)
		}
	}
	return nil
}

// NewPublisherFor returns the Publisher an Engine constructed for id should
// use so its emitted envelopes reach every swarm member, itself included. Call this
// before NewEngine, then AddNode once the engine and dispatcher exist.
func (s *LocalSwarm) NewPublisherFor(id NodeID) Publisher {
	return &swarmPublisher{swarm: s, self: id}
}

// AddNode registers a fully constructed node. The id must be unique.
func (s *LocalSwarm) AddNode(id NodeID, engine *Engine, dispatch *Dispatcher) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[id]; ok {
		return fmt.Errorf("swarm: node %s already exists", id)
	}
	s.nodes[id] = &SwarmNode{ID: id, Engine: engine, Dispatch: dispatch}
	return nil
}

// RemoveNode stops the node's dispatcher and drops it from the swarm.
func (s *LocalSwarm) RemoveNode(id NodeID) {
	s.mu.Lock()
	n, ok := s.nodes[id]
	delete(s.nodes, id)
	s.mu.Unlock()
	if ok {
		n.Dispatch.Stop()
	}
}

// Node returns the registered node for id, if any.
func (s *LocalSwarm) Node(id NodeID) (*SwarmNode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	return n, ok
}

// Broadcast delivers env to every member node including the sender,
// bypassing per-node Publish fan-out — used to seed a swarm from an
// external origin (e.g. replaying fast-sync ops).
func (s *LocalSwarm) Broadcast(env Envelope) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.nodes {
		if err := n.Dispatch.Dispatch(env); err != nil {
			return fmt.Errorf("swarm: broadcast to %s: %w", n.ID, err)
		}
	}
	return nil
}

// NodeIDs returns the IDs of every currently registered node.
func (s *LocalSwarm) NodeIDs() []NodeID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]NodeID, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	return ids
}

// Stop stops every member's dispatcher.
func (s *LocalSwarm) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		n.Dispatch.Stop()
	}
}
