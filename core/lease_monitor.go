package core

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ReleaseReason names why the lease monitor reverted a task to DRAFT.
type ReleaseReason string

const (
	ReleaseTimeout       ReleaseReason = "timeout"
	ReleaseHeartbeatMiss ReleaseReason = "heartbeat_miss"
)

// ReleaseEmitter is called by the lease monitor for each lease it reclaims.
// It is supplied by the caller; the engine installs none, and no RELEASE
// envelope is signed or dispatched for a reclaimed lease unless the
// supplied callback does so.
type ReleaseEmitter func(taskID, leaseID string, reason ReleaseReason)

// CheckInterval is the default scan period named in §4.4.
const CheckInterval = 10 * time.Second

// leaseMonitorTick is the polling granularity used while waiting for the
// next CheckInterval, matching the donor's lease_monitor.py small-increment
// sleep loop so shutdown latency stays well under a second.
const leaseMonitorTick = 100 * time.Millisecond

// LeaseMonitor is the background worker that scans for expired leases and
// missed heartbeats, emitting RELEASE envelopes and clearing state for each.
type LeaseMonitor struct {
	leases      *LeaseManager
	heartbeats  *HeartbeatProtocol
	emit        ReleaseEmitter
	interval    time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewLeaseMonitor wires a monitor against the given lease manager and
// heartbeat protocol. emit is called once per reclaimed lease.
func NewLeaseMonitor(leases *LeaseManager, heartbeats *HeartbeatProtocol, emit ReleaseEmitter) *LeaseMonitor {
	return &LeaseMonitor{leases: leases, heartbeats: heartbeats, emit: emit, interval: CheckInterval}
}

// Start launches the monitor's background loop. Calling Start twice without
// an intervening Stop is a no-op.
func (lm *LeaseMonitor) Start() {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.running {
		return
	}
	lm.running = true
	lm.stop = make(chan struct{})
	lm.done = make(chan struct{})
	go lm.loop(lm.stop, lm.done)
}

// Stop signals the loop to exit and waits for in-flight work to finish.
// Shutdown is cooperative: the loop checks for the stop signal between
// ticks, never mid-scan.
func (lm *LeaseMonitor) Stop() {
	lm.mu.Lock()
	if !lm.running {
		lm.mu.Unlock()
		return
	}
	lm.running = false
	stop, done := lm.stop, lm.done
	lm.mu.Unlock()
	close(stop)
	<-done
}

func (lm *LeaseMonitor) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	elapsed := time.Duration(0)
	for {
		select {
		case <-stop:
			return
		case <-time.After(leaseMonitorTick):
			elapsed += leaseMonitorTick
			if elapsed < lm.interval {
				continue
			}
			elapsed = 0
			lm.scanOnce()
		}
	}
}

func (lm *LeaseMonitor) scanOnce() {
	now := time.Now()
	expired := lm.leases.CheckExpiry(now)
	missed := lm.heartbeats.CheckMissed(now)

	reclaim := make(map[string]ReleaseReason)
	for _, id := range expired {
		reclaim[id] = ReleaseTimeout
	}
	for _, id := range missed {
		if _, already := reclaim[id]; !already {
			reclaim[id] = ReleaseHeartbeatMiss
		}
	}

	for leaseID, reason := range reclaim {
		lease, ok := lm.leases.Get(leaseID)
		if !ok {
			continue
		}
		lm.heartbeats.Forget(leaseID)
		lm.leases.Delete(leaseID)
		logrus.WithFields(logrus.Fields{
			"lease_id": leaseID,
			"task_id":  lease.TaskID,
			"reason":   reason,
		}).Info("lease reclaimed")
		if lm.emit != nil {
			lm.emit(lease.TaskID, leaseID, reason)
		}
	}
}
