package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Lease is a time-bounded right for a worker to execute a claimed task.
type Lease struct {
	LeaseID              string
	TaskID               string
	WorkerID             Address
	TTL                  time.Duration
	HeartbeatInterval    time.Duration
	CreatedAtNs          int64
	LastHeartbeatNs      int64
}

// MinLeaseTTL is the minimum lease duration named in §3's invariants.
const MinLeaseTTL = 60 * time.Second

// LeaseManager keeps lease_id -> Lease, enforcing at most one active lease
// per task (invariant 3).
type LeaseManager struct {
	mu          sync.Mutex
	leases      map[string]*Lease
	byTask      map[string]string // task_id -> lease_id
}

// NewLeaseManager returns an empty manager.
func NewLeaseManager() *LeaseManager {
	return &LeaseManager{
		leases: make(map[string]*Lease),
		byTask: make(map[string]string),
	}
}

// Create registers a new lease for taskID, rejecting the call if one is
// already active, and validating ttl/heartbeat bounds per §4.3's CLAIM
// contract (ttl >= 60s, 0 < heartbeat_interval < ttl).
func (lm *LeaseManager) Create(taskID string, workerID Address, ttl, hbInterval time.Duration) (string, error) {
	if ttl < MinLeaseTTL {
		return "", fmt.Errorf("lease: ttl must be >= %s", MinLeaseTTL)
	}
	if hbInterval <= 0 || hbInterval >= ttl {
		return "", fmt.Errorf("lease: heartbeat interval must be in (0, ttl)")
	}
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if existing, ok := lm.byTask[taskID]; ok {
		return "", fmt.Errorf("lease: task %s already has active lease %s", taskID, existing)
	}
	id := uuid.NewString()
	now := nowNs()
	lm.leases[id] = &Lease{
		LeaseID:           id,
		TaskID:            taskID,
		WorkerID:          workerID,
		TTL:               ttl,
		HeartbeatInterval: hbInterval,
		CreatedAtNs:       now,
		LastHeartbeatNs:   now,
	}
	lm.byTask[taskID] = id
	return id, nil
}

// Heartbeat updates last_heartbeat_ns for leaseID. It reports false if the
// lease is absent.
func (lm *LeaseManager) Heartbeat(leaseID string) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	l, ok := lm.leases[leaseID]
	if !ok {
		return false
	}
	l.LastHeartbeatNs = nowNs()
	return true
}

// Get returns a copy of the lease, if present.
func (lm *LeaseManager) Get(leaseID string) (Lease, bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	l, ok := lm.leases[leaseID]
	if !ok {
		return Lease{}, false
	}
	return *l, true
}

// GetByTask returns the active lease for a task, if any.
func (lm *LeaseManager) GetByTask(taskID string) (Lease, bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	id, ok := lm.byTask[taskID]
	if !ok {
		return Lease{}, false
	}
	return *lm.leases[id], true
}

// Delete removes a lease and its task index entry.
func (lm *LeaseManager) Delete(leaseID string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if l, ok := lm.leases[leaseID]; ok {
		delete(lm.byTask, l.TaskID)
		delete(lm.leases, leaseID)
	}
}

// Count returns the number of currently active leases.
func (lm *LeaseManager) Count() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return len(lm.leases)
}

// CheckExpiry returns the IDs of leases whose ttl has elapsed since creation.
func (lm *LeaseManager) CheckExpiry(now time.Time) []string {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	var expired []string
	nowNsVal := now.UnixNano()
	for id, l := range lm.leases {
		if nowNsVal > l.CreatedAtNs+l.TTL.Nanoseconds() {
			expired = append(expired, id)
		}
	}
	return expired
}
