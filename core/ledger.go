package core

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Ledger errors (§6, grounded on economics/ledger.py's exception set).
var (
	ErrInsufficientBalance    = errors.New("ledger: insufficient balance")
	ErrEscrowNotFound         = errors.New("ledger: escrow not found")
	ErrEscrowAlreadyReleased  = errors.New("ledger: escrow already released or cancelled")
	ErrNonPositiveAmount      = errors.New("ledger: amount must be positive")
)

// LedgerOpType classifies an audit-trail entry.
type LedgerOpType string

const (
	LedgerOpTransfer LedgerOpType = "TRANSFER"
	LedgerOpEscrow   LedgerOpType = "ESCROW"
	LedgerOpRelease  LedgerOpType = "RELEASE"
)

// LedgerOp is one append-only audit-trail entry.
type LedgerOp struct {
	OpID        string
	Account     string
	Operation   LedgerOpType
	Amount      int64
	TimestampNs int64
	Metadata    map[string]any
}

type escrowRecord struct {
	account  string
	amount   int64
	released bool
}

// Ledger is the credit ledger consumed by stake operations, DID creation,
// and escrow: balances, transfers, and escrow holds with a full audit
// trail.
type Ledger struct {
	mu       sync.Mutex
	balances map[string]int64
	locked   map[string]int64
	escrows  map[string]*escrowRecord
	audit    []LedgerOp
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[string]int64),
		locked:   make(map[string]int64),
		escrows:  make(map[string]*escrowRecord),
	}
}

// Credit adds amount to account's available balance without going through
// the audited transfer path, used for initial funding/minting.
func (l *Ledger) Credit(account string, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] += amount
}

// GetBalance returns account's available (non-locked) balance; unknown
// accounts have balance zero.
func (l *Ledger) GetBalance(account string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account]
}

// Transfer moves amount of credits from one account to another, recording
// a debit and a credit entry in the audit trail.
func (l *Ledger) Transfer(from, to string, amount int64) (string, error) {
	if amount <= 0 {
		return "", ErrNonPositiveAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[from] < amount {
		return "", ErrInsufficientBalance
	}
	l.balances[from] -= amount
	l.balances[to] += amount

	transferID := uuid.NewString()
	ts := nowNs()
	l.audit = append(l.audit,
		LedgerOp{OpID: uuid.NewString(), Account: from, Operation: LedgerOpTransfer, Amount: -amount, TimestampNs: ts, Metadata: map[string]any{"to_account": to, "transfer_id": transferID}},
		LedgerOp{OpID: uuid.NewString(), Account: to, Operation: LedgerOpTransfer, Amount: amount, TimestampNs: ts, Metadata: map[string]any{"from_account": from, "transfer_id": transferID}},
	)
	return transferID, nil
}

// Escrow locks amount of account's available balance under escrowID.
func (l *Ledger) Escrow(account string, amount int64, escrowID string) error {
	if amount <= 0 {
		return ErrNonPositiveAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[account] < amount {
		return ErrInsufficientBalance
	}
	l.balances[account] -= amount
	l.locked[account] += amount
	l.escrows[escrowID] = &escrowRecord{account: account, amount: amount}
	l.audit = append(l.audit, LedgerOp{
		OpID: uuid.NewString(), Account: account, Operation: LedgerOpEscrow, Amount: amount,
		TimestampNs: nowNs(), Metadata: map[string]any{"escrow_id": escrowID},
	})
	return nil
}

// ReleaseEscrow pays out an escrow's locked amount to to.
func (l *Ledger) ReleaseEscrow(escrowID, to string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.escrows[escrowID]
	if !ok {
		return ErrEscrowNotFound
	}
	if rec.released {
		return ErrEscrowAlreadyReleased
	}
	l.locked[rec.account] -= rec.amount
	l.balances[to] += rec.amount
	rec.released = true
	l.audit = append(l.audit, LedgerOp{
		OpID: uuid.NewString(), Account: to, Operation: LedgerOpRelease, Amount: rec.amount,
		TimestampNs: nowNs(), Metadata: map[string]any{"escrow_id": escrowID, "from_account": rec.account},
	})
	return nil
}

// CancelEscrow returns an escrow's locked amount to its original account.
func (l *Ledger) CancelEscrow(escrowID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.escrows[escrowID]
	if !ok {
		return ErrEscrowNotFound
	}
	if rec.released {
		return ErrEscrowAlreadyReleased
	}
	l.locked[rec.account] -= rec.amount
	l.balances[rec.account] += rec.amount
	rec.released = true
	l.audit = append(l.audit, LedgerOp{
		OpID: uuid.NewString(), Account: rec.account, Operation: LedgerOpEscrow, Amount: -rec.amount,
		TimestampNs: nowNs(), Metadata: map[string]any{"escrow_id": escrowID, "action": "cancel"},
	})
	return nil
}

// AuditTrail returns up to limit of account's audit entries, newest first.
// An empty account returns entries across all accounts.
func (l *Ledger) AuditTrail(account string, limit int) []LedgerOp {
	l.mu.Lock()
	defer l.mu.Unlock()
	var matched []LedgerOp
	for _, op := range l.audit {
		if account == "" || op.Account == account {
			matched = append(matched, op)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].TimestampNs > matched[j].TimestampNs })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}
