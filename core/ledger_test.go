package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLedgerTransfer(t *testing.T) {
	l := NewLedger()
	l.Credit("alice", 100)
	_, err := l.Transfer("alice", "bob", 40)
	require.NoError(t, err)
	require.Equal(t, int64(60), l.GetBalance("alice"))
	require.Equal(t, int64(40), l.GetBalance("bob"))
}

func TestLedgerTransferInsufficientBalance(t *testing.T) {
	l := NewLedger()
	l.Credit("alice", 10)
	_, err := l.Transfer("alice", "bob", 40)
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestLedgerEscrowReleaseAndCancel(t *testing.T) {
	l := NewLedger()
	l.Credit("alice", 100)
	require.NoError(t, l.Escrow("alice", 30, "esc-1"))
	require.Equal(t, int64(70), l.GetBalance("alice"))

	require.NoError(t, l.ReleaseEscrow("esc-1", "bob"))
	require.Equal(t, int64(30), l.GetBalance("bob"))
	require.ErrorIs(t, l.ReleaseEscrow("esc-1", "bob"), ErrEscrowAlreadyReleased)

	require.NoError(t, l.Escrow("alice", 20, "esc-2"))
	require.NoError(t, l.CancelEscrow("esc-2"))
	require.Equal(t, int64(70), l.GetBalance("alice"))
	require.ErrorIs(t, l.CancelEscrow("esc-2"), ErrEscrowAlreadyReleased)
}

func TestLedgerAuditTrail(t *testing.T) {
	l := NewLedger()
	l.Credit("alice", 100)
	_, err := l.Transfer("alice", "bob", 10)
	require.NoError(t, err)
	_, err = l.Transfer("alice", "bob", 5)
	require.NoError(t, err)

	trail := l.AuditTrail("alice", 1)
	require.Len(t, trail, 1)
	require.Equal(t, int64(-5), trail[0].Amount)
}
