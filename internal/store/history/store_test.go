package history

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/planetarium/ncg-bridge/internal/amount"
	"github.com/planetarium/ncg-bridge/internal/domain"
)

func open(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestHasFalseForUnknownTx(t *testing.T) {
	s := open(t)
	has, err := s.Has(domain.NetworkNineChronicles, "tx1")
	require.NoError(t, err)
	require.False(t, has)
}

func TestInsertThenHasTrue(t *testing.T) {
	s := open(t)
	requested, _ := amount.ParseNCG("10.00")
	rec := domain.HistoryRecord{
		SourceNetwork: domain.NetworkNineChronicles,
		SourceTxID:    "tx1",
		Requested:     requested,
		Sent:          requested,
		Status:        domain.StatusEmitted,
	}
	require.NoError(t, s.Insert(rec))

	has, err := s.Has(domain.NetworkNineChronicles, "tx1")
	require.NoError(t, err)
	require.True(t, has)
}

func TestHasIsPerNetwork(t *testing.T) {
	s := open(t)
	require.NoError(t, s.Insert(domain.HistoryRecord{SourceNetwork: domain.NetworkEthereum, SourceTxID: "tx1"}))

	has, err := s.Has(domain.NetworkNineChronicles, "tx1")
	require.NoError(t, err)
	require.False(t, has)
}

func TestUpdateAnnotatesRefund(t *testing.T) {
	s := open(t)
	require.NoError(t, s.Insert(domain.HistoryRecord{
		SourceNetwork: domain.NetworkNineChronicles,
		SourceTxID:    "tx1",
		Status:        domain.StatusEmitted,
	}))

	require.NoError(t, s.Update(domain.NetworkNineChronicles, "tx1", func(r *domain.HistoryRecord) {
		r.Status = domain.StatusRefunded
		r.CounterTxID = "refundTx"
	}))

	rec, found, err := s.Get(domain.NetworkNineChronicles, "tx1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, domain.StatusRefunded, rec.Status)
	require.Equal(t, "refundTx", rec.CounterTxID)
}

func TestReopenRebuildsFrontCache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Insert(domain.HistoryRecord{SourceNetwork: domain.NetworkNineChronicles, SourceTxID: "tx1"}))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	has, err := s2.Has(domain.NetworkNineChronicles, "tx1")
	require.NoError(t, err)
	require.True(t, has)
}
