package monitor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/planetarium/ncg-bridge/internal/domain"
)

// TestMain verifies the confirmed-block loop leaves no goroutine
// running past the end of each test; Run's sleep/poll paths are the
// likeliest place a missed ctx.Done() check would leak one.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeEvent struct {
	blockHash string
	txID      string
}

func (e fakeEvent) Location() domain.TransactionLocation {
	return domain.TransactionLocation{BlockHash: e.blockHash, TxID: e.txID}
}

// fakeSource is an in-memory chain with one event per block, indexed
// from 1. hashes[i] = fmt.Sprintf("h%d", i).
type fakeSource struct {
	mu  sync.Mutex
	tip int64
}

func (s *fakeSource) setTip(i int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tip = i
}

func (s *fakeSource) TipIndex(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tip, nil
}

func (s *fakeSource) BlockHash(ctx context.Context, index int64) (string, error) {
	return fmt.Sprintf("h%d", index), nil
}

func (s *fakeSource) BlockIndex(ctx context.Context, hash string) (int64, bool, error) {
	var index int64
	if _, err := fmt.Sscanf(hash, "h%d", &index); err != nil {
		return 0, false, nil
	}
	return index, true, nil
}

func (s *fakeSource) EventsIn(ctx context.Context, index int64) ([]fakeEvent, error) {
	return []fakeEvent{{blockHash: fmt.Sprintf("h%d", index), txID: fmt.Sprintf("tx%d", index)}}, nil
}

type recordingSink struct {
	mu     sync.Mutex
	errors []error
}

func (s *recordingSink) Error(component string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, err)
}

func TestMonitorYieldsFromTipWhenNotResuming(t *testing.T) {
	source := &fakeSource{tip: 10}
	m := New[fakeEvent]("test", source, 5*time.Millisecond, &recordingSink{})

	out := make(chan domain.EventEnvelope[fakeEvent], 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go m.Run(ctx, domain.TransactionLocation{}, out)

	source.setTip(11)
	envelope := <-out
	require.Equal(t, "h11", envelope.BlockHash)
	require.Equal(t, "tx11", envelope.Events[0].Location().TxID)
}

func TestMonitorNeverSkipsBlocks(t *testing.T) {
	source := &fakeSource{tip: 5}
	m := New[fakeEvent]("test", source, 2*time.Millisecond, &recordingSink{})

	out := make(chan domain.EventEnvelope[fakeEvent], 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go m.Run(ctx, domain.TransactionLocation{}, out)

	for i := int64(6); i <= 9; i++ {
		source.setTip(i)
	}

	seen := map[string]bool{}
	for len(seen) < 4 {
		envelope := <-out
		seen[envelope.BlockHash] = true
	}
	for i := 6; i <= 9; i++ {
		require.True(t, seen[fmt.Sprintf("h%d", i)], "missing block h%d", i)
	}
}

func TestProcessRemainsDropsThroughStoredTxID(t *testing.T) {
	source := &fakeSource{tip: 5}
	next, remained, err := ProcessRemains[fakeEvent](context.Background(), "test", source, domain.TransactionLocation{BlockHash: "h3", TxID: "tx3"})
	require.NoError(t, err)
	require.Equal(t, int64(6), next)
	// h3's only event (tx3) is dropped since it equals the stored cursor;
	// h4 and h5 each contribute their event.
	require.Len(t, remained, 2)
	require.Equal(t, "h4", remained[0].BlockHash)
	require.Equal(t, "h5", remained[1].BlockHash)
}

func TestProcessRemainsReorgedCursor(t *testing.T) {
	_, _, err := ProcessRemains[fakeEvent](context.Background(), "test", reorgedSource{}, domain.TransactionLocation{BlockHash: "unknown", TxID: "tx0"})
	require.Error(t, err)
}

type reorgedSource struct{ fakeSource }

func (reorgedSource) BlockIndex(ctx context.Context, hash string) (int64, bool, error) {
	return 0, false, nil
}

func TestIsStalledAfterFiveMinutesOfNoProgress(t *testing.T) {
	require.False(t, isStalled(time.Now()))
	require.True(t, isStalled(time.Now().Add(-6*time.Minute)))
}

func TestWithConfirmationsOffsetsTip(t *testing.T) {
	source := &fakeSource{tip: 100}
	wrapped := WithConfirmations[fakeEvent](source, 10)

	tip, err := wrapped.TipIndex(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(90), tip)
}

func TestWithConfirmationsFloorsAtZero(t *testing.T) {
	source := &fakeSource{tip: 3}
	wrapped := WithConfirmations[fakeEvent](source, 10)

	tip, err := wrapped.TipIndex(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(0), tip)
}
