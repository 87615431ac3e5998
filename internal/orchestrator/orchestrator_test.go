package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/planetarium/ncg-bridge/internal/amount"
	"github.com/planetarium/ncg-bridge/internal/domain"
	"github.com/planetarium/ncg-bridge/internal/monitor"
	"github.com/planetarium/ncg-bridge/internal/store/cursor"
)

// TestMain verifies runPipeline's monitor/handle goroutine pair always
// exits when its context is canceled, including the crash/resume test
// that spins a second pipeline over the same cursor store.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeDepositSource is an in-memory Chain-N-shaped source with exactly
// one event per block, indexed from 1; block i's hash is "h<i>" and its
// event's txID is "tx<i>".
type fakeDepositSource struct {
	mu  sync.Mutex
	tip int64
}

func (s *fakeDepositSource) setTip(i int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tip = i
}

func (s *fakeDepositSource) TipIndex(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tip, nil
}

func (s *fakeDepositSource) BlockHash(_ context.Context, index int64) (string, error) {
	return fmt.Sprintf("h%d", index), nil
}

func (s *fakeDepositSource) BlockIndex(_ context.Context, hash string) (int64, bool, error) {
	var index int64
	if _, err := fmt.Sscanf(hash, "h%d", &index); err != nil {
		return 0, false, nil
	}
	return index, true, nil
}

func (s *fakeDepositSource) EventsIn(_ context.Context, index int64) ([]domain.NCGTransferredEvent, error) {
	return []domain.NCGTransferredEvent{{
		TxID:      fmt.Sprintf("tx%d", index),
		BlockHash: fmt.Sprintf("h%d", index),
		Sender:    "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Amount:    mustAmount("1.00"),
		Memo:      "ignored",
	}}, nil
}

func mustAmount(s string) amount.NCG {
	v, err := amount.ParseNCG(s)
	if err != nil {
		panic(err)
	}
	return v
}

type noopErrSink struct{}

func (noopErrSink) Error(string, error) {}

func collector() (func(context.Context, domain.EventEnvelope[domain.NCGTransferredEvent]) error, func() []string) {
	var mu sync.Mutex
	var handled []string
	handle := func(_ context.Context, envelope domain.EventEnvelope[domain.NCGTransferredEvent]) error {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range envelope.Events {
			handled = append(handled, e.TxID)
		}
		return nil
	}
	snapshot := func() []string {
		mu.Lock()
		defer mu.Unlock()
		out := make([]string, len(handled))
		copy(out, handled)
		return out
	}
	return handle, snapshot
}

// TestRunPipelineResumesFromPersistedCursorAfterCrash exercises spec.md
// §8's "resume after crash" scenario: a pipeline processes some blocks,
// is canceled mid-stream (simulating a crash), and a fresh pipeline
// against the same cursor store picks up exactly where it left off,
// neither skipping nor re-delivering any already-handled transaction.
func TestRunPipelineResumesFromPersistedCursorAfterCrash(t *testing.T) {
	cursorStore, err := cursor.Open(filepath.Join(t.TempDir(), "cursor.db"))
	require.NoError(t, err)
	defer cursorStore.Close()

	source := &fakeDepositSource{tip: 0}
	mon := monitor.New[domain.NCGTransferredEvent]("test-deposit", source, 2*time.Millisecond, noopErrSink{})
	handle, snapshot := collector()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runPipeline(ctx, "test-deposit", mon, cursorStore, handle) }()

	for i := int64(1); i <= 3; i++ {
		source.setTip(i)
		require.Eventually(t, func() bool {
			return len(snapshot()) >= int(i)
		}, time.Second, time.Millisecond)
	}

	cancel()
	<-done

	firstRun := snapshot()
	require.Len(t, firstRun, 3)

	loc, ok, err := cursorStore.Load("test-deposit")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "h3", loc.BlockHash)
	require.Equal(t, "tx3", loc.TxID)

	// A fresh source/monitor pair stands in for the process restarting
	// against the same canonical chain, now advanced further.
	source2 := &fakeDepositSource{tip: 5}
	mon2 := monitor.New[domain.NCGTransferredEvent]("test-deposit", source2, 2*time.Millisecond, noopErrSink{})
	handle2, snapshot2 := collector()

	ctx2, cancel2 := context.WithCancel(context.Background())
	done2 := make(chan error, 1)
	go func() { done2 <- runPipeline(ctx2, "test-deposit", mon2, cursorStore, handle2) }()

	require.Eventually(t, func() bool {
		return len(snapshot2()) >= 2
	}, time.Second, time.Millisecond)
	cancel2()
	<-done2

	resumed := snapshot2()
	require.Equal(t, []string{"tx4", "tx5"}, resumed, "resumed pipeline must continue from tx4, neither skipping nor replaying tx1-tx3")
}

func TestEnvelopeCursorFallsBackToBlockHashWhenEmpty(t *testing.T) {
	envelope := domain.EventEnvelope[domain.NCGTransferredEvent]{BlockHash: "h9"}
	loc := envelopeCursor(envelope)
	require.Equal(t, domain.TransactionLocation{BlockHash: "h9"}, loc)
}

func TestEnvelopeCursorUsesLastEventLocation(t *testing.T) {
	envelope := domain.EventEnvelope[domain.NCGTransferredEvent]{
		BlockHash: "h9",
		Events: []domain.NCGTransferredEvent{
			{TxID: "tx1", BlockHash: "h9"},
			{TxID: "tx2", BlockHash: "h9"},
		},
	}
	loc := envelopeCursor(envelope)
	require.Equal(t, domain.TransactionLocation{BlockHash: "h9", TxID: "tx2"}, loc)
}
