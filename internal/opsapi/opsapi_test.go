package opsapi

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/planetarium/ncg-bridge/internal/domain"
)

func TestHubPublishDeliversToSubscriber(t *testing.T) {
	hub := NewHub()
	ch := hub.subscribe()
	defer hub.unsubscribe(ch)

	hub.Publish(domain.NetworkNineChronicles, "tx1", domain.StatusEmitted)

	select {
	case got := <-ch:
		require.Equal(t, Transition{SourceNetwork: domain.NetworkNineChronicles, SourceTxID: "tx1", Status: domain.StatusEmitted}, got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for transition")
	}
}

func TestHubPublishWithNoSubscribersDoesNotBlock(t *testing.T) {
	hub := NewHub()
	hub.Publish(domain.NetworkEthereum, "tx2", domain.StatusRejected)
}

type fakeCursors struct {
	locations map[string]domain.TransactionLocation
}

func (f fakeCursors) Load(name string) (domain.TransactionLocation, bool, error) {
	loc, ok := f.locations[name]
	return loc, ok, nil
}

type fakeHistory struct {
	records []domain.HistoryRecord
}

func (f fakeHistory) Recent(limit int) ([]domain.HistoryRecord, error) {
	if len(f.records) > limit {
		return f.records[:limit], nil
	}
	return f.records, nil
}

func TestStatusServiceReportsCursorsAndRecentHistory(t *testing.T) {
	cursors := fakeCursors{locations: map[string]domain.TransactionLocation{
		"chain-n-deposit": {BlockHash: "h10", TxID: "tx10"},
	}}
	history := fakeHistory{records: []domain.HistoryRecord{
		{SourceNetwork: domain.NetworkNineChronicles, SourceTxID: "tx10", Status: domain.StatusEmitted},
	}}

	svc := &StatusService{cursors: cursors, history: history, monitorNames: []string{"chain-n-deposit", "chain-e-burn"}}

	var reply StatusReply
	require.NoError(t, svc.Status(&http.Request{}, &StatusArgs{}, &reply))

	require.Len(t, reply.Monitors, 2)
	require.Equal(t, MonitorCursor{Name: "chain-n-deposit", BlockHash: "h10", TxID: "tx10", Resumed: true}, reply.Monitors[0])
	require.Equal(t, MonitorCursor{Name: "chain-e-burn", Resumed: false}, reply.Monitors[1])
	require.Len(t, reply.Recent, 1)
}

func TestRunWithEmptyAddrBlocksUntilContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, "", http.NewServeMux()) }()

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context was done")
	}
}
