package signer

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/planetarium/ncg-bridge/internal/amount"
)

// fakeGateway simulates the Chain-N GraphQL surface the transfer gate
// calls; it records the maximum number of concurrently in-flight
// createUnsignedTransaction calls so the test can assert the signer
// serialization property from spec.md §8.
type fakeGateway struct {
	mu          sync.Mutex
	current     int64
	maxObserved int64
}

func (g *fakeGateway) CreateUnsignedTransaction(ctx context.Context, actionBase64, pubKeyBase64 string) (string, error) {
	cur := atomic.AddInt64(&g.current, 1)
	defer atomic.AddInt64(&g.current, -1)

	g.mu.Lock()
	if cur > g.maxObserved {
		g.maxObserved = cur
	}
	g.mu.Unlock()

	time.Sleep(2 * time.Millisecond) // simulate RPC latency to make races observable
	return hex.EncodeToString([]byte("unsigned")), nil
}

func (g *fakeGateway) StageAll(ctx context.Context, signedBase64 string) (int, []string, error) {
	return 1, nil, nil
}

func (g *fakeGateway) SenderPublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString([]byte("pub"))
}
func (g *fakeGateway) MinterAddress() [20]byte { return [20]byte{9} }

func newTestSignerServer(t *testing.T) *RemoteSigner {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"signedTxHex":"` + hex.EncodeToString([]byte("signed")) + `"}`))
	}))
	t.Cleanup(srv.Close)
	return NewRemoteSigner(srv.URL, "test-key")
}

func TestTransferGateSerializesConcurrentCalls(t *testing.T) {
	gw := &fakeGateway{}
	gate := NewTransferGate(gw, newTestSignerServer(t), [20]byte{7})

	amt, _ := amount.ParseNCG("1.00")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := gate.Transfer(context.Background(), TransferRequest{Amount: amt})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, int64(1), gw.maxObserved, "at most one createUnsignedTransaction call may be in flight at a time")
}

func TestTransferReturnsSha256TxID(t *testing.T) {
	gw := &fakeGateway{}
	gate := NewTransferGate(gw, newTestSignerServer(t), [20]byte{7})

	amt, _ := amount.ParseNCG("5.00")
	result, err := gate.Transfer(context.Background(), TransferRequest{Amount: amt})
	require.NoError(t, err)
	require.Len(t, result.TxID, 64) // hex-encoded sha256
	require.Equal(t, 1, result.AcceptedBy)
}

func TestTransferStagePartialFailureStillSucceeds(t *testing.T) {
	gw := &partialFailureGateway{}
	gate := NewTransferGate(gw, newTestSignerServer(t), [20]byte{7})

	amt, _ := amount.ParseNCG("3.00")
	result, err := gate.Transfer(context.Background(), TransferRequest{Amount: amt})
	require.NoError(t, err)
	require.Equal(t, 1, result.AcceptedBy)
	require.Len(t, result.Warnings, 2)
}

type partialFailureGateway struct{ fakeGateway }

func (g *partialFailureGateway) StageAll(ctx context.Context, signedBase64 string) (int, []string, error) {
	return 1, []string{"endpoint-b rejected", "endpoint-c rejected"}, nil
}

func TestTransferAllEndpointsRejectIsStageFailed(t *testing.T) {
	gw := &allRejectGateway{}
	gate := NewTransferGate(gw, newTestSignerServer(t), [20]byte{7})

	amt, _ := amount.ParseNCG("3.00")
	_, err := gate.Transfer(context.Background(), TransferRequest{Amount: amt})
	require.Error(t, err)
}

type allRejectGateway struct{ fakeGateway }

func (g *allRejectGateway) StageAll(ctx context.Context, signedBase64 string) (int, []string, error) {
	return 0, []string{"a rejected", "b rejected"}, nil
}
