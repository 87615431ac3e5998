package nine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, []string{srv.URL, srv.URL}, [20]byte{1}, [20]byte{2}, "pub")
	c.maxAttempts = 1
	return c
}

func TestTipIndex(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"nodeStatus":{"tip":{"index":42}}}}`))
	})
	idx, err := c.TipIndex(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(42), idx)
}

func TestBlockIndexNotFoundOnReorg(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"chainQuery":{"blockQuery":{"block":null}}}}`))
	})
	_, ok, err := c.BlockIndex(context.Background(), "deadbeef")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTransferEventsParsesAmount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"chainQuery":{"blockQuery":{"block":{
			"hash":"abc",
			"transfersTo":[{"txId":"t1","sender":"0xsender","amount":"12.34","memo":""}]
		}}}}}`))
	})
	events, err := c.TransferEvents(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "abc", events[0].BlockHash)
	require.Equal(t, int64(1234), events[0].Amount.Hundredths())
}

func TestStageAllCountsAcceptance(t *testing.T) {
	accepting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"stageTransaction":true}}`))
	}))
	t.Cleanup(accepting.Close)
	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"stageTransaction":false}}`))
	}))
	t.Cleanup(rejecting.Close)

	c := NewClient(accepting.URL, []string{rejecting.URL}, [20]byte{1}, [20]byte{2}, "pub")
	c.maxAttempts = 1

	accepted, warnings, err := c.StageAll(context.Background(), "deadbeef")
	require.NoError(t, err)
	require.Equal(t, 1, accepted)
	require.Len(t, warnings, 1)
}

// TestStageAllBroadcastsToPrimaryAndStageEndpointsConcurrently asserts
// the primary endpoint is included even when explicit stage endpoints
// are configured, and that every target is actually reached.
func TestStageAllBroadcastsToPrimaryAndStageEndpointsConcurrently(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		var body struct {
			Variables map[string]any `json:"variables"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte(`{"data":{"stageTransaction":true}}`))
	}))
	t.Cleanup(srv.Close)

	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(`{"data":{"stageTransaction":true}}`))
	}))
	t.Cleanup(other.Close)

	c := NewClient(srv.URL, []string{other.URL}, [20]byte{1}, [20]byte{2}, "pub")
	c.maxAttempts = 1

	accepted, warnings, err := c.StageAll(context.Background(), "deadbeef")
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, 2, accepted)
	require.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestGraphQLErrorSurfaces(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors":[{"message":"invalid action"}]}`))
	})
	_, err := c.CreateUnsignedTransaction(context.Background(), "a", "b")
	require.Error(t, err)
}
