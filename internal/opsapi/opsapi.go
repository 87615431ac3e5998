// Package opsapi exposes a read-only operator surface over the running
// bridge: a JSON-RPC service reporting each monitor's cursor and recent
// history, and a websocket endpoint streaming history transitions as
// they're recorded. It never writes to either store and takes no part
// in the exactly-once emission path.
package opsapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/rpc"
	"github.com/gorilla/rpc/json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/planetarium/ncg-bridge/internal/domain"
	"github.com/planetarium/ncg-bridge/internal/metrics"
	"github.com/planetarium/ncg-bridge/internal/store/cursor"
	"github.com/planetarium/ncg-bridge/internal/store/history"
)

// CursorReader is the subset of cursor.Store the status service reads.
type CursorReader interface {
	Load(name string) (domain.TransactionLocation, bool, error)
}

// HistoryReader is the subset of history.Store the status service reads.
type HistoryReader interface {
	Recent(limit int) ([]domain.HistoryRecord, error)
}

var _ CursorReader = (*cursor.Store)(nil)
var _ HistoryReader = (*history.Store)(nil)

const recentHistoryLimit = 5

// Transition is one history-record state change, broadcast to every
// connected websocket client as it happens.
type Transition struct {
	SourceNetwork string               `json:"sourceNetwork"`
	SourceTxID    string               `json:"sourceTxId"`
	Status        domain.HistoryStatus `json:"status"`
}

// Hub fans a Transition out to every subscriber currently connected;
// construction is cheap, Publish is safe to call with zero
// subscribers (the common case when no ops dashboard is attached).
type Hub struct {
	mu          sync.Mutex
	subscribers map[chan Transition]struct{}
}

func NewHub() *Hub {
	return &Hub{subscribers: make(map[chan Transition]struct{})}
}

// Publish is called by an observer after it commits a history-record
// status change; it never blocks on a slow or absent subscriber. This
// is the method signature an observer's TransitionNotifier interface
// expects, so a *Hub can be wired in directly.
func (h *Hub) Publish(network, txID string, status domain.HistoryStatus) {
	t := Transition{SourceNetwork: network, SourceTxID: txID, Status: status}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		select {
		case ch <- t:
		default:
			log.Warn("opsapi: dropping transition for slow subscriber", "sourceTxId", t.SourceTxID)
		}
	}
}

func (h *Hub) subscribe() chan Transition {
	ch := make(chan Transition, 16)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(ch chan Transition) {
	h.mu.Lock()
	delete(h.subscribers, ch)
	h.mu.Unlock()
	close(ch)
}

// MonitorCursor is one row of the StatusReply's Monitors field.
type MonitorCursor struct {
	Name      string `json:"name"`
	BlockHash string `json:"blockHash"`
	TxID      string `json:"txId"`
	Resumed   bool   `json:"resumed"`
}

type StatusArgs struct{}

type StatusReply struct {
	Monitors []MonitorCursor        `json:"monitors"`
	Recent   []domain.HistoryRecord `json:"recent"`
}

// StatusService is the gorilla/rpc handler exposing bridge.status.
type StatusService struct {
	cursors      CursorReader
	history      HistoryReader
	monitorNames []string
}

// Status reports the persisted cursor for every monitor and the first
// five history entries HistoryReader.Recent returns, across both chains.
func (s *StatusService) Status(r *http.Request, args *StatusArgs, reply *StatusReply) error {
	for _, name := range s.monitorNames {
		loc, ok, err := s.cursors.Load(name)
		if err != nil {
			return err
		}
		reply.Monitors = append(reply.Monitors, MonitorCursor{
			Name:      name,
			BlockHash: loc.BlockHash,
			TxID:      loc.TxID,
			Resumed:   ok,
		})
	}
	recent, err := s.history.Recent(recentHistoryLimit)
	if err != nil {
		return err
	}
	reply.Recent = recent
	return nil
}

// Server wires the JSON-RPC status service and websocket transition
// tail onto a single mux, ready to be handed to http.Server.
type Server struct {
	Hub *Hub

	mux *http.ServeMux
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// New builds the ops status mux: POST /rpc for JSON-RPC, GET /tail for
// the websocket transition stream.
func New(cursors CursorReader, histories HistoryReader, monitorNames []string) (*Server, error) {
	rpcServer := rpc.NewServer()
	rpcServer.RegisterCodec(json.NewCodec(), "application/json")
	if err := rpcServer.RegisterService(&StatusService{cursors: cursors, history: histories, monitorNames: monitorNames}, "bridge"); err != nil {
		return nil, err
	}

	hub := NewHub()
	mux := http.NewServeMux()
	mux.Handle("/rpc", rpcServer)
	mux.HandleFunc("/tail", tailHandler(hub))
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))

	return &Server{Hub: hub, mux: mux}, nil
}

func (s *Server) Handler() http.Handler { return s.mux }

func tailHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("opsapi: websocket upgrade failed", "err", err)
			return
		}
		defer conn.Close()

		ch := hub.subscribe()
		defer hub.unsubscribe(ch)

		for {
			select {
			case t, ok := <-ch:
				if !ok {
					return
				}
				if err := conn.WriteJSON(t); err != nil {
					return
				}
			case <-r.Context().Done():
				return
			}
		}
	}
}

// Run starts listening on addr until ctx is canceled, then shuts down
// gracefully. A disabled (empty addr) ops API is not an error: Run
// simply blocks until ctx is done.
func Run(ctx context.Context, addr string, handler http.Handler) error {
	if addr == "" {
		<-ctx.Done()
		return nil
	}

	srv := &http.Server{Addr: addr, Handler: handler}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
