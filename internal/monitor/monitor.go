// Package monitor implements the generic confirmed-block driver shared
// by both chains' event observers: a lazy, indefinite sequence of
// event envelopes that never skips a block, never double-emits within
// a run, and never surfaces a block shallower than the configured
// confirmation depth.
//
// Reorgs deeper than the confirmation depth are not rolled back: when a
// stored cursor's block is no longer canonical, ProcessRemains returns a
// bridgeerr.ReorgedCursorError and Run stops with it, leaving recovery
// to an operator.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/planetarium/ncg-bridge/internal/bridgeerr"
	"github.com/planetarium/ncg-bridge/internal/domain"
	"github.com/planetarium/ncg-bridge/internal/metrics"
)

// Source supplies the chain-specific primitives a Monitor drives.
// Implementations talk to one chain's RPC/GraphQL surface; E is the
// event type produced by that chain (NCGTransferredEvent or BurnEvent).
type Source[E domain.Locatable] interface {
	TipIndex(ctx context.Context) (int64, error)
	BlockHash(ctx context.Context, index int64) (string, error)
	BlockIndex(ctx context.Context, hash string) (index int64, ok bool, err error)
	EventsIn(ctx context.Context, index int64) ([]E, error)
}

// ErrorSink receives non-fatal errors observed during polling, and
// stall notifications when the tip has not advanced for 5 minutes.
type ErrorSink interface {
	Error(component string, err error)
}

// Monitor drives a single chain's confirmed-block loop. It is not safe
// for concurrent use by more than one goroutine.
type Monitor[E domain.Locatable] struct {
	name          string
	source        Source[E]
	pollDelay     time.Duration
	sink          ErrorSink
	triggerBlocks func(i int64) []int64

	latest       int64
	lastProgress time.Time
}

const stallThreshold = 5 * time.Minute

func isStalled(lastProgress time.Time) bool {
	return time.Since(lastProgress) > stallThreshold
}

// New constructs a Monitor. The durable cursor to resume from is passed
// to Run, not here.
func New[E domain.Locatable](name string, source Source[E], pollDelay time.Duration, sink ErrorSink) *Monitor[E] {
	return &Monitor[E]{
		name:          name,
		source:        source,
		pollDelay:     pollDelay,
		sink:          sink,
		triggerBlocks: func(i int64) []int64 { return []int64{i} },
	}
}

// WithTriggeredBlocks overrides the default identity block-expansion
// hook, letting a subclass-equivalent inject virtual block indices.
func (m *Monitor[E]) WithTriggeredBlocks(f func(i int64) []int64) *Monitor[E] {
	m.triggerBlocks = f
	return m
}

// WithConfirmations wraps src so its TipIndex reports the chain tip
// minus confirmations, the mechanism by which data model invariant 5
// ("no mint or transfer is initiated for a block whose depth from tip
// is less than the confirmation depth") holds without any Source
// implementation needing to know its own confirmation depth.
func WithConfirmations[E domain.Locatable](src Source[E], confirmations uint64) Source[E] {
	return &confirmedSource[E]{src: src, confirmations: int64(confirmations)}
}

type confirmedSource[E domain.Locatable] struct {
	src           Source[E]
	confirmations int64
}

func (c *confirmedSource[E]) TipIndex(ctx context.Context) (int64, error) {
	tip, err := c.src.TipIndex(ctx)
	if err != nil {
		return 0, err
	}
	confirmed := tip - c.confirmations
	if confirmed < 0 {
		confirmed = 0
	}
	return confirmed, nil
}

func (c *confirmedSource[E]) BlockHash(ctx context.Context, index int64) (string, error) {
	return c.src.BlockHash(ctx, index)
}

func (c *confirmedSource[E]) BlockIndex(ctx context.Context, hash string) (int64, bool, error) {
	return c.src.BlockIndex(ctx, hash)
}

func (c *confirmedSource[E]) EventsIn(ctx context.Context, index int64) ([]E, error) {
	return c.src.EventsIn(ctx, index)
}

// ProcessRemains resolves a stored cursor back onto the canonical
// chain and replays every event strictly after it, up to the current
// confirmed tip (spec.md §4.2). It returns bridgeerr.ReorgedCursorError
// if the cursor's block is no longer canonical.
func ProcessRemains[E domain.Locatable](ctx context.Context, monitorName string, source Source[E], loc domain.TransactionLocation) (nextBlockIndex int64, remained []domain.EventEnvelope[E], err error) {
	cursorIndex, ok, err := source.BlockIndex(ctx, loc.BlockHash)
	if err != nil {
		return 0, nil, err
	}
	if !ok {
		return 0, nil, &bridgeerr.ReorgedCursorError{MonitorName: monitorName, BlockHash: loc.BlockHash}
	}

	tip, err := source.TipIndex(ctx)
	if err != nil {
		return 0, nil, err
	}

	for i := cursorIndex; i <= tip; i++ {
		events, err := source.EventsIn(ctx, i)
		if err != nil {
			return 0, nil, err
		}
		if i == cursorIndex {
			events = dropThroughTxID(events, loc.TxID)
		}
		if len(events) == 0 {
			continue
		}
		hash, err := source.BlockHash(ctx, i)
		if err != nil {
			return 0, nil, err
		}
		remained = append(remained, domain.EventEnvelope[E]{BlockHash: hash, Events: events})
	}
	return tip + 1, remained, nil
}

func dropThroughTxID[E domain.Locatable](events []E, txID string) []E {
	for i, e := range events {
		if e.Location().TxID == txID {
			return events[i+1:]
		}
	}
	return events
}

// Run drives the confirmed-block loop until ctx is canceled, sending
// each envelope on out. resumeFrom is the durable cursor to replay
// from, or the zero value to start at the current tip.
func (m *Monitor[E]) Run(ctx context.Context, resumeFrom domain.TransactionLocation, out chan<- domain.EventEnvelope[E]) error {
	if !resumeFrom.IsZero() {
		nextIndex, remained, err := ProcessRemains[E](ctx, m.name, m.source, resumeFrom)
		if err != nil {
			return err
		}
		for _, envelope := range remained {
			select {
			case out <- envelope:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		m.latest = nextIndex - 1
	} else {
		tip, err := m.source.TipIndex(ctx)
		if err != nil {
			return err
		}
		m.latest = tip
	}
	m.lastProgress = time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		tip, err := m.source.TipIndex(ctx)
		if err != nil {
			log.Error("monitor: tip query failed", "monitor", m.name, "err", err)
			m.sink.Error(m.name, err)
			if !m.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}

		metrics.MonitorLagBlocks.WithLabelValues(m.name).Set(float64(tip - m.latest))

		if m.latest+1 > tip {
			if isStalled(m.lastProgress) {
				m.sink.Error(m.name, &bridgeerr.Operational{
					Reason: fmt.Sprintf("no new confirmed blocks for 5 minutes, stuck at index %d", m.latest),
				})
			}
			if !m.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}

		failed := false
		for _, i := range m.triggerBlocks(m.latest + 1) {
			hash, err := m.source.BlockHash(ctx, i)
			if err != nil {
				log.Error("monitor: block hash lookup failed", "monitor", m.name, "index", i, "err", err)
				m.sink.Error(m.name, err)
				failed = true
				break
			}
			events, err := m.source.EventsIn(ctx, i)
			if err != nil {
				log.Error("monitor: events lookup failed", "monitor", m.name, "index", i, "err", err)
				m.sink.Error(m.name, err)
				failed = true
				break
			}
			select {
			case out <- domain.EventEnvelope[E]{BlockHash: hash, Events: events}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		// A fetch failure for any block in this tick leaves m.latest
		// unadvanced, so the next iteration retries the same block
		// instead of silently skipping its events.
		if failed {
			if !m.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}

		m.latest++
		m.lastProgress = time.Now()
	}
}

func (m *Monitor[E]) sleep(ctx context.Context) bool {
	select {
	case <-time.After(m.pollDelay):
		return true
	case <-ctx.Done():
		return false
	}
}
