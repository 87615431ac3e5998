// Package observer implements the two event-driven state machines that
// react to confirmed-block envelopes: NCG deposits minting wNCG
// (spec.md §4.3), and wNCG burns releasing NCG (spec.md §4.4). Both
// share the dedup/record/emit shape described in §4.8 but diverge on
// validation and the direction of the counter-chain call.
package observer

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/planetarium/ncg-bridge/internal/amount"
	"github.com/planetarium/ncg-bridge/internal/audit"
	"github.com/planetarium/ncg-bridge/internal/domain"
	"github.com/planetarium/ncg-bridge/internal/metrics"
	"github.com/planetarium/ncg-bridge/internal/notify"
	"github.com/planetarium/ncg-bridge/internal/signer"
)

// HistoryStore is the subset of store/history.Store the observers need;
// defined here so both observers can be tested against an in-memory
// fake instead of a real bbolt file.
type HistoryStore interface {
	Has(network, txID string) (bool, error)
	Insert(rec domain.HistoryRecord) error
	Update(network, txID string, mutate func(*domain.HistoryRecord)) error
}

// Minter is the Chain-E write surface: mint sendAmount base units to
// recipient and block until mined.
type Minter interface {
	Mint(ctx context.Context, recipient common.Address, amt amount.WNCG) (txHash string, err error)
}

// TransferDispatcher is the Chain-N write surface used both for normal
// transfers and for refunds.
type TransferDispatcher interface {
	Transfer(ctx context.Context, req signer.TransferRequest) (signer.TransferResult, error)
}

// TransitionNotifier receives a history-record status change after it
// has been durably committed; it is a read-only side channel for the
// ops status API and is never required for correctness.
type TransitionNotifier interface {
	Publish(network, txID string, status domain.HistoryStatus)
}

func notifyTransition(n TransitionNotifier, network, txID string, status domain.HistoryStatus) {
	metrics.EventsHandled.WithLabelValues(network, string(status)).Inc()
	if n == nil {
		return
	}
	n.Publish(network, txID, status)
}

func recordEmissionFailure(network string) {
	metrics.EmissionsFailed.WithLabelValues(network).Inc()
}

func parse20ByteHexAddress(s string) (common.Address, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	raw, err := hex.DecodeString(trimmed)
	if err != nil || len(raw) != 20 {
		return common.Address{}, fmt.Errorf("observer: %q is not a 20-byte hex address", s)
	}
	var addr common.Address
	copy(addr[:], raw)
	return addr, nil
}

func writeAudit(ctx context.Context, store *audit.Store, network, sourceTxID, counterTxID, status string, requested, sent amount.NCG) {
	if err := store.Write(ctx, audit.Document{
		CorrelationID: uuid.NewString(),
		SourceNetwork: network,
		SourceTxID:    sourceTxID,
		CounterTxID:   counterTxID,
		Requested:     requested.String(),
		Sent:          sent.String(),
		Status:        status,
		ObservedAt:    time.Now(),
	}); err != nil {
		log.Warn("observer: audit write failed", "sourceTxId", sourceTxID, "err", err)
	}
}

func notifyChat(ctx context.Context, chat notify.Chatter, message string) {
	if err := chat.Post(ctx, message); err != nil {
		log.Warn("observer: chat notification failed", "err", err)
	}
}

func notifyAlert(ctx context.Context, alerter notify.Alerter, severity notify.Severity, message string) {
	if err := alerter.Alert(ctx, severity, message); err != nil {
		log.Error("observer: paging failed", "err", err)
	}
}
