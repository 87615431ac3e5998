// Package domain holds the data model shared by every bridge component:
// the cursor/history records, event envelopes, and the two source-chain
// event shapes. Nothing in this package talks to a network or a disk.
package domain

import "github.com/planetarium/ncg-bridge/internal/amount"

// TransactionLocation identifies a prior processing boundary on one chain.
// It is opaque outside the monitor/store pair that produced it.
type TransactionLocation struct {
	BlockHash string
	TxID      string
}

// IsZero reports whether loc is the empty location, i.e. no cursor has
// ever been recorded for the owning monitor.
func (loc TransactionLocation) IsZero() bool {
	return loc.BlockHash == "" && loc.TxID == ""
}

// EventEnvelope is a block's worth of events delivered atomically to an
// observer. Ordering within Events matches on-chain intra-block order.
type EventEnvelope[E any] struct {
	BlockHash string
	Events    []E
}

// Locatable is any source-chain event that can report the
// TransactionLocation it occurred at, the constraint the generic
// confirmed-block monitor needs to replay events past a stored cursor.
type Locatable interface {
	Location() TransactionLocation
}

// NCGTransferredEvent is produced when the custodial address receives
// native asset on Chain-N.
type NCGTransferredEvent struct {
	TxID      string
	BlockHash string
	Sender    string
	Amount    amount.NCG
	Memo      string
}

func (e NCGTransferredEvent) Location() TransactionLocation {
	return TransactionLocation{BlockHash: e.BlockHash, TxID: e.TxID}
}

// BurnEvent is produced from a Burn log on the wrapped-token contract.
// To encodes a 6-hex-char planet-id tag followed by a 40-hex-char
// Chain-N recipient address, right-padded to 32 bytes on-chain.
type BurnEvent struct {
	TxID      string // EVM transaction hash
	BlockHash string
	Sender    string // EVM address
	Amount    amount.WNCG
	To        [32]byte
	LogIndex  uint
}

func (e BurnEvent) Location() TransactionLocation {
	return TransactionLocation{BlockHash: e.BlockHash, TxID: e.TxID}
}

// HistoryStatus is the terminal state attached to a HistoryRecord.
type HistoryStatus string

const (
	StatusEmitted  HistoryStatus = "emitted"
	StatusRefunded HistoryStatus = "refunded"
	StatusRejected HistoryStatus = "rejected"
)

// HistoryRecord is durable evidence that a source event was observed and
// acted upon. Keyed uniquely by (SourceNetwork, SourceTxID); its presence
// means "already processed, do not re-emit" (data model invariant 2).
type HistoryRecord struct {
	SourceNetwork string
	SourceTxID    string
	Sink          string
	Requested     amount.NCG
	Sent          amount.NCG
	CounterTxID   string
	Status        HistoryStatus
}

// Key returns the unique identity of the record for store lookups.
func (r HistoryRecord) Key() (network, txID string) {
	return r.SourceNetwork, r.SourceTxID
}

// Chain network names used as the first half of a HistoryRecord key.
const (
	NetworkNineChronicles = "nineChronicles"
	NetworkEthereum       = "ethereum"
)

// CursorRecord is the single persisted row per monitor name.
type CursorRecord struct {
	MonitorName string
	Location    TransactionLocation
}
