package observer

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/planetarium/ncg-bridge/internal/audit"
	"github.com/planetarium/ncg-bridge/internal/domain"
	"github.com/planetarium/ncg-bridge/internal/notify"
	"github.com/planetarium/ncg-bridge/internal/signer"
)

// planetIDTag is the 6-hex-char prefix every valid `to` field must
// start with; the remaining 40 hex chars are the Chain-N recipient.
// The configured-network tag used throughout this deployment.
const planetIDTag = "100000"

// BurnObserver reacts to confirmed wNCG burns by releasing the
// equivalent NCG, minus no fee (spec.md §4.4 names none), on Chain-N.
type BurnObserver struct {
	History  HistoryStore
	Transfer TransferDispatcher
	Chat     notify.Chatter
	Alerter  notify.Alerter
	Audit    *audit.Store

	// Transitions is optional; nil disables ops-status broadcast.
	Transitions TransitionNotifier
}

// burnKey combines the EVM tx hash and log index into the composite
// identity spec.md §4.4 dedups on; a single burn transaction can emit
// more than one Burn log.
func burnKey(event domain.BurnEvent) string {
	return fmt.Sprintf("%s:%d", event.TxID, event.LogIndex)
}

func (o *BurnObserver) HandleEnvelope(ctx context.Context, envelope domain.EventEnvelope[domain.BurnEvent]) error {
	for _, event := range envelope.Events {
		if err := o.handleOne(ctx, event); err != nil {
			log.Error("burn observer: event handling failed", "txId", event.TxID, "logIndex", event.LogIndex, "err", err)
		}
	}
	return nil
}

func (o *BurnObserver) handleOne(ctx context.Context, event domain.BurnEvent) error {
	sourceTxID := burnKey(event)

	seen, err := o.History.Has(domain.NetworkEthereum, sourceTxID)
	if err != nil {
		return fmt.Errorf("burn observer: dedup check: %w", err)
	}
	if seen {
		return nil
	}

	recipient, err := parsePlanetTaggedRecipient(event.To)
	if err != nil {
		if insertErr := o.History.Insert(domain.HistoryRecord{
			SourceNetwork: domain.NetworkEthereum,
			SourceTxID:    sourceTxID,
			Status:        domain.StatusRejected,
		}); insertErr != nil {
			return fmt.Errorf("burn observer: record invalid recipient: %w", insertErr)
		}
		notifyTransition(o.Transitions, domain.NetworkEthereum, sourceTxID, domain.StatusRejected)
		notifyAlert(ctx, o.Alerter, notify.SeverityCritical,
			fmt.Sprintf("burn %s has an unparseable recipient tag: %v (wrapped token already burned, no refund possible)", sourceTxID, err))
		return nil
	}

	amt := event.Amount.ToNCG()
	if amt.IsZero() {
		if err := o.History.Insert(domain.HistoryRecord{
			SourceNetwork: domain.NetworkEthereum,
			SourceTxID:    sourceTxID,
			Status:        domain.StatusRejected,
		}); err != nil {
			return fmt.Errorf("burn observer: record dust rejection: %w", err)
		}
		notifyTransition(o.Transitions, domain.NetworkEthereum, sourceTxID, domain.StatusRejected)
		notifyAlert(ctx, o.Alerter, notify.SeverityWarning,
			fmt.Sprintf("rejected burn %s: amount rounds down to zero NCG", sourceTxID))
		return nil
	}

	if err := o.History.Insert(domain.HistoryRecord{
		SourceNetwork: domain.NetworkEthereum,
		SourceTxID:    sourceTxID,
		Sink:          recipient,
		Requested:     amt,
		Sent:          amt,
		Status:        domain.StatusEmitted,
	}); err != nil {
		return fmt.Errorf("burn observer: record emission: %w", err)
	}
	notifyTransition(o.Transitions, domain.NetworkEthereum, sourceTxID, domain.StatusEmitted)

	recipientAddr, err := parse20ByteHexAddress(recipient)
	if err != nil {
		return fmt.Errorf("burn observer: recipient address invariant violated: %w", err)
	}

	result, err := o.Transfer.Transfer(ctx, signer.TransferRequest{
		Recipient: [20]byte(recipientAddr),
		Amount:    amt,
		Memo:      "burn release: " + event.TxID,
	})
	if err != nil {
		recordEmissionFailure(domain.NetworkEthereum)
		notifyAlert(ctx, o.Alerter, notify.SeverityCritical,
			fmt.Sprintf("release transfer failed for burn %s: %v (funds locked, manual intervention required)", sourceTxID, err))
		return fmt.Errorf("burn observer: transfer: %w", err)
	}

	if err := o.History.Update(domain.NetworkEthereum, sourceTxID, func(rec *domain.HistoryRecord) {
		rec.CounterTxID = result.TxID
	}); err != nil {
		log.Error("burn observer: failed to annotate counter tx id", "sourceTxId", sourceTxID, "err", err)
	}

	notifyChat(ctx, o.Chat, fmt.Sprintf("released %s NCG for burn %s -> %s", amt, sourceTxID, result.TxID))
	writeAudit(ctx, o.Audit, domain.NetworkEthereum, sourceTxID, result.TxID, string(domain.StatusEmitted), amt, amt)
	return nil
}

// parsePlanetTaggedRecipient validates the 46-hex-char `to` field: a
// 6-hex-char planet-id tag followed by the 40-hex-char Chain-N
// recipient address.
func parsePlanetTaggedRecipient(to [32]byte) (string, error) {
	raw := hex.EncodeToString(to[:])
	if len(raw) < 46 {
		return "", fmt.Errorf("burn observer: recipient tag too short")
	}
	tag, addr := raw[:6], raw[6:46]
	if tag != planetIDTag {
		return "", fmt.Errorf("burn observer: unexpected planet tag %q", tag)
	}
	return "0x" + addr, nil
}
