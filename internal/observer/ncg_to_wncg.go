package observer

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/planetarium/ncg-bridge/internal/amount"
	"github.com/planetarium/ncg-bridge/internal/audit"
	"github.com/planetarium/ncg-bridge/internal/domain"
	"github.com/planetarium/ncg-bridge/internal/notify"
	"github.com/planetarium/ncg-bridge/internal/policy"
	"github.com/planetarium/ncg-bridge/internal/signer"
)

// DepositObserver reacts to confirmed NCG deposits into the custodial
// address by minting the corresponding wNCG amount, net of fee, on
// Chain-E (spec.md §4.3).
type DepositObserver struct {
	History  HistoryStore
	Banned   policy.BannedSenders
	Limits   policy.Limits
	FeeRatio float64
	Minter   Minter
	Refunder TransferDispatcher
	Chat     notify.Chatter
	Alerter  notify.Alerter
	Audit    *audit.Store

	// Transitions is optional; nil disables ops-status broadcast.
	Transitions TransitionNotifier
}

// HandleEnvelope processes every event in envelope, in arrival order,
// per spec.md §4.3 steps 1-7. The monitor loop advances the durable
// cursor only after this returns, so a single event failing does not
// block the rest of the envelope if later steps are independent; a
// transient Chain-E mint failure is logged and recorded rather than
// retried automatically (funds-at-risk requires operator attention).
func (o *DepositObserver) HandleEnvelope(ctx context.Context, envelope domain.EventEnvelope[domain.NCGTransferredEvent]) error {
	for _, event := range envelope.Events {
		if err := o.handleOne(ctx, event); err != nil {
			log.Error("deposit observer: event handling failed", "txId", event.TxID, "err", err)
		}
	}
	return nil
}

func (o *DepositObserver) handleOne(ctx context.Context, event domain.NCGTransferredEvent) error {
	seen, err := o.History.Has(domain.NetworkNineChronicles, event.TxID)
	if err != nil {
		return fmt.Errorf("deposit observer: dedup check: %w", err)
	}
	if seen {
		return nil
	}

	if o.Banned.Contains(event.Sender) {
		if err := o.History.Insert(domain.HistoryRecord{
			SourceNetwork: domain.NetworkNineChronicles,
			SourceTxID:    event.TxID,
			Requested:     event.Amount,
			Status:        domain.StatusRejected,
		}); err != nil {
			return fmt.Errorf("deposit observer: record banned rejection: %w", err)
		}
		notifyTransition(o.Transitions, domain.NetworkNineChronicles, event.TxID, domain.StatusRejected)
		notifyChat(ctx, o.Chat, fmt.Sprintf("rejected deposit %s: sender %s is banned", event.TxID, event.Sender))
		return nil
	}

	recipient, err := parse20ByteHexAddress(event.Memo)
	if err != nil {
		o.rejectAndRefund(ctx, event, event.Amount, "invalid recipient")
		return nil
	}

	clamp := o.Limits.Clamp(event.Amount)
	if clamp.BelowMin {
		o.rejectAndRefund(ctx, event, event.Amount, "amount below minimum")
		return nil
	}

	fee := clamp.Effective.MulRatioFloor(o.FeeRatio)
	sendAmount := clamp.Effective.Sub(fee)

	if err := o.History.Insert(domain.HistoryRecord{
		SourceNetwork: domain.NetworkNineChronicles,
		SourceTxID:    event.TxID,
		Sink:          recipient.Hex(),
		Requested:     event.Amount,
		Sent:          sendAmount,
		Status:        domain.StatusEmitted,
	}); err != nil {
		return fmt.Errorf("deposit observer: record emission: %w", err)
	}
	notifyTransition(o.Transitions, domain.NetworkNineChronicles, event.TxID, domain.StatusEmitted)

	if !clamp.Excess.IsZero() {
		o.refundExcess(ctx, event, clamp.Excess, "amount above maximum, excess refunded")
	}

	counterTxID, err := o.Minter.Mint(ctx, recipient, sendAmount.ToWNCG())
	if err != nil {
		recordEmissionFailure(domain.NetworkNineChronicles)
		notifyAlert(ctx, o.Alerter, notify.SeverityCritical,
			fmt.Sprintf("mint failed for deposit %s: %v (funds locked, manual intervention required)", event.TxID, err))
		return fmt.Errorf("deposit observer: mint: %w", err)
	}

	if err := o.History.Update(domain.NetworkNineChronicles, event.TxID, func(rec *domain.HistoryRecord) {
		rec.CounterTxID = counterTxID
	}); err != nil {
		log.Error("deposit observer: failed to annotate counter tx id", "txId", event.TxID, "err", err)
	}

	notifyChat(ctx, o.Chat, fmt.Sprintf("minted %s wNCG for deposit %s -> %s", sendAmount, event.TxID, counterTxID))
	writeAudit(ctx, o.Audit, domain.NetworkNineChronicles, event.TxID, counterTxID, string(domain.StatusEmitted), event.Amount, sendAmount)
	return nil
}

// rejectAndRefund records the deposit as rejected (no mint occurs) and
// attempts to return amt to the sender. Used when the deposit itself
// cannot be honored at all (bad memo, below minimum).
func (o *DepositObserver) rejectAndRefund(ctx context.Context, event domain.NCGTransferredEvent, amt amount.NCG, reason string) {
	if err := o.History.Insert(domain.HistoryRecord{
		SourceNetwork: domain.NetworkNineChronicles,
		SourceTxID:    event.TxID,
		Requested:     event.Amount,
		Sent:          amt,
		Status:        domain.StatusRejected,
	}); err != nil {
		log.Error("deposit observer: failed to record rejection", "txId", event.TxID, "err", err)
		return
	}
	notifyTransition(o.Transitions, domain.NetworkNineChronicles, event.TxID, domain.StatusRejected)

	counterTxID := o.dispatchRefund(ctx, event, amt, reason)
	if counterTxID == "" {
		return
	}
	if err := o.History.Update(domain.NetworkNineChronicles, event.TxID, func(rec *domain.HistoryRecord) {
		rec.CounterTxID = counterTxID
	}); err != nil {
		log.Error("deposit observer: failed to annotate refund tx id", "txId", event.TxID, "err", err)
	}
}

// refundExcess returns the portion of a deposit above MAX. The
// primary leg (MAX, minted) is recorded separately by the caller.
func (o *DepositObserver) refundExcess(ctx context.Context, event domain.NCGTransferredEvent, excess amount.NCG, reason string) {
	o.dispatchRefund(ctx, event, excess, reason)
}

// dispatchRefund sends a Chain-N transfer of amt back to the original
// sender, annotated with reason, and returns the resulting counter
// transaction id (empty on failure). A refund to a banned address is
// logged, never emitted (spec.md §4.3.a).
func (o *DepositObserver) dispatchRefund(ctx context.Context, event domain.NCGTransferredEvent, amt amount.NCG, reason string) string {
	if o.Banned.Contains(event.Sender) {
		log.Warn("deposit observer: refund target is banned, not emitting", "txId", event.TxID, "sender", event.Sender)
		return ""
	}

	senderAddr, err := parse20ByteHexAddress(event.Sender)
	if err != nil {
		log.Error("deposit observer: refund sender is not a valid address, cannot refund", "txId", event.TxID, "sender", event.Sender)
		return ""
	}

	result, err := o.Refunder.Transfer(ctx, signer.TransferRequest{
		Recipient: [20]byte(senderAddr),
		Amount:    amt,
		Memo:      "refund: " + reason,
	})
	if err != nil {
		recordEmissionFailure(domain.NetworkNineChronicles)
		log.Error("deposit observer: refund transfer failed", "txId", event.TxID, "err", err)
		notifyAlert(ctx, o.Alerter, notify.SeverityCritical, fmt.Sprintf("refund failed for %s: %v", event.TxID, err))
		return ""
	}

	notifyChat(ctx, o.Chat, fmt.Sprintf("refunded %s to %s for %s: %s", amt, event.Sender, event.TxID, reason))
	return result.TxID
}
