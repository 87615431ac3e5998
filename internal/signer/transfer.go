package signer

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/planetarium/ncg-bridge/internal/amount"
	"github.com/planetarium/ncg-bridge/internal/bridgeerr"
)

// TransferRequest describes a single Chain-N native-asset transfer or
// refund to emit. The sender is fixed at gate-construction time (the
// daemon only ever transfers from the one configured custodial
// account), so it is not part of the request.
type TransferRequest struct {
	Recipient [20]byte
	Amount    amount.NCG
	Memo      string
}

// TransferResult is the outcome of a successfully staged transfer.
type TransferResult struct {
	TxID string
	// AcceptedBy counts how many of the configured endpoints accepted
	// the staged transaction; at least one, by construction.
	AcceptedBy int
	Warnings   []string
}

// NineChainGateway is the subset of the Chain-N client the transfer gate
// needs: building an unsigned transaction from a plain-value action, and
// fanning a signed transaction out to every stage endpoint.
type NineChainGateway interface {
	CreateUnsignedTransaction(ctx context.Context, actionBase64, publicKeyBase64 string) (unsignedHex string, err error)
	StageAll(ctx context.Context, signedBase64 string) (acceptedBy int, warnings []string, err error)
	SenderPublicKeyBase64() string
	MinterAddress() [20]byte
}

// TransferGate serializes every Chain-N transfer and refund across both
// observers behind a single mutex (spec.md §4.5, Design Note "global
// mutex across observers"): the sender account's nonce is assigned by
// the node at unsigned-tx build time, so concurrent builds would race.
// It is an explicit owned value, constructed once in the orchestrator
// and passed into both observers, rather than package-level state.
type TransferGate struct {
	mu            sync.Mutex
	chain         NineChainGateway
	signer        *RemoteSigner
	senderAddress [20]byte
	inFlight      int // read only by InFlightCreateCalls
}

// NewTransferGate constructs a gate that signs and broadcasts every
// transfer from senderAddress, the Chain-N address matching the
// remote signer's configured public key.
func NewTransferGate(chain NineChainGateway, signer *RemoteSigner, senderAddress [20]byte) *TransferGate {
	return &TransferGate{chain: chain, signer: signer, senderAddress: senderAddress}
}

// InFlightCreateCalls reports the gate's in-flight counter. It takes the
// gate's mutex, which Transfer holds for its whole duration, so it only
// ever observes 0. Nothing in the module calls it; the serialization
// test measures concurrency at its gateway fake instead.
func (g *TransferGate) InFlightCreateCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

// Transfer builds, signs, and broadcasts a transfer_asset3 action for
// req, following spec.md §4.5 steps 1-8 under the gate's mutex.
func (g *TransferGate) Transfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inFlight++
	defer func() { g.inFlight-- }()

	actionB64, err := EncodeTransferAction(TransferAction{
		Minter:    g.chain.MinterAddress(),
		Amount:    req.Amount,
		Memo:      req.Memo,
		Recipient: req.Recipient,
		Sender:    g.senderAddress,
	})
	if err != nil {
		return TransferResult{}, fmt.Errorf("signer: encode action: %w", err)
	}

	unsignedHex, err := g.chain.CreateUnsignedTransaction(ctx, actionB64, g.chain.SenderPublicKeyBase64())
	if err != nil {
		return TransferResult{}, &bridgeerr.Transient{Component: "chain-n.createUnsignedTransaction", Err: err}
	}

	signedHex, err := g.signer.Sign(ctx, unsignedHex)
	if err != nil {
		return TransferResult{}, fmt.Errorf("signer: sign unsigned tx: %w", err)
	}

	signedBytes, err := hex.DecodeString(trimHexPrefix(signedHex))
	if err != nil {
		return TransferResult{}, fmt.Errorf("signer: decode signed tx hex: %w", err)
	}
	signedB64 := base64.StdEncoding.EncodeToString(signedBytes)

	accepted, warnings, err := g.chain.StageAll(ctx, signedB64)
	if err != nil {
		return TransferResult{}, fmt.Errorf("signer: stage: %w", err)
	}
	if accepted == 0 {
		txID := sha256Hex(signedBytes)
		return TransferResult{}, &bridgeerr.StageFailed{TxID: txID}
	}
	for _, w := range warnings {
		log.Warn("stage endpoint rejected transaction", "reason", w)
	}

	return TransferResult{
		TxID:       sha256Hex(signedBytes),
		AcceptedBy: accepted,
		Warnings:   warnings,
	}, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
