// Package orchestrator wires every collaborator into the two
// confirmed-block pipelines and runs them concurrently until a fatal
// error or context cancellation (spec.md §4's "Orchestrator: wire
// components, run two monitors concurrently until fatal").
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/planetarium/ncg-bridge/internal/amount"
	"github.com/planetarium/ncg-bridge/internal/audit"
	"github.com/planetarium/ncg-bridge/internal/bridgeerr"
	"github.com/planetarium/ncg-bridge/internal/chain/evm"
	"github.com/planetarium/ncg-bridge/internal/chain/nine"
	"github.com/planetarium/ncg-bridge/internal/config"
	"github.com/planetarium/ncg-bridge/internal/domain"
	"github.com/planetarium/ncg-bridge/internal/gasprice"
	"github.com/planetarium/ncg-bridge/internal/metrics"
	"github.com/planetarium/ncg-bridge/internal/monitor"
	"github.com/planetarium/ncg-bridge/internal/notify"
	"github.com/planetarium/ncg-bridge/internal/observer"
	"github.com/planetarium/ncg-bridge/internal/opsapi"
	"github.com/planetarium/ncg-bridge/internal/policy"
	"github.com/planetarium/ncg-bridge/internal/signer"
	"github.com/planetarium/ncg-bridge/internal/store/cursor"
	"github.com/planetarium/ncg-bridge/internal/store/history"
)

const (
	depositMonitorName = "chain-n-deposit"
	burnMonitorName    = "chain-e-burn"

	defaultPollDelay = 3 * time.Second
	rpcRateLimit     = 10 // requests/sec per chain collaborator

	processSampleInterval = 15 * time.Second
)

// Bridge owns every long-lived collaborator the two pipelines share and
// drives them until Run returns.
type Bridge struct {
	cfg *config.Config

	cursorStore  *cursor.Store
	historyStore *history.Store

	nineClient *nine.Client
	evmClient  *evm.Client

	depositMonitor *monitor.Monitor[domain.NCGTransferredEvent]
	burnMonitor    *monitor.Monitor[domain.BurnEvent]

	depositObserver *observer.DepositObserver
	burnObserver    *observer.BurnObserver

	errSink *errSink
	opsAPI  *opsapi.Server
}

// New opens every durable store and constructs every collaborator named
// in cfg. The remote signer's resolved address is verified against
// cfg.SenderAddress before returning; a mismatch is a FatalConfig error
// since every subsequent Chain-N transfer would sign with the wrong key.
func New(ctx context.Context, cfg *config.Config) (*Bridge, error) {
	cursorStore, err := cursor.Open(cfg.CursorStorePath)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: open cursor store: %w", err)
	}
	historyStore, err := history.Open(cfg.HistoryStorePath)
	if err != nil {
		cursorStore.Close()
		return nil, fmt.Errorf("orchestrator: open history store: %w", err)
	}

	minterAddr := common.HexToAddress(cfg.MinterAddress)
	var recipient, ncgMinter, sender [20]byte
	copy(recipient[:], common.HexToAddress(cfg.RecipientAddress).Bytes())
	copy(ncgMinter[:], common.HexToAddress(cfg.NCGMinterAddress).Bytes())
	copy(sender[:], common.HexToAddress(cfg.SenderAddress).Bytes())

	nineClient := nine.NewClient(cfg.ChainNEndpoint, cfg.ChainNStageEndpoints, recipient, ncgMinter, cfg.SenderPublicKeyBase64)
	nineClient.HTTP = rateLimitedHTTPClient(30 * time.Second)

	remoteSigner := signer.NewRemoteSigner(cfg.RemoteSignerEndpoint, cfg.RemoteSignerKeyID)
	if err := remoteSigner.VerifyAddress(ctx, cfg.SenderAddress); err != nil {
		historyStore.Close()
		cursorStore.Close()
		return nil, err
	}
	transferGate := signer.NewTransferGate(nineClient, remoteSigner, sender)

	gasPolicy := gasprice.Composite{
		gasprice.TipPolicy(cfg.GasTipRatio),
		gasprice.FloorPolicy(mustBig(cfg.PriorityFeeFloorWei)),
		gasprice.LimitPolicy(mustBig(cfg.GasPriceCapWei)),
	}

	evmClient, err := evm.Dial(ctx, cfg.ChainERPCEndpoint, rateLimitedHTTPClient(30*time.Second),
		common.HexToAddress(cfg.WrappedTokenContract), minterAddr, remoteSignerFn(remoteSigner, minterAddr), gasPolicy)
	if err != nil {
		historyStore.Close()
		cursorStore.Close()
		return nil, fmt.Errorf("orchestrator: dial chain-e: %w", err)
	}

	errorSink, sinkErr := notify.NewErrorSink(cfg.SentryDSN, cfg.Environment)
	if sinkErr != nil {
		historyStore.Close()
		cursorStore.Close()
		return nil, fmt.Errorf("orchestrator: init error sink: %w", sinkErr)
	}
	chatter := notify.NewWebhookChatter(cfg.ChatWebhookURL)
	alerter := notify.NewWebhookAlerter(cfg.AlertWebhookURL, cfg.AlertRoutingKey)
	auditStore := audit.NewStore(cfg.AuditEndpoint, cfg.AuditIndex, cfg.AuditAPIKey)

	minAmount, err := amount.ParseNCG(cfg.MinAmount)
	if err != nil {
		historyStore.Close()
		cursorStore.Close()
		return nil, &bridgeerr.FatalConfig{Reason: fmt.Sprintf("invalid MIN amount %q: %v", cfg.MinAmount, err)}
	}
	maxAmount, err := amount.ParseNCG(cfg.MaxAmount)
	if err != nil {
		historyStore.Close()
		cursorStore.Close()
		return nil, &bridgeerr.FatalConfig{Reason: fmt.Sprintf("invalid MAX amount %q: %v", cfg.MaxAmount, err)}
	}

	depositObserver := &observer.DepositObserver{
		History:  historyStore,
		Banned:   policy.NewBannedSenders(cfg.BannedSenders),
		Limits:   policy.Limits{Min: minAmount, Max: maxAmount},
		FeeRatio: cfg.FeeRatio,
		Minter:   evmClient,
		Refunder: transferGate,
		Chat:     chatter,
		Alerter:  alerter,
		Audit:    auditStore,
	}
	burnObserver := &observer.BurnObserver{
		History:  historyStore,
		Transfer: transferGate,
		Chat:     chatter,
		Alerter:  alerter,
		Audit:    auditStore,
	}

	opsServer, err := opsapi.New(cursorStore, historyStore, []string{depositMonitorName, burnMonitorName})
	if err != nil {
		historyStore.Close()
		cursorStore.Close()
		return nil, fmt.Errorf("orchestrator: init ops status api: %w", err)
	}
	depositObserver.Transitions = opsServer.Hub
	burnObserver.Transitions = opsServer.Hub

	sink := &errSink{capture: errorSink, alerter: alerter}

	depositSource := monitor.WithConfirmations[domain.NCGTransferredEvent](nineClient, cfg.Confirmations)
	burnSource := monitor.WithConfirmations[domain.BurnEvent](evmClient, cfg.Confirmations)

	return &Bridge{
		cfg:             cfg,
		cursorStore:     cursorStore,
		historyStore:    historyStore,
		nineClient:      nineClient,
		evmClient:       evmClient,
		depositMonitor:  monitor.New[domain.NCGTransferredEvent](depositMonitorName, depositSource, defaultPollDelay, sink),
		burnMonitor:     monitor.New[domain.BurnEvent](burnMonitorName, burnSource, defaultPollDelay, sink),
		depositObserver: depositObserver,
		burnObserver:    burnObserver,
		errSink:         sink,
		opsAPI:          opsServer,
	}, nil
}

// Close releases every durable store the Bridge opened.
func (b *Bridge) Close() error {
	err1 := b.historyStore.Close()
	err2 := b.cursorStore.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Run drives both monitor/observer pipelines until ctx is canceled or
// either pipeline returns a fatal error, per spec.md §5's "run two
// monitors concurrently until fatal".
func (b *Bridge) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runPipeline(ctx, depositMonitorName, b.depositMonitor, b.cursorStore, b.depositObserver.HandleEnvelope)
	})
	g.Go(func() error {
		return runPipeline(ctx, burnMonitorName, b.burnMonitor, b.cursorStore, b.burnObserver.HandleEnvelope)
	})
	g.Go(func() error {
		return opsapi.Run(ctx, b.cfg.OpsAPIListenAddr, b.opsAPI.Handler())
	})
	g.Go(func() error {
		metrics.RunProcessSampler(ctx, processSampleInterval)
		return nil
	})

	return g.Wait()
}

// runPipeline resumes monitorName from its durable cursor (if any),
// drives mon.Run, and persists the cursor after every envelope handle
// succeeds, so a crash mid-batch resumes exactly where it left off
// (spec.md §8 "resume after crash").
func runPipeline[E domain.Locatable](ctx context.Context, monitorName string, mon *monitor.Monitor[E], cursorStore *cursor.Store, handle func(context.Context, domain.EventEnvelope[E]) error) error {
	resumeFrom, _, err := cursorStore.Load(monitorName)
	if err != nil {
		return fmt.Errorf("orchestrator: load cursor %s: %w", monitorName, err)
	}

	envelopes := make(chan domain.EventEnvelope[E])
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(envelopes)
		return mon.Run(ctx, resumeFrom, envelopes)
	})

	g.Go(func() error {
		for {
			select {
			case envelope, ok := <-envelopes:
				if !ok {
					return nil
				}
				if err := handle(ctx, envelope); err != nil {
					return fmt.Errorf("orchestrator: %s: handle envelope: %w", monitorName, err)
				}
				if err := cursorStore.Save(monitorName, envelopeCursor(envelope)); err != nil {
					return fmt.Errorf("orchestrator: %s: save cursor: %w", monitorName, err)
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	return g.Wait()
}

// envelopeCursor returns the TransactionLocation a fully-processed
// envelope should advance the cursor to: the last event's location, or
// the block itself (empty txID) if it carried no events.
func envelopeCursor[E domain.Locatable](envelope domain.EventEnvelope[E]) domain.TransactionLocation {
	if len(envelope.Events) == 0 {
		return domain.TransactionLocation{BlockHash: envelope.BlockHash}
	}
	return envelope.Events[len(envelope.Events)-1].Location()
}

// errSink adapts the error-capture sink and alert webhook to
// monitor.ErrorSink, paging at critical severity for a Fatal
// bridgeerr.Operational condition and warning otherwise.
type errSink struct {
	capture *notify.ErrorSink
	alerter notify.Alerter
}

func (s *errSink) Error(component string, err error) {
	s.capture.Capture(component, err)

	severity := notify.SeverityWarning
	var op *bridgeerr.Operational
	if errors.As(err, &op) && op.Fatal {
		severity = notify.SeverityCritical
	}
	if alertErr := s.alerter.Alert(context.Background(), severity, fmt.Sprintf("%s: %v", component, err)); alertErr != nil {
		log.Error("orchestrator: paging failed", "component", component, "err", alertErr)
	}
}

// remoteSignerFn adapts the HTTP-based RemoteSigner to bind.SignerFn,
// the callback shape go-ethereum's transaction senders expect. The
// remote service signs whole raw transactions rather than bare digests
// (the same "sign raw-tx bytes" contract §4.6 describes for Chain-N),
// so the unsigned tx is RLP-marshaled before the call and the signed
// result unmarshaled back into a *types.Transaction.
func remoteSignerFn(remote *signer.RemoteSigner, expected common.Address) bind.SignerFn {
	return func(addr common.Address, tx *types.Transaction) (*types.Transaction, error) {
		if addr != expected {
			return nil, fmt.Errorf("orchestrator: unexpected signer address %s, want %s", addr.Hex(), expected.Hex())
		}
		unsignedRaw, err := tx.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("orchestrator: encode unsigned mint tx: %w", err)
		}
		signedHex, err := remote.Sign(context.Background(), hexutil.Encode(unsignedRaw))
		if err != nil {
			return nil, fmt.Errorf("orchestrator: remote sign mint tx: %w", err)
		}
		signedRaw, err := hexutil.Decode(signedHex)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: decode signed mint tx: %w", err)
		}
		signed := new(types.Transaction)
		if err := signed.UnmarshalBinary(signedRaw); err != nil {
			return nil, fmt.Errorf("orchestrator: unmarshal signed mint tx: %w", err)
		}
		return signed, nil
	}
}

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}

func rateLimitedHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &rateLimitedTransport{
			limiter: rate.NewLimiter(rate.Limit(rpcRateLimit), rpcRateLimit),
			base:    http.DefaultTransport,
		},
	}
}

// rateLimitedTransport throttles outbound RPC calls to both chain
// read-clients (spec.md §5), guarding against hammering the
// collaborator nodes during a backoff storm.
type rateLimitedTransport struct {
	limiter *rate.Limiter
	base    http.RoundTripper
}

func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}
