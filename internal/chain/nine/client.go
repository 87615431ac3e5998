// Package nine implements the Chain-N GraphQL collaborator: the
// read-side block/event primitives the confirmed-block monitor needs
// (spec.md §4.1/§4.2), and the write-side transaction-building and
// staging calls the transfer gate needs (spec.md §4.5/§4.6).
//
// No GraphQL client library appears anywhere in the reference corpus
// (graph-gophers/graphql-go is a server-side schema executor, not a
// client), so queries are plain POST bodies over net/http, decoded
// with encoding/json — the same shape as the bridge's other thin HTTP
// collaborators.
package nine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/errgroup"

	"github.com/planetarium/ncg-bridge/internal/amount"
	"github.com/planetarium/ncg-bridge/internal/domain"
)

// blockIndexCacheSize bounds the hash<->index memoization the monitor's
// replay path (ProcessRemains) would otherwise re-query on every resume.
const blockIndexCacheSize = 4096

// Client is a Chain-N GraphQL endpoint paired with one or more staging
// endpoints (spec.md §9: "stage to multiple endpoints for redundancy").
type Client struct {
	Endpoint       string
	StageEndpoints []string
	HTTP           *http.Client

	senderPubKeyBase64 string
	minterAddress      [20]byte
	recipientAddress   [20]byte // the custodial address this monitor watches
	maxAttempts        uint64

	hashByIndex *lru.Cache
	indexByHash *lru.Cache
}

// NewClient constructs a Chain-N client. recipient is the custodial
// address NCG deposits are watched on; minter/senderPubKeyBase64
// identify the account transfers are signed from.
func NewClient(endpoint string, stageEndpoints []string, recipient, minter [20]byte, senderPubKeyBase64 string) *Client {
	hashByIndex, _ := lru.New(blockIndexCacheSize)
	indexByHash, _ := lru.New(blockIndexCacheSize)
	return &Client{
		Endpoint:           endpoint,
		StageEndpoints:     stageEndpoints,
		HTTP:               &http.Client{Timeout: 30 * time.Second},
		senderPubKeyBase64: senderPubKeyBase64,
		minterAddress:      minter,
		recipientAddress:   recipient,
		maxAttempts:        5,
		hashByIndex:        hashByIndex,
		indexByHash:        indexByHash,
	}
}

func (c *Client) SenderPublicKeyBase64() string { return c.senderPubKeyBase64 }
func (c *Client) MinterAddress() [20]byte       { return c.minterAddress }

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

func (c *Client) query(ctx context.Context, endpoint string, req graphQLRequest, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("chain-n: marshal query: %w", err)
	}

	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("chain-n: build request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.HTTP.Do(httpReq)
		if err != nil {
			return fmt.Errorf("chain-n: request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("chain-n: endpoint returned %s", resp.Status)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("chain-n: endpoint returned %s", resp.Status))
		}

		var envelope struct {
			Data   json.RawMessage `json:"data"`
			Errors []graphQLError  `json:"errors"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return backoff.Permanent(fmt.Errorf("chain-n: decode response: %w", err))
		}
		if len(envelope.Errors) > 0 {
			return backoff.Permanent(fmt.Errorf("chain-n: graphql error: %s", envelope.Errors[0].Message))
		}
		if out != nil {
			if err := json.Unmarshal(envelope.Data, out); err != nil {
				return backoff.Permanent(fmt.Errorf("chain-n: decode data: %w", err))
			}
		}
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxAttempts)
	return backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		log.Warn("chain-n query retrying", "endpoint", endpoint, "wait", wait, "err", err)
	})
}

// TipIndex returns the node's current tip block index, without any
// confirmation-depth offset; monitor.WithConfirmations applies that.
func (c *Client) TipIndex(ctx context.Context) (int64, error) {
	var data struct {
		NodeStatus struct {
			Tip struct {
				Index int64 `json:"index"`
			} `json:"tip"`
		} `json:"nodeStatus"`
	}
	err := c.query(ctx, c.Endpoint, graphQLRequest{Query: `query { nodeStatus { tip { index } } }`}, &data)
	return data.NodeStatus.Tip.Index, err
}

// BlockHash resolves the canonical block hash at index, memoized since
// a confirmed index's hash never changes once queried.
func (c *Client) BlockHash(ctx context.Context, index int64) (string, error) {
	if cached, ok := c.hashByIndex.Get(index); ok {
		return cached.(string), nil
	}

	var data struct {
		ChainQuery struct {
			BlockQuery struct {
				Block struct {
					Hash string `json:"hash"`
				} `json:"block"`
			} `json:"blockQuery"`
		} `json:"chainQuery"`
	}
	err := c.query(ctx, c.Endpoint, graphQLRequest{
		Query:     `query($index: Long!) { chainQuery { blockQuery { block(index: $index) { hash } } } }`,
		Variables: map[string]any{"index": index},
	}, &data)
	if err != nil {
		return "", err
	}
	hash := data.ChainQuery.BlockQuery.Block.Hash
	c.hashByIndex.Add(index, hash)
	c.indexByHash.Add(hash, index)
	return hash, nil
}

// BlockIndex resolves a block hash back to its index, or ok=false if
// the hash is no longer present on the canonical chain (a reorg). Not
// memoized on a miss, since a reorg can make a previously-unknown hash
// canonical on a later call.
func (c *Client) BlockIndex(ctx context.Context, hash string) (index int64, ok bool, err error) {
	if cached, found := c.indexByHash.Get(hash); found {
		return cached.(int64), true, nil
	}

	var data struct {
		ChainQuery struct {
			BlockQuery struct {
				Block *struct {
					Index int64 `json:"index"`
				} `json:"block"`
			} `json:"blockQuery"`
		} `json:"chainQuery"`
	}
	err = c.query(ctx, c.Endpoint, graphQLRequest{
		Query:     `query($hash: ID!) { chainQuery { blockQuery { block(hash: $hash) { index } } } }`,
		Variables: map[string]any{"hash": hash},
	}, &data)
	if err != nil {
		return 0, false, err
	}
	if data.ChainQuery.BlockQuery.Block == nil {
		return 0, false, nil
	}
	index = data.ChainQuery.BlockQuery.Block.Index
	c.indexByHash.Add(hash, index)
	c.hashByIndex.Add(index, hash)
	return index, true, nil
}

// EventsIn satisfies monitor.Source[domain.NCGTransferredEvent]; it is
// an alias for TransferEvents so the monitor package's generic driver
// can be constructed directly against a *Client.
func (c *Client) EventsIn(ctx context.Context, index int64) ([]domain.NCGTransferredEvent, error) {
	return c.TransferEvents(ctx, index)
}

// TransferEvents returns every native-asset transfer into recipient
// within the block at index, in on-chain intra-block order.
func (c *Client) TransferEvents(ctx context.Context, index int64) ([]domain.NCGTransferredEvent, error) {
	var data struct {
		ChainQuery struct {
			BlockQuery struct {
				Block struct {
					Hash      string `json:"hash"`
					Transfers []struct {
						TxID   string `json:"txId"`
						Sender string `json:"sender"`
						Amount string `json:"amount"`
						Memo   string `json:"memo"`
					} `json:"transfersTo"`
				} `json:"block"`
			} `json:"blockQuery"`
		} `json:"chainQuery"`
	}
	err := c.query(ctx, c.Endpoint, graphQLRequest{
		Query: `query($index: Long!, $recipient: Address!) {
			chainQuery { blockQuery { block(index: $index) {
				hash
				transfersTo(recipient: $recipient) { txId sender amount memo }
			} } }
		}`,
		Variables: map[string]any{"index": index, "recipient": hexAddress(c.recipientAddress)},
	}, &data)
	if err != nil {
		return nil, err
	}

	events := make([]domain.NCGTransferredEvent, 0, len(data.ChainQuery.BlockQuery.Block.Transfers))
	for _, t := range data.ChainQuery.BlockQuery.Block.Transfers {
		amt, perr := amount.ParseNCG(t.Amount)
		if perr != nil {
			return nil, fmt.Errorf("chain-n: parse transfer amount %q: %w", t.Amount, perr)
		}
		events = append(events, domain.NCGTransferredEvent{
			TxID:      t.TxID,
			BlockHash: data.ChainQuery.BlockQuery.Block.Hash,
			Sender:    t.Sender,
			Amount:    amt,
			Memo:      t.Memo,
		})
	}
	return events, nil
}

// CreateUnsignedTransaction builds an unsigned transaction envelope
// from a base64-encoded plain-value action.
func (c *Client) CreateUnsignedTransaction(ctx context.Context, actionBase64, publicKeyBase64 string) (string, error) {
	var data struct {
		ActionQuery struct {
			UnsignedTransaction string `json:"unsignedTransaction"`
		} `json:"actionQuery"`
	}
	err := c.query(ctx, c.Endpoint, graphQLRequest{
		Query: `query($action: String!, $pubKey: String!) {
			actionQuery { unsignedTransaction(action: $action, publicKey: $pubKey) }
		}`,
		Variables: map[string]any{"action": actionBase64, "pubKey": publicKeyBase64},
	}, &data)
	return data.ActionQuery.UnsignedTransaction, err
}

// StageAll broadcasts signedBase64 to the primary endpoint and every
// configured stage endpoint concurrently, and reports how many accepted
// it (spec.md §4.5 step 6: "broadcast to every configured node - primary
// and stage endpoints - concurrently").
func (c *Client) StageAll(ctx context.Context, signedBase64 string) (accepted int, warnings []string, err error) {
	type stageResult struct {
		StageTransaction bool `json:"stageTransaction"`
	}
	req := graphQLRequest{
		Query:     `mutation($tx: String!) { stageTransaction(payload: $tx) }`,
		Variables: map[string]any{"tx": signedBase64},
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, endpoint := range c.stageTargets() {
		endpoint := endpoint
		g.Go(func() error {
			var data stageResult
			queryErr := c.query(gctx, endpoint, req, &data)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case queryErr != nil:
				warnings = append(warnings, fmt.Sprintf("%s: %v", endpoint, queryErr))
			case !data.StageTransaction:
				warnings = append(warnings, fmt.Sprintf("%s: rejected", endpoint))
			default:
				accepted++
			}
			return nil
		})
	}
	_ = g.Wait()
	return accepted, warnings, nil
}

// stageTargets returns the primary endpoint plus every configured stage
// endpoint, deduplicated, so a deployment that sets explicit stage
// endpoints still broadcasts to the primary as well.
func (c *Client) stageTargets() []string {
	seen := map[string]struct{}{c.Endpoint: {}}
	targets := []string{c.Endpoint}
	for _, endpoint := range c.StageEndpoints {
		if _, ok := seen[endpoint]; ok {
			continue
		}
		seen[endpoint] = struct{}{}
		targets = append(targets, endpoint)
	}
	return targets
}

func hexAddress(addr [20]byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 2+len(addr)*2)
	out[0], out[1] = '0', 'x'
	for i, b := range addr {
		out[2+i*2] = hexDigits[b>>4]
		out[3+i*2] = hexDigits[b&0xf]
	}
	return string(out)
}
