// Package evm implements the Chain-E collaborator: reading confirmed
// blocks and Burn event logs from the wrapped-token contract, and
// submitting mint transactions, built the way the teacher's
// ethclient/accounts-abi-bind stack is used throughout the corpus
// (e.g. the rootchain manager watchers).
package evm

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	lru "github.com/hashicorp/golang-lru"
	"github.com/holiman/uint256"

	"github.com/planetarium/ncg-bridge/internal/amount"
	"github.com/planetarium/ncg-bridge/internal/domain"
	"github.com/planetarium/ncg-bridge/internal/gasprice"
)

// wrappedTokenABI is the minimal ABI surface the bridge needs: the
// Burn event signature and the mint call. No generated bindings ship
// with this repo (there is no contracts/ package in the corpus to
// generate from); the ABI is inlined the way cmd/abigen-produced
// bindings wrap a raw abi.ABI internally.
const wrappedTokenABI = `[
	{"anonymous":false,"name":"Burn","type":"event","inputs":[
		{"indexed":true,"name":"burner","type":"address"},
		{"indexed":false,"name":"amount","type":"uint256"},
		{"indexed":false,"name":"to","type":"bytes32"}
	]},
	{"name":"mintTo","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"recipient","type":"address"},
		{"name":"amount","type":"uint256"}
	],"outputs":[]}
]`

var parsedWrappedTokenABI = mustParseABI(wrappedTokenABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("evm: invalid embedded ABI: %v", err))
	}
	return parsed
}

var burnEventTopic = parsedWrappedTokenABI.Events["Burn"].ID

// blockIndexCacheSize bounds the hash<->index memoization the monitor's
// replay path (ProcessRemains) would otherwise re-query on every resume.
const blockIndexCacheSize = 4096

// Client wraps an ethclient.Client with the bridge's read/mint surface
// against a single wrapped-token contract address.
type Client struct {
	RPC             *ethclient.Client
	ContractAddress common.Address
	MinterSigner    bind.SignerFn
	MinterAddress   common.Address
	GasPolicy       gasprice.Policy

	hashByIndex *lru.Cache
	indexByHash *lru.Cache
}

// Dial connects to the Chain-E JSON-RPC endpoint using httpClient, so
// callers can install a rate-limited http.RoundTripper in front of
// every RPC call (spec.md §5: "RPC calls to both chain read-clients
// pass through a rate.Limiter").
func Dial(ctx context.Context, rpcURL string, httpClient *http.Client, contract common.Address, minter common.Address, signer bind.SignerFn, gasPolicy gasprice.Policy) (*Client, error) {
	rpcClient, err := rpc.DialHTTPWithClient(rpcURL, httpClient)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", rpcURL, err)
	}
	rpcc := ethclient.NewClient(rpcClient)
	hashByIndex, _ := lru.New(blockIndexCacheSize)
	indexByHash, _ := lru.New(blockIndexCacheSize)
	return &Client{
		RPC:             rpcc,
		ContractAddress: contract,
		MinterSigner:    signer,
		MinterAddress:   minter,
		GasPolicy:       gasPolicy,
		hashByIndex:     hashByIndex,
		indexByHash:     indexByHash,
	}, nil
}

// TipIndex returns the chain's current head block number.
func (c *Client) TipIndex(ctx context.Context) (int64, error) {
	header, err := c.RPC.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("evm: fetch head header: %w", err)
	}
	return header.Number.Int64(), nil
}

// BlockHash resolves the canonical hash at index, memoized since a
// confirmed index's hash never changes once queried.
func (c *Client) BlockHash(ctx context.Context, index int64) (string, error) {
	if cached, ok := c.hashByIndex.Get(index); ok {
		return cached.(string), nil
	}

	header, err := c.RPC.HeaderByNumber(ctx, big.NewInt(index))
	if err != nil {
		return "", fmt.Errorf("evm: fetch header %d: %w", index, err)
	}
	hash := header.Hash().Hex()
	c.hashByIndex.Add(index, hash)
	c.indexByHash.Add(hash, index)
	return hash, nil
}

// BlockIndex resolves a block hash back to its number, reporting
// ok=false if the hash is no longer canonical (a reorg). Not memoized
// on a miss, since a reorg can make a previously-unknown hash canonical
// on a later call.
func (c *Client) BlockIndex(ctx context.Context, hash string) (index int64, ok bool, err error) {
	if cached, found := c.indexByHash.Get(hash); found {
		return cached.(int64), true, nil
	}

	header, err := c.RPC.HeaderByHash(ctx, common.HexToHash(hash))
	if err != nil {
		if err == ethereum.NotFound {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("evm: fetch header by hash %s: %w", hash, err)
	}
	index = header.Number.Int64()
	c.indexByHash.Add(hash, index)
	c.hashByIndex.Add(index, hash)
	return index, true, nil
}

// EventsIn satisfies monitor.Source[domain.BurnEvent]; it is an alias
// for BurnEvents so the monitor package's generic driver can be
// constructed directly against a *Client.
func (c *Client) EventsIn(ctx context.Context, index int64) ([]domain.BurnEvent, error) {
	return c.BurnEvents(ctx, index)
}

// BurnEvents returns every Burn log emitted by the contract within the
// single block at index.
func (c *Client) BurnEvents(ctx context.Context, index int64) ([]domain.BurnEvent, error) {
	blockNumber := big.NewInt(index)
	query := ethereum.FilterQuery{
		FromBlock: blockNumber,
		ToBlock:   blockNumber,
		Addresses: []common.Address{c.ContractAddress},
		Topics:    [][]common.Hash{{burnEventTopic}},
	}
	logs, err := c.RPC.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("evm: filter Burn logs at %d: %w", index, err)
	}

	events := make([]domain.BurnEvent, 0, len(logs))
	for _, l := range logs {
		var decoded struct {
			Amount *big.Int
			To     [32]byte
		}
		if err := parsedWrappedTokenABI.UnpackIntoInterface(&decoded, "Burn", l.Data); err != nil {
			return nil, fmt.Errorf("evm: unpack Burn log %s:%d: %w", l.TxHash.Hex(), l.Index, err)
		}
		burner := common.HexToAddress(l.Topics[1].Hex())
		amt, overflow := uint256.FromBig(decoded.Amount)
		if overflow {
			return nil, fmt.Errorf("evm: Burn amount %s overflows 256 bits", decoded.Amount)
		}

		events = append(events, domain.BurnEvent{
			TxID:      l.TxHash.Hex(),
			BlockHash: l.BlockHash.Hex(),
			Sender:    burner.Hex(),
			Amount:    amount.NewWNCGFromBaseUnits(amt),
			To:        decoded.To,
			LogIndex:  l.Index,
		})
	}
	return events, nil
}

// Mint submits a mintTo transaction crediting amount base units to
// recipient and blocks until the transaction is mined, returning its
// hash. Gas price is derived from the configured policy applied to the
// network's suggested tip (spec.md §4.7).
func (c *Client) Mint(ctx context.Context, recipient common.Address, amt amount.WNCG) (string, error) {
	input, err := parsedWrappedTokenABI.Pack("mintTo", recipient, amt.Int().ToBig())
	if err != nil {
		return "", fmt.Errorf("evm: pack mintTo: %w", err)
	}

	suggestedTip, err := c.RPC.SuggestGasTipCap(ctx)
	if err != nil {
		return "", fmt.Errorf("evm: suggest gas tip: %w", err)
	}
	gasTip := c.GasPolicy.Apply(suggestedTip)

	head, err := c.RPC.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("evm: fetch head for base fee: %w", err)
	}
	gasFeeCap := new(big.Int).Add(gasTip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	nonce, err := c.RPC.PendingNonceAt(ctx, c.MinterAddress)
	if err != nil {
		return "", fmt.Errorf("evm: fetch pending nonce: %w", err)
	}
	chainID, err := c.RPC.NetworkID(ctx)
	if err != nil {
		return "", fmt.Errorf("evm: fetch chain id: %w", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: gasTip,
		GasFeeCap: gasFeeCap,
		Gas:       200_000,
		To:        &c.ContractAddress,
		Data:      input,
	})

	signedTx, err := c.MinterSigner(c.MinterAddress, tx)
	if err != nil {
		return "", fmt.Errorf("evm: sign mint tx: %w", err)
	}
	if err := c.RPC.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("evm: send mint tx: %w", err)
	}

	log.Info("mint transaction submitted", "hash", signedTx.Hash().Hex(), "recipient", recipient.Hex())

	receipt, err := bind.WaitMined(ctx, c.RPC, signedTx)
	if err != nil {
		return "", fmt.Errorf("evm: wait for mint receipt: %w", err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return "", fmt.Errorf("evm: mint transaction %s reverted", signedTx.Hash().Hex())
	}
	return signedTx.Hash().Hex(), nil
}
