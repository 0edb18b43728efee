// Package chain talks to an account based chain node over JSON-RPC.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"dappvault/engine/library"
	"dappvault/engine/metrics"
	"github.com/sasha-s/go-deadlock"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

var Networks = map[string]string{
	"1":        "mainnet",
	"3":        "ropsten",
	"4":        "rinkeby",
	"5":        "goerli",
	"42":       "kovan",
	"11155111": "sepolia",
}

// balanceOf(address) selector
const balanceOfSelector = "70a08231"

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int64  `json:"id"`
}

type Client struct {
	url          string
	http         *http.Client
	pollInterval time.Duration
	metrics      *metrics.Collector
	ids          atomic.Int64

	mu        deadlock.Mutex
	networkID string
}

func NewClient(url string, pollInterval time.Duration, m *metrics.Collector) *Client {
	if pollInterval <= 0 {
		pollInterval = 1500 * time.Millisecond
	}
	return &Client{
		url:          url,
		http:         &http.Client{Timeout: 30 * time.Second},
		pollInterval: pollInterval,
		metrics:      m,
	}
}

// Call sends one JSON-RPC request and returns its result.
func (c *Client) Call(ctx context.Context, method string, params ...any) (res gjson.Result, err error) {
	defer func() { c.metrics.RecordChainCall(method, err) }()
	if c.url == "" {
		return res, fmt.Errorf("%w: no rpc url configured", library.ErrTransport)
	}
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: c.ids.Add(1)})
	if err != nil {
		return res, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return res, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, fmt.Errorf("%w: %s: %s", library.ErrTransport, method, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, fmt.Errorf("%w: reading %s response: %s", library.ErrTransport, method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return res, fmt.Errorf("%w: %s returned HTTP %d", library.ErrTransport, method, resp.StatusCode)
	}
	if !gjson.ValidBytes(raw) {
		return res, fmt.Errorf("%w: %s returned invalid JSON", library.ErrTransport, method)
	}
	parsed := gjson.ParseBytes(raw)
	if e := parsed.Get("error"); e.Exists() && e.Type != gjson.Null {
		return res, fmt.Errorf("%w: %s: rpc error %d: %s", library.ErrTransport, method, e.Get("code").Int(), e.Get("message").String())
	}
	return parsed.Get("result"), nil
}

// Setup asks the node which network it serves.
func (c *Client) Setup(ctx context.Context) (string, error) {
	res, err := c.Call(ctx, "net_version")
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if id := res.String(); id != c.networkID {
		c.networkID = id
		library.LogCLI(fmt.Sprintf("chain network is %s (%s)", id, c.networkName()), 4)
	}
	return c.networkID, nil
}

func (c *Client) NetworkName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.networkName()
}

func (c *Client) networkName() string {
	if name, ok := Networks[c.networkID]; ok {
		return name
	}
	return "unknown"
}

func parseQuantity(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimPrefix(s, "0x"), 16)
	if !ok {
		if s == "0x" {
			return big.NewInt(0), nil
		}
		return nil, fmt.Errorf("%w: bad quantity %q", library.ErrTransport, s)
	}
	return n, nil
}

// WeiToEther converts a wei amount into ether.
func WeiToEther(wei *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(wei, -18)
}

// GetBalance returns the ether balance of address at the latest block.
func (c *Client) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	res, err := c.Call(ctx, "eth_getBalance", address, "latest")
	if err != nil {
		return decimal.Zero, err
	}
	wei, err := parseQuantity(res.String())
	if err != nil {
		return decimal.Zero, err
	}
	return WeiToEther(wei), nil
}

// GetTokenBalance returns an 18 decimal token balance of account.
func (c *Client) GetTokenBalance(ctx context.Context, token, account string) (decimal.Decimal, error) {
	addr := strings.ToLower(strings.TrimPrefix(account, "0x"))
	if len(addr) != 40 {
		return decimal.Zero, fmt.Errorf("%w: bad address %q", library.ErrValidation, account)
	}
	data := "0x" + balanceOfSelector + strings.Repeat("0", 24) + addr
	res, err := c.Call(ctx, "eth_call", map[string]string{"to": token, "data": data}, "latest")
	if err != nil {
		return decimal.Zero, err
	}
	wei, err := parseQuantity(res.String())
	if err != nil {
		return decimal.Zero, err
	}
	return WeiToEther(wei), nil
}

// SendRawTransaction submits a signed transaction and returns its hash.
func (c *Client) SendRawTransaction(ctx context.Context, raw string) (string, error) {
	res, err := c.Call(ctx, "eth_sendRawTransaction", raw)
	if err != nil {
		return "", err
	}
	return res.String(), nil
}

// Confirmations counts blocks since txHash was mined. mined is false while
// the transaction has no receipt.
func (c *Client) Confirmations(ctx context.Context, txHash string) (confirmations uint64, mined bool, err error) {
	receipt, err := c.Call(ctx, "eth_getTransactionReceipt", txHash)
	if err != nil {
		return 0, false, err
	}
	if !receipt.Exists() || receipt.Type == gjson.Null {
		return 0, false, nil
	}
	txBlock, err := parseQuantity(receipt.Get("blockNumber").String())
	if err != nil {
		return 0, false, err
	}
	latest, err := c.Call(ctx, "eth_blockNumber")
	if err != nil {
		return 0, false, err
	}
	head, err := parseQuantity(latest.String())
	if err != nil {
		return 0, false, err
	}
	if head.Cmp(txBlock) < 0 {
		return 0, true, nil
	}
	return new(big.Int).Sub(head, txBlock).Uint64(), true, nil
}

// WaitForConfirmations polls until txHash has required confirmations, the
// node fails, or ctx is done.
func (c *Client) WaitForConfirmations(ctx context.Context, txHash string, required uint64) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		n, mined, err := c.Confirmations(ctx, txHash)
		if err != nil {
			return err
		}
		if mined && n >= required {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
