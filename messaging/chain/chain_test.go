package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"dappvault/engine/library"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// fakeNode answers JSON-RPC calls from a method to result table. A result
// func lets a test change answers between calls.
func fakeNode(t *testing.T, results map[string]func(params gjson.Result) string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		req := gjson.ParseBytes(body)
		method := req.Get("method").String()
		w.Header().Set("Content-Type", "application/json")
		fn, ok := results[method]
		if !ok {
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":"method not found"}}`, req.Get("id").Int())
			return
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":%s}`, req.Get("id").Int(), fn(req.Get("params")))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func constant(result string) func(gjson.Result) string {
	return func(gjson.Result) string { return result }
}

func TestSetupAndBalance(t *testing.T) {
	srv := fakeNode(t, map[string]func(gjson.Result) string{
		"net_version": constant(`"3"`),
		"eth_getBalance": func(params gjson.Result) string {
			assert.Equal(t, "latest", params.Get("1").String())
			return `"0xde0b6b3a7640000"`
		},
	})
	c := NewClient(srv.URL, time.Millisecond, nil)

	id, err := c.Setup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3", id)
	assert.Equal(t, "ropsten", c.NetworkName())

	balance, err := c.GetBalance(context.Background(), "0x9858EfFD232B4033E47d90003D41EC34EcaEda94")
	require.NoError(t, err)
	assert.Equal(t, "1", balance.String())
}

func TestTokenBalanceEncodesCall(t *testing.T) {
	srv := fakeNode(t, map[string]func(gjson.Result) string{
		"eth_call": func(params gjson.Result) string {
			assert.Equal(t, "0xtoken", params.Get("0.to").String())
			assert.Equal(t, "0x70a08231000000000000000000000000"+"9858effd232b4033e47d90003d41ec34ecaeda94", params.Get("0.data").String())
			return `"0x29a2241af62c0000"`
		},
	})
	c := NewClient(srv.URL, time.Millisecond, nil)

	balance, err := c.GetTokenBalance(context.Background(), "0xtoken", "0x9858EfFD232B4033E47d90003D41EC34EcaEda94")
	require.NoError(t, err)
	assert.Equal(t, "3", balance.String())

	_, err = c.GetTokenBalance(context.Background(), "0xtoken", "0x12")
	assert.True(t, errors.Is(err, library.ErrValidation))
}

func TestRPCErrorIsTransport(t *testing.T) {
	srv := fakeNode(t, nil)
	c := NewClient(srv.URL, time.Millisecond, nil)
	_, err := c.SendRawTransaction(context.Background(), "0x00")
	assert.True(t, errors.Is(err, library.ErrTransport))

	_, err = NewClient("", time.Millisecond, nil).Setup(context.Background())
	assert.True(t, errors.Is(err, library.ErrTransport))
}

func TestWaitForConfirmations(t *testing.T) {
	var head atomic.Int64
	head.Store(10)
	srv := fakeNode(t, map[string]func(gjson.Result) string{
		"eth_getTransactionReceipt": func(gjson.Result) string {
			if head.Load() < 12 {
				return "null"
			}
			return `{"blockNumber":"0xc"}`
		},
		"eth_blockNumber": func(gjson.Result) string {
			return fmt.Sprintf(`"0x%x"`, head.Add(1))
		},
	})
	c := NewClient(srv.URL, time.Millisecond, nil)

	_, mined, err := c.Confirmations(context.Background(), "0xhash")
	require.NoError(t, err)
	assert.False(t, mined)

	head.Store(12)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.WaitForConfirmations(ctx, "0xhash", 3))
}

func TestWaitForConfirmationsStopsOnCancel(t *testing.T) {
	srv := fakeNode(t, map[string]func(gjson.Result) string{
		"eth_getTransactionReceipt": constant("null"),
	})
	c := NewClient(srv.URL, time.Millisecond, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.WaitForConfirmations(ctx, "0xhash", 1), context.DeadlineExceeded)
}
