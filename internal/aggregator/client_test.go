package aggregator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"solana-copy-bot/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const testMint = "MemeMint111111111111111111111111111111111"

func newTestClient(swapURL, priceURL string) *JupiterClient {
	c := NewJupiterClient(swapURL, priceURL, zap.NewNop())
	// 测试不需要限流等待
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	return c
}

func TestGetPriceParsesDecimalString(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, testMint, r.URL.Query().Get("ids"))
		_, _ = w.Write([]byte(`{"data":{"` + testMint + `":{"price":"0.0000412"}}}`))
	}))
	defer server.Close()

	price, err := newTestClient("", server.URL).GetPrice(context.Background(), testMint)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("0.0000412")))
}

func TestGetPriceUnknownMintIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	defer server.Close()

	_, err := newTestClient("", server.URL).GetPrice(context.Background(), testMint)
	assert.ErrorIs(t, err, ErrPriceUnavailable)
}

func TestGetPriceNullEntryIsUnavailable(t *testing.T) {
	// 价格接口对未收录代币返回显式的 null 条目
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"` + testMint + `":null}}`))
	}))
	defer server.Close()

	_, err := newTestClient("", server.URL).GetPrice(context.Background(), testMint)
	assert.ErrorIs(t, err, ErrPriceUnavailable)
}

func TestGetPriceMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>upstream error</html>`))
	}))
	defer server.Close()

	_, err := newTestClient("", server.URL).GetPrice(context.Background(), testMint)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestRateLimitExhaustsBoundedRetries(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestClient("", server.URL).GetPrice(context.Background(), testMint)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 3, calls)
}

func TestClientErrorMeansNoRoute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Could not find any route"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, "").GetQuote(context.Background(),
		"inputMint", "outputMint", 30_000_000, 300)
	assert.ErrorIs(t, err, ErrRouteUnavailable)
}

func TestGetQuoteParsesAmountsAndKeepsRawRoute(t *testing.T) {
	quoteBody := `{"inputMint":"in","outputMint":"out","inAmount":"30000000","outAmount":"123456789","routePlan":[{"percent":100}]}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "30000000", r.URL.Query().Get("amount"))
		assert.Equal(t, "300", r.URL.Query().Get("slippageBps"))
		_, _ = w.Write([]byte(quoteBody))
	}))
	defer server.Close()

	quote, err := newTestClient(server.URL, "").GetQuote(context.Background(),
		"in", "out", 30_000_000, 300)
	require.NoError(t, err)

	assert.Equal(t, uint64(30_000_000), quote.InAmount)
	assert.Equal(t, uint64(123_456_789), quote.OutAmount)
	// 原始报价体要原样传回swap接口, 不能有损转换
	assert.JSONEq(t, quoteBody, string(quote.Route))
}

func TestGetQuoteZeroOutputIsMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"inAmount":"30000000","outAmount":"0"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, "").GetQuote(context.Background(),
		"in", "out", 30_000_000, 300)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestBuildSwapTransactionEchoesQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/swap", r.URL.Path)
		var req struct {
			QuoteResponse    json.RawMessage `json:"quoteResponse"`
			UserPublicKey    string          `json:"userPublicKey"`
			WrapAndUnwrapSol bool            `json:"wrapAndUnwrapSol"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.JSONEq(t, `{"inAmount":"1"}`, string(req.QuoteResponse))
		assert.Equal(t, "signerPubkey", req.UserPublicKey)
		assert.True(t, req.WrapAndUnwrapSol)

		_, _ = w.Write([]byte(`{"swapTransaction":"c2lnbmVkLXR4"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, "")
	tx, err := client.BuildSwapTransaction(context.Background(),
		quoteWithRoute(`{"inAmount":"1"}`), "signerPubkey")
	require.NoError(t, err)
	assert.Equal(t, "c2lnbmVkLXR4", tx)
}

func TestBuildSwapTransactionMissingFieldIsMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, "")
	_, err := client.BuildSwapTransaction(context.Background(),
		quoteWithRoute(`{"inAmount":"1"}`), "signerPubkey")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func quoteWithRoute(raw string) *models.Quote {
	return &models.Quote{Route: json.RawMessage(raw)}
}
