package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"solana-copy-bot/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrRateLimited 表示聚合器限流, 内部退避重试耗尽后返回。
	ErrRateLimited = errors.New("aggregator rate limited")
	// ErrRouteUnavailable 表示本次找不到可行路由 (代币流动性不足), 对本次尝试是终态。
	ErrRouteUnavailable = errors.New("no swap route available")
	// ErrPriceUnavailable 表示该代币暂无价格, 调用方应跳过本周期而不是按0处理。
	ErrPriceUnavailable = errors.New("price unavailable")
	// ErrMalformedResponse 表示聚合器返回了无法解析的内容, 记录日志并放弃本周期动作。
	ErrMalformedResponse = errors.New("malformed aggregator response")
)

// Client 定义了交易核心需要的聚合器操作。
type Client interface {
	// GetPrice 返回代币的美元单价。
	GetPrice(ctx context.Context, mint string) (decimal.Decimal, error)
	// GetQuote 请求一条 inputMint -> outputMint 的兑换路由报价。
	GetQuote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*models.Quote, error)
	// BuildSwapTransaction 把报价转换成待签名的交易 (base64)。
	BuildSwapTransaction(ctx context.Context, quote *models.Quote, signerPubkey string) (string, error)
}

// JupiterClient 封装了 Jupiter 的价格/报价/swap HTTP API。
type JupiterClient struct {
	swapBaseURL  string
	priceBaseURL string
	httpClient   *http.Client
	limiter      *rate.Limiter
	logger       *zap.Logger
}

// NewJupiterClient 创建一个新的聚合器客户端。
func NewJupiterClient(swapBaseURL, priceBaseURL string, logger *zap.Logger) *JupiterClient {
	return &JupiterClient{
		swapBaseURL:  swapBaseURL,
		priceBaseURL: priceBaseURL,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		// 免费档大约每秒1次, 这里留一点突发余量
		limiter: rate.NewLimiter(rate.Limit(1), 3),
		logger:  logger,
	}
}

// doRequest 是通用的请求处理函数, 带客户端限流和对429的有界退避。
func (c *JupiterClient) doRequest(ctx context.Context, method, fullURL string, body []byte) ([]byte, error) {
	const maxAttempts = 3

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
		if err != nil {
			return nil, fmt.Errorf("创建聚合器请求失败: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("聚合器网络请求失败: %w", err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("读取聚合器响应失败: %w", readErr)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return respBody, nil
		case resp.StatusCode == http.StatusTooManyRequests:
			// 指数退避后重试
			delay := time.Duration(attempt) * time.Second
			c.logger.Warn("聚合器限流, 退避后重试",
				zap.Int("attempt", attempt), zap.Duration("delay", delay))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			// 路由不存在等业务失败, 重试没有意义
			return nil, fmt.Errorf("%w: 状态码 %d, 响应: %s", ErrRouteUnavailable, resp.StatusCode, string(respBody))
		default:
			return nil, fmt.Errorf("聚合器请求失败, 状态码: %d, 响应: %s", resp.StatusCode, string(respBody))
		}
	}
	return nil, ErrRateLimited
}

// GetPrice 查询代币美元价格。未收录或无流动性的代币返回 ErrPriceUnavailable。
func (c *JupiterClient) GetPrice(ctx context.Context, mint string) (decimal.Decimal, error) {
	fullURL := fmt.Sprintf("%s?ids=%s", c.priceBaseURL, url.QueryEscape(mint))
	body, err := c.doRequest(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return decimal.Zero, err
	}

	var priceResp struct {
		Data map[string]*struct {
			Price string `json:"price"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &priceResp); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	entry, ok := priceResp.Data[mint]
	if !ok || entry == nil || entry.Price == "" {
		return decimal.Zero, ErrPriceUnavailable
	}

	price, err := decimal.NewFromString(entry.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: 无法解析价格 %q", ErrMalformedResponse, entry.Price)
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrPriceUnavailable
	}
	return price, nil
}

// GetQuote 请求兑换路由报价。
func (c *JupiterClient) GetQuote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*models.Quote, error) {
	params := url.Values{}
	params.Set("inputMint", inputMint)
	params.Set("outputMint", outputMint)
	params.Set("amount", strconv.FormatUint(amount, 10))
	params.Set("slippageBps", strconv.Itoa(slippageBps))

	fullURL := fmt.Sprintf("%s/quote?%s", c.swapBaseURL, params.Encode())
	body, err := c.doRequest(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, err
	}

	var quoteResp struct {
		InAmount  string `json:"inAmount"`
		OutAmount string `json:"outAmount"`
	}
	if err := json.Unmarshal(body, &quoteResp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	inAmount, err1 := strconv.ParseUint(quoteResp.InAmount, 10, 64)
	outAmount, err2 := strconv.ParseUint(quoteResp.OutAmount, 10, 64)
	if err1 != nil || err2 != nil || outAmount == 0 {
		return nil, fmt.Errorf("%w: inAmount=%q outAmount=%q", ErrMalformedResponse, quoteResp.InAmount, quoteResp.OutAmount)
	}

	return &models.Quote{
		InputMint:   inputMint,
		OutputMint:  outputMint,
		InAmount:    inAmount,
		OutAmount:   outAmount,
		SlippageBps: slippageBps,
		Route:       json.RawMessage(body),
	}, nil
}

// BuildSwapTransaction 把报价转换成待签名的 base64 交易。
func (c *JupiterClient) BuildSwapTransaction(ctx context.Context, quote *models.Quote, signerPubkey string) (string, error) {
	reqBody, err := json.Marshal(map[string]interface{}{
		"quoteResponse":    quote.Route,
		"userPublicKey":    signerPubkey,
		"wrapAndUnwrapSol": true,
	})
	if err != nil {
		return "", fmt.Errorf("编码swap请求失败: %w", err)
	}

	body, err := c.doRequest(ctx, http.MethodPost, c.swapBaseURL+"/swap", reqBody)
	if err != nil {
		return "", err
	}

	var swapResp struct {
		SwapTransaction string `json:"swapTransaction"`
	}
	if err := json.Unmarshal(body, &swapResp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if swapResp.SwapTransaction == "" {
		return "", fmt.Errorf("%w: 响应缺少 swapTransaction 字段", ErrMalformedResponse)
	}
	return swapResp.SwapTransaction, nil
}
