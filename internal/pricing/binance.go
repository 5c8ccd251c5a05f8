package pricing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const solSymbol = "SOLUSDT"

// BinanceSource 通过币安现货行情提供 SOL 的美元参考价。
// 聚合器的价格接口只覆盖它收录的代币, SOL/USD 这种基准价用交易所行情更稳;
// 结果做短时缓存, 行情接口临时故障时退回上一次的价格。
type BinanceSource struct {
	client *binance.Client
	logger *zap.Logger

	mu        sync.Mutex
	cached    decimal.Decimal
	fetchedAt time.Time
	ttl       time.Duration
}

// NewBinanceSource 创建 SOL 参考价源。公共行情接口不需要API Key。
func NewBinanceSource(logger *zap.Logger) *BinanceSource {
	return &BinanceSource{
		client: binance.NewClient("", ""),
		logger: logger,
		ttl:    30 * time.Second,
	}
}

// SolUSD 返回 SOL 的美元价格。
func (s *BinanceSource) SolUSD(ctx context.Context) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cached.IsZero() && time.Since(s.fetchedAt) < s.ttl {
		return s.cached, nil
	}

	prices, err := s.client.NewListPricesService().Symbol(solSymbol).Do(ctx)
	if err != nil || len(prices) == 0 {
		if !s.cached.IsZero() {
			// 行情临时不可用, 退回旧价
			s.logger.Warn("SOL参考价刷新失败, 使用缓存价格", zap.Error(err))
			return s.cached, nil
		}
		return decimal.Zero, fmt.Errorf("获取SOL参考价失败: %w", err)
	}

	price, err := decimal.NewFromString(prices[0].Price)
	if err != nil || price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("无法解析SOL参考价 %q", prices[0].Price)
	}

	s.cached = price
	s.fetchedAt = time.Now()
	return price, nil
}
