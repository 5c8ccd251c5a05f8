package reporter

import (
	"context"
	"os"
	"time"

	"solana-copy-bot/internal/ledger"
	"solana-copy-bot/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SolPriceSource 提供 SOL 的美元参考价, 仅用于状态展示。
type SolPriceSource interface {
	SolUSD(ctx context.Context) (decimal.Decimal, error)
}

// Reporter 定期把当前持仓和累计计数打印成一张状态表。
// 它只消费账本的快照, 不驱动任何交易逻辑。
type Reporter struct {
	ledger   *ledger.Ledger
	solPrice SolPriceSource // 可以为 nil
	interval time.Duration
	logger   *zap.Logger
}

// NewReporter 创建状态报告器。
func NewReporter(ldg *ledger.Ledger, solPrice SolPriceSource, interval time.Duration, logger *zap.Logger) *Reporter {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reporter{ledger: ldg, solPrice: solPrice, interval: interval, logger: logger}
}

// Run 定期打印状态, 直到 context 被取消。
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.PrintStatus(ctx)
		}
	}
}

// PrintStatus 输出一次完整的状态表。
func (r *Reporter) PrintStatus(ctx context.Context) {
	positions := r.ledger.Positions()
	processed, executed := r.ledger.Counters()

	solUSD := decimal.Zero
	if r.solPrice != nil {
		if p, err := r.solPrice.SolUSD(ctx); err == nil {
			solUSD = p
		}
	}

	r.logger.Info("状态报告",
		zap.Int("open_positions", len(positions)),
		zap.Uint64("processed_signatures", processed),
		zap.Uint64("executed_trades", executed),
		zap.String("sol_usd", solUSD.String()))

	if len(positions) == 0 {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"MINT", "数量", "入场价", "最新价", "盈亏%", "投入SOL", "开仓时间"})

	for _, pos := range positions {
		t.AppendRow(table.Row{
			shortMint(pos.Mint),
			decimal.New(int64(pos.Quantity), -int32(pos.Decimals)).String(),
			pos.EntryPrice.StringFixed(8),
			pos.LastPrice.StringFixed(8),
			pnlPct(pos),
			decimal.New(int64(pos.BaseSpentLamports), -9).String(),
			pos.OpenedAt.Format("2006-01-02 15:04:05"),
		})
	}
	t.Render()
}

// pnlPct 只在入场价和最新价都可用时计算, 否则显示占位符。
func pnlPct(pos models.Position) string {
	if pos.EntryPrice.LessThanOrEqual(decimal.Zero) || pos.LastPrice.LessThanOrEqual(decimal.Zero) {
		return "-"
	}
	return pos.LastPrice.Sub(pos.EntryPrice).
		Div(pos.EntryPrice).
		Mul(decimal.NewFromInt(100)).
		StringFixed(2)
}

// shortMint 截断mint地址方便在表格中阅读。
func shortMint(mint string) string {
	if len(mint) <= 12 {
		return mint
	}
	return mint[:6] + ".." + mint[len(mint)-4:]
}
