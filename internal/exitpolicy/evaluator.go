package exitpolicy

import (
	"context"
	"errors"
	"time"

	"solana-copy-bot/internal/aggregator"
	"solana-copy-bot/internal/ledger"
	"solana-copy-bot/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Exit reasons, reported on every triggered exit for audit.
const (
	ReasonTakeProfit = "TAKE_PROFIT"
	ReasonStopLoss   = "STOP_LOSS"
	ReasonDust       = "DUST_CLOSE"
)

// TradeExecutor is the evaluator's minimal dependency on the executor.
type TradeExecutor interface {
	Execute(ctx context.Context, unsignedTxBase64 string) (string, error)
}

// Evaluator walks all open positions on a fixed cadence, recomputes
// unrealized P&L against the original entry price and triggers exits:
// a stop-loss sells the whole remainder, a take-profit sells exactly half.
// Unlike the copy path, a failed exit is retried on the next cycle:
// leaving a stop-loss unenforced is the costlier failure mode.
type Evaluator struct {
	cfg          *models.Config
	agg          aggregator.Client
	exec         TradeExecutor
	ledger       *ledger.Ledger
	signerPubkey string
	logger       *zap.Logger

	profitTarget decimal.Decimal
	stopLoss     decimal.Decimal
}

// NewEvaluator creates the exit-policy evaluator.
func NewEvaluator(cfg *models.Config, agg aggregator.Client, exec TradeExecutor, ldg *ledger.Ledger, signerPubkey string, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		cfg:          cfg,
		agg:          agg,
		exec:         exec,
		ledger:       ldg,
		signerPubkey: signerPubkey,
		logger:       logger,
		profitTarget: decimal.NewFromFloat(cfg.ProfitTargetPct),
		stopLoss:     decimal.NewFromFloat(cfg.StopLossPct),
	}
}

// Run drives periodic evaluation until the context is cancelled.
func (ev *Evaluator) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(ev.cfg.ExitCheckIntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ev.logger.Info("exit evaluator stopped")
			return
		case <-ticker.C:
			ev.EvaluateOnce(ctx)
		}
	}
}

// EvaluateOnce checks every open position exactly once. Each position is
// handled in isolation: one failed price lookup or swap never blocks the
// evaluation of the others in the same cycle.
func (ev *Evaluator) EvaluateOnce(ctx context.Context) {
	for _, pos := range ev.ledger.Positions() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		ev.evaluatePosition(ctx, pos)
	}
}

func (ev *Evaluator) evaluatePosition(ctx context.Context, pos models.Position) {
	price, err := ev.agg.GetPrice(ctx, pos.Mint)
	if err != nil {
		if errors.Is(err, aggregator.ErrPriceUnavailable) {
			// illiquid or unindexed right now; leave the position untouched
			ev.logger.Debug("price unavailable, skipping evaluation",
				zap.String("mint", pos.Mint))
		} else {
			ev.logger.Warn("price lookup failed",
				zap.String("mint", pos.Mint), zap.Error(err))
		}
		return
	}
	ev.ledger.UpdateLastPrice(pos.Mint, price)

	if pos.EntryPrice.LessThanOrEqual(decimal.Zero) {
		ev.logger.Warn("position has no entry price, cannot evaluate",
			zap.String("mint", pos.Mint))
		return
	}

	pnlPct := price.Sub(pos.EntryPrice).Div(pos.EntryPrice).Mul(decimal.NewFromInt(100))

	// Stop-loss is checked first: when both thresholds somehow hold at once,
	// protecting capital wins.
	switch {
	case pnlPct.LessThanOrEqual(ev.stopLoss):
		ev.logger.Info("stop-loss triggered",
			zap.String("mint", pos.Mint),
			zap.String("pnl_pct", pnlPct.StringFixed(2)),
			zap.String("entry", pos.EntryPrice.String()),
			zap.String("current", price.String()))
		ev.sell(ctx, pos, pos.Quantity, ReasonStopLoss)

	case pnlPct.GreaterThanOrEqual(ev.profitTarget):
		half := pos.Quantity / 2 // integer half
		if half == 0 {
			ev.ledger.Close(pos.Mint)
			ev.logger.Info("position below sellable size, closed",
				zap.String("mint", pos.Mint), zap.String("reason", ReasonDust))
			return
		}
		ev.logger.Info("take-profit triggered",
			zap.String("mint", pos.Mint),
			zap.String("pnl_pct", pnlPct.StringFixed(2)),
			zap.Uint64("sell_quantity", half))
		ev.sell(ctx, pos, half, ReasonTakeProfit)
	}
}

// sell runs one quote+execute round-trip back to the base currency and
// commits the result to the ledger. On failure the position is left exactly
// as it was; the condition re-triggers on the next cycle.
func (ev *Evaluator) sell(ctx context.Context, pos models.Position, quantity uint64, reason string) {
	quote, err := ev.agg.GetQuote(ctx, pos.Mint, models.WrappedSOLMint, quantity, ev.cfg.SlippageBps)
	if err != nil {
		ev.logger.Warn("exit quote failed, will retry next cycle",
			zap.String("mint", pos.Mint), zap.String("reason", reason), zap.Error(err))
		return
	}

	unsignedTx, err := ev.agg.BuildSwapTransaction(ctx, quote, ev.signerPubkey)
	if err != nil {
		ev.logger.Warn("exit swap construction failed, will retry next cycle",
			zap.String("mint", pos.Mint), zap.String("reason", reason), zap.Error(err))
		return
	}

	signature, err := ev.exec.Execute(ctx, unsignedTx)
	if err != nil {
		ev.logger.Error("exit execution failed, will retry next cycle",
			zap.String("mint", pos.Mint), zap.String("reason", reason), zap.Error(err))
		return
	}
	ev.ledger.RecordTrade()

	if reason == ReasonStopLoss {
		ev.ledger.Close(pos.Mint)
		ev.logger.Info("position closed",
			zap.String("mint", pos.Mint),
			zap.String("reason", reason),
			zap.String("signature", signature))
		return
	}

	remaining, err := ev.ledger.Reduce(pos.Mint, quantity)
	if err != nil {
		ev.logger.Error("ledger update after exit failed",
			zap.String("mint", pos.Mint), zap.Error(err))
		return
	}
	ev.logger.Info("partial exit executed",
		zap.String("mint", pos.Mint),
		zap.String("reason", reason),
		zap.Uint64("sold", quantity),
		zap.Uint64("remaining", remaining),
		zap.String("signature", signature))

	if remaining > 0 && remaining < ev.cfg.DustThreshold {
		ev.ledger.Close(pos.Mint)
		ev.logger.Info("remainder below dust threshold, position closed",
			zap.String("mint", pos.Mint),
			zap.Uint64("remaining", remaining),
			zap.String("reason", ReasonDust))
	}
}
