package watcher

import (
	"context"
	"errors"
	"time"

	"solana-copy-bot/internal/aggregator"
	"solana-copy-bot/internal/chain"
	"solana-copy-bot/internal/ledger"
	"solana-copy-bot/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// feeReserveLamports 是跟单买入前余额检查要求保留的手续费余量。
const feeReserveLamports = 5_000_000

// TradeExecutor 是 watcher 对执行器的最小依赖, 便于在测试中替换。
type TradeExecutor interface {
	Execute(ctx context.Context, unsignedTxBase64 string) (string, error)
}

// IntentExtractor 把一笔交易详情翻译成零个或多个买入意图。
type IntentExtractor interface {
	Extract(detail *models.TransactionDetail, signature string) []models.TradeIntent
}

// SolPriceSource 提供 SOL 的美元参考价, 用于在聚合器缺价时推算入场价。
type SolPriceSource interface {
	SolUSD(ctx context.Context) (decimal.Decimal, error)
}

// Watcher 轮询源钱包的签名历史, 把其中的新买入复制成自己的交易。
// 每条签名最多触发一次执行尝试: 签名在尝试前就被标记为已处理,
// 跟单失败只记录日志, 不会自动重试。
type Watcher struct {
	cfg          *models.Config
	chainClient  chain.Client
	agg          aggregator.Client
	exec         TradeExecutor
	extract      IntentExtractor
	ledger       *ledger.Ledger
	solPrice     SolPriceSource // 可以为 nil
	signerPubkey string
	buyLamports  uint64
	nudge        <-chan struct{} // WebSocket 日志订阅的"叫醒"通道, 可以为 nil
	logger       *zap.Logger
}

// NewWatcher 创建跟单轮询器。buyLamports 必须是配置买入量的精确换算结果。
func NewWatcher(
	cfg *models.Config,
	chainClient chain.Client,
	agg aggregator.Client,
	exec TradeExecutor,
	extract IntentExtractor,
	ldg *ledger.Ledger,
	solPrice SolPriceSource,
	signerPubkey string,
	buyLamports uint64,
	nudge <-chan struct{},
	logger *zap.Logger,
) *Watcher {
	return &Watcher{
		cfg:          cfg,
		chainClient:  chainClient,
		agg:          agg,
		exec:         exec,
		extract:      extract,
		ledger:       ldg,
		solPrice:     solPrice,
		signerPubkey: signerPubkey,
		buyLamports:  buyLamports,
		nudge:        nudge,
		logger:       logger,
	}
}

// Run 是轮询主循环: 固定间隔轮询, WebSocket 通知可以提前触发一轮。
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(w.cfg.PollIntervalSec) * time.Second)
	defer ticker.Stop()

	w.PollOnce(ctx) // 启动时立即拉一次, 不等第一个tick

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("跟单轮询循环已停止")
			return
		case <-ticker.C:
			w.PollOnce(ctx)
		case <-w.nudge:
			w.PollOnce(ctx)
		}
	}
}

// PollOnce 拉取最近的签名并处理所有未见过的条目。
// 节点返回从新到旧, 这里按从旧到新处理, 保证跟单顺序与源钱包的交易顺序一致。
func (w *Watcher) PollOnce(ctx context.Context) {
	sigs, err := w.chainClient.GetSignatures(ctx, w.cfg.WatchedWallet, w.cfg.SignatureFetchLimit)
	if err != nil {
		w.logger.Warn("拉取签名历史失败", zap.Error(err))
		return
	}

	for i := len(sigs) - 1; i >= 0; i-- {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.processSignature(ctx, sigs[i])
	}
}

// processSignature 处理单条签名。签名在执行尝试之前就被标记为已处理,
// 这保证了每条签名至多一次执行尝试, 即使本次尝试中途失败。
func (w *Watcher) processSignature(ctx context.Context, info models.SignatureInfo) {
	if !w.ledger.MarkProcessed(info.Signature) {
		return // 已处理过
	}

	if info.Err != nil {
		return // 源交易在链上失败, 没有可复制的内容
	}

	detail, err := w.chainClient.GetTransaction(ctx, info.Signature)
	if err != nil {
		if errors.Is(err, chain.ErrNotFound) {
			w.logger.Debug("交易详情不存在", zap.String("signature", info.Signature))
		} else {
			w.logger.Warn("拉取交易详情失败",
				zap.String("signature", info.Signature), zap.Error(err))
		}
		return
	}

	intents := w.extract.Extract(detail, info.Signature)
	if len(intents) == 0 {
		return
	}

	for _, intent := range intents {
		if !intent.IsBuy || intent.OutputMint == models.WrappedSOLMint {
			continue
		}
		if w.ledger.HasPosition(intent.OutputMint) {
			w.logger.Info("已持有该代币仓位, 跳过重复跟单",
				zap.String("mint", intent.OutputMint),
				zap.String("signature", info.Signature))
			continue
		}
		w.logger.Info("检测到源钱包买入",
			zap.String("mint", intent.OutputMint),
			zap.Uint64("source_lamports", intent.InputLamports),
			zap.String("signature", info.Signature))
		w.copyBuy(ctx, intent)
	}
}

// copyBuy 用固定配置的 SOL 数量复制一笔买入。
func (w *Watcher) copyBuy(ctx context.Context, intent models.TradeIntent) {
	// 买入前余额检查: 余额不足是跳过, 不是崩溃
	balance, err := w.chainClient.GetBalance(ctx, w.signerPubkey)
	if err != nil {
		w.logger.Warn("查询余额失败, 跳过本次跟单", zap.Error(err))
		return
	}
	if balance < w.buyLamports+feeReserveLamports {
		w.logger.Warn("余额不足, 跳过本次跟单",
			zap.Uint64("balance", balance),
			zap.Uint64("required", w.buyLamports+feeReserveLamports))
		return
	}

	quote, err := w.agg.GetQuote(ctx, models.WrappedSOLMint, intent.OutputMint, w.buyLamports, w.cfg.SlippageBps)
	if err != nil {
		w.logger.Warn("获取买入报价失败",
			zap.String("mint", intent.OutputMint), zap.Error(err))
		return
	}

	unsignedTx, err := w.agg.BuildSwapTransaction(ctx, quote, w.signerPubkey)
	if err != nil {
		w.logger.Warn("构造swap交易失败",
			zap.String("mint", intent.OutputMint), zap.Error(err))
		return
	}

	submitted, err := w.exec.Execute(ctx, unsignedTx)
	if err != nil {
		// 跟单失败只记录, 不重试; 下一条源交易不受影响
		w.logger.Error("跟单买入执行失败",
			zap.String("mint", intent.OutputMint),
			zap.String("source_signature", intent.Signature),
			zap.Error(err))
		return
	}

	entryPrice := w.resolveEntryPrice(ctx, intent, quote)

	pos := models.Position{
		Mint:              intent.OutputMint,
		Quantity:          quote.OutAmount,
		Decimals:          intent.OutDecimals,
		EntryPrice:        entryPrice,
		BaseSpentLamports: quote.InAmount,
		OpenedAt:          time.Now(),
		SourceSignature:   intent.Signature,
	}
	if err := w.ledger.OpenPosition(pos); err != nil {
		w.logger.Error("记录仓位失败", zap.String("mint", intent.OutputMint), zap.Error(err))
		return
	}
	w.ledger.RecordTrade()

	w.logger.Info("跟单买入成功",
		zap.String("mint", intent.OutputMint),
		zap.Uint64("quantity", quote.OutAmount),
		zap.String("entry_price", entryPrice.String()),
		zap.String("signature", submitted))
}

// resolveEntryPrice 在开仓时刻确定入场美元单价。优先用聚合器价格;
// 聚合器没有收录该代币时, 用成交比例和 SOL 美元价推算。
// 两者都不可用时记为零, 退出评估器会跳过零入场价的仓位。
func (w *Watcher) resolveEntryPrice(ctx context.Context, intent models.TradeIntent, quote *models.Quote) decimal.Decimal {
	price, err := w.agg.GetPrice(ctx, intent.OutputMint)
	if err == nil {
		return price
	}
	w.logger.Warn("开仓时聚合器无价格, 尝试推算",
		zap.String("mint", intent.OutputMint), zap.Error(err))

	if w.solPrice == nil {
		return decimal.Zero
	}
	solUSD, err := w.solPrice.SolUSD(ctx)
	if err != nil {
		w.logger.Warn("SOL参考价不可用, 入场价记为零", zap.Error(err))
		return decimal.Zero
	}

	// 入场价 = 投入的美元价值 / 买到的代币数量
	spentUSD := decimal.New(int64(quote.InAmount), -9).Mul(solUSD)
	tokens := decimal.New(int64(quote.OutAmount), -int32(intent.OutDecimals))
	if tokens.IsZero() {
		return decimal.Zero
	}
	return spentUSD.Div(tokens)
}
