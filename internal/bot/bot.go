package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"solana-copy-bot/internal/aggregator"
	"solana-copy-bot/internal/api"
	"solana-copy-bot/internal/chain"
	"solana-copy-bot/internal/executor"
	"solana-copy-bot/internal/exitpolicy"
	"solana-copy-bot/internal/extractor"
	"solana-copy-bot/internal/ledger"
	"solana-copy-bot/internal/models"
	"solana-copy-bot/internal/persistence"
	"solana-copy-bot/internal/pricing"
	"solana-copy-bot/internal/reporter"
	"solana-copy-bot/internal/wallet"
	"solana-copy-bot/internal/watcher"

	"go.uber.org/zap"
)

const botID = "solana-copy-bot"

// CopyBot 是跟单引擎的组装与生命周期管理者。
// 它把 watcher 和退出评估器作为两个独立调度的任务跑在共享账本之上,
// 并通过异步持久化循环保证停机重启后状态可恢复。
type CopyBot struct {
	cfg    *models.Config
	ledger *ledger.Ledger
	repo   persistence.StateRepository

	watcher     *watcher.Watcher
	evaluator   *exitpolicy.Evaluator
	reporter    *reporter.Reporter
	logsWatcher *chain.LogsWatcher // WSEndpoint 未配置时为 nil
	apiServer   *api.Server        // APIListenAddr 未配置时为 nil

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	mutex     sync.Mutex
	logger    *zap.Logger
}

// NewCopyBot 组装全部组件。signer 是已经解析完成的签名凭证,
// 凭证的加载和格式识别不属于交易核心。
func NewCopyBot(cfg *models.Config, signer *wallet.Signer, repo persistence.StateRepository, logger *zap.Logger) (*CopyBot, error) {
	buyLamports, err := models.LamportsFromSOL(cfg.BuyAmountSOL)
	if err != nil {
		return nil, fmt.Errorf("买入数量配置无效: %w", err)
	}

	rpcClient := chain.NewRPCClient(cfg.RPCEndpoint, cfg.RetryAttempts, logger)
	agg := aggregator.NewJupiterClient(cfg.AggregatorBaseURL, cfg.PriceBaseURL, logger)
	exec := executor.NewExecutor(rpcClient, signer, cfg.RetryAttempts, cfg.DryRun, logger)
	extract := extractor.New(cfg.WatchedWallet, logger)
	ldg := ledger.NewLedger(cfg.SignatureHistoryLimit)
	solPrice := pricing.NewBinanceSource(logger)

	var logsWatcher *chain.LogsWatcher
	var nudge <-chan struct{}
	if cfg.WSEndpoint != "" {
		logsWatcher = chain.NewLogsWatcher(cfg.WSEndpoint, cfg.WatchedWallet, logger)
		nudge = logsWatcher.Notify()
	}

	b := &CopyBot{
		cfg:    cfg,
		ledger: ldg,
		repo:   repo,
		watcher: watcher.NewWatcher(cfg, rpcClient, agg, exec, extract, ldg,
			solPrice, signer.PublicKey(), buyLamports, nudge, logger),
		evaluator:   exitpolicy.NewEvaluator(cfg, agg, exec, ldg, signer.PublicKey(), logger),
		reporter:    reporter.NewReporter(ldg, solPrice, 30*time.Second, logger),
		logsWatcher: logsWatcher,
		logger:      logger,
	}
	if cfg.APIListenAddr != "" {
		b.apiServer = api.NewServer(cfg.APIListenAddr, ldg, logger)
	}
	return b, nil
}

// Start 恢复持久化状态并启动全部后台任务。
func (b *CopyBot) Start() error {
	b.mutex.Lock()
	if b.isRunning {
		b.mutex.Unlock()
		return fmt.Errorf("机器人已在运行")
	}
	b.isRunning = true
	b.mutex.Unlock()

	if err := b.restoreState(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	if b.logsWatcher != nil {
		go b.logsWatcher.Run()
	}
	if b.apiServer != nil {
		b.apiServer.Start()
	}

	b.wg.Add(4)
	go func() { defer b.wg.Done(); b.watcher.Run(ctx) }()
	go func() { defer b.wg.Done(); b.evaluator.Run(ctx) }()
	go func() { defer b.wg.Done(); b.reporter.Run(ctx) }()
	go func() { defer b.wg.Done(); b.persistenceLoop(ctx) }()

	b.logger.Info("跟单机器人已启动",
		zap.String("watched_wallet", b.cfg.WatchedWallet),
		zap.String("buy_amount_sol", b.cfg.BuyAmountSOL.String()),
		zap.Float64("profit_target_pct", b.cfg.ProfitTargetPct),
		zap.Float64("stop_loss_pct", b.cfg.StopLossPct),
		zap.Bool("dry_run", b.cfg.DryRun))
	return nil
}

// Stop 优雅停机: 取消所有循环, 等它们退出后保存最终状态。
// 进行中的网络调用会正常完成或超时, 而不是被硬生生丢弃。
func (b *CopyBot) Stop() {
	b.mutex.Lock()
	if !b.isRunning {
		b.mutex.Unlock()
		return
	}
	b.isRunning = false
	b.mutex.Unlock()

	b.cancel()
	if b.logsWatcher != nil {
		b.logsWatcher.Stop()
	}
	if b.apiServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		b.apiServer.Stop(shutdownCtx)
		cancel()
	}
	b.wg.Wait()

	if err := b.saveState(); err != nil {
		b.logger.Error("停机时保存状态失败", zap.Error(err))
	}
	b.logger.Info("跟单机器人已停止, 状态已保存")
}

// restoreState 从仓库加载上一次的状态。换了被跟单的钱包时旧状态作废。
func (b *CopyBot) restoreState() error {
	state, err := b.repo.LoadState()
	if err != nil {
		return fmt.Errorf("加载持久化状态失败: %w", err)
	}
	if state == nil {
		b.logger.Info("没有找到历史状态, 以全新状态启动")
		return nil
	}
	if state.WatchedWallet != "" && state.WatchedWallet != b.cfg.WatchedWallet {
		b.logger.Warn("持久化状态属于另一个源钱包, 丢弃旧状态",
			zap.String("old", state.WatchedWallet),
			zap.String("new", b.cfg.WatchedWallet))
		return nil
	}

	b.ledger.Restore(state)
	b.logger.Info("成功恢复历史状态",
		zap.Int("positions", len(state.Positions)),
		zap.Int("processed_signatures", len(state.ProcessedSignatures)))
	return nil
}

// persistenceLoop 异步保存账本快照: 账本有变更就保存, 平时定期兜底。
// 保存永远发生在快照之上, 不会在持有账本锁时做磁盘IO。
func (b *CopyBot) persistenceLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.ledger.Changed():
		case <-ticker.C:
		}
		if err := b.saveState(); err != nil {
			b.logger.Error("CRITICAL: 保存状态失败", zap.Error(err))
		}
	}
}

func (b *CopyBot) saveState() error {
	state := b.ledger.Snapshot()
	state.BotID = botID
	state.WatchedWallet = b.cfg.WatchedWallet
	return b.repo.SaveState(state)
}
