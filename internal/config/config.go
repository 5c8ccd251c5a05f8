package config

import (
	"encoding/json"
	"fmt"
	"os"

	"solana-copy-bot/internal/models"

	"github.com/shopspring/decimal"
)

// LoadConfig 从指定路径加载JSON配置文件并解析到Config结构体中。
// 敏感信息 (源钱包地址、RPC地址) 允许通过环境变量覆盖文件中的值。
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	config := &models.Config{}
	err = decoder.Decode(config)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(config)
	applyDefaults(config)

	if err := validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides 用环境变量覆盖配置文件中的敏感字段
func applyEnvOverrides(cfg *models.Config) {
	if v := os.Getenv("RPC_ENDPOINT"); v != "" {
		cfg.RPCEndpoint = v
	}
	if v := os.Getenv("RPC_WS_ENDPOINT"); v != "" {
		cfg.WSEndpoint = v
	}
	if v := os.Getenv("WATCHED_WALLET"); v != "" {
		cfg.WatchedWallet = v
	}
}

// applyDefaults 为未填写的字段补上参考默认值
func applyDefaults(cfg *models.Config) {
	if cfg.AggregatorBaseURL == "" {
		cfg.AggregatorBaseURL = "https://lite-api.jup.ag/swap/v1"
	}
	if cfg.PriceBaseURL == "" {
		cfg.PriceBaseURL = "https://lite-api.jup.ag/price/v2"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "data/copybot"
	}
	if cfg.ProfitTargetPct == 0 {
		cfg.ProfitTargetPct = 100
	}
	if cfg.StopLossPct == 0 {
		cfg.StopLossPct = -50
	}
	if cfg.SlippageBps == 0 {
		cfg.SlippageBps = 300
	}
	if cfg.PollIntervalSec == 0 {
		cfg.PollIntervalSec = 5
	}
	if cfg.ExitCheckIntervalSec == 0 {
		cfg.ExitCheckIntervalSec = 10
	}
	if cfg.SignatureFetchLimit == 0 {
		cfg.SignatureFetchLimit = 5
	}
	if cfg.SignatureHistoryLimit == 0 {
		cfg.SignatureHistoryLimit = 10000
	}
	if cfg.DustThreshold == 0 {
		cfg.DustThreshold = 1000
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 3
	}
}

// validate 检查缺了就无法开始工作的配置项
func validate(cfg *models.Config) error {
	if cfg.RPCEndpoint == "" {
		return fmt.Errorf("配置缺少 rpc_endpoint (或环境变量 RPC_ENDPOINT)")
	}
	if cfg.WatchedWallet == "" {
		return fmt.Errorf("配置缺少 watched_wallet (或环境变量 WATCHED_WALLET)")
	}
	if cfg.BuyAmountSOL.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("buy_amount_sol 必须大于 0, 当前值: %s", cfg.BuyAmountSOL)
	}
	if cfg.StopLossPct >= cfg.ProfitTargetPct {
		return fmt.Errorf("stop_loss_pct (%.2f) 必须小于 profit_target_pct (%.2f)", cfg.StopLossPct, cfg.ProfitTargetPct)
	}
	return nil
}
