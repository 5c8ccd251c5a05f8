package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"solana-copy-bot/internal/bot"
	"solana-copy-bot/internal/config"
	"solana-copy-bot/internal/logger"
	"solana-copy-bot/internal/models"
	"solana-copy-bot/internal/persistence"
	"solana-copy-bot/internal/wallet"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.json", "配置文件路径")
	flag.Parse()

	// .env 不存在不算错误, 生产环境通常直接注入环境变量
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		// 此时日志系统还没按配置初始化, 先用默认配置把错误打出来
		logger.InitLogger(defaultLogConfig())
		logger.S().Fatalf("加载配置文件 '%s' 失败: %v", *configPath, err)
	}

	logger.InitLogger(cfg.LogConfig)
	defer logger.Sync()

	privateKey := os.Getenv("PRIVATE_KEY")
	if privateKey == "" {
		logger.S().Fatal("环境变量 PRIVATE_KEY 未设置, 无法签名交易")
	}
	signer, err := wallet.ResolveSigner(privateKey)
	if err != nil {
		logger.S().Fatalf("解析签名私钥失败: %v", err)
	}
	logger.S().Infof("签名钱包: %s", signer.PublicKey())

	repo, err := persistence.NewBadgerRepository(cfg.DBPath)
	if err != nil {
		logger.S().Fatalf("打开状态数据库 '%s' 失败: %v", cfg.DBPath, err)
	}
	defer repo.Close()

	copyBot, err := bot.NewCopyBot(cfg, signer, repo, logger.L())
	if err != nil {
		logger.S().Fatalf("初始化跟单机器人失败: %v", err)
	}
	if err := copyBot.Start(); err != nil {
		logger.S().Fatalf("启动跟单机器人失败: %v", err)
	}

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.L().Info("收到退出信号, 开始优雅停机", zap.String("signal", sig.String()))

	copyBot.Stop()
}

func defaultLogConfig() models.LogConfig {
	return models.LogConfig{Level: "info", Output: "console"}
}
