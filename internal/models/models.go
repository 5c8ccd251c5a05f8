package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// WrappedSOLMint 是 SOL 的 SPL 封装代币地址，聚合器用它来表示基础货币。
const WrappedSOLMint = "So11111111111111111111111111111111111111112"

// LamportsPerSOL 定义了 SOL 与 lamport 之间的换算关系。
const LamportsPerSOL = 1_000_000_000

// Config 结构体定义了机器人的所有配置参数
type Config struct {
	RPCEndpoint       string `json:"rpc_endpoint"`        // Solana RPC 节点地址
	WSEndpoint        string `json:"ws_endpoint"`         // RPC WebSocket 地址 (留空则禁用日志订阅)
	AggregatorBaseURL string `json:"aggregator_base_url"` // 聚合器 swap API 基础地址
	PriceBaseURL      string `json:"price_base_url"`      // 聚合器价格 API 基础地址
	DBPath            string `json:"db_path"`             // 数据库文件路径
	APIListenAddr     string `json:"api_listen_addr"`     // 状态查询 HTTP 服务监听地址 (留空则禁用)

	WatchedWallet string `json:"watched_wallet"` // 被跟单的源钱包地址 (可被环境变量 WATCHED_WALLET 覆盖)

	BuyAmountSOL          decimal.Decimal `json:"buy_amount_sol"`          // 每次跟单买入的 SOL 数量
	ProfitTargetPct       float64         `json:"profit_target_pct"`       // 止盈阈值 (百分比, 默认 100)
	StopLossPct           float64         `json:"stop_loss_pct"`           // 止损阈值 (百分比, 默认 -50)
	SlippageBps           int             `json:"slippage_bps"`            // 滑点容忍度 (基点)
	PollIntervalSec       int             `json:"poll_interval_sec"`       // 签名轮询间隔 (秒)
	ExitCheckIntervalSec  int             `json:"exit_check_interval_sec"` // 持仓盈亏检查间隔 (秒)
	SignatureFetchLimit   int             `json:"signature_fetch_limit"`   // 每次轮询拉取的签名数量
	SignatureHistoryLimit int             `json:"signature_history_limit"` // 已处理签名集合的保留上限
	DustThreshold         uint64          `json:"dust_threshold"`          // 低于该数量的残余仓位将被直接关闭
	RetryAttempts         int             `json:"retry_attempts"`          // 交易提交失败时的重试次数
	DryRun                bool            `json:"dry_run"`                 // 模拟模式: 签名但不广播交易

	LogConfig LogConfig `json:"log"` // 日志配置
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}

// Position 代表一个仍然持有的跟单仓位。
// EntryPrice 在开仓时一次性确定，部分止盈后也不会被修正，
// 盈亏始终以原始入场价为基准计算。
type Position struct {
	Mint              string          `json:"mint"`                 // 持有代币的 mint 地址
	Quantity          uint64          `json:"quantity"`             // 剩余持有数量 (代币最小单位)
	Decimals          int             `json:"decimals"`             // 代币精度, 仅用于展示
	EntryPrice        decimal.Decimal `json:"entry_price"`          // 开仓时的美元单价
	BaseSpentLamports uint64          `json:"base_spent_lamports"`  // 投入该仓位的 lamports
	OpenedAt          time.Time       `json:"opened_at"`            // 开仓时间
	LastPrice         decimal.Decimal `json:"last_price,omitempty"` // 最近一次观察到的美元单价, 仅用于展示
	SourceSignature   string          `json:"source_signature"`     // 触发跟单的源钱包交易签名
}

// TradeIntent is the result of extracting swap meaning from a source-wallet
// transaction: the watched wallet spent base currency and acquired a token.
type TradeIntent struct {
	IsBuy         bool
	InputMint     string
	OutputMint    string
	InputLamports uint64 // base currency spent by the source wallet
	OutDecimals   int    // decimals of the acquired token
	Signature     string // source transaction that produced this intent
}

// Quote is an aggregator route quote. It is consumed immediately by the
// executor and must never be cached: the amounts go stale within seconds.
type Quote struct {
	InputMint   string
	OutputMint  string
	InAmount    uint64
	OutAmount   uint64
	SlippageBps int
	Route       json.RawMessage // raw quote body, passed back verbatim to the swap endpoint
}

// SignatureInfo 是 getSignaturesForAddress 返回的单条签名记录
type SignatureInfo struct {
	Signature string      `json:"signature"`
	Slot      uint64      `json:"slot"`
	Err       interface{} `json:"err"`
	BlockTime *int64      `json:"blockTime"`
}

// TransactionDetail 是 getTransaction (jsonParsed) 返回的交易详情
type TransactionDetail struct {
	Slot        uint64           `json:"slot"`
	BlockTime   *int64           `json:"blockTime"`
	Meta        *TransactionMeta `json:"meta"`
	Transaction struct {
		Message struct {
			AccountKeys []AccountKey `json:"accountKeys"`
		} `json:"message"`
	} `json:"transaction"`
}

// AccountKey 是交易消息中引用的一个账户
type AccountKey struct {
	Pubkey   string `json:"pubkey"`
	Signer   bool   `json:"signer"`
	Writable bool   `json:"writable"`
}

// TransactionMeta 包含交易前后的余额快照, 是买入识别的数据来源
type TransactionMeta struct {
	Err               interface{}    `json:"err"`
	Fee               uint64         `json:"fee"`
	PreBalances       []uint64       `json:"preBalances"`
	PostBalances      []uint64       `json:"postBalances"`
	PreTokenBalances  []TokenBalance `json:"preTokenBalances"`
	PostTokenBalances []TokenBalance `json:"postTokenBalances"`
}

// TokenBalance 是交易前后某个代币账户的余额快照
type TokenBalance struct {
	AccountIndex  int           `json:"accountIndex"`
	Mint          string        `json:"mint"`
	Owner         string        `json:"owner"`
	UITokenAmount UITokenAmount `json:"uiTokenAmount"`
}

// UITokenAmount holds a raw integer token amount plus its decimals.
type UITokenAmount struct {
	Amount   string `json:"amount"`
	Decimals int    `json:"decimals"`
}

// LamportsFromSOL 把以 SOL 计的数量精确换算为 lamports。
// 换算必须无舍入: 配置里写 0.03 就必须得到恰好 30000000。
func LamportsFromSOL(sol decimal.Decimal) (uint64, error) {
	shifted := sol.Shift(9)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("SOL数量 %s 的精度超过了lamport, 无法精确换算", sol)
	}
	if shifted.Sign() < 0 {
		return 0, fmt.Errorf("SOL数量不能为负: %s", sol)
	}
	return uint64(shifted.IntPart()), nil
}

// RPCError 定义了 Solana JSON-RPC 返回的错误信息结构
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error 方法使得 RPCError 实现了 error 接口
func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC Error: code=%d, msg=%s", e.Code, e.Message)
}
