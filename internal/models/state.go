package models

import "time"

// BotState 定义了需要持久化的所有关键数据。
// 重启后恢复它可以保证既不丢失已打开的仓位, 也不会重复跟单已处理过的签名。
type BotState struct {
	BotID               string     `json:"bot_id"`               // Bot的唯一标识符
	WatchedWallet       string     `json:"watched_wallet"`       // 被跟单的源钱包
	Version             int        `json:"version"`              // 状态模型的版本号，用于未来迁移
	Positions           []Position `json:"positions"`            // 所有仍然持有的仓位
	ProcessedSignatures []string   `json:"processed_signatures"` // 已处理签名, 按处理顺序从旧到新
	ProcessedCount      uint64     `json:"processed_count"`      // 累计处理的签名总数 (含已被淘汰的)
	ExecutedTrades      uint64     `json:"executed_trades"`      // 累计成功提交的跟单/退出交易数
	LastUpdateTime      time.Time  `json:"last_update_time"`     // 状态最后更新的时间戳
}

// StateVersion is bumped whenever the persisted layout changes.
const StateVersion = 1
