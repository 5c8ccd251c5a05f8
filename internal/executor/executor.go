package executor

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"solana-copy-bot/internal/chain"
	"solana-copy-bot/internal/wallet"

	"github.com/jxskiss/base62"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"
)

const signatureSize = 64

// Executor 负责把聚合器返回的未签名交易变成链上交易:
// 反序列化 -> 用持有的凭证签名 -> 通过RPC提交, 提交失败时做有界重试。
// 重试耗尽后把错误交还调用方, 由 watcher / 退出评估器决定放弃还是下周期再试。
type Executor struct {
	chainClient chain.Client
	signer      *wallet.Signer
	attempts    int
	dryRun      bool
	logger      *zap.Logger
}

// NewExecutor 创建一个交易执行器。
func NewExecutor(chainClient chain.Client, signer *wallet.Signer, attempts int, dryRun bool, logger *zap.Logger) *Executor {
	if attempts <= 0 {
		attempts = 3
	}
	return &Executor{
		chainClient: chainClient,
		signer:      signer,
		attempts:    attempts,
		dryRun:      dryRun,
		logger:      logger,
	}
}

// Execute 签名并提交一笔交易, 返回提交后的签名。
func (e *Executor) Execute(ctx context.Context, unsignedTxBase64 string) (string, error) {
	tradeID := newTradeID()

	signedTx, signature, err := e.signTransaction(unsignedTxBase64)
	if err != nil {
		return "", fmt.Errorf("签名交易失败: %w", err)
	}

	if e.dryRun {
		// 模拟模式: 签名是真实的, 只是不广播
		e.logger.Info("模拟模式: 跳过交易广播",
			zap.String("trade_id", tradeID), zap.String("signature", signature))
		return signature, nil
	}

	var lastErr error
	for attempt := 1; attempt <= e.attempts; attempt++ {
		submitted, err := e.chainClient.Submit(ctx, signedTx)
		if err == nil {
			e.logger.Info("交易提交成功",
				zap.String("trade_id", tradeID),
				zap.String("signature", submitted),
				zap.Int("attempt", attempt))
			return submitted, nil
		}
		lastErr = err
		e.logger.Warn("交易提交失败",
			zap.String("trade_id", tradeID),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", e.attempts),
			zap.Error(err))

		if attempt < e.attempts {
			select {
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", fmt.Errorf("交易提交重试 %d 次后仍然失败: %w", e.attempts, lastErr)
}

// signTransaction 解析聚合器返回的交易字节, 对消息体签名并填入付费者签名位。
// Solana 交易的线格式是: compact-u16 签名数量 + N个64字节签名 + 消息体,
// 聚合器以我们的公钥作为付费者构造交易, 因此签名位0属于我们。
func (e *Executor) signTransaction(unsignedTxBase64 string) (signedTxBase64, signatureBase58 string, err error) {
	raw, err := base64.StdEncoding.DecodeString(unsignedTxBase64)
	if err != nil {
		return "", "", fmt.Errorf("base64解码失败: %w", err)
	}

	numSigs, headerLen, err := decodeCompactU16(raw)
	if err != nil {
		return "", "", err
	}
	if numSigs < 1 {
		return "", "", fmt.Errorf("交易不需要签名, 无法作为付费者签署")
	}
	messageStart := headerLen + numSigs*signatureSize
	if messageStart >= len(raw) {
		return "", "", fmt.Errorf("交易字节过短: 声明 %d 个签名, 总长 %d", numSigs, len(raw))
	}

	signature := e.signer.Sign(raw[messageStart:])
	copy(raw[headerLen:headerLen+signatureSize], signature)

	return base64.StdEncoding.EncodeToString(raw), base58.Encode(signature), nil
}

// decodeCompactU16 解析 Solana 短向量长度前缀 (1-3字节的变长u16)。
func decodeCompactU16(data []byte) (value, bytesRead int, err error) {
	for i := 0; i < 3; i++ {
		if i >= len(data) {
			return 0, 0, fmt.Errorf("compact-u16 前缀不完整")
		}
		b := int(data[i])
		value |= (b & 0x7f) << (7 * i)
		if b&0x80 == 0 {
			return value, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("compact-u16 前缀超过3字节")
}

// newTradeID 生成一个短的客户端交易ID, 用于把多条日志关联到同一次执行。
func newTradeID() string {
	var buf [6]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "trade-unknown"
	}
	return base62.EncodeToString(buf[:])
}
