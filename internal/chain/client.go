package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"solana-copy-bot/internal/models"

	"go.uber.org/zap"
)

// ErrNotFound 表示查询的对象在链上不存在 (对该次查询是终态, 不应重试)。
var ErrNotFound = errors.New("not found on chain")

// Client 定义了交易核心需要的全部链上RPC操作。
// 用接口隔离使得 watcher 和 executor 可以在测试中替换掉真实节点。
type Client interface {
	// GetSignatures 返回地址最近的交易签名, 从新到旧排列。
	GetSignatures(ctx context.Context, address string, limit int) ([]models.SignatureInfo, error)
	// GetTransaction 以 jsonParsed 编码拉取交易详情, 不存在时返回 ErrNotFound。
	GetTransaction(ctx context.Context, signature string) (*models.TransactionDetail, error)
	// GetBalance 返回地址的 lamport 余额。
	GetBalance(ctx context.Context, address string) (uint64, error)
	// Submit 广播一笔已签名的交易 (base64), 返回签名。
	// 成功仅代表节点接受了广播, 不代表链上已确认。
	Submit(ctx context.Context, signedTxBase64 string) (string, error)
}

// RPCClient 通过 HTTP JSON-RPC 与 Solana 节点交互。
type RPCClient struct {
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
	requestID  atomic.Int64
	maxRetries int // sendTransaction 的节点侧重发次数
}

// NewRPCClient 创建一个新的 RPCClient 实例。
func NewRPCClient(endpoint string, maxRetries int, logger *zap.Logger) *RPCClient {
	return &RPCClient{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		maxRetries: maxRetries,
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage  `json:"result"`
	Error  *models.RPCError `json:"error"`
}

// call 是通用的请求处理函数, 负责编码、发送和解码一次JSON-RPC调用。
func (c *RPCClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("编码RPC请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("创建RPC请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// 传输层错误视为瞬态, 由调用方决定是否在下个周期重试
		return fmt.Errorf("RPC网络请求失败 (%s): %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取RPC响应失败 (%s): %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("RPC请求失败 (%s), 状态码: %d, 响应: %s", method, resp.StatusCode, string(body))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("解析RPC响应失败 (%s): %w", method, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}

	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("解析RPC结果失败 (%s): %w", method, err)
		}
	}
	return nil
}

// GetSignatures 获取地址最近的交易签名历史。
func (c *RPCClient) GetSignatures(ctx context.Context, address string, limit int) ([]models.SignatureInfo, error) {
	var sigs []models.SignatureInfo
	params := []interface{}{
		address,
		map[string]interface{}{"limit": limit, "commitment": "confirmed"},
	}
	if err := c.call(ctx, "getSignaturesForAddress", params, &sigs); err != nil {
		return nil, err
	}
	return sigs, nil
}

// GetTransaction 获取交易详情, 使用 jsonParsed 编码以便直接读取余额快照。
func (c *RPCClient) GetTransaction(ctx context.Context, signature string) (*models.TransactionDetail, error) {
	var raw json.RawMessage
	params := []interface{}{
		signature,
		map[string]interface{}{
			"encoding":                       "jsonParsed",
			"commitment":                     "confirmed",
			"maxSupportedTransactionVersion": 0,
		},
	}
	if err := c.call(ctx, "getTransaction", params, &raw); err != nil {
		return nil, err
	}
	// 节点对不存在的签名返回 null 而不是错误
	if len(raw) == 0 || string(raw) == "null" {
		return nil, ErrNotFound
	}

	var detail models.TransactionDetail
	if err := json.Unmarshal(raw, &detail); err != nil {
		return nil, fmt.Errorf("解析交易详情失败: %w", err)
	}
	return &detail, nil
}

// GetBalance 获取地址的 lamport 余额。
func (c *RPCClient) GetBalance(ctx context.Context, address string) (uint64, error) {
	var result struct {
		Value uint64 `json:"value"`
	}
	params := []interface{}{
		address,
		map[string]interface{}{"commitment": "confirmed"},
	}
	if err := c.call(ctx, "getBalance", params, &result); err != nil {
		return 0, err
	}
	return result.Value, nil
}

// Submit 广播已签名的交易。跳过预检以降低延迟, 代价是部分本可避免的
// 链上失败会被接受; 这是跟单场景下速度优先的取舍。
func (c *RPCClient) Submit(ctx context.Context, signedTxBase64 string) (string, error) {
	var signature string
	params := []interface{}{
		signedTxBase64,
		map[string]interface{}{
			"encoding":      "base64",
			"skipPreflight": true,
			"maxRetries":    c.maxRetries,
		},
	}
	if err := c.call(ctx, "sendTransaction", params, &signature); err != nil {
		return "", err
	}
	c.logger.Info("交易已提交", zap.String("signature", signature))
	return signature, nil
}
