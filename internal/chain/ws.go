package chain

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// LogsWatcher 通过 logsSubscribe 订阅源钱包相关的日志通知。
// 它只负责"叫醒"轮询器, 不做任何解析: 收到通知后向 Notify 通道发一个信号,
// 轮询器立即执行一次签名拉取, 从而把跟单延迟从轮询间隔压缩到秒级。
// 订阅失败或断线只会降级回纯轮询, 不影响正确性。
type LogsWatcher struct {
	endpoint string
	wallet   string
	conn     *websocket.Conn
	writeMu  sync.Mutex // 串行化对连接的写入: 心跳和关闭帧来自不同goroutine
	notify   chan struct{}
	stopChan chan struct{}
	logger   *zap.Logger
}

// NewLogsWatcher 创建一个日志订阅器。
func NewLogsWatcher(endpoint, wallet string, logger *zap.Logger) *LogsWatcher {
	return &LogsWatcher{
		endpoint: endpoint,
		wallet:   wallet,
		notify:   make(chan struct{}, 1),
		stopChan: make(chan struct{}),
		logger:   logger,
	}
}

// Notify 返回通知通道, 有新日志时会收到一个信号。
func (w *LogsWatcher) Notify() <-chan struct{} {
	return w.notify
}

// Stop 停止订阅循环。
func (w *LogsWatcher) Stop() {
	close(w.stopChan)
}

// Run 是一个守护循环, 负责维持WebSocket的连接和重连。
func (w *LogsWatcher) Run() {
	for {
		select {
		case <-w.stopChan:
			w.logger.Info("日志订阅循环已停止")
			return
		default:
			if err := w.connect(); err != nil {
				w.logger.Warn("日志订阅连接失败, 5秒后重试", zap.Error(err))
				time.Sleep(5 * time.Second)
				continue
			}

			w.logger.Info("日志订阅连接成功", zap.String("wallet", w.wallet))
			if err := w.readLoop(); err != nil {
				w.logger.Warn("日志订阅处理时发生错误", zap.Error(err))
			}
			if w.conn != nil {
				w.conn.Close()
			}
			select {
			case <-w.stopChan: // 停机时不再等待重连
			case <-time.After(5 * time.Second):
			}
		}
	}
}

// writeMessage 是连接上唯一允许的写入入口。
func (w *LogsWatcher) writeMessage(messageType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteMessage(messageType, data)
}

// connect 建立连接并发送 logsSubscribe 订阅请求。
func (w *LogsWatcher) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(w.endpoint, nil)
	if err != nil {
		return fmt.Errorf("无法连接到WebSocket: %w", err)
	}

	sub := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "logsSubscribe",
		"params": []interface{}{
			map[string]interface{}{"mentions": []string{w.wallet}},
			map[string]interface{}{"commitment": "confirmed"},
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return fmt.Errorf("发送订阅请求失败: %w", err)
	}

	w.conn = conn
	return nil
}

// readLoop 为一个已建立的连接处理消息, 并实现心跳机制。
func (w *LogsWatcher) readLoop() error {
	const (
		pongWait   = 60 * time.Second
		pingPeriod = (pongWait * 9) / 10 // Must be less than pongWait
	)

	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	pingStop := make(chan struct{})
	defer close(pingStop)

	go func() {
		for {
			select {
			case <-pingTicker.C:
				if err := w.writeMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingStop:
				return
			case <-w.stopChan:
				return
			}
		}
	}()

	// 停机时在这里发送关闭帧并关闭连接, 阻塞中的ReadMessage随之解除
	go func() {
		select {
		case <-w.stopChan:
			_ = w.writeMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = w.conn.Close()
		case <-pingStop:
		}
	}()

	for {
		_, message, err := w.conn.ReadMessage()
		if err != nil {
			select {
			case <-w.stopChan:
				return nil // 正常停机
			default:
				return fmt.Errorf("读取消息失败: %w", err)
			}
		}

		var envelope struct {
			Method string `json:"method"`
		}
		if err := json.Unmarshal(message, &envelope); err != nil {
			continue
		}
		if envelope.Method != "logsNotification" {
			continue // 订阅确认等其他消息
		}

		// 非阻塞通知: 轮询器正忙时丢弃信号也没关系, 下个周期会覆盖
		select {
		case w.notify <- struct{}{}:
		default:
		}
	}
}
