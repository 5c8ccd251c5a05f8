package chain

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// wsTestServer 模拟节点的 logsSubscribe 端: 确认订阅后推送一条日志通知,
// 然后保持连接直到客户端关闭。
func wsTestServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var sub struct {
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		require.NoError(t, conn.ReadJSON(&sub))
		assert.Equal(t, "logsSubscribe", sub.Method)

		require.NoError(t, conn.WriteJSON(map[string]interface{}{
			"jsonrpc": "2.0", "id": 1, "result": 42,
		}))
		require.NoError(t, conn.WriteJSON(map[string]interface{}{
			"jsonrpc": "2.0",
			"method":  "logsNotification",
			"params":  map[string]interface{}{},
		}))

		// 读到客户端的关闭帧 (或连接断开) 为止
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestLogsWatcherNotifiesAndStopsCleanly(t *testing.T) {
	server := wsTestServer(t)
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	watcher := NewLogsWatcher(wsURL, "sourceWallet", zap.NewNop())

	done := make(chan struct{})
	go func() {
		watcher.Run()
		close(done)
	}()

	// 订阅确认不产生通知, 日志通知才会叫醒轮询器
	select {
	case <-watcher.Notify():
	case <-time.After(5 * time.Second):
		t.Fatal("expected a notification for the pushed log entry")
	}

	watcher.Stop()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run must return promptly after Stop")
	}
}
