package inapp

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"alertflow/pkg/logger"
)

// ClientConn 单个websocket连接
type ClientConn struct {
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte

	replaced  bool
	closeOnce sync.Once

	// 丢弃统计，超限强制关闭慢消费者
	DroppedCount int32
	LastSuccess  int64
}

func (c *ClientConn) Close() {
	c.closeOnce.Do(func() {
		if c.Conn != nil {
			_ = c.Conn.Close()
		}
		defer func() {
			if r := recover(); r != nil {
				// already closed
			}
		}()
		close(c.Send)
	})
}

// writePump 负责写入到websocket（包括ping）
func (c *ClientConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Send:
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Debugf("inapp writePump write error: %v", err)
				return
			}
			atomic.StoreInt64(&c.LastSuccess, time.Now().UnixNano())
			atomic.StoreInt32(&c.DroppedCount, 0)
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 读取客户端消息，只处理心跳
func (c *ClientConn) readPump() {
	c.Conn.SetReadLimit(1024 * 1024)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			break
		}
	}
}

// safeSend 非阻塞发送并在通道满时进行计数与保护
func (c *ClientConn) safeSend(data []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			// send on closed channel
		}
	}()

	select {
	case c.Send <- data:
		atomic.StoreInt32(&c.DroppedCount, 0)
		return true
	default:
		cnt := atomic.AddInt32(&c.DroppedCount, 1)
		if cnt > 200 {
			logger.Warnf("inapp client %s drop > threshold, closing", c.UserID)
			go c.Close()
		}
		return false
	}
}
