package inapp

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"alertflow/internal/consts"
	"alertflow/pkg/kafka"
	"alertflow/pkg/logger"
)

// keepalive的ping间隔
const pingPeriod = 30 * time.Second
const pongWait = 60 * time.Second

// client send buffer
const sendBufSize = 256

const consumerGroup = "alertflow_inapp_gateway"

// Gateway 管理in_app提醒的websocket连接，按用户ID索引，
// 消息来源是投递通道写入的Kafka直达主题
type Gateway struct {
	consumer kafka.ConsumerService

	mu      sync.RWMutex
	clients map[string]*ClientConn // map[userID]*ClientConn

	upgrader websocket.Upgrader
}

func NewGateway(consumer kafka.ConsumerService) *Gateway {
	g := &Gateway{
		consumer: consumer,
		clients:  make(map[string]*ClientConn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	go g.listenDeliveries()
	return g
}

// ServeWS 建立websocket连接，用户身份取自鉴权中间件
func (g *Gateway) ServeWS(c *gin.Context) {
	userID := c.GetString(consts.UserID)
	if userID == "" {
		c.Writer.WriteHeader(http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("inapp gateway upgrade error: %v", err)
		return
	}

	client := &ClientConn{
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, sendBufSize),
	}

	// 同一用户重连时原子替换旧连接
	var oldClient *ClientConn
	g.mu.Lock()
	if existing, ok := g.clients[userID]; ok {
		oldClient = existing
		oldClient.replaced = true
	}
	g.clients[userID] = client
	g.mu.Unlock()

	if oldClient != nil {
		// 异步关闭，防止阻塞ServeWS
		go oldClient.Close()
	}

	defer func() {
		g.mu.Lock()
		// 只有当前client才能被移除，被替换的连接不动新map
		if current, ok := g.clients[userID]; ok && current == client {
			delete(g.clients, userID)
		}
		g.mu.Unlock()
		client.Close()
	}()

	go client.writePump()
	// readPump阻塞直到客户端关闭
	client.readPump()
}

// listenDeliveries 消费in_app直达主题并定向推送，kafka key就是用户ID
func (g *Gateway) listenDeliveries() {
	ch, err := g.consumer.Consume(context.Background(), kafka.TopicAlertInApp, consumerGroup)
	if err != nil {
		logger.Fatalf("inapp gateway consumer start failed: %v", err)
	}
	for msg := range ch {
		g.sendToUser(string(msg.Key), msg.Value)
	}
}

// sendToUser 定向发送（若在线）
func (g *Gateway) sendToUser(userID string, data []byte) bool {
	g.mu.RLock()
	c, ok := g.clients[userID]
	g.mu.RUnlock()

	if ok {
		return c.safeSend(data)
	}
	return false
}
