package kafka

import (
	"context"
	"time"

	"alertflow/pkg/logger"
	"github.com/segmentio/kafka-go"
)

// ConsumerService 定义了消费 Kafka 消息的通用接口
type ConsumerService interface {
	// Consume 启动一个协程消费指定主题，将消息发送到返回的通道
	Consume(ctx context.Context, topic string, groupID string) (<-chan kafka.Message, error)
	Close()
}

type kafkaConsumer struct {
	brokerURL string
}

func NewKafkaConsumer(brokerURL string) ConsumerService {
	return &kafkaConsumer{
		brokerURL: brokerURL,
	}
}

func (c *kafkaConsumer) Consume(ctx context.Context, topic string, groupID string) (<-chan kafka.Message, error) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{c.brokerURL},
		Topic:    topic,
		GroupID:  groupID, // 不同的 Gateway 使用不同的 GroupID
		MinBytes: 10e3,    // 10KB
		MaxBytes: 10e6,    // 10MB
		// 从最新的 offset 开始消费，实时推送场景不回放历史
		StartOffset:    kafka.LastOffset,
		CommitInterval: time.Second, // 自动提交，每秒提交一次
		MaxAttempts:    3,
	})
	outputCh := make(chan kafka.Message, 1000) // 缓冲区用于平滑流量

	go func() {
		defer close(outputCh)
		for {
			m, err := r.FetchMessage(ctx)
			if err != nil {
				// Context 被取消（服务关闭），正常退出
				if ctx.Err() != nil {
					break
				}
				logger.Errorf("Kafka read error on topic %s: %v", topic, err)
				time.Sleep(time.Second)
				continue
			}

			select {
			case outputCh <- m:
				// 依赖 CommitInterval 自动提交 Offset
			case <-ctx.Done():
				return
			default:
				// 队列满则丢弃，手动提交告知Broker该消息已处理
				logger.Warnf("kafka consumer buffer full, dropping message on %s", topic)
				if err := r.CommitMessages(ctx, m); err != nil {
					logger.Errorf("commit dropped message failed: %v", err)
				}
			}
		}
		_ = r.Close()
	}()

	return outputCh, nil
}

func (c *kafkaConsumer) Close() {}
