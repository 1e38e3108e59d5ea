package kafka

import (
	"context"
	"errors"

	"alertflow/pkg/logger"
	"github.com/segmentio/kafka-go"
)

// 触发事件的两个下游Topic：
// alert_triggered 审计流（通知日志等消费方），alert_inapp 站内信定向推送
const (
	TopicAlertTriggered = "alert_triggered"
	TopicAlertInApp     = "alert_inapp"
)

// Kafka 生产者服务
// 定义接口，方便测试和替换
type ProducerService interface {
	Produce(ctx context.Context, topic string, key string, value []byte) error
	Close()
}

type kafkaProducer struct {
	triggeredWriter *kafka.Writer // 审计流
	inappWriter     *kafka.Writer // 站内信定向推送
}

func NewKafkaProducer(brokerURL string) ProducerService {
	triggeredWriter := &kafka.Writer{
		Addr:     kafka.TCP(brokerURL),
		Topic:    TopicAlertTriggered,
		Balancer: &kafka.LeastBytes{}, // 保证写入负载均衡
	}
	// 定向推送按用户路由，使用Hash保证同一用户进同一Partition
	inappWriter := &kafka.Writer{
		Addr:     kafka.TCP(brokerURL),
		Topic:    TopicAlertInApp,
		Balancer: &kafka.Hash{},
	}

	return &kafkaProducer{
		triggeredWriter: triggeredWriter,
		inappWriter:     inappWriter,
	}
}

// Produce 写入指定Topic，key用于分区路由
func (p *kafkaProducer) Produce(ctx context.Context, topic string, key string, value []byte) error {
	var writer *kafka.Writer
	switch topic {
	case TopicAlertTriggered:
		writer = p.triggeredWriter
	case TopicAlertInApp:
		writer = p.inappWriter
	default:
		return errors.New("invalid kafka topic")
	}

	return writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
	})
}

func (p *kafkaProducer) Close() {
	if err := p.triggeredWriter.Close(); err != nil {
		logger.Errorf("Error closing triggered writer: %v", err)
	}
	if err := p.inappWriter.Close(); err != nil {
		logger.Errorf("Error closing inapp writer: %v", err)
	}
}
