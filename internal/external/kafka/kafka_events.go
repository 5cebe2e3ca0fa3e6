package loyalty

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	model "github.com/glkeru/washloyalty/internal/models"
	"github.com/segmentio/kafka-go"
)

// KafkaEvents публикует уведомления движка в топик
type KafkaEvents struct {
	writer *kafka.Writer
}

func NewEventWriter(brokers string, topic string) (*KafkaEvents, error) {
	if brokers == "" {
		return nil, fmt.Errorf("kafka brokers are not set")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(brokers, ",")...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaEvents{w}, nil
}

func (k *KafkaEvents) Name() string { return "kafka" }

// ключ - клиент, чтобы события одного клиента шли по порядку
func (k *KafkaEvents) Publish(ctx context.Context, n model.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(n.CustomerID.String()),
		Value: body,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(n.Type)},
		},
	})
}

func (k *KafkaEvents) Close() error {
	return k.writer.Close()
}
