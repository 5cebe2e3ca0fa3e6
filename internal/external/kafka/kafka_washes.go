package loyalty

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

type KafkaWashes struct {
	reader *kafka.Reader
}

// Сообщение о подтвержденной оператором мойке
type WashMessage struct {
	MerchantID   uuid.UUID       `json:"merchantId"`
	CustomerCode string          `json:"customerCode"`
	Service      string          `json:"service"`
	Price        decimal.Decimal `json:"price"`
}

func GetNewReader(brokers string, topic string, group string) (reader *KafkaWashes, err error) {
	if brokers == "" {
		return nil, fmt.Errorf("kafka brokers are not set")
	}
	kafkaconfig := kafka.ReaderConfig{
		Brokers: strings.Split(brokers, ","),
		Topic:   topic,
		GroupID: group,
	}
	return &KafkaWashes{kafka.NewReader(kafkaconfig)}, nil
}

func (k *KafkaWashes) GetNewMessage(ctx context.Context) (wash *WashMessage, err error) {
	msg, err := k.reader.ReadMessage(ctx)
	if err != nil {
		return nil, err
	}
	return ParseWashMessage(msg.Value)
}

func ParseWashMessage(data []byte) (*WashMessage, error) {
	wash := &WashMessage{}
	if err := json.Unmarshal(data, wash); err != nil {
		return nil, fmt.Errorf("invalid wash message: %w", err)
	}
	if wash.MerchantID == uuid.Nil {
		return nil, fmt.Errorf("invalid wash message: merchantId field is required")
	}
	if wash.CustomerCode == "" {
		return nil, fmt.Errorf("invalid wash message: customerCode field is required")
	}
	return wash, nil
}

func (k *KafkaWashes) CloseReader() {
	k.reader.Close()
}
