package loyalty

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

type RabbitConsumer struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	Msg   <-chan amqp.Delivery
	chout *amqp.Channel
}

const queue = "redeems"
const queueout = "redeem_confirms"

// Запрос на погашение награды
type RedeemRequest struct {
	RequestID  string    `json:"requestId"`
	MerchantID uuid.UUID `json:"merchantId"`
	RewardCode string    `json:"rewardCode"`
}

func ParseRedeemRequest(body []byte) (*RedeemRequest, error) {
	req := &RedeemRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		return nil, err
	}
	if req.RequestID == "" {
		return nil, fmt.Errorf("invalid redeem request: requestId field is required")
	}
	return req, nil
}

func NewRabbitConsumer(url string) (rabbit *RabbitConsumer, err error) {
	if url == "" {
		return nil, fmt.Errorf("rabbitmq url is not set")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	// канал для входящих
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	_, err = ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	// канал для исходящих
	chout, err := conn.Channel()
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	_, err = chout.QueueDeclare(
		queueout, // name
		true,     // durable
		false,    // delete when unused
		false,    // exclusive
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		chout.Close()
		ch.Close()
		conn.Close()
		return nil, err
	}

	msg, err := ch.Consume(
		queue, // queue
		"",    // consumer
		true,  // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		chout.Close()
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &RabbitConsumer{conn, ch, msg, chout}, nil
}

func (r *RabbitConsumer) Close() {
	r.chout.Close()
	r.ch.Close()
	r.conn.Close()
}

type RedeemConfirm struct {
	RequestID string `json:"requestId"`
	Success   bool   `json:"success"`
	Reason    string `json:"reason,omitempty"`
}

// подтверждение погашения
func (r *RabbitConsumer) Processed(ctx context.Context, confirm RedeemConfirm) error {
	msg, err := json.Marshal(confirm)
	if err != nil {
		return err
	}
	return r.chout.PublishWithContext(ctx,
		"",       // exchange
		queueout, // routing key
		false,    // mandatory
		false,    // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         msg,
		})
}
