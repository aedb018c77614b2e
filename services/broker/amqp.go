// Package brokersvc pushes accepted check-in events to the reporting
// collaborator (attendance dashboards) over AMQP.
package brokersvc

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pkg/errors"

	"github.com/icue/varsity/core"
	"github.com/icue/varsity/core/checkin"
)

type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	queue    string
}

var _ checkin.Publisher = (*AMQPPublisher)(nil)

func NewAMQPPublisher(conf *core.Config) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(conf.Broker.URL)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to broker")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "opening channel")
	}

	if err = ch.ExchangeDeclare(
		conf.Broker.Exchange,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Wrap(err, "declaring exchange")
	}

	if _, err = ch.QueueDeclare(
		conf.Broker.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Wrap(err, "declaring queue")
	}

	if err = ch.QueueBind(conf.Broker.Queue, conf.Broker.Queue, conf.Broker.Exchange, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Wrap(err, "binding queue")
	}

	return &AMQPPublisher{
		conn:     conn,
		channel:  ch,
		exchange: conf.Broker.Exchange,
		queue:    conf.Broker.Queue,
	}, nil
}

func (p *AMQPPublisher) PublishCheckIn(ctx context.Context, ev checkin.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshaling event")
	}
	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		p.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	return errors.Wrap(err, "publishing event")
}

func (p *AMQPPublisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
