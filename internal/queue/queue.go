// Package queue implements the job queue: a durable FIFO work queue and
// a non-durable fan-out exchange on one AMQP broker, dialed with a
// bounded-backoff reconnect policy instead of a single attempt.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/GermaMirn/LineGuard-AI/internal/apperr"
	"github.com/GermaMirn/LineGuard-AI/internal/model"
	"github.com/GermaMirn/LineGuard-AI/internal/sklog"
)

const (
	connectAttempts = 30
	connectDelay    = 10 * time.Second
)

// Queue owns the AMQP connection and exposes the work queue and progress
// exchange.
type Queue struct {
	url          string
	queueName    string
	exchangeName string
	conn         *amqp.Connection
	ch           *amqp.Channel
}

// Connect dials the broker with bounded backoff (30 attempts x 10s) and
// declares the durable work queue and the fan-out progress exchange.
func Connect(ctx context.Context, url, queueName, exchangeName string) (*Queue, error) {
	q := &Queue{url: url, queueName: queueName, exchangeName: exchangeName}

	bo := backoff.NewConstantBackOff(connectDelay)
	var attempt int
	err := backoff.Retry(func() error {
		attempt++
		conn, err := amqp.Dial(url)
		if err != nil {
			sklog.Warningf("amqp connect attempt %d/%d failed: %v", attempt, connectAttempts, err)
			return err
		}
		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return err
		}
		q.conn = conn
		q.ch = ch
		return nil
	}, backoff.WithMaxRetries(bo, connectAttempts-1))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "connect to broker after 30 attempts", err)
	}

	if _, err := q.ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "declare work queue", err)
	}
	if err := q.ch.ExchangeDeclare(exchangeName, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "declare progress exchange", err)
	}
	if err := q.ch.Qos(1, 0, false); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "set prefetch", err)
	}

	return q, nil
}

// Close releases the channel and connection.
func (q *Queue) Close() {
	if q.ch != nil {
		q.ch.Close()
	}
	if q.conn != nil {
		q.conn.Close()
	}
}

// PublishWork enqueues a work-queue message with persistent delivery mode.
func (q *Queue) PublishWork(ctx context.Context, msg model.WorkMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "marshal work message", err)
	}
	err = q.ch.PublishWithContext(ctx, "", q.queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "publish work message", err)
	}
	return nil
}

// ConsumeWork returns a channel of work-queue deliveries with prefetch=1;
// the caller acks or nacks each delivery explicitly.
func (q *Queue) ConsumeWork(ctx context.Context, consumerTag string) (<-chan amqp.Delivery, error) {
	deliveries, err := q.ch.ConsumeWithContext(ctx, q.queueName, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "consume work queue", err)
	}
	return deliveries, nil
}

// PublishProgress fans a progress event out to the non-persistent
// exchange.
func (q *Queue) PublishProgress(ctx context.Context, evt model.ProgressEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "marshal progress event", err)
	}
	err = q.ch.PublishWithContext(ctx, q.exchangeName, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Body:         body,
	})
	if err != nil {
		// Best-effort: progress fan-out is lossy, so log instead of
		// failing the caller's pipeline.
		sklog.Warningf("publish progress event for job %s: %v", evt.JobID, err)
		return nil
	}
	return nil
}

// SubscribeProgress declares a transient, subscriber-owned queue bound to
// the progress exchange and returns its delivery channel.
func (q *Queue) SubscribeProgress(ctx context.Context) (<-chan amqp.Delivery, func(), error) {
	ch, err := q.conn.Channel()
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindUnavailable, "open subscriber channel", err)
	}
	tq, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return nil, nil, apperr.Wrap(apperr.KindUnavailable, "declare transient progress queue", err)
	}
	if err := ch.QueueBind(tq.Name, "", q.exchangeName, false, nil); err != nil {
		ch.Close()
		return nil, nil, apperr.Wrap(apperr.KindUnavailable, "bind transient progress queue", err)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, tq.Name, "", true, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, nil, apperr.Wrap(apperr.KindUnavailable, "consume transient progress queue", err)
	}
	return deliveries, func() { ch.Close() }, nil
}
