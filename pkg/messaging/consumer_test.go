package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildpass/buildpass-backend/pkg/logger"
)

type recordingAck struct {
	acked    bool
	nacked   bool
	requeue  bool
	rejected bool
}

func (a *recordingAck) Ack(tag uint64, multiple bool) error {
	a.acked = true
	return nil
}

func (a *recordingAck) Nack(tag uint64, multiple, requeue bool) error {
	a.nacked = true
	a.requeue = requeue
	return nil
}

func (a *recordingAck) Reject(tag uint64, requeue bool) error {
	a.rejected = true
	a.requeue = requeue
	return nil
}

func delivery(t *testing.T, ack *recordingAck, eventType string, headers amqp.Table) amqp.Delivery {
	t.Helper()
	event, err := NewEvent(eventType, "test", "corr-1", ModificationEvent{ModificationID: "m-1"})
	require.NoError(t, err)
	body, err := json.Marshal(event)
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: ack, Body: body, Headers: headers}
}

func TestConsumer_HandleMessage(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name       string
		eventType  string
		handlerErr error
		headers    amqp.Table
		check      func(t *testing.T, a *recordingAck, ch *capturingChannel)
	}{
		{
			name:      "success acks",
			eventType: EventModificationCreated,
			check:     func(t *testing.T, a *recordingAck, ch *capturingChannel) { assert.True(t, a.acked) },
		},
		{
			name:      "unknown type acks",
			eventType: "something.else",
			check:     func(t *testing.T, a *recordingAck, ch *capturingChannel) { assert.True(t, a.acked) },
		},
		{
			name:       "transient failure republishes with retry count",
			eventType:  EventModificationCreated,
			handlerErr: boom,
			check: func(t *testing.T, a *recordingAck, ch *capturingChannel) {
				assert.True(t, a.acked)
				assert.False(t, a.nacked)
				assert.Equal(t, "", ch.exchange)
				assert.Equal(t, "q", ch.key)
				assert.Equal(t, int32(1), ch.msg.Headers[HeaderRetryCount])
			},
		},
		{
			name:       "no-retry failure acks",
			eventType:  EventModificationCreated,
			handlerErr: NoRetry(boom),
			check:      func(t *testing.T, a *recordingAck, ch *capturingChannel) { assert.True(t, a.acked) },
		},
		{
			name:       "exhausted retries go to DLQ",
			eventType:  EventModificationCreated,
			handlerErr: boom,
			headers:    amqp.Table{HeaderRetryCount: int32(MaxDeliveryAttempts - 1)},
			check: func(t *testing.T, a *recordingAck, ch *capturingChannel) {
				assert.True(t, a.rejected)
				assert.False(t, a.requeue)
				assert.Empty(t, ch.key)
			},
		},
		{
			name:       "broker dead-letter history counts as retries",
			eventType:  EventModificationCreated,
			handlerErr: boom,
			headers: amqp.Table{"x-death": []interface{}{
				amqp.Table{"count": int64(MaxDeliveryAttempts)},
			}},
			check: func(t *testing.T, a *recordingAck, ch *capturingChannel) {
				assert.True(t, a.rejected)
				assert.False(t, a.requeue)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newConsumer(nil, "q", logger.Nop())
			ch := &capturingChannel{}
			c.retry = ch
			var gotCorrelation string
			c.RegisterHandler(EventModificationCreated, func(ctx context.Context, e *Event) error {
				gotCorrelation = CorrelationID(ctx)
				var data ModificationEvent
				require.NoError(t, e.UnmarshalData(&data))
				assert.Equal(t, "m-1", data.ModificationID)
				return tt.handlerErr
			})

			ack := &recordingAck{}
			c.handleMessage(context.Background(), delivery(t, ack, tt.eventType, tt.headers))
			tt.check(t, ack, ch)
			if tt.eventType == EventModificationCreated {
				assert.Equal(t, "corr-1", gotCorrelation)
			}
		})
	}
}

// requeueingChannel routes republished messages back into a local queue
type requeueingChannel struct {
	queue []amqp.Publishing
	err   error
}

func (c *requeueingChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if c.err != nil {
		return c.err
	}
	c.queue = append(c.queue, msg)
	return nil
}

func TestConsumer_PersistentFailureIsDeadLetteredAfterBoundedAttempts(t *testing.T) {
	c := newConsumer(nil, "q", logger.Nop())
	ch := &requeueingChannel{}
	c.retry = ch

	calls := 0
	c.RegisterHandler(EventModificationCreated, func(ctx context.Context, e *Event) error {
		calls++
		return errors.New("database unavailable")
	})

	ack := &recordingAck{}
	msg := delivery(t, ack, EventModificationCreated, nil)
	for i := 0; i < 10; i++ {
		c.handleMessage(context.Background(), msg)
		require.False(t, ack.nacked && ack.requeue, "message must never be requeued unchanged")
		if ack.rejected {
			break
		}
		require.True(t, ack.acked)
		require.Len(t, ch.queue, i+1)

		next := ch.queue[i]
		ack = &recordingAck{}
		msg = amqp.Delivery{Acknowledger: ack, Headers: next.Headers, Body: next.Body, MessageId: next.MessageId}
	}

	assert.True(t, ack.rejected)
	assert.False(t, ack.requeue)
	assert.Equal(t, MaxDeliveryAttempts, calls)
	assert.Len(t, ch.queue, MaxDeliveryAttempts-1)
}

func TestConsumer_RepublishFailureDeadLetters(t *testing.T) {
	c := newConsumer(nil, "q", logger.Nop())
	c.retry = &requeueingChannel{err: errors.New("channel closed")}
	c.RegisterHandler(EventModificationCreated, func(ctx context.Context, e *Event) error {
		return errors.New("boom")
	})

	ack := &recordingAck{}
	c.handleMessage(context.Background(), delivery(t, ack, EventModificationCreated, nil))
	assert.True(t, ack.rejected)
	assert.False(t, ack.requeue)
	assert.False(t, ack.acked)
}

func TestGetRetryCount(t *testing.T) {
	assert.Equal(t, 0, getRetryCount(amqp.Delivery{}))
	assert.Equal(t, 2, getRetryCount(amqp.Delivery{Headers: amqp.Table{HeaderRetryCount: int32(2)}}))
	assert.Equal(t, 1, getRetryCount(amqp.Delivery{Headers: amqp.Table{HeaderRetryCount: int64(1)}}))
	assert.Equal(t, 4, getRetryCount(amqp.Delivery{Headers: amqp.Table{
		HeaderRetryCount: int32(1),
		"x-death":        []interface{}{amqp.Table{"count": int64(4)}},
	}}))
}

func TestConsumer_MalformedBodyRejected(t *testing.T) {
	c := newConsumer(nil, "q", logger.Nop())
	ack := &recordingAck{}
	c.handleMessage(context.Background(), amqp.Delivery{Acknowledger: ack, Body: []byte("{not json")})
	assert.True(t, ack.rejected)
	assert.False(t, ack.requeue)
}

func TestNoRetry(t *testing.T) {
	assert.Nil(t, NoRetry(nil))
	base := errors.New("listing update failed")
	wrapped := NoRetry(base)
	assert.True(t, IsNoRetry(wrapped))
	assert.ErrorIs(t, wrapped, base)
	assert.False(t, IsNoRetry(base))
}
