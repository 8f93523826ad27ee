package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGroup подменяет consumer group: Consume вызывает consumeFn.
type fakeGroup struct {
	consumeFn func(context.Context) error
	errs      chan error
	closeErr  error
	calls     int
	mu        sync.Mutex
}

func newFakeGroup(consumeFn func(context.Context) error) *fakeGroup {
	return &fakeGroup{consumeFn: consumeFn, errs: make(chan error, 1)}
}

func (g *fakeGroup) Consume(ctx context.Context, _ []string, _ sarama.ConsumerGroupHandler) error {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.consumeFn != nil {
		return g.consumeFn(ctx)
	}
	<-ctx.Done()
	return nil
}

func (g *fakeGroup) Errors() <-chan error { return g.errs }

func (g *fakeGroup) Close() error {
	close(g.errs)
	return g.closeErr
}

func (g *fakeGroup) Pause(map[string][]int32)  {}
func (g *fakeGroup) Resume(map[string][]int32) {}
func (g *fakeGroup) PauseAll()                 {}
func (g *fakeGroup) ResumeAll()                {}

type fakeSession struct {
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32               { return nil }
func (s *fakeSession) MemberID() string                         { return "catalog-instance" }
func (s *fakeSession) GenerationID() int32                      { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) Commit()                                  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context                 { return s.ctx }
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func claimOf(messages ...*sarama.ConsumerMessage) *fakeClaim {
	ch := make(chan *sarama.ConsumerMessage, len(messages))
	for _, m := range messages {
		ch <- m
	}
	close(ch)
	return &fakeClaim{messages: ch}
}

func (c *fakeClaim) Topic() string                            { return TopicCatalogEvents }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return sarama.OffsetNewest }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func catalogMessage(offset int64, retries string) *sarama.ConsumerMessage {
	msg := &sarama.ConsumerMessage{
		Topic:  TopicCatalogEvents,
		Offset: offset,
		Key:    []byte("brand:1"),
		Value:  []byte(`{"id":"evt-1","event_type":"brand.updated","payload":{"event_type":"brand.updated","brand_id":1}}`),
	}
	if retries != "" {
		msg.Headers = []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte(retries)}}
	}
	return msg
}

func TestNewConsumerConfig_ReadsOnlyNewEvents(t *testing.T) {
	config := newConsumerConfig()
	require.NoError(t, config.Validate())
	assert.Equal(t, sarama.OffsetNewest, config.Consumer.Offsets.Initial)
	assert.True(t, config.Consumer.Return.Errors)
	assert.Equal(t, consumerClientID, config.ClientID)
}

func TestNewConsumer_UnreachableBrokers(t *testing.T) {
	_, err := NewConsumer([]string{"127.0.0.1:1"}, "catalog-cache-sync-test", []string{TopicCatalogEvents},
		func(context.Context, *sarama.ConsumerMessage) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog-cache-sync-test")
}

func TestConsumerOptions(t *testing.T) {
	producer := &Producer{}
	c := newConsumer(newFakeGroup(nil), nil, nil,
		WithMaxRetries(5), WithRetryDelay(0), WithDeadLetters(producer))
	assert.Equal(t, 5, c.maxRetries)
	assert.Zero(t, c.retryDelay)
	assert.Same(t, producer, c.deadLetters)

	c = newConsumer(newFakeGroup(nil), nil, nil, WithMaxRetries(0), WithRetryDelay(-time.Second))
	assert.Equal(t, defaultConsumerMaxRetries, c.maxRetries, "non-positive retries keep the default")
	assert.Equal(t, defaultConsumerRetryDelay, c.retryDelay, "negative delay keeps the default")
}

func TestConsumer_StartRejoinsAfterRebalanceUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rebalances := 0
	group := newFakeGroup(func(context.Context) error {
		rebalances++
		if rebalances == 3 {
			cancel()
			return nil
		}
		return sarama.ErrRebalanceInProgress
	})
	group.errs <- errors.New("heartbeat failed")

	c := newConsumer(group, []string{TopicCatalogEvents}, nil)
	require.NoError(t, c.Start(ctx))

	require.Eventually(t, func() bool { return ctx.Err() != nil }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop())
	assert.Equal(t, 3, group.calls)
}

func TestConsumer_StopReportsCloseError(t *testing.T) {
	group := newFakeGroup(nil)
	group.closeErr = errors.New("coordinator unavailable")

	err := newConsumer(group, nil, nil).Stop()
	require.ErrorIs(t, err, group.closeErr)
}

func TestConsumeClaim_MarksOnlyHandledEvents(t *testing.T) {
	c := newConsumer(newFakeGroup(nil), nil, func(_ context.Context, msg *sarama.ConsumerMessage) error {
		if msg.Offset == 2 {
			return errors.New("cache unavailable")
		}
		return nil
	}, WithMaxRetries(1))

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, c.Setup(session))
	require.NoError(t, c.ConsumeClaim(session, claimOf(catalogMessage(1, ""), catalogMessage(2, ""), catalogMessage(3, ""))))
	require.NoError(t, c.Cleanup(session))

	assert.Equal(t, []int64{1, 3}, session.marked)
}

func TestConsumeClaim_StopsWhenSessionEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := newConsumer(newFakeGroup(nil), nil, func(context.Context, *sarama.ConsumerMessage) error { return nil })

	done := make(chan error, 1)
	go func() {
		done <- c.ConsumeClaim(&fakeSession{ctx: ctx}, &fakeClaim{messages: make(chan *sarama.ConsumerMessage)})
	}()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not return after the session ended")
	}
}

func TestDeliver_RetryBudgetCountsPreviousAttempts(t *testing.T) {
	tests := []struct {
		name         string
		retries      string
		wantAttempts int
	}{
		{name: "fresh message", retries: "", wantAttempts: 4},
		{name: "one earlier attempt", retries: "1", wantAttempts: 3},
		{name: "budget already spent", retries: "9", wantAttempts: 1},
		{name: "garbage header", retries: "many", wantAttempts: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			c := newConsumer(newFakeGroup(nil), nil, func(context.Context, *sarama.ConsumerMessage) error {
				attempts++
				return errors.New("redis timeout")
			}, WithMaxRetries(4), WithRetryDelay(0))

			err := c.deliver(context.Background(), catalogMessage(10, tt.retries))
			require.EqualError(t, err, "redis timeout")
			assert.Equal(t, tt.wantAttempts, attempts)
		})
	}
}

func TestDeliver_SucceedsAfterTransientFailure(t *testing.T) {
	attempts := 0
	c := newConsumer(newFakeGroup(nil), nil, func(context.Context, *sarama.ConsumerMessage) error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	}, WithRetryDelay(time.Millisecond))

	require.NoError(t, c.deliver(context.Background(), catalogMessage(11, "")))
	assert.Equal(t, 2, attempts)
}

func TestDeliver_CancelledBackoffKeepsHandlerError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := newConsumer(newFakeGroup(nil), nil, func(context.Context, *sarama.ConsumerMessage) error {
		cancel()
		return errors.New("brand cache locked")
	}, WithRetryDelay(time.Hour))

	err := c.deliver(ctx, catalogMessage(12, ""))
	require.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "brand cache locked")
}

func TestDeliver_HandlerPanicBecomesError(t *testing.T) {
	c := newConsumer(newFakeGroup(nil), nil, func(context.Context, *sarama.ConsumerMessage) error {
		panic("nil view")
	}, WithMaxRetries(1))

	err := c.deliver(context.Background(), catalogMessage(13, ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil view")
}

func TestDeliver_ExhaustedEventMovesToDeadLetters(t *testing.T) {
	deadLetters, syncProducer := newMockedProducer(t)
	syncProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(pm *sarama.ProducerMessage) error {
		if pm.Topic != TopicDeadLetterQueue {
			return fmt.Errorf("unexpected topic %s", pm.Topic)
		}
		headers := make(map[string]string, len(pm.Headers))
		for _, h := range pm.Headers {
			headers[string(h.Key)] = string(h.Value)
		}
		if headers[HeaderOriginalTopic] != TopicCatalogEvents || headers[HeaderErrorMessage] != "unknown category" ||
			headers[HeaderRetryCount] != "2" || headers[HeaderFailedAt] == "" {
			return fmt.Errorf("unexpected dead letter headers %v", headers)
		}

		raw, err := pm.Value.Encode()
		if err != nil {
			return err
		}
		var record deadLetterRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return err
		}
		if record.OriginalOffset != 14 || record.OriginalKey != "brand:1" || record.RetryCount != 2 {
			return fmt.Errorf("unexpected dead letter record %+v", record)
		}
		return nil
	})

	c := newConsumer(newFakeGroup(nil), nil, func(context.Context, *sarama.ConsumerMessage) error {
		return errors.New("unknown category")
	}, WithMaxRetries(3), WithRetryDelay(0), WithDeadLetters(deadLetters))

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, c.ConsumeClaim(session, claimOf(catalogMessage(14, "2"))))
	assert.Equal(t, []int64{14}, session.marked, "a dead-lettered event is acknowledged")
	require.NoError(t, syncProducer.Close())
}

func TestDeliver_DeadLetterFailureLeavesEventUnacknowledged(t *testing.T) {
	deadLetters, syncProducer := newMockedProducer(t)
	syncProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	c := newConsumer(newFakeGroup(nil), nil, func(context.Context, *sarama.ConsumerMessage) error {
		return errors.New("unknown category")
	}, WithMaxRetries(1), WithDeadLetters(deadLetters))

	err := c.deliver(context.Background(), catalogMessage(15, ""))
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)

	session := &fakeSession{ctx: context.Background()}
	syncProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	require.NoError(t, c.ConsumeClaim(session, claimOf(catalogMessage(16, ""))))
	assert.Empty(t, session.marked)
	require.NoError(t, syncProducer.Close())
}

func TestRetryCount(t *testing.T) {
	assert.Equal(t, 0, retryCount(catalogMessage(1, "")))
	assert.Equal(t, 5, retryCount(catalogMessage(1, "5")))
	assert.Equal(t, 0, retryCount(catalogMessage(1, "-3")))
	assert.Equal(t, 0, retryCount(&sarama.ConsumerMessage{Headers: []*sarama.RecordHeader{nil}}))
}

func TestParseCatalogEvent(t *testing.T) {
	envelope := &sarama.ConsumerMessage{Value: []byte(`{"id":"m-1","aggregate_type":"product","aggregate_id":"7","event_type":"product.price_changed","payload":{"event_type":"product.price_changed","brand_id":1,"product_id":7,"category":"TOP","price":15000,"version":1}}`)}
	event, err := ParseCatalogEvent(envelope)
	require.NoError(t, err)
	assert.Equal(t, EventTypeProductPriceChanged, event.EventType)
	assert.EqualValues(t, 7, event.ProductID)
	assert.EqualValues(t, 15000, event.Price)

	_, err = ParseCatalogEvent(&sarama.ConsumerMessage{Value: []byte("{")})
	require.Error(t, err)
	_, err = ParseCatalogEvent(&sarama.ConsumerMessage{Value: []byte(`{"id":"m-2"}`)})
	require.Error(t, err, "empty payload")
}
