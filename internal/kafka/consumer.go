package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const consumeRetryDelay = 5 * time.Second

// Message is one control record. It is marked on the group session only by Ack.
type Message struct {
	Value []byte

	session sarama.ConsumerGroupSession
	raw     *sarama.ConsumerMessage
}

// Ack marks the message consumed. Call only after it has been handled.
func (m Message) Ack() {
	if m.session == nil || m.raw == nil {
		return
	}
	m.session.MarkMessage(m.raw, "")
}

// Consumer reads the control topic through a consumer group.
type Consumer struct {
	group sarama.ConsumerGroup
	topic string
	out   chan Message

	done      chan struct{}
	closeOnce sync.Once
}

func NewConsumer(brokers []string, groupID, topic string) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_6_0_0
	// старые команды управления после рестарта не применяем
	config.Consumer.Offsets.Initial = sarama.OffsetNewest

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, err
	}
	return newConsumer(group, topic), nil
}

func newConsumer(group sarama.ConsumerGroup, topic string) *Consumer {
	return &Consumer{
		group: group,
		topic: topic,
		out:   make(chan Message),
		done:  make(chan struct{}),
	}
}

// StartListening consumes in the background until ctx is cancelled. The
// Messages channel is closed when it stops.
func (c *Consumer) StartListening(ctx context.Context) {
	go c.loop(ctx)
}

func (c *Consumer) loop(ctx context.Context) {
	defer close(c.out)

	h := &claimHandler{out: c.out, done: c.done}
	for ctx.Err() == nil {
		log.Debugf("Consumer %s: joining group", c.topic)
		if err := c.group.Consume(ctx, []string{c.topic}, h); err != nil {
			log.Warnf("Consumer %s: %v, retrying in %v", c.topic, err, consumeRetryDelay)
			select {
			case <-ctx.Done():
			case <-c.done:
				return
			case <-time.After(consumeRetryDelay):
			}
		}
	}
	log.Printf("Consumer %s: stopped", c.topic)
}

func (c *Consumer) Messages() <-chan Message { return c.out }

func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.group.Close()
	})
	return err
}

type claimHandler struct {
	out  chan<- Message
	done <-chan struct{}
}

func (h *claimHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *claimHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *claimHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case raw, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if !h.forward(sess, Message{Value: raw.Value, session: sess, raw: raw}) {
				return nil
			}
		case <-sess.Context().Done():
			return nil
		case <-h.done:
			return nil
		}
	}
}

// forward hands msg to the reader. false means the session or consumer ended first.
func (h *claimHandler) forward(sess sarama.ConsumerGroupSession, msg Message) bool {
	select {
	case h.out <- msg:
		return true
	case <-sess.Context().Done():
		return false
	case <-h.done:
		return false
	}
}
