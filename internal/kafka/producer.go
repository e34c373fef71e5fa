package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/Capitan-Parrot/waste-sorter/internal/models"
)

type Producer struct {
	producer       sarama.SyncProducer
	eventTopic     string
	heartbeatTopic string
}

// NewProducer создаёт продюсер с настройками
func NewProducer(brokers []string, eventTopic, heartbeatTopic string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}

	return NewProducerFrom(producer, eventTopic, heartbeatTopic), nil
}

// NewProducerFrom wraps an existing sarama producer.
func NewProducerFrom(producer sarama.SyncProducer, eventTopic, heartbeatTopic string) *Producer {
	return &Producer{
		producer:       producer,
		eventTopic:     eventTopic,
		heartbeatTopic: heartbeatTopic,
	}
}

func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka producer: %w", err)
	}
	return nil
}

// RecordActuation publishes an actuation event keyed by session.
func (p *Producer) RecordActuation(_ context.Context, ev models.ActuationEvent) error {
	return p.send(p.eventTopic, ev.SessionID, ev)
}

// SendHeartbeat отправляет одно сообщение в Kafka
func (p *Producer) SendHeartbeat(hb models.Heartbeat) error {
	return p.send(p.heartbeatTopic, hb.SessionID, hb)
}

func (p *Producer) send(topic, key string, msg any) error {
	if topic == "" {
		return nil
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	kafkaMsg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	}

	if _, _, err := p.producer.SendMessage(kafkaMsg); err != nil {
		return fmt.Errorf("send to %s: %w", topic, err)
	}
	return nil
}
