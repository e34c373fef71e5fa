// Package mqtt publishes actuation events to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/Capitan-Parrot/waste-sorter/internal/models"
)

const publishTimeout = 5 * time.Second

type Emitter struct {
	client paho.Client
	topic  string

	mu        sync.Mutex
	published uint64
	errors    uint64
}

// Connect dials the broker with auto-reconnect enabled.
func Connect(broker, clientID, topicPrefix string) (*Emitter, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(paho.Client) {
		log.Infof("MQTT: connected to %s as %s", broker, clientID)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Warnf("MQTT: connection to %s lost, reconnecting: %v", broker, err)
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}

	return NewEmitter(client, topicPrefix), nil
}

// NewEmitter wraps a connected client; events go to <topicPrefix>/actuations.
func NewEmitter(client paho.Client, topicPrefix string) *Emitter {
	return &Emitter{client: client, topic: topicPrefix + "/actuations"}
}

func (e *Emitter) RecordActuation(ctx context.Context, ev models.ActuationEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	token := e.client.Publish(e.topic, 1, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		e.count(false)
		return ctx.Err()
	case <-time.After(publishTimeout):
		e.count(false)
		return fmt.Errorf("publish to %s timed out", e.topic)
	}

	if err := token.Error(); err != nil {
		e.count(false)
		return fmt.Errorf("publish to %s: %w", e.topic, err)
	}
	e.count(true)
	return nil
}

func (e *Emitter) stats() (published, failed uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.published, e.errors
}

func (e *Emitter) Close() {
	published, failed := e.stats()
	log.Printf("MQTT: %s closed, %d published, %d failed", e.topic, published, failed)
	e.client.Disconnect(250)
}

func (e *Emitter) count(ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ok {
		e.published++
	} else {
		e.errors++
	}
}
