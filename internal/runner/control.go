package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Capitan-Parrot/waste-sorter/internal/kafka"
	"github.com/Capitan-Parrot/waste-sorter/internal/models"
	"github.com/Capitan-Parrot/waste-sorter/internal/trigger"
)

type Status struct {
	SessionID       string         `json:"session_id"`
	LinkState       string         `json:"link_state"`
	Enabled         bool           `json:"enabled"`
	FramesProcessed int64          `json:"frames_processed"`
	LastOutcome     models.Outcome `json:"last_outcome,omitempty"`
	LastClass       string         `json:"last_class,omitempty"`
	LastOutcomeAt   *time.Time     `json:"last_outcome_at,omitempty"`
	Trigger         trigger.State  `json:"trigger"`
}

// Control applies a control action. Reconnects are queued for the frame
// loop so they never interleave with an evaluation.
func (r *Runner) Control(action models.ControlAction) error {
	switch action {
	case models.ControlStart:
		r.enabled.Store(true)
	case models.ControlStop:
		r.enabled.Store(false)
	case models.ControlReconnect:
		select {
		case r.reconnectReq <- struct{}{}:
		default: // already queued
		}
	default:
		return fmt.Errorf("unknown control action %q", action)
	}
	log.Printf("Runner %s: control %s", r.opts.SessionID, action)
	return nil
}

// ListenControl applies control commands from the Kafka consumer. Messages
// are acknowledged only after they were handled.
func (r *Runner) ListenControl(ctx context.Context, messages <-chan kafka.Message) {
	log.Println("Runner: listening for Kafka control commands")
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var cmd models.ControlCommand
			if err := json.Unmarshal(msg.Value, &cmd); err != nil {
				log.Warnf("Invalid message format: %v", err)
				// Не подтверждаем сообщение при ошибке парсинга
				continue
			}
			if err := r.Control(cmd.Action); err != nil {
				log.Warnf("Error processing command: %v", err)
				continue
			}
			msg.Ack()
		}
	}
}

func (r *Runner) Status() Status {
	st := Status{
		SessionID:       r.opts.SessionID,
		LinkState:       string(r.linkState()),
		Enabled:         r.enabled.Load(),
		FramesProcessed: r.framesDone.Load(),
		Trigger:         r.coordinator.Snapshot(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastResult != nil {
		st.LastOutcome = r.lastResult.Outcome
		st.LastClass = r.lastResult.Class
		at := r.lastResultTime
		st.LastOutcomeAt = &at
	}
	return st
}
