package models

import (
	"fmt"
	"time"
)

// Detection представляет структуру одного обнаруженного объекта
type Detection struct {
	Class string    `json:"class"`
	Score float64   `json:"score"`
	Box   []float64 `json:"box,omitempty"` // [x1, y1, x2, y2]
}

// Command is the single byte written to the actuator.
type Command byte

const (
	CommandReset      Command = 0x00 // close all bins
	CommandRecyclable Command = 0x01
	CommandHazardous  Command = 0x02
	CommandKitchen    Command = 0x03
	CommandOther      Command = 0x04
)

func (c Command) String() string {
	return fmt.Sprintf("0x%02X", byte(c))
}

// Outcome of a single trigger evaluation.
type Outcome string

const (
	OutcomeFired       Outcome = "fired"
	OutcomeNoCandidate Outcome = "no_candidate"
	OutcomePaused      Outcome = "paused"
	OutcomeCooldown    Outcome = "cooldown"
	OutcomeLinkError   Outcome = "link_error"
)

type ControlAction string

const (
	ControlStart     ControlAction = "start"
	ControlStop      ControlAction = "stop"
	ControlReconnect ControlAction = "reconnect"
)

func (a ControlAction) Valid() bool {
	switch a {
	case ControlStart, ControlStop, ControlReconnect:
		return true
	}
	return false
}

type ControlCommand struct {
	Action ControlAction `json:"action"`
}

// ActuationEvent is emitted for every attempt that reached the actuator link.
type ActuationEvent struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Class      string    `json:"class"`
	Confidence float64   `json:"confidence"`
	Command    Command   `json:"command"`
	Outcome    Outcome   `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Heartbeat struct {
	SessionID string    `json:"SessionID"`
	LinkState string    `json:"LinkState"`
	Enabled   bool      `json:"Enabled"`
	Frame     int64     `json:"Frame"`
	TimeStamp time.Time `json:"TimeStamp"`
}
