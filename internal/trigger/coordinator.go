// Package trigger decides when a detection may actuate the sorting bins.
//
// Two timers gate every fire. The cooldown is the minimum spacing between
// successful actuations regardless of class. The pause is a short quiet
// period after each byte so the controller can finish processing it. Both
// must have expired before the next command is sent. A failed send leaves
// both timers untouched so the next frame can retry.
package trigger

import (
	"sync"
	"time"

	"github.com/Capitan-Parrot/waste-sorter/internal/models"
)

const (
	DefaultCooldown = 2 * time.Second
	DefaultPause    = 100 * time.Millisecond
)

// Sender delivers one command to the actuator.
type Sender interface {
	Send(cmd models.Command) error
}

// CommandLookup resolves a class label to its command.
type CommandLookup interface {
	Lookup(label string) (models.Command, bool)
}

type FireResult struct {
	Outcome    models.Outcome
	Command    models.Command
	Class      string
	Confidence float64
	Err        error
}

func (r FireResult) Fired() bool {
	return r.Outcome == models.OutcomeFired
}

// State is a copy of the coordinator's timers. Nil means never set.
type State struct {
	LastTriggerTime    *time.Time `json:"last_trigger_time,omitempty"`
	LastTriggeredClass *string    `json:"last_triggered_class,omitempty"`
	PausedUntil        *time.Time `json:"paused_until,omitempty"`
}

type Coordinator struct {
	sender   Sender
	commands CommandLookup
	cooldown time.Duration
	pause    time.Duration

	mu    sync.Mutex
	state State
}

// New builds a coordinator. Negative durations are treated as zero.
func New(sender Sender, commands CommandLookup, cooldown, pause time.Duration) *Coordinator {
	return &Coordinator{
		sender:   sender,
		commands: commands,
		cooldown: max(cooldown, 0),
		pause:    max(pause, 0),
	}
}

// Evaluate runs one trigger decision for the frame's candidate at now.
// The whole decision, including the send, holds the lock.
func (c *Coordinator) Evaluate(candidate *models.Detection, now time.Time) FireResult {
	if candidate == nil {
		return FireResult{Outcome: models.OutcomeNoCandidate}
	}

	res := FireResult{Class: candidate.Class, Confidence: candidate.Score}

	cmd, ok := c.commands.Lookup(candidate.Class)
	if !ok {
		res.Outcome = models.OutcomeNoCandidate
		return res
	}
	res.Command = cmd

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.PausedUntil != nil {
		if now.Before(*c.state.PausedUntil) {
			res.Outcome = models.OutcomePaused
			return res
		}
		c.state.PausedUntil = nil
	}

	// same-class repeats fall under this rule too
	if c.state.LastTriggerTime != nil && now.Sub(*c.state.LastTriggerTime) < c.cooldown {
		res.Outcome = models.OutcomeCooldown
		return res
	}

	if err := c.sender.Send(cmd); err != nil {
		res.Outcome = models.OutcomeLinkError
		res.Err = err
		return res
	}

	fired := now
	class := candidate.Class
	pausedUntil := now.Add(c.pause)
	c.state = State{
		LastTriggerTime:    &fired,
		LastTriggeredClass: &class,
		PausedUntil:        &pausedUntil,
	}

	res.Outcome = models.OutcomeFired
	return res
}

// Snapshot returns a copy of the current timers.
func (c *Coordinator) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	var s State
	if c.state.LastTriggerTime != nil {
		t := *c.state.LastTriggerTime
		s.LastTriggerTime = &t
	}
	if c.state.LastTriggeredClass != nil {
		class := *c.state.LastTriggeredClass
		s.LastTriggeredClass = &class
	}
	if c.state.PausedUntil != nil {
		t := *c.state.PausedUntil
		s.PausedUntil = &t
	}
	return s
}

func (c *Coordinator) Cooldown() time.Duration { return c.cooldown }

func (c *Coordinator) Pause() time.Duration { return c.pause }
