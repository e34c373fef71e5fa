// Package actuator owns the serial connection to the bin-sorting controller.
//
// The device protocol is one raw byte per command with no reply. A link is
// opened, given a warm-up period while the board resets, and then sent
// CommandReset so every bin starts closed.
package actuator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tarm/serial"

	"github.com/Capitan-Parrot/waste-sorter/internal/models"
)

const (
	DefaultBaud         = 9600
	DefaultWarmUp       = 2 * time.Second
	DefaultWriteTimeout = time.Second
	defaultReadTimeout  = time.Second
)

var (
	ErrEmptyPort    = errors.New("serial port is not set")
	ErrNotConnected = errors.New("link is not connected")
	ErrWriteTimeout = errors.New("serial write timed out")
)

// State of the link as seen by the caller.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// ConnectError is returned when the port cannot be opened or initialised.
type ConnectError struct {
	Port string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %q: %v", e.Port, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SendError is returned when a command byte could not be written.
type SendError struct {
	Command models.Command
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s: %v", e.Command, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// OpenFunc opens a raw serial port.
type OpenFunc func(name string, baud int) (io.WriteCloser, error)

// SerialOpener opens the port with github.com/tarm/serial.
func SerialOpener(name string, baud int) (io.WriteCloser, error) {
	return serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: defaultReadTimeout,
	})
}

type Options struct {
	Port         string
	Baud         int
	WarmUp       time.Duration
	WriteTimeout time.Duration
	Open         OpenFunc
}

type Link struct {
	opts Options

	mu   sync.Mutex
	port io.WriteCloser

	// read without mu so State never waits out a warm-up
	state atomic.Value
}

// New returns a disconnected link. Zero option fields take the defaults,
// except WarmUp which is only defaulted by the config layer.
func New(opts Options) *Link {
	if opts.Baud <= 0 {
		opts.Baud = DefaultBaud
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Open == nil {
		opts.Open = SerialOpener
	}
	l := &Link{opts: opts}
	l.state.Store(StateDisconnected)
	return l
}

// Connect is a shortcut for New followed by Link.Connect.
func Connect(ctx context.Context, opts Options) (*Link, error) {
	l := New(opts)
	if err := l.Connect(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// Connect opens the port, waits for the warm-up and sends CommandReset.
// Calling it on a connected link reopens the port.
func (l *Link) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.releaseLocked()

	if l.opts.Port == "" {
		l.state.Store(StateError)
		return &ConnectError{Port: l.opts.Port, Err: ErrEmptyPort}
	}

	port, err := l.opts.Open(l.opts.Port, l.opts.Baud)
	if err != nil {
		l.state.Store(StateError)
		return &ConnectError{Port: l.opts.Port, Err: err}
	}

	// Arduino resets when the port opens
	if l.opts.WarmUp > 0 {
		timer := time.NewTimer(l.opts.WarmUp)
		select {
		case <-ctx.Done():
			timer.Stop()
			port.Close()
			l.state.Store(StateError)
			return &ConnectError{Port: l.opts.Port, Err: ctx.Err()}
		case <-timer.C:
		}
	}

	if err := l.write(port, models.CommandReset); err != nil {
		port.Close()
		l.state.Store(StateError)
		return &ConnectError{Port: l.opts.Port, Err: fmt.Errorf("initial reset: %w", err)}
	}

	l.port = port
	l.state.Store(StateConnected)
	log.Infof("Actuator: connected to %s at %d baud", l.opts.Port, l.opts.Baud)
	return nil
}

// Send writes exactly one byte. On failure the port is released and the link
// moves to StateError; the caller decides when to Connect again.
func (l *Link) Send(cmd models.Command) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port == nil {
		return &SendError{Command: cmd, Err: ErrNotConnected}
	}

	if err := l.write(l.port, cmd); err != nil {
		l.releaseLocked()
		l.state.Store(StateError)
		return &SendError{Command: cmd, Err: err}
	}

	log.Debugf("Actuator: sent %s", cmd)
	return nil
}

// Close releases the port. Safe to call more than once.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.releaseLocked()
	l.state.Store(StateDisconnected)
	return err
}

func (l *Link) State() State {
	return l.state.Load().(State)
}

func (l *Link) Port() string {
	return l.opts.Port
}

// write bounds a single-byte write by WriteTimeout. A write stuck past the
// timeout is unblocked when the port is closed by the caller.
func (l *Link) write(port io.Writer, cmd models.Command) error {
	done := make(chan error, 1)
	go func() {
		n, err := port.Write([]byte{byte(cmd)})
		if err == nil && n != 1 {
			err = io.ErrShortWrite
		}
		done <- err
	}()

	timer := time.NewTimer(l.opts.WriteTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return ErrWriteTimeout
	}
}

func (l *Link) releaseLocked() error {
	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	if err != nil {
		return fmt.Errorf("close %s: %w", l.opts.Port, err)
	}
	return nil
}
