// Package capture supplies frames to the sorting loop.
package capture

import (
	"context"
	"errors"
	"time"
)

// ErrEndOfStream is returned by Next once no more frames will arrive.
var ErrEndOfStream = errors.New("capture: end of stream")

type Frame struct {
	Index      int
	Data       []byte
	CapturedAt time.Time
}

// Source yields frames on demand.
type Source interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}
