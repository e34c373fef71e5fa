package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

const defaultMaxFailures = 5

// SnapshotSource polls an IP camera's still-image endpoint. After
// MaxFailures consecutive failed polls the camera is considered gone and
// Next returns ErrEndOfStream.
type SnapshotSource struct {
	URL         string
	Interval    time.Duration
	MaxFailures int
	Client      *http.Client

	index    int
	failures int
	last     time.Time
}

func NewSnapshotSource(url string, interval time.Duration, maxFailures int) *SnapshotSource {
	if maxFailures <= 0 {
		maxFailures = defaultMaxFailures
	}
	return &SnapshotSource{
		URL:         url,
		Interval:    interval,
		MaxFailures: maxFailures,
		Client:      &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *SnapshotSource) Next(ctx context.Context) (Frame, error) {
	for {
		if err := s.wait(ctx); err != nil {
			return Frame{}, err
		}

		data, err := s.fetch(ctx)
		s.last = time.Now()
		if err == nil {
			s.failures = 0
			frame := Frame{Index: s.index, Data: data, CapturedAt: s.last}
			s.index++
			return frame, nil
		}
		if ctx.Err() != nil {
			return Frame{}, ctx.Err()
		}

		s.failures++
		log.Warnf("Capture: snapshot %s failed (%d/%d): %v", s.URL, s.failures, s.MaxFailures, err)
		if s.failures >= s.MaxFailures {
			return Frame{}, ErrEndOfStream
		}
	}
}

func (s *SnapshotSource) wait(ctx context.Context) error {
	if s.last.IsZero() || s.Interval <= 0 {
		return ctx.Err()
	}
	delay := s.Interval - time.Since(s.last)
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *SnapshotSource) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func (s *SnapshotSource) Close() error {
	s.Client.CloseIdleConnections()
	return nil
}
