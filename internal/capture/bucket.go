package capture

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// FrameStore is the subset of the MinIO client used for replay.
type FrameStore interface {
	ListFrameKeys(ctx context.Context, bucket, prefix string) ([]string, error)
	GetFrame(ctx context.Context, bucket, key string) ([]byte, error)
}

// BucketSource replays frames stored as objects, one object per frame.
// Keys are listed once and downloaded lazily.
type BucketSource struct {
	store  FrameStore
	bucket string
	keys   []string
	next   int
}

// NewBucketSource lists bucket/prefix and starts at frame skip.
func NewBucketSource(ctx context.Context, store FrameStore, bucket, prefix string, skip int) (*BucketSource, error) {
	keys, err := store.ListFrameKeys(ctx, bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("list frames %s/%s: %w", bucket, prefix, err)
	}
	if skip > len(keys) {
		skip = len(keys)
	}
	log.Printf("Capture: %d frames in %s/%s, starting from %d", len(keys), bucket, prefix, skip)

	return &BucketSource{store: store, bucket: bucket, keys: keys, next: max(skip, 0)}, nil
}

func (s *BucketSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.next >= len(s.keys) {
		return Frame{}, ErrEndOfStream
	}

	idx := s.next
	data, err := s.store.GetFrame(ctx, s.bucket, s.keys[idx])
	if err != nil {
		return Frame{}, fmt.Errorf("frame %d: %w", idx, err)
	}
	s.next++

	return Frame{Index: idx, Data: data, CapturedAt: time.Now()}, nil
}

func (s *BucketSource) Close() error { return nil }
