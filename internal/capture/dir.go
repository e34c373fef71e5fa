package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
)

var imageExts = []string{".jpg", ".jpeg", ".png"}

// DirSource replays image files from a directory in name order.
type DirSource struct {
	files []string
	next  int
}

func NewDirSource(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame dir: %w", err)
	}

	files := lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		if e.IsDir() {
			return "", false
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		return filepath.Join(dir, e.Name()), lo.Contains(imageExts, ext)
	})
	sort.Strings(files)

	return &DirSource{files: files}, nil
}

func (s *DirSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.next >= len(s.files) {
		return Frame{}, ErrEndOfStream
	}

	idx := s.next
	data, err := os.ReadFile(s.files[idx])
	if err != nil {
		return Frame{}, fmt.Errorf("frame %d: %w", idx, err)
	}
	s.next++

	return Frame{Index: idx, Data: data, CapturedAt: time.Now()}, nil
}

func (s *DirSource) Close() error { return nil }
