package observability

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/castlefun/swipewatch/internal/domain"
)

// FileRecorder persists metrics snapshots as indented JSON, overwriting the
// previous file each time. Writes go through a temp file and rename so a
// crash mid-write never leaves a truncated metrics file behind.
type FileRecorder struct {
	path string
	now  func() time.Time
}

func NewFileRecorder(path string) (*FileRecorder, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("metrics file path is required")
	}
	return &FileRecorder{path: path, now: time.Now}, nil
}

// Persist writes the current snapshot, stamping last_write with the write
// time. Failures wrap domain.ErrPersistence; callers log and move on.
func (r *FileRecorder) Persist(m *Metrics) error {
	if r == nil || m == nil {
		return fmt.Errorf("%w: recorder is not initialized", domain.ErrPersistence)
	}

	now := r.now().UTC()
	snap := m.Snapshot()
	snap.LastWrite = &now

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	data = append(data, '\n')

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	m.MarkWrite(now)
	return nil
}
