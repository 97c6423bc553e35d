package jobqueue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// snapshotRecord is the durable form of a pending job.
type snapshotRecord struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	CreatedAt      time.Time      `json:"created_at"`
	Status         Status         `json:"status"`
	TotalItems     int            `json:"total_items"`
	ProcessedItems int            `json:"processed_items"`
	Params         map[string]any `json:"parameters"`
}

type snapshotFile struct {
	path string
}

func newSnapshotFile(path string) *snapshotFile {
	return &snapshotFile{path: strings.TrimSpace(path)}
}

// save writes every pending job synchronously. The write goes to a temp
// file first so a crash never leaves a truncated snapshot behind.
func (s *snapshotFile) save(jobs []*Job) error {
	if s.path == "" {
		return nil
	}
	records := make([]snapshotRecord, 0, len(jobs))
	for _, job := range jobs {
		view := job.View()
		records = append(records, snapshotRecord{
			ID:             view.ID,
			Type:           view.Type,
			CreatedAt:      view.CreatedAt,
			Status:         view.Status,
			TotalItems:     view.TotalItems,
			ProcessedItems: view.ProcessedItems,
			Params:         view.Params,
		})
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("ensure snapshot dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// load reads the snapshot back. Jobs interrupted mid-execution return as
// waiting so the worker picks them up again.
func (s *snapshotFile) load() ([]*Job, error) {
	if s.path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var records []snapshotRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	jobs := make([]*Job, 0, len(records))
	for _, rec := range records {
		params := rec.Params
		if params == nil {
			params = make(map[string]any)
		}
		job := &Job{
			ID:        rec.ID,
			Type:      rec.Type,
			CreatedAt: rec.CreatedAt,
			Params:    params,
		}
		job.status = rec.Status
		if job.status == StatusRunning || job.status == "" {
			job.status = StatusWaiting
		}
		job.totalItems = rec.TotalItems
		job.processedItems = rec.ProcessedItems
		jobs = append(jobs, job)
	}
	return jobs, nil
}
