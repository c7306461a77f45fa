package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"scaffold/api/model"
)

// FS stores records as <base>/<buildId>/<file> on a filesystem shared with
// the worker.
type FS struct {
	base string
	file string
}

func NewFS(base, file string) *FS {
	if file == "" {
		file = DefaultFile
	}
	return &FS{base: base, file: file}
}

func (s *FS) path(buildID string) string {
	return filepath.Join(s.base, buildID, s.file)
}

func (s *FS) Put(_ context.Context, buildID string, rec *model.JobRecord) (string, error) {
	if err := validBuildID(buildID); err != nil {
		return "", err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode job record: %w", err)
	}
	p := s.path(buildID)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("create job dir: %w", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write job record: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("write job record: %w", err)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return p, nil
	}
	return abs, nil
}

func (s *FS) Get(_ context.Context, buildID string) (*model.JobRecord, error) {
	if err := validBuildID(buildID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(buildID))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, buildID)
	}
	if err != nil {
		return nil, err
	}
	var rec model.JobRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode job record %s: %w", buildID, err)
	}
	return &rec, nil
}

// Delete removes the build's job folder, including anything the worker left
// next to the record.
func (s *FS) Delete(_ context.Context, buildID string) error {
	if err := validBuildID(buildID); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(s.base, buildID))
}

func (s *FS) List(_ context.Context) ([]Entry, error) {
	dirs, err := os.ReadDir(s.base)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		p := s.path(d.Name())
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		out = append(out, Entry{BuildID: d.Name(), SpecPath: p, WrittenAt: info.ModTime()})
	}
	return out, nil
}

func validBuildID(id string) error {
	if id == "" || id == "." || id == ".." || filepath.Base(id) != id {
		return fmt.Errorf("invalid build id %q", id)
	}
	return nil
}
