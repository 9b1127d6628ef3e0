// Package pipeline persists accepted titles: the merged JSON snapshot the crawler
// checkpoints into, and the CSV export derived from it.
package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/aluiziolira/go-scrape-titles/models"
)

// Load reads a snapshot file. A missing file is an empty snapshot.
func Load(path string) ([]models.Title, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %q: %w", path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var titles []models.Title
	if err := json.Unmarshal(data, &titles); err != nil {
		return nil, fmt.Errorf("decode snapshot %q: %w", path, err)
	}
	return titles, nil
}

// Merge combines an on-disk snapshot with the titles of the current run. The
// result is unique by id: on-disk order is kept, a current record replaces the
// on-disk record with the same id, and ids new to the snapshot are appended in
// the order they appear in current.
func Merge(existing, current []models.Title) []models.Title {
	latest := make(map[string]models.Title, len(current))
	for _, t := range current {
		latest[t.ID] = t
	}

	out := make([]models.Title, 0, len(existing)+len(current))
	placed := make(map[string]struct{}, len(existing)+len(current))
	add := func(t models.Title) {
		if _, ok := placed[t.ID]; ok {
			return
		}
		placed[t.ID] = struct{}{}
		if cur, ok := latest[t.ID]; ok {
			t = cur
		}
		out = append(out, t)
	}

	for _, t := range existing {
		add(t)
	}
	for _, t := range current {
		add(t)
	}
	return out
}

// Flush merges current into the snapshot at path and replaces the file
// atomically. It returns the number of records written.
func Flush(path string, current []models.Title) (int, error) {
	existing, err := Load(path)
	if err != nil {
		return 0, err
	}
	merged := Merge(existing, current)

	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return 0, fmt.Errorf("write snapshot %q: %w", path, err)
	}
	return len(merged), nil
}

// writeFileAtomic writes data to a temporary file next to path and renames it
// over path, so a crash mid-write never leaves a truncated snapshot.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "."
	}

	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	syncDir(dir)
	return nil
}

func syncDir(dir string) {
	if runtime.GOOS == "windows" {
		return
	}
	f, err := os.Open(dir)
	if err != nil {
		return
	}
	defer f.Close()
	_ = f.Sync()
}
