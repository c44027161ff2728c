package engine

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/encnetwork/doctrans/pkg/log"
)

// CheckpointStore persists per-file translation progress as JSONL so an
// interrupted job resumes without re-translating finished batches. Each
// line is one map of unit id to translated text, appended after every
// successful batch.
type CheckpointStore struct {
	baseDir string
}

func NewCheckpointStore(dataDir string) *CheckpointStore {
	return &CheckpointStore{baseDir: filepath.Join(dataDir, "checkpoints")}
}

func (c *CheckpointStore) path(jobID, fileName string) string {
	return filepath.Join(c.baseDir, jobID, sanitizeFileName(fileName)+".jsonl")
}

// Load merges every valid line of the checkpoint file into one map.
// Later lines win on duplicate ids. Corrupt lines are skipped with a
// warning so one bad write never loses the whole checkpoint. A missing
// file yields an empty map.
func (c *CheckpointStore) Load(jobID, fileName string) (map[string]string, error) {
	f, err := os.Open(c.path(jobID, fileName))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()

	merged := make(map[string]string)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var batch map[string]string
		if err := json.Unmarshal([]byte(line), &batch); err != nil {
			log.Warn("Skipping corrupt checkpoint line %d of job %s file %s: %v", lineNo, jobID, fileName, err)
			continue
		}
		for id, text := range batch {
			merged[id] = text
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	return merged, nil
}

// Append writes one batch of translations as a single JSONL line.
func (c *CheckpointStore) Append(jobID, fileName string, batch map[string]string) error {
	if len(batch) == 0 {
		return nil
	}
	path := c.path(jobID, fileName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}
	line, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode checkpoint batch: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append checkpoint: %w", err)
	}
	return nil
}

// Remove deletes all checkpoints of a job.
func (c *CheckpointStore) Remove(jobID string) error {
	if jobID == "" {
		return nil
	}
	return os.RemoveAll(filepath.Join(c.baseDir, jobID))
}

// sanitizeFileName keeps checkpoint file names flat even when the source
// file name carries path separators.
func sanitizeFileName(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	return name
}
