package service

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Workspace owns the on-disk layout of a job:
//
//	<data>/jobs/<id>/uploads/   original files as submitted
//	<data>/jobs/<id>/outputs/   translated files
//	<data>/jobs/<id>/<id>_translated.zip
type Workspace struct {
	dataDir string
}

func NewWorkspace(dataDir string) *Workspace {
	return &Workspace{dataDir: dataDir}
}

func (w *Workspace) jobDir(jobID string) string {
	return filepath.Join(w.dataDir, "jobs", jobID)
}

func (w *Workspace) UploadDir(jobID string) string {
	return filepath.Join(w.jobDir(jobID), "uploads")
}

func (w *Workspace) OutputDir(jobID string) string {
	return filepath.Join(w.jobDir(jobID), "outputs")
}

func (w *Workspace) ArtifactPath(jobID string) string {
	return filepath.Join(w.jobDir(jobID), jobID+"_translated.zip")
}

// SaveUpload streams one uploaded file into the job's upload directory
// and returns its path. The file name is flattened to its base so a
// crafted name cannot escape the directory.
func (w *Workspace) SaveUpload(jobID, fileName string, src io.Reader) (string, error) {
	name := sanitizeName(fileName)
	if name == "" {
		return "", fmt.Errorf("invalid file name %q", fileName)
	}
	dir := w.UploadDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload directory: %w", err)
	}

	path := filepath.Join(dir, name)
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write upload file: %w", err)
	}
	return path, nil
}

// Remove deletes everything the job ever wrote under the data dir.
func (w *Workspace) Remove(jobID string) error {
	if jobID == "" {
		return nil
	}
	return os.RemoveAll(w.jobDir(jobID))
}

func sanitizeName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(os.PathSeparator) || strings.HasPrefix(name, "..") {
		return ""
	}
	return name
}
