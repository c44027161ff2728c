package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/encnetwork/doctrans/internal/download"
	"github.com/encnetwork/doctrans/internal/jobs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore persists job and download-token records. One writer
// connection keeps SQLite happy under the store-level locks held by its
// callers.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

func (s *SQLiteStore) LoadJobs(ctx context.Context) ([]*jobs.Job, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, status, created_at, expires_at, source_lang, target_lang,
		        original_files_json, file_paths_json, translated_files_json,
		        position, estimated_time, error_message, processing_start, processing_end, requeues
		 FROM jobs
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*jobs.Job, 0)
	for rows.Next() {
		var item jobs.Job
		var status string
		var originalJSON, pathsJSON, translatedJSON string
		var processingStart, processingEnd sql.NullTime
		if err := rows.Scan(
			&item.ID,
			&status,
			&item.CreatedAt,
			&item.ExpiresAt,
			&item.SourceLang,
			&item.TargetLang,
			&originalJSON,
			&pathsJSON,
			&translatedJSON,
			&item.Position,
			&item.EstimatedTime,
			&item.ErrorMessage,
			&processingStart,
			&processingEnd,
			&item.Requeues,
		); err != nil {
			return nil, err
		}
		item.Status = jobs.Status(status)
		if err := json.Unmarshal([]byte(originalJSON), &item.OriginalFiles); err != nil {
			return nil, fmt.Errorf("decode original files of job %s: %w", item.ID, err)
		}
		if err := json.Unmarshal([]byte(pathsJSON), &item.FilePaths); err != nil {
			return nil, fmt.Errorf("decode file paths of job %s: %w", item.ID, err)
		}
		if err := json.Unmarshal([]byte(translatedJSON), &item.TranslatedFiles); err != nil {
			return nil, fmt.Errorf("decode translated files of job %s: %w", item.ID, err)
		}
		if processingStart.Valid {
			item.ProcessingStart = processingStart.Time
		}
		if processingEnd.Valid {
			item.ProcessingEnd = processingEnd.Time
		}
		ret = append(ret, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) UpsertJob(ctx context.Context, job *jobs.Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	originalJSON, err := json.Marshal(job.OriginalFiles)
	if err != nil {
		return err
	}
	pathsJSON, err := json.Marshal(job.FilePaths)
	if err != nil {
		return err
	}
	translatedJSON, err := json.Marshal(job.TranslatedFiles)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
			id, status, created_at, expires_at, source_lang, target_lang,
			original_files_json, file_paths_json, translated_files_json,
			position, estimated_time, error_message, processing_start, processing_end, requeues
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status,
			expires_at=excluded.expires_at,
			translated_files_json=excluded.translated_files_json,
			position=excluded.position,
			estimated_time=excluded.estimated_time,
			error_message=excluded.error_message,
			processing_start=excluded.processing_start,
			processing_end=excluded.processing_end,
			requeues=excluded.requeues`,
		job.ID,
		string(job.Status),
		job.CreatedAt,
		job.ExpiresAt,
		job.SourceLang,
		job.TargetLang,
		string(originalJSON),
		string(pathsJSON),
		string(translatedJSON),
		job.Position,
		job.EstimatedTime,
		job.ErrorMessage,
		nullableTime(job.ProcessingStart),
		nullableTime(job.ProcessingEnd),
		job.Requeues,
	)
	return err
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
	return err
}

func (s *SQLiteStore) LoadTokens(ctx context.Context) ([]download.Token, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT token, job_id, artifact_path, created_at, expires_at FROM download_tokens`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]download.Token, 0)
	for rows.Next() {
		var item download.Token
		if err := rows.Scan(&item.Token, &item.JobID, &item.ArtifactPath, &item.CreatedAt, &item.ExpiresAt); err != nil {
			return nil, err
		}
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) UpsertToken(ctx context.Context, token download.Token) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO download_tokens (token, job_id, artifact_path, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(token) DO UPDATE SET
			job_id=excluded.job_id,
			artifact_path=excluded.artifact_path,
			expires_at=excluded.expires_at`,
		token.Token,
		token.JobID,
		token.ArtifactPath,
		token.CreatedAt,
		token.ExpiresAt,
	)
	return err
}

func (s *SQLiteStore) DeleteToken(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM download_tokens WHERE token = ?`, token)
	return err
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
