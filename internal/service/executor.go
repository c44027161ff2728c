package service

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/encnetwork/doctrans/internal/archive"
	"github.com/encnetwork/doctrans/internal/document"
	"github.com/encnetwork/doctrans/internal/download"
	"github.com/encnetwork/doctrans/internal/engine"
	"github.com/encnetwork/doctrans/internal/jobs"
	"github.com/encnetwork/doctrans/pkg/log"
)

// Outcome is what a finished job produced.
type Outcome struct {
	TranslatedFiles []string
	Token           download.Token
	// FailedUnits counts units that kept their original text because
	// their batch exhausted its retries.
	FailedUnits int
}

// Executor runs one job end to end: extract, translate, write the
// translated documents, bundle them and issue the download token.
type Executor struct {
	codecs      *document.Registry
	engine      *engine.Engine
	checkpoints *engine.CheckpointStore
	downloads   *download.Registry
	workspace   *Workspace
}

func NewExecutor(codecs *document.Registry, eng *engine.Engine, checkpoints *engine.CheckpointStore, downloads *download.Registry, workspace *Workspace) *Executor {
	return &Executor{
		codecs:      codecs,
		engine:      eng,
		checkpoints: checkpoints,
		downloads:   downloads,
		workspace:   workspace,
	}
}

// Execute translates every file of the job. A unit whose batch failed
// keeps its original text and the job still completes; a file that
// cannot be read, translated or written fails the whole job.
func (e *Executor) Execute(ctx context.Context, job *jobs.Job) (*Outcome, error) {
	outcome := &Outcome{}
	outputs := make([]string, 0, len(job.OriginalFiles))

	for _, name := range job.OriginalFiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		inputPath, ok := job.FilePaths[name]
		if !ok {
			return nil, fmt.Errorf("job %s has no stored path for file %s", job.ID, name)
		}
		codec, err := e.codecs.Lookup(inputPath)
		if err != nil {
			return nil, fmt.Errorf("file %s: %w", name, err)
		}

		units, err := codec.Extract(inputPath)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", name, err)
		}
		log.Info("Job %s: extracted %d units from %s", job.ID, len(units), name)

		result, err := e.engine.TranslateFile(ctx, job.ID, name, units, job.SourceLang, job.TargetLang)
		if err != nil {
			return nil, fmt.Errorf("translate %s: %w", name, err)
		}
		for _, failure := range result.Failures {
			outcome.FailedUnits += len(failure.UnitIDs)
		}

		outputName := "translated_" + name
		outputPath := filepath.Join(e.workspace.OutputDir(job.ID), outputName)
		if err := codec.Write(inputPath, outputPath, result.Translations); err != nil {
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
		outputs = append(outputs, outputPath)
		outcome.TranslatedFiles = append(outcome.TranslatedFiles, outputName)
	}

	artifactPath := e.workspace.ArtifactPath(job.ID)
	if err := archive.ZipFiles(artifactPath, outputs); err != nil {
		return nil, fmt.Errorf("bundle results: %w", err)
	}

	token, err := e.downloads.Issue(ctx, job.ID, artifactPath)
	if err != nil {
		return nil, err
	}
	outcome.Token = token

	// Progress is final, the checkpoints have served their purpose.
	if err := e.checkpoints.Remove(job.ID); err != nil {
		log.Warn("Failed to remove checkpoints of job %s: %v", job.ID, err)
	}
	if outcome.FailedUnits > 0 {
		log.Warn("Job %s completed with %d untranslated units", job.ID, outcome.FailedUnits)
	}
	return outcome, nil
}
