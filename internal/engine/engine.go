package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/encnetwork/doctrans/internal/document"
	"github.com/encnetwork/doctrans/internal/provider"
	"github.com/encnetwork/doctrans/pkg/log"
)

// Options tunes batching and retry behavior.
type Options struct {
	// TokenBudget caps the summed token estimate of one provider call.
	TokenBudget int
	// MaxRetries is the number of provider attempts per batch.
	MaxRetries int
	// RetryBase is the backoff base in seconds; the delay after attempt
	// n is RetryBase * 2^n.
	RetryBase float64
}

// BatchFailure records one batch abandoned after exhausting retries.
type BatchFailure struct {
	UnitIDs []string
	Err     error
}

// Result is the outcome of translating one file. Translations covers
// every input unit id exactly once; units whose batch failed map to
// their original text and are listed in Failures.
type Result struct {
	Translations map[string]string
	Failures     []BatchFailure
	// Resumed counts units satisfied from the checkpoint without a
	// provider call.
	Resumed int
}

// Engine drives batched, checkpointed translation of extracted units.
type Engine struct {
	client      provider.Client
	checkpoints *CheckpointStore
	opts        Options

	// sleep is swappable in tests so backoff does not wall-clock wait.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(client provider.Client, checkpoints *CheckpointStore, opts Options) *Engine {
	if opts.TokenBudget < 1 {
		opts.TokenBudget = 80000
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 6
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 2.0
	}
	return &Engine{
		client:      client,
		checkpoints: checkpoints,
		opts:        opts,
		sleep:       sleepContext,
	}
}

// TranslateFile translates the units of one file. Previously checkpointed
// units are reused, the rest go to the provider in token-bounded batches,
// and every successful batch is checkpointed before the next one starts.
// A batch that still fails after MaxRetries attempts keeps its original
// text and the file as a whole still succeeds.
func (e *Engine) TranslateFile(ctx context.Context, jobID, fileName string, units []document.TranslationUnit, sourceLang, targetLang string) (*Result, error) {
	result := &Result{Translations: make(map[string]string, len(units))}
	if len(units) == 0 {
		return result, nil
	}

	done, err := e.checkpoints.Load(jobID, fileName)
	if err != nil {
		return nil, err
	}

	pending := make([]document.TranslationUnit, 0, len(units))
	for _, unit := range units {
		if text, ok := done[unit.ID]; ok {
			result.Translations[unit.ID] = text
			result.Resumed++
			continue
		}
		pending = append(pending, unit)
	}
	if result.Resumed > 0 {
		log.Info("Job %s file %s: resumed %d/%d units from checkpoint", jobID, fileName, result.Resumed, len(units))
	}

	batches := chunkUnits(pending, e.opts.TokenBudget)
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		translated, err := e.translateBatch(ctx, batch, sourceLang, targetLang)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			ids := unitIDs(batch)
			log.Error("Job %s file %s: batch %d/%d abandoned after %d attempts: %v", jobID, fileName, i+1, len(batches), e.opts.MaxRetries, err)
			result.Failures = append(result.Failures, BatchFailure{UnitIDs: ids, Err: err})
			// Abandoned units keep their original text and are
			// checkpointed as such so a resumed run does not burn
			// retries on them again.
			line := make(map[string]string, len(batch))
			for _, unit := range batch {
				result.Translations[unit.ID] = unit.Text
				line[unit.ID] = unit.Text
			}
			if err := e.checkpoints.Append(jobID, fileName, line); err != nil {
				log.Warn("Job %s file %s: checkpoint write failed: %v", jobID, fileName, err)
			}
			continue
		}

		// The provider may omit or hallucinate ids; fall back to the
		// original text for anything missing.
		line := make(map[string]string, len(batch))
		for _, unit := range batch {
			text, ok := translated[unit.ID]
			if !ok || text == "" {
				text = unit.Text
			}
			result.Translations[unit.ID] = text
			line[unit.ID] = text
		}
		if err := e.checkpoints.Append(jobID, fileName, line); err != nil {
			log.Warn("Job %s file %s: checkpoint write failed: %v", jobID, fileName, err)
		}
		log.Debug("Job %s file %s: batch %d/%d translated (%d units)", jobID, fileName, i+1, len(batches), len(batch))
	}
	return result, nil
}

// translateBatch retries the provider with exponential backoff.
func (e *Engine) translateBatch(ctx context.Context, batch []document.TranslationUnit, sourceLang, targetLang string) (map[string]string, error) {
	var lastErr error
	for attempt := 0; attempt < e.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(e.opts.RetryBase * math.Pow(2, float64(attempt-1)) * float64(time.Second))
			log.Warn("Provider call failed (attempt %d/%d), retrying in %s: %v", attempt, e.opts.MaxRetries, delay, lastErr)
			if err := e.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
		translated, err := e.client.TranslateBatch(ctx, batch, sourceLang, targetLang)
		if err == nil {
			return translated, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("batch failed after %d attempts: %w", e.opts.MaxRetries, lastErr)
}

func unitIDs(units []document.TranslationUnit) []string {
	ids := make([]string, 0, len(units))
	for _, unit := range units {
		ids = append(ids, unit.ID)
	}
	return ids
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
