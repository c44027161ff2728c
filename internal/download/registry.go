package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/encnetwork/doctrans/pkg/log"
)

var (
	ErrNotFound = errors.New("download token not found")
	ErrExpired  = errors.New("download token expired")
)

// Token grants time-limited access to one job's result artifact.
type Token struct {
	Token        string    `json:"token"`
	JobID        string    `json:"job_id"`
	ArtifactPath string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Persister stores token records durably.
type Persister interface {
	LoadTokens(ctx context.Context) ([]Token, error)
	UpsertToken(ctx context.Context, token Token) error
	DeleteToken(ctx context.Context, token string) error
}

// Registry maps opaque tokens to result artifacts. Expiry is enforced
// lazily on Resolve and eagerly by ExpireSweep; both delete the artifact
// file along with the record.
type Registry struct {
	persister Persister
	ttl       time.Duration
	now       func() time.Time

	mu     sync.Mutex
	tokens map[string]Token
}

type RegistryOption func(*Registry)

func WithTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) { r.ttl = ttl }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(ctx context.Context, persister Persister, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		persister: persister,
		ttl:       2 * time.Hour,
		now:       time.Now,
		tokens:    make(map[string]Token),
	}
	for _, opt := range opts {
		opt(r)
	}
	if persister != nil {
		loaded, err := persister.LoadTokens(ctx)
		if err != nil {
			return nil, fmt.Errorf("load download tokens: %w", err)
		}
		for _, token := range loaded {
			r.tokens[token.Token] = token
		}
	}
	return r, nil
}

// Issue creates a token for an artifact.
func (r *Registry) Issue(ctx context.Context, jobID, artifactPath string) (Token, error) {
	now := r.now()
	token := Token{
		Token:        newToken(),
		JobID:        jobID,
		ArtifactPath: artifactPath,
		CreatedAt:    now,
		ExpiresAt:    now.Add(r.ttl),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.persister != nil {
		if err := r.persister.UpsertToken(ctx, token); err != nil {
			return Token{}, fmt.Errorf("persist download token: %w", err)
		}
	}
	r.tokens[token.Token] = token
	log.Info("Issued download token for job %s, valid until %s", jobID, token.ExpiresAt.Format(time.RFC3339))
	return token, nil
}

// Resolve returns the token record if it exists and has not expired. An
// expired token is removed together with its artifact before ErrExpired
// is returned.
func (r *Registry) Resolve(ctx context.Context, value string) (Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.tokens[value]
	if !ok {
		return Token{}, ErrNotFound
	}
	if token.ExpiresAt.Before(r.now()) {
		r.removeLocked(ctx, token)
		return Token{}, ErrExpired
	}
	return token, nil
}

// TokenForJob returns the newest unexpired token of a job, if any.
func (r *Registry) TokenForJob(jobID string) (Token, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var best Token
	found := false
	for _, token := range r.tokens {
		if token.JobID != jobID || token.ExpiresAt.Before(now) {
			continue
		}
		if !found || token.CreatedAt.After(best.CreatedAt) {
			best = token
			found = true
		}
	}
	return best, found
}

// ExpireSweep removes every expired token and its artifact.
func (r *Registry) ExpireSweep(ctx context.Context, now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, token := range r.tokens {
		if token.ExpiresAt.Before(now) {
			r.removeLocked(ctx, token)
			removed++
		}
	}
	return removed
}

// RevokeByJob removes all tokens of a job, artifacts included. Used when
// the job itself is expired and deleted.
func (r *Registry) RevokeByJob(ctx context.Context, jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, token := range r.tokens {
		if token.JobID == jobID {
			r.removeLocked(ctx, token)
		}
	}
}

func (r *Registry) removeLocked(ctx context.Context, token Token) {
	if r.persister != nil {
		if err := r.persister.DeleteToken(ctx, token.Token); err != nil {
			log.Error("Failed to delete download token of job %s: %v", token.JobID, err)
			return
		}
	}
	delete(r.tokens, token.Token)
	if token.ArtifactPath != "" {
		if err := os.Remove(token.ArtifactPath); err != nil && !os.IsNotExist(err) {
			log.Warn("Failed to remove artifact %s: %v", token.ArtifactPath, err)
		}
	}
	log.Info("Download token of job %s removed", token.JobID)
}

func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
