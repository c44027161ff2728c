package provider

import (
	"context"

	"github.com/encnetwork/doctrans/internal/document"
)

// Client translates one batch of units. Implementations return a map of
// unit id to translated text; ids missing from the map are treated as
// untranslated by the caller. A returned error marks the whole batch as
// failed and retryable.
type Client interface {
	TranslateBatch(ctx context.Context, units []document.TranslationUnit, sourceLang, targetLang string) (map[string]string, error)
}
