package document

import (
	"fmt"
	"path/filepath"
	"strings"
)

// TranslationUnit is the smallest addressable piece of translatable text
// inside a document, tagged with where it lives.
//
// ID is stable for a given file: extracting the same file twice yields the
// same ids in the same order.
type TranslationUnit struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Scope   string `json:"scope"`
	Context string `json:"context,omitempty"`
}

// Extractor yields the translation units of a document, in document order.
type Extractor interface {
	Extract(filePath string) ([]TranslationUnit, error)
}

// Writer applies translated text back into the original container format
// and saves the result to outputPath. A failed write must not leave a
// partial file at outputPath.
type Writer interface {
	Write(filePath, outputPath string, translations map[string]string) error
}

// Codec bundles the extractor and writer for one container format.
type Codec interface {
	Extractor
	Writer
}

// ErrUnsupportedFormat is returned when no codec handles a file extension.
var ErrUnsupportedFormat = fmt.Errorf("unsupported document format")

// Registry resolves a codec by file extension.
type Registry struct {
	codecs map[string]Codec
}

func NewRegistry() *Registry {
	return &Registry{codecs: make(map[string]Codec)}
}

// Register binds a codec to an extension (".xlsx").
func (r *Registry) Register(ext string, codec Codec) {
	r.codecs[strings.ToLower(ext)] = codec
}

// Lookup returns the codec for a file path.
func (r *Registry) Lookup(filePath string) (Codec, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	codec, ok := r.codecs[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	return codec, nil
}

// Extensions lists the registered extensions.
func (r *Registry) Extensions() []string {
	ret := make([]string, 0, len(r.codecs))
	for ext := range r.codecs {
		ret = append(ret, ext)
	}
	return ret
}
