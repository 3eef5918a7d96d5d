package extract

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"unicode"
)

// MaxAttachmentSize is the largest attachment the pipeline will extract.
const MaxAttachmentSize = 10 << 20

// Extractor turns raw bytes of a declared kind into a Document. External
// format decoders satisfy it; hidden-content classification is theirs.
type Extractor interface {
	Extract(ctx context.Context, raw []byte, kind Kind) (*Document, error)
}

// Registry dispatches to the extractor registered for a kind. Safe for
// concurrent use.
type Registry struct {
	mu         sync.RWMutex
	extractors map[Kind]Extractor
}

func NewRegistry() *Registry {
	return &Registry{extractors: make(map[Kind]Extractor)}
}

// NewDefaultRegistry wires the in-core adapters: plain text, JSON, and the
// decoded-document form for pdf, html and image.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(KindText, TextExtractor{})
	r.Register(KindJSON, JSONExtractor{})
	decoded := DecodedExtractor{}
	for _, k := range []Kind{KindPDF, KindHTML, KindImage} {
		r.Register(k, decoded)
	}
	return r
}

func (r *Registry) Register(kind Kind, e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[kind] = e
}

func (r *Registry) Extract(ctx context.Context, raw []byte, kind Kind) (*Document, error) {
	r.mu.RLock()
	e, ok := r.extractors[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, kind)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := e.Extract(ctx, raw, kind)
	if err != nil {
		return nil, err
	}
	if doc.SourceKind == "" {
		doc.SourceKind = kind
	}
	return doc, nil
}

var mimeKinds = map[string]Kind{
	"application/pdf":  KindPDF,
	"text/html":        KindHTML,
	"text/plain":       KindText,
	"application/json": KindJSON,
	"image/jpeg":       KindImage,
	"image/png":        KindImage,
}

var extensionKinds = map[string]Kind{
	"pdf":  KindPDF,
	"html": KindHTML,
	"htm":  KindHTML,
	"txt":  KindText,
	"json": KindJSON,
	"jpg":  KindImage,
	"jpeg": KindImage,
	"png":  KindImage,
}

// KindFromMIME resolves a declared MIME type, falling back to the file
// extension. Parameters such as charset are ignored.
func KindFromMIME(mime, name string) (Kind, error) {
	m := strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	if k, ok := mimeKinds[m]; ok {
		return k, nil
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
	if k, ok := extensionKinds[ext]; ok {
		return k, nil
	}
	return "", fmt.Errorf("%w: mime %q, name %q", ErrUnsupportedType, mime, name)
}

func isBlank(s string) bool {
	return strings.TrimFunc(s, unicode.IsSpace) == ""
}
