package detect

import (
	"context"

	"warden/internal/extract"
)

// Detector is one member of the engine's ordered detector list. Scan must
// not mutate the document and must be safe for concurrent use.
type Detector interface {
	Name() string
	Scan(ctx context.Context, scope *Scope) ([]Finding, error)
}

// RescanFunc runs the full detector list over decoded text at depth.
type RescanFunc func(ctx context.Context, text string, depth int) ([]Finding, error)

// Scope is what a detector sees for one pass.
type Scope struct {
	Doc    *extract.Document
	Depth  int
	Policy *Policy
	Rescan RescanFunc
}

// DefaultDetectors returns the fixed pipeline in evaluation order.
func DefaultDetectors() []Detector {
	return []Detector{
		PIIDetector{},
		InjectionDetector{},
		HiddenDetector{},
		EncodedDetector{},
		UnicodeDetector{},
	}
}
