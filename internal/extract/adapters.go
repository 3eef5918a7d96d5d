package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// TextExtractor accepts UTF-8 plain text as visible text.
type TextExtractor struct{}

func (TextExtractor) Extract(_ context.Context, raw []byte, _ Kind) (*Document, error) {
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("%w: text is not valid UTF-8", ErrDecodeFailure)
	}
	return &Document{VisibleText: string(raw), SourceKind: KindText}, nil
}

// JSONExtractor parses a JSON document. The visible text is the compacted
// source and Structured holds the decoded tree.
type JSONExtractor struct{}

func (JSONExtractor) Extract(_ context.Context, raw []byte, _ Kind) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after JSON value", ErrDecodeFailure)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	return &Document{
		VisibleText: compact.String(),
		SourceKind:  KindJSON,
		Structured:  tree,
	}, nil
}

// DecodedExtractor accepts the JSON form of a Document produced by an
// external pdf, html or image decoder. It validates the shape; it does not
// look at the original bytes.
type DecodedExtractor struct{}

func (DecodedExtractor) Extract(_ context.Context, raw []byte, kind Kind) (*Document, error) {
	var doc Document
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	for i, h := range doc.HiddenText {
		if !h.Reason.Valid() {
			return nil, fmt.Errorf("%w: hidden_text[%d] has unknown reason %q", ErrDecodeFailure, i, h.Reason)
		}
	}
	if doc.SourceKind == "" {
		doc.SourceKind = kind
	}
	if doc.SourceKind != kind {
		return nil, fmt.Errorf("%w: decoded %s document declared as %s", ErrDecodeFailure, doc.SourceKind, kind)
	}
	return &doc, nil
}
