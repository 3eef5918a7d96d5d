// Package extract defines the normalized document view that format decoders
// hand to the detection engine, plus reference adapters for formats that
// need no layout analysis.
package extract

import (
	"fmt"
	"sort"
)

// Kind is the declared source format of an attachment.
type Kind string

const (
	KindPDF   Kind = "pdf"
	KindHTML  Kind = "html"
	KindImage Kind = "image"
	KindText  Kind = "text"
	KindJSON  Kind = "json"
)

func (k Kind) Valid() bool {
	switch k {
	case KindPDF, KindHTML, KindImage, KindText, KindJSON:
		return true
	}
	return false
}

// HiddenReason says why a decoder classified a span as not rendered to a
// human viewer. Decoders compute it from layout and style signals.
type HiddenReason string

const (
	HiddenCSS          HiddenReason = "css-hidden"
	HiddenZeroSize     HiddenReason = "zero-size"
	HiddenOffPage      HiddenReason = "off-page"
	HiddenWhiteOnWhite HiddenReason = "white-on-white"
	HiddenClass        HiddenReason = "class-hidden"
)

func (r HiddenReason) Valid() bool {
	switch r {
	case HiddenCSS, HiddenZeroSize, HiddenOffPage, HiddenWhiteOnWhite, HiddenClass:
		return true
	}
	return false
}

type HiddenSpan struct {
	Text   string       `json:"text"`
	Reason HiddenReason `json:"reason"`
}

// EncodedPayload is content a decoder found already encoded in the source
// (a data URI, an attribute value) together with its decoded text.
type EncodedPayload struct {
	Encoding string `json:"encoding"`
	Decoded  string `json:"decoded"`
}

// Document is the flat security view of one source. VisibleText and each
// HiddenText entry are disjoint extents of the source.
type Document struct {
	VisibleText     string            `json:"visible_text"`
	HiddenText      []HiddenSpan      `json:"hidden_text,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	EmbeddedEncoded []EncodedPayload  `json:"embedded_encoded,omitempty"`
	SourceKind      Kind              `json:"source_kind"`

	// Structured is the parsed tree of a JSON source. Detectors walk its
	// decoded keys and values in place of VisibleText.
	Structured any `json:"-"`
}

// Segment is one addressable piece of text in a document.
type Segment struct {
	Location string
	Text     string
	Hidden   bool
}

const (
	LocVisible = "visible_text"
)

// Segments returns the document's text in a fixed order: visible text,
// hidden spans, metadata values by sorted key, then embedded payloads.
func (d *Document) Segments() []Segment {
	if d == nil {
		return nil
	}
	segs := make([]Segment, 0, 1+len(d.HiddenText)+len(d.Metadata)+len(d.EmbeddedEncoded))
	segs = append(segs, Segment{Location: LocVisible, Text: d.VisibleText})
	for i, h := range d.HiddenText {
		segs = append(segs, Segment{Location: fmt.Sprintf("hidden_text[%d]", i), Text: h.Text, Hidden: true})
	}
	for _, k := range d.MetadataKeys() {
		segs = append(segs, Segment{Location: "metadata." + k, Text: d.Metadata[k]})
	}
	for i, p := range d.EmbeddedEncoded {
		segs = append(segs, Segment{Location: fmt.Sprintf("embedded_encoded[%d]", i), Text: p.Decoded})
	}
	return segs
}

func (d *Document) MetadataKeys() []string {
	keys := make([]string, 0, len(d.Metadata))
	for k := range d.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HasHidden reports whether any hidden span carries non-blank text.
func (d *Document) HasHidden() bool {
	for _, h := range d.HiddenText {
		if !isBlank(h.Text) {
			return true
		}
	}
	return false
}

// TextDocument wraps plain text, for example a user message or a model
// reply, so it can be scanned like an attachment.
func TextDocument(text string) *Document {
	return &Document{VisibleText: text, SourceKind: KindText}
}
