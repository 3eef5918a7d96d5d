package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"

	"warden/internal/detect"
	"warden/internal/extract"
	dErrors "warden/pkg/domain-errors"
)

// ErrTooLarge is reported for attachments over extract.MaxAttachmentSize.
var ErrTooLarge = dErrors.New(dErrors.CodeValidation, "attachment exceeds size limit")

var reasonMessages = map[string]string{
	ReasonTooLarge:        "The attachment is larger than the allowed size and was skipped.",
	ReasonUnsupportedType: "The attachment type is not supported and was skipped.",
	ReasonDecodeFailure:   "The attachment could not be read and was skipped.",
	ReasonBlocked:         "The attachment was withheld because it contains content that violates policy.",
}

type attachmentResult struct {
	name       string
	doc        *extract.Document
	report     *detect.Report
	extractErr error
}

// prepare extracts and scans attachments concurrently. Per-attachment
// extraction failures are kept on the result; only scan errors and
// cancellation fail the whole batch. Results keep request order.
func (s *Service) prepare(ctx context.Context, attachments []Attachment) ([]attachmentResult, error) {
	results := make([]attachmentResult, len(attachments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, a := range attachments {
		g.Go(func() error {
			results[i].name = a.Name
			doc, err := s.extractOne(gctx, a)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				results[i].extractErr = err
				return nil
			}
			report, err := s.scanner.ScanDocument(gctx, doc)
			if err != nil {
				return fmt.Errorf("scan attachment %q: %w", a.Name, err)
			}
			results[i].doc = doc
			results[i].report = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) extractOne(ctx context.Context, a Attachment) (*extract.Document, error) {
	if a.Size > extract.MaxAttachmentSize || len(a.Content) > base64.StdEncoding.EncodedLen(extract.MaxAttachmentSize)+64 {
		return nil, ErrTooLarge
	}
	raw, mime, err := decodeContent(a.Content)
	if err != nil {
		return nil, err
	}
	if len(raw) > extract.MaxAttachmentSize {
		return nil, ErrTooLarge
	}
	if a.MimeType != "" {
		mime = a.MimeType
	}
	kind, err := extract.KindFromMIME(mime, a.Name)
	if err != nil {
		return nil, err
	}
	return s.extractor.Extract(ctx, raw, kind)
}

// decodeContent unwraps a data URL. Anything else is taken as raw bytes.
func decodeContent(content string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(content, "data:")
	if !ok {
		return []byte(content), "", nil
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", fmt.Errorf("%w: malformed data URL", extract.ErrDecodeFailure)
	}
	mime, isBase64 := strings.CutSuffix(meta, ";base64")
	if isBase64 {
		raw, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, "", fmt.Errorf("%w: data URL payload is not base64", extract.ErrDecodeFailure)
		}
		return raw, mime, nil
	}
	text, err := url.PathUnescape(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: data URL payload is not percent-encoded", extract.ErrDecodeFailure)
	}
	return []byte(text), mime, nil
}

func extractReason(err error) string {
	switch {
	case errors.Is(err, ErrTooLarge):
		return ReasonTooLarge
	case errors.Is(err, extract.ErrUnsupportedType):
		return ReasonUnsupportedType
	}
	return ReasonDecodeFailure
}
