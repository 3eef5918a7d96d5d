package orchestrator

import (
	"warden/internal/detect"
	"warden/internal/identity"
)

// Attachment is one uploaded file. Content is the raw text, a base64 data
// URL, or for pdf, html and image the decoded document JSON produced by the
// external format decoder.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int    `json:"size"`
	Content  string `json:"content"`
}

type ChatRequest struct {
	UserMessage    string       `json:"user_message"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	ConversationID string       `json:"conversation_id,omitempty"`
}

// PolicyWarning tells the caller that content was blocked, removed or
// masked. Details carry masked evidence only.
type PolicyWarning struct {
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// AttachmentWarning reports an attachment that was not forwarded.
type AttachmentWarning struct {
	Name    string `json:"name"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type ChatResponse struct {
	Response           string              `json:"response"`
	ConversationID     string              `json:"conversation_id"`
	CorrelationID      string              `json:"correlation_id"`
	Agent              identity.AgentID    `json:"agent,omitempty"`
	PolicyWarning      *PolicyWarning      `json:"policy_warning"`
	AttachmentWarnings []AttachmentWarning `json:"attachment_warnings,omitempty"`
}

// Warning types.
const (
	WarningResponseBlocked = "response_blocked"
	WarningPIIMasked       = "pii_masked"
)

// Attachment warning reasons.
const (
	ReasonTooLarge        = "too_large"
	ReasonUnsupportedType = "unsupported_type"
	ReasonDecodeFailure   = "decode_failure"
	ReasonBlocked         = "blocked"
)

// warningType names a blocking report by its most severe finding.
func warningType(report *detect.Report) string {
	var top detect.Finding
	for _, f := range report.Findings() {
		if f.Severity > top.Severity {
			top = f
		}
	}
	switch {
	case top.Kind.IsPII():
		return "pii"
	case top.Kind == detect.KindPromptInjection:
		return "prompt_injection"
	case top.Kind == detect.KindHiddenContent:
		return "hidden_content"
	case top.Kind == detect.KindEncodedContent:
		return "encoded_content"
	case top.Kind == detect.KindUnicodeAttack:
		return "unicode_attack"
	case top.Kind == detect.KindRecursionLimit:
		return "recursion_limit"
	}
	return "content_policy"
}
