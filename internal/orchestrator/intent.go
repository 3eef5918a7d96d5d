package orchestrator

import (
	"strings"

	"warden/internal/identity"
)

type Intent string

const (
	IntentFinance      Intent = "finance"
	IntentFileAnalysis Intent = "file_analysis"
	IntentTechSupport  Intent = "tech_support"
)

var financeKeywords = []string{
	"finance", "financial", "budget", "revenue", "expense",
	"profit", "loss", "quarterly", "annual report", "earnings",
	"balance sheet", "income statement", "cash flow",
}

// Classify routes by keyword. Finance wins over attachments.
func Classify(message string, hasAttachments bool) Intent {
	lower := strings.ToLower(message)
	for _, k := range financeKeywords {
		if strings.Contains(lower, k) {
			return IntentFinance
		}
	}
	if hasAttachments {
		return IntentFileAnalysis
	}
	return IntentTechSupport
}

// Agent returns the call target that serves the intent.
func (i Intent) Agent() identity.AgentID {
	switch i {
	case IntentFinance:
		return identity.FinanceID
	case IntentFileAnalysis:
		return identity.FileProcessorID
	}
	return identity.TechSupportID
}

var systemPrompts = map[identity.AgentID]string{
	identity.TechSupportID: "You are a helpful technical support agent. " +
		"Answer questions about products, troubleshoot problems and give clear step-by-step guidance.",
	identity.FileProcessorID: "You are a helpful document analyst. " +
		"Summarize and answer questions about the documents the user provided.",
	identity.FinanceID: "You are a financial analyst assistant. " +
		"Provide clear, professional responses about financial data. " +
		"Format numbers clearly and provide relevant insights.",
}
