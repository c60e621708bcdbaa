package fhir

import "strings"

// Issue severities and types used in responses.
const (
	IssueSeverityError   = "error"
	IssueSeverityWarning = "warning"

	IssueTypeProcessing = "processing"
	IssueTypeInvalid    = "invalid"
	IssueTypeNotFound   = "not-found"
	IssueTypeTransient  = "transient"
	IssueTypeSecurity   = "security"
	IssueTypeConflict   = "conflict"
)

// OperationOutcome represents a FHIR OperationOutcome. The remote server
// returns one with error responses; this service returns one on failure.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

type OperationOutcomeIssue struct {
	Severity    string           `json:"severity"`
	Code        string           `json:"code"`
	Details     *CodeableConcept `json:"details,omitempty"`
	Diagnostics string           `json:"diagnostics,omitempty"`
}

func NewOperationOutcome(severity, code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{
			{
				Severity:    severity,
				Code:        code,
				Diagnostics: diagnostics,
			},
		},
	}
}

func ErrorOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeProcessing, diagnostics)
}

// Diagnostics joins the diagnostics (or details text) of every issue.
func (o *OperationOutcome) Diagnostics() string {
	if o == nil {
		return ""
	}
	parts := make([]string, 0, len(o.Issue))
	for _, iss := range o.Issue {
		switch {
		case iss.Diagnostics != "":
			parts = append(parts, iss.Diagnostics)
		case iss.Details != nil && iss.Details.Text != "":
			parts = append(parts, iss.Details.Text)
		}
	}
	return strings.Join(parts, "; ")
}
