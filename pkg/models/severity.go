package models

import "strings"

// Severity is the traffic-light scale used for edges, run status and alerts.
type Severity string

const (
	SeverityGreen Severity = "green"
	SeverityAmber Severity = "amber"
	SeverityRed   Severity = "red"
)

// NormalizeSeverity maps unknown or empty values to amber, the default
// escalation level for a missed expectation.
func NormalizeSeverity(s string) Severity {
	switch Severity(strings.ToLower(s)) {
	case SeverityGreen:
		return SeverityGreen
	case SeverityAmber:
		return SeverityAmber
	case SeverityRed:
		return SeverityRed
	default:
		return SeverityAmber
	}
}

// Rank orders severities so red > amber > green.
func (s Severity) Rank() int {
	switch s {
	case SeverityRed:
		return 3
	case SeverityAmber:
		return 2
	default:
		return 1
	}
}

// Worse returns the higher-ranked of the two severities.
func (s Severity) Worse(other Severity) Severity {
	if other.Rank() > s.Rank() {
		return other
	}

	return s
}
