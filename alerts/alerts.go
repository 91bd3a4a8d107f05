package alerts

import (
	"time"
)

// Severity grades an operator alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// color returns the hex color used by Slack attachments for the severity.
func (s Severity) color() string {
	switch s {
	case SeverityWarning:
		return "#f2c744"
	case SeverityError:
		return "#e74c3c"
	case SeverityCritical:
		return "#8b0000"
	default:
		return "#3498db"
	}
}

// colorInt returns the same color as a Discord RGB integer.
func (s Severity) colorInt() int {
	switch s {
	case SeverityWarning:
		return 0xf2c744
	case SeverityError:
		return 0xe74c3c
	case SeverityCritical:
		return 0x8b0000
	default:
		return 0x3498db
	}
}

// emoji returns the header emoji for the severity.
func (s Severity) emoji() string {
	switch s {
	case SeverityWarning:
		return "⚠️"
	case SeverityError:
		return "✖️"
	case SeverityCritical:
		return "🚨"
	default:
		return "ℹ️"
	}
}

// Alert is one operator notification. Metadata carries free-form context
// that vendors render in their detail sections.
type Alert struct {
	Severity Severity       `json:"severity"`
	Source   string         `json:"source"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Time     time.Time      `json:"time"`
}

// bruteForceThreshold is the attempt count below which suspected
// brute-force activity is not alerted on.
const bruteForceThreshold = 10
