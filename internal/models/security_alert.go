package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Alert types
const (
	AlertTypeBruteForce        = "BRUTE_FORCE"
	AlertTypeIPChange          = "IP_CHANGE"
	AlertTypeRapidStatusChange = "RAPID_STATUS_CHANGE"
)

// Alert severities
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// SecurityAlert is an operator-facing detection signal
type SecurityAlert struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	UserID     *string    `json:"user_id,omitempty"`
	Meta       AlertMeta  `json:"meta"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy *string    `json:"resolved_by,omitempty"`
}

// IsResolved reports whether an operator has closed the alert
func (a *SecurityAlert) IsResolved() bool {
	return a.ResolvedAt != nil
}

// AlertFilter narrows the alert feed
type AlertFilter struct {
	OpenOnly bool
	UserID   string
	Limit    int
}

// AlertMeta holds free-form context for an alert, stored as JSONB
type AlertMeta map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (m *AlertMeta) Scan(value interface{}) error {
	if value == nil {
		*m = make(AlertMeta)
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return ErrBadRequest
	}

	decoded := make(map[string]interface{})
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	*m = AlertMeta(decoded)
	return nil
}

// Value implements driver.Valuer for JSONB
func (m AlertMeta) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]interface{}(m))
}
