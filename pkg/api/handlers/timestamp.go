package handlers

import (
	"encoding/json"
	"strings"
	"time"
)

var lenientLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// LenientTime decodes a CRM timestamp. RFC 3339 values and plain dates are
// accepted; anything else decodes to the zero time, which scores as never
// contacted.
type LenientTime struct {
	time.Time
	invalid bool
}

// UnmarshalJSON never fails.
func (t *LenientTime) UnmarshalJSON(data []byte) error {
	*t = LenientTime{}

	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		t.invalid = true
		return nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	for _, layout := range lenientLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	t.invalid = true
	return nil
}

// Invalid reports whether a value was sent but could not be read.
func (t *LenientTime) Invalid() bool {
	return t != nil && t.invalid
}

// Ptr returns the parsed time, or nil when absent or unreadable.
func (t *LenientTime) Ptr() *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}
