package device

import (
	"time"
)

// SensorKind is the closed set of sensor value types. Condition semantics
// are selected by exhaustive switch on this tag.
type SensorKind string

const (
	KindGauge    SensorKind = "gauge"
	KindText     SensorKind = "text"
	KindSwitch   SensorKind = "switch"
	KindSnapshot SensorKind = "snapshot"
)

func (k SensorKind) Valid() bool {
	switch k {
	case KindGauge, KindText, KindSwitch, KindSnapshot:
		return true
	}
	return false
}

// TenantCredential scopes telemetry topic access and sensor reads/writes
// to one project.
type TenantCredential struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type Sensor struct {
	ID           string            `json:"id"`
	Kind         SensorKind        `json:"kind"`
	Unit         string            `json:"unit,omitempty"`
	DisplayNames map[string]string `json:"display_names,omitempty"` // language -> label
}

// DisplayName returns the sensor label for a language, falling back to the
// sensor ID when no localization exists.
func (s Sensor) DisplayName(lang string) string {
	if name, ok := s.DisplayNames[lang]; ok && name != "" {
		return name
	}
	return s.ID
}

type Device struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	GroupID string            `json:"group_id"`
	Sensors map[string]Sensor `json:"sensors"`
}

// Reading is one sensor sample. Value is string-encoded; interpretation
// depends on the sensor kind.
type Reading struct {
	Value string    `json:"value"`
	Time  time.Time `json:"time"`
}

// ImageRef points at a snapshot image that can be fetched later for
// notification attachments.
type ImageRef struct {
	Credential TenantCredential `json:"-"`
	URL        string           `json:"url"`
}
