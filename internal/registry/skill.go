package registry

import (
	"encoding/json"
	"strings"
)

// Skill is one registry listing. Unknown fields are preserved so the status
// service can echo the full item back to the front-end.
type Skill struct {
	ID        string
	TopSource string
	Name      string
	Installs  int

	fields map[string]any
}

func (s *Skill) UnmarshalJSON(data []byte) error {
	var typed struct {
		ID        string `json:"id"`
		TopSource string `json:"topSource"`
		Name      string `json:"name"`
		Installs  int    `json:"installs"`
	}
	if err := json.Unmarshal(data, &typed); err != nil {
		return err
	}
	fields := map[string]any{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*s = Skill{
		ID:        strings.TrimSpace(typed.ID),
		TopSource: strings.TrimSpace(typed.TopSource),
		Name:      typed.Name,
		Installs:  typed.Installs,
		fields:    fields,
	}
	return nil
}

func (s Skill) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Fields())
}

// Fields returns a copy of the raw listing with the typed fields applied.
func (s Skill) Fields() map[string]any {
	out := make(map[string]any, len(s.fields)+4)
	for k, v := range s.fields {
		out[k] = v
	}
	out["id"] = s.ID
	out["topSource"] = s.TopSource
	if s.Name != "" {
		out["name"] = s.Name
	}
	if s.Installs != 0 {
		out["installs"] = s.Installs
	}
	return out
}

// ValidViews returns the ranking views the registry serves.
func ValidViews() []string {
	return []string{"all-time", "trending", "hot"}
}

// NormalizeView is the form of view sent to the registry.
func NormalizeView(view string) string {
	return strings.ToLower(strings.TrimSpace(view))
}

// IsValidView returns true if view is a recognized ranking view.
func IsValidView(view string) bool {
	for _, v := range ValidViews() {
		if strings.EqualFold(v, view) {
			return true
		}
	}
	return false
}
