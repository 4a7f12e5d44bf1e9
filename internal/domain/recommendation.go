package domain

import (
	"fmt"
	"time"
)

// Severity is the ordinal ranking of a recommendation.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityAdvisory
	SeverityWarning
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityInfo:     "info",
	SeverityAdvisory: "advisory",
	SeverityWarning:  "warning",
	SeverityCritical: "critical",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// MarshalJSON renders the severity as its name so the snapshot API stays
// readable; ordering comparisons use the integer value.
func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON accepts the names produced by MarshalJSON.
func (s *Severity) UnmarshalJSON(data []byte) error {
	name := string(data)
	if len(name) >= 2 && name[0] == '"' {
		name = name[1 : len(name)-1]
	}
	for sev, n := range severityNames {
		if n == name {
			*s = sev
			return nil
		}
	}
	return fmt.Errorf("unknown severity %q", name)
}

// Condition is one structured rationale entry: the literal feature value and
// threshold a rule compared.
type Condition struct {
	Feature   string `json:"feature"`
	Operator  string `json:"operator"`
	Threshold string `json:"threshold"`
	Value     string `json:"value"`
}

// Recommendation is one analysis result. Recommendations are cycle-scoped:
// recomputed from scratch each cycle, never carried over.
type Recommendation struct {
	ID          string         `json:"id"`
	Rule        string         `json:"rule"`
	Severity    Severity       `json:"severity"`
	Headline    string         `json:"headline"`
	SubjectIDs  []string       `json:"subject_ids"`
	Rationale   []Condition    `json:"rationale"`
	SubjectTime time.Time      `json:"subject_time"` // most recent subject observation, used for ranking
	GeneratedAt time.Time      `json:"generated_at"`
}
