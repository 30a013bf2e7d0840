package conflict

import (
	"sort"
)

// Severity levels, in triage order.
const (
	SeverityCritical = "CRITICAL"
	SeverityHigh     = "HIGH"
	SeverityMedium   = "MEDIUM"
	SeverityLow      = "LOW"
	SeverityInfo     = "INFO"
)

var severityRank = map[string]int{
	SeverityCritical: 4,
	SeverityHigh:     3,
	SeverityMedium:   2,
	SeverityLow:      1,
	SeverityInfo:     0,
}

// Conflict types.
const (
	TypeTriggerCollision    = "trigger_collision"
	TypeOutputContradiction = "output_contradiction"
	TypeOwnershipOverlap    = "ownership_overlap"
	TypeCircularDependency  = "circular_dependency"
	TypeResourceContention  = "resource_contention"
	TypeRedundantProcess    = "redundant_process"
	TypeDeadlineInfeasible  = "deadline_infeasible"
)

// Conflict is one detected contradiction between process definitions, with
// machine-readable suggested resolutions.
type Conflict struct {
	ID                   string         `json:"id"`
	Type                 string         `json:"type"`
	Severity             string         `json:"severity" enum:"CRITICAL,HIGH,MEDIUM,LOW,INFO"`
	Blocking             bool           `json:"blocking"`
	ProcessIDs           []string       `json:"process_ids"`
	Description          string         `json:"description"`
	Details              map[string]any `json:"details,omitempty"`
	SuggestedResolutions []string       `json:"suggested_resolutions,omitempty"`
}

// Gap is a known event with no process covering it. Reported, not a conflict.
type Gap struct {
	Event       string `json:"event"`
	Description string `json:"description,omitempty"`
}

// Report is the result of one static analysis pass.
type Report struct {
	CheckedAt string     `json:"checked_at" format:"date-time"`
	Processes int        `json:"processes"`
	Conflicts []Conflict `json:"conflicts,omitempty"`
	Gaps      []Gap      `json:"gaps,omitempty"`
}

func (r Report) HasCritical() bool {
	for _, c := range r.Conflicts {
		if c.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

func (r Report) HasHigh() bool {
	for _, c := range r.Conflicts {
		if c.Severity == SeverityHigh {
			return true
		}
	}
	return false
}

func (r Report) HasBlocking() bool {
	for _, c := range r.Conflicts {
		if c.Blocking {
			return true
		}
	}
	return false
}

// Sorted returns conflicts ordered by severity, most severe first, with a
// stable tie-break on id.
func (r Report) Sorted() []Conflict {
	out := make([]Conflict, len(r.Conflicts))
	copy(out, r.Conflicts)
	sort.SliceStable(out, func(i, j int) bool {
		if severityRank[out[i].Severity] != severityRank[out[j].Severity] {
			return severityRank[out[i].Severity] > severityRank[out[j].Severity]
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// IDs returns the conflict ids, for audit event payloads.
func (r Report) IDs() []string {
	ids := make([]string, 0, len(r.Conflicts))
	for _, c := range r.Conflicts {
		ids = append(ids, c.ID)
	}
	return ids
}
