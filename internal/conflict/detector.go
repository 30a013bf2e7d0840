package conflict

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"steward/internal/domain"
)

// contradictory status vocabularies. Two artifact values contradict when one
// lands in each set, or when they are opposite booleans.
var (
	positiveOutcomes = map[string]bool{"approved": true, "proceed": true}
	negativeOutcomes = map[string]bool{"rejected": true, "blocked": true, "stopped": true}
)

const defaultRedundancyThreshold = 0.8

// Detector statically analyzes a set of process definitions for
// contradictions, cycles and ownership collisions. It never mutates its
// inputs and performs no I/O.
type Detector struct {
	// KnownEvents is the catalog used for gap detection: event name to
	// description. Events with no covering process are reported as gaps.
	KnownEvents map[string]string

	// RedundancyThreshold is the similarity score above which two processes
	// are flagged as likely duplicates. Defaults to 0.8.
	RedundancyThreshold float64

	Now func() time.Time
}

func NewDetector(knownEvents map[string]string) *Detector {
	return &Detector{
		KnownEvents:         knownEvents,
		RedundancyThreshold: defaultRedundancyThreshold,
		Now:                 time.Now,
	}
}

func (d *Detector) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Analyze runs every check over the given process definitions and returns
// the combined report.
func (d *Detector) Analyze(procs []domain.ProcessDefinition) Report {
	r := Report{
		CheckedAt: d.now().UTC().Format(time.RFC3339),
		Processes: len(procs),
	}
	r.Conflicts = append(r.Conflicts, d.detectTriggerCollisions(procs)...)
	r.Conflicts = append(r.Conflicts, d.detectOutputContradictions(procs)...)
	r.Conflicts = append(r.Conflicts, d.detectOwnershipOverlaps(procs)...)
	r.Conflicts = append(r.Conflicts, d.detectCircularDependencies(procs)...)
	r.Conflicts = append(r.Conflicts, d.detectResourceContention(procs)...)
	r.Conflicts = append(r.Conflicts, d.detectRedundantProcesses(procs)...)
	r.Conflicts = append(r.Conflicts, d.detectDeadlineInfeasibility(procs)...)
	r.Gaps = d.detectGaps(procs)
	return r
}

// detectTriggerCollisions flags pairs reacting to the same event with
// overlapping conditions and contradictory outputs.
func (d *Detector) detectTriggerCollisions(procs []domain.ProcessDefinition) []Conflict {
	var out []Conflict
	for i := 0; i < len(procs); i++ {
		for j := i + 1; j < len(procs); j++ {
			a, b := procs[i], procs[j]
			if a.Trigger.Event == "" || a.Trigger.Event != b.Trigger.Event {
				continue
			}
			if !conditionsOverlap(a.Trigger.Conditions, b.Trigger.Conditions) {
				continue
			}
			contra := contradictoryArtifacts(a.Outputs, b.Outputs)
			if len(contra) == 0 {
				continue
			}
			out = append(out, Conflict{
				ID:         pairID(TypeTriggerCollision, a.ProcessID, b.ProcessID),
				Type:       TypeTriggerCollision,
				Severity:   SeverityHigh,
				ProcessIDs: []string{a.ProcessID, b.ProcessID},
				Description: fmt.Sprintf("processes %s and %s both react to %s with overlapping conditions and contradictory outputs",
					a.ProcessID, b.ProcessID, a.Trigger.Event),
				Details: map[string]any{"event": a.Trigger.Event, "artifacts": contra},
				SuggestedResolutions: []string{
					"narrow the trigger conditions so the processes are mutually exclusive",
					"merge the two processes into a single decision point",
					"sequence one process after the other via relationships.depends_on",
				},
			})
		}
	}
	return out
}

// detectOutputContradictions flags any pair writing contradictory values to
// the same output artifact, regardless of trigger.
func (d *Detector) detectOutputContradictions(procs []domain.ProcessDefinition) []Conflict {
	var out []Conflict
	for i := 0; i < len(procs); i++ {
		for j := i + 1; j < len(procs); j++ {
			a, b := procs[i], procs[j]
			// already reported as a trigger collision
			if a.Trigger.Event != "" && a.Trigger.Event == b.Trigger.Event &&
				conditionsOverlap(a.Trigger.Conditions, b.Trigger.Conditions) {
				continue
			}
			contra := contradictoryArtifacts(a.Outputs, b.Outputs)
			if len(contra) == 0 {
				continue
			}
			out = append(out, Conflict{
				ID:         pairID(TypeOutputContradiction, a.ProcessID, b.ProcessID),
				Type:       TypeOutputContradiction,
				Severity:   SeverityHigh,
				ProcessIDs: []string{a.ProcessID, b.ProcessID},
				Description: fmt.Sprintf("processes %s and %s write contradictory values to shared artifacts",
					a.ProcessID, b.ProcessID),
				Details: map[string]any{"artifacts": contra},
				SuggestedResolutions: []string{
					"assign the contested artifact to a single authoritative process",
					"split the artifact into separately owned fields",
				},
			})
		}
	}
	return out
}

func (d *Detector) detectOwnershipOverlaps(procs []domain.ProcessDefinition) []Conflict {
	var out []Conflict
	for i := 0; i < len(procs); i++ {
		for j := i + 1; j < len(procs); j++ {
			a, b := procs[i], procs[j]
			if a.Outputs.Primary == "" || a.Outputs.Primary != b.Outputs.Primary {
				continue
			}
			if a.Ownership.PrimaryOwner == b.Ownership.PrimaryOwner {
				continue
			}
			out = append(out, Conflict{
				ID:         pairID(TypeOwnershipOverlap, a.ProcessID, b.ProcessID),
				Type:       TypeOwnershipOverlap,
				Severity:   SeverityMedium,
				ProcessIDs: []string{a.ProcessID, b.ProcessID},
				Description: fmt.Sprintf("owners %s and %s both declare primary output %s",
					a.Ownership.PrimaryOwner, b.Ownership.PrimaryOwner, a.Outputs.Primary),
				Details: map[string]any{
					"artifact": a.Outputs.Primary,
					"owners":   []string{a.Ownership.PrimaryOwner, b.Ownership.PrimaryOwner},
				},
				SuggestedResolutions: []string{
					"designate one primary owner and demote the other to collaborator",
					"rename one primary output to reflect its distinct scope",
				},
			})
		}
	}
	return out
}

// detectCircularDependencies builds a directed graph from declared
// trigger-relationships and finds cycles with a depth-first search over a
// recursion stack. Cycles block process creation outright.
func (d *Detector) detectCircularDependencies(procs []domain.ProcessDefinition) []Conflict {
	adj := map[string][]string{}
	known := map[string]bool{}
	for _, p := range procs {
		known[p.ProcessID] = true
	}
	for _, p := range procs {
		for _, target := range p.Relationships.Triggers {
			if known[target] {
				adj[p.ProcessID] = append(adj[p.ProcessID], target)
			}
		}
		for _, dep := range p.Relationships.DependsOn {
			if known[dep] {
				adj[dep] = append(adj[dep], p.ProcessID)
			}
		}
	}

	var out []Conflict
	visited := map[string]bool{}
	stack := map[string]bool{}
	var path []string

	var dfs func(node string)
	dfs = func(node string) {
		visited[node] = true
		stack[node] = true
		path = append(path, node)
		for _, next := range adj[node] {
			if stack[next] {
				cycle := extractCycle(path, next)
				out = append(out, Conflict{
					ID:          pairID(TypeCircularDependency, cycle[0], cycle[len(cycle)-1]),
					Type:        TypeCircularDependency,
					Severity:    SeverityCritical,
					Blocking:    true,
					ProcessIDs:  cycle,
					Description: fmt.Sprintf("circular dependency: %s", strings.Join(append(cycle, cycle[0]), " -> ")),
					Details:     map[string]any{"cycle": cycle},
					SuggestedResolutions: []string{
						"remove one trigger or depends_on edge to break the cycle",
						"introduce an explicit terminal condition on one process",
					},
				})
				continue
			}
			if !visited[next] {
				dfs(next)
			}
		}
		stack[node] = false
		path = path[:len(path)-1]
	}

	ids := make([]string, 0, len(procs))
	for _, p := range procs {
		ids = append(ids, p.ProcessID)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if !visited[id] {
			dfs(id)
		}
	}
	return out
}

func extractCycle(path []string, start string) []string {
	for i, n := range path {
		if n == start {
			cycle := make([]string, len(path)-i)
			copy(cycle, path[i:])
			return cycle
		}
	}
	return []string{start}
}

func (d *Detector) detectResourceContention(procs []domain.ProcessDefinition) []Conflict {
	byResource := map[string][]string{}
	for _, p := range procs {
		seen := map[string]bool{}
		for _, s := range p.Steps {
			if s.Resource == "" || seen[s.Resource] {
				continue
			}
			seen[s.Resource] = true
			byResource[s.Resource] = append(byResource[s.Resource], p.ProcessID)
		}
	}
	resources := make([]string, 0, len(byResource))
	for r := range byResource {
		resources = append(resources, r)
	}
	sort.Strings(resources)

	var out []Conflict
	for _, res := range resources {
		users := byResource[res]
		if len(users) < 2 {
			continue
		}
		out = append(out, Conflict{
			ID:          fmt.Sprintf("%s:%s", TypeResourceContention, res),
			Type:        TypeResourceContention,
			Severity:    SeverityMedium,
			ProcessIDs:  users,
			Description: fmt.Sprintf("%d processes schedule against resource %s", len(users), res),
			Details:     map[string]any{"resource": res},
			SuggestedResolutions: []string{
				"stagger the processes with depends_on ordering",
				"split the shared resource into dedicated pools",
			},
		})
	}
	return out
}

// detectRedundantProcesses scores pairs as the mean of trigger equality,
// owner equality and the Jaccard similarity of output artifact sets.
func (d *Detector) detectRedundantProcesses(procs []domain.ProcessDefinition) []Conflict {
	threshold := d.RedundancyThreshold
	if threshold == 0 {
		threshold = defaultRedundancyThreshold
	}
	var out []Conflict
	for i := 0; i < len(procs); i++ {
		for j := i + 1; j < len(procs); j++ {
			a, b := procs[i], procs[j]
			score := similarity(a, b)
			if score <= threshold {
				continue
			}
			out = append(out, Conflict{
				ID:          pairID(TypeRedundantProcess, a.ProcessID, b.ProcessID),
				Type:        TypeRedundantProcess,
				Severity:    SeverityLow,
				ProcessIDs:  []string{a.ProcessID, b.ProcessID},
				Description: fmt.Sprintf("processes %s and %s are likely duplicates (similarity %.2f)", a.ProcessID, b.ProcessID, score),
				Details:     map[string]any{"similarity": score},
				SuggestedResolutions: []string{
					"archive one process and fold its steps into the other",
				},
			})
		}
	}
	return out
}

func (d *Detector) detectDeadlineInfeasibility(procs []domain.ProcessDefinition) []Conflict {
	var out []Conflict
	for _, p := range procs {
		budget, ok := parseDurationHours(p.Constraints.Deadline)
		if !ok || budget <= 0 {
			continue
		}
		var total float64
		for _, s := range p.Steps {
			if h, ok := parseDurationHours(s.Deadline); ok {
				total += h
			}
		}
		if total <= budget {
			continue
		}
		out = append(out, Conflict{
			ID:          fmt.Sprintf("%s:%s", TypeDeadlineInfeasible, p.ProcessID),
			Type:        TypeDeadlineInfeasible,
			Severity:    SeverityLow,
			ProcessIDs:  []string{p.ProcessID},
			Description: fmt.Sprintf("steps of %s total %.1fh against a %.1fh deadline", p.ProcessID, total, budget),
			Details:     map[string]any{"step_hours": total, "deadline_hours": budget},
			SuggestedResolutions: []string{
				"extend the process deadline or parallelize independent steps",
				"trim step scope to fit the declared deadline",
			},
		})
	}
	return out
}

// detectGaps reports known events no process is triggered by.
func (d *Detector) detectGaps(procs []domain.ProcessDefinition) []Gap {
	covered := map[string]bool{}
	for _, p := range procs {
		covered[p.Trigger.Event] = true
	}
	events := make([]string, 0, len(d.KnownEvents))
	for e := range d.KnownEvents {
		events = append(events, e)
	}
	sort.Strings(events)

	var gaps []Gap
	for _, e := range events {
		if !covered[e] {
			gaps = append(gaps, Gap{Event: e, Description: d.KnownEvents[e]})
		}
	}
	return gaps
}

// conditionsOverlap treats two condition sets as overlapping when either is
// empty or any condition field name matches.
func conditionsOverlap(a, b []domain.TriggerCondition) bool {
	if len(a) == 0 || len(b) == 0 {
		return true
	}
	fields := map[string]bool{}
	for _, c := range a {
		fields[c.Field] = true
	}
	for _, c := range b {
		if fields[c.Field] {
			return true
		}
	}
	return false
}

// contradictoryArtifacts returns the names of shared output artifacts whose
// declared values contradict.
func contradictoryArtifacts(a, b domain.ProcessOutputs) []string {
	var contra []string
	names := make([]string, 0, len(a.Artifacts))
	for name := range a.Artifacts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		bv, ok := b.Artifacts[name]
		if !ok {
			continue
		}
		if valuesContradict(a.Artifacts[name], bv) {
			contra = append(contra, name)
		}
	}
	return contra
}

func valuesContradict(a, b any) bool {
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			return ab != bb
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		as, bs = strings.ToLower(as), strings.ToLower(bs)
		if positiveOutcomes[as] && negativeOutcomes[bs] {
			return true
		}
		if negativeOutcomes[as] && positiveOutcomes[bs] {
			return true
		}
	}
	return false
}

// similarity is the mean of three signals, each in [0,1].
func similarity(a, b domain.ProcessDefinition) float64 {
	var score float64
	if a.Trigger.Event != "" && a.Trigger.Event == b.Trigger.Event {
		score++
	}
	if a.Ownership.PrimaryOwner != "" && a.Ownership.PrimaryOwner == b.Ownership.PrimaryOwner {
		score++
	}
	score += jaccard(artifactSet(a.Outputs), artifactSet(b.Outputs))
	return score / 3
}

func artifactSet(o domain.ProcessOutputs) map[string]bool {
	set := map[string]bool{}
	if o.Primary != "" {
		set[o.Primary] = true
	}
	for name := range o.Artifacts {
		set[name] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if b[k] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func pairID(kind, a, b string) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("%s:%s+%s", kind, a, b)
}
