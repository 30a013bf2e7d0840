package playbook

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"steward/internal/domain"
)

var ErrNotFound = errors.New("playbook not found")

// Load locates <id>.yaml (or .yml) under dir, parses it and schema-validates
// it. Schema failures abort before any side effect.
func Load(dir, id string) (domain.Playbook, error) {
	var pb domain.Playbook
	path, err := locate(dir, id)
	if err != nil {
		return pb, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return pb, fmt.Errorf("read playbook %s: %w", id, err)
	}
	if err := yaml.Unmarshal(data, &pb); err != nil {
		return pb, fmt.Errorf("parse playbook %s: %w", id, err)
	}
	if errs := Validate(pb); len(errs) > 0 {
		return pb, fmt.Errorf("invalid playbook %s: %s", id, strings.Join(errs, "; "))
	}
	return pb, nil
}

func locate(dir, id string) (string, error) {
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(dir, id+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Validate checks the playbook schema and returns every violation. Mode
// determines which sections are required: VALIDATION playbooks carry the
// validation triplet, GENERATIVE playbooks carry trigger conditions and
// decision logic.
func Validate(pb domain.Playbook) []string {
	var errs []string
	if pb.FrameworkName == "" {
		errs = append(errs, "framework_name is required")
	}
	if pb.IntendedAgentRole == "" {
		errs = append(errs, "intended_agent_role is required")
	}
	if pb.PrimaryObjective == "" {
		errs = append(errs, "primary_objective is required")
	}
	if pb.Version == "" {
		errs = append(errs, "version is required")
	}
	if pb.Status == "" {
		errs = append(errs, "status is required")
	}
	if len(pb.LastUpdated) != 10 || strings.Count(pb.LastUpdated, "-") != 2 {
		errs = append(errs, "last_updated must be a YYYY-MM-DD date")
	}

	switch pb.PlaybookMode {
	case domain.ModeValidation:
		if len(pb.ValidationInputs) == 0 {
			errs = append(errs, "validation_inputs is required in VALIDATION mode")
		}
		if len(pb.ValidationOutputs) == 0 {
			errs = append(errs, "validation_outputs is required in VALIDATION mode")
		}
		if len(pb.ValidationChecks) == 0 {
			errs = append(errs, "validation_checks is required in VALIDATION mode")
		}
	case domain.ModeGenerative:
		if len(pb.TriggerConditions) == 0 {
			errs = append(errs, "trigger_conditions is required in GENERATIVE mode")
		}
		if len(pb.DecisionLogic.Rules) == 0 {
			errs = append(errs, "decision_logic.rules is required in GENERATIVE mode")
		}
		for i, r := range pb.DecisionLogic.Rules {
			if r.ID == "" {
				errs = append(errs, fmt.Sprintf("decision_logic.rules[%d]: id is required", i))
			}
			if r.Condition == "" {
				errs = append(errs, fmt.Sprintf("decision_logic.rules[%d]: condition is required", i))
			}
		}
	default:
		errs = append(errs, fmt.Sprintf("playbook_mode must be VALIDATION or GENERATIVE, got %q", pb.PlaybookMode))
	}
	return errs
}
