package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models steward.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Kind string `yaml:"kind"`
	} `yaml:"project"`
	Events struct {
		// Catalog lists every business event the organization recognizes:
		// event name to description. Gap detection reports catalog entries
		// no process covers.
		Catalog map[string]string `yaml:"catalog"`
	} `yaml:"events"`
	Conflicts struct {
		RedundancyThreshold float64 `yaml:"redundancy_threshold"`
	} `yaml:"conflicts"`
	Paths struct {
		Playbooks  string `yaml:"playbooks"`
		Thresholds string `yaml:"thresholds"`
	} `yaml:"paths"`
	Audit struct {
		ConflictsWindowDays int `yaml:"conflicts_window_days"`
	} `yaml:"audit"`
	Versions struct {
		Retention int `yaml:"retention"`
	} `yaml:"versions"`
	RBAC struct {
		Roles            map[string]RBACRole `yaml:"roles"`
		SignOffAuthority []string            `yaml:"sign_off_authority"`
	} `yaml:"rbac"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with stew project config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Project.Kind != "governance-workspace" {
		return fmt.Errorf("config.project.kind must be 'governance-workspace'")
	}
	if c.Conflicts.RedundancyThreshold < 0 || c.Conflicts.RedundancyThreshold > 1 {
		return fmt.Errorf("config.conflicts.redundancy_threshold must be in [0,1]")
	}
	for event, desc := range c.Events.Catalog {
		if event == "" {
			return fmt.Errorf("config.events.catalog contains empty event name")
		}
		if desc == "" {
			return fmt.Errorf("event %s has empty description", event)
		}
	}
	if c.Audit.ConflictsWindowDays < 0 {
		return fmt.Errorf("config.audit.conflicts_window_days must not be negative")
	}
	if c.Versions.Retention < 0 {
		return fmt.Errorf("config.versions.retention must not be negative")
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles["owner"]; !ok {
			return fmt.Errorf("config.rbac.roles must include owner")
		}
		for roleID, role := range c.RBAC.Roles {
			if roleID == "" {
				return fmt.Errorf("config.rbac.roles contains empty role id")
			}
			for _, perm := range role.Permissions {
				if perm == "" {
					return fmt.Errorf("role %s has empty permission id", roleID)
				}
			}
		}
	}
	for _, roleID := range c.RBAC.SignOffAuthority {
		if roleID == "" {
			return fmt.Errorf("config.rbac.sign_off_authority has empty role id")
		}
		if len(c.RBAC.Roles) > 0 {
			if _, ok := c.RBAC.Roles[roleID]; !ok {
				return fmt.Errorf("sign_off_authority references unknown role %s", roleID)
			}
		}
	}
	return nil
}

// RedundancyThreshold returns the configured similarity cutoff, falling back
// to the detector default when unset.
func (c *Config) RedundancyThreshold() float64 {
	if c == nil || c.Conflicts.RedundancyThreshold == 0 {
		return 0.8
	}
	return c.Conflicts.RedundancyThreshold
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "steward.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	cfg, err := FromYAML([]byte(fmt.Sprintf(defaultTemplate, projectID)))
	if err != nil {
		// the template is a constant; a parse failure is a programming error
		panic(err)
	}
	return cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s
  kind: governance-workspace

events:
  catalog:
    lead_created: "A new lead enters the pipeline"
    deal_stage_changed: "A deal moved to a different pipeline stage"
    contract_signed: "A contract was countersigned"
    invoice_overdue: "An invoice passed its due date"
    churn_risk_flagged: "An account was flagged as a churn risk"

conflicts:
  redundancy_threshold: 0.8

paths:
  playbooks: playbooks
  thresholds: thresholds.yml

audit:
  conflicts_window_days: 30

versions:
  retention: 0

rbac:
  roles:
    owner:
      description: "Workspace owner"
      permissions: [process.write, process.approve, workflow.execute, version.rollback]
    operator:
      description: "Runs playbooks and workflows"
      permissions: [workflow.execute]
    reviewer:
      description: "Signs off on high-severity conflicts"
      permissions: [process.approve]
  sign_off_authority: [owner, reviewer]
`
