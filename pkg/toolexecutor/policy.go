package toolexecutor

import "fmt"

// ToolPolicy limits which tools a caller role may see and run.
type ToolPolicy struct {
	Allow []string `json:"allow" mapstructure:"allow"` // allowed tools, "*" for all; empty allows all
	Deny  []string `json:"deny" mapstructure:"deny"`   // denied tools, overrides allow
}

// IsToolAllowed checks if a tool is allowed by the policy
func (tp *ToolPolicy) IsToolAllowed(toolName string) bool {
	if tp == nil {
		return true
	}

	for _, denied := range tp.Deny {
		if denied == toolName || denied == "*" {
			return false
		}
	}

	if len(tp.Allow) == 0 {
		return true
	}
	for _, allowed := range tp.Allow {
		if allowed == toolName || allowed == "*" {
			return true
		}
	}
	return false
}

// Validate rejects policies that can never allow anything useful.
func (tp *ToolPolicy) Validate() error {
	if tp == nil {
		return nil
	}
	for _, denied := range tp.Deny {
		if denied == "" {
			return fmt.Errorf("deny entry cannot be empty")
		}
	}
	for _, allowed := range tp.Allow {
		if allowed == "" {
			return fmt.Errorf("allow entry cannot be empty")
		}
	}
	return nil
}
