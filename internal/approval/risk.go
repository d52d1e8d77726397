package approval

import (
	"strings"

	"github.com/jordanhubbard/wallbounce/internal/bounce"
)

// Operation verbs that move data or change state raise the grade one notch;
// pure reads lower it.
var (
	mutatingVerbs = []string{
		"send", "write", "create", "update", "delete", "remove", "drop",
		"exec", "run", "restart", "reboot", "shutdown", "kill", "deploy",
		"rotate", "revoke", "purge",
	}
	readOnlyVerbs = []string{
		"get", "list", "read", "describe", "status", "show", "query", "fetch",
	}
)

var riskLadder = []Risk{RiskLow, RiskMedium, RiskHigh, RiskCritical}

// GradeRisk derives an operation's risk from the tool's security tier,
// shifted by what the operation verb does. The result is deterministic for a
// given (tool, operation) pair.
func (m *Manager) GradeRisk(tool bounce.ToolDescriptor, operation string) Risk {
	base := 0
	switch tool.SecurityTier {
	case bounce.SecurityPublic:
		base = 0
	case bounce.SecurityInternal:
		base = 1
	case bounce.SecuritySensitive:
		base = 2
	default:
		base = 3
	}

	op := strings.ToLower(operation)
	if hasVerb(op, mutatingVerbs) {
		base++
	} else if hasVerb(op, readOnlyVerbs) {
		base--
	}

	if base < 0 {
		base = 0
	}
	if base >= len(riskLadder) {
		base = len(riskLadder) - 1
	}
	return riskLadder[base]
}

func hasVerb(op string, verbs []string) bool {
	for _, v := range verbs {
		if strings.Contains(op, v) {
			return true
		}
	}
	return false
}
