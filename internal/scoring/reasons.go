package scoring

import (
	"kopa/internal/domain"
	strutil "kopa/pkg/platform/strings"
)

// reasonTemplates translate positive contributions into user-facing copy.
// Features without a template never surface to the user.
var reasonTemplates = map[string]string{
	"tenure":          "You have been with us for a while.",
	"repayment_rate":  "You have a strong repayment history.",
	"topup_frequency": "You top up regularly.",
	"topup_amount":    "Your top-up amounts support this advance.",
	"network":         "Your line is in good standing.",
	"device":          "Your device profile supports this offer.",
}

const fallbackReason = "You qualify for an instant airtime advance."

const maxReasons = 5

// Reasons renders the decision's top positive contributions as natural
// language. Contributions are already ranked by importance; at least one
// reason is always returned.
func Reasons(decision domain.ModelDecision) []string {
	var out []string
	for _, c := range decision.Contributions {
		if c.Contribution <= 0 {
			continue
		}
		tmpl, ok := reasonTemplates[c.Feature]
		if !ok {
			continue
		}
		out = append(out, tmpl)
		if len(out) == maxReasons {
			break
		}
	}
	if len(out) == 0 {
		out = append(out, fallbackReason)
	}
	// Distinct features may share copy; the user never sees a repeat.
	return strutil.DedupeAndTrim(out)
}
