// Package sequence generates the ordered email drafts for a prospect
// enrolled in a campaign, with AI drafting and a deterministic template
// fallback.
package sequence

import (
	"fmt"
	"strings"
)

// Template is one step of the default sequence. Subject and Body carry
// {{token}} placeholders resolved by Render.
type Template struct {
	Position int
	Subject  string
	Body     string
}

// DefaultTemplates returns the built-in three-step sequence. Positions are
// 1-based and strictly ordered.
func DefaultTemplates() []Template {
	return []Template{
		{
			Position: 1,
			Subject:  "Employee turnover at {{company_name}}",
			Body: `Hi {{first_name}},

{{personalization_hook}}

Companies your size typically lose {{turnover_low}} to {{turnover_high}} a year to voluntary turnover, most of it from departures nobody saw coming. We help teams spot the at-risk people early enough to keep them.

Worth a quick look at your numbers?

{{sender_name}}`,
		},
		{
			Position: 2,
			Subject:  "Re: Employee turnover at {{company_name}}",
			Body: `Hi {{first_name}},

Following up on my last note. The short version: retention analytics pays for itself if it prevents even one senior departure, and for a company like {{company_name}} the annual exposure is in the {{turnover_low}} to {{turnover_high}} range.

Happy to share how similar teams measure this. 15 minutes?

{{sender_name}}`,
		},
		{
			Position: 3,
			Subject:  "Closing the loop, {{first_name}}",
			Body: `Hi {{first_name}},

Last note from me. If retention isn't a priority at {{company_name}} right now, no problem at all. If it becomes one, the cost math ({{turnover_low}} to {{turnover_high}} a year at your headcount) is where most teams start.

Either way, thanks for reading.

{{sender_name}}`,
		},
	}
}

// TemplateVars holds the substitution values for one prospect.
type TemplateVars struct {
	FirstName           string
	CompanyName         string
	PersonalizationHook string
	TurnoverLow         string
	TurnoverHigh        string
	SenderName          string
}

func (v TemplateVars) replacer() *strings.Replacer {
	return strings.NewReplacer(
		"{{first_name}}", v.FirstName,
		"{{company_name}}", v.CompanyName,
		"{{personalization_hook}}", v.PersonalizationHook,
		"{{turnover_low}}", v.TurnoverLow,
		"{{turnover_high}}", v.TurnoverHigh,
		"{{sender_name}}", v.SenderName,
	)
}

// Render resolves all tokens in the template against vars.
func Render(tpl Template, vars TemplateVars) (subject, body string) {
	r := vars.replacer()
	return r.Replace(tpl.Subject), r.Replace(tpl.Body)
}

// FormatDollars renders a whole-dollar amount with a leading $ and thousands
// separators, e.g. 1950000 -> "$1,950,000".
func FormatDollars(v float64) string {
	s := fmt.Sprintf("%.0f", v)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var sb strings.Builder
	if neg {
		sb.WriteByte('-')
	}
	sb.WriteByte('$')
	for i := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}
