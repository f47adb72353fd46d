// Package estimate provides deterministic employee-turnover cost estimation.
package estimate

import "github.com/rotisserie/eris"

// TurnoverEstimate holds the pre-computed annual cost-of-turnover range used
// to seed research summaries and message personalization.
type TurnoverEstimate struct {
	Low          float64 `json:"low"`           // annual cost, conservative
	High         float64 `json:"high"`          // annual cost, aggressive
	SalaryUsed   float64 `json:"salary_used"`   // average salary assumption
	IndustryUsed string  `json:"industry_used"` // industry bucket matched, "" = default
}

// Turnover-rate and replacement-cost assumptions. Low bound: 12% annual
// attrition at 1.0x salary replacement cost. High bound: 18% attrition at
// 1.5x salary.
const (
	lowAttritionRate   = 0.12
	highAttritionRate  = 0.18
	lowReplacementMul  = 1.0
	highReplacementMul = 1.5

	defaultSalary = 65000.0
)

// industrySalaries maps a normalized industry bucket to an average salary
// assumption in USD.
var industrySalaries = map[string]float64{
	"technology":    110000,
	"software":      110000,
	"finance":       95000,
	"healthcare":    75000,
	"manufacturing": 62000,
	"retail":        42000,
	"hospitality":   38000,
	"construction":  58000,
	"education":     55000,
	"logistics":     52000,
}

// Turnover computes the estimated annual cost-of-turnover range for a company
// with the given headcount and industry. The computation is deterministic:
// identical inputs always yield identical outputs, which keeps cached research
// records reproducible.
func Turnover(employeeCount int, industry string) (*TurnoverEstimate, error) {
	if employeeCount <= 0 {
		return nil, eris.New("estimate: employee count must be positive")
	}

	salary := defaultSalary
	used := ""
	if s, ok := industrySalaries[normalizeIndustry(industry)]; ok {
		salary = s
		used = normalizeIndustry(industry)
	}

	return &TurnoverEstimate{
		Low:          float64(employeeCount) * lowAttritionRate * salary * lowReplacementMul,
		High:         float64(employeeCount) * highAttritionRate * salary * highReplacementMul,
		SalaryUsed:   salary,
		IndustryUsed: used,
	}, nil
}

func normalizeIndustry(industry string) string {
	out := make([]rune, 0, len(industry))
	for _, r := range industry {
		switch {
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		case r >= 'a' && r <= 'z':
			out = append(out, r)
		}
	}
	return string(out)
}
