package explain

import (
	"fmt"

	"github.com/opensource-finance/caretrust/internal/domain"
)

// calibration grades one feature by its raw value. Numeric features are
// strong at or above strong and weak below weak; flags are strong when
// set. Categorical features fall back to their normalized value.
type calibration struct {
	strong, weak float64
	format       func(float64) string
	high, mid    string
	low          string
}

func percent(v float64) string { return fmt.Sprintf("%.0f%%", v*100) }
func whole(v float64) string   { return fmt.Sprintf("%.0f", v) }
func oneDecimal(v float64) string {
	return fmt.Sprintf("%.1f", v)
}

// Categorical features whose normalized value is at least this are
// described as strong, below categoricalWeak as weak.
const (
	categoricalStrong = 70.0
	categoricalWeak   = 50.0
)

var calibrations = map[string]calibration{
	"age_group": {
		high: "Age group {{.value}} is associated with stable repayment.",
		mid:  "Age group {{.value}} is neutral for this score.",
		low:  "Age group {{.value}} carries less weight in this score.",
	},
	"region_type": {
		high: "Living in a {{.value}} area is a positive stability signal.",
		mid:  "Region type {{.value}} is neutral for this score.",
		low:  "Region type {{.value}} adds little to this score.",
	},
	"residence_years": {
		strong: 5, weak: 2, format: oneDecimal,
		high: "{{.value}} years at the same residence shows strong stability.",
		mid:  "{{.value}} years at the same residence is moderate stability.",
		low:  "Only {{.value}} years at the current residence.",
	},
	"has_id_document": {
		high: "An identity document is on file.",
		low:  "No identity document is on file.",
	},
	"bill_payment_rate": {
		strong: 0.9, weak: 0.6, format: percent,
		high: "Bills paid on time {{.value}} of the time.",
		mid:  "Bills paid on time {{.value}} of the time; more consistency would help.",
		low:  "Bills paid on time only {{.value}} of the time.",
	},
	"payment_consistency": {
		strong: 0.8, weak: 0.5, format: percent,
		high: "Payments are highly consistent ({{.value}}).",
		mid:  "Payments are somewhat consistent ({{.value}}).",
		low:  "Payments are irregular ({{.value}}).",
	},
	"savings_group_member": {
		high: "Member of a savings group.",
		low:  "Not a member of a savings group.",
	},
	"mobile_money_months": {
		strong: 12, weak: 3, format: whole,
		high: "{{.value}} months of mobile money history.",
		mid:  "{{.value}} months of mobile money history; a year or more is stronger.",
		low:  "Only {{.value}} months of mobile money history.",
	},
	"income_ratio": {
		strong: 1.0, weak: 0.5, format: percent,
		high: "Income is {{.value}} of the regional benchmark.",
		mid:  "Income is {{.value}} of the regional benchmark.",
		low:  "Income is only {{.value}} of the regional benchmark.",
	},
	"income_sources": {
		strong: 3, weak: 2, format: whole,
		high: "{{.value}} independent income sources.",
		mid:  "{{.value}} income sources.",
		low:  "A single source of income ({{.value}}).",
	},
	"cooperative_member": {
		high: "Member of a cooperative.",
		low:  "Not a member of a cooperative.",
	},
	"asset_ownership": {
		high: "Owns {{.value}} assets.",
		mid:  "Asset ownership ({{.value}}) is neutral for this score.",
		low:  "Limited assets on record ({{.value}}).",
	},
	"testimony_count": {
		strong: 3, weak: 1, format: whole,
		high: "{{.value}} testimonies support this record.",
		mid:  "{{.value}} testimonies on record; three or more are stronger.",
		low:  "No testimonies on record.",
	},
	"avg_testimony_rating": {
		strong: 4, weak: 3, format: oneDecimal,
		high: "Verifiers rate the work {{.value}} out of 5 on average.",
		mid:  "Verifiers rate the work {{.value}} out of 5 on average.",
		low:  "Verifiers rate the work only {{.value}} out of 5 on average.",
	},
	"verifier_trust": {
		strong: 0.8, weak: 0.5, format: percent,
		high: "Testimonies come from highly trusted verifiers ({{.value}} trust).",
		mid:  "Verifiers carry moderate trust ({{.value}}).",
		low:  "Verifiers carry low trust ({{.value}}).",
	},
	"unique_verifiers": {
		strong: 3, weak: 2, format: whole,
		high: "{{.value}} different people have verified this work.",
		mid:  "{{.value}} different verifiers; three or more are stronger.",
		low:  "Fewer than two distinct verifiers ({{.value}}).",
	},
	"monthly_care_hours": {
		strong: 80, weak: 20, format: whole,
		high: "{{.value}} hours of care work in the last 30 days.",
		mid:  "{{.value}} hours of care work in the last 30 days.",
		low:  "Only {{.value}} hours of care work in the last 30 days.",
	},
	"care_multiplier": {
		strong: 1.2, weak: 1.05, format: oneDecimal,
		high: "Care work is weighted at {{.value}}x for its intensity.",
		mid:  "Care work is weighted at {{.value}}x.",
		low:  "Care work carries a low intensity weight ({{.value}}x).",
	},
	"activity_consistency": {
		strong: 0.6, weak: 0.2, format: percent,
		high: "Active on {{.value}} of the last 30 days.",
		mid:  "Active on {{.value}} of the last 30 days.",
		low:  "Active on only {{.value}} of the last 30 days.",
	},
	"verified_ratio": {
		strong: 0.7, weak: 0.3, format: percent,
		high: "{{.value}} of recent activities are verified.",
		mid:  "{{.value}} of recent activities are verified.",
		low:  "Only {{.value}} of recent activities are verified.",
	},
}

const missingTemplate = "No {{.label}} on record; a neutral value was used."

// tier names the calibration template that applies to a feature score.
func (c calibration) tier(f domain.FeatureScore) string {
	switch f.Raw.Kind {
	case domain.RawFlag:
		if f.Raw.Flag {
			return "high"
		}
		return "low"
	case domain.RawNumber:
		switch {
		case f.Raw.Num >= c.strong:
			return "high"
		case f.Raw.Num < c.weak:
			return "low"
		default:
			return "mid"
		}
	default:
		switch {
		case f.Normalized >= categoricalStrong:
			return "high"
		case f.Normalized < categoricalWeak:
			return "low"
		default:
			return "mid"
		}
	}
}

func (c calibration) value(raw domain.RawValue) string {
	if raw.Kind == domain.RawNumber && c.format != nil {
		return c.format(raw.Num)
	}
	return raw.String()
}
