package domain

import (
	"strconv"
	"time"
)

// CaregiverProfile holds the self-reported attributes of a scored subject.
// Nil pointers and empty strings mean the attribute was never supplied.
type CaregiverProfile struct {
	SubjectID string `json:"subjectId"`

	// Identity stability
	AgeGroup       string   `json:"ageGroup,omitempty"`
	RegionType     string   `json:"regionType,omitempty"`
	ResidenceYears *float64 `json:"residenceYears,omitempty"`
	HasIDDocument  *bool    `json:"hasIdDocument,omitempty"`

	// Behavioral finance
	BillPaymentRate    *float64 `json:"billPaymentRate,omitempty"`    // 0..1
	PaymentConsistency *float64 `json:"paymentConsistency,omitempty"` // 0..1
	SavingsGroupMember *bool    `json:"savingsGroupMember,omitempty"`
	MobileMoneyMonths  *float64 `json:"mobileMoneyMonths,omitempty"`

	// Economic proxies
	MonthlyIncome     *float64 `json:"monthlyIncome,omitempty"`
	IncomeSources     *int     `json:"incomeSources,omitempty"`
	CooperativeMember *bool    `json:"cooperativeMember,omitempty"`
	AssetOwnership    string   `json:"assetOwnership,omitempty"`

	JoinedAt  time.Time `json:"joinedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Ptr returns a pointer to v. Handy for optional profile fields.
func Ptr[T any](v T) *T {
	return &v
}

// RawKind tags the shape of a raw feature value.
type RawKind string

const (
	RawMissing RawKind = "missing"
	RawNumber  RawKind = "number"
	RawText    RawKind = "text"
	RawFlag    RawKind = "flag"
)

// RawValue is an unnormalized attribute as it entered the scorer.
type RawValue struct {
	Kind RawKind `json:"kind"`
	Num  float64 `json:"num,omitempty"`
	Text string  `json:"text,omitempty"`
	Flag bool    `json:"flag,omitempty"`
}

// Missing returns a raw value that was not supplied.
func Missing() RawValue { return RawValue{Kind: RawMissing} }

// Number wraps a numeric raw value.
func Number(v float64) RawValue { return RawValue{Kind: RawNumber, Num: v} }

// Text wraps a categorical raw value. Empty text is treated as missing.
func Text(s string) RawValue {
	if s == "" {
		return Missing()
	}
	return RawValue{Kind: RawText, Text: s}
}

// Flag wraps a boolean raw value.
func Flag(b bool) RawValue { return RawValue{Kind: RawFlag, Flag: b} }

// OptNumber wraps an optional float.
func OptNumber(v *float64) RawValue {
	if v == nil {
		return Missing()
	}
	return Number(*v)
}

// OptInt wraps an optional int.
func OptInt(v *int) RawValue {
	if v == nil {
		return Missing()
	}
	return Number(float64(*v))
}

// OptFlag wraps an optional bool.
func OptFlag(v *bool) RawValue {
	if v == nil {
		return Missing()
	}
	return Flag(*v)
}

// IsMissing reports whether the value was never supplied.
func (r RawValue) IsMissing() bool {
	return r.Kind == RawMissing || r.Kind == ""
}

// String renders the value for explanations.
func (r RawValue) String() string {
	switch r.Kind {
	case RawNumber:
		return strconv.FormatFloat(r.Num, 'f', -1, 64)
	case RawText:
		return r.Text
	case RawFlag:
		return strconv.FormatBool(r.Flag)
	default:
		return "n/a"
	}
}
