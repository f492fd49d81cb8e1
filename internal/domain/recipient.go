package domain

import "strings"

// EligibilityClass buckets audience members for the pre-flight check.
type EligibilityClass string

const (
	EligibilityValid     EligibilityClass = "VALID"
	EligibilityInvalid   EligibilityClass = "INVALID"
	EligibilityNoChannel EligibilityClass = "NO_CHANNEL"
)

func (c EligibilityClass) String() string { return string(c) }

// Recipient is a read-only view of one audience member. The audience store is
// an external collaborator; the scheduler only snapshots it at campaign start
// and never writes back.
type Recipient struct {
	ID          string
	PhoneNumber string
	Eligibility EligibilityClass
}

// Classify derives the eligibility class from what the scheduler can see: a
// missing phone number means no WhatsApp channel, an unparsable one is invalid.
func (r Recipient) Classify() EligibilityClass {
	if r.Eligibility != "" {
		return r.Eligibility
	}
	phone := strings.TrimSpace(r.PhoneNumber)
	if phone == "" {
		return EligibilityNoChannel
	}
	if !strings.HasPrefix(phone, "+") || len(phone) < 8 {
		return EligibilityInvalid
	}
	return EligibilityValid
}

// PreflightReport is the pre-flight check result for one campaign.
type PreflightReport struct {
	Valid     int
	Invalid   int
	NoChannel int
	Errors    []string
}

// Startable reports whether campaign start is allowed at all.
func (p PreflightReport) Startable() bool {
	return p.Valid > 0 && len(p.Errors) == 0
}
