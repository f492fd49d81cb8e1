package domain

import "testing"

func TestRecipientClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		phone string
		want  EligibilityClass
	}{
		{name: "valid e164", phone: "+905551112233", want: EligibilityValid},
		{name: "empty means no channel", phone: "", want: EligibilityNoChannel},
		{name: "whitespace means no channel", phone: "   ", want: EligibilityNoChannel},
		{name: "missing plus prefix", phone: "905551112233", want: EligibilityInvalid},
		{name: "too short", phone: "+90555", want: EligibilityInvalid},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := Recipient{ID: "rec-1", PhoneNumber: tt.phone}
			if got := r.Classify(); got != tt.want {
				t.Fatalf("Classify(%q) = %s, want %s", tt.phone, got, tt.want)
			}
		})
	}
}

func TestRecipientClassify_PresetEligibilityWins(t *testing.T) {
	t.Parallel()

	r := Recipient{ID: "rec-1", PhoneNumber: "+905551112233", Eligibility: EligibilityInvalid}
	if got := r.Classify(); got != EligibilityInvalid {
		t.Fatalf("Classify() = %s, want %s", got, EligibilityInvalid)
	}
}

func TestPreflightReportStartable(t *testing.T) {
	t.Parallel()

	if (PreflightReport{Valid: 0, Invalid: 10}).Startable() {
		t.Fatal("Startable() = true with zero valid recipients")
	}
	if !(PreflightReport{Valid: 1, Invalid: 10, NoChannel: 3}).Startable() {
		t.Fatal("Startable() = false with a valid recipient")
	}
	if (PreflightReport{Valid: 5, Errors: []string{"audience store unreachable"}}).Startable() {
		t.Fatal("Startable() = true despite snapshot errors")
	}
}
