package billing

import "testing"

func TestMapStripeSubscriptionStatus(t *testing.T) {
	tests := []struct {
		name   string
		status string
		want   Status
	}{
		{name: "active", status: "active", want: StatusActive},
		{name: "trialing", status: "trialing", want: StatusTrial},
		{name: "past due", status: "past_due", want: StatusActive},
		{name: "unpaid", status: "unpaid", want: StatusExpired},
		{name: "canceled", status: "canceled", want: StatusCancelled},
		{name: "paused", status: "paused", want: StatusExpired},
		{name: "incomplete", status: "incomplete", want: StatusExpired},
		{name: "incomplete expired", status: "incomplete_expired", want: StatusExpired},
		{name: "unknown", status: "unknown", want: StatusExpired},
		{name: "trim and case", status: "  ACTIVE  ", want: StatusActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MapStripeSubscriptionStatus(tt.status); got != tt.want {
				t.Fatalf("status=%q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		raw    string
		want   Status
		wantOK bool
	}{
		{raw: "active", want: StatusActive, wantOK: true},
		{raw: "Trial", want: StatusTrial, wantOK: true},
		{raw: "trialing", want: StatusTrial, wantOK: true},
		{raw: "canceled", want: StatusCancelled, wantOK: true},
		{raw: "cancelled", want: StatusCancelled, wantOK: true},
		{raw: "expired", want: StatusExpired, wantOK: true},
		{raw: "bogus", want: StatusExpired, wantOK: false},
		{raw: "", want: StatusExpired, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := ParseStatus(tt.raw)
			if got != tt.want || ok != tt.wantOK {
				t.Fatalf("ParseStatus(%q) = (%q, %t), want (%q, %t)", tt.raw, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestGrantsPaidFeatures(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{status: StatusActive, want: true},
		{status: StatusTrial, want: true},
		{status: StatusCancelled, want: false},
		{status: StatusExpired, want: false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := GrantsPaidFeatures(tt.status); got != tt.want {
				t.Fatalf("paid=%t, want %t", got, tt.want)
			}
		})
	}
}

func TestPreferStripeStatus(t *testing.T) {
	if !PreferStripeStatus("active", "canceled") {
		t.Fatalf("active should win over canceled")
	}
	if !PreferStripeStatus("trialing", "past_due") {
		t.Fatalf("trialing should win over past_due")
	}
	if PreferStripeStatus("canceled", "active") {
		t.Fatalf("canceled should not replace active")
	}
	if PreferStripeStatus("incomplete", "canceled") {
		t.Fatalf("incomplete should not replace canceled")
	}
}
