package billing

import "strings"

// Status is the reconciled lifecycle state of a subscription.
type Status string

const (
	StatusActive    Status = "active"
	StatusTrial     Status = "trial"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// IsValidStatus reports whether status is one of the known lifecycle states.
func IsValidStatus(status Status) bool {
	switch status {
	case StatusActive, StatusTrial, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// ParseStatus normalizes a status string. Unknown values fail closed to expired.
func ParseStatus(raw string) (Status, bool) {
	status := Status(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case "canceled":
		return StatusCancelled, true
	case "trialing":
		return StatusTrial, true
	}
	if IsValidStatus(status) {
		return status, true
	}
	return StatusExpired, false
}

// MapStripeSubscriptionStatus converts a Stripe subscription status into a
// reconciled Status.
func MapStripeSubscriptionStatus(status string) Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active":
		return StatusActive
	case "trialing":
		return StatusTrial
	case "past_due":
		// Stripe is still retrying the charge; the period is paid up.
		return StatusActive
	case "canceled":
		return StatusCancelled
	case "unpaid", "paused", "incomplete", "incomplete_expired":
		return StatusExpired
	default:
		// Fail closed: unknown status should not grant paid features.
		return StatusExpired
	}
}

// GrantsPaidFeatures reports whether plan features apply in the given state.
func GrantsPaidFeatures(status Status) bool {
	switch status {
	case StatusActive, StatusTrial:
		return true
	default:
		return false
	}
}

// stripeStatusRank orders Stripe statuses when a customer has several
// subscriptions; the highest rank wins.
func stripeStatusRank(status string) int {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active":
		return 5
	case "trialing":
		return 4
	case "past_due":
		return 3
	case "unpaid", "paused":
		return 2
	case "canceled":
		return 1
	default:
		return 0
	}
}

// PreferStripeStatus reports whether candidate should replace current when
// picking the authoritative subscription of a customer.
func PreferStripeStatus(candidate, current string) bool {
	return stripeStatusRank(candidate) > stripeStatusRank(current)
}
