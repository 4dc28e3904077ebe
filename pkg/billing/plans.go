package billing

import (
	"slices"
	"strings"
)

// PlanSlug identifies a subscription plan.
type PlanSlug string

const (
	PlanFree       PlanSlug = "free"
	PlanPsiRegular PlanSlug = "psi_regular"
	PlanGestao     PlanSlug = "gestao"
)

// UnlimitedPatients marks a plan without a patient cap.
const UnlimitedPatients = -1

// Feature keys gated by plan.
const (
	FeaturePatientRecords = "patient_records"
	FeatureScheduling     = "scheduling"
	FeatureBilling        = "billing"
	FeatureTaxDocuments   = "tax_documents"
	FeatureReports        = "reports"
	FeatureMultiTenant    = "multi_professional"
)

// Plan describes what a plan slug grants.
type Plan struct {
	Slug         PlanSlug
	Name         string
	PatientLimit int
	Features     []string
}

var plans = map[PlanSlug]Plan{
	PlanFree: {
		Slug:         PlanFree,
		Name:         "Gratuito",
		PatientLimit: 3,
		Features:     []string{FeaturePatientRecords},
	},
	PlanPsiRegular: {
		Slug:         PlanPsiRegular,
		Name:         "Psi Regular",
		PatientLimit: 60,
		Features:     []string{FeaturePatientRecords, FeatureScheduling, FeatureBilling},
	},
	PlanGestao: {
		Slug:         PlanGestao,
		Name:         "Gestão",
		PatientLimit: UnlimitedPatients,
		Features: []string{
			FeaturePatientRecords,
			FeatureScheduling,
			FeatureBilling,
			FeatureTaxDocuments,
			FeatureReports,
			FeatureMultiTenant,
		},
	},
}

// aliases maps legacy and billing-provider spellings onto canonical slugs.
var aliases = map[string]PlanSlug{
	"psi-regular":   PlanPsiRegular,
	"regular":       PlanPsiRegular,
	"gestão":        PlanGestao,
	"gestao_mensal": PlanGestao,
	"":              PlanFree,
}

// ParsePlanSlug resolves raw into a known plan slug.
func ParsePlanSlug(raw string) (PlanSlug, bool) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if slug, ok := aliases[normalized]; ok {
		return slug, true
	}
	if _, ok := plans[PlanSlug(normalized)]; ok {
		return PlanSlug(normalized), true
	}
	return "", false
}

// LookupPlan returns the plan definition for slug.
func LookupPlan(slug PlanSlug) (Plan, bool) {
	plan, ok := plans[slug]
	if !ok {
		return Plan{}, false
	}
	plan.Features = slices.Clone(plan.Features)
	return plan, true
}

// Plans returns all known plans ordered by slug.
func Plans() []Plan {
	out := make([]Plan, 0, len(plans))
	for _, plan := range plans {
		plan.Features = slices.Clone(plan.Features)
		out = append(out, plan)
	}
	slices.SortFunc(out, func(a, b Plan) int {
		return strings.Compare(string(a.Slug), string(b.Slug))
	})
	return out
}

// DerivePlanSlug picks a plan slug from Stripe price metadata, falling back to
// the price lookup key.
func DerivePlanSlug(metadata map[string]string, lookupKey string) (PlanSlug, bool) {
	if metadata != nil {
		for _, key := range []string{"plan", "plan_slug"} {
			if v := strings.TrimSpace(metadata[key]); v != "" {
				return ParsePlanSlug(v)
			}
		}
	}
	if v := strings.TrimSpace(lookupKey); v != "" {
		return ParsePlanSlug(v)
	}
	return "", false
}
