package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"github.com/psigestao/plansync/internal/auth"
	internalerrors "github.com/psigestao/plansync/internal/errors"
	"github.com/psigestao/plansync/pkg/billing"
)

// StripeResolver reads a user's subscription straight from Stripe: the
// customer is found by email, with its subscriptions expanded into the same
// response, and its best subscription decides the plan.
type StripeResolver struct {
	findCustomer func(ctx context.Context, email string) (*stripe.Customer, error)
	clock        clockwork.Clock
	logger       zerolog.Logger
}

// NewStripeResolver builds a resolver using secretKey. Network retries are
// disabled; the engine decides when to try again.
func NewStripeResolver(secretKey string, httpClient *http.Client, clock clockwork.Clock, logger zerolog.Logger) *StripeResolver {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	backendConfig := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(0),
	}
	if httpClient != nil {
		backendConfig.HTTPClient = httpClient
	}
	sc := &client.API{}
	sc.Init(strings.TrimSpace(secretKey), &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendConfig),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendConfig),
	})

	r := &StripeResolver{
		clock:  clock,
		logger: logger.With().Str("component", "stripe_resolver").Logger(),
	}
	// One request per resolve: the customer list page carries the current
	// subscriptions, so no follow-up call is made. Ended subscriptions are
	// not part of that list.
	r.findCustomer = func(ctx context.Context, email string) (*stripe.Customer, error) {
		params := &stripe.CustomerListParams{Email: stripe.String(email)}
		params.Context = ctx
		params.Limit = stripe.Int64(1)
		params.Single = true
		params.AddExpand("data.subscriptions")
		iter := sc.Customers.List(params)
		if iter.Next() {
			return iter.Customer(), nil
		}
		return nil, iter.Err()
	}
	return r
}

// ResolveSubscription implements subsync.Resolver.
func (r *StripeResolver) ResolveSubscription(ctx context.Context, id auth.Identity) (billing.SubscriptionSnapshot, error) {
	email := strings.ToLower(strings.TrimSpace(id.Email))
	if email == "" {
		return billing.SubscriptionSnapshot{}, internalerrors.NewSyncError(internalerrors.ErrorTypeAuth, "resolve_stripe", id.UserID, internalerrors.ErrNoUser)
	}

	cust, err := r.findCustomer(ctx, email)
	if err != nil {
		return billing.SubscriptionSnapshot{}, wrapStripeError("find_customer", id.UserID, err)
	}
	now := r.clock.Now()
	if cust == nil {
		r.logger.Debug().Str("user_id", id.UserID).Msg("No Stripe customer; free plan")
		return billing.FreeSnapshot(now), nil
	}

	var subs []*stripe.Subscription
	if cust.Subscriptions != nil {
		subs = cust.Subscriptions.Data
	}
	best := pickSubscription(subs)
	if best == nil {
		r.logger.Debug().Str("user_id", id.UserID).Str("customer_id", cust.ID).Msg("No Stripe subscription; free plan")
		return billing.FreeSnapshot(now), nil
	}
	return snapshotFromSubscription(best, id.UserID, now)
}

// pickSubscription returns the subscription whose status ranks highest. Ties
// keep the first one listed, which Stripe orders newest first.
func pickSubscription(subs []*stripe.Subscription) *stripe.Subscription {
	var best *stripe.Subscription
	for _, sub := range subs {
		if sub == nil {
			continue
		}
		if best == nil || billing.PreferStripeStatus(string(sub.Status), string(best.Status)) {
			best = sub
		}
	}
	return best
}

func snapshotFromSubscription(sub *stripe.Subscription, userID string, now time.Time) (billing.SubscriptionSnapshot, error) {
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0] == nil {
		return billing.SubscriptionSnapshot{}, internalerrors.WrapMalformedError("resolve_stripe", userID,
			fmt.Errorf("subscription %s has no items", sub.ID))
	}
	item := sub.Items.Data[0]

	var metadata map[string]string
	var lookupKey string
	if item.Price != nil {
		metadata = item.Price.Metadata
		lookupKey = item.Price.LookupKey
	}
	slug, ok := billing.DerivePlanSlug(metadata, lookupKey)
	if !ok {
		slug, ok = billing.DerivePlanSlug(sub.Metadata, "")
	}
	if !ok {
		return billing.SubscriptionSnapshot{}, internalerrors.WrapMalformedError("resolve_stripe", userID,
			fmt.Errorf("subscription %s has no recognizable plan", sub.ID))
	}

	var expiresAt *time.Time
	if item.CurrentPeriodEnd > 0 {
		t := time.Unix(item.CurrentPeriodEnd, 0).UTC()
		expiresAt = &t
	}

	status := billing.MapStripeSubscriptionStatus(string(sub.Status))
	snap, ok := billing.NewSnapshot(slug, status, sub.CancelAtPeriodEnd, expiresAt, now)
	if !ok {
		return billing.SubscriptionSnapshot{}, internalerrors.WrapMalformedError("resolve_stripe", userID,
			fmt.Errorf("cannot build snapshot for plan %q status %q", slug, status))
	}
	return snap, nil
}

func wrapStripeError(op, userID string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode > 0 {
		return internalerrors.NewSyncError(internalerrors.ErrorTypeTransport, op, userID, err).WithStatusCode(stripeErr.HTTPStatusCode)
	}
	return internalerrors.WrapTransportError(op, userID, err)
}
