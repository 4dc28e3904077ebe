package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/psigestao/plansync/internal/auth"
	internalerrors "github.com/psigestao/plansync/internal/errors"
	"github.com/psigestao/plansync/pkg/billing"
)

const maxFunctionResponseBytes = 64 << 10

// FunctionResolver asks the hosted check-subscription function for the
// user's plan, authenticating with the user's own access token.
type FunctionResolver struct {
	url    string
	client *http.Client
	clock  clockwork.Clock
	logger zerolog.Logger
}

// NewFunctionResolver builds a resolver posting to url. A nil httpClient uses
// http.DefaultClient.
func NewFunctionResolver(url string, httpClient *http.Client, clock clockwork.Clock, logger zerolog.Logger) *FunctionResolver {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &FunctionResolver{
		url:    strings.TrimSpace(url),
		client: httpClient,
		clock:  clock,
		logger: logger.With().Str("component", "function_resolver").Logger(),
	}
}

type functionRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
}

type functionResponse struct {
	Subscribed        *bool   `json:"subscribed"`
	Plan              string  `json:"plan"`
	Status            string  `json:"status"`
	CancelAtPeriodEnd bool    `json:"cancel_at_period_end"`
	SubscriptionEnd   *string `json:"subscription_end"`
}

// ResolveSubscription implements subsync.Resolver.
func (r *FunctionResolver) ResolveSubscription(ctx context.Context, id auth.Identity) (billing.SubscriptionSnapshot, error) {
	const op = "resolve_function"

	if strings.TrimSpace(id.AccessToken) == "" {
		return billing.SubscriptionSnapshot{}, internalerrors.WrapAuthError(op, id.UserID, internalerrors.ErrUnauthorized)
	}

	body, err := json.Marshal(functionRequest{UserID: id.UserID, Email: id.Email})
	if err != nil {
		return billing.SubscriptionSnapshot{}, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return billing.SubscriptionSnapshot{}, internalerrors.WrapTransportError(op, id.UserID, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	clientCtx := context.WithValue(ctx, oauth2.HTTPClient, r.client)
	httpClient := oauth2.NewClient(clientCtx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: id.AccessToken,
		TokenType:   "Bearer",
	}))

	resp, err := httpClient.Do(req)
	if err != nil {
		return billing.SubscriptionSnapshot{}, internalerrors.WrapTransportError(op, id.UserID, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxFunctionResponseBytes))
	if err != nil {
		return billing.SubscriptionSnapshot{}, internalerrors.WrapTransportError(op, id.UserID, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return billing.SubscriptionSnapshot{}, internalerrors.WrapHTTPError(op, id.UserID, resp.StatusCode, string(raw))
	}

	var payload functionResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return billing.SubscriptionSnapshot{}, internalerrors.WrapMalformedError(op, id.UserID, fmt.Errorf("decode response: %w", err))
	}

	snap, err := payload.snapshot(r.clock.Now())
	if err != nil {
		return billing.SubscriptionSnapshot{}, internalerrors.WrapMalformedError(op, id.UserID, err)
	}
	r.logger.Debug().
		Str("user_id", id.UserID).
		Str("plan", string(snap.Plan)).
		Str("status", string(snap.Status)).
		Msg("Function resolved subscription")
	return snap, nil
}

// snapshot validates the payload. Any missing or unknown field fails the
// whole response.
func (p functionResponse) snapshot(now time.Time) (billing.SubscriptionSnapshot, error) {
	if p.Subscribed == nil {
		return billing.SubscriptionSnapshot{}, fmt.Errorf("missing subscribed flag")
	}
	if !*p.Subscribed && strings.TrimSpace(p.Plan) == "" {
		return billing.FreeSnapshot(now), nil
	}

	slug, ok := billing.ParsePlanSlug(p.Plan)
	if !ok || strings.TrimSpace(p.Plan) == "" {
		return billing.SubscriptionSnapshot{}, fmt.Errorf("unknown plan %q", p.Plan)
	}
	status, ok := billing.ParseStatus(p.Status)
	if !ok {
		return billing.SubscriptionSnapshot{}, fmt.Errorf("unknown status %q", p.Status)
	}

	var expiresAt *time.Time
	if p.SubscriptionEnd != nil && strings.TrimSpace(*p.SubscriptionEnd) != "" {
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(*p.SubscriptionEnd))
		if err != nil {
			return billing.SubscriptionSnapshot{}, fmt.Errorf("invalid subscription_end: %w", err)
		}
		expiresAt = &t
	}

	snap, ok := billing.NewSnapshot(slug, status, p.CancelAtPeriodEnd, expiresAt, now)
	if !ok {
		return billing.SubscriptionSnapshot{}, fmt.Errorf("cannot build snapshot for plan %q", slug)
	}
	return snap, nil
}
