package gateway

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/npai/quota-engine/internal/behavior"
	"github.com/npai/quota-engine/internal/models"
	"github.com/npai/quota-engine/internal/penalty"
	"github.com/npai/quota-engine/internal/quota"
	"github.com/npai/quota-engine/internal/ratelimit"
	"github.com/npai/quota-engine/internal/registry"
)

// Machine-parseable denial reasons.
const (
	ReasonOK            = "ok"
	ReasonInvalidKey    = "invalid_key"
	ReasonPenalized     = "penalized"
	ReasonQuotaExceeded = "quota_exceeded"
	ReasonRuleViolation = "rule_violation"
)

// Request is the metadata the host web layer hands over, once per
// inbound request.
type Request struct {
	IP             string `json:"ip"`
	UserID         string `json:"user_id,omitempty"`
	APIKey         string `json:"api_key,omitempty"` // raw key from the X-API-Key header
	Endpoint       string `json:"endpoint"`
	Method         string `json:"method"`
	GeoRegion      string `json:"geo_region,omitempty"`
	UserAgent      string `json:"user_agent,omitempty"`
	ParamHash      string `json:"param_hash,omitempty"`
	ResponseBytes  int64  `json:"response_bytes,omitempty"`
	ComputeSeconds int64  `json:"compute_seconds,omitempty"`
}

// Verdict is the single allow/deny answer with everything the web
// layer needs to render the response.
type Verdict struct {
	Allowed    bool              `json:"allowed"`
	HTTPStatus int               `json:"http_status"`
	Reason     string            `json:"reason"`
	RetryAfter int               `json:"retry_after,omitempty"` // seconds
	Headers    map[string]string `json:"headers"`
	IncidentID string            `json:"incident_id,omitempty"`
	Message    string            `json:"message,omitempty"`
}

// IncidentStore persists block-decision audit records.
type IncidentStore interface {
	Create(ctx context.Context, incident *models.Incident) error
}

// Gateway composes the registry, accountant, penalty engine, scorer
// and rule evaluator into one decision per request.
type Gateway struct {
	registry   *registry.Registry
	accountant *quota.Accountant
	penalties  *penalty.Engine
	scorer     *behavior.Scorer
	evaluator  *ratelimit.Evaluator
	incidents  IncidentStore
}

func New(reg *registry.Registry, acct *quota.Accountant, pen *penalty.Engine, scorer *behavior.Scorer, eval *ratelimit.Evaluator, incidents IncidentStore) *Gateway {
	return &Gateway{
		registry:   reg,
		accountant: acct,
		penalties:  pen,
		scorer:     scorer,
		evaluator:  eval,
		incidents:  incidents,
	}
}

// Evaluate runs the full decision chain. First failing check wins.
// Order: key validation (identity needs it), penalty lookup (cheapest
// rejection), tier quota, then behavioral score + rate rules.
func (g *Gateway) Evaluate(ctx context.Context, req Request) Verdict {
	identity := ratelimit.Identity{
		IP:        req.IP,
		UserID:    req.UserID,
		Endpoint:  req.Endpoint,
		GeoRegion: req.GeoRegion,
	}

	var apiKey *models.APIKey
	if req.APIKey != "" {
		key, ok := g.registry.Validate(ctx, req.APIKey)
		if !ok {
			// Uniform denial: unknown, malformed, suspended and
			// revoked keys are indistinguishable to the caller.
			return g.deny(ctx, identity, nil, Verdict{
				HTTPStatus: http.StatusUnauthorized,
				Reason:     ReasonInvalidKey,
				Headers:    map[string]string{},
				Message:    "invalid API key",
			}, "", models.SeverityMedium)
		}
		apiKey = key
		identity.APIKeyID = key.KeyID
		g.registry.TouchLastUsed(ctx, key.ID)
	}

	if blocked, remaining := g.penalties.IsPenalized(ctx, identity.Key()); blocked {
		retry := int(remaining.Seconds()) + 1
		return g.deny(ctx, identity, apiKey, Verdict{
			HTTPStatus: http.StatusTooManyRequests,
			Reason:     ReasonPenalized,
			RetryAfter: retry,
			Headers:    retryHeaders(retry),
			Message:    fmt.Sprintf("temporarily blocked, retry in %ds", retry),
		}, "penalty_escalation", models.SeverityHigh)
	}

	if apiKey != nil {
		tier, ok := g.registry.Tier(apiKey.Tier)
		if !ok {
			// A key pointing at a tier the config no longer defines
			// fails closed.
			log.Printf("api key %s references unknown tier %q", apiKey.KeyID, apiKey.Tier)
			return g.deny(ctx, identity, apiKey, Verdict{
				HTTPStatus: http.StatusForbidden,
				Reason:     ReasonInvalidKey,
				Headers:    map[string]string{},
				Message:    "key tier not available",
			}, "", models.SeverityMedium)
		}

		cost := quota.RequestCost(req.ResponseBytes, req.ComputeSeconds)
		result, err := g.accountant.CheckAndReserve(ctx, apiKey.ID, tier, cost)
		if err != nil {
			// Quota accounting is durable state; losing it means we
			// cannot hold tier guarantees, so this denies.
			log.Printf("quota reservation failed for %s: %v", apiKey.KeyID, err)
			return g.deny(ctx, identity, apiKey, Verdict{
				HTTPStatus: http.StatusTooManyRequests,
				Reason:     ReasonQuotaExceeded,
				RetryAfter: 60,
				Headers:    retryHeaders(60),
				Message:    "quota check unavailable",
			}, "", models.SeverityLow)
		}
		if !result.Allowed {
			limits := tier.DailyLimits()
			if result.Period == models.PeriodMonthly {
				limits = tier.MonthlyLimits()
			}
			retry := int(result.RetryAfter.Seconds()) + 1
			headers := retryHeaders(retry)
			headers["X-RateLimit-Limit"] = fmt.Sprintf("%d", limits.Requests)
			headers["X-RateLimit-Remaining"] = "0"
			headers["X-RateLimit-Reset"] = fmt.Sprintf("%d", result.ResetAt.Unix())
			return g.deny(ctx, identity, apiKey, Verdict{
				HTTPStatus: http.StatusTooManyRequests,
				Reason:     ReasonQuotaExceeded,
				RetryAfter: retry,
				Headers:    headers,
				Message:    fmt.Sprintf("%s quota exhausted, resets at %s", result.Period, result.ResetAt.UTC().Format(time.RFC3339)),
			}, "quota_"+result.Period, models.SeverityLow)
		}
	}

	multiplier := 1.0
	if g.scorer != nil {
		multiplier = g.scorer.Score(identity.Key(), behavior.Features{
			Endpoint:  req.Endpoint,
			ParamHash: req.ParamHash,
			UserAgent: req.UserAgent,
		})
	}

	decision, err := g.evaluator.Evaluate(ctx, identity, multiplier)
	if err != nil {
		// The failover store recovers backend loss internally, so an
		// error here is unexpected. Fail open for availability.
		log.Printf("rule evaluation error for %s: %v", identity.Key(), err)
		return Verdict{
			Allowed:    true,
			HTTPStatus: http.StatusOK,
			Reason:     ReasonOK,
			Headers:    map[string]string{},
		}
	}

	if !decision.Allowed {
		g.penalties.RecordViolation(ctx, identity.Key())

		retry := int(decision.RetryAfter.Seconds()) + 1
		headers := decisionHeaders(decision)
		headers["Retry-After"] = fmt.Sprintf("%d", retry)
		return g.deny(ctx, identity, apiKey, Verdict{
			HTTPStatus: http.StatusTooManyRequests,
			Reason:     ReasonRuleViolation,
			RetryAfter: retry,
			Headers:    headers,
			Message:    fmt.Sprintf("rate limit exceeded, retry in %ds", retry),
		}, decision.LimitingRule.Name, severityFor(decision.LimitingRule))
	}

	return Verdict{
		Allowed:    true,
		HTTPStatus: http.StatusOK,
		Reason:     ReasonOK,
		Headers:    decisionHeaders(decision),
	}
}

// deny finalizes a blocking verdict and writes its audit record off
// the hot path.
func (g *Gateway) deny(ctx context.Context, identity ratelimit.Identity, apiKey *models.APIKey, verdict Verdict, rule, severity string) Verdict {
	verdict.Allowed = false
	if verdict.Headers == nil {
		verdict.Headers = map[string]string{}
	}

	incident := models.Incident{
		ID:            uuid.New(),
		Timestamp:     time.Now(),
		IdentityKey:   identity.Key(),
		IPAddress:     identity.IP,
		Endpoint:      identity.Endpoint,
		RuleTriggered: rule,
		Reason:        verdict.Reason,
		Severity:      severity,
		ActionTaken:   fmt.Sprintf("blocked_%d", verdict.HTTPStatus),
	}
	if apiKey != nil {
		incident.DeveloperID = apiKey.DeveloperID
		keyID := apiKey.ID
		incident.APIKeyID = &keyID
	}
	verdict.IncidentID = incident.ID.String()

	if g.incidents != nil {
		go func() {
			if err := g.incidents.Create(context.WithoutCancel(ctx), &incident); err != nil {
				log.Printf("failed to record incident %s: %v", incident.ID, err)
			}
		}()
	}

	return verdict
}

func decisionHeaders(d ratelimit.Decision) map[string]string {
	headers := map[string]string{}
	if d.LimitingRule != nil {
		headers["X-RateLimit-Limit"] = fmt.Sprintf("%d", d.Limit)
		headers["X-RateLimit-Remaining"] = fmt.Sprintf("%d", d.Remaining)
		headers["X-RateLimit-Reset"] = fmt.Sprintf("%d", d.Reset.Unix())
	}
	return headers
}

func retryHeaders(seconds int) map[string]string {
	return map[string]string{
		"Retry-After": fmt.Sprintf("%d", seconds),
	}
}

func severityFor(rule *ratelimit.Rule) string {
	switch rule.Scope {
	case "burst":
		return models.SeverityMedium
	case "global":
		return models.SeverityCritical
	default:
		return models.SeverityLow
	}
}
