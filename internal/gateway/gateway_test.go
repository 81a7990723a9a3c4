package gateway

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/npai/quota-engine/internal/models"
	"github.com/npai/quota-engine/internal/penalty"
	"github.com/npai/quota-engine/internal/quota"
	"github.com/npai/quota-engine/internal/ratelimit"
	"github.com/npai/quota-engine/internal/registry"
)

// Fakes for the persistence interfaces the gateway composes.

type fakeKeyStore struct {
	mu   sync.Mutex
	keys map[string]*models.APIKey
}

func newFakeKeyStore() *fakeKeyStore {
	return &fakeKeyStore{keys: make(map[string]*models.APIKey)}
}

func (s *fakeKeyStore) Create(ctx context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	cp := *key
	s.keys[key.ID.String()] = &cp
	return nil
}

func (s *fakeKeyStore) FindByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.SecretHash == hash {
			cp := *k
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeKeyStore) FindByID(ctx context.Context, id string) (*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[id]; ok {
		cp := *k
		return &cp, nil
	}
	return nil, nil
}

func (s *fakeKeyStore) List(ctx context.Context) ([]models.APIKey, error) { return nil, nil }

func (s *fakeKeyStore) ListByDeveloper(ctx context.Context, developerID string) ([]models.APIKey, error) {
	return nil, nil
}

func (s *fakeKeyStore) UpdateStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[id]; ok {
		k.Status = status
	}
	return nil
}

func (s *fakeKeyStore) UpdateLastUsed(ctx context.Context, id uuid.UUID) error { return nil }

type fakeLedgerStore struct {
	mu   sync.Mutex
	used map[string]int64 // keyID|period -> requests used
}

func newFakeLedgerStore() *fakeLedgerStore {
	return &fakeLedgerStore{used: make(map[string]int64)}
}

func (s *fakeLedgerStore) Apply(ctx context.Context, keyID uuid.UUID, cost quota.Cost, checks []quota.PeriodCheck, now time.Time) ([]quota.Exceeded, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exceeded []quota.Exceeded
	for _, check := range checks {
		used := s.used[keyID.String()+"|"+check.Period]
		if check.Limits.Requests > 0 && used+cost.Requests > check.Limits.Requests {
			exceeded = append(exceeded, quota.Exceeded{
				Period:  check.Period,
				ResetAt: models.NextReset(check.Period, now),
			})
		}
	}
	if len(exceeded) > 0 {
		return exceeded, nil
	}
	for _, check := range checks {
		s.used[keyID.String()+"|"+check.Period] += cost.Requests
	}
	return nil, nil
}

func (s *fakeLedgerStore) Usage(ctx context.Context, keyID uuid.UUID) ([]models.QuotaLedger, error) {
	return nil, nil
}

type fakeIncidentStore struct {
	mu        sync.Mutex
	incidents []models.Incident
}

func (s *fakeIncidentStore) Create(ctx context.Context, incident *models.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents = append(s.incidents, *incident)
	return nil
}

func (s *fakeIncidentStore) waitFor(t *testing.T, n int) []models.Incident {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.Lock()
		count := len(s.incidents)
		out := append([]models.Incident(nil), s.incidents...)
		s.mu.Unlock()
		if count >= n {
			return out
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d incidents, got %d", n, count)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type testStack struct {
	gateway   *Gateway
	registry  *registry.Registry
	incidents *fakeIncidentStore
}

func newTestStack(tiers []models.Tier, rules []ratelimit.Rule) *testStack {
	incidents := &fakeIncidentStore{}
	reg := registry.New(newFakeKeyStore(), nil, tiers)
	acct := quota.NewAccountant(newFakeLedgerStore())
	pen := penalty.NewEngine(penalty.Config{Base: time.Minute}, nil)
	eval := ratelimit.NewEvaluator(ratelimit.NewMemoryStore(), rules)

	return &testStack{
		gateway:   New(reg, acct, pen, nil, eval, incidents),
		registry:  reg,
		incidents: incidents,
	}
}

func defaultRules() []ratelimit.Rule {
	return []ratelimit.Rule{
		{Name: "ip-minute", Scope: "ip", Window: time.Minute, MaxRequests: 5},
	}
}

func TestGateway_AllowsAnonymousUnderLimit(t *testing.T) {
	t.Parallel()

	stack := newTestStack(nil, defaultRules())
	verdict := stack.gateway.Evaluate(context.Background(), Request{
		IP:       "198.51.100.1",
		Endpoint: "/v1/orders",
	})

	if !verdict.Allowed {
		t.Fatalf("expected allow, got %+v", verdict)
	}
	if verdict.Reason != ReasonOK || verdict.HTTPStatus != http.StatusOK {
		t.Fatalf("unexpected verdict %+v", verdict)
	}
	if verdict.Headers["X-RateLimit-Limit"] != "5" {
		t.Fatalf("missing rate limit headers: %+v", verdict.Headers)
	}
	if verdict.Headers["X-RateLimit-Remaining"] != "4" {
		t.Fatalf("wrong remaining header: %+v", verdict.Headers)
	}
}

func TestGateway_DeniesInvalidKey(t *testing.T) {
	t.Parallel()

	stack := newTestStack([]models.Tier{{Name: "free", RequestsPerDay: 100, RequestsPerMonth: 1000}}, defaultRules())
	verdict := stack.gateway.Evaluate(context.Background(), Request{
		IP:       "198.51.100.2",
		APIKey:   "npai_free_not_a_real_key_material",
		Endpoint: "/v1/orders",
	})

	if verdict.Allowed {
		t.Fatalf("invalid key should deny")
	}
	if verdict.HTTPStatus != http.StatusUnauthorized || verdict.Reason != ReasonInvalidKey {
		t.Fatalf("unexpected verdict %+v", verdict)
	}
	if verdict.IncidentID == "" {
		t.Fatalf("denial without incident id")
	}

	incidents := stack.incidents.waitFor(t, 1)
	if incidents[0].Reason != ReasonInvalidKey {
		t.Fatalf("incident reason %q", incidents[0].Reason)
	}
	if incidents[0].ID.String() != verdict.IncidentID {
		t.Fatalf("verdict incident id does not match the stored record")
	}
}

func TestGateway_DeniesExhaustedQuota(t *testing.T) {
	t.Parallel()

	tiers := []models.Tier{{Name: "free", RequestsPerDay: 2, RequestsPerMonth: 1000}}
	rules := []ratelimit.Rule{
		{Name: "key-minute", Scope: "api_key", Window: time.Minute, MaxRequests: 100},
	}
	stack := newTestStack(tiers, rules)
	ctx := context.Background()

	_, raw, err := stack.registry.Generate(ctx, "dev-1", "free", "test key")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	req := Request{IP: "198.51.100.3", APIKey: raw, Endpoint: "/v1/orders"}
	for i := 0; i < 2; i++ {
		if verdict := stack.gateway.Evaluate(ctx, req); !verdict.Allowed {
			t.Fatalf("request %d should fit the quota: %+v", i, verdict)
		}
	}

	verdict := stack.gateway.Evaluate(ctx, req)
	if verdict.Allowed {
		t.Fatalf("quota should be exhausted")
	}
	if verdict.Reason != ReasonQuotaExceeded || verdict.HTTPStatus != http.StatusTooManyRequests {
		t.Fatalf("unexpected verdict %+v", verdict)
	}
	if verdict.Headers["Retry-After"] == "" || verdict.Headers["X-RateLimit-Reset"] == "" {
		t.Fatalf("missing retry headers: %+v", verdict.Headers)
	}
}

func TestGateway_QuotaHeadersReflectExceededPeriod(t *testing.T) {
	t.Parallel()

	// Monthly ceiling is the tight one here; the denial headers must
	// report it, not the daily ceiling.
	tiers := []models.Tier{{Name: "free", RequestsPerDay: 100, RequestsPerMonth: 2}}
	rules := []ratelimit.Rule{
		{Name: "key-minute", Scope: "api_key", Window: time.Minute, MaxRequests: 100},
	}
	stack := newTestStack(tiers, rules)
	ctx := context.Background()

	_, raw, err := stack.registry.Generate(ctx, "dev-1", "free", "test key")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	req := Request{IP: "198.51.100.7", APIKey: raw, Endpoint: "/v1/orders"}
	for i := 0; i < 2; i++ {
		if verdict := stack.gateway.Evaluate(ctx, req); !verdict.Allowed {
			t.Fatalf("request %d should fit the quota: %+v", i, verdict)
		}
	}

	verdict := stack.gateway.Evaluate(ctx, req)
	if verdict.Allowed || verdict.Reason != ReasonQuotaExceeded {
		t.Fatalf("unexpected verdict %+v", verdict)
	}
	if got := verdict.Headers["X-RateLimit-Limit"]; got != "2" {
		t.Fatalf("limit header %q, want the monthly ceiling", got)
	}
}

func TestGateway_RuleViolationEscalatesToPenalty(t *testing.T) {
	t.Parallel()

	rules := []ratelimit.Rule{
		{Name: "ip-minute", Scope: "ip", Window: time.Minute, MaxRequests: 2},
	}
	stack := newTestStack(nil, rules)
	ctx := context.Background()
	req := Request{IP: "198.51.100.4", Endpoint: "/v1/orders"}

	for i := 0; i < 2; i++ {
		if verdict := stack.gateway.Evaluate(ctx, req); !verdict.Allowed {
			t.Fatalf("request %d should pass: %+v", i, verdict)
		}
	}

	verdict := stack.gateway.Evaluate(ctx, req)
	if verdict.Allowed || verdict.Reason != ReasonRuleViolation {
		t.Fatalf("expected rule violation, got %+v", verdict)
	}
	if verdict.RetryAfter <= 0 {
		t.Fatalf("missing retry hint: %+v", verdict)
	}

	// The violation started a penalty, which now rejects before any
	// counters are touched.
	verdict = stack.gateway.Evaluate(ctx, req)
	if verdict.Allowed || verdict.Reason != ReasonPenalized {
		t.Fatalf("expected penalty block, got %+v", verdict)
	}

	// Another identity is unaffected.
	other := stack.gateway.Evaluate(ctx, Request{IP: "198.51.100.5", Endpoint: "/v1/orders"})
	if !other.Allowed {
		t.Fatalf("penalty leaked across identities: %+v", other)
	}
}

func TestGateway_SuspendedKeyDeniesUniformly(t *testing.T) {
	t.Parallel()

	tiers := []models.Tier{{Name: "free", RequestsPerDay: 100, RequestsPerMonth: 1000}}
	stack := newTestStack(tiers, defaultRules())
	ctx := context.Background()

	apiKey, raw, err := stack.registry.Generate(ctx, "dev-1", "free", "test key")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := stack.registry.Suspend(ctx, apiKey.ID.String()); err != nil {
		t.Fatalf("suspend: %v", err)
	}

	verdict := stack.gateway.Evaluate(ctx, Request{IP: "198.51.100.6", APIKey: raw, Endpoint: "/v1/orders"})
	if verdict.Allowed {
		t.Fatalf("suspended key should deny")
	}
	// Same status and reason as a key that never existed.
	if verdict.HTTPStatus != http.StatusUnauthorized || verdict.Reason != ReasonInvalidKey {
		t.Fatalf("suspended key leaked its status: %+v", verdict)
	}
}
