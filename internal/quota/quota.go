// Package quota implements spec.md §4.9's monthly quota, rate-limit,
// and SSE-connection-cap layer: an atomic check-and-increment quota
// operation, a QuotaInfo assembly that fails open on any persistence
// error, a sliding-window rate limiter built on the
// teacher's pkg/middleware.RateLimiter, and an admin/master bypass.
//
// Grounded on original_source/backend/tests/test_quota_race_condition.py
// (the atomic check_and_increment_quota_atomic contract and its
// RPC-preferred/upsert-fallback shape) and the teacher's
// pkg/middleware/ratelimit.go (RateLimiter interface, InMemoryRateLimiter,
// RedisRateLimiter, reused directly rather than reimplemented).
package quota

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tjsasakifln/bidiq/pkg/logger"
	"github.com/tjsasakifln/bidiq/pkg/middleware"
)

// PlanID is one of the closed set of subscription plans.
type PlanID string

const (
	PlanFree   PlanID = "free"
	PlanPro    PlanID = "pro"
	PlanMaster PlanID = "master"
)

// Plan describes one subscription tier's entitlements.
type Plan struct {
	ID           PlanID
	Name         string
	MaxQuota     int // 0 means unlimited (master/admin)
	Capabilities []string
}

// Plans is the closed registry of known plans. Master/admin bypass
// never consults this table — it returns an unlimited QuotaInfo
// directly.
var Plans = map[PlanID]Plan{
	PlanFree: {ID: PlanFree, Name: "Gratuito", MaxQuota: 10, Capabilities: []string{"search"}},
	PlanPro:  {ID: PlanPro, Name: "Profissional", MaxQuota: 200, Capabilities: []string{"search", "export"}},
}

// Subscription is the persisted subscription row a user's quota check
// is assembled against.
type Subscription struct {
	UserID         uuid.UUID
	PlanID         PlanID
	IsAdmin        bool
	TrialExpiresAt *time.Time
}

// QuotaInfo is the response shape spec.md §4.9's check_quota assembles.
type QuotaInfo struct {
	Allowed        bool
	PlanID         PlanID
	PlanName       string
	Capabilities   []string
	QuotaUsed      int
	QuotaRemaining int // -1 means unlimited
	QuotaResetDate time.Time
	TrialExpiresAt *time.Time
	ErrorMessage   string
}

// Repository persists monthly quota counters and subscription state.
type Repository interface {
	// CheckAndIncrementQuota atomically increments the (user_id,
	// month_key) counter, refusing (allowed=false, no increment) once
	// newCount would exceed maxQuota. maxQuota <= 0 means unlimited.
	CheckAndIncrementQuota(ctx context.Context, userID uuid.UUID, monthKey string, maxQuota int) (allowed bool, newCount int, remaining int, err error)
	GetSubscription(ctx context.Context, userID uuid.UUID) (*Subscription, error)
}

// Service assembles QuotaInfo and resolves admin bypass.
type Service struct {
	repo     Repository
	adminIDs map[string]struct{}
	log      *logger.Logger
}

// NewService builds a Service. adminUserIDs is the parsed
// ADMIN_USER_IDS env var (comma-separated UUIDs, compared
// case-insensitively).
func NewService(repo Repository, adminUserIDs []string, log *logger.Logger) *Service {
	ids := make(map[string]struct{}, len(adminUserIDs))
	for _, id := range adminUserIDs {
		ids[strings.ToLower(strings.TrimSpace(id))] = struct{}{}
	}
	return &Service{repo: repo, adminIDs: ids, log: log}
}

// IsAdmin reports whether a user has unlimited-quota/rate-limit-exempt
// privileges: the env allowlist is checked first (fast path), falling
// back to a persistent-store lookup with one retry at 300ms on
// transient error, per spec.md §4.9.
func (s *Service) IsAdmin(ctx context.Context, userID uuid.UUID) bool {
	if _, ok := s.adminIDs[strings.ToLower(userID.String())]; ok {
		return true
	}

	sub, err := s.repo.GetSubscription(ctx, userID)
	if err != nil {
		time.Sleep(300 * time.Millisecond)
		sub, err = s.repo.GetSubscription(ctx, userID)
		if err != nil {
			return false
		}
	}
	return sub != nil && (sub.IsAdmin || sub.PlanID == PlanMaster)
}

func currentMonthKey(now time.Time) string {
	return now.UTC().Format("2006-01")
}

func monthResetDate(now time.Time) time.Time {
	utc := now.UTC()
	return time.Date(utc.Year(), utc.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}

// CheckQuota assembles a QuotaInfo for userID, atomically incrementing
// the monthly counter if quota remains. Admin/master users get an
// unlimited QuotaInfo without touching the counter. Missing
// subscriptions default to the FREE plan. Persistence errors fail open
// rather than blocking the user: a failed subscription lookup reports the
// FREE plan, a failed increment reports the user's own plan.
func (s *Service) CheckQuota(ctx context.Context, userID uuid.UUID) QuotaInfo {
	now := time.Now()

	if s.IsAdmin(ctx, userID) {
		return QuotaInfo{
			Allowed:        true,
			PlanID:         PlanMaster,
			PlanName:       "Master",
			Capabilities:   []string{"search", "export", "admin"},
			QuotaRemaining: -1,
			QuotaResetDate: monthResetDate(now),
		}
	}

	sub, err := s.repo.GetSubscription(ctx, userID)
	if err != nil {
		if s.log != nil {
			s.log.Warn().Err(err).Str("user_id", userID.String()).Msg("quota subscription lookup failed, failing open with free plan")
		}
		return QuotaInfo{
			Allowed:        true,
			PlanID:         PlanFree,
			PlanName:       Plans[PlanFree].Name,
			Capabilities:   Plans[PlanFree].Capabilities,
			QuotaRemaining: Plans[PlanFree].MaxQuota,
			QuotaResetDate: monthResetDate(now),
			ErrorMessage:   "Não foi possível verificar sua assinatura; aplicando limite gratuito",
		}
	}
	if sub == nil {
		sub = &Subscription{UserID: userID, PlanID: PlanFree}
	}

	if sub.TrialExpiresAt != nil && sub.TrialExpiresAt.Before(now) {
		return QuotaInfo{
			Allowed:        false,
			PlanID:         sub.PlanID,
			PlanName:       planName(sub.PlanID),
			TrialExpiresAt: sub.TrialExpiresAt,
			QuotaResetDate: monthResetDate(now),
			ErrorMessage:   "Trial expirado",
		}
	}

	plan, ok := Plans[sub.PlanID]
	if !ok {
		plan = Plans[PlanFree]
	}

	allowed, newCount, remaining, err := s.repo.CheckAndIncrementQuota(ctx, userID, currentMonthKey(now), plan.MaxQuota)
	if err != nil {
		if s.log != nil {
			s.log.Warn().Err(err).Str("user_id", userID.String()).Msg("quota increment failed, failing open")
		}
		return QuotaInfo{
			Allowed:        true,
			PlanID:         plan.ID,
			PlanName:       plan.Name,
			Capabilities:   plan.Capabilities,
			QuotaRemaining: plan.MaxQuota,
			QuotaResetDate: monthResetDate(now),
			ErrorMessage:   "Não foi possível verificar sua cota; prosseguindo",
		}
	}

	info := QuotaInfo{
		Allowed:        allowed,
		PlanID:         plan.ID,
		PlanName:       plan.Name,
		Capabilities:   plan.Capabilities,
		QuotaUsed:      newCount,
		QuotaRemaining: remaining,
		QuotaResetDate: monthResetDate(now),
		TrialExpiresAt: sub.TrialExpiresAt,
	}
	if !allowed {
		info.ErrorMessage = "Cota mensal excedida"
	}
	return info
}

func planName(id PlanID) string {
	if p, ok := Plans[id]; ok {
		return p.Name
	}
	return string(id)
}

// rateLimitExceeded is the Prometheus-style counter spec.md §4.9 names
// (rate_limit_exceeded_total{endpoint,scope}), implemented on the
// teacher's OpenTelemetry metrics stack (pkg/tracer already wires the
// tracing half of the same go.opentelemetry.io/otel SDK) rather than a
// new Prometheus client dependency the pack doesn't otherwise use.
var rateLimitExceeded metric.Int64Counter

func init() {
	var err error
	rateLimitExceeded, err = otel.Meter("bidiq.quota").Int64Counter(
		"rate_limit_exceeded_total",
		metric.WithDescription("Count of requests rejected by the search rate limiter"),
	)
	if err != nil {
		rateLimitExceeded = nil
	}
}

// RateLimiter wraps the teacher's middleware.RateLimiter with the
// (allowed, retry_after_seconds) contract spec.md §4.9 describes, and
// increments the rate_limit_exceeded_total counter on rejection.
type RateLimiter struct {
	underlying middleware.RateLimiter
	log        *logger.Logger
}

// NewRateLimiter wraps limiter (an *middleware.InMemoryRateLimiter or
// *middleware.RedisRateLimiter — the caller picks Redis-backed when
// available per spec.md's "Redis-backed, preferred" ordering).
func NewRateLimiter(limiter middleware.RateLimiter, log *logger.Logger) *RateLimiter {
	return &RateLimiter{underlying: limiter, log: log}
}

// Allow checks whether key (a user ID, or client IP for unauthenticated
// callers) may proceed, returning a Retry-After value in seconds when
// not.
func (r *RateLimiter) Allow(ctx context.Context, key, endpoint, scope string) (bool, int) {
	allowed, _, _, resetAt, err := r.underlying.Allow(ctx, key)
	if err != nil {
		if r.log != nil {
			r.log.Warn().Err(err).Str("key", key).Msg("rate limit check failed, failing open")
		}
		return true, 0
	}
	if !allowed {
		retryAfter := int(time.Until(resetAt).Seconds())
		if retryAfter < 0 {
			retryAfter = 0
		}
		if rateLimitExceeded != nil {
			rateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
				attribute.String("endpoint", endpoint),
				attribute.String("scope", scope),
			))
		}
		if r.log != nil {
			r.log.Warn().Str("key", key).Str("endpoint", endpoint).Int("retry_after", retryAfter).Msg("rate limit exceeded")
		}
		return false, retryAfter
	}
	return true, 0
}

// ConnectionCap bounds concurrent SSE connections per user, per
// spec.md §4.9's acquire_sse_connection/release_sse_connection pair.
type ConnectionCap struct {
	max    int
	counts map[string]int
	lock   chan struct{}
}

// NewConnectionCap builds a cap allowing at most max concurrent SSE
// connections per user (spec.md default is 3).
func NewConnectionCap(max int) *ConnectionCap {
	if max <= 0 {
		max = 3
	}
	return &ConnectionCap{max: max, counts: make(map[string]int), lock: make(chan struct{}, 1)}
}

// Acquire reserves one SSE connection slot for userID, returning false
// if the cap is already reached.
func (c *ConnectionCap) Acquire(userID string) bool {
	c.lock <- struct{}{}
	defer func() { <-c.lock }()

	if c.counts[userID] >= c.max {
		return false
	}
	c.counts[userID]++
	return true
}

// Release frees one SSE connection slot for userID. Always safe to
// call, including without a matching Acquire (counts never go
// negative).
func (c *ConnectionCap) Release(userID string) {
	c.lock <- struct{}{}
	defer func() { <-c.lock }()

	if c.counts[userID] > 0 {
		c.counts[userID]--
		if c.counts[userID] == 0 {
			delete(c.counts, userID)
		}
	}
}
