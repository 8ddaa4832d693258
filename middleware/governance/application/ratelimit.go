package application

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"governance-gateway/middleware/governance/domain"

	"pkt.systems/pslog"
)

// errContention: o loop de CAS do token bucket esgotou as tentativas.
var errContention = errors.New("rate state contention")

// RateLimiter aplica políticas de janela fixa, janela deslizante e token bucket.
//
// Ele só enxerga chaves string; a composição da chave a partir do escopo é feita
// por Check. Janelas usam um único Increment atômico (sem LockManager).
type RateLimiter struct {
	store       domain.CoordinationStore
	clock       domain.Clock
	logger      pslog.Logger
	local       domain.LocalLimiter
	prefix      string
	casAttempts int
}

type RateOption func(*RateLimiter)

func WithRateClock(c domain.Clock) RateOption {
	return func(r *RateLimiter) { r.clock = c }
}

func WithRateLogger(l pslog.Logger) RateOption {
	return func(r *RateLimiter) { r.logger = l }
}

// WithLocalFallback define o limiter local usado por políticas FailLocal.
func WithLocalFallback(l domain.LocalLimiter) RateOption {
	return func(r *RateLimiter) { r.local = l }
}

func WithCASAttempts(n int) RateOption {
	return func(r *RateLimiter) {
		if n > 0 {
			r.casAttempts = n
		}
	}
}

func NewRateLimiter(store domain.CoordinationStore, opts ...RateOption) *RateLimiter {
	r := &RateLimiter{
		store:       store,
		clock:       systemClock{},
		logger:      pslog.NoopLogger(),
		prefix:      "rl:",
		casAttempts: 5,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func windowBounds(now time.Time, window time.Duration) (bucket int64, start time.Time) {
	bucket = now.UnixNano() / int64(window)
	return bucket, time.Unix(0, bucket*int64(window)).UTC()
}

// AllowWindow é a janela fixa: bucket = floor(now/window), um Increment atômico.
//
// Requests rejeitados também contam (o incremento já aconteceu); assim a contagem
// fica exata para observabilidade ao custo de uma borda levemente pessimista.
func (r *RateLimiter) AllowWindow(ctx context.Context, key string, limit int64, window time.Duration) (domain.RateResult, error) {
	if limit <= 0 || window <= 0 {
		return domain.RateResult{}, fmt.Errorf("fixed window %q: limit and window must be > 0", key)
	}
	now := r.clock.Now()
	bucket, start := windowBounds(now, window)
	resetAt := start.Add(window)

	n, err := r.store.Increment(ctx, r.prefix+"fw:"+key+":"+strconv.FormatInt(bucket, 10), 1, window)
	if err != nil {
		return domain.RateResult{}, err
	}
	res := domain.RateResult{
		Allowed:   n <= limit,
		Remaining: max(limit-n, 0),
		ResetAt:   resetAt,
	}
	if !res.Allowed {
		res.RetryAfter = resetAt.Sub(now)
	}
	return res, nil
}

// AllowSlidingWindow estima a taxa com o bucket anterior ponderado pelo quanto
// dele ainda cabe na janela, mais o bucket atual.
func (r *RateLimiter) AllowSlidingWindow(ctx context.Context, key string, limit int64, window time.Duration) (domain.RateResult, error) {
	if limit <= 0 || window <= 0 {
		return domain.RateResult{}, fmt.Errorf("sliding window %q: limit and window must be > 0", key)
	}
	now := r.clock.Now()
	bucket, start := windowBounds(now, window)
	base := r.prefix + "sw:" + key + ":"

	// o bucket atual precisa sobreviver à janela seguinte, onde vira "anterior"
	cur, err := r.store.Increment(ctx, base+strconv.FormatInt(bucket, 10), 1, 2*window)
	if err != nil {
		return domain.RateResult{}, err
	}
	var prev int64
	raw, found, err := r.store.Get(ctx, base+strconv.FormatInt(bucket-1, 10))
	if err != nil {
		return domain.RateResult{}, err
	}
	if found {
		prev, _ = strconv.ParseInt(raw, 10, 64)
	}

	elapsed := float64(now.Sub(start)) / float64(window)
	estimate := float64(prev)*(1-elapsed) + float64(cur)
	used := int64(math.Ceil(estimate))

	res := domain.RateResult{
		Allowed:   estimate <= float64(limit),
		Remaining: max(limit-used, 0),
		ResetAt:   start.Add(window),
	}
	if !res.Allowed {
		res.RetryAfter = res.ResetAt.Sub(now)
	}
	return res, nil
}

// AllowTokenBucket lê o estado, reabastece desde o último refill (limitado a capacity)
// e tenta debitar um token via CAS. Conflito de CAS repete até casAttempts vezes.
func (r *RateLimiter) AllowTokenBucket(ctx context.Context, key string, capacity int64, refillRate float64) (domain.RateResult, error) {
	if capacity <= 0 || refillRate <= 0 {
		return domain.RateResult{}, fmt.Errorf("token bucket %q: capacity and refill rate must be > 0", key)
	}
	k := r.prefix + "tb:" + key
	// depois de encher o balde, o estado equivale a um balde novo: pode expirar
	ttl := time.Duration(float64(capacity)/refillRate*float64(time.Second)) + time.Second

	for attempt := 0; attempt < r.casAttempts; attempt++ {
		now := r.clock.Now()
		raw, found, err := r.store.Get(ctx, k)
		if err != nil {
			return domain.RateResult{}, err
		}

		st := domain.TokenBucketState{Tokens: float64(capacity), LastRefill: now}
		if found {
			if decoded, err := decodeBucket(raw); err == nil {
				st = decoded
			} else {
				r.logger.Warn("ratelimit.bucket.corrupt", "key", key, "error", err)
			}
		}
		if elapsed := now.Sub(st.LastRefill).Seconds(); elapsed > 0 {
			st.Tokens = math.Min(float64(capacity), st.Tokens+elapsed*refillRate)
			st.LastRefill = now
		}

		if st.Tokens < 1 {
			// negado: nada a gravar, o refill é recalculado a partir de LastRefill
			wait := time.Duration((1 - st.Tokens) / refillRate * float64(time.Second))
			return domain.RateResult{Allowed: false, Remaining: 0, ResetAt: now.Add(wait), RetryAfter: wait}, nil
		}
		st.Tokens--

		next := encodeBucket(st)
		var ok bool
		if found {
			ok, err = r.store.CompareAndSwap(ctx, k, raw, next, ttl)
		} else {
			ok, err = r.store.SetIfAbsentOrExpired(ctx, k, next, ttl)
		}
		if err != nil {
			return domain.RateResult{}, err
		}
		if ok {
			full := time.Duration((float64(capacity) - st.Tokens) / refillRate * float64(time.Second))
			return domain.RateResult{Allowed: true, Remaining: int64(st.Tokens), ResetAt: now.Add(full)}, nil
		}
	}
	return domain.RateResult{}, fmt.Errorf("token bucket %q: %w after %d attempts", key, errContention, r.casAttempts)
}

func encodeBucket(st domain.TokenBucketState) string {
	return strconv.FormatFloat(st.Tokens, 'f', -1, 64) + ":" + strconv.FormatInt(st.LastRefill.UnixNano(), 10)
}

func decodeBucket(raw string) (domain.TokenBucketState, error) {
	tok, ts, ok := strings.Cut(raw, ":")
	if !ok {
		return domain.TokenBucketState{}, fmt.Errorf("malformed bucket state %q", raw)
	}
	tokens, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return domain.TokenBucketState{}, err
	}
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return domain.TokenBucketState{}, err
	}
	return domain.TokenBucketState{Tokens: tokens, LastRefill: time.Unix(0, nanos).UTC()}, nil
}

// RateVerdict é o resultado combinado de todas as políticas aplicáveis.
type RateVerdict struct {
	Allowed    bool
	PolicyID   string
	Key        domain.Key
	Remaining  int64
	Limit      int64
	ResetAt    time.Time
	RetryAfter time.Duration
	// Unlimited indica que nenhuma política se aplicou ao escopo.
	Unlimited bool
	// Err é a última falha de coordenação tolerada (fail open/local) ou a que bloqueou (fail closed).
	Err error
}

// applicable filtra as políticas pela rota do escopo. Nenhuma: ErrPolicyNotFound.
func applicable(policies []domain.RatePolicy, scope domain.TenantScope) ([]domain.RatePolicy, error) {
	out := make([]domain.RatePolicy, 0, len(policies))
	for _, p := range policies {
		if len(p.Routes) > 0 && !slices.Contains(p.Routes, scope.RouteID) {
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, domain.ErrPolicyNotFound
	}
	return out, nil
}

// Check avalia todas as políticas aplicáveis e para na primeira rejeição.
// Escopo sem política é ilimitado.
func (r *RateLimiter) Check(ctx context.Context, scope domain.TenantScope, policies []domain.RatePolicy) RateVerdict {
	list, err := applicable(policies, scope)
	if errors.Is(err, domain.ErrPolicyNotFound) {
		return RateVerdict{Allowed: true, Unlimited: true, Remaining: -1}
	}

	verdict := RateVerdict{Allowed: true, Remaining: -1}
	for _, p := range list {
		key := scope.Key(p.Scope)
		res, limit, err := r.allow(ctx, p, key)
		if err != nil {
			if ctx.Err() != nil {
				// request cancelado: não há decisão útil, deixa o adaptador descartar
				return RateVerdict{Allowed: true, Err: ctx.Err()}
			}
			if !errors.Is(err, domain.ErrCoordinationUnavailable) && !errors.Is(err, errContention) {
				// política inválida não é queda do store: ignora a política e avisa
				r.logger.Error("ratelimit.policy.invalid", "policy", p.ID, "error", err)
				continue
			}
			res, err = r.degrade(p, key, err)
			if err != nil {
				verdict.Err = err
			}
			if !res.Allowed {
				return RateVerdict{
					Allowed: false, PolicyID: p.ID, Key: key, Limit: limit,
					RetryAfter: res.RetryAfter, Err: verdict.Err,
				}
			}
			continue
		}
		if !res.Allowed {
			return RateVerdict{
				Allowed: false, PolicyID: p.ID, Key: key, Limit: limit,
				ResetAt: res.ResetAt, RetryAfter: res.RetryAfter, Err: verdict.Err,
			}
		}
		if verdict.Remaining < 0 || res.Remaining < verdict.Remaining {
			verdict.PolicyID, verdict.Key = p.ID, key
			verdict.Remaining, verdict.Limit, verdict.ResetAt = res.Remaining, limit, res.ResetAt
		}
	}
	return verdict
}

func (r *RateLimiter) allow(ctx context.Context, p domain.RatePolicy, key domain.Key) (domain.RateResult, int64, error) {
	k := p.ID + "|" + string(key)
	switch p.Kind {
	case domain.PolicyTokenBucket:
		res, err := r.AllowTokenBucket(ctx, k, p.Capacity, p.RefillRate)
		return res, p.Capacity, err
	case domain.PolicySlidingWindow:
		res, err := r.AllowSlidingWindow(ctx, k, p.Limit, p.Window)
		return res, p.Limit, err
	default:
		res, err := r.AllowWindow(ctx, k, p.Limit, p.Window)
		return res, p.Limit, err
	}
}

// degrade aplica o FailureMode da política quando o store falhou.
func (r *RateLimiter) degrade(p domain.RatePolicy, key domain.Key, cause error) (domain.RateResult, error) {
	switch p.FailureMode {
	case domain.FailClosed:
		r.logger.Warn("ratelimit.fail_closed", "policy", p.ID, "error", cause)
		return domain.RateResult{Allowed: false, RetryAfter: time.Second}, cause
	case domain.FailLocal:
		if r.local != nil {
			rps, burst := localBudget(p)
			allowed := r.local.Allow(p.ID+"|"+string(key), rps, burst)
			r.logger.Debug("ratelimit.fail_local", "policy", p.ID, "allowed", allowed, "error", cause)
			res := domain.RateResult{Allowed: allowed}
			if !allowed {
				res.RetryAfter = time.Second
			}
			return res, cause
		}
		fallthrough
	default:
		r.logger.Warn("ratelimit.fail_open", "policy", p.ID, "error", cause)
		return domain.RateResult{Allowed: true}, cause
	}
}

// localBudget converte a política num token bucket local equivalente.
func localBudget(p domain.RatePolicy) (float64, int) {
	if p.Kind == domain.PolicyTokenBucket {
		return p.RefillRate, int(p.Capacity)
	}
	return float64(p.Limit) / p.Window.Seconds(), int(p.Limit)
}
