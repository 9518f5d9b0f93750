// Package answer resolves form field labels into values from the user profile,
// canned answers for well-known questions and an AI oracle as last resort.
package answer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/ai"
	"github.com/spigell/autoapply/internal/utils"
)

const (
	defaultOracleTimeout = 20 * time.Second
	logLength            = 80
)

// Source tells where an answer came from.
type Source string

const (
	SourceCache    Source = "cache"
	SourceRule     Source = "rule"
	SourceSpecial  Source = "special"
	SourceOracle   Source = "oracle"
	SourceFallback Source = "fallback"
)

// Stats counts how questions were answered.
type Stats struct {
	CacheHits   int
	RuleHits    int
	SpecialHits int
	OracleCalls int
	Fallbacks   int
}

// Resolver answers questions for a single run. The cache lives as long as the resolver.
type Resolver struct {
	rules         []Rule
	handlers      []Handler
	oracle        ai.Oracle
	oracleTimeout time.Duration
	logger        *zap.Logger

	mu    sync.Mutex
	cache map[string]string
	stats Stats
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithRules replaces the keyword table.
func WithRules(rules []Rule) Option {
	return func(r *Resolver) { r.rules = rules }
}

// WithHandlers replaces the special-question handlers.
func WithHandlers(handlers []Handler) Option {
	return func(r *Resolver) { r.handlers = handlers }
}

// WithOracleTimeout bounds each oracle call.
func WithOracleTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.oracleTimeout = d
		}
	}
}

// New returns a Resolver. A nil oracle makes every unanswered question fall back to defaults.
func New(oracle ai.Oracle, logger *zap.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{
		rules:         DefaultRules(),
		handlers:      DefaultHandlers(),
		oracle:        oracle,
		oracleTimeout: defaultOracleTimeout,
		logger:        logger,
		cache:         make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the value for q. It never fails: every error path degrades
// to the first option or an empty string.
func (r *Resolver) Resolve(ctx context.Context, q ai.Question) (answer string) {
	label := Normalize(q.Label)

	defer func() {
		if rec := recover(); rec != nil {
			answer = fallback(q.Options)
			r.logger.Error("answer resolution panicked",
				zap.String("label", utils.TruncateForLog(label, logLength)),
				zap.String("panic", fmt.Sprint(rec)),
			)
			r.count(SourceFallback)
		}
	}()

	if label == "" {
		r.count(SourceFallback)
		return fallback(q.Options)
	}

	if cached, ok := r.cached(label); ok {
		r.count(SourceCache)
		return cached
	}

	answer, source := r.resolve(ctx, label, q)
	r.store(label, answer)
	r.count(source)

	r.logger.Debug("resolved field",
		zap.String("label", utils.TruncateForLog(label, logLength)),
		zap.String("source", string(source)),
		zap.String("answer", utils.TruncateForLog(answer, logLength)),
	)

	return answer
}

func (r *Resolver) resolve(ctx context.Context, label string, q ai.Question) (string, Source) {
	for _, rule := range r.rules {
		if !rule.matches(label) {
			continue
		}
		if value := strings.TrimSpace(rule.Value(q.Profile)); value != "" {
			return choose(q, value), SourceRule
		}
	}

	for _, handler := range r.handlers {
		if value, ok := handler(label, q); ok {
			return value, SourceSpecial
		}
	}

	if r.oracle == nil {
		return fallback(q.Options), SourceFallback
	}

	ctx, cancel := context.WithTimeout(ctx, r.oracleTimeout)
	defer cancel()

	value, err := r.oracle.Answer(ctx, q)
	if err != nil {
		r.logger.Warn("oracle failed, using fallback answer",
			zap.String("label", utils.TruncateForLog(label, logLength)),
			zap.Error(err),
		)
		return fallback(q.Options), SourceFallback
	}

	return strings.TrimSpace(value), SourceOracle
}

func fallback(options []string) string {
	if len(options) > 0 {
		return options[0]
	}
	return ""
}

func (r *Resolver) cached(label string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	value, ok := r.cache[label]
	return value, ok
}

func (r *Resolver) store(label, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[label] = value
}

func (r *Resolver) count(source Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch source {
	case SourceCache:
		r.stats.CacheHits++
	case SourceRule:
		r.stats.RuleHits++
	case SourceSpecial:
		r.stats.SpecialHits++
	case SourceOracle:
		r.stats.OracleCalls++
	case SourceFallback:
		r.stats.Fallbacks++
	}
}

// Stats returns a snapshot of the counters.
func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// BySource returns the counters keyed by Source.
func (s Stats) BySource() map[string]int {
	return map[string]int{
		string(SourceCache):    s.CacheHits,
		string(SourceRule):     s.RuleHits,
		string(SourceSpecial):  s.SpecialHits,
		string(SourceOracle):   s.OracleCalls,
		string(SourceFallback): s.Fallbacks,
	}
}
