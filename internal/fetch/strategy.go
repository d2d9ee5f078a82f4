package fetch

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/proxyfetch/internal/resilience"
)

// Strategy is one way of performing a GET for a target URL.
type Strategy interface {
	// Name is the strategy id used for ranking and stats.
	Name() string
	// Dispatch performs the GET. A non-200 response is returned as a
	// response, not an error; errors mean no response was obtained.
	Dispatch(ctx context.Context, req *Request) (*Response, error)
}

// Strategy ids.
const (
	StrategyZenRows    = "zenrows"
	StrategyScraperAPI = "scraperapi"
	StrategyJina       = "jina"
	StrategyDirect     = "direct"
)

// CredentialEnv maps proxy strategy ids to the environment variable read when
// no credential is configured.
var CredentialEnv = map[string]string{
	StrategyZenRows:    "ZENROWS_KEY",
	StrategyScraperAPI: "SCRAPERAPI_KEY",
	StrategyJina:       "JINA_API_KEY",
}

// aliases accepts the legacy method names.
var aliases = map[string]string{
	"zenrows_api": StrategyZenRows,
	"generic":     StrategyDirect,
}

type buildOptions struct {
	key     string
	baseURL string
	http    *http.Client
}

type builder func(o buildOptions) Strategy

var builders = map[string]builder{
	StrategyZenRows:    newZenRowsStrategy,
	StrategyScraperAPI: newScraperAPIStrategy,
	StrategyJina:       newJinaStrategy,
	StrategyDirect:     newDirectStrategy,
}

// KnownStrategies lists the registered strategy ids.
func KnownStrategies() []string {
	return []string{StrategyZenRows, StrategyScraperAPI, StrategyJina, StrategyDirect}
}

// canonicalName resolves aliases and case.
func canonicalName(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if c, ok := aliases[id]; ok {
		return c
	}
	return id
}

// credential returns the configured key for id, falling back to its
// environment variable.
func credential(cfg Config, id string) string {
	if key, ok := cfg.Credentials[id]; ok && key != "" {
		return key
	}
	if env, ok := CredentialEnv[id]; ok {
		return os.Getenv(env)
	}
	return ""
}

// BuildStrategies turns the configured ids into strategies, in order.
// Unknown or duplicate ids are rejected here rather than at fetch time.
func BuildStrategies(cfg Config) ([]Strategy, error) {
	cfg = cfg.withDefaults()

	seen := make(map[string]bool, len(cfg.Strategies))
	out := make([]Strategy, 0, len(cfg.Strategies))
	for _, raw := range cfg.Strategies {
		id := canonicalName(raw)
		build, ok := builders[id]
		if !ok {
			return nil, eris.Wrapf(ErrUnknownStrategy, "fetch: strategy %q", raw)
		}
		if seen[id] {
			return nil, eris.Errorf("fetch: strategy %q configured twice", id)
		}
		seen[id] = true

		key := credential(cfg, id)
		if _, needsKey := CredentialEnv[id]; needsKey && key == "" {
			zap.L().Warn("fetch: strategy has no credential, its attempts will fail",
				zap.String("strategy", id),
				zap.String("env", CredentialEnv[id]),
			)
		}

		s := build(buildOptions{
			key:     key,
			baseURL: cfg.BaseURLs[id],
			http:    &http.Client{Timeout: cfg.Timeout},
		})
		if rps := cfg.RateLimits[id]; rps > 0 {
			s = newRateLimited(s, rps)
		}
		out = append(out, s)
	}
	return out, nil
}

// rateLimited throttles a strategy. Waiting counts as part of the attempt.
// When the next token would arrive after ctx's deadline the strategy is not
// contacted and errThrottled is returned.
type rateLimited struct {
	Strategy
	limiter *rate.Limiter
}

func newRateLimited(s Strategy, rps float64) *rateLimited {
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &rateLimited{Strategy: s, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *rateLimited) Dispatch(ctx context.Context, req *Request) (*Response, error) {
	res := r.limiter.Reserve()
	delay := res.Delay()
	if deadline, ok := ctx.Deadline(); ok && delay > time.Until(deadline) {
		res.Cancel()
		return nil, eris.Wrapf(errThrottled, "fetch: %s next slot in %s", r.Name(), delay)
	}

	if delay > 0 {
		if err := resilience.Sleep(ctx, delay); err != nil {
			res.Cancel()
			return nil, eris.Wrapf(err, "fetch: %s rate limit wait", r.Name())
		}
	}
	return r.Strategy.Dispatch(ctx, req)
}

// Config configures a Client. Use DefaultConfig for the documented defaults.
type Config struct {
	// Strategies is the ordered list of enabled strategy ids.
	Strategies []string
	// Credentials maps strategy id to API key. Missing keys fall back to
	// CredentialEnv.
	Credentials map[string]string
	// PauseDuration is the wait after a round in which every strategy failed.
	PauseDuration time.Duration
	// MaxRounds bounds the number of rounds. Values below 1 use the default.
	MaxRounds int
	// Timeout bounds each single attempt.
	Timeout time.Duration
	// RateLimits caps requests per second per strategy id. 0 disables.
	RateLimits map[string]float64
	// BaseURLs overrides a proxy service endpoint per strategy id.
	BaseURLs map[string]string
}

// Defaults.
const (
	DefaultPauseDuration = 600 * time.Second
	DefaultMaxRounds     = 5
	DefaultTimeout       = 60 * time.Second
)

// DefaultStrategies is used when Config.Strategies is empty.
var DefaultStrategies = []string{StrategyZenRows, StrategyScraperAPI}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		Strategies:    append([]string(nil), DefaultStrategies...),
		PauseDuration: DefaultPauseDuration,
		MaxRounds:     DefaultMaxRounds,
		Timeout:       DefaultTimeout,
	}
}

func (c Config) withDefaults() Config {
	if len(c.Strategies) == 0 {
		c.Strategies = append([]string(nil), DefaultStrategies...)
	}
	if c.MaxRounds < 1 {
		c.MaxRounds = DefaultMaxRounds
	}
	if c.PauseDuration < 0 {
		c.PauseDuration = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}
