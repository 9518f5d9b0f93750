// Package backend talks to the autoapply account API: profiles, plan limits,
// the AI answer endpoint and the applied-jobs log.
package backend

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	userAgent      = "autoapply/cli"
	defaultTimeout = 10 * time.Second
	// defaultAnswerRate is the number of AI answer requests allowed per minute.
	defaultAnswerRate = 30
)

// Config configures the backend client.
type Config struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
	// AIRatePerMinute paces calls to the AI answer endpoint.
	AIRatePerMinute int `mapstructure:"ai-rate-per-minute"`
}

type Client struct {
	token      string
	logger     *zap.Logger
	limiter    *rate.Limiter
	HTTPClient *http.Client
	UserAgent  string
	APIURL     string
}

func New(cfg Config, token string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	perMinute := cfg.AIRatePerMinute
	if perMinute <= 0 {
		perMinute = defaultAnswerRate
	}

	return &Client{
		token:   token,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
		APIURL:  strings.TrimRight(cfg.URL, "/"),
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		UserAgent: userAgent,
	}
}
