/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package middleware provides HTTP middleware that limits the rate of incoming requests
// using a keyed fixed-window limiter.
package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/acronis/go-ratekit/fixedwindow"
	"github.com/acronis/go-ratekit/log"
)

// DefaultRateLimitMaxKeys is a default value of maximum keys number for the RateLimit middleware.
const DefaultRateLimitMaxKeys = 10000

// RateLimitErrCode is an error code that is used in a response body
// if the request is rejected by the middleware that limits the rate of HTTP requests.
const RateLimitErrCode = "tooManyRequests"

// RateLimitLogFieldKey it is the name of the logged field that contains a key for the requests rate limiter.
const RateLimitLogFieldKey = "rate_limit_key"

const userAgentLogFieldKey = "user_agent"

// Response headers that expose the state of the rate limiting window to clients.
const (
	RateLimitHeaderLimit     = "X-RateLimit-Limit"
	RateLimitHeaderRemaining = "X-RateLimit-Remaining"
	RateLimitHeaderReset     = "X-RateLimit-Reset"
)

// rateLimitNoKey is a single shared slot that is used when no key is extracted from the request.
const rateLimitNoKey = "_"

// Rate describes the frequency of requests.
type Rate = fixedwindow.Rate

// RateLimitParams contains data that relates to the rate limiting procedure
// and could be used for rejecting or handling an occurred error.
type RateLimitParams struct {
	ErrDomain          string
	ResponseStatusCode int
	GetRetryAfter      RateLimitGetRetryAfterFunc
	Key                string
	Remaining          int
	ResetIn            time.Duration
}

// RateLimitGetRetryAfterFunc is a function that is called to get a value for Retry-After response HTTP header
// when the rate limit is exceeded.
type RateLimitGetRetryAfterFunc func(r *http.Request, resetIn time.Duration) time.Duration

// RateLimitOnRejectFunc is a function that is called for rejecting HTTP request when the rate limit is exceeded.
type RateLimitOnRejectFunc func(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, next http.Handler, logger log.FieldLogger)

// RateLimitOnErrorFunc is a function that is called in case of any error that may occur during the rate limiting.
type RateLimitOnErrorFunc func(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, err error, next http.Handler, logger log.FieldLogger)

// RateLimitGetKeyFunc is a function that is called for getting key for rate limiting.
type RateLimitGetKeyFunc func(r *http.Request) (key string, bypass bool, err error)

// RateLimitOpts represents an options for the RateLimit middleware.
type RateLimitOpts struct {
	// GetKey is a function that extracts a key from the request.
	// Requests with different keys are limited independently.
	// If it's nil, all requests share a single window.
	GetKey RateLimitGetKeyFunc

	// MaxKeys is a maximum number of keys that are tracked simultaneously.
	// The least recently used key is evicted when the bound is exceeded.
	// Matters only when GetKey is specified. DefaultRateLimitMaxKeys is used if it's 0.
	MaxKeys int

	// ResponseStatusCode is an HTTP status code for rejecting responses.
	// http.StatusServiceUnavailable is used if it's 0.
	ResponseStatusCode int

	// GetRetryAfter is a function that is called to get a value for Retry-After response HTTP header.
	// The header is not set if it's nil.
	GetRetryAfter RateLimitGetRetryAfterFunc

	// DryRun enables the dry-run mode: over-limit requests are logged and counted but served anyway.
	DryRun bool

	OnReject         RateLimitOnRejectFunc
	OnRejectInDryRun RateLimitOnRejectFunc
	OnError          RateLimitOnErrorFunc

	// NowProvider is a function that returns the current time. time.Now is used if it's nil.
	NowProvider func() time.Time

	// MetricsCollector is a collector of metrics about rejected requests.
	MetricsCollector MetricsCollector

	// LimiterMetricsCollector is a collector of metrics of the underlying limiter
	// (tracked keys, admissions, rejections, evictions).
	LimiterMetricsCollector fixedwindow.MetricsCollector
}

type rateLimitHandler struct {
	next           http.Handler
	limiter        *fixedwindow.Limiter
	maxRate        Rate
	getKey         RateLimitGetKeyFunc
	errDomain      string
	respStatusCode int
	getRetryAfter  RateLimitGetRetryAfterFunc
	dryRun         bool
	metrics        MetricsCollector

	onReject RateLimitOnRejectFunc
	onError  RateLimitOnErrorFunc
}

// RateLimit is a middleware that limits the rate of HTTP requests.
func RateLimit(maxRate Rate, errDomain string) (func(next http.Handler) http.Handler, error) {
	return RateLimitWithOpts(maxRate, errDomain, RateLimitOpts{GetRetryAfter: GetRetryAfterEstimatedTime})
}

// MustRateLimit is a version of RateLimit that panics if an error occurs.
func MustRateLimit(maxRate Rate, errDomain string) func(next http.Handler) http.Handler {
	mw, err := RateLimit(maxRate, errDomain)
	if err != nil {
		panic(err)
	}
	return mw
}

// RateLimitWithOpts is a configurable version of a middleware to limit the rate of HTTP requests.
func RateLimitWithOpts(maxRate Rate, errDomain string, opts RateLimitOpts) (func(next http.Handler) http.Handler, error) {
	if maxRate.Count <= 0 {
		return nil, fmt.Errorf("rate limit count must be positive, got %d", maxRate.Count)
	}
	if maxRate.Duration <= 0 {
		return nil, fmt.Errorf("rate limit duration must be positive, got %s", maxRate.Duration)
	}

	maxKeys := 0
	if opts.GetKey != nil {
		maxKeys = opts.MaxKeys
		if maxKeys == 0 {
			maxKeys = DefaultRateLimitMaxKeys
		}
	}

	respStatusCode := opts.ResponseStatusCode
	if respStatusCode == 0 {
		respStatusCode = http.StatusServiceUnavailable
	}

	metrics := opts.MetricsCollector
	if metrics == nil {
		metrics = disabledMetrics{}
	}

	limiter := fixedwindow.NewWithOpts(fixedwindow.Options{
		MaxKeys:          maxKeys,
		NowProvider:      opts.NowProvider,
		MetricsCollector: opts.LimiterMetricsCollector,
	})

	return func(next http.Handler) http.Handler {
		return &rateLimitHandler{
			next:           next,
			limiter:        limiter,
			maxRate:        maxRate,
			getKey:         opts.GetKey,
			errDomain:      errDomain,
			respStatusCode: respStatusCode,
			getRetryAfter:  opts.GetRetryAfter,
			dryRun:         opts.DryRun,
			metrics:        metrics,
			onReject:       makeRateLimitOnRejectFunc(opts),
			onError:        makeRateLimitOnErrorFunc(opts),
		}
	}, nil
}

// MustRateLimitWithOpts is a version of RateLimitWithOpts that panics if an error occurs.
func MustRateLimitWithOpts(maxRate Rate, errDomain string, opts RateLimitOpts) func(next http.Handler) http.Handler {
	mw, err := RateLimitWithOpts(maxRate, errDomain, opts)
	if err != nil {
		panic(err)
	}
	return mw
}

func (h *rateLimitHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	logger := GetLoggerFromContext(r.Context())

	key := ""
	if h.getKey != nil {
		var bypass bool
		var err error
		key, bypass, err = h.getKey(r)
		if err != nil {
			h.onError(rw, r, h.makeParams(key, fixedwindow.Result{}),
				fmt.Errorf("get key for rate limit: %w", err), h.next, logger)
			return
		}
		if bypass {
			h.next.ServeHTTP(rw, r)
			return
		}
	}

	limiterKey := key
	if limiterKey == "" {
		limiterKey = rateLimitNoKey
	}

	res, err := h.limiter.CheckRate(limiterKey, h.maxRate)
	if err != nil {
		h.onError(rw, r, h.makeParams(key, fixedwindow.Result{}),
			fmt.Errorf("check rate limit: %w", err), h.next, logger)
		return
	}

	h.setRateLimitHeaders(rw, res)

	if res.Allowed {
		h.next.ServeHTTP(rw, r)
		return
	}

	h.metrics.IncRejects(h.dryRun)
	h.onReject(rw, r, h.makeParams(key, res), h.next, logger)
}

func (h *rateLimitHandler) setRateLimitHeaders(rw http.ResponseWriter, res fixedwindow.Result) {
	rw.Header().Set(RateLimitHeaderLimit, strconv.Itoa(h.maxRate.Count))
	rw.Header().Set(RateLimitHeaderRemaining, strconv.Itoa(res.Remaining))
	rw.Header().Set(RateLimitHeaderReset, strconv.Itoa(int(math.Ceil(res.ResetIn.Seconds()))))
}

func (h *rateLimitHandler) makeParams(key string, res fixedwindow.Result) RateLimitParams {
	return RateLimitParams{
		ErrDomain:          h.errDomain,
		ResponseStatusCode: h.respStatusCode,
		GetRetryAfter:      h.getRetryAfter,
		Key:                key,
		Remaining:          res.Remaining,
		ResetIn:            res.ResetIn,
	}
}

// GetRetryAfterEstimatedTime returns estimated time after that the client may retry the request.
func GetRetryAfterEstimatedTime(_ *http.Request, resetIn time.Duration) time.Duration {
	return resetIn
}

// DefaultRateLimitOnReject sends an error response when the rate limit is exceeded.
func DefaultRateLimitOnReject(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, next http.Handler, logger log.FieldLogger,
) {
	if logger != nil {
		logger = logger.With(
			log.String(RateLimitLogFieldKey, params.Key),
			log.String(userAgentLogFieldKey, r.UserAgent()),
		)
	}
	if params.GetRetryAfter != nil {
		rw.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(params.GetRetryAfter(r, params.ResetIn).Seconds()))))
	}
	apiErr := NewError(params.ErrDomain, RateLimitErrCode, "Too many requests.")
	RespondError(rw, params.ResponseStatusCode, apiErr, logger)
}

// DefaultRateLimitOnError sends an error response in case when the error occurs during the rate limiting.
func DefaultRateLimitOnError(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, err error, next http.Handler, logger log.FieldLogger,
) {
	if logger != nil {
		logger.Error(err.Error(), log.String(RateLimitLogFieldKey, params.Key))
	}
	RespondInternalError(rw, params.ErrDomain, logger)
}

// DefaultRateLimitOnRejectInDryRun logs the fact that the rate limit is exceeded and serves the request anyway.
func DefaultRateLimitOnRejectInDryRun(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, next http.Handler, logger log.FieldLogger,
) {
	if logger != nil {
		logger.Warn("too many requests, serving will be continued because of dry run mode",
			log.String(RateLimitLogFieldKey, params.Key),
			log.String(userAgentLogFieldKey, r.UserAgent()),
		)
	}
	next.ServeHTTP(rw, r)
}

func makeRateLimitOnRejectFunc(opts RateLimitOpts) RateLimitOnRejectFunc {
	if opts.DryRun {
		if opts.OnRejectInDryRun != nil {
			return opts.OnRejectInDryRun
		}
		return DefaultRateLimitOnRejectInDryRun
	}
	if opts.OnReject != nil {
		return opts.OnReject
	}
	return DefaultRateLimitOnReject
}

func makeRateLimitOnErrorFunc(opts RateLimitOpts) RateLimitOnErrorFunc {
	if opts.OnError != nil {
		return opts.OnError
	}
	return DefaultRateLimitOnError
}
