/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/acronis/go-ratekit/config"
)

const cfgDefaultKeyPrefix = "rateLimit"

// KeyType is a type of key by which requests are grouped for rate limiting.
type KeyType string

// Key types.
const (
	KeyTypeNoKey      KeyType = ""
	KeyTypeIdentity   KeyType = "identity"
	KeyTypeHTTPHeader KeyType = "header"
	KeyTypeRemoteAddr KeyType = "remote_addr"
)

// KeyConfig represents a configuration of the rate limiting key.
type KeyConfig struct {
	// Type determines type of key that will be used for rate limiting.
	Type KeyType `mapstructure:"type" yaml:"type" json:"type"`

	// HeaderName is a name of the HTTP request header which value will be used as a key.
	// Matters only when Type is a "header".
	HeaderName string `mapstructure:"headerName" yaml:"headerName" json:"headerName"`

	// NoBypassEmpty specifies whether rate limiting will be used if the value obtained by the key is empty.
	NoBypassEmpty bool `mapstructure:"noBypassEmpty" yaml:"noBypassEmpty" json:"noBypassEmpty"`
}

// Validate validates key configuration.
func (c *KeyConfig) Validate() error {
	switch c.Type {
	case KeyTypeNoKey, KeyTypeIdentity, KeyTypeRemoteAddr:
	case KeyTypeHTTPHeader:
		if c.HeaderName == "" {
			return fmt.Errorf("header name should be specified for %q key type", KeyTypeHTTPHeader)
		}
	default:
		return fmt.Errorf("unknown key type %q", c.Type)
	}
	return nil
}

// Config represents a configuration for the RateLimit middleware.
// Configuration can be loaded in different formats (YAML, JSON) using config.Loader, viper,
// or with json.Unmarshal/yaml.Unmarshal functions directly.
type Config struct {
	// Rate determines the frequency of requests allowed within a single window, e.g. "100/m".
	Rate RateValue `mapstructure:"rate" yaml:"rate" json:"rate"`

	// Key determines how requests are grouped for rate limiting.
	Key KeyConfig `mapstructure:"key" yaml:"key" json:"key"`

	// MaxKeys is a maximum number of keys that are tracked simultaneously.
	MaxKeys int `mapstructure:"maxKeys" yaml:"maxKeys" json:"maxKeys"`

	// ResponseStatusCode is an HTTP status code for rejecting responses.
	ResponseStatusCode int `mapstructure:"responseStatusCode" yaml:"responseStatusCode" json:"responseStatusCode"`

	// DryRun enables the dry-run mode: over-limit requests are logged and counted but served anyway.
	DryRun bool `mapstructure:"dryRun" yaml:"dryRun" json:"dryRun"`

	// RetryAfter determines the value of the Retry-After response header:
	// "auto" (time until the window resets), a fixed duration, or empty (header is not set).
	RetryAfter RetryAfterValue `mapstructure:"retryAfter" yaml:"retryAfter" json:"retryAfter"`

	// IncludedKeys is a list of glob patterns; only matching keys are limited, the rest bypass.
	IncludedKeys []string `mapstructure:"includedKeys" yaml:"includedKeys" json:"includedKeys"`

	// ExcludedKeys is a list of glob patterns; matching keys bypass the limiting.
	ExcludedKeys []string `mapstructure:"excludedKeys" yaml:"excludedKeys" json:"excludedKeys"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// ConfigOption is a type for functional options for the Config.
type ConfigOption func(*configOptions)

type configOptions struct {
	keyPrefix string
}

// WithKeyPrefix returns a ConfigOption that sets a key prefix for parsing configuration parameters.
// This prefix will be used by config.Loader.
func WithKeyPrefix(keyPrefix string) ConfigOption {
	return func(o *configOptions) {
		o.keyPrefix = keyPrefix
	}
}

// NewConfig creates a new instance of the Config.
func NewConfig(options ...ConfigOption) *Config {
	var opts = configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{keyPrefix: opts.keyPrefix}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(_ config.DataProvider) {
}

// Set sets rate limiting configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	if err := dp.Unmarshal(c, func(decoderConfig *mapstructure.DecoderConfig) {
		decoderConfig.DecodeHook = MapstructureDecodeHook()
	}); err != nil {
		return err
	}
	return c.Validate()
}

// Validate validates configuration.
func (c *Config) Validate() error {
	if err := c.Key.Validate(); err != nil {
		return err
	}
	if c.Rate.Count < 1 {
		return fmt.Errorf("rate limit should be >= 1, got %d", c.Rate.Count)
	}
	if c.MaxKeys < 0 {
		return fmt.Errorf("maximum keys should be >= 0, got %d", c.MaxKeys)
	}
	if c.ResponseStatusCode < 0 {
		return fmt.Errorf("response status code should be >= 0, got %d", c.ResponseStatusCode)
	}
	if len(c.IncludedKeys) != 0 && len(c.ExcludedKeys) != 0 {
		return fmt.Errorf("included and excluded lists cannot be specified at the same time")
	}
	return nil
}

func (c *Config) getResponseStatusCode() int {
	if c.ResponseStatusCode != 0 {
		return c.ResponseStatusCode
	}
	if c.Key.Type == KeyTypeIdentity {
		return http.StatusTooManyRequests
	}
	return http.StatusServiceUnavailable
}

// RateLimitWithConfig constructs the RateLimit middleware from the loaded configuration.
// Key extraction, response status code, Retry-After policy, and the dry-run mode from the configuration
// take precedence over the corresponding fields of opts.
// opts.GetKey is required when the key type is "identity" and is used as the identity extractor.
func RateLimitWithConfig(cfg *Config, errDomain string, opts RateLimitOpts) (func(next http.Handler) http.Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate rate limit config: %w", err)
	}

	getKey, err := makeGetKeyFuncFromConfig(cfg, opts.GetKey)
	if err != nil {
		return nil, err
	}
	opts.GetKey = getKey

	switch {
	case cfg.RetryAfter.IsAuto:
		opts.GetRetryAfter = GetRetryAfterEstimatedTime
	case cfg.RetryAfter.Duration == 0:
		opts.GetRetryAfter = nil
	default:
		opts.GetRetryAfter = func(_ *http.Request, _ time.Duration) time.Duration {
			return cfg.RetryAfter.Duration
		}
	}

	opts.MaxKeys = cfg.MaxKeys
	opts.ResponseStatusCode = cfg.getResponseStatusCode()
	opts.DryRun = cfg.DryRun

	return RateLimitWithOpts(Rate{Count: cfg.Rate.Count, Duration: cfg.Rate.Duration}, errDomain, opts)
}

func makeGetKeyFuncFromConfig(cfg *Config, getKeyIdentity RateLimitGetKeyFunc) (RateLimitGetKeyFunc, error) {
	var getKey RateLimitGetKeyFunc
	switch cfg.Key.Type {
	case KeyTypeNoKey:
		return nil, nil
	case KeyTypeIdentity:
		if getKeyIdentity == nil {
			return nil, fmt.Errorf("GetKey is required for %q key type", KeyTypeIdentity)
		}
		getKey = getKeyIdentity
	case KeyTypeHTTPHeader:
		getKey = RateLimitKeyByHeader(cfg.Key.HeaderName, cfg.Key.NoBypassEmpty)
	case KeyTypeRemoteAddr:
		getKey = RateLimitKeyByRemoteAddr()
	default:
		return nil, fmt.Errorf("unknown key type %q", cfg.Key.Type)
	}
	return RateLimitKeyWithGlobFilter(getKey, cfg.IncludedKeys, cfg.ExcludedKeys)
}

// RetryAfterValue represents structured value of the Retry-After response header.
type RetryAfterValue struct {
	IsAuto   bool
	Duration time.Duration
}

const retryAfterAuto = "auto"

// String returns a string representation of the retry-after value.
// Implements fmt.Stringer interface.
func (ra RetryAfterValue) String() string {
	if ra.IsAuto {
		return retryAfterAuto
	}
	return ra.Duration.String()
}

// UnmarshalText implements the encoding.TextUnmarshaler interface
// which is used by mapstructure.TextUnmarshallerHookFunc.
func (ra *RetryAfterValue) UnmarshalText(text []byte) error {
	return ra.unmarshal(string(text))
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (ra *RetryAfterValue) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	return ra.unmarshal(text)
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (ra *RetryAfterValue) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err != nil {
		return err
	}
	return ra.unmarshal(text)
}

func (ra *RetryAfterValue) unmarshal(retryAfterVal string) error {
	switch v := retryAfterVal; v {
	case "":
		*ra = RetryAfterValue{Duration: 0}
	case retryAfterAuto:
		*ra = RetryAfterValue{IsAuto: true}
	default:
		dur, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*ra = RetryAfterValue{Duration: dur}
	}
	return nil
}

// MarshalText implements the encoding.TextMarshaler interface.
func (ra RetryAfterValue) MarshalText() ([]byte, error) {
	return []byte(ra.String()), nil
}

// MarshalJSON implements the json.Marshaler interface.
func (ra RetryAfterValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(ra.String())
}

// MarshalYAML implements the yaml.Marshaler interface.
func (ra RetryAfterValue) MarshalYAML() (interface{}, error) {
	return ra.String(), nil
}

// RateValue represents value for rate limiting.
type RateValue struct {
	Count    int
	Duration time.Duration
}

// String returns a string representation of the rate limit value.
// Implements fmt.Stringer interface.
func (rl RateValue) String() string {
	if rl.Duration == 0 && rl.Count == 0 {
		return ""
	}
	var d string
	switch rl.Duration {
	case time.Second:
		d = "s"
	case time.Minute:
		d = "m"
	case time.Hour:
		d = "h"
	default:
		d = rl.Duration.String()
	}
	return fmt.Sprintf("%d/%s", rl.Count, d)
}

// UnmarshalText implements the encoding.TextUnmarshaler interface
// which is used by mapstructure.TextUnmarshallerHookFunc.
func (rl *RateValue) UnmarshalText(text []byte) error {
	return rl.unmarshal(string(text))
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (rl *RateValue) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	return rl.unmarshal(text)
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (rl *RateValue) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err != nil {
		return err
	}
	return rl.unmarshal(text)
}

func (rl *RateValue) unmarshal(rate string) error {
	if rate == "" {
		*rl = RateValue{}
		return nil
	}
	incorrectFormatErr := fmt.Errorf(
		"incorrect format for rate %q, should be N/(s|m|h), for example 10/s, 100/m, 1000/h", rate)
	parts := strings.SplitN(rate, "/", 2)
	if len(parts) != 2 {
		return incorrectFormatErr
	}
	count, err := strconv.Atoi(parts[0])
	if err != nil {
		return incorrectFormatErr
	}
	var dur time.Duration
	switch strings.ToLower(parts[1]) {
	case "s":
		dur = time.Second
	case "m":
		dur = time.Minute
	case "h":
		dur = time.Hour
	default:
		return incorrectFormatErr
	}
	*rl = RateValue{Count: count, Duration: dur}
	return nil
}

// MarshalText implements the encoding.TextMarshaler interface.
func (rl RateValue) MarshalText() ([]byte, error) {
	return []byte(rl.String()), nil
}

// MarshalJSON implements the json.Marshaler interface.
func (rl RateValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(rl.String())
}

// MarshalYAML implements the yaml.Marshaler interface.
func (rl RateValue) MarshalYAML() (interface{}, error) {
	return rl.String(), nil
}

func mapstructureTrimSpaceStringsHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Kind,
		t reflect.Kind,
		data interface{}) (interface{}, error) {
		if f != reflect.Slice || t != reflect.Slice {
			return data, nil
		}
		switch dt := data.(type) {
		case []string:
			res := make([]string, 0, len(dt))
			for _, s := range dt {
				res = append(res, strings.TrimSpace(s))
			}
			return res, nil
		default:
			return data, nil
		}
	}
}

// MapstructureDecodeHook returns a DecodeHookFunc for mapstructure to handle custom types.
func MapstructureDecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructureTrimSpaceStringsHookFunc(),
	)
}
