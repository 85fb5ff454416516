// Package config turns command line flags, environment variables and an
// optional YAML file into a validated Config.
//
// Every flag is also a viper key of the same name, so the config file and
// the environment use flag names:
//
//	# ~/.lycsurv.yaml
//	catalog: ./tab/lzlcs.csv
//	predictors: ./tab/predictors.txt
//	responses: [f_esc(LyC), f(LyA)]
//	method: coxph
//	store: redis
//	redis-addr: localhost:6379
//
// Environment variables take the LYCSURV_ prefix with dashes replaced by
// underscores: LYCSURV_REDIS_ADDR, LYCSURV_LOG_LEVEL.
//
// Precedence, highest first: flags, environment, config file, defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/HatiCode/lycsurv/pkg/features"
	"github.com/HatiCode/lycsurv/pkg/models"
	"github.com/HatiCode/lycsurv/pkg/survival"
	"github.com/HatiCode/lycsurv/pkg/tls"
)

// Viper keys.
const (
	KeyLogLevel           = "log-level"
	KeyLogFormat          = "log-format"
	KeyVerbose            = "verbose"
	KeyCatalog            = "catalog"
	KeyCatalogURL         = "catalog-url"
	KeyCatalogKind        = "catalog-kind"
	KeyCatalogHeaders     = "catalog-headers"
	KeyJSONRowsPath       = "json-rows-path"
	KeyComma              = "comma"
	KeyHTTPTimeout        = "http-timeout"
	KeyPredictors         = "predictors"
	KeyResponses          = "responses"
	KeyMethod             = "method"
	KeyDetectionThreshold = "detection-threshold"
	KeyWeighted           = "weighted"
	KeyRobust             = "robust"
	KeyIntercept          = "intercept"
	KeyLevels             = "levels"
	KeyConcordance        = "concordance"
	KeyMaxIter            = "max-iter"
	KeyIDColumn           = "id-column"
	KeyTargets            = "targets"
	KeyOutput             = "output"
	KeyTrainOutput        = "train-output"
	KeySummaryOutput      = "summary-output"
	KeyMetricsFile        = "metrics-file"
	KeyRefit              = "refit"
	KeyStore              = "store"
	KeyStoreTTL           = "store-ttl"
	KeyRedisAddr          = "redis-addr"
	KeyRedisPassword      = "redis-password"
	KeyRedisDB            = "redis-db"
	KeyTLSEnabled         = "tls-enabled"
	KeyTLSCAFile          = "tls-ca-file"
	KeyTLSCertFile        = "tls-cert-file"
	KeyTLSKeyFile         = "tls-key-file"
	KeyTLSServerName      = "tls-server-name"
)

// Default values shared by flag definitions and SetDefaults.
const (
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "text"
	DefaultCatalogKind = "csv"
	DefaultHTTPTimeout = 30 * time.Second
	DefaultResponse    = string(features.EscapeLyC)
	DefaultMethod      = models.MethodCoxPH
	DefaultConcordance = models.ConcordanceHarrell
	DefaultMaxIter     = 50
	DefaultIDColumn    = "ID"
	DefaultOutput      = "-"
	DefaultStore       = "memory"
	DefaultStoreTTL    = 24 * time.Hour
	DefaultRedisAddr   = "localhost:6379"
)

// StdoutPath selects standard output for an output file.
const StdoutPath = "-"

// Config is the resolved configuration of one command.
type Config struct {
	LogLevel  string
	LogFormat string
	Verbose   bool

	// Catalog is the reference catalog path; CatalogURL fetches it instead.
	Catalog        string
	CatalogURL     string
	CatalogKind    string
	CatalogHeaders string
	JSONRowsPath   string
	Comma          string
	HTTPTimeout    time.Duration

	PredictorsFile     string
	Responses          []features.Response
	Method             string
	DetectionThreshold float64
	Weighted           bool
	Robust             bool
	Intercept          bool
	Levels             survival.Levels
	Concordance        string
	MaxIter            int

	IDColumn string

	// Targets is the catalog to predict; empty means the reference catalog.
	Targets       string
	Output        string
	TrainOutput   string
	SummaryOutput string
	MetricsFile   string

	// Refit ignores stored fits.
	Refit bool

	Store         string
	StoreTTL      time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TLS           tls.Config
}

// SetDefaults registers defaults for keys whose zero value is not the
// default.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	v.SetDefault(KeyLogFormat, DefaultLogFormat)
	v.SetDefault(KeyCatalogKind, DefaultCatalogKind)
	v.SetDefault(KeyHTTPTimeout, DefaultHTTPTimeout)
	v.SetDefault(KeyResponses, []string{DefaultResponse})
	v.SetDefault(KeyMethod, DefaultMethod)
	v.SetDefault(KeyDetectionThreshold, features.DefaultDetectionThreshold)
	v.SetDefault(KeyRobust, true)
	v.SetDefault(KeyIntercept, true)
	v.SetDefault(KeyLevels, survival.DefaultLevels.String())
	v.SetDefault(KeyConcordance, DefaultConcordance)
	v.SetDefault(KeyMaxIter, DefaultMaxIter)
	v.SetDefault(KeyIDColumn, DefaultIDColumn)
	v.SetDefault(KeyOutput, DefaultOutput)
	v.SetDefault(KeyStore, DefaultStore)
	v.SetDefault(KeyStoreTTL, DefaultStoreTTL)
	v.SetDefault(KeyRedisAddr, DefaultRedisAddr)
}

// Load reads v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		LogLevel:           strings.ToLower(strings.TrimSpace(v.GetString(KeyLogLevel))),
		LogFormat:          strings.ToLower(strings.TrimSpace(v.GetString(KeyLogFormat))),
		Verbose:            v.GetBool(KeyVerbose),
		Catalog:            v.GetString(KeyCatalog),
		CatalogURL:         v.GetString(KeyCatalogURL),
		CatalogKind:        strings.ToLower(v.GetString(KeyCatalogKind)),
		CatalogHeaders:     v.GetString(KeyCatalogHeaders),
		JSONRowsPath:       v.GetString(KeyJSONRowsPath),
		Comma:              v.GetString(KeyComma),
		HTTPTimeout:        v.GetDuration(KeyHTTPTimeout),
		PredictorsFile:     v.GetString(KeyPredictors),
		DetectionThreshold: v.GetFloat64(KeyDetectionThreshold),
		Weighted:           v.GetBool(KeyWeighted),
		Robust:             v.GetBool(KeyRobust),
		Intercept:          v.GetBool(KeyIntercept),
		MaxIter:            v.GetInt(KeyMaxIter),
		IDColumn:           v.GetString(KeyIDColumn),
		Targets:            v.GetString(KeyTargets),
		Output:             v.GetString(KeyOutput),
		TrainOutput:        v.GetString(KeyTrainOutput),
		SummaryOutput:      v.GetString(KeySummaryOutput),
		MetricsFile:        v.GetString(KeyMetricsFile),
		Refit:              v.GetBool(KeyRefit),
		Store:              strings.ToLower(v.GetString(KeyStore)),
		StoreTTL:           v.GetDuration(KeyStoreTTL),
		RedisAddr:          v.GetString(KeyRedisAddr),
		RedisPassword:      v.GetString(KeyRedisPassword),
		RedisDB:            v.GetInt(KeyRedisDB),
		TLS: tls.Config{
			Enabled:    v.GetBool(KeyTLSEnabled),
			CAFile:     v.GetString(KeyTLSCAFile),
			CertFile:   v.GetString(KeyTLSCertFile),
			KeyFile:    v.GetString(KeyTLSKeyFile),
			ServerName: v.GetString(KeyTLSServerName),
		},
	}

	responses, err := features.ParseResponses(splitList(v.GetStringSlice(KeyResponses)))
	if err != nil {
		return nil, err
	}
	cfg.Responses = responses

	if cfg.Method, err = models.ParseMethod(v.GetString(KeyMethod)); err != nil {
		return nil, err
	}
	if cfg.Concordance, err = models.ParseConcordance(v.GetString(KeyConcordance)); err != nil {
		return nil, err
	}
	if cfg.Levels, err = survival.ParseLevels(v.GetString(KeyLevels)); err != nil {
		return nil, fmt.Errorf("--%s: %w", KeyLevels, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitList accepts both repeated values and comma-separated strings, as
// environment variables arrive as a single string.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks value ranges and combinations.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --%s %q (expected debug|info|warn|error)", KeyLogLevel, c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid --%s %q (expected text|json)", KeyLogFormat, c.LogFormat)
	}

	if (c.Catalog == "") == (c.CatalogURL == "") {
		return fmt.Errorf("exactly one of --%s or --%s is required", KeyCatalog, KeyCatalogURL)
	}
	switch c.CatalogKind {
	case "csv", "json":
	default:
		return fmt.Errorf("invalid --%s %q (expected csv|json)", KeyCatalogKind, c.CatalogKind)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("--%s must be positive", KeyHTTPTimeout)
	}

	if c.PredictorsFile == "" {
		return fmt.Errorf("--%s is required", KeyPredictors)
	}
	if len(c.Responses) == 0 {
		return fmt.Errorf("at least one --%s value is required", KeyResponses)
	}
	if !(c.DetectionThreshold > 0 && c.DetectionThreshold < 1) {
		return fmt.Errorf("--%s must be in (0, 1), got %v", KeyDetectionThreshold, c.DetectionThreshold)
	}
	if c.MaxIter <= 0 {
		return fmt.Errorf("--%s must be positive, got %d", KeyMaxIter, c.MaxIter)
	}
	if err := c.Levels.Validate(); err != nil {
		return err
	}
	if c.IDColumn == "" {
		return fmt.Errorf("--%s cannot be empty", KeyIDColumn)
	}
	if c.Output == "" {
		return fmt.Errorf("--%s cannot be empty", KeyOutput)
	}

	switch c.Store {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("--%s is required with --%s=redis", KeyRedisAddr, KeyStore)
		}
		if c.RedisDB < 0 {
			return fmt.Errorf("--%s must be >= 0", KeyRedisDB)
		}
	default:
		return fmt.Errorf("invalid --%s %q (expected memory|redis)", KeyStore, c.Store)
	}
	if c.StoreTTL < 0 {
		return fmt.Errorf("--%s must be >= 0", KeyStoreTTL)
	}

	if err := c.TLS.Validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	return nil
}

// ModelOptions returns the fitting options.
func (c *Config) ModelOptions() models.Options {
	opts := models.DefaultOptions()
	opts.Robust = c.Robust
	opts.Intercept = c.Intercept
	opts.Levels = c.Levels
	opts.MaxIter = c.MaxIter
	return opts
}

// CatalogConfig returns the catalog.New configuration map for the reference
// catalog, or for path when path is not empty.
func (c *Config) CatalogConfig(path string) map[string]string {
	m := map[string]string{
		"comma":    c.Comma,
		"rowsPath": c.JSONRowsPath,
		"headers":  c.CatalogHeaders,
	}
	switch {
	case path != "":
		m["path"] = path
	case c.CatalogURL != "":
		m["url"] = c.CatalogURL
	default:
		m["path"] = c.Catalog
	}
	return m
}

// Fingerprint lists the options that change a fit, for storage keys.
func (c *Config) Fingerprint() string {
	return fmt.Sprintf("threshold=%g weighted=%t robust=%t intercept=%t maxiter=%d",
		c.DetectionThreshold, c.Weighted, c.Robust, c.Intercept, c.MaxIter)
}
