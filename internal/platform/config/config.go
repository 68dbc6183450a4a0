package config

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile       = ".env"
	defaultPort          = "8080"
	defaultReadTimeout   = 15 * time.Second
	defaultWriteTimeout  = 30 * time.Second
	defaultIdleTimeout   = 120 * time.Second
	defaultVerifyTimeout = 10 * time.Second
	defaultVerifyRetries = 2
	defaultGatewayURL    = "https://api.iyzipay.com"
	defaultGatewayLocale = "tr"

	secretRefPrefix = "secret://"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Firestore FirestoreConfig
	Gateway   GatewayConfig
	Webhook   WebhookConfig
	URLs      URLConfig
	Events    EventsConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// GatewayConfig collects the 3-D Secure verification credentials. Keys are
// injected, never hard-coded; values may be Secret Manager references.
type GatewayConfig struct {
	APIKey        string
	SecretKey     string
	BaseURL       string
	Locale        string
	VerifyTimeout time.Duration
	VerifyRetries int
}

// WebhookConfig stores the push-notification signing secret.
type WebhookConfig struct {
	SigningSecret string
}

// URLConfig lists the browser destinations used after reconciliation.
type URLConfig struct {
	FrontBaseURL string
	AdminBaseURL string
}

// EventsConfig names the Pub/Sub resources used for manual-reconciliation events.
type EventsConfig struct {
	ProjectID           string
	ReconciliationTopic string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", maskRef(e.Ref), e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// Option customises configuration loading.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile     string
	envOverride map[string]string
	skipSysEnv  bool
	resolver    SecretResolver
}

// WithEnvFile overrides the dotenv file merged beneath the process environment.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap layers explicit values on top of every other source. Intended for tests.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envOverride = values
	}
}

// WithoutSystemEnv ignores the process environment. Intended for tests.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.skipSysEnv = true
	}
}

// WithSecretResolver installs the resolver applied to secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.resolver = resolver
	}
}

// EnvironmentValues merges the dotenv file (when present) beneath the process
// environment and any explicit overrides, returning the effective key set.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := applyOptions(opts)

	values := map[string]string{}
	merge := func(source map[string]string) {
		for k, v := range source {
			values[k] = v
		}
	}

	fileValues, err := readEnvFile(options.envFile)
	if err != nil {
		return nil, err
	}
	merge(fileValues)

	if !options.skipSysEnv {
		merge(systemEnv())
	}
	merge(options.envOverride)

	return values, nil
}

// Load reads, resolves, and validates the full runtime configuration.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := applyOptions(opts)

	values, err := EnvironmentValues(opts...)
	if err != nil {
		return Config{}, err
	}

	get := func(key string) string { return strings.TrimSpace(values[key]) }

	cfg := Config{
		Server: ServerConfig{
			Port:         defaultString(get("PORT"), defaultPort),
			ReadTimeout:  durationValue(get("SERVER_READ_TIMEOUT"), defaultReadTimeout),
			WriteTimeout: durationValue(get("SERVER_WRITE_TIMEOUT"), defaultWriteTimeout),
			IdleTimeout:  durationValue(get("SERVER_IDLE_TIMEOUT"), defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    get("FIRESTORE_PROJECT_ID"),
			EmulatorHost: get("FIRESTORE_EMULATOR_HOST"),
		},
		Gateway: GatewayConfig{
			APIKey:        get("GATEWAY_API_KEY"),
			SecretKey:     get("GATEWAY_SECRET_KEY"),
			BaseURL:       defaultString(get("GATEWAY_BASE_URL"), defaultGatewayURL),
			Locale:        defaultString(get("GATEWAY_LOCALE"), defaultGatewayLocale),
			VerifyTimeout: durationValue(get("GATEWAY_VERIFY_TIMEOUT"), defaultVerifyTimeout),
			VerifyRetries: intValue(get("GATEWAY_VERIFY_RETRIES"), defaultVerifyRetries),
		},
		Webhook: WebhookConfig{
			SigningSecret: get("WEBHOOK_SIGNING_SECRET"),
		},
		URLs: URLConfig{
			FrontBaseURL: strings.TrimRight(get("FRONT_BASE_URL"), "/"),
			AdminBaseURL: strings.TrimRight(get("ADMIN_BASE_URL"), "/"),
		},
		Events: EventsConfig{
			ProjectID:           defaultString(get("PUBSUB_PROJECT_ID"), get("FIRESTORE_PROJECT_ID")),
			ReconciliationTopic: get("RECONCILIATION_EVENTS_TOPIC"),
		},
	}

	if err := resolveSecrets(ctx, options.resolver, &cfg); err != nil {
		return Config{}, err
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyOptions(opts []Option) loaderOptions {
	options := loaderOptions{envFile: defaultEnvFile}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// resolveSecrets rewrites secret:// references in sensitive fields. Fields with
// plain values pass through untouched so local development works without a
// resolver.
func resolveSecrets(ctx context.Context, resolver SecretResolver, cfg *Config) error {
	targets := []*string{
		&cfg.Gateway.APIKey,
		&cfg.Gateway.SecretKey,
		&cfg.Webhook.SigningSecret,
	}
	for _, target := range targets {
		value := *target
		if !strings.HasPrefix(value, secretRefPrefix) {
			continue
		}
		if resolver == nil {
			return &SecretError{Ref: value, Err: fmt.Errorf("no secret resolver configured")}
		}
		resolved, err := resolver.ResolveSecret(ctx, strings.TrimPrefix(value, secretRefPrefix))
		if err != nil {
			return &SecretError{Ref: value, Err: err}
		}
		*target = strings.TrimSpace(resolved)
	}
	return nil
}

func validate(cfg Config) error {
	var missing []string
	if cfg.Firestore.ProjectID == "" && cfg.Firestore.EmulatorHost == "" {
		missing = append(missing, "FIRESTORE_PROJECT_ID")
	}
	if cfg.Gateway.APIKey == "" {
		missing = append(missing, "GATEWAY_API_KEY")
	}
	if cfg.Gateway.SecretKey == "" {
		missing = append(missing, "GATEWAY_SECRET_KEY")
	}
	if cfg.URLs.FrontBaseURL == "" {
		missing = append(missing, "FRONT_BASE_URL")
	}
	if cfg.URLs.AdminBaseURL == "" {
		missing = append(missing, "ADMIN_BASE_URL")
	}
	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func systemEnv() map[string]string {
	values := map[string]string{}
	for _, entry := range os.Environ() {
		if idx := strings.Index(entry, "="); idx > 0 {
			values[entry[:idx]] = entry[idx+1:]
		}
	}
	return values
}

func readEnvFile(path string) (map[string]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: open env file %s: %w", path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	values := map[string]string{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		value = strings.Trim(value, `"'`)
		if key != "" {
			values[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read env file %s: %w", path, err)
	}
	return values, nil
}

func defaultString(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func durationValue(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
		return parsed
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}

func intValue(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(value); err == nil && parsed >= 0 {
		return parsed
	}
	return fallback
}

func maskRef(ref string) string {
	if len(ref) <= 12 {
		return "***"
	}
	return ref[:12] + "***"
}
