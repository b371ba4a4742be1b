package config

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 10 * time.Minute
	defaultIdleTimeout         = 120 * time.Second
	defaultBackendTimeout      = 15 * time.Second
	defaultScriptURL           = "https://checkout.razorpay.com/v1/checkout.js"
	defaultOrgName             = "Brightpath Academy"
	defaultOrgDescription      = "Student enrollment fee"
	defaultThemeColor          = "#3399cc"
	defaultPlanID              = "standard"
	defaultPlanSpec            = "Standard Enrollment:150000:INR"
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultIdempotencyInterval = time.Hour
	defaultIdempotencyBatch    = 200
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Backend     BackendConfig
	Gateway     GatewayConfig
	Enrollment  EnrollmentConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters. The write timeout is
// generous because submissions hold the connection open while the checkout
// window is awaiting the payer.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// BackendConfig locates the school backend serving payment and auth routes.
type BackendConfig struct {
	BaseURL        string
	ServiceToken   string
	RequestTimeout time.Duration
}

// GatewayConfig configures the hosted checkout integration.
type GatewayConfig struct {
	ScriptURL  string
	ThemeColor string
}

// EnrollmentConfig carries the organisation identity and the plan catalog.
type EnrollmentConfig struct {
	OrgName        string
	OrgDescription string
	DefaultPlan    string
	Plans          map[string]PlanSpec
}

// PlanSpec describes one purchasable plan; Amount is in minor currency units.
type PlanSpec struct {
	Label    string
	Amount   int64
	Currency string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretResolver resolves references to external secrets (secret:// URIs).
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
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to resolve.
type MissingSecretsError struct {
	secrets []missingSecret
}

type missingSecret struct {
	name     string
	redacted string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.secrets) == 0 {
		return "missing required secrets"
	}
	names := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		names = append(names, secret.redacted)
	}
	sort.Strings(names)
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(names, ", "))
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.name)
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups.
// Values in the map take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided
// maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks the provided secret identifiers as mandatory,
// matching the config field names recorded by the loader
// (e.g. "Backend.ServiceToken").
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// Load assembles the application configuration by combining defaults, .env
// overrides, environment variables, and optional secret lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}

	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "ENROLL_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "ENROLL_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "ENROLL_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "ENROLL_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Backend: BackendConfig{
			BaseURL:        stringWithDefault(lookup, "ENROLL_BACKEND_BASE_URL", ""),
			ServiceToken:   stringWithDefault(lookup, "ENROLL_BACKEND_SERVICE_TOKEN", ""),
			RequestTimeout: durationWithDefault(lookup, "ENROLL_BACKEND_REQUEST_TIMEOUT", defaultBackendTimeout),
		},
		Gateway: GatewayConfig{
			ScriptURL:  stringWithDefault(lookup, "ENROLL_GATEWAY_SCRIPT_URL", defaultScriptURL),
			ThemeColor: stringWithDefault(lookup, "ENROLL_GATEWAY_THEME_COLOR", defaultThemeColor),
		},
		Enrollment: EnrollmentConfig{
			OrgName:        stringWithDefault(lookup, "ENROLL_ORG_NAME", defaultOrgName),
			OrgDescription: stringWithDefault(lookup, "ENROLL_ORG_DESCRIPTION", defaultOrgDescription),
			DefaultPlan:    strings.ToLower(stringWithDefault(lookup, "ENROLL_DEFAULT_PLAN", defaultPlanID)),
			Plans:          plansWithDefault(lookup, "ENROLL_PLANS"),
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "ENROLL_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "ENROLL_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "ENROLL_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "ENROLL_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatch),
		},
	}

	resolvedSecrets := make(map[string]string)
	resolveField := func(name string, field *string) error {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return err
		}
		*field = resolved
		resolvedSecrets[name] = strings.TrimSpace(resolved)
		return nil
	}

	if err := resolveField("Backend.ServiceToken", &cfg.Backend.ServiceToken); err != nil {
		return Config{}, err
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolvedSecrets); missing != nil {
		return Config{}, missing
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" {
		return value, nil
	}
	if !isSecretReference(value) {
		return value, nil
	}
	if resolver == nil {
		return "", &SecretError{Ref: strings.TrimSpace(value), Err: errSecretResolverNotConfigured}
	}
	ref := strings.TrimSpace(value)
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if strings.TrimSpace(cfg.Backend.BaseURL) == "" {
		missing = append(missing, "Backend.BaseURL")
	}
	if strings.TrimSpace(cfg.Gateway.ScriptURL) == "" {
		missing = append(missing, "Gateway.ScriptURL")
	}
	if strings.TrimSpace(cfg.Enrollment.OrgName) == "" {
		missing = append(missing, "Enrollment.OrgName")
	}
	if len(cfg.Enrollment.Plans) == 0 {
		missing = append(missing, "Enrollment.Plans")
	}
	if _, ok := cfg.Enrollment.Plans[cfg.Enrollment.DefaultPlan]; !ok {
		missing = append(missing, "Enrollment.DefaultPlan")
	}
	for id, plan := range cfg.Enrollment.Plans {
		if plan.Amount <= 0 || strings.TrimSpace(plan.Currency) == "" {
			missing = append(missing, fmt.Sprintf("Enrollment.Plans[%s]", id))
		}
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	if len(required) == 0 {
		return nil
	}
	missing := make([]missingSecret, 0, len(required))
	seen := make(map[string]struct{})
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if value := strings.TrimSpace(resolved[trimmed]); value != "" {
			continue
		}
		missing = append(missing, missingSecret{
			name:     trimmed,
			redacted: redactSecretName(trimmed),
		})
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{secrets: missing}
}

func isSecretReference(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), "secret://")
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

// plansWithDefault parses the plan catalog from a comma separated list of
// "id=label:amount:currency" entries, falling back to the standard plan.
func plansWithDefault(lookup func(string) (string, bool), key string) map[string]PlanSpec {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		raw = defaultPlanID + "=" + defaultPlanSpec
	}

	plans := make(map[string]PlanSpec)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		id := strings.ToLower(strings.TrimSpace(parts[0]))
		spec, ok := parsePlanSpec(parts[1])
		if id == "" || !ok {
			continue
		}
		plans[id] = spec
	}
	return plans
}

func parsePlanSpec(value string) (PlanSpec, bool) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return PlanSpec{}, false
	}
	amount, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil || amount <= 0 {
		return PlanSpec{}, false
	}
	currency := strings.ToUpper(strings.TrimSpace(parts[2]))
	label := strings.TrimSpace(parts[0])
	if label == "" || currency == "" {
		return PlanSpec{}, false
	}
	return PlanSpec{Label: label, Amount: amount, Currency: currency}, true
}
