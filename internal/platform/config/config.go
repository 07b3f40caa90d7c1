// Package config loads runtime settings from the environment, .env files and
// Secret Manager references.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

const (
	envPrefix = "RNS_"

	defaultEnvFile           = ".env"
	defaultPort              = "8080"
	defaultReadTimeout       = 15 * time.Second
	defaultWriteTimeout      = 30 * time.Second
	defaultIdleTimeout       = 120 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultLogLevel          = "info"
	defaultStoreName         = "Rise-n-Smoke BBQ"
	defaultTaxRateBPS        = 825
	defaultTimezone          = "America/Chicago"
	defaultOrderPrefix       = "RNS"
	defaultCartClearDelay    = 2 * time.Second
	defaultCloverAPIBase     = "https://api.clover.com"
	defaultCloverEcomBase    = "https://scl.clover.com"
	sandboxCloverAPIBase     = "https://sandbox.dev.clover.com"
	sandboxCloverEcomBase    = "https://scl-sandbox.dev.clover.com"
	defaultCloverRetries     = 3
	defaultCloverTimeout     = 15 * time.Second
	defaultCloverRPS         = 8.0
	defaultPaymentProvider   = "clover"
	defaultPostgresMaxConns  = 10
	defaultCartCollection    = "carts"
	defaultMongoDatabase     = "rise_n_smoke"
	defaultMongoCollection   = "clover_webhook_events"
	defaultOrderTopic        = "order-events"
	defaultSignatureHeader   = "X-Clover-Signature"
	defaultIdempotencyHeader = "Idempotency-Key"
	defaultIdempotencyTTL    = 24 * time.Hour
	defaultCleanupInterval   = time.Hour
	defaultCleanupBatch      = 200
)

// Config groups runtime configuration by concern.
type Config struct {
	Server        ServerConfig
	Store         StoreConfig
	Clover        CloverConfig
	Payments      PaymentsConfig
	Postgres      PostgresConfig
	Firestore     FirestoreConfig
	Mongo         MongoConfig
	PubSub        PubSubConfig
	Notifications NotificationConfig
	Webhooks      WebhookConfig
	Idempotency   IdempotencyConfig
	Secrets       SecretsConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	LogLevel        string
}

// StoreConfig holds restaurant level settings.
type StoreConfig struct {
	Name               string
	TaxRateBasisPoints int64
	Timezone           string
	Location           *time.Location
	OrderNumberPrefix  string
	MenuFile           string
	ShippingZonesFile  string
	CartClearDelay     time.Duration
}

// CloverConfig configures the POS client. APIToken and EcommerceKey accept
// secret:// references.
type CloverConfig struct {
	MerchantID        string
	APIToken          string
	EcommerceKey      string
	APIBaseURL        string
	EcommerceBaseURL  string
	Sandbox           bool
	MaxRetries        int
	Timeout           time.Duration
	RequestsPerSecond float64
	PrintOrders       bool
}

// PaymentsConfig selects the payment provider.
type PaymentsConfig struct {
	Provider     string
	StripeAPIKey string
}

type PostgresConfig struct {
	URL      string
	MaxConns int
}

type FirestoreConfig struct {
	ProjectID      string
	EmulatorHost   string
	CartCollection string
}

type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

type PubSubConfig struct {
	ProjectID  string
	OrderTopic string
}

// NotificationConfig configures confirmation email and kitchen tickets. Each
// channel is disabled while its credential is empty.
type NotificationConfig struct {
	SendGridAPIKey   string
	FromEmail        string
	FromName         string
	TelegramBotToken string
	TelegramChatID   int64
}

// WebhookConfig holds the Clover webhook signing settings.
type WebhookConfig struct {
	CloverSigningSecret string
	SignatureHeader     string
}

type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretsConfig points secret:// references at a Secret Manager project.
type SecretsConfig struct {
	ProjectID    string
	FallbackFile string
}

// SecretResolver resolves secret:// references.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret calls f.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError lists every missing or invalid field.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the offending field names.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError wraps a failed secret:// lookup.
type SecretError struct {
	Field string
	Ref   string
	Err   error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("config: resolve %s (%s): %v", e.Field, e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

var errNoSecretResolver = errors.New("secret resolver not configured")

// Option customises Load.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	resolver     SecretResolver
}

// WithEnvFile overrides the .env path. An empty path disables the file.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap supplies values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver for secret:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.resolver = resolver }
}

// Bootstrap returns the Secret Manager settings needed before Load can
// resolve references. It applies the same precedence as Load.
func Bootstrap(opts ...Option) (SecretsConfig, error) {
	lookup, _, err := newLookup(opts)
	if err != nil {
		return SecretsConfig{}, err
	}
	return secretsConfig(lookup), nil
}

// Load assembles Config. Precedence: explicit map, then process environment,
// then the .env file, then defaults.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	lookup, options, err := newLookup(opts)
	if err != nil {
		return Config{}, err
	}
	get := func(key, fallback string) string { return stringValue(lookup, key, fallback) }

	cfg := Config{
		Server: ServerConfig{
			Port:            get("PORT", defaultPort),
			ReadTimeout:     durationValue(lookup, "SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationValue(lookup, "SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationValue(lookup, "SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationValue(lookup, "SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
			LogLevel:        get("LOG_LEVEL", defaultLogLevel),
		},
		Store: StoreConfig{
			Name:               get("STORE_NAME", defaultStoreName),
			TaxRateBasisPoints: int64(intValue(lookup, "TAX_RATE_BPS", defaultTaxRateBPS)),
			Timezone:           get("TIMEZONE", defaultTimezone),
			OrderNumberPrefix:  strings.ToUpper(get("ORDER_NUMBER_PREFIX", defaultOrderPrefix)),
			MenuFile:           get("MENU_FILE", ""),
			ShippingZonesFile:  get("SHIPPING_ZONES_FILE", ""),
			CartClearDelay:     durationValue(lookup, "CART_CLEAR_DELAY", defaultCartClearDelay),
		},
		Clover: CloverConfig{
			MerchantID:        get("CLOVER_MERCHANT_ID", ""),
			APIToken:          get("CLOVER_API_TOKEN", ""),
			EcommerceKey:      get("CLOVER_ECOMMERCE_KEY", ""),
			Sandbox:           boolValue(lookup, "CLOVER_SANDBOX", false),
			MaxRetries:        intValue(lookup, "CLOVER_MAX_RETRIES", defaultCloverRetries),
			Timeout:           durationValue(lookup, "CLOVER_TIMEOUT", defaultCloverTimeout),
			RequestsPerSecond: floatValue(lookup, "CLOVER_REQUESTS_PER_SECOND", defaultCloverRPS),
			PrintOrders:       boolValue(lookup, "CLOVER_PRINT_ORDERS", true),
		},
		Payments: PaymentsConfig{
			Provider:     strings.ToLower(get("PAYMENT_PROVIDER", defaultPaymentProvider)),
			StripeAPIKey: get("STRIPE_API_KEY", ""),
		},
		Postgres: PostgresConfig{
			URL:      get("DATABASE_URL", ""),
			MaxConns: intValue(lookup, "DATABASE_MAX_CONNS", defaultPostgresMaxConns),
		},
		Firestore: FirestoreConfig{
			ProjectID:      get("FIRESTORE_PROJECT_ID", ""),
			EmulatorHost:   get("FIRESTORE_EMULATOR_HOST", ""),
			CartCollection: get("FIRESTORE_CART_COLLECTION", defaultCartCollection),
		},
		Mongo: MongoConfig{
			URI:        get("MONGO_URI", ""),
			Database:   get("MONGO_DATABASE", defaultMongoDatabase),
			Collection: get("MONGO_WEBHOOK_COLLECTION", defaultMongoCollection),
		},
		PubSub: PubSubConfig{
			ProjectID:  get("PUBSUB_PROJECT_ID", ""),
			OrderTopic: get("PUBSUB_ORDER_TOPIC", defaultOrderTopic),
		},
		Notifications: NotificationConfig{
			SendGridAPIKey:   get("SENDGRID_API_KEY", ""),
			FromEmail:        get("NOTIFY_FROM_EMAIL", ""),
			FromName:         get("NOTIFY_FROM_NAME", defaultStoreName),
			TelegramBotToken: get("TELEGRAM_BOT_TOKEN", ""),
			TelegramChatID:   int64Value(lookup, "TELEGRAM_CHAT_ID", 0),
		},
		Webhooks: WebhookConfig{
			CloverSigningSecret: get("CLOVER_WEBHOOK_SECRET", ""),
			SignatureHeader:     get("CLOVER_WEBHOOK_HEADER", defaultSignatureHeader),
		},
		Idempotency: IdempotencyConfig{
			Header:           get("IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationValue(lookup, "IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationValue(lookup, "IDEMPOTENCY_CLEANUP_INTERVAL", defaultCleanupInterval),
			CleanupBatchSize: intValue(lookup, "IDEMPOTENCY_CLEANUP_BATCH", defaultCleanupBatch),
		},
		Secrets: secretsConfig(lookup),
	}

	cfg.Clover.APIBaseURL = get("CLOVER_API_BASE_URL", pick(cfg.Clover.Sandbox, sandboxCloverAPIBase, defaultCloverAPIBase))
	cfg.Clover.EcommerceBaseURL = get("CLOVER_ECOMMERCE_BASE_URL", pick(cfg.Clover.Sandbox, sandboxCloverEcomBase, defaultCloverEcomBase))
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	secretFields := []struct {
		name  string
		field *string
	}{
		{"Clover.APIToken", &cfg.Clover.APIToken},
		{"Clover.EcommerceKey", &cfg.Clover.EcommerceKey},
		{"Payments.StripeAPIKey", &cfg.Payments.StripeAPIKey},
		{"Postgres.URL", &cfg.Postgres.URL},
		{"Mongo.URI", &cfg.Mongo.URI},
		{"Notifications.SendGridAPIKey", &cfg.Notifications.SendGridAPIKey},
		{"Notifications.TelegramBotToken", &cfg.Notifications.TelegramBotToken},
		{"Webhooks.CloverSigningSecret", &cfg.Webhooks.CloverSigningSecret},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, target.name, *target.field, options.resolver)
		if err != nil {
			return Config{}, err
		}
		*target.field = resolved
	}

	if err := validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func newLookup(opts []Option) (func(string) (string, bool), loaderOptions, error) {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}
	dotEnv, err := readDotEnv(options.envFile)
	if err != nil {
		return nil, options, err
	}
	lookup := func(key string) (string, bool) {
		key = envPrefix + key
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}
	return lookup, options, nil
}

func secretsConfig(lookup func(string) (string, bool)) SecretsConfig {
	cfg := SecretsConfig{
		ProjectID:    stringValue(lookup, "SECRETS_PROJECT_ID", ""),
		FallbackFile: stringValue(lookup, "SECRETS_FALLBACK_FILE", ""),
	}
	if cfg.ProjectID == "" {
		cfg.ProjectID = stringValue(lookup, "FIRESTORE_PROJECT_ID", "")
	}
	return cfg
}

func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return values, nil
}

func resolveSecret(ctx context.Context, field, value string, resolver SecretResolver) (string, error) {
	value = strings.TrimSpace(value)
	if !IsSecretReference(value) {
		return value, nil
	}
	ref := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Field: field, Ref: ref, Err: errNoSecretResolver}
	}
	resolved, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Field: field, Ref: ref, Err: err}
	}
	return strings.TrimSpace(resolved), nil
}

// IsSecretReference reports whether value is a secret:// or sm:// reference.
func IsSecretReference(value string) bool {
	value = strings.TrimSpace(value)
	return strings.HasPrefix(value, "secret://") || strings.HasPrefix(value, "sm://")
}

func normalizeSecretReference(value string) string {
	if rest, ok := strings.CutPrefix(value, "sm://"); ok {
		return "secret://" + rest
	}
	return value
}

func validate(cfg *Config) error {
	var bad []string
	if strings.TrimSpace(cfg.Server.Port) == "" {
		bad = append(bad, "Server.Port")
	}
	if cfg.Store.TaxRateBasisPoints < 0 || cfg.Store.TaxRateBasisPoints > 10000 {
		bad = append(bad, "Store.TaxRateBasisPoints")
	}
	loc, err := time.LoadLocation(cfg.Store.Timezone)
	if err != nil {
		bad = append(bad, "Store.Timezone")
	} else {
		cfg.Store.Location = loc
	}
	if cfg.Store.OrderNumberPrefix == "" {
		bad = append(bad, "Store.OrderNumberPrefix")
	}
	if cfg.Clover.MerchantID == "" {
		bad = append(bad, "Clover.MerchantID")
	}
	if cfg.Clover.APIToken == "" {
		bad = append(bad, "Clover.APIToken")
	}
	if cfg.Clover.MaxRetries < 0 {
		bad = append(bad, "Clover.MaxRetries")
	}
	if cfg.Clover.RequestsPerSecond <= 0 {
		bad = append(bad, "Clover.RequestsPerSecond")
	}
	switch cfg.Payments.Provider {
	case "clover":
		if cfg.Clover.EcommerceKey == "" {
			bad = append(bad, "Clover.EcommerceKey")
		}
	case "stripe":
		if cfg.Payments.StripeAPIKey == "" {
			bad = append(bad, "Payments.StripeAPIKey")
		}
	default:
		bad = append(bad, "Payments.Provider")
	}
	if cfg.Postgres.URL == "" {
		bad = append(bad, "Postgres.URL")
	}
	if cfg.Webhooks.CloverSigningSecret == "" {
		bad = append(bad, "Webhooks.CloverSigningSecret")
	}
	if strings.TrimSpace(cfg.Webhooks.SignatureHeader) == "" {
		bad = append(bad, "Webhooks.SignatureHeader")
	}
	if cfg.Notifications.SendGridAPIKey != "" && cfg.Notifications.FromEmail == "" {
		bad = append(bad, "Notifications.FromEmail")
	}
	if cfg.Notifications.TelegramBotToken != "" && cfg.Notifications.TelegramChatID == 0 {
		bad = append(bad, "Notifications.TelegramChatID")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		bad = append(bad, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		bad = append(bad, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		bad = append(bad, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		bad = append(bad, "Idempotency.CleanupBatchSize")
	}
	if len(bad) > 0 {
		return &ValidationError{fields: bad}
	}
	return nil
}

func pick(cond bool, yes, no string) string {
	if cond {
		return yes
	}
	return no
}

func stringValue(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationValue(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intValue(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func int64Value(lookup func(string) (string, bool), key string, fallback int64) int64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func floatValue(lookup func(string) (string, bool), key string, fallback float64) float64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolValue(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}
