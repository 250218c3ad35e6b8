package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type App struct {
	// DB
	PGDSN string `envconfig:"PG_RECONCILE_DSN" required:"true"`

	// HTTP
	HTTPAddr string `envconfig:"RECONCILE_HTTP_ADDR" default:":8080"`

	// JWT for the poll/read API
	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`

	// Payment provider (Omise)
	OmisePub string `envconfig:"OMISE_PUBLIC_KEY" required:"true"`
	OmiseSec string `envconfig:"OMISE_SECRET_KEY" required:"true"`

	// Webhook signing secrets. The carrier secret is optional because not
	// every carrier signs; unsigned carrier payloads are only accepted when
	// ALLOW_UNSIGNED_CARRIER is set (dev) and are marked low-trust.
	PaymentWebhookSecret string `envconfig:"PAYMENT_WEBHOOK_SECRET" required:"true"`
	CarrierWebhookSecret string `envconfig:"CARRIER_WEBHOOK_SECRET" default:""`
	AllowUnsignedCarrier bool   `envconfig:"ALLOW_UNSIGNED_CARRIER" default:"false"`

	// Carrier tracking aggregator
	CarrierBaseURL string `envconfig:"CARRIER_BASE_URL" required:"true"`
	CarrierAPIKey  string `envconfig:"CARRIER_API_KEY" required:"true"`

	// RabbitMQ for outcome events
	RabbitURL       string `envconfig:"RABBIT_URL" required:"true"`
	OutcomeExchange string `envconfig:"RECONCILE_EXCHANGE" default:"reconcile.exchange"`

	// Timers
	ProviderTimeout  time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"15s"`
	SweepInterval    time.Duration `envconfig:"SWEEP_INTERVAL" default:"30s"`
	WebhookRetention time.Duration `envconfig:"WEBHOOK_RETENTION" default:"720h"`

	Debug bool `envconfig:"DEBUG" default:"false"`
}

func Load() (App, error) {
	var c App
	err := envconfig.Process("", &c)
	return c, err
}
