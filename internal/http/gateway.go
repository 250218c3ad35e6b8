package httpx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/devinpfox/fanbidz-reconcile/internal/domain"
	"github.com/devinpfox/fanbidz-reconcile/internal/service"
	"github.com/devinpfox/fanbidz-reconcile/pkg/obs"
)

const (
	ProviderPayment = "omise"
	ProviderCarrier = "carrier"
)

type WebhookStore interface {
	InsertIfAbsent(ctx context.Context, ev *domain.WebhookEvent) (bool, *domain.WebhookEvent, error)
	MarkProcessed(ctx context.Context, provider, externalEventID string, at time.Time) error
}

type IngestResult struct {
	Duplicate bool
	LowTrust  bool
	Outcome   string
}

// dispatchFn runs the reconciliation handler for one provider's events.
// Which handler a provider maps to is fixed here: carrier events can only
// ever reach the shipment service, so a low-trust carrier payload has no
// path to the ledger.
type dispatchFn func(ctx context.Context, payload []byte) (string, error)

type providerRoute struct {
	secret        []byte
	allowUnsigned bool
	dispatch      dispatchFn
}

// Gateway authenticates, deduplicates and routes inbound provider webhooks.
// The dedup record is the idempotency gate for the whole pipeline: exactly
// one downstream mutation per distinct provider+event id, no matter how many
// times the provider delivers it.
type Gateway struct {
	events WebhookStore
	clock  service.Clock
	routes map[string]providerRoute
}

func NewGateway(events WebhookStore, payments *service.PaymentSvc, shipments *service.ShipmentSvc, paymentSecret, carrierSecret string, allowUnsignedCarrier bool, clock service.Clock) *Gateway {
	if clock == nil {
		clock = service.RealClock{}
	}
	g := &Gateway{events: events, clock: clock, routes: map[string]providerRoute{}}
	g.routes[ProviderPayment] = providerRoute{
		secret: []byte(paymentSecret),
		dispatch: func(ctx context.Context, payload []byte) (string, error) {
			if err := payments.OnPaymentWebhook(ctx, payload); err != nil {
				return "", err
			}
			return "applied", nil
		},
	}
	g.routes[ProviderCarrier] = providerRoute{
		secret:        []byte(carrierSecret),
		allowUnsigned: allowUnsignedCarrier,
		dispatch: func(ctx context.Context, payload []byte) (string, error) {
			out, err := shipments.OnTrackingWebhook(ctx, payload)
			return string(out), err
		},
	}
	return g
}

// Ingest verifies, records and dispatches one delivery. A previously
// processed event id returns immediately as an accepted duplicate. A
// recorded-but-unprocessed event (earlier dispatch failed) is re-dispatched,
// which is what makes provider retries safe and useful.
func (g *Gateway) Ingest(ctx context.Context, providerName string, payload []byte, signature string) (IngestResult, error) {
	route, ok := g.routes[providerName]
	if !ok {
		return IngestResult{}, fmt.Errorf("%w: provider %q", domain.ErrUnknownEntity, providerName)
	}

	lowTrust := false
	switch {
	case len(route.secret) > 0:
		if !verifySignature(route.secret, payload, signature) {
			return IngestResult{}, domain.ErrBadSignature
		}
	case route.allowUnsigned:
		lowTrust = true
	default:
		return IngestResult{}, domain.ErrBadSignature
	}

	eventID, topic := extractEvent(providerName, payload)
	sum := sha256.Sum256(payload)

	ev := &domain.WebhookEvent{
		Provider:        providerName,
		ExternalEventID: eventID,
		Topic:           topic,
		PayloadHash:     hex.EncodeToString(sum[:]),
		LowTrust:        lowTrust,
		ReceivedAt:      g.clock.Now(),
	}
	created, existing, err := g.events.InsertIfAbsent(ctx, ev)
	if err != nil {
		return IngestResult{}, fmt.Errorf("record delivery: %w", err)
	}
	if !created && existing != nil && existing.Processed {
		obs.Logger.Debug("duplicate delivery", "provider", providerName, "event_id", eventID)
		return IngestResult{Duplicate: true, LowTrust: lowTrust}, nil
	}

	outcome, err := route.dispatch(ctx, payload)
	if err != nil {
		// leave processed=false; the provider retry (or sweep) reattempts
		obs.Logger.Warn("dispatch failed",
			"provider", providerName, "event_id", eventID, "err", err)
		return IngestResult{}, err
	}
	if err := g.events.MarkProcessed(ctx, providerName, eventID, g.clock.Now()); err != nil {
		return IngestResult{}, fmt.Errorf("mark processed: %w", err)
	}
	return IngestResult{Outcome: outcome, LowTrust: lowTrust}, nil
}

// verifySignature checks an HMAC-SHA256 hex digest of the raw body. A
// "sha256=" prefix on the header value is tolerated.
func verifySignature(secret, payload []byte, header string) bool {
	header = strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	if header == "" {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(strings.ToLower(header)))
}

// extractEvent pulls the provider-documented event id field; when a payload
// has none, the payload hash stands in so dedup still works.
func extractEvent(providerName string, payload []byte) (id, topic string) {
	switch providerName {
	case ProviderPayment:
		var ev struct {
			ID  string `json:"id"`
			Key string `json:"key"`
		}
		_ = json.Unmarshal(payload, &ev)
		id, topic = ev.ID, ev.Key
	case ProviderCarrier:
		var ev struct {
			EventID string `json:"event_id"`
			Status  string `json:"status"`
		}
		_ = json.Unmarshal(payload, &ev)
		id, topic = ev.EventID, ev.Status
	}
	if id == "" {
		sum := sha256.Sum256(payload)
		id = "sha256:" + hex.EncodeToString(sum[:])
	}
	return id, topic
}
