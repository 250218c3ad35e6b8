package httpx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devinpfox/fanbidz-reconcile/internal/domain"
	"github.com/devinpfox/fanbidz-reconcile/internal/repository"
	"github.com/devinpfox/fanbidz-reconcile/internal/service"
)

const (
	testPaymentSecret = "pay-secret"
	testCarrierSecret = "carrier-secret"
	testJWTSecret     = "jwt-secret"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubPayments struct {
	sessions map[string]*domain.PaymentSession
	err      error
}

func (s *stubPayments) GetSession(_ context.Context, sessionID string) (*domain.PaymentSession, error) {
	if s.err != nil {
		return nil, s.err
	}
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, domain.ErrUnknownEntity
	}
	cp := *sess
	return &cp, nil
}

type stubCarrier struct{ nextID int }

func (s *stubCarrier) CreateTracker(_ context.Context, _, _ string) (*domain.TrackerInfo, error) {
	s.nextID++
	return &domain.TrackerInfo{
		ID:     fmt.Sprintf("trk_%d", s.nextID),
		Status: domain.ShipmentPreTransit,
	}, nil
}

type app struct {
	router    *gin.Engine
	ledger    *repository.MemLedger
	shipments *repository.MemShipments
	auctions  *repository.MemAuctions
	payments  *stubPayments
}

func newApp(t *testing.T, allowUnsignedCarrier bool, carrierSecret string) *app {
	t.Helper()
	ledger := repository.NewMemLedger()
	shipStore := repository.NewMemShipments()
	auctions := repository.NewMemAuctions()
	webhooks := repository.NewMemWebhooks()

	pay := &stubPayments{sessions: map[string]*domain.PaymentSession{}}
	carrier := &stubCarrier{}
	clock := service.RealClock{}

	paySvc := service.NewPaymentSvc(ledger, pay, nil, clock)
	shipSvc := service.NewShipmentSvc(shipStore, carrier, nil, clock)
	auctSvc := service.NewAuctionSvc(auctions, auctions, ledger, nil, clock)

	gw := NewGateway(webhooks, paySvc, shipSvc, testPaymentSecret, carrierSecret, allowUnsignedCarrier, clock)
	srv := NewServer(gw, paySvc, shipSvc, auctSvc, []byte(testJWTSecret), clock)
	return &app{router: srv.Router(), ledger: ledger, shipments: shipStore, auctions: auctions, payments: pay}
}

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *app) post(path string, payload []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(payload)))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

func TestPaymentWebhookCreditsOnce(t *testing.T) {
	a := newApp(t, false, testCarrierSecret)
	a.payments.sessions["sess_1"] = &domain.PaymentSession{
		ID: "sess_1", AccountID: "acct_9", Amount: 2000, Currency: "usd", Status: domain.SessionSucceeded,
	}
	payload := []byte(`{"id":"evnt_1","key":"charge.complete","data":{"id":"sess_1"}}`)
	hdr := map[string]string{"X-Signature": sign(testPaymentSecret, payload)}

	rr := a.post("/webhooks/omise", payload, hdr)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), "accepted")

	// at-least-once delivery: the retry is accepted without a second credit
	rr = a.post("/webhooks/omise", payload, hdr)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "duplicate")

	bal, err := a.ledger.Balance(context.Background(), "acct_9")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), bal)
}

func TestPaymentWebhookBadSignature(t *testing.T) {
	a := newApp(t, false, testCarrierSecret)
	payload := []byte(`{"id":"evnt_1","key":"charge.complete","data":{"id":"sess_1"}}`)

	rr := a.post("/webhooks/omise", payload, map[string]string{"X-Signature": "deadbeef"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = a.post("/webhooks/omise", payload, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	bal, _ := a.ledger.Balance(context.Background(), "acct_9")
	assert.Equal(t, int64(0), bal, "rejected deliveries must cause no state change")
}

func TestPaymentWebhookTransientThenRetry(t *testing.T) {
	a := newApp(t, false, testCarrierSecret)
	a.payments.err = fmt.Errorf("%w: timeout", domain.ErrTransientProvider)

	payload := []byte(`{"id":"evnt_2","key":"charge.complete","data":{"id":"sess_2"}}`)
	hdr := map[string]string{"X-Signature": sign(testPaymentSecret, payload)}

	rr := a.post("/webhooks/omise", payload, hdr)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	// provider recovers; the same event id is re-dispatched because the
	// first delivery never got marked processed
	a.payments.err = nil
	a.payments.sessions["sess_2"] = &domain.PaymentSession{
		ID: "sess_2", AccountID: "acct_2", Amount: 300, Currency: "usd", Status: domain.SessionSucceeded,
	}
	rr = a.post("/webhooks/omise", payload, hdr)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	bal, _ := a.ledger.Balance(context.Background(), "acct_2")
	assert.Equal(t, int64(300), bal)
}

func TestCarrierWebhookUnsignedPolicy(t *testing.T) {
	payload := []byte(`{"event_id":"cev_1","tracker_id":"trk_1","status":"in_transit"}`)

	// production default: no secret configured and unsigned not allowed
	a := newApp(t, false, "")
	rr := a.post("/webhooks/carrier", payload, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// dev: unsigned allowed, processed as low-trust shipment-only input
	a = newApp(t, true, "")
	rr = a.post("/webhooks/carrier", payload, nil)
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestCarrierWebhookAdvancesShipment(t *testing.T) {
	a := newApp(t, false, testCarrierSecret)
	ctx := context.Background()

	require.NoError(t, a.shipments.Create(ctx, &domain.ShipmentRecord{
		OrderID: "order_1", ExternalTrackerID: "trk_1",
		Status: domain.ShipmentPreTransit, Rank: domain.ShipmentPreTransit.Rank(),
	}))

	payload := []byte(`{"event_id":"cev_2","tracker_id":"trk_1","status":"out_for_delivery"}`)
	rr := a.post("/webhooks/carrier", payload, map[string]string{"X-Signature": sign(testCarrierSecret, payload)})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), "applied")

	rec, err := a.shipments.ByOrderID(ctx, "order_1")
	require.NoError(t, err)
	assert.Equal(t, domain.ShipmentOutForDelivery, rec.Status)
}

func TestCarrierWebhookUnknownTrackerAcked(t *testing.T) {
	a := newApp(t, false, testCarrierSecret)
	payload := []byte(`{"event_id":"cev_3","tracker_id":"trk_gone","status":"in_transit"}`)

	rr := a.post("/webhooks/carrier", payload, map[string]string{"X-Signature": sign(testCarrierSecret, payload)})
	require.Equal(t, http.StatusOK, rr.Code, "carrier must not keep retrying cancelled orders")
	assert.Contains(t, rr.Body.String(), "unknown_tracker")
}

func TestUnknownProvider(t *testing.T) {
	a := newApp(t, false, testCarrierSecret)
	rr := a.post("/webhooks/nobody", []byte(`{}`), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
