package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devinpfox/fanbidz-reconcile/internal/domain"
	"github.com/devinpfox/fanbidz-reconcile/internal/repository"
)

type fakePayments struct {
	mu       sync.Mutex
	sessions map[string]*domain.PaymentSession
	err      error
	calls    int
}

func (f *fakePayments) GetSession(_ context.Context, sessionID string) (*domain.PaymentSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, domain.ErrUnknownEntity
	}
	cp := *s
	return &cp, nil
}

type capturePub struct {
	mu   sync.Mutex
	keys []string
}

func (p *capturePub) PublishJSON(_ context.Context, key string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return nil
}

func (p *capturePub) count(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, k := range p.keys {
		if k == key {
			n++
		}
	}
	return n
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func succeededSession(id, account string, amount int64) *domain.PaymentSession {
	return &domain.PaymentSession{
		ID:        id,
		AccountID: account,
		Amount:    amount,
		Currency:  "usd",
		Status:    domain.SessionSucceeded,
	}
}

func TestConfirmDepositAppliesOnce(t *testing.T) {
	ledger := repository.NewMemLedger()
	prov := &fakePayments{sessions: map[string]*domain.PaymentSession{
		"sess_1": succeededSession("sess_1", "acct_9", 2000),
	}}
	pub := &capturePub{}
	svc := NewPaymentSvc(ledger, prov, pub, fixedClock{t: time.Now()})
	ctx := context.Background()

	res, err := svc.ConfirmDeposit(ctx, "sess_1")
	require.NoError(t, err)
	assert.Equal(t, DepositApplied, res.Outcome)
	assert.Equal(t, int64(2000), res.Amount)

	// second confirmation is a read, not a second credit
	res2, err := svc.ConfirmDeposit(ctx, "sess_1")
	require.NoError(t, err)
	assert.Equal(t, DepositApplied, res2.Outcome)
	assert.Equal(t, int64(2000), res2.Amount)

	bal, err := ledger.Balance(ctx, "acct_9")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), bal)
	assert.Equal(t, 1, pub.count("ledger.applied"))
}

func TestConfirmDepositAmountComesFromProvider(t *testing.T) {
	// whatever a client claims, the credited amount is the provider's
	ledger := repository.NewMemLedger()
	prov := &fakePayments{sessions: map[string]*domain.PaymentSession{
		"sess_2": succeededSession("sess_2", "acct_1", 550),
	}}
	svc := NewPaymentSvc(ledger, prov, nil, nil)

	res, err := svc.ConfirmDeposit(context.Background(), "sess_2")
	require.NoError(t, err)
	assert.Equal(t, int64(550), res.Amount)

	e, err := ledger.ByKey(context.Background(), "sess_2")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, int64(550), e.Amount)
	assert.Equal(t, domain.ReasonDeposit, e.Reason)
}

func TestConfirmDepositPending(t *testing.T) {
	ledger := repository.NewMemLedger()
	prov := &fakePayments{sessions: map[string]*domain.PaymentSession{
		"sess_3": {ID: "sess_3", AccountID: "acct_1", Amount: 100, Status: domain.SessionPending},
	}}
	svc := NewPaymentSvc(ledger, prov, nil, nil)

	res, err := svc.ConfirmDeposit(context.Background(), "sess_3")
	require.NoError(t, err)
	assert.Equal(t, DepositPending, res.Outcome)

	e, err := ledger.ByKey(context.Background(), "sess_3")
	require.NoError(t, err)
	assert.Nil(t, e, "pending sessions create no ledger entry")
}

func TestConfirmDepositPermanentFailureStaysPermanent(t *testing.T) {
	ledger := repository.NewMemLedger()
	prov := &fakePayments{sessions: map[string]*domain.PaymentSession{
		"sess_4": {ID: "sess_4", Status: domain.SessionFailed},
	}}
	svc := NewPaymentSvc(ledger, prov, nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.ConfirmDeposit(ctx, "sess_4")
		require.ErrorIs(t, err, domain.ErrPermanentProvider)
	}
	e, err := ledger.ByKey(ctx, "sess_4")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestConfirmDepositTransient(t *testing.T) {
	ledger := repository.NewMemLedger()
	prov := &fakePayments{err: fmt.Errorf("%w: connection refused", domain.ErrTransientProvider)}
	svc := NewPaymentSvc(ledger, prov, nil, nil)

	_, err := svc.ConfirmDeposit(context.Background(), "sess_5")
	require.ErrorIs(t, err, domain.ErrTransientProvider)
}

func TestConfirmDepositConcurrent(t *testing.T) {
	ledger := repository.NewMemLedger()
	prov := &fakePayments{sessions: map[string]*domain.PaymentSession{
		"sess_6": succeededSession("sess_6", "acct_7", 1234),
	}}
	svc := NewPaymentSvc(ledger, prov, nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.ConfirmDeposit(ctx, "sess_6")
			if err == nil && res.Amount != 1234 {
				t.Errorf("unexpected amount %d", res.Amount)
			}
		}()
	}
	wg.Wait()

	bal, err := ledger.Balance(ctx, "acct_7")
	require.NoError(t, err)
	assert.Equal(t, int64(1234), bal, "concurrent confirms must credit once")
	assert.Equal(t, 1, ledger.AppliedCount("sess_6"))
}

func TestOnPaymentWebhookDuplicateIsNoOp(t *testing.T) {
	ledger := repository.NewMemLedger()
	prov := &fakePayments{sessions: map[string]*domain.PaymentSession{
		"sess_1": succeededSession("sess_1", "acct_9", 2000),
	}}
	svc := NewPaymentSvc(ledger, prov, nil, nil)
	ctx := context.Background()

	payload := []byte(`{"id":"evnt_1","key":"charge.complete","data":{"id":"sess_1"}}`)
	require.NoError(t, svc.OnPaymentWebhook(ctx, payload))
	require.NoError(t, svc.OnPaymentWebhook(ctx, payload))

	bal, err := ledger.Balance(ctx, "acct_9")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), bal)
}

func TestOnPaymentWebhookAbsorbsPermanent(t *testing.T) {
	ledger := repository.NewMemLedger()
	prov := &fakePayments{sessions: map[string]*domain.PaymentSession{
		"sess_x": {ID: "sess_x", Status: domain.SessionFailed},
	}}
	svc := NewPaymentSvc(ledger, prov, nil, nil)

	payload := []byte(`{"id":"evnt_2","key":"charge.complete","data":{"id":"sess_x"}}`)
	assert.NoError(t, svc.OnPaymentWebhook(context.Background(), payload),
		"permanent provider outcomes must not trigger provider retries")
}

func TestOnPaymentWebhookPropagatesTransient(t *testing.T) {
	ledger := repository.NewMemLedger()
	prov := &fakePayments{err: fmt.Errorf("%w: timeout", domain.ErrTransientProvider)}
	svc := NewPaymentSvc(ledger, prov, nil, nil)

	payload := []byte(`{"id":"evnt_3","key":"charge.complete","data":{"id":"sess_y"}}`)
	err := svc.OnPaymentWebhook(context.Background(), payload)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTransientProvider))
}

func TestRefund(t *testing.T) {
	ledger := repository.NewMemLedger()
	prov := &fakePayments{sessions: map[string]*domain.PaymentSession{
		"sess_r": succeededSession("sess_r", "acct_r", 900),
	}}
	svc := NewPaymentSvc(ledger, prov, nil, nil)
	ctx := context.Background()

	_, err := svc.ConfirmDeposit(ctx, "sess_r")
	require.NoError(t, err)

	entry, err := svc.Refund(ctx, "sess_r")
	require.NoError(t, err)
	assert.Equal(t, int64(-900), entry.Amount)

	// retried refund reuses the derived key and does not double-debit
	_, err = svc.Refund(ctx, "sess_r")
	require.NoError(t, err)

	bal, err := ledger.Balance(ctx, "acct_r")
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal)
}

func TestRefundUnknownOriginal(t *testing.T) {
	svc := NewPaymentSvc(repository.NewMemLedger(), &fakePayments{}, nil, nil)
	_, err := svc.Refund(context.Background(), "nope")
	require.ErrorIs(t, err, domain.ErrUnknownEntity)
}
