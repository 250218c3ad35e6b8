package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"

	"github.com/devinpfox/fanbidz-reconcile/internal/domain"
)

// OmisePayments reads authoritative charge state from Omise. Deposit
// sessions map 1:1 to Omise charges; the charge id is the session id.
type OmisePayments struct {
	client *omise.Client
}

func NewOmisePayments(publicKey, secretKey string, timeout time.Duration) (*OmisePayments, error) {
	c, err := omise.NewClient(publicKey, secretKey)
	if err != nil {
		return nil, err
	}
	c.SetDebug(false)
	if timeout > 0 {
		c.Timeout = timeout
	}
	return &OmisePayments{client: c}, nil
}

// GetSession fetches the charge and classifies its status. Network and
// timeout errors surface as transient; a provider-side rejection is
// permanent and stays permanent on every retry.
func (p *OmisePayments) GetSession(ctx context.Context, sessionID string) (*domain.PaymentSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransientProvider, err)
	}

	ch := &omise.Charge{}
	if err := p.client.Do(ch, &operations.RetrieveCharge{ChargeID: sessionID}); err != nil {
		var oerr *omise.Error
		if errors.As(err, &oerr) {
			if oerr.Code == "not_found" {
				return nil, domain.ErrUnknownEntity
			}
			return nil, fmt.Errorf("%w: %s", domain.ErrPermanentProvider, oerr.Code)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrTransientProvider, err)
	}

	sess := &domain.PaymentSession{
		ID:       ch.ID,
		Amount:   ch.Amount,
		Currency: ch.Currency,
	}
	if acct, ok := ch.Metadata["account_id"].(string); ok {
		sess.AccountID = acct
	}
	switch string(ch.Status) {
	case "successful":
		sess.Status = domain.SessionSucceeded
	case "failed", "expired", "reversed":
		sess.Status = domain.SessionFailed
	default:
		// pending / awaiting authorize; a webhook or later poll resolves it
		sess.Status = domain.SessionPending
	}
	return sess, nil
}
