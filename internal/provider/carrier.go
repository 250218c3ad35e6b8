package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/devinpfox/fanbidz-reconcile/internal/domain"
)

// CarrierClient talks to the shipment tracking aggregator over its REST API.
type CarrierClient struct {
	baseURL string
	apiKey  string
	hc      *http.Client
}

func NewCarrierClient(baseURL, apiKey string, timeout time.Duration) *CarrierClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &CarrierClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		hc:      &http.Client{Timeout: timeout},
	}
}

type createTrackerRequest struct {
	TrackingCode string `json:"tracking_code"`
	Carrier      string `json:"carrier,omitempty"`
}

type createTrackerResponse struct {
	TrackerID   string `json:"tracker_id"`
	Status      string `json:"status"`
	EstDelivery string `json:"est_delivery,omitempty"`
}

// CreateTracker registers a tracking code with the aggregator and returns
// the provider-assigned tracker id plus the initial status. A 4xx means the
// code itself is bad; anything else non-2xx is treated as transient.
func (c *CarrierClient) CreateTracker(ctx context.Context, trackingCode, carrier string) (*domain.TrackerInfo, error) {
	body, err := json.Marshal(createTrackerRequest{TrackingCode: trackingCode, Carrier: carrier})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/trackers", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	res, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransientProvider, err)
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(res.Body)
	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
	case res.StatusCode >= 400 && res.StatusCode < 500:
		return nil, fmt.Errorf("%w: %s (%d)", domain.ErrInvalidTrackingCode, string(raw), res.StatusCode)
	default:
		return nil, fmt.Errorf("%w: carrier returned %d", domain.ErrTransientProvider, res.StatusCode)
	}

	var out createTrackerResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse tracker response: %w", err)
	}
	info := &domain.TrackerInfo{
		ID:     out.TrackerID,
		Status: NormalizeCarrierStatus(out.Status),
	}
	if out.EstDelivery != "" {
		if t, err := time.Parse(time.RFC3339, out.EstDelivery); err == nil {
			info.EstDelivery = &t
		}
	}
	return info, nil
}

// NormalizeCarrierStatus maps the aggregator's status vocabulary onto the
// internal shipment states. Unrecognized statuses stay unknown rather than
// failing the webhook.
func NormalizeCarrierStatus(s string) domain.ShipmentState {
	switch s {
	case "pre_transit", "label_created", "info_received":
		return domain.ShipmentPreTransit
	case "in_transit", "transit":
		return domain.ShipmentInTransit
	case "out_for_delivery":
		return domain.ShipmentOutForDelivery
	case "delivered":
		return domain.ShipmentDelivered
	case "exception", "failure", "return_to_sender":
		return domain.ShipmentException
	default:
		return domain.ShipmentUnknown
	}
}
