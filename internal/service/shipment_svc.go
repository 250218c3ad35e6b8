package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/devinpfox/fanbidz-reconcile/internal/domain"
	"github.com/devinpfox/fanbidz-reconcile/internal/provider"
	"github.com/devinpfox/fanbidz-reconcile/internal/repository"
	"github.com/devinpfox/fanbidz-reconcile/pkg/obs"
)

type TrackingOutcome string

const (
	TrackingApplied        TrackingOutcome = "applied"
	TrackingDuplicate      TrackingOutcome = "duplicate"
	TrackingUnknownTracker TrackingOutcome = "unknown_tracker"
)

// casRetries bounds the reload-and-retry loop when concurrent webhook
// deliveries race on the same tracker.
const casRetries = 4

type ShipmentSvc struct {
	store   ShipmentStore
	carrier CarrierProvider
	pub     Publisher
	clock   Clock
}

func NewShipmentSvc(store ShipmentStore, carrier CarrierProvider, pub Publisher, clock Clock) *ShipmentSvc {
	if clock == nil {
		clock = RealClock{}
	}
	return &ShipmentSvc{store: store, carrier: carrier, pub: pub, clock: clock}
}

// RegisterTracker creates a tracker at the carrier aggregator and the
// matching shipment record. Re-registering an already-tracked order returns
// the existing tracker id instead of erroring.
func (s *ShipmentSvc) RegisterTracker(ctx context.Context, orderID, trackingCode, carrier string) (string, error) {
	if orderID == "" || trackingCode == "" {
		return "", domain.ErrInvalidTrackingCode
	}
	if existing, err := s.store.ByOrderID(ctx, orderID); err != nil {
		return "", fmt.Errorf("shipment lookup: %w", err)
	} else if existing != nil {
		return existing.ExternalTrackerID, nil
	}

	info, err := s.carrier.CreateTracker(ctx, trackingCode, carrier)
	if err != nil {
		return "", err
	}

	rank := info.Status.Rank()
	status := info.Status
	if rank < 0 {
		// carrier opened the tracker already in exception
		rank = 0
	}
	rec := &domain.ShipmentRecord{
		OrderID:           orderID,
		Carrier:           carrier,
		TrackingCode:      trackingCode,
		ExternalTrackerID: info.ID,
		Status:            status,
		Rank:              rank,
		LastEventAt:       s.clock.Now(),
		EstDelivery:       info.EstDelivery,
	}
	if err := s.store.Create(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrOrderExists) {
			existing, lerr := s.store.ByOrderID(ctx, orderID)
			if lerr == nil && existing != nil {
				return existing.ExternalTrackerID, nil
			}
		}
		return "", fmt.Errorf("shipment create: %w", err)
	}
	obs.Logger.Info("tracker registered",
		"order_id", orderID, "tracker_id", info.ID, "carrier", carrier)
	return info.ID, nil
}

type trackingEvent struct {
	EventID    string `json:"event_id"`
	TrackerID  string `json:"tracker_id"`
	Status     string `json:"status"`
	OccurredAt string `json:"occurred_at"`
}

// OnTrackingWebhook applies one carrier event to the shipment state machine.
// Out-of-order and duplicate deliveries collapse to the same final state:
// only reports ahead of the stored rank advance it, exception overlays any
// non-terminal state, and a later normal report resumes from it.
func (s *ShipmentSvc) OnTrackingWebhook(ctx context.Context, payload []byte) (TrackingOutcome, error) {
	var ev trackingEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return "", fmt.Errorf("decode tracking event: %w", err)
	}
	if ev.TrackerID == "" {
		obs.Logger.Warn("tracking event without tracker id", "event_id", ev.EventID)
		return TrackingUnknownTracker, nil
	}
	incoming := provider.NormalizeCarrierStatus(ev.Status)

	eventAt := s.clock.Now()
	if ev.OccurredAt != "" {
		if t, err := time.Parse(time.RFC3339, ev.OccurredAt); err == nil {
			eventAt = t
		}
	}

	for i := 0; i < casRetries; i++ {
		rec, err := s.store.ByTrackerID(ctx, ev.TrackerID)
		if err != nil {
			return "", fmt.Errorf("shipment lookup: %w", err)
		}
		if rec == nil {
			// order cancelled client-side or tracker never registered; ack
			// so the carrier stops retrying
			obs.Logger.Info("tracking event for unknown tracker", "tracker_id", ev.TrackerID)
			return TrackingUnknownTracker, nil
		}

		to, toRank, ok := domain.NextShipment(rec.Status, rec.Rank, incoming)
		if !ok {
			obs.Logger.Debug("stale tracking event dropped",
				"tracker_id", ev.TrackerID, "stored", rec.Status, "incoming", incoming)
			return TrackingDuplicate, nil
		}
		if to == rec.Status && toRank == rec.Rank {
			// delivered re-confirmation; nothing to write
			return TrackingApplied, nil
		}

		swapped, err := s.store.UpdateStateCAS(ctx, rec.ExternalTrackerID, rec.Status, rec.Rank, to, toRank, eventAt)
		if err != nil {
			return "", fmt.Errorf("shipment update: %w", err)
		}
		if swapped {
			obs.Logger.Info("shipment advanced",
				"order_id", rec.OrderID, "tracker_id", rec.ExternalTrackerID,
				"from", rec.Status, "to", to)
			s.publish(ctx, "shipment.updated", map[string]any{
				"order_id":   rec.OrderID,
				"tracker_id": rec.ExternalTrackerID,
				"status":     to,
				"event_at":   eventAt.UTC().Format(time.RFC3339),
			})
			return TrackingApplied, nil
		}
		// lost the race; reload and re-evaluate against the fresher state
	}
	return TrackingDuplicate, nil
}

func (s *ShipmentSvc) Shipment(ctx context.Context, orderID string) (*domain.ShipmentRecord, error) {
	rec, err := s.store.ByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, domain.ErrUnknownEntity
	}
	return rec, nil
}

func (s *ShipmentSvc) publish(ctx context.Context, key string, v any) {
	if s.pub == nil {
		return
	}
	if err := s.pub.PublishJSON(ctx, key, v); err != nil {
		obs.Logger.Warn("publish failed", "routing_key", key, "err", err)
	}
}
