package httpx

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/devinpfox/fanbidz-reconcile/internal/domain"
	"github.com/devinpfox/fanbidz-reconcile/internal/service"
)

type Server struct {
	gw        *Gateway
	payments  *service.PaymentSvc
	shipments *service.ShipmentSvc
	auctions  *service.AuctionSvc
	clock     service.Clock
	jwtSecret []byte
}

func NewServer(gw *Gateway, payments *service.PaymentSvc, shipments *service.ShipmentSvc, auctions *service.AuctionSvc, jwtSecret []byte, clock service.Clock) *Server {
	if clock == nil {
		clock = service.RealClock{}
	}
	return &Server{
		gw:        gw,
		payments:  payments,
		shipments: shipments,
		auctions:  auctions,
		clock:     clock,
		jwtSecret: jwtSecret,
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.POST("/webhooks/:provider", s.handleWebhook)
	r.GET("/auctions/:auction_id/remaining", s.handleRemaining)

	api := r.Group("/api", JWTAuth(s.jwtSecret))
	{
		api.POST("/deposits/:session_id/confirm", s.handleConfirmDeposit)
		api.GET("/wallets/:account_id/balance", s.handleBalance)
		api.POST("/orders/:order_id/tracker", s.handleRegisterTracker)
		api.GET("/orders/:order_id/shipment", s.handleShipment)
	}
	return r
}

func (s *Server) handleWebhook(c *gin.Context) {
	defer c.Request.Body.Close()
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	sig := c.GetHeader("X-Signature")

	res, err := s.gw.Ingest(c.Request.Context(), c.Param("provider"), payload, sig)
	switch {
	case err == nil:
		status := "accepted"
		if res.Duplicate {
			status = "duplicate"
		}
		c.JSON(http.StatusOK, gin.H{"status": status, "outcome": res.Outcome})
	case errors.Is(err, domain.ErrBadSignature):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
	case errors.Is(err, domain.ErrUnknownEntity):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrTransientProvider):
		// retry-eligible: the delivery stays unprocessed
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleConfirmDeposit(c *gin.Context) {
	res, err := s.payments.ConfirmDeposit(c.Request.Context(), c.Param("session_id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, res)
	case errors.Is(err, domain.ErrTransientProvider):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "provider unavailable, retry"})
	case errors.Is(err, domain.ErrPermanentProvider):
		c.JSON(http.StatusConflict, gin.H{"error": "payment failed"})
	case errors.Is(err, domain.ErrUnknownEntity):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleBalance(c *gin.Context) {
	accountID := c.Param("account_id")
	balance, err := s.payments.Balance(c.Request.Context(), accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": accountID, "balance": balance})
}

type registerTrackerBody struct {
	TrackingCode string `json:"tracking_code" binding:"required"`
	Carrier      string `json:"carrier"`
}

func (s *Server) handleRegisterTracker(c *gin.Context) {
	var body registerTrackerBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	trackerID, err := s.shipments.RegisterTracker(c.Request.Context(), c.Param("order_id"), body.TrackingCode, body.Carrier)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{"tracker_id": trackerID})
	case errors.Is(err, domain.ErrInvalidTrackingCode):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid tracking code"})
	case errors.Is(err, domain.ErrTransientProvider):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "carrier unavailable, retry"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleShipment(c *gin.Context) {
	rec, err := s.shipments.Shipment(c.Request.Context(), c.Param("order_id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{
			"order_id":      rec.OrderID,
			"carrier":       rec.Carrier,
			"tracking_code": rec.TrackingCode,
			"status":        rec.Status,
			"last_event_at": rec.LastEventAt.UTC().Format(time.RFC3339),
			"est_delivery":  rec.EstDelivery,
		})
	case errors.Is(err, domain.ErrUnknownEntity):
		c.JSON(http.StatusNotFound, gin.H{"error": "no shipment for order"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleRemaining(c *gin.Context) {
	auctionID := c.Param("auction_id")
	d, err := s.auctions.Remaining(c.Request.Context(), auctionID, s.clock.Now())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{
			"auction_id":        auctionID,
			"remaining_seconds": int64(d.Seconds()),
		})
	case errors.Is(err, domain.ErrUnknownEntity):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown auction"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
