package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpx "github.com/devinpfox/fanbidz-reconcile/internal/http"
	"github.com/devinpfox/fanbidz-reconcile/internal/provider"
	"github.com/devinpfox/fanbidz-reconcile/internal/repository"
	"github.com/devinpfox/fanbidz-reconcile/internal/service"
	"github.com/devinpfox/fanbidz-reconcile/pkg/config"
	"github.com/devinpfox/fanbidz-reconcile/pkg/db"
	"github.com/devinpfox/fanbidz-reconcile/pkg/mq"
	"github.com/devinpfox/fanbidz-reconcile/pkg/obs"
)

func must[T any](v T, err error) T {
	if err != nil {
		log.Fatal(err)
	}
	return v
}

func main() {
	cfg := must(config.Load())
	obs.InitLogger(cfg.Debug)
	shutdownTracer := obs.InitTracer("reconciler")

	// DB + stores
	gdb := db.Open(cfg.PGDSN)
	ledger := repository.NewLedgerRepo(gdb)
	shipments := repository.NewShipmentRepo(gdb)
	auctions := repository.NewAuctionRepo(gdb)
	webhooks := repository.NewWebhookRepo(gdb)
	must(0, errFirst(ledger.Migrate(), shipments.Migrate(), auctions.Migrate(), webhooks.Migrate()))

	// outcome event publisher
	pub := must(mq.NewPublisher(cfg.RabbitURL, cfg.OutcomeExchange))
	defer pub.Close()

	// providers
	omisePay := must(provider.NewOmisePayments(cfg.OmisePub, cfg.OmiseSec, cfg.ProviderTimeout))
	carrier := provider.NewCarrierClient(cfg.CarrierBaseURL, cfg.CarrierAPIKey, cfg.ProviderTimeout)

	clock := service.RealClock{}
	paySvc := service.NewPaymentSvc(ledger, omisePay, pub, clock)
	shipSvc := service.NewShipmentSvc(shipments, carrier, pub, clock)
	auctSvc := service.NewAuctionSvc(auctions, auctions, ledger, pub, clock)

	gw := httpx.NewGateway(webhooks, paySvc, shipSvc,
		cfg.PaymentWebhookSecret, cfg.CarrierWebhookSecret, cfg.AllowUnsignedCarrier, clock)
	srv := httpx.NewServer(gw, paySvc, shipSvc, auctSvc, []byte(cfg.JWTSecret), clock)

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Router()}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// periodic auction sweep + webhook dedup retention
	go func() {
		tick := time.NewTicker(cfg.SweepInterval)
		defer tick.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-tick.C:
				now := clock.Now()
				if closed, err := auctSvc.SweepExpired(rootCtx, now); err != nil {
					obs.Logger.Error("sweep failed", "err", err)
				} else if len(closed) > 0 {
					obs.Logger.Info("sweep closed auctions", "count", len(closed))
				}
				if n, err := webhooks.PurgeOlderThan(rootCtx, now.Add(-cfg.WebhookRetention)); err != nil {
					obs.Logger.Error("webhook purge failed", "err", err)
				} else if n > 0 {
					obs.Logger.Info("webhook dedup purged", "rows", n)
				}
			}
		}
	}()

	go func() {
		obs.Logger.Info("reconciler listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	// graceful
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = httpSrv.Shutdown(shutdownCtx)
	_ = shutdownTracer(shutdownCtx)
}

func errFirst(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
