// README: Entry point; loads config, wires stores, collaborators and services, then serves HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"dropmart/internal/config"
	httptransport "dropmart/internal/http"
	"dropmart/internal/infra"
	"dropmart/internal/logger"
	dirmaps "dropmart/internal/maps"
	"dropmart/internal/modules/allocation"
	"dropmart/internal/modules/catalog"
	"dropmart/internal/modules/inventory"
	"dropmart/internal/modules/location"
	"dropmart/internal/modules/order"
	"dropmart/internal/modules/pickup"
	"dropmart/internal/modules/route"
	"dropmart/internal/modules/transfer"
	"dropmart/internal/notify"
	"dropmart/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	lg, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, lg); err != nil {
		lg.Fatal("[main] exit", zap.Error(err))
	}
}

type repositories struct {
	tx        infra.TxManager
	catalog   catalog.Repository
	inventory inventory.Repository
	orders    order.Repository
	transfers transfer.Repository
}

func openRepositories(ctx context.Context, cfg config.Config, lg *zap.Logger) (repositories, func(), error) {
	if cfg.Store == "memory" {
		lg.Warn("[main] using in-memory stores; data is lost on restart")
		return repositories{
			tx:        infra.NewMemoryTxManager(),
			catalog:   catalog.NewMemoryStore(),
			inventory: inventory.NewMemoryStore(),
			orders:    order.NewMemoryStore(),
			transfers: transfer.NewMemoryStore(),
		}, func() {}, nil
	}

	pool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return repositories{}, nil, err
	}
	if err := infra.Migrate(ctx, pool, migrations.FS); err != nil {
		pool.Close()
		return repositories{}, nil, fmt.Errorf("migrate: %w", err)
	}
	return repositories{
		tx:        infra.NewPgTxManager(pool),
		catalog:   catalog.NewStore(pool),
		inventory: inventory.NewStore(pool),
		orders:    order.NewStore(pool),
		transfers: transfer.NewStore(pool),
	}, pool.Close, nil
}

func run(ctx context.Context, cfg config.Config, lg *zap.Logger) error {
	repos, closeDB, err := openRepositories(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer closeDB()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = infra.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			if cfg.Store != "memory" {
				return err
			}
			lg.Warn("[main] redis unavailable, using in-process limiter and no vendor index", zap.Error(err))
		} else {
			defer rdb.Close()
		}
	}

	var sinks []notify.Sink
	var verifier infra.TokenVerifier
	var positions pickup.PositionSource
	if cfg.Firebase.ProjectID != "" {
		app, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.DatabaseURL, cfg.Firebase.CredentialsFile)
		if err != nil {
			return err
		}
		if verifier, err = infra.NewFirebaseVerifier(ctx, app); err != nil {
			return err
		}
		fcm, err := app.Messaging(ctx)
		if err != nil {
			return fmt.Errorf("firebase messaging: %w", err)
		}
		sinks = append(sinks, notify.NewFCMSink(fcm))
		if cfg.Pickup.TrustedFeed {
			rtdb, err := app.Database(ctx)
			if err != nil {
				return fmt.Errorf("firebase database: %w", err)
			}
			positions = location.NewAgentFeed(rtdb, cfg.Pickup.LocationMaxAge)
		}
	} else {
		if cfg.IsProduction() {
			return errors.New("DROPMART_FIREBASE_PROJECT_ID is required in production")
		}
		lg.Warn("[main] firebase not configured; accepting unsigned uid:role tokens")
		verifier = infra.DevVerifier{}
	}

	if cfg.RabbitMQ.URL != "" {
		rabbit, err := notify.NewRabbitSink(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			return err
		}
		defer rabbit.Close()
		sinks = append(sinks, rabbit)
	}
	events := notify.NewDispatcher(lg.Named("notify"), cfg.Notify.Timeout, sinks...)
	defer events.Wait()

	var vendorIndex *location.VendorIndex
	var indexer catalog.VendorIndexer
	var ranker allocation.Ranker
	if rdb != nil {
		vendorIndex = location.NewVendorIndex(rdb)
		indexer = vendorIndex
		if cfg.Allocation.RankByDistance {
			ranker = vendorIndex
		}
	}

	var limiter pickup.AttemptLimiter = pickup.NewMemoryLimiter(cfg.Pickup.MaxAttempts, cfg.Pickup.AttemptWindow)
	if rdb != nil {
		limiter = pickup.NewRedisLimiter(rdb, cfg.Pickup.MaxAttempts, cfg.Pickup.AttemptWindow)
	}

	catalogSvc := catalog.NewService(repos.catalog, indexer)
	ledger := inventory.NewLedger(repos.inventory, repos.tx,
		inventory.Policy{AllowNegativeAdjustments: cfg.Inventory.AllowNegativeAdjustments},
		inventory.WithEvents(events), inventory.WithLogger(lg.Named("inventory")))

	orderOpts := []order.Option{
		order.WithEvents(events),
		order.WithLogger(lg.Named("order")),
		order.WithMaxRetries(cfg.Allocation.MaxRetries),
	}
	if cfg.Maps.APIKey != "" {
		directions, err := dirmaps.NewRouteService(cfg.Maps.APIKey)
		if err != nil {
			return err
		}
		orderOpts = append(orderOpts, order.WithSequencer(route.NewSequencer(directions), cfg.Maps.Timeout))
	}
	orders := order.NewService(repos.orders, repos.tx, order.Deps{
		Allocator: allocation.NewService(ledger, ranker, lg.Named("allocation")),
		Catalog:   catalogSvc,
		Stock:     ledger,
		Routes:    route.Assembler{},
		PINs:      order.RandomPINs{Digits: cfg.Pickup.PINDigits},
	}, orderOpts...)
	defer orders.Wait()

	pickupOpts := []pickup.Option{
		pickup.WithGeofence(cfg.Pickup.GeofenceKm),
		pickup.WithLogger(lg.Named("pickup")),
	}
	if positions != nil {
		pickupOpts = append(pickupOpts, pickup.WithTrustedPositions(positions))
	}

	server := httptransport.NewServer(httptransport.ServerDeps{
		Orders:         orders,
		Pickup:         pickup.NewService(orders, catalogSvc, limiter, pickupOpts...),
		Inventory:      ledger,
		Transfers:      transfer.NewService(repos.transfers, repos.tx, ledger, transfer.WithEvents(events), transfer.WithLogger(lg.Named("transfer"))),
		Catalog:        catalogSvc,
		Vendors:        vendorIndex,
		Verifier:       verifier,
		Log:            lg.Named("http"),
		RequestTimeout: cfg.HTTP.RequestTimeout,
	})
	return server.ListenAndServe(ctx, httptransport.ListenOptions{
		Addr:            cfg.HTTP.Addr,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		ShutdownTimeout: 10 * time.Second,
	})
}
