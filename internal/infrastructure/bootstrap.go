package infrastructure

import (
	"context"

	"github.com/nats-io/nats.go"

	"github.com/edbns/Stefna-sub010/internal/config"
	"github.com/edbns/Stefna-sub010/internal/repository"
	"github.com/edbns/Stefna-sub010/internal/service"
	transportHTTP "github.com/edbns/Stefna-sub010/internal/transport/http"
	transportNATS "github.com/edbns/Stefna-sub010/internal/transport/nats"
	"github.com/edbns/Stefna-sub010/internal/worker"
)

// Bootstrap initialises all dependencies from config and wires up the
// application. Returns the App, a cleanup function, or an error.
func Bootstrap(ctx context.Context) (*App, func(), error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}

	db, err := connectPostgres(cfg.DSN())
	if err != nil {
		return nil, nil, err
	}

	rdb, err := connectRedis(cfg.RedisAddr())
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	var cleanupFns []func()
	cleanupFns = append(cleanupFns, func() {
		db.Close()
		_ = rdb.Close()
	})

	// NATS is optional: without it, lifecycle events are dropped and
	// finalization arrives only via HTTP or the reconciler.
	var bus repository.MessageBus = repository.NoopBus{}
	var nc *nats.Conn
	if cfg.NatsConfigured() {
		nc, err = connectNats(cfg.NatsAddr())
		if err != nil {
			return nil, runCleanup(cleanupFns), err
		}
		bus = transportNATS.NewBus(nc)
		cleanupFns = append(cleanupFns, nc.Close)
	}

	repo := repository.NewLedgerRepo(db, rdb, bus, cfg.DailyCap)
	var svc service.LedgerService = repo

	var servers []Server
	if nc != nil {
		servers = append(servers, transportNATS.NewHandler(svc, nc))
	}
	servers = append(servers, transportHTTP.NewServer(cfg.ApiAddr(), svc))
	servers = append(servers, worker.NewReconciler(svc, cfg.ReconcileInterval, cfg.ReservationTTL))

	return NewApp(servers), runCleanup(cleanupFns), nil
}

// runCleanup returns a single function that calls all cleanup functions in reverse order.
func runCleanup(fns []func()) func() {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}
