// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/dbproxy/core/access"
	"github.com/relabs-tech/dbproxy/core/audit"
	"github.com/relabs-tech/dbproxy/core/config"
	"github.com/relabs-tech/dbproxy/core/credential"
	"github.com/relabs-tech/dbproxy/core/csql"
	"github.com/relabs-tech/dbproxy/core/gateway"
	"github.com/relabs-tech/dbproxy/core/logger"
	"github.com/relabs-tech/dbproxy/core/metrics"
	"github.com/relabs-tech/dbproxy/core/proxy"
	"github.com/relabs-tech/dbproxy/core/resolver"
	"github.com/relabs-tech/dbproxy/core/tables"
)

func main() {
	cfg, err := config.FromEnvironment()
	if err != nil {
		panic(err)
	}
	level, _ := cfg.Level()
	logger.InitLogger(level)

	if err := run(cfg); err != nil {
		logger.Default().WithError(err).Fatalln("dbproxy stopped")
	}
}

func run(cfg *config.Config) error {
	rlog := logger.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := csql.Open(cfg.Postgres, cfg.PostgresPassword, cfg.PostgresSchema)
	if err != nil {
		return fmt.Errorf("cannot open database: %w", err)
	}
	defer db.Close()

	store := tables.NewPostgresStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("cannot create internal table schema: %w", err)
	}

	collector := metrics.NewCollector("dbproxy", nil)

	var resolverOptions []resolver.Option
	if cfg.ResolverCacheTTL > 0 {
		resolverOptions = append(resolverOptions,
			resolver.WithCache(cfg.ResolverCacheTTL, time.Now),
			resolver.WithCacheObserver(collector))
	}
	tableResolver := resolver.New(store, resolverOptions...)
	if cfg.ResolverCacheTTL > 0 {
		listener, err := tables.NewListener(csql.ConnectionString(cfg.Postgres, cfg.PostgresPassword), tableResolver)
		if err != nil {
			return fmt.Errorf("cannot listen for internal table changes: %w", err)
		}
		go listener.Run(ctx)
		rlog.Infoln("resolver cache enabled, ttl", cfg.ResolverCacheTTL)
	}

	signer, err := credential.NewSigner([]byte(cfg.EngineJWTSecret),
		credential.WithRole(cfg.EngineRole),
		credential.WithTTL(cfg.EngineTokenTTL))
	if err != nil {
		return err
	}

	target, err := cfg.EngineURL()
	if err != nil {
		return err
	}
	gw, err := gateway.New(target,
		gateway.WithBasePath(cfg.BasePath),
		gateway.WithUpstreamObserver(collector))
	if err != nil {
		return err
	}

	var auditor audit.Recorder = audit.Nop{}
	if cfg.AuditEnabled() {
		auditor = audit.NewKafkaRecorder(cfg.KafkaBrokers, cfg.KafkaAuditTopic)
		rlog.Infoln("audit trail on topic", cfg.KafkaAuditTopic)
	}
	defer auditor.Close()

	router := mux.NewRouter()
	router.Handle("/metrics", collector.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			logger.FromContext(r.Context()).WithError(err).Errorln("health check failed")
			gateway.WriteError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodGet)

	logger.AddRequestID(router)
	router.Use(access.NewSessionMiddleware(&access.SessionMiddlewareBuilder{
		Secret: []byte(cfg.SessionSecret),
		Issuer: cfg.SessionIssuer,
	}))
	proxy.New(&proxy.Builder{
		Router:         router,
		Resolver:       tableResolver,
		Signer:         signer,
		Gateway:        gw,
		BasePath:       cfg.BasePath,
		Metrics:        collector,
		Auditor:        auditor,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handlers.ProxyHeaders(recoverPanics(router)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	rlog.Infoln("listen on", cfg.ListenAddress, "forwarding to", target)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
