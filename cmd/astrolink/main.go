package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"astrolink/internal/agent"
	"astrolink/internal/retention"
	"astrolink/pkg/banner"
	"astrolink/pkg/chat"
	"astrolink/pkg/config"
	"astrolink/pkg/delivery"
	"astrolink/pkg/identity"
	"astrolink/pkg/logger"
	"astrolink/pkg/netcheck"
	"astrolink/pkg/probe"
	"astrolink/pkg/realtime"
	"astrolink/pkg/sessionmap"
	"astrolink/pkg/shutdown"
	"astrolink/pkg/state"
	"astrolink/pkg/store"
	"astrolink/pkg/telemetry"
)

// build metadata - set via ldflags during build/release
var (
	version = "dev"
	commit  = "none"
)

func main() {
	_ = godotenv.Load(".env")
	addrVal, dbVal, cfgVal, setFlags := config.ParseCommandFlags()

	cfgPath := config.ResolveConfigPath(cfgVal, setFlags["config"])
	cfg, envUsed, err := config.LoadEffective(cfgPath)
	if err != nil {
		logger.Init()
		shutdown.Abort("failed to load config", err)
	}
	logger.InitWithLevel(cfg.Logging.Level)

	// flags win over config/env when explicitly provided
	addr := cfg.Addr()
	if setFlags["addr"] {
		addr = addrVal
	}
	dbPath := dbVal
	if !setFlags["db"] && cfg.Storage.DBPath != "" {
		dbPath = cfg.Storage.DBPath
	}

	apiBase, err := cfg.APIBaseURL()
	if err != nil {
		shutdown.Abort("invalid backend configuration", err)
	}
	rtURL, err := config.RealtimeURL(apiBase)
	if err != nil {
		shutdown.Abort("invalid realtime url", err)
	}

	if err := state.Init(dbPath); err != nil {
		shutdown.Abort("failed to prepare state dirs", err)
	}
	st, err := store.Open(state.PathsVar.Store)
	if err != nil {
		shutdown.Abort("failed to open local store", err)
	}
	if tok := strings.TrimSpace(cfg.Auth.Token); tok != "" {
		if err := st.SaveToken(tok); err != nil {
			logger.Warn("token_persist_failed", "error", err)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := telemetry.New(reg)

	resolver := identity.NewResolver(st)
	creds := identity.NewCredentials(st, resolver)

	attemptTimeout := delivery.DefaultAttemptTimeout
	if cfg.Chat.AttemptTimeoutSeconds > 0 {
		attemptTimeout = time.Duration(cfg.Chat.AttemptTimeoutSeconds) * time.Second
	}
	prober := probe.New(apiBase, cfg.Auth.AppID, creds,
		probe.WithHTTPClient(&http.Client{Timeout: attemptTimeout}),
		probe.WithConnectivityChecker(netcheck.New(apiBase)),
		probe.WithMetrics(metrics),
	)

	var rtOpts []realtime.Option
	rtOpts = append(rtOpts, realtime.WithMetrics(metrics))
	if cfg.Realtime.MaxReconnectAttempts > 0 {
		rtOpts = append(rtOpts, realtime.WithMaxReconnectAttempts(cfg.Realtime.MaxReconnectAttempts))
	}
	if cfg.Realtime.ConnectIntervalMillis > 0 {
		rtOpts = append(rtOpts, realtime.WithConnectInterval(time.Duration(cfg.Realtime.ConnectIntervalMillis)*time.Millisecond))
	}
	channel := realtime.New(rtURL, cfg.Auth.AppID, creds, rtOpts...)

	ttl := sessionmap.DefaultTTL
	if cfg.Chat.SessionTTLSeconds > 0 {
		ttl = time.Duration(cfg.Chat.SessionTTLSeconds) * time.Second
	}
	sessions := sessionmap.New(ttl)

	orch := delivery.New(resolver, sessions, prober, channel,
		delivery.WithAttemptTimeout(attemptTimeout),
		delivery.WithTranscriptCache(st),
		delivery.WithMetrics(metrics),
	)
	client := chat.New(resolver, prober, channel, orch, st)

	// resolve identity up front so the first send doesn't pay for it;
	// an unresolved id is not fatal until an operation needs it
	if id, err := resolver.Resolve(); err == nil {
		logger.Info("identity_ready", "actor", id)
	} else {
		logger.Warn("identity_unresolved_at_startup")
	}

	// connect the realtime channel; failures are retried lazily by the
	// delivery path, so only log here
	if err := channel.Connect(context.Background()); err != nil {
		logger.Warn("realtime_initial_connect_failed", "error", err)
	}
	stopEvents := client.Start(nil)

	cancelRetention, err := retention.Start(context.Background(), cfg, st)
	if err != nil {
		shutdown.Abort("failed to start retention", err)
	}

	shutdown.OnSignal(
		func() error { stopEvents(); return nil },
		func() error { cancelRetention(); return nil },
		func() error { channel.Disconnect(); return nil },
		st.Close,
	)

	srcs := []string{}
	if len(setFlags) > 0 {
		srcs = append(srcs, "flags")
	}
	if envUsed {
		srcs = append(srcs, "env")
	}
	if _, err := config.Load(cfgPath); err == nil {
		srcs = append(srcs, "config")
	}
	verStr := version
	if commit != "none" {
		verStr = verStr + " (" + commit + ")"
	}
	banner.Print(addr, apiBase, dbPath, strings.Join(srcs, ", "), verStr)

	srv := agent.New(client, channel, resolver, st)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/", srv.Handler())

	if err := http.ListenAndServe(addr, mux); err != nil {
		shutdown.Abort("agent http server failed", err)
	}
}
