package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dipeo/engine/internal/adapters/condeval"
	"github.com/dipeo/engine/internal/adapters/envkeys"
	"github.com/dipeo/engine/internal/adapters/openai"
	apirest "github.com/dipeo/engine/internal/api/rest"
	"github.com/dipeo/engine/internal/domain"
	"github.com/dipeo/engine/internal/execstate"
	"github.com/dipeo/engine/internal/infra/config"
	"github.com/dipeo/engine/internal/infra/logx"
	"github.com/dipeo/engine/internal/infra/tracing"
	"github.com/dipeo/engine/internal/observerbus"
	"github.com/dipeo/engine/internal/ports"
	"github.com/dipeo/engine/internal/refhandlers"
	"github.com/dipeo/engine/internal/ruleregistry"
	"github.com/dipeo/engine/internal/scheduler"
	"github.com/dipeo/engine/internal/services"
	"github.com/dipeo/engine/internal/storage"
	"github.com/dipeo/engine/internal/wsobserver"
)

func main() {
	var (
		port        = flag.String("port", "", "server port (overrides config)")
		diagramsDir = flag.String("diagrams-dir", "./diagrams", "directory of diagram files (native.json/light.yaml/readable.yaml)")
		jwtSecret   = flag.String("jwt-secret", "", "HMAC secret for websocket stream auth (empty disables auth)")
		apiKeysFlag = flag.String("api-keys", "", "comma-separated API keys for REST auth (empty disables auth)")
		usePostgres = flag.Bool("postgres", false, "persist execution state in Postgres instead of memory")
	)
	flag.Parse()

	cfg := config.Load()
	if *port != "" {
		cfg.Port = *port
	}

	log := logx.Setup(cfg.LogLevel, cfg.Pretty)
	log.Info().Str("port", cfg.Port).Str("environment", cfg.Environment).Msg("starting dipeo engine server")

	tracerProvider, err := tracing.NewProvider(context.Background(), tracing.Config{
		Enabled:     cfg.OtelEnabled,
		ServiceName: cfg.OtelServiceName,
		Endpoint:    cfg.OtelEndpoint,
		Insecure:    cfg.OtelInsecure,
		SampleRate:  cfg.OtelSampleRate,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize tracing")
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracerProvider.Shutdown(ctx)
	}()

	if err := os.MkdirAll(*diagramsDir, 0o755); err != nil {
		log.Error().Err(err).Str("dir", *diagramsDir).Msg("failed to create diagrams directory")
		os.Exit(1)
	}
	diagrams := storage.NewFileDiagramStore(*diagramsDir)

	var states ports.StateStorePort
	if *usePostgres {
		bun := storage.NewBunStateStore(cfg.DatabaseDSN)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := bun.InitSchema(ctx); err != nil {
			cancel()
			log.Error().Err(err).Msg("failed to initialize database schema")
			os.Exit(1)
		}
		cancel()
		states = bun
		log.Info().Msg("using Postgres execution-state store")
	} else {
		states = storage.NewMemoryStateStore()
		log.Info().Msg("using in-memory execution-state store")
	}

	registry := ruleregistry.New(ruleregistry.Environment(cfg.Environment), ruleregistry.WithAllowOverride(cfg.Environment != string(ruleregistry.EnvProduction)))
	ruleregistry.RegisterDefaultRules(registry)

	execManager := execstate.NewManager(&log)

	serviceRegistry := services.New(false)
	apiKeys := envkeys.New("openai")
	serviceRegistry.Register(services.APIKeyService, apiKeys)
	serviceRegistry.Register(services.LLMService, openai.New(apiKeys, log))
	serviceRegistry.Register(services.ConditionEvaluationService, condeval.New())

	streamObserver := observerbus.NewStreamingObserver(cfg.ObserverQueueSize, log)
	stateObserver := observerbus.NewStateStoreObserver(states, log)
	observers := []scheduler.Observer{stateObserver, streamObserver}

	var auth wsobserver.Authenticator = wsobserver.NewNoAuth()
	if *jwtSecret != "" {
		auth = wsobserver.NewJWTAuth(*jwtSecret)
	}
	resolver := wsobserver.NewPromptResolver()
	streamHandler := wsobserver.NewHandler(streamObserver, resolver, auth, log)

	schedCfg := scheduler.Config{
		ErrorPolicy: domain.ErrorPolicyFailFast,
		Retry: scheduler.RetryPolicy{
			MaxAttempts:  cfg.RetryMax,
			InitialDelay: time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},
		MaxParallel:          10,
		NodeTimeout:          time.Duration(cfg.NodeTimeoutSec) * time.Second,
		EnableCircuitBreaker: true,
		CircuitBreaker: scheduler.CircuitBreakerConfig{
			FailureThreshold: cfg.CircuitBreakerThresh,
			Window:           time.Minute,
			CooldownPeriod:   time.Duration(cfg.CircuitBreakerCooldownSec) * time.Second,
		},
		Tracer: tracerProvider.Tracer(),
	}

	handlers := refhandlers.Handlers()

	restServer := apirest.New(apirest.Deps{
		Diagrams:        diagrams,
		States:          states,
		Executions:      execManager,
		Registry:        registry,
		Handlers:        handlers,
		Services:        serviceRegistry,
		SchedulerConfig: schedCfg,
		Stream:          streamHandler,
		Resolver:        resolver,
		Observers:       observers,
		Logger:          log,
		APIKeys:         parseAPIKeys(*apiKeysFlag),
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      restServer,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("address", httpServer.Addr).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}
	log.Info().Msg("server exited gracefully")
}

// parseAPIKeys splits a comma-separated flag value, dropping empty entries.
func parseAPIKeys(raw string) []string {
	if raw == "" {
		return nil
	}
	var keys []string
	for _, key := range strings.Split(raw, ",") {
		key = strings.TrimSpace(key)
		if key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}
