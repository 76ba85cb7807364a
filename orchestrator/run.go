// Copyright 2025 FaaSFlow
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/go-sql-driver/mysql" // MySQL driver
	"github.com/gorilla/mux"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"

	"faasflow/platform/orchestrator/routing"
	"faasflow/platform/orchestrator/routing/archive"
	"faasflow/platform/orchestrator/routing/azurefn"
	"faasflow/platform/orchestrator/routing/cloudfn"
	"faasflow/platform/orchestrator/routing/lambda"
	"faasflow/platform/orchestrator/routing/secrets"
	"faasflow/platform/shared/logger"
)

// FaaSFlow Orchestrator - Multi-Cloud Function Routing & Failover Engine
// This service routes function invocations across cloud backends

// Service components
var (
	orch         *routing.Orchestrator
	configStore  *routing.ConfigStore
	appLogger    *logger.Logger
	promRegistry *prometheus.Registry
)

// invokeRequest is the body of POST /invoke.
type invokeRequest struct {
	Function  string          `json:"function"`
	Payload   json.RawMessage `json:"payload"`
	TimeoutMs int             `json:"timeout_ms,omitempty"`
}

// invokeResponse is the caller-facing result of one orchestration.
type invokeResponse struct {
	RequestID        string                   `json:"request_id"`
	ProviderUsed     string                   `json:"provider_used"`
	LatencyMs        int64                    `json:"latency_ms"`
	CostEstimate     float64                  `json:"cost_estimate"`
	CostViolation    bool                     `json:"cost_violation,omitempty"`
	LatencyViolation bool                     `json:"latency_violation,omitempty"`
	Attempts         []routing.AttemptSummary `json:"attempts"`
	Result           json.RawMessage          `json:"result,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Run is the exported entry point for the orchestrator service.
//
// It loads the routing configuration, wires the provider adapters, the
// decision store and the optional archive/cooldown layers, sets up HTTP
// routes, and starts the server. The function blocks until the server
// receives SIGINT or SIGTERM.
//
// Environment variables used:
//   - PORT: HTTP server port (default: 8082)
//   - CONFIG_PATH: routing configuration file (default: /etc/faasflow/routing.yaml)
//   - AWS_REGION: region for the Secrets Manager client (optional)
func Run() {
	log.Println("Starting FaaSFlow Orchestrator...")

	if err := initializeComponents(); err != nil {
		log.Fatalf("Failed to initialize orchestrator: %v", err)
	}

	// Setup router
	r := mux.NewRouter()

	// CORS middleware
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	// Health check
	r.HandleFunc("/health", healthHandler).Methods("GET")

	// Prometheus metrics
	r.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})).Methods("GET")

	// Main invocation endpoint
	r.HandleFunc("/invoke", invokeHandler).Methods("POST")

	// Admin endpoints
	r.HandleFunc("/admin/config/reload", reloadConfigHandler).Methods("POST")
	r.HandleFunc("/admin/backends", backendsHandler).Methods("GET")

	// Start server
	port := getEnv("PORT", "8082")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           c.Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("FaaSFlow Orchestrator listening on port %s", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down FaaSFlow Orchestrator...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Graceful shutdown failed: %v", err)
	}
}

func initializeComponents() error {
	appLogger = logger.New("orchestrator")

	configPath := getEnv("CONFIG_PATH", "/etc/faasflow/routing.yaml")
	store, err := routing.NewConfigStore(configPath)
	if err != nil {
		return err
	}
	configStore = store
	cfg := configStore.Snapshot()

	// Provider adapters. The Azure adapter resolves function keys through
	// Secrets Manager when a backend references one by ARN.
	adapters := routing.NewAdapterRegistry()
	adapters.RegisterFactory(routing.KindAWSLambda, lambda.Factory)
	adapters.RegisterFactory(routing.KindCloudFunctions, cloudfn.Factory)
	adapters.RegisterFactory(routing.KindCustom, cloudfn.Factory)

	var resolver azurefn.KeyResolver
	if needsSecretResolver(cfg.Backends) {
		mgr, err := secrets.New(context.Background(), secrets.Options{
			Region: os.Getenv("AWS_REGION"),
		})
		if err != nil {
			return err
		}
		resolver = mgr
	}
	adapters.RegisterFactory(routing.KindAzureFunctions, azurefn.Factory(resolver))

	health := routing.NewHealthTracker(routing.DefaultEWMAAlpha)

	collectors := routing.NewCollectors()
	promRegistry = prometheus.NewRegistry()
	collectors.Register(promRegistry)

	recorderOpts := []routing.RecorderOption{routing.WithCollectors(collectors)}

	decisionStore, err := openDecisionStore()
	if err != nil {
		return err
	}
	if decisionStore != nil {
		recorderOpts = append(recorderOpts, routing.WithDecisionStore(decisionStore))
	}

	archiver, err := openArchiver()
	if err != nil {
		return err
	}
	if archiver != nil {
		recorderOpts = append(recorderOpts, routing.WithArchiver(archiver))
	}

	orchOpts := []routing.OrchestratorOption{}
	if cooldown := openCooldown(); cooldown != nil {
		recorderOpts = append(recorderOpts, routing.WithCooldownStore(cooldown))
		orchOpts = append(orchOpts, routing.WithCooldown(cooldown))
	}

	recorder := routing.NewMetricsRecorder(health, appLogger, recorderOpts...)
	orch = routing.NewOrchestrator(configStore, adapters, recorder, health, appLogger, orchOpts...)

	appLogger.Info("", "Orchestrator initialized", map[string]interface{}{
		"backends":    len(cfg.Backends),
		"config_path": configPath,
	})
	return nil
}

// needsSecretResolver reports whether any configured backend carries a
// secret reference instead of inline credentials.
func needsSecretResolver(backends []routing.Backend) bool {
	for _, b := range backends {
		if b.SecretARN != "" {
			return true
		}
	}
	return false
}

// openDecisionStore builds the durable decision store named by the
// configuration, or returns nil when persistence is disabled.
func openDecisionStore() (routing.DecisionStore, error) {
	cfg := configStore.Snapshot()
	storeCfg := cfg.Store

	switch storeCfg.Driver {
	case "":
		log.Println("Decision persistence disabled (no store driver configured)")
		return nil, nil
	case "postgres":
		db, err := sql.Open("postgres", storeCfg.DSN)
		if err != nil {
			return nil, err
		}
		store, err := routing.NewSQLDecisionStore(db, routing.DialectPostgres)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.EnsureSchema(ctx); err != nil {
			log.Printf("Decision store schema setup failed (continuing): %v", err)
		}
		return store, nil
	case "mysql":
		db, err := sql.Open("mysql", storeCfg.DSN)
		if err != nil {
			return nil, err
		}
		store, err := routing.NewSQLDecisionStore(db, routing.DialectMySQL)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.EnsureSchema(ctx); err != nil {
			log.Printf("Decision store schema setup failed (continuing): %v", err)
		}
		return store, nil
	case "mongodb":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		client, err := mongo.Connect(ctx, mongooptions.Client().ApplyURI(storeCfg.DSN))
		if err != nil {
			return nil, err
		}
		dbName := storeCfg.Database
		if dbName == "" {
			dbName = "faasflow"
		}
		return routing.NewMongoDecisionStore(client.Database(dbName)), nil
	default:
		return nil, &routing.ConfigError{Field: "store.driver", Message: "unknown driver " + storeCfg.Driver}
	}
}

// openArchiver builds the object-storage archiver named by the
// configuration, or returns nil when archival is disabled.
func openArchiver() (routing.Archiver, error) {
	cfg := configStore.Snapshot()
	archCfg := cfg.Archive

	var sink archive.ObjectSink
	switch archCfg.Sink {
	case "":
		return nil, nil
	case "s3":
		s, err := archive.NewS3Sink(context.Background(), archCfg.Bucket, archCfg.Region)
		if err != nil {
			return nil, err
		}
		sink = s
	case "gcs":
		s, err := archive.NewGCSSink(context.Background(), archCfg.Bucket)
		if err != nil {
			return nil, err
		}
		sink = s
	case "azure-blob":
		s, err := archive.NewAzureBlobSink(archCfg.AccountURL, archCfg.Bucket)
		if err != nil {
			return nil, err
		}
		sink = s
	default:
		return nil, &routing.ConfigError{Field: "archive.sink", Message: "unknown sink " + archCfg.Sink}
	}

	log.Printf("Decision archival enabled (sink: %s, bucket: %s)", archCfg.Sink, archCfg.Bucket)
	return archive.New(sink, archCfg.Prefix, appLogger), nil
}

// openCooldown builds the Redis-backed cooldown store when configured.
func openCooldown() *routing.CooldownStore {
	cfg := configStore.Snapshot()
	if cfg.Cooldown.RedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Cooldown.RedisAddr})
	ttl := time.Duration(cfg.Cooldown.TTLMs) * time.Millisecond
	log.Printf("Backend cooldown enabled (redis: %s)", cfg.Cooldown.RedisAddr)
	return routing.NewCooldownStore(client, ttl)
}

func invokeHandler(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Function == "" {
		sendErrorResponse(w, "Missing function name", http.StatusBadRequest)
		return
	}

	result, err := orch.Orchestrate(r.Context(), routing.InvocationRequest{
		Function: req.Function,
		Payload:  req.Payload,
		Deadline: time.Duration(req.TimeoutMs) * time.Millisecond,
	})
	if err != nil {
		status := statusForError(err)
		appLogger.ErrorWithCode("", "Invocation failed", status, err, map[string]interface{}{
			"function": req.Function,
		})
		sendErrorResponse(w, err.Error(), status)
		return
	}

	appLogger.InfoWithDuration(result.RequestID, "Invocation completed", float64(result.Latency.Milliseconds()), map[string]interface{}{
		"function": req.Function,
		"provider": result.ProviderUsed,
		"attempts": len(result.Attempts),
	})

	resp := invokeResponse{
		RequestID:        result.RequestID,
		ProviderUsed:     result.ProviderUsed,
		LatencyMs:        result.Latency.Milliseconds(),
		CostEstimate:     result.CostEstimate,
		CostViolation:    result.CostViolation,
		LatencyViolation: result.LatencyViolation,
		Attempts:         result.Attempts,
		Result:           result.Body,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

// statusForError maps orchestration errors onto HTTP status codes.
func statusForError(err error) int {
	var rejected *routing.RejectedError
	var exhausted *routing.ExhaustedError
	switch {
	case errors.Is(err, routing.ErrDeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, routing.ErrNoAvailableBackend),
		errors.Is(err, routing.ErrNoBackendsConfigured):
		return http.StatusServiceUnavailable
	case errors.As(err, &rejected):
		return http.StatusBadGateway
	case errors.As(err, &exhausted):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	snap := orch.Snapshot()

	health := map[string]interface{}{
		"status":    "healthy",
		"service":   "faasflow-orchestrator",
		"version":   "1.0.0",
		"timestamp": time.Now().UTC(),
		"backends":  len(snap.Backends),
		"stats":     orch.Health(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(health); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func backendsHandler(w http.ResponseWriter, r *http.Request) {
	snap := orch.Snapshot()
	stats := orch.Health()

	type backendStatus struct {
		ID       string               `json:"id"`
		Kind     routing.ProviderKind `json:"kind"`
		Region   string               `json:"region,omitempty"`
		Cost     float64              `json:"cost_per_invocation"`
		Priority int                  `json:"priority"`
		Health   routing.HealthStat   `json:"health"`
	}

	out := make([]backendStatus, 0, len(snap.Backends))
	for _, b := range snap.Backends {
		out = append(out, backendStatus{
			ID:       b.ID,
			Kind:     b.Kind,
			Region:   b.Region,
			Cost:     b.CostPerInvocation,
			Priority: b.Priority,
			Health:   stats[b.ID],
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"backends": out}); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func reloadConfigHandler(w http.ResponseWriter, r *http.Request) {
	if err := orch.Reload(); err != nil {
		appLogger.Error("", "Config reload failed", map[string]interface{}{"error": err.Error()})
		sendErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	snap := orch.Snapshot()
	appLogger.Info("", "Config reloaded", map[string]interface{}{"backends": len(snap.Backends)})

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "reloaded",
		"backends": len(snap.Backends),
	}); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func sendErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: message}); err != nil {
		log.Printf("Error encoding error response: %v", err)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
