// Command orchestrator runs the petition orchestration API: it loads
// configuration, wires every subsystem (memory, cache, routing, workflow
// engine, dispatch, preview) behind its narrow interface, and serves HTTP
// until signaled to stop. Grounded on the teacher's cmd/assistant/main.go
// graceful-shutdown idiom: an error channel fed by both the HTTP server
// and an OS signal listener, drained once by the main goroutine.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/openai/openai-go"
	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/lawercase/petition-orchestrator/internal/audit"
	"github.com/lawercase/petition-orchestrator/internal/cache"
	cachel1 "github.com/lawercase/petition-orchestrator/internal/cache/l1/inmem"
	cachel2 "github.com/lawercase/petition-orchestrator/internal/cache/l2/inmem"
	"github.com/lawercase/petition-orchestrator/internal/casestore"
	"github.com/lawercase/petition-orchestrator/internal/clock"
	"github.com/lawercase/petition-orchestrator/internal/config"
	"github.com/lawercase/petition-orchestrator/internal/dispatch"
	"github.com/lawercase/petition-orchestrator/internal/dispatch/agents"
	"github.com/lawercase/petition-orchestrator/internal/httpapi"
	"github.com/lawercase/petition-orchestrator/internal/intake"
	"github.com/lawercase/petition-orchestrator/internal/memory"
	"github.com/lawercase/petition-orchestrator/internal/memory/embedder"
	"github.com/lawercase/petition-orchestrator/internal/memory/episodic"
	episodicmongo "github.com/lawercase/petition-orchestrator/internal/memory/episodic/mongo"
	"github.com/lawercase/petition-orchestrator/internal/memory/semantic"
	semanticchromem "github.com/lawercase/petition-orchestrator/internal/memory/semantic/chromem"
	semanticinmem "github.com/lawercase/petition-orchestrator/internal/memory/semantic/inmem"
	"github.com/lawercase/petition-orchestrator/internal/preview"
	"github.com/lawercase/petition-orchestrator/internal/routing"
	"github.com/lawercase/petition-orchestrator/internal/routing/middleware"
	anthropicprovider "github.com/lawercase/petition-orchestrator/internal/routing/provider/anthropic"
	bedrockprovider "github.com/lawercase/petition-orchestrator/internal/routing/provider/bedrock"
	openaiprovider "github.com/lawercase/petition-orchestrator/internal/routing/provider/openai"
	"github.com/lawercase/petition-orchestrator/internal/runlog"
	runloginmem "github.com/lawercase/petition-orchestrator/internal/runlog/inmem"
	"github.com/lawercase/petition-orchestrator/internal/session"
	sessioninmem "github.com/lawercase/petition-orchestrator/internal/session/inmem"
	"github.com/lawercase/petition-orchestrator/internal/telemetry"
	"github.com/lawercase/petition-orchestrator/internal/telemetry/otel"
	"github.com/lawercase/petition-orchestrator/internal/telemetry/prom"
	"github.com/lawercase/petition-orchestrator/internal/workflow"
	wfengine "github.com/lawercase/petition-orchestrator/internal/workflow/engine"
	engineinmem "github.com/lawercase/petition-orchestrator/internal/workflow/engine/inmem"
	enginetemporal "github.com/lawercase/petition-orchestrator/internal/workflow/engine/temporal"
	"github.com/lawercase/petition-orchestrator/internal/workflow/store"
	storeinmem "github.com/lawercase/petition-orchestrator/internal/workflow/store/inmem"
	storeredis "github.com/lawercase/petition-orchestrator/internal/workflow/store/redisstore"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cl := clock.Real()
	metricsSink, promMetrics := buildMetrics(cfg)
	logSink := otel.NewLogger("orchestrator")
	tracer := otel.NewTracer("orchestrator")

	auditStore := audit.NewInMemory(cl)
	cases := casestore.NewInMemory(cl)
	sessions := session.Store(sessioninmem.New())
	runLog := runlog.Store(runloginmem.New())

	mem, err := buildMemoryManager(ctx, cfg, auditStore, cl, logSink)
	if err != nil {
		return fmt.Errorf("building memory manager: %w", err)
	}

	intakeMachine := intake.New(intake.NewInMemory(), cases, mem, auditStore, cl, logSink)

	respCache := buildCache(cfg, cl, logSink, metricsSink)
	router, err := buildRouter(cfg, respCache, metricsSink)
	if err != nil {
		return fmt.Errorf("building router: %w", err)
	}

	wfStore, broadcaster, err := buildWorkflowStore(ctx, cfg, cl)
	if err != nil {
		return fmt.Errorf("building workflow store: %w", err)
	}
	wfEngine, err := buildWorkflowEngine(cfg, logSink, metricsSink, tracer)
	if err != nil {
		return fmt.Errorf("building workflow engine: %w", err)
	}

	validator := agents.NewValidator(auditStore)
	writer := agents.NewWriter(wfStore, wfEngine, auditStore, router, mem, validator, nil, runLog, sessions)
	research := agents.NewResearch(mem, router)
	caseAgent := agents.NewCase(cases, intakeMachine)

	registry := dispatch.NewRegistry()
	registerCaseKinds(registry, caseAgent)
	registry.Register("memory_lookup", research)
	registry.Register("ask", research)
	registry.Register("validate_section", validator)
	registerWriterKinds(registry, writer)

	authz := dispatch.NewRoleAuthorizer(dispatch.AuthorizeOptions{Matrix: cfg.Dispatch.RolePermissionMatrix})
	screener := dispatch.NewInjectionScreener(cfg.Dispatch.InjectionDetectorEnabled, cfg.Dispatch.InjectionConfidenceThreshold)
	dispatcher := dispatch.NewDispatcher(authz, screener, registry, auditStore, logSink, metricsSink)

	supervisor := agents.NewSupervisor(dispatcher)
	registry.Register("generate_petition", supervisor)

	mux := httpapi.NewRouter(dispatcher, broadcaster, sessions, promMetrics, logSink)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logSink.Info(ctx, "orchestrator listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
			return
		}
		errc <- nil
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case s := <-sigc:
			logSink.Info(ctx, "received shutdown signal", "signal", s.String())
		case <-ctx.Done():
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logSink.Error(ctx, "server shutdown error", "error", err)
		}
	}()

	err = <-errc
	cancel()
	wg.Wait()
	return err
}

// buildMetrics selects a telemetry.Metrics implementation by
// config.Telemetry.MetricsSink: "prometheus" (default) wires
// internal/telemetry/prom, the one sink this process can expose at
// /metrics; anything else falls back to the OTEL meter provider.
func buildMetrics(cfg *config.Config) (telemetry.Metrics, http.Handler) {
	if cfg.Telemetry.MetricsSink == "prometheus" {
		m := prom.New("orchestrator")
		return m, m.Handler()
	}
	return otel.NewMetrics("orchestrator"), nil
}

func buildMemoryManager(ctx context.Context, cfg *config.Config, aud audit.Store, cl clock.Clock, log telemetry.Logger) (*memory.Manager, error) {
	epStore, err := buildEpisodicStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	semStore, err := buildSemanticStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	emb := embedder.Embedder(embedder.NewDeterministic(cfg.Memory.EmbeddingDimension))
	return memory.New(epStore, semStore, emb, aud, cl, log), nil
}

// buildEpisodicStore wires a MongoDB-backed episodic log when
// MEMORY_EPISODIC_STORE_URL is set, matching the durable-backend-by-config
// pattern the workflow store also follows (buildCache always uses the
// in-memory cache layers); otherwise it falls back to the process-local
// InMemory store.
func buildEpisodicStore(ctx context.Context, cfg *config.Config) (episodic.Store, error) {
	if cfg.Memory.EpisodicStoreURL == "" {
		return episodic.NewInMemory(), nil
	}
	client, err := mongodriver.Connect(options.Client().ApplyURI(cfg.Memory.EpisodicStoreURL))
	if err != nil {
		return nil, fmt.Errorf("connecting episodic mongo store: %w", err)
	}
	st, err := episodicmongo.NewStoreFromOptions(ctx, episodicmongo.Options{
		Client:   client,
		Database: "petition_orchestrator",
	})
	if err != nil {
		return nil, fmt.Errorf("building episodic mongo store: %w", err)
	}
	return st, nil
}

// buildSemanticStore selects a vector backend by the scheme of
// MEMORY_SEMANTIC_INDEX_URL ("chromem://<path>" for an embedded on-disk
// index, anything else defaulting to the process-local brute-force store).
// Qdrant/Pinecone need credentials this deployment's env doesn't carry by
// default, so they stay available as named dependencies (see DESIGN.md)
// rather than wired unconditionally here.
func buildSemanticStore(ctx context.Context, cfg *config.Config) (semantic.Store, error) {
	url := cfg.Memory.SemanticIndexURL
	const chromemPrefix = "chromem://"
	if len(url) > len(chromemPrefix) && url[:len(chromemPrefix)] == chromemPrefix {
		st, err := semanticchromem.New(cfg.Memory.EmbeddingDimension, url[len(chromemPrefix):])
		if err != nil {
			return nil, fmt.Errorf("building chromem semantic store: %w", err)
		}
		return st, nil
	}
	_ = ctx
	return semanticinmem.New(cfg.Memory.EmbeddingDimension), nil
}

func buildCache(cfg *config.Config, cl clock.Clock, log telemetry.Logger, mx telemetry.Metrics) *cache.Cache {
	if !cfg.Cache.Enabled {
		return nil
	}
	l1 := cachel1.New(cl, cfg.Cache.MaxEntries)
	l2 := cachel2.New(cl)
	emb := embedder.Embedder(embedder.NewDeterministic(cfg.Memory.EmbeddingDimension))
	return cache.New(l1, l2, emb, cl, log, mx, cache.Options{
		TTL:                         cfg.Cache.TTL,
		MaxEntries:                  cfg.Cache.MaxEntries,
		L2SimilarityThreshold:       cfg.Cache.L2SimilarityThreshold,
		TemperatureCacheableCeiling: cfg.Cache.TemperatureCacheableCeiling,
	})
}

// buildRouter constructs one routing.Client per configured provider this
// process has credentials for, wraps each behind the adaptive rate
// limiter, and builds the cost-ordered Router over them.
func buildRouter(cfg *config.Config, c *cache.Cache, mx telemetry.Metrics) (*routing.Router, error) {
	var specs []routing.ProviderSpec
	for _, p := range cfg.Routing.Providers {
		client, caps, err := buildProviderClient(cfg, p)
		if err != nil {
			return nil, err
		}
		if client == nil {
			continue
		}
		limiter := middleware.NewAdaptiveRateLimiter(60000, 240000, nil)
		specs = append(specs, routing.ProviderSpec{
			ID:             p.Name,
			Client:         limiter.Middleware(client),
			CostPerInputK:  p.CostPerInputK,
			CostPerOutputK: p.CostPerOutputK,
			Supports:       caps,
		})
	}
	return routing.New(routing.Options{
		Providers: specs,
		Cache:     c,
		Budget:    routing.NewBudgetTracker(cfg.Routing.PerRequestBudget, cfg.Routing.GlobalBudget, cfg.Routing.WarnThreshold, mx),
		Metrics:   mx,
	}), nil
}

func buildProviderClient(cfg *config.Config, p config.ProviderConfig) (routing.Client, []string, error) {
	switch p.Name {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, nil, nil
		}
		return anthropicprovider.New(cfg.AnthropicAPIKey, anthropic.Model(p.Model)), []string{"chat"}, nil
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, nil, nil
		}
		return openaiprovider.New(cfg.OpenAIAPIKey, openai.ChatModel(p.Model)), []string{"chat"}, nil
	case "bedrock":
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, nil, fmt.Errorf("loading aws config for bedrock: %w", err)
		}
		return bedrockprovider.New(bedrockruntime.NewFromConfig(awsCfg), p.Model), []string{"chat"}, nil
	default:
		return nil, nil, nil
	}
}

// broadcastForwarder breaks the construction cycle between the workflow
// store (which needs a store.Broadcaster at construction time) and the
// preview broadcaster (which needs the store as a Snapshotter): it is
// handed to the store first as a stand-in, then rebound to the real
// broadcaster once that exists.
type broadcastForwarder struct {
	mu     sync.RWMutex
	target store.Broadcaster
}

func (f *broadcastForwarder) Publish(ctx context.Context, delta workflow.Delta) {
	f.mu.RLock()
	t := f.target
	f.mu.RUnlock()
	if t != nil {
		t.Publish(ctx, delta)
	}
}

func (f *broadcastForwarder) bind(b store.Broadcaster) {
	f.mu.Lock()
	f.target = b
	f.mu.Unlock()
}

// buildWorkflowStore wires a Redis-backed store.Store when RedisURL is
// reachable configuration (non-empty), otherwise the in-memory store; both
// share the same broadcaster-forwarder indirection to resolve the
// store/broadcaster construction cycle.
func buildWorkflowStore(ctx context.Context, cfg *config.Config, cl clock.Clock) (store.Store, *preview.Broadcaster, error) {
	fwd := &broadcastForwarder{}

	var st store.Store
	if cfg.RedisURL != "" && cfg.RedisURL != "disabled" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		st = storeredis.New(client, cl, fwd, cfg.Workflow.StateTTL)
	} else {
		st = storeinmem.New(cl, fwd)
	}

	broadcaster := preview.New(st)
	fwd.bind(broadcaster)
	return st, broadcaster, nil
}

// buildWorkflowEngine selects the C9 engine backend by Workflow.Engine:
// "temporal" dials a Temporal cluster for durable execution, anything else
// (including the default) uses the process-local in-memory engine.
func buildWorkflowEngine(cfg *config.Config, log telemetry.Logger, mx telemetry.Metrics, tr telemetry.Tracer) (wfengine.Engine, error) {
	if cfg.Workflow.Engine != "temporal" {
		return engineinmem.New(log, mx, tr), nil
	}
	eng, err := enginetemporal.New(enginetemporal.Options{
		ClientOptions: &temporalclient.Options{
			HostPort:  cfg.Workflow.TemporalHostPort,
			Namespace: cfg.Workflow.TemporalNamespace,
		},
		WorkerOptions: enginetemporal.WorkerOptions{TaskQueue: cfg.Workflow.TemporalTaskQueue},
		Logger:        log,
		Metrics:       mx,
		Tracer:        tr,
	})
	if err != nil {
		return nil, fmt.Errorf("building temporal engine: %w", err)
	}
	return eng, nil
}

func registerCaseKinds(r *dispatch.Registry, a *agents.Case) {
	for _, kind := range []string{
		"case_create", "case_get", "case_active",
		"intake_start", "intake_answer", "intake_skip", "intake_status", "intake_cancel", "intake_resume",
	} {
		r.Register(kind, a)
	}
}

func registerWriterKinds(r *dispatch.Registry, w *agents.Writer) {
	for _, kind := range []string{
		"generate_letter", "generate_petition_internal",
		"pause", "resume", "get_preview", "download_pdf", "upload_exhibit",
	} {
		r.Register(kind, w)
	}
}
