package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/jordanhubbard/wallbounce/internal/approval"
	"github.com/jordanhubbard/wallbounce/internal/bounce"
	"github.com/jordanhubbard/wallbounce/internal/circuitbreaker"
	"github.com/jordanhubbard/wallbounce/internal/consensus"
	"github.com/jordanhubbard/wallbounce/internal/events"
	"github.com/jordanhubbard/wallbounce/internal/health"
	"github.com/jordanhubbard/wallbounce/internal/httpapi"
	"github.com/jordanhubbard/wallbounce/internal/idempotency"
	"github.com/jordanhubbard/wallbounce/internal/logging"
	"github.com/jordanhubbard/wallbounce/internal/metrics"
	"github.com/jordanhubbard/wallbounce/internal/providers/anthropic"
	"github.com/jordanhubbard/wallbounce/internal/providers/cli"
	"github.com/jordanhubbard/wallbounce/internal/providers/mcp"
	"github.com/jordanhubbard/wallbounce/internal/providers/openai"
	"github.com/jordanhubbard/wallbounce/internal/ratelimit"
	"github.com/jordanhubbard/wallbounce/internal/registry"
	"github.com/jordanhubbard/wallbounce/internal/stats"
	"github.com/jordanhubbard/wallbounce/internal/store"
	"github.com/jordanhubbard/wallbounce/internal/temporal"
	"github.com/jordanhubbard/wallbounce/internal/toolexec"
	"github.com/jordanhubbard/wallbounce/internal/tools"
	"github.com/jordanhubbard/wallbounce/internal/tracing"
	"github.com/jordanhubbard/wallbounce/internal/tsdb"
	"github.com/jordanhubbard/wallbounce/internal/vault"
)

// Server wires the wall-bounce engine, its ambient subsystems, and the HTTP
// surface together.
type Server struct {
	cfg Config

	r *chi.Mux

	vault     *vault.Vault
	engine    *bounce.Engine
	registry  *registry.Registry
	store     store.Store
	approvals *approval.Manager
	bus       *events.Bus
	metrics   *metrics.Registry
	prober    *health.Prober
	limiter   *ratelimit.Limiter
	idem      *idempotency.Cache
	temporal  *temporal.Manager
	logger    *slog.Logger

	tracingShutdown func(context.Context) error
}

func NewServer(cfg Config) (*Server, error) {
	logger := logging.Setup(cfg.LogLevel)

	tracingShutdown, err := tracing.Setup(tracing.Config{
		Enabled:     cfg.OTELEnabled,
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: "wallbounce",
	})
	if err != nil {
		return nil, fmt.Errorf("tracing setup: %w", err)
	}

	db, err := store.NewSQLite(cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("database initialized", slog.String("dsn", cfg.DBDSN))

	v, err := vault.New(cfg.VaultEnabled)
	if err != nil {
		db.Close()
		return nil, err
	}
	if master := os.Getenv("WALLBOUNCE_VAULT_MASTER"); master != "" && cfg.VaultEnabled {
		if err := restoreVault(context.Background(), v, db, master); err != nil {
			logger.Warn("vault auto-unlock failed", slog.String("error", err.Error()))
		} else {
			logger.Info("vault unlocked from environment master")
		}
	}

	bus := events.NewBus()
	m := metrics.New()
	collector := stats.NewCollector()

	ts, err := tsdb.New(db.DB())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("tsdb init: %w", err)
	}

	ht := health.NewTracker(health.DefaultConfig(), health.WithEventBus(bus))

	specs, err := loadProviderSpecs(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	descs := make([]bounce.ProviderDescriptor, 0, len(specs))
	for _, s := range specs {
		descs = append(descs, s.ProviderDescriptor)
	}
	reg, err := registry.New(descs)
	if err != nil {
		db.Close()
		return nil, err
	}

	eng := bounce.NewEngine(bounce.EngineConfig{
		TierDefaults:  cfg.TierDefaults,
		MaxConcurrent: cfg.MaxConcurrentRequests,
		DeadlineCap:   time.Duration(cfg.DefaultDeadlineMs) * time.Millisecond,
	}, reg, consensus.New())
	eng.SetLogger(logger)
	eng.SetMetrics(m)
	eng.SetBus(bus)
	eng.SetHealthChecker(ht)
	eng.SetBreakers(circuitbreaker.NewProviderSet())

	probeTargets := registerAdapters(eng, specs, m, time.Duration(cfg.ProviderTimeoutSecs)*time.Second, logger)
	prober := health.NewProber(health.DefaultProberConfig(), ht, probeTargets, logger)
	prober.Start()

	toolDescs, err := loadToolDescriptors(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	var toolMgr *tools.Manager
	if len(toolDescs) > 0 {
		toolMgr, err = tools.New(toolDescs, tools.WithSecretSource(v))
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	approvals := approval.NewManager(
		approval.WithTTL(time.Duration(cfg.ApprovalTTLSeconds)*time.Second),
		approval.WithRecorder(storeRecorder{db}),
		approval.WithMetrics(m),
		approval.WithBus(bus),
	)

	execSvc := toolexec.New(approvals,
		toolexec.WithRecorder(storeRecorder{db}),
		toolexec.WithMetrics(m),
		toolexec.WithBus(bus),
	)
	if toolMgr != nil {
		eng.SetToolPath(toolMgr, approvals, execSvc)
	}

	adminToken, err := httpapi.NewAdminTokenHolder(cfg.AdminToken, cfg.DBDSN, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	approvers, err := httpapi.NewApproverTokens(cfg.ApproverTokens)
	if err != nil {
		db.Close()
		return nil, err
	}

	limiter := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst, time.Second,
		ratelimit.WithCounter(m.RateLimitedTotal))
	idemCache := idempotency.New(10*time.Minute, 10000)

	corsOrigins := cfg.CORSOrigins
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(tracing.Middleware())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "Idempotency-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(limiter.Middleware)
	r.Use(idempotency.Middleware(idemCache))

	s := &Server{
		cfg:             cfg,
		r:               r,
		vault:           v,
		engine:          eng,
		registry:        reg,
		store:           db,
		approvals:       approvals,
		bus:             bus,
		metrics:         m,
		prober:          prober,
		limiter:         limiter,
		idem:            idemCache,
		logger:          logger,
		tracingShutdown: tracingShutdown,
	}

	deps := httpapi.Dependencies{
		Engine:       eng,
		Registry:     reg,
		Tools:        toolMgr,
		Approvals:    approvals,
		Vault:        v,
		Metrics:      m,
		Store:        db,
		Health:       ht,
		EventBus:     bus,
		Stats:        collector,
		TSDB:         ts,
		Logger:       logger,
		AdminToken:   adminToken,
		Approvers:    approvers,
		MountMetrics: cfg.MetricsBind == "",
	}

	if cfg.TemporalEnabled {
		tm, err := temporal.New(temporal.Config{
			HostPort:  cfg.TemporalHostPort,
			Namespace: cfg.TemporalNamespace,
			TaskQueue: cfg.TemporalTaskQueue,
		}, &temporal.Activities{
			Providers: reg,
			Invokers:  eng,
			Consensus: consensus.New(),
			Store:     db,
			Health:    ht,
			EventBus:  bus,
			Stats:     collector,
			TSDB:      ts,
		})
		if err != nil {
			logger.Warn("temporal disabled: connection failed", slog.String("error", err.Error()))
		} else if err := tm.Start(); err != nil {
			logger.Warn("temporal disabled: worker start failed", slog.String("error", err.Error()))
			tm.Stop()
		} else {
			s.temporal = tm
			deps.TemporalClient = tm.Client()
			deps.TemporalTaskQueue = tm.TaskQueue()
			logger.Info("temporal worker started",
				slog.String("host", cfg.TemporalHostPort),
				slog.String("task_queue", cfg.TemporalTaskQueue))
		}
	}

	httpapi.MountRoutes(r, deps)
	return s, nil
}

// Router returns the fully mounted HTTP handler.
func (s *Server) Router() http.Handler { return s.r }

// MetricsHandler returns the promhttp handler for the optional separate
// metrics listener (METRICS_BIND).
func (s *Server) MetricsHandler() http.Handler { return s.metrics.Handler() }

// Config returns the resolved runtime configuration.
func (s *Server) Config() Config { return s.cfg }

// Close shuts the subsystems down in reverse dependency order.
func (s *Server) Close() error {
	if s.temporal != nil {
		s.temporal.Stop()
	}
	if s.prober != nil {
		s.prober.Stop()
	}
	if s.approvals != nil {
		s.approvals.Close()
	}
	if s.idem != nil {
		s.idem.Stop()
	}
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.tracingShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.tracingShutdown(ctx)
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// registerAdapters builds one adapter per provider spec and returns the
// subset that exposes an HTTP health endpoint for probing.
func registerAdapters(eng *bounce.Engine, specs []ProviderSpec, m *metrics.Registry, timeout time.Duration, logger *slog.Logger) []health.Probeable {
	var targets []health.Probeable
	for _, spec := range specs {
		switch spec.Transport {
		case bounce.TransportSDK:
			apiKey := ""
			if spec.APIKeyEnv != "" {
				apiKey = os.Getenv(spec.APIKeyEnv)
			}
			switch spec.Vendor {
			case "anthropic":
				opts := []anthropic.Option{anthropic.WithTimeout(timeout), anthropic.WithMetrics(m)}
				if spec.BaseURL != "" {
					opts = append(opts, anthropic.WithBaseURL(spec.BaseURL))
				}
				a := anthropic.New(spec.ProviderDescriptor, apiKey, opts...)
				eng.RegisterInvoker(a)
				targets = append(targets, a)
			default:
				// Everything else speaks the OpenAI wire shape, hosted or
				// self-hosted.
				opts := []openai.Option{openai.WithTimeout(timeout), openai.WithMetrics(m)}
				if spec.BaseURL != "" {
					opts = append(opts, openai.WithBaseURL(spec.BaseURL))
				}
				a := openai.New(spec.ProviderDescriptor, apiKey, opts...)
				eng.RegisterInvoker(a)
				targets = append(targets, a)
			}
		case bounce.TransportCLI:
			eng.RegisterInvoker(cli.New(spec.ProviderDescriptor, spec.Command, spec.Args, cli.WithMetrics(m)))
		case bounce.TransportMCP:
			opts := []mcp.Option{mcp.WithTimeout(timeout), mcp.WithMetrics(m)}
			if spec.AuthTokenEnv != "" {
				opts = append(opts, mcp.WithToken(os.Getenv(spec.AuthTokenEnv)))
			}
			a := mcp.New(spec.ProviderDescriptor, spec.Endpoint, opts...)
			eng.RegisterInvoker(a)
		default:
			logger.Warn("skipping provider with unknown transport",
				slog.String("provider", spec.Name), slog.String("transport", string(spec.Transport)))
			continue
		}
		logger.Info("registered provider",
			slog.String("provider", spec.Name),
			slog.String("vendor", spec.Vendor),
			slog.String("transport", string(spec.Transport)))
	}
	return targets
}

// restoreVault unlocks the vault with the environment master password,
// restoring the persisted salt and sealed values first.
func restoreVault(ctx context.Context, v *vault.Vault, db store.Store, master string) error {
	salt, data, err := db.LoadVaultBlob(ctx)
	if err != nil {
		return fmt.Errorf("load vault blob: %w", err)
	}
	if len(salt) > 0 {
		v.SetSalt(salt)
	}
	if err := v.Unlock([]byte(master)); err != nil {
		return err
	}
	if len(data) > 0 {
		if err := v.Import(data); err != nil {
			v.Lock()
			return fmt.Errorf("restore vault data: %w", err)
		}
		for key := range data {
			if _, err := v.Get(key); err != nil {
				v.Lock()
				return fmt.Errorf("wrong master password")
			}
			break
		}
	}
	return db.SaveVaultBlob(ctx, v.Salt(), v.Export())
}

// storeRecorder adapts the store to the approval and toolexec recorder
// contracts.
type storeRecorder struct {
	db store.Store
}

func (r storeRecorder) RecordApproval(req approval.Request) error {
	params := ""
	if len(req.Parameters) > 0 {
		if b, err := json.Marshal(req.Parameters); err == nil {
			params = string(b)
		}
	}
	return r.db.SaveApproval(context.Background(), store.ApprovalRecord{
		ID:         req.ID,
		ToolLabel:  req.ToolLabel,
		Operation:  req.Operation,
		Parameters: params,
		Risk:       string(req.Risk),
		Requester:  req.Requester,
		State:      string(req.State),
		CreatedAt:  req.CreatedAt,
		DecidedAt:  req.DecidedAt,
		Decider:    req.Decider,
		Notes:      req.Notes,
	})
}

func (r storeRecorder) RecordTransition(tr approval.Transition) error {
	return r.db.LogApprovalTransition(context.Background(), store.ApprovalTransition{
		RequestID: tr.RequestID,
		FromState: string(tr.From),
		ToState:   string(tr.To),
		At:        tr.At,
		Decider:   tr.Decider,
		Notes:     tr.Notes,
	})
}

func (r storeRecorder) RecordToolExecution(out bounce.ToolOutcome) error {
	return r.db.LogToolExecution(context.Background(), store.ToolExecutionLog{
		Timestamp:  time.Now().UTC(),
		RequestID:  out.RequestID,
		ApprovalID: out.ApprovalID,
		ToolLabel:  out.ToolLabel,
		Operation:  out.Operation,
		Success:    out.Success,
		CostUSD:    out.CostUSD,
		LatencyMs:  out.LatencyMs,
		ErrorKind:  string(out.Error),
	})
}
