package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ent0n29/agora/internal/completion"
	"github.com/ent0n29/agora/internal/config"
	"github.com/ent0n29/agora/internal/crosspoll"
	"github.com/ent0n29/agora/internal/facilitator"
	"github.com/ent0n29/agora/internal/httpapi"
	"github.com/ent0n29/agora/internal/observability"
	"github.com/ent0n29/agora/internal/store"
	"github.com/ent0n29/agora/internal/throttle"
)

const janitorInterval = time.Minute

type BuildResult struct {
	Config     config.Config
	API        *httpapi.Server
	Store      store.Store
	Engine     *crosspoll.Engine
	Throttle   *throttle.Controller
	Metrics    *observability.Metrics
	Completion completion.Service

	// ThrottleMode is "memory" or "redis".
	ThrottleMode string

	memoryStates *throttle.MemoryStore

	// Cleanup should be called on shutdown to release external resources (DB, Redis).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace, nil)

	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("store init failed: %w", err)
	}

	svc, err := completion.NewService(completion.Config{
		Mode:          cfg.CompletionMode,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		OpenAIModel:   cfg.OpenAIModel,
		HTTPURL:       cfg.CompletionHTTPURL,
		Timeout:       cfg.CompletionTimeout,
		RatePerSecond: cfg.CompletionRatePerSec,
		Burst:         cfg.CompletionBurst,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("completion init failed: %w", err)
	}

	var (
		states       throttle.Store
		memoryStates *throttle.MemoryStore
		redisStates  *throttle.RedisStore
		throttleMode = "memory"
	)
	if cfg.RedisURL != "" {
		redisStates, err = throttle.NewRedisStore(ctx, cfg.RedisURL, cfg.ThrottleStateTTL)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("throttle store init failed: %w", err)
		}
		states = redisStates
		throttleMode = "redis"
	} else {
		memoryStates = throttle.NewMemoryStore(cfg.ThrottleStateTTL)
		memoryStates.SetExpireHook(func(string) {
			metrics.SetThrottleStates(memoryStates.Len())
		})
		states = memoryStates
	}

	ctrl := throttle.NewController(states, throttle.Policy{
		Cooldown:         cfg.CrossPoll.Cooldown,
		SuppressionTurns: cfg.CrossPoll.SuppressionTurns,
	})

	engine, err := crosspoll.New(crosspoll.Deps{
		Threads:    st,
		Sessions:   st,
		Completion: svc,
		Throttle:   ctrl,
		Metrics:    metrics,
		Logger:     logger,
	}, EngineOptions(cfg.CrossPoll))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	turns := facilitator.NewTurns(st, engine, facilitator.New(svc, cfg.CompletionTimeout, metrics, logger), logger)
	api := httpapi.New(cfg, st, turns, ctrl, metrics, logger)

	cleanup := func() error {
		var errs []string
		if redisStates != nil {
			if err := redisStates.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if err := st.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Store:        st,
		Engine:       engine,
		Throttle:     ctrl,
		Metrics:      metrics,
		Completion:   svc,
		ThrottleMode: throttleMode,
		memoryStates: memoryStates,
		Cleanup:      cleanup,
	}, nil
}

// StartBackground runs the in-process throttle janitor until ctx ends. Redis
// expires idle sessions by key TTL instead.
func (b *BuildResult) StartBackground(ctx context.Context) {
	if b.memoryStates == nil {
		return
	}
	b.memoryStates.StartJanitor(ctx, janitorInterval)
}

// EngineOptions maps the configured policy onto engine defaults.
func EngineOptions(cp config.CrossPoll) crosspoll.Options {
	return crosspoll.Options{
		Enabled:           cp.Enabled,
		Cooldown:          cp.Cooldown,
		SuppressionTurns:  cp.SuppressionTurns,
		MinMessages:       cp.MinMessages,
		CompletionTimeout: cp.CompletionTimeout,
	}
}
