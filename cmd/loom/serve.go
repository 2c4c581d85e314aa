package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/loomchat/loom/internal/bridge"
	"github.com/loomchat/loom/internal/bridge/adapters/slack"
	"github.com/loomchat/loom/internal/bridge/adapters/telegram"
	"github.com/loomchat/loom/internal/bridge/adapters/whatsapp"
	"github.com/loomchat/loom/internal/config"
	"github.com/loomchat/loom/internal/entity"
	"github.com/loomchat/loom/internal/gateway"
	"github.com/loomchat/loom/internal/handlers"
	"github.com/loomchat/loom/internal/hub"
	"github.com/loomchat/loom/internal/ingest"
	"github.com/loomchat/loom/internal/logger"
	"github.com/loomchat/loom/internal/media"
	"github.com/loomchat/loom/internal/server"
	"github.com/loomchat/loom/internal/session"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideRegistry,
			provideSessionStore,
			provideSessionManager,
			newEventRelay,
			provideEngine,
			hub.New,
			provideGateway,
			provideEntityService,
			provideAvatarCache,
			provideMediaResolver,
			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideAuthHandler),
			provideServerHandler(provideProvidersHandler),
			provideServerHandler(provideChatHandler),
			provideServerHandler(provideMediaHandler),
			provideServerHandler(provideWSHandler),
			provideServer,
		),
		fx.Invoke(
			wireEvents,
			startBridge,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	path := cfgPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideRegistry(log *slog.Logger, cfg config.Config) *bridge.Registry {
	registry := bridge.NewRegistry()
	registry.MustRegister(telegram.New(log, cfg.Telegram.APIID, cfg.Telegram.APIHash))
	registry.MustRegister(whatsapp.New(log, whatsappStorePath(cfg)))
	registry.MustRegister(slack.New(log))
	return registry
}

func whatsappStorePath(cfg config.Config) string {
	if cfg.WhatsApp.StorePath != "" {
		return cfg.WhatsApp.StorePath
	}
	return filepath.Join(cfg.State.Dir, "whatsapp.db")
}

func provideSessionStore(cfg config.Config) (*session.Store, error) {
	store, err := session.NewStore(filepath.Join(cfg.State.Dir, "sessions"))
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	return store, nil
}

func provideSessionManager(log *slog.Logger, registry *bridge.Registry, store *session.Store, cfg config.Config) *session.Manager {
	return session.NewManager(log, registry, store,
		cfg.Session.RestoreGraceDuration(),
		cfg.Session.RestoreBackoffDuration(),
	)
}

func provideEngine(log *slog.Logger, registry *bridge.Registry, sessions *session.Manager, cfg config.Config, relay *eventRelay) *ingest.Engine {
	return ingest.New(log, registry, sessions, ingest.Config{
		PollInterval: cfg.Ingest.PollIntervalDuration(),
		CallDelay:    cfg.Ingest.CallDelayDuration(),
		PushRetry:    cfg.Ingest.PushRetryDuration(),
		PageSize:     cfg.Ingest.PageSize,
	}, relay.Emit)
}

func provideGateway(log *slog.Logger, registry *bridge.Registry, sessions *session.Manager, engine *ingest.Engine, h *hub.Hub) *gateway.Gateway {
	return gateway.New(log, registry, sessions, engine, h)
}

func provideEntityService(log *slog.Logger, registry *bridge.Registry, cfg config.Config) *entity.Service {
	return entity.NewService(log, registry, cfg.Cache.EntityCapacity)
}

func provideAvatarCache(cfg config.Config) (*media.AvatarCache, error) {
	cache, err := media.NewAvatarCache(filepath.Join(cfg.State.Dir, "avatars"))
	if err != nil {
		return nil, fmt.Errorf("avatar cache: %w", err)
	}
	return cache, nil
}

func provideMediaResolver(log *slog.Logger, registry *bridge.Registry, avatars *media.AvatarCache, cfg config.Config) *media.Resolver {
	return media.NewResolver(log, registry, avatars, cfg.Cache.MediaCapacity)
}

func provideAuthHandler(log *slog.Logger, cfg config.Config) *handlers.AuthHandler {
	return handlers.NewAuthHandler(log, cfg.Admin.Username, cfg.Admin.Password, cfg.Auth.JWTSecret, cfg.Auth.JWTExpiresInDuration())
}

func provideProvidersHandler(log *slog.Logger, sessions *session.Manager) *handlers.ProvidersHandler {
	return handlers.NewProvidersHandler(log, sessions)
}

func provideChatHandler(log *slog.Logger, gw *gateway.Gateway, cfg config.Config) *handlers.ChatHandler {
	return handlers.NewChatHandler(log, gw, cfg.Ingest.PageSize)
}

func provideMediaHandler(log *slog.Logger, resolver *media.Resolver, entities *entity.Service) *handlers.MediaHandler {
	return handlers.NewMediaHandler(log, resolver, entities)
}

func provideWSHandler(log *slog.Logger, h *hub.Hub) *handlers.WSHandler {
	return handlers.NewWSHandler(log, h)
}

type serverParams struct {
	fx.In
	Logger   *slog.Logger
	Config   config.Config
	Handlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.New(params.Logger, params.Config.Server.Addr, params.Config.Auth.JWTSecret, params.Handlers)
}

// eventRelay breaks the construction cycle between the ingestion engine and
// the gateway: the engine publishes into the relay at build time, the actual
// fan-out target is installed once both ends exist.
type eventRelay struct {
	mu   sync.RWMutex
	emit bridge.EmitFunc
}

func newEventRelay() *eventRelay {
	return &eventRelay{}
}

func (r *eventRelay) Emit(ev bridge.Event) {
	r.mu.RLock()
	emit := r.emit
	r.mu.RUnlock()
	if emit != nil {
		emit(ev)
	}
}

func (r *eventRelay) Set(emit bridge.EmitFunc) {
	r.mu.Lock()
	r.emit = emit
	r.mu.Unlock()
}

func wireEvents(relay *eventRelay, gw *gateway.Gateway, h *hub.Hub, engine *ingest.Engine, sessions *session.Manager) {
	relay.Set(func(ev bridge.Event) {
		gw.ObserveInbound(ev)
		h.Publish(ev)
	})
	h.SetActivityListener(engine)
	sessions.SetNotifier(h.Publish)
}

func startBridge(lc fx.Lifecycle, log *slog.Logger, sessions *session.Manager, engine *ingest.Engine, cfg config.Config) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				sessions.RestoreAll(ctx)
				loginWithConfiguredToken(ctx, log, sessions, cfg)
				engine.Start(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			engine.Stop()
			sessions.PersistAll(stopCtx)
			return nil
		},
	})
}

// loginWithConfiguredToken brings up token-flow providers whose credential is
// present in the config and no stored session took precedence.
func loginWithConfiguredToken(ctx context.Context, log *slog.Logger, sessions *session.Manager, cfg config.Config) {
	if cfg.Slack.Token == "" {
		return
	}
	state := sessions.State(slack.Type)
	if state == bridge.StateReady {
		return
	}
	if _, err := sessions.Login(ctx, slack.Type, bridge.Credentials{Token: cfg.Slack.Token}); err != nil {
		log.Warn("configured slack token rejected", slog.Any("error", err))
	}
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("server starting", slog.String("addr", cfg.Server.Addr))
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
