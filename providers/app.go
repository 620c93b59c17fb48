package providers

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/video2commons/relay/config"
	"github.com/video2commons/relay/src/backend"
	"github.com/video2commons/relay/src/feed"
	"github.com/video2commons/relay/src/hub"
	"github.com/video2commons/relay/src/service"
	"github.com/video2commons/relay/src/session"
)

// App assembles the relay process: Redis clients, hub, session validator,
// feed listener, dispatcher and the HTTP/WebSocket server.
type App struct {
	cfg      *config.Config
	logger   zerolog.Logger
	hub      *hub.Hub
	service  *service.Service
	listener *feed.Listener

	sessions   *redis.Client
	subscriber *redis.Client
	server     *fasthttp.Server
}

// NewApp builds the full object graph. Nothing is started yet.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	sessions := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.SessionDB,
	})
	// Keyspace notification channels are instance-global; the subscriber's
	// selected database does not matter, only the parsed channel name does.
	subscriber := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})

	h := hub.New(logger)
	api := backend.New(cfg.WebURL, cfg.SessionCookie, cfg.FetchTimeout, logger)
	validator := session.NewValidator(
		session.NewRedisKV(sessions), api,
		cfg.IOSessionPrefix, cfg.SessionPrefix, logger)
	listener := feed.NewListener(subscriber, feed.Parser{
		KeyspaceDB:      cfg.KeyspaceDB,
		ResultKeyPrefix: cfg.ResultKeyPrefix,
		NotifPrefix:     cfg.NotifPrefix,
	}, logger)
	svc := service.New(h, validator, listener, api, logger)

	app := &App{
		cfg:        cfg,
		logger:     logger,
		hub:        h,
		service:    svc,
		listener:   listener,
		sessions:   sessions,
		subscriber: subscriber,
	}
	app.server = &fasthttp.Server{
		Handler: app.requestHandler(),
		Name:    "v2c-relay",
	}
	return app
}

// Start launches the relay service and serves until the listener fails or
// Stop is called.
func (a *App) Start() error {
	if err := a.service.Start(); err != nil {
		return fmt.Errorf("start relay service: %w", err)
	}

	addr := fmt.Sprintf(":%d", a.cfg.Port)
	a.logger.Info().Str("addr", addr).Msg("listening")
	if err := a.server.ListenAndServe(addr); err != nil {
		return fmt.Errorf("serve %s: %w", addr, err)
	}
	return nil
}

// Stop shuts the server down, then the service and both Redis clients.
func (a *App) Stop() {
	if err := a.server.Shutdown(); err != nil {
		a.logger.Error().Err(err).Msg("server shutdown")
	}
	a.service.Stop()
	if err := a.subscriber.Close(); err != nil {
		a.logger.Error().Err(err).Msg("subscriber close")
	}
	if err := a.sessions.Close(); err != nil {
		a.logger.Error().Err(err).Msg("session client close")
	}
}
