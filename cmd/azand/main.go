package main

import (
	"context"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/viper"

	"github.com/nadimpalla570/myazan-app/broadcast/feed"
	"github.com/nadimpalla570/myazan-app/broadcast/manager"
	"github.com/nadimpalla570/myazan-app/broadcast/registry"
	"github.com/nadimpalla570/myazan-app/broadcast/service"
	"github.com/nadimpalla570/myazan-app/broadcast/store"
	"github.com/nadimpalla570/myazan-app/broadcast/transport"
	"github.com/nadimpalla570/myazan-app/credential"
	"github.com/nadimpalla570/myazan-app/internal/config"
	"github.com/nadimpalla570/myazan-app/internal/constants"
	"github.com/nadimpalla570/myazan-app/internal/etcd"
	"github.com/nadimpalla570/myazan-app/internal/httputil"
	"github.com/nadimpalla570/myazan-app/internal/jwt"
	"github.com/nadimpalla570/myazan-app/internal/log"
	"github.com/nadimpalla570/myazan-app/internal/otel"
	fredis "github.com/nadimpalla570/myazan-app/internal/redis"
	"github.com/nadimpalla570/myazan-app/internal/workflow"
	"github.com/nadimpalla570/myazan-app/mediatransport"
	wstransport "github.com/nadimpalla570/myazan-app/mediatransport/ws"
)

type Config struct {
	App   config.App      `mapstructure:"app"`
	HTTP  httputil.Config `mapstructure:"http"`
	Etcd  etcd.Config     `mapstructure:"etcd"`
	Redis fredis.Config   `mapstructure:"redis"`
	Otel  otel.Config     `mapstructure:"otel"`

	Broadcast service.Config `mapstructure:"broadcast"`

	SessionPrefix    string `mapstructure:"session_prefix"`
	CredentialSvcURL string `mapstructure:"credential_svc_url"`
	MediaGatewayURL  string `mapstructure:"media_gateway_url"`
	IdentitySecret   string `mapstructure:"identity_secret"`
	ServiceIdentity  string `mapstructure:"service_identity"`
}

func loadConfig() (*Config, error) {
	return config.Load(&Config{}, func(v *viper.Viper) {
		v.SetDefault("session_prefix", constants.DefaultSessionPrefix)
		v.SetDefault("credential_svc_url", "http://tokend:8081")
		v.SetDefault("media_gateway_url", "ws://mediagw:9000/signal")
		v.SetDefault("identity_secret", "")
		v.SetDefault("service_identity", "azand")

		v.SetDefault("broadcast.staleness", "60m")
		v.SetDefault("broadcast.sweep_interval", "5m")

		config.Setup(v, "app")
		etcd.Setup(v, "etcd")
		fredis.Setup(v, "redis")
		otel.Setup(v, "otel")
		httputil.Setup(v, "http")

		v.SetDefault("http.addr", "0.0.0.0:8080")
		v.SetDefault("otel.service_name", "azand")
	})
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration", err)
	}

	logger, err := log.NewLogger(cfg.App.LogConfigFile)
	if err != nil {
		log.Fatal("Failed to create logger", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	otelShutdown, err := otel.Init(ctx, &cfg.Otel, logger)
	if err != nil {
		logger.Fatal("Failed to initialize OTEL provider", log.Error(err))
	}

	logger.Info("Starting broadcast coordinator",
		log.String("addr", cfg.HTTP.Addr),
		log.Any("etcdUrl", cfg.Etcd.Endpoints),
		log.String("sessionPrefix", cfg.SessionPrefix))

	etcdClient, err := etcd.NewClient(&cfg.Etcd)
	if err != nil {
		logger.Fatal("Failed to create etcd client", log.Error(err))
	}
	defer etcdClient.Close()

	redisClient := fredis.NewClient(&cfg.Redis)
	if err := fredis.Ping(redisClient); err != nil {
		logger.Fatal("Failed to reach redis", log.Error(err))
	}
	defer redisClient.Close()

	jwtAuth := jwt.NewAuth(cfg.IdentitySecret)
	serviceToken, err := jwtAuth.Sign(cfg.ServiceIdentity)
	if err != nil {
		logger.Fatal("Failed to sign service identity token", log.Error(err))
	}

	sessionStore := store.NewSessionStore(etcdClient, cfg.SessionPrefix, logger.Module("SessionStore"))
	sessionManager := manager.NewSessionManager(sessionStore, logger.Module("SessionMgr"))
	mux := feed.NewMultiplexer(sessionStore, logger.Module("Feed"))
	reg := registry.NewRegistry(redisClient, logger.Module("Registry"))

	issuer := credential.NewClient(
		cfg.CredentialSvcURL,
		func() (string, error) { return serviceToken, nil },
		logger.Module("CredClient"),
	)

	transportFactory := func() mediatransport.Transport {
		return wstransport.NewClient(cfg.MediaGatewayURL, logger.Module("MediaWS"))
	}

	svc := service.NewBroadcastService(
		sessionManager,
		sessionStore,
		mux,
		reg,
		issuer,
		transportFactory,
		clockwork.NewRealClock(),
		cfg.Broadcast,
		logger.Module("BroadcastSvc"),
	)
	svc.StartHousekeeping(ctx)

	router := transport.NewRouter(svc, jwtAuth, logger.Module("Router"))
	server := httputil.NewServer(&cfg.HTTP, router.Handler())

	go func() {
		logger.Info("Starting HTTP server", log.String("addr", cfg.HTTP.Addr))
		if err := server.Listen(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start HTTP server", log.Error(err))
		}
	}()

	logger.Info("Broadcast coordinator started")

	cleanup := func(ctx context.Context) {
		_ = server.Shutdown(ctx)

		svc.Stop(ctx)
		if err := etcdClient.Close(); err != nil {
			logger.Error("Failed to close etcd client", log.Error(err))
		}
		if err := redisClient.Close(); err != nil {
			logger.Error("Failed to close redis client", log.Error(err))
		}
		if err := otelShutdown(ctx); err != nil {
			logger.Error("Failed to shutdown OTEL", log.Error(err))
		}
	}
	workflow.WaitGracefulShutdown(ctx, logger.Module("CleanUp"), cleanup, cfg.App.ShutdownTimeout)
}
