package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/victornm/livequiz/internal/api"
	"github.com/victornm/livequiz/internal/archive"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/game"
	"github.com/victornm/livequiz/internal/gateway"
	"github.com/victornm/livequiz/internal/hub"
	"github.com/victornm/livequiz/internal/leaderboard"
	"github.com/victornm/livequiz/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
		// AllowedOrigins applies to both CORS and websocket upgrades, "*" allows any origin.
		AllowedOrigins []string
		JoinURL        string
	}

	GRPC struct {
		Port int32
	}

	Log struct {
		Level string
	}

	Game struct {
		TimeLimit     int
		FinishedTTL   time.Duration
		IdleTTL       time.Duration
		SweepInterval time.Duration
	}

	WS struct {
		WriteTimeout   time.Duration
		ReadTimeout    time.Duration
		PingInterval   time.Duration
		MaxMessageSize int64
		SendBufferSize int
	}

	// Redis and Postgres sections are optional, an empty address disables the feature.
	Redis struct {
		Leaderboard struct {
			Addrs     []string
			Pass      string
			Prefix    string
			Retention time.Duration
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Archive struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}
}

// DefaultConfig returns the values used for keys missing from the config file.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.GRPC.Port = 9090
	c.Log.Level = "info"

	c.Game.TimeLimit = 20
	c.Game.FinishedTTL = 30 * time.Minute
	c.Game.IdleTTL = 2 * time.Hour
	c.Game.SweepInterval = time.Minute

	d := hub.DefaultConfig()
	c.WS.WriteTimeout = d.WriteTimeout
	c.WS.ReadTimeout = d.ReadTimeout
	c.WS.PingInterval = d.PingInterval
	c.WS.MaxMessageSize = d.MaxMessageSize
	c.WS.SendBufferSize = d.SendBufferSize

	c.Redis.Leaderboard.Prefix = "livequiz"
	c.Redis.Leaderboard.Retention = time.Hour
	c.Redis.Pubsub.Prefix = "livequiz"
	return c
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
		}

		postgres struct {
			archive *pgxpool.Pool
		}
	}

	service struct {
		registry    *game.Registry
		hub         *hub.Hub
		gateway     *gateway.Gateway
		leaderboard *leaderboard.Service
		archive     *archive.Service
	}

	http   *http.Server
	grpc   *grpc.Server
	health *health.Server

	// ctx scopes background workers, stop cancels it on shutdown.
	ctx  context.Context
	stop context.CancelFunc
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}
	s.ctx, s.stop = context.WithCancel(context.Background())

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		if len(addrs) == 0 {
			return nil, nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.leaderboard, err = connect(s.c.Redis.Leaderboard.Addrs, s.c.Redis.Leaderboard.Pass)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() (err error) {
	connect := func(addr, user, pass, name string) (*pgxpool.Pool, error) {
		if addr == "" {
			return nil, nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", user, pass, addr, name))
		if err != nil {
			return nil, err
		}

		db, err := pgxpool.NewWithConfig(ctx, cc)
		if err != nil {
			return nil, err
		}

		if err := db.Ping(ctx); err != nil {
			return nil, err
		}

		return db, nil
	}

	a := s.c.Postgres.Archive
	s.infra.postgres.archive, err = connect(a.Addr, a.User, a.Pass, a.Name)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}

	return nil
}

func (s *Server) initService() {
	s.service.registry = game.NewRegistry(game.Config{
		EventBus:    s.eb,
		TimeLimit:   s.c.Game.TimeLimit,
		FinishedTTL: s.c.Game.FinishedTTL,
		IdleTTL:     s.c.Game.IdleTTL,
	})

	s.service.hub = hub.New(hub.Config{
		WriteTimeout:   s.c.WS.WriteTimeout,
		ReadTimeout:    s.c.WS.ReadTimeout,
		PingInterval:   s.c.WS.PingInterval,
		MaxMessageSize: s.c.WS.MaxMessageSize,
		SendBufferSize: s.c.WS.SendBufferSize,
		CheckOrigin:    checkOrigin(s.c.HTTP.AllowedOrigins),
	})

	s.service.gateway = gateway.New(gateway.Config{
		Registry: s.service.registry,
		Bus:      s.service.hub,
		EventBus: s.eb,
	})

	if s.infra.redis.leaderboard != nil {
		s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
			EventBus:  s.eb,
			Redis:     s.infra.redis.leaderboard,
			Prefix:    s.c.Redis.Leaderboard.Prefix,
			Retention: s.c.Redis.Leaderboard.Retention,
		})
	}

	if s.infra.postgres.archive != nil {
		s.service.archive = archive.NewService(archive.Config{
			DB:       s.infra.postgres.archive,
			EventBus: s.eb,
		})
	}

	telemetry.RegisterGameMetrics(s.eb, telemetry.GaugeFuncs{
		Sessions:    s.service.registry.Len,
		Connections: s.service.hub.Connections,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptors()...)
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)

	c := api.Config{
		Engine:       e,
		EventBus:     s.eb,
		Registry:     s.service.registry,
		Hub:          s.service.hub,
		Gateway:      s.service.gateway,
		JoinURL:      s.c.HTTP.JoinURL,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
	}
	// Nil pointers must not leak into the interfaces.
	if s.service.archive != nil {
		c.Archive = s.service.archive
	}
	if s.infra.redis.pubsub != nil {
		c.Redis = s.infra.redis.pubsub
	}
	api.New(c)

	var h http.Handler = e
	if len(s.c.HTTP.AllowedOrigins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins: s.c.HTTP.AllowedOrigins,
			AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"*"},
		}).Handler(e)
	}

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           h,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := s.ctx

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		s.service.registry.Run(ctx, s.c.Game.SweepInterval)
		return nil
	})

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.health.Shutdown()
	s.stop()

	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	// Websocket connections are hijacked, http.Server.Shutdown leaves them open.
	s.service.hub.Close()
	s.eb.Stop()

	for _, r := range []redis.UniversalClient{s.infra.redis.leaderboard, s.infra.redis.pubsub} {
		if r != nil {
			_ = r.Close()
		}
	}
	if s.infra.postgres.archive != nil {
		s.infra.postgres.archive.Close()
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}

// checkOrigin allows the listed origins, "*" allows any. No list keeps the same-origin check.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
	}
}
