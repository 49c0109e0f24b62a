package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	_ "live-polling/docs"
	"live-polling/internal/config"
	"live-polling/internal/domain/auth"
	"live-polling/internal/domain/poll"
	"live-polling/internal/domain/vote"
	api "live-polling/internal/http"
	"live-polling/internal/metrics"
	"live-polling/internal/platform/database"
	jwtpkg "live-polling/internal/platform/jwt"
	"live-polling/internal/platform/logger"
	"live-polling/internal/realtime"
	"live-polling/internal/repository/memory"
	"live-polling/internal/repository/postgres"
	"live-polling/internal/session"
	"live-polling/internal/worker"
)

type store struct {
	polls poll.Repository
	votes vote.Repository
	ping  api.Pinger
	close func()
}

// @title           Live Polling API
// @version         1.0
// @description     Read surface of the classroom live-polling service. Voting happens over the /ws websocket.
// @BasePath        /
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Env)
	slog.SetDefault(log)
	api.SetLogger(log)
	metrics.Register()
	rec := metrics.Recorder{}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("store unavailable", "store", cfg.Store, "error", err)
		os.Exit(1)
	}
	defer st.close()

	pollSvc := poll.NewService(st.polls, log.With("component", "poll"))
	pollSvc.SetMetrics(rec)

	voteCh := make(chan vote.Event, 256)
	voteSvc := vote.NewService(st.votes, pollSvc, log.With("component", "vote"))
	voteSvc.SetMetrics(rec)
	voteSvc.SetEvents(voteCh)
	statsWorker := worker.NewStatsWorker(voteCh, rec, log.With("component", "stats"))

	jwtMgr := jwtpkg.NewManager(cfg.JWTSecret, "")
	authSvc := auth.NewService(cfg.TeacherPassHash, jwtMgr)
	if !authSvc.Enabled() {
		log.Warn("TEACHER_PASSCODE_HASH not set, anyone can join as teacher")
	}

	registry := session.NewRegistry()
	hub := realtime.NewHub(registry, log.With("component", "hub"))
	pollSvc.SetNotifier(hub)

	dispatcher := realtime.NewDispatcher(hub, registry, pollSvc, voteSvc, log.With("component", "ws"))
	dispatcher.SetAuth(authSvc)
	dispatcher.SetMetrics(rec)
	dispatcher.SetTimeout(cfg.StoreTimeout)

	corsMw := cors.New(cors.Options{
		AllowedOrigins:   cfg.ClientURLs,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	wsCtx, cancelWS := context.WithCancel(context.Background())
	defer cancelWS()
	wsServer := realtime.NewServer(wsCtx, hub, dispatcher, corsMw, realtime.Options{
		EventRate:  cfg.WSEventRate,
		EventBurst: cfg.WSEventBurst,
	}, log.With("component", "ws"))

	resumeCtx, cancelResume := context.WithTimeout(ctx, cfg.StoreTimeout)
	if err := pollSvc.Resume(resumeCtx); err != nil {
		// reads complete an overdue poll lazily
		log.Error("could not resume active poll", "error", err)
	}
	cancelResume()

	router := api.NewRouter(pollSvc, authSvc, st.ping, wsServer, corsMw, cfg.HistoryLimit)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	workerCtx, cancelWorker := context.WithCancel(context.Background())
	defer cancelWorker()
	go statsWorker.Run(workerCtx)

	go func() {
		log.Info("server listening", "port", cfg.Port, "store", cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", "error", err)
	}
	pollSvc.Close()
	hub.Close()
	cancelWS()
	registry.Close()
	cancelWorker()

	log.Info("server stopped")
}

func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (store, error) {
	if cfg.Store == config.StoreMemory {
		log.Warn("using in-memory store, state is lost on restart")
		m := memory.NewStore()
		return store{polls: m, votes: m, ping: m, close: func() {}}, nil
	}

	db, err := database.NewPostgres(ctx, cfg.DB_DSN)
	if err != nil {
		return store{}, err
	}
	if err := database.Migrate(cfg.DB_DSN); err != nil {
		_ = db.Close()
		return store{}, err
	}

	pollRepo := postgres.NewPollRepo(db)
	return store{
		polls: pollRepo,
		votes: postgres.NewVoteRepo(db),
		ping:  pollRepo,
		close: func() { _ = db.Close() },
	}, nil
}
