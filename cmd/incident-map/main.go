package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/nitesh/incident_map/internal/api"
	"github.com/nitesh/incident_map/internal/classify"
	"github.com/nitesh/incident_map/internal/config"
	"github.com/nitesh/incident_map/internal/llm"
	"github.com/nitesh/incident_map/internal/service"
	"github.com/nitesh/incident_map/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default ./config/config.yaml)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := cfg.Log.NewLogger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}

	db, err := openDB(cfg.Postgres, logger)
	if err != nil {
		logger.WithError(err).Fatal("could not connect to db")
	}
	defer db.Close()

	// ensure tables exist (run migrations)
	if err := store.RunMigrations(db); err != nil {
		logger.WithError(err).Fatal("migrations")
	}
	repo := store.NewPgStore(db)

	rules, err := classify.LoadConfigured(cfg.Classifier.RulesFile, cfg.Classifier.Disabled)
	if err != nil {
		logger.WithError(err).Fatal("load rule table")
	}
	logger.WithFields(logrus.Fields{"rules": rules.Len(), "file": cfg.Classifier.RulesFile}).Info("rule table loaded")

	var cache service.Cache
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.WithError(err).Fatal("redis url")
		}
		rdb := redis.NewClient(opt)
		defer rdb.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("redis ping failed")
		}
		cancel()
		cache = service.NewRedisCache(rdb)
	}

	var summarizer service.Summarizer
	if cfg.LLM.URL != "" {
		client := llm.NewClient(cfg.LLM.URL, cfg.LLM.Model, &http.Client{Timeout: cfg.LLM.Timeout})
		client.SetLogger(logger)
		summarizer = client
		logger.WithField("model", client.Model()).Info("llm summaries enabled")
	}

	svc := service.NewService(repo, cache, summarizer, rules, service.Options{
		DefaultRadiusKm: cfg.Clustering.DefaultRadiusKm,
		MaxRadiusKm:     cfg.Clustering.MaxRadiusKm,
		DefaultHours:    cfg.Clustering.DefaultHours,
		CacheTTL:        cfg.Redis.CacheTTL,
		PPUThreshold:    cfg.PPU.Threshold,
		PPUProximityKm:  cfg.PPU.ProximityKm,
		PPUWindowHours:  cfg.PPU.WindowHours,
	}, logger)
	handler := api.NewHandler(svc, logger)

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))
	if cfg.Server.Pprof {
		pprof.Register(router)
	}
	api.RegisterRoutes(router, handler)

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.WithField("addr", srv.Addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("shutdown")
	}
}

// openDB opens the pool and waits for the database; it may still be starting
// under docker compose.
func openDB(cfg config.PostgresConfig, logger *logrus.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	attempts := max(cfg.ConnectRetries, 1)
	for i := 0; i < attempts; i++ {
		if err = db.Ping(); err == nil {
			return db, nil
		}
		logger.WithError(err).WithField("attempt", i+1).Warn("waiting for db")
		time.Sleep(2 * time.Second)
	}
	db.Close()
	return nil, err
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
		}).Debug("request")
	}
}
