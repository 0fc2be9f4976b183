package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/analysis"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/api"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/auth"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/config"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/metrics"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/ownerlock"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/redis"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/report"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/service/account"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/service/dataset"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/storage"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/worker"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("load .env: %v", err)
	}
	cfgPath := os.Getenv("EQUIPVIZ_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("EQUIPVIZ_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	// Create necessary tables: users, user_tokens, datasets, dataset_summaries, equipment_metrics
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	var rdb *redis.Client
	locker := ownerlock.Chain{ownerlock.NewLocal()}
	if cfg.Redis.Enabled {
		rdb, err = redis.NewRedisClient(cfg)
		if err != nil {
			log.Fatalf("create redis client: %v", err)
		}
		defer rdb.Close()
		locker = append(locker, ownerlock.NewRedis(rdb, 0))
	}

	m := metrics.New()
	workerCfg := worker.DispatcherConfig{
		MinWorkers:        cfg.BasicConfig.MinWorkers,
		MaxWorkers:        cfg.BasicConfig.MaxWorkers,
		QueueSize:         cfg.BasicConfig.QueueSize,
		WorkerIdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Minute,
	}
	workers := worker.NewManager(workerCfg)
	defer workers.Close()

	extractor := analysis.NewEquipmentExtractor(
		analysis.NewAnalyzer(analysis.NewInferencer(cfg.Analysis.NumericDetectionThreshold)),
		analysis.NewResolver(analysis.RoleSpecsWithOverrides(cfg.Analysis.RoleAliases)),
	)
	store := dataset.NewStore(db, dbType)
	history := dataset.NewHistoryManager(db, dbType, cfg.Analysis.RetentionLimit, locker, m)
	analysisTimeout := time.Duration(cfg.BasicConfig.AnalysisTimeout) * time.Second
	pipeline := dataset.NewPipeline(store, history, extractor, workers, m, analysisTimeout)

	reports := report.NewService(store, rdb, time.Duration(cfg.BasicConfig.ReportCacheMinutes)*time.Minute, m)
	history.OnEvict(reports.Invalidate)

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	sweeper := dataset.NewSweeper(store, analysisTimeout, time.Duration(cfg.BasicConfig.FailedRetentionMinutes)*time.Minute)
	sweeper.Start(sweepCtx, time.Duration(cfg.BasicConfig.SweepInterval)*time.Minute)

	authService := auth.NewService(db, rdb, time.Duration(cfg.BasicConfig.TokenTTLHours)*time.Hour)
	handlers := api.NewHandler(account.NewService(db), authService, pipeline, reports, workers, m, cfg.BasicConfig.MaxUploadBytes)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
