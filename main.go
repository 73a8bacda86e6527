package main

import (
	"context"
	"net/http"
	"time"

	"github.com/cppla/filededup/config"
	"github.com/cppla/filededup/controllers"
	"github.com/cppla/filededup/models"
	"github.com/cppla/filededup/routes"
	"github.com/cppla/filededup/services"
	"github.com/cppla/filededup/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}
	defer func() { _ = utils.Logger.Sync() }()

	db, err := config.InitDatabase(cfg, models.All()...)
	if err != nil {
		utils.Sugar.Fatalf("database init failed: %v", err)
	}

	store, err := services.NewDiskStore(cfg.UploadDir)
	if err != nil {
		utils.Sugar.Fatalf("storage init failed: %v", err)
	}

	rc := utils.NewRedisClient(cfg)
	cache := utils.NewCache(rc, time.Duration(cfg.ListCacheSec)*time.Second)

	fetcher := services.NewFetcher(&http.Client{}, cfg.FetchUserAgent, cfg.FetchTimeout())
	files := controllers.NewFileController(services.NewRegistry(db), store, fetcher, cache, cfg)

	r := routes.SetupRouter(cfg, db, files)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Abandoned temp files from interrupted transfers
	utils.StartCleaner(ctx, "temp", 10*time.Minute, func() (int, error) {
		return store.SweepTemp(cfg.TempMaxAge())
	})

	utils.Sugar.Infof("Starting server on port %s (graceful)", cfg.AppPort)
	if err := utils.GraceServer(":"+cfg.AppPort, r, cfg.FetchTimeout()); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
