package routes

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/cppla/filededup/config"
	"github.com/cppla/filededup/controllers"
	"github.com/cppla/filededup/middleware"
	"github.com/cppla/filededup/utils"
)

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(cfg config.AppConfig, db *gorm.DB, files *controllers.FileController) *gin.Engine {
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	// Request log goes to its own rolling file
	gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
	if err == nil {
		r.Use(utils.Ginzap(gl, time.RFC3339, true))
		r.Use(utils.RecoveryWithZap(gl, false))
	} else {
		utils.Sugar.Warnf("gin logger init failed, using default recovery: %v", err)
		r.Use(gin.Recovery())
	}
	r.Use(middleware.RequestID())
	r.Use(middleware.Metrics())

	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type", "X-Request-ID"},
		ExposeHeaders: []string{"Content-Length", "Content-Disposition", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
		corsCfg.AllowCredentials = true
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(ctx *gin.Context) {
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(ctx.Request.Context()) != nil {
			utils.Error(ctx, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		utils.Success(ctx, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limiter := middleware.NewIPRateLimiter(cfg.RateLimitPerMinute)

	r.POST("/upload", files.Upload)
	r.POST("/download_by_name", files.DownloadByName)
	r.POST("/download_from_url", limiter.Middleware(), files.DownloadFromURL)
	r.GET("/get_files", files.GetFiles)

	frontend := cfg.FrontendDir
	r.GET("/", func(ctx *gin.Context) {
		serveFrontend(ctx, frontend, "index.html")
	})

	r.NoRoute(func(ctx *gin.Context) {
		if ctx.Request.Method != http.MethodGet && ctx.Request.Method != http.MethodHead {
			utils.Error(ctx, http.StatusNotFound, "route not found")
			return
		}
		serveFrontend(ctx, frontend, ctx.Request.URL.Path)
	})

	return r
}

// serveFrontend serves a file from dir; the request path is cleaned so it cannot leave dir.
func serveFrontend(ctx *gin.Context, dir, name string) {
	if dir == "" {
		utils.Error(ctx, http.StatusNotFound, "route not found")
		return
	}
	clean := path.Clean("/" + name)
	if clean == "/" {
		clean = "/index.html"
	}
	full := filepath.Join(dir, filepath.FromSlash(clean))
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		utils.Error(ctx, http.StatusNotFound, "route not found")
		return
	}
	ctx.File(full)
}
