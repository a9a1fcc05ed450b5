package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/melodia/backend/config"
	"github.com/melodia/backend/controllers"
	"github.com/melodia/backend/middleware"
	"github.com/melodia/backend/sweeper"
	"github.com/melodia/backend/utils"
)

// Registrar adds a feature's handlers to its route group.
type Registrar func(g *gin.RouterGroup)

// Registrars holds the handlers of the six API groups. A nil entry mounts an empty group.
type Registrars struct {
	Users  Registrar
	Auth   Registrar
	Admin  Registrar
	Songs  Registrar
	Albums Registrar
	Stats  Registrar
}

// Deps are the collaborators the router wires together. Everything except Config is optional.
type Deps struct {
	Config  config.AppConfig
	DB      *gorm.DB
	Sweeper *sweeper.Sweeper
	Metrics http.Handler
	Routes  Registrars
}

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(d Deps) *gin.Engine {
	cfg := d.Config
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	// Replace default console logger with file-based zap logger
	gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
	if err != nil {
		gl = utils.Logger.Named("gin")
	}
	r.Use(utils.Ginzap(gl, time.RFC3339, true))
	r.Use(utils.RecoveryWithZap(gl, true))
	r.Use(middleware.ErrorHandler(cfg.IsProduction()))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.Use(middleware.BodyLimit(cfg.BodyLimitBytes))
	r.Use(middleware.AttachAuth(cfg.JWTSecret))

	health := controllers.NewHealthController(d.DB, d.Sweeper)
	r.GET("/health", health.GetHealth)
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}

	api := r.Group("/api")
	// Group middleware only runs for matched routes, so unknown paths and
	// rate-limited callers never reach the disk. Uploads land in the
	// directory the sweeper reclaims.
	api.Use(middleware.RateLimitMiddleware(cfg.RateLimitPerMinute))
	api.Use(middleware.FileUpload(cfg.TempDir, cfg.UploadMaxBytes, cfg.UploadMaxFiles))
	mount(api, "/users", d.Routes.Users)
	mount(api, "/auth", d.Routes.Auth)
	mount(api, "/admin", d.Routes.Admin)
	mount(api, "/songs", d.Routes.Songs)
	mount(api, "/albums", d.Routes.Albums)
	mount(api, "/stats", d.Routes.Stats)

	r.NoRoute(controllers.NotFound)
	return r
}

func mount(api *gin.RouterGroup, path string, register Registrar) {
	g := api.Group(path)
	if register != nil {
		register(g)
	}
}
