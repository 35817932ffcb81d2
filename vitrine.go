// Package vitrine is a small gallery/CMS backend: posts with role-tagged
// images served from a SQLite store and a local upload directory, plus a
// rate-limited contact form that mails submissions to the site owner.
//
// Creation is a staged pipeline: uploaded files are written to a temporary
// per-post directory, the post and image rows are committed in one
// transaction, and only then is the directory promoted into the public
// upload tree. Database state never references files that could not be
// staged.
package vitrine

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
)

// App wires together the store, stager, finalizer, cache, auth, and mail
// components and owns the Echo instance.
type App struct {
	cfg   Config
	log   zerolog.Logger
	echo  *echo.Echo
	store *Store
	cache *PostCache

	stager    *Stager
	finalizer *Finalizer
	verifier  TokenVerifier
	mailer    Mailer
	validate  *validator.Validate
	sanitizer *bluemonday.Policy

	formLimiter  *RateLimiter
	loginLimiter *RateLimiter
}

// New builds an App from config. The store is opened (and the schema
// migrated) here so construction fails fast on a broken database path.
func New(cfg Config, log zerolog.Logger) (*App, error) {
	store, err := NewStore(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:          cfg,
		log:          log,
		echo:         echo.New(),
		store:        store,
		cache:        NewPostCache(store, 5*time.Minute),
		stager:       NewStager(cfg.UploadDir, cfg.MaxFileSize, cfg.MaxExtraFiles),
		finalizer:    NewFinalizer(cfg.UploadDir),
		verifier:     NewTokenVerifier(cfg),
		mailer:       NewMailer(cfg, log),
		validate:     validator.New(),
		sanitizer:    bluemonday.StrictPolicy(),
		formLimiter:  NewRateLimiter(cfg.FormRateMax, cfg.FormRateWindow),
		loginLimiter: NewRateLimiter(5, time.Minute),
	}

	a.echo.HideBanner = true
	a.setupMiddleware()
	a.setupRoutes()
	return a, nil
}

func (a *App) setupMiddleware() {
	e := a.echo

	e.IPExtractor = echo.ExtractIPFromXFFHeader(
		echo.TrustLoopback(true),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(true),
	)

	e.HTTPErrorHandler = a.httpErrorHandler

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			a.log.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}))

	e.Use(middleware.BodyLimit("64M"))

	e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level: 5,
		Skipper: func(c echo.Context) bool {
			return strings.HasPrefix(c.Request().URL.Path, "/public/")
		},
	}))

	// Staged files are not public until promoted.
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if strings.Contains(c.Request().URL.Path, "/.staging") {
				return echo.ErrNotFound
			}
			return next(c)
		}
	})

	e.Use(cacheControlMiddleware)
}

func (a *App) setupRoutes() {
	e := a.echo

	e.Static("/public/uploads", a.cfg.UploadDir)
	e.GET("/healthz", a.handleHealth)

	posts := e.Group("/api/posts")
	posts.POST("/new-post", a.handleCreatePost)
	posts.GET("/get-all", a.handleGetAll)
	posts.GET("/get-all-simple", a.handleGetAllSimple)
	posts.GET("/get/:id", a.handleGetPost)
	posts.GET("/search", a.handleSearch)
	posts.DELETE("/delete/:postid", a.handleDeletePost, requireAuth(a.verifier))
	posts.PATCH("/edit/:postid", a.handleEditPost, requireAuth(a.verifier))

	e.POST("/api/form/data", a.handleContactForm)
	e.POST("/api/admin/login", a.handleAdminLogin)
}

// Start runs the HTTP server until Shutdown is called.
func (a *App) Start() error {
	if err := a.echo.Start(a.cfg.Addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully and closes the store.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.echo.Shutdown(ctx)
	if cerr := a.store.Close(); err == nil {
		err = cerr
	}
	return err
}

// httpErrorHandler maps every unhandled error to a JSON envelope. Internal
// details are logged, never returned.
func (a *App) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if s, ok := he.Message.(string); ok {
			msg = s
		}
	}
	if code == http.StatusNotFound {
		msg = "Not found"
	}
	if code >= 500 {
		a.log.Error().Err(err).Str("uri", c.Request().RequestURI).Msg("server error")
		msg = "Internal server error"
	}
	_ = c.JSON(code, errorResponse{Error: msg})
}

func cacheControlMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		path := c.Request().URL.Path
		switch {
		case strings.HasPrefix(path, "/public/"):
			c.Response().Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		case strings.HasPrefix(path, "/api/"):
			c.Response().Header().Set("Cache-Control", "no-store")
		default:
			c.Response().Header().Set("Cache-Control", "no-cache")
		}
		return next(c)
	}
}
