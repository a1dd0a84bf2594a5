// Package api serves the wingman HTTP interface used by the browser
// extension.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/krishamaze/arin-bot-v2/pkg/config"
	"github.com/krishamaze/arin-bot-v2/pkg/logging"
	"github.com/krishamaze/arin-bot-v2/pkg/models"
	"github.com/krishamaze/arin-bot-v2/pkg/validation"
	"github.com/krishamaze/arin-bot-v2/pkg/wingman"
)

// Service is the wingman behaviour behind the routes. *wingman.Service
// implements it.
type Service interface {
	Init(ctx context.Context, req wingman.InitRequest) (*wingman.InitResponse, error)
	Analyze(ctx context.Context, req wingman.AnalyzeRequest) (*wingman.AnalyzeResponse, error)
	Chat(ctx context.Context, req wingman.ChatRequest) (*models.BotReply, error)
	Feedback(ctx context.Context, f models.Feedback) (*wingman.FeedbackResponse, error)
	Profiles(ctx context.Context, userID string) ([]models.StrategyProfile, error)
	SaveProfile(ctx context.Context, req wingman.ProfileRequest) (*models.StrategyProfile, error)
	DeleteProfile(ctx context.Context, profileID string) error
	Status() wingman.Status
}

// Server is the HTTP front of the wingman service.
type Server struct {
	listen string
	cfg    config.ServerConfig
	svc    Service
	log    *zap.Logger
	echo   *echo.Echo
}

type requestValidator struct {
	v *validator.Validate
}

func (r requestValidator) Validate(i any) error { return r.v.Struct(i) }

// New creates a Server listening on listen.
func New(listen string, cfg config.ServerConfig, svc Service, log *zap.Logger) *Server {
	log = logging.OrNop(log).Named("api")
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = requestValidator{v: validation.New()}
	e.HTTPErrorHandler = errorHandler(log)
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(requestLogger(log))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
		MaxAge:       86400,
	}))
	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}

	s := &Server{listen: listen, cfg: cfg, svc: svc, log: log, echo: e}
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo
	e.GET("/health", s.health)
	e.GET("/stats", s.stats)

	e.POST("/init", s.initConversation, requireJSON)
	e.POST("/", s.analyze, requireJSON)
	e.POST("/chat", s.chat, requireJSON)
	e.POST("/feedback", s.feedback, requireJSON)
	e.POST("/profiles", s.saveProfile, requireJSON)
	e.GET("/profiles", s.profiles)
	e.DELETE("/profiles", s.deleteProfile)

	for _, path := range []string{"/init", "/", "/chat", "/feedback"} {
		e.GET(path, methodNotAllowed)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("wingman listening", zap.String("addr", s.listen))
		errCh <- s.echo.Start(s.listen)
	}()

	select {
	case <-ctx.Done():
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return s.echo.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func requestLogger(base *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			id := c.Response().Header().Get(echo.HeaderXRequestID)
			log := base.With(zap.String("request_id", id))
			req := c.Request()
			ctx := logging.WithRequestID(logging.WithContext(req.Context(), log), id)
			c.SetRequest(req.WithContext(ctx))

			if err := next(c); err != nil {
				c.Error(err)
			}

			log.Info("request",
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Int("status", c.Response().Status),
				zap.Duration("latency", time.Since(start)),
			)
			return nil
		}
	}
}

func errorHandler(log *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			msg = fmt.Sprint(he.Message)
		}
		if code >= http.StatusInternalServerError {
			logging.FromContext(c.Request().Context(), log).Error("request failed", zap.Error(err))
		}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, echo.Map{"error": msg})
		}
		if err != nil {
			log.Warn("write error response", zap.Error(err))
		}
	}
}
