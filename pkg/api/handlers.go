package api

import (
	"errors"
	"math"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/krishamaze/arin-bot-v2/pkg/budget"
	"github.com/krishamaze/arin-bot-v2/pkg/models"
	"github.com/krishamaze/arin-bot-v2/pkg/validation"
	"github.com/krishamaze/arin-bot-v2/pkg/wingman"
)

// requireJSON rejects request bodies that are not declared as JSON.
func requireJSON(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		mt, _, err := mime.ParseMediaType(c.Request().Header.Get(echo.HeaderContentType))
		if err != nil || mt != echo.MIMEApplicationJSON {
			return c.JSON(http.StatusBadRequest, echo.Map{
				"error":   "Invalid content type",
				"message": "Content-Type must be application/json",
			})
		}
		return next(c)
	}
}

func methodNotAllowed(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderAllow, "POST, OPTIONS")
	return c.JSON(http.StatusMethodNotAllowed, echo.Map{
		"error":              "Method not allowed",
		"message":            "This endpoint only accepts POST requests",
		"method":             c.Request().Method,
		"availableEndpoints": []string{"/init", "/"},
	})
}

// decode binds and validates a request body. On failure the error response
// has been written and ok is false.
func decode(c echo.Context, dst any) (ok bool, err error) {
	if err := (&echo.DefaultBinder{}).BindBody(c, dst); err != nil {
		return false, c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid JSON", "message": bindMessage(err)})
	}
	if err := c.Validate(dst); err != nil {
		details := validation.Fields(err)
		if details == nil {
			return false, err
		}
		return false, c.JSON(http.StatusBadRequest, echo.Map{"error": "Validation failed", "details": details})
	}
	return true, nil
}

func bindMessage(err error) string {
	var he *echo.HTTPError
	if errors.As(err, &he) && he.Internal != nil {
		return he.Internal.Error()
	}
	return err.Error()
}

// fail maps service errors onto status codes.
func fail(c echo.Context, err error) error {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, wingman.ErrNoTarget),
		errors.Is(err, wingman.ErrInvalidRule),
		errors.Is(err, wingman.ErrNoEvents):
		code = http.StatusBadRequest
	case errors.Is(err, wingman.ErrConversationNotFound),
		errors.Is(err, wingman.ErrSuggestionNotFound),
		errors.Is(err, wingman.ErrUserNotFound),
		errors.Is(err, wingman.ErrProfileNotFound):
		code = http.StatusNotFound
	case errors.Is(err, budget.ErrBudgetExceeded):
		code = http.StatusTooManyRequests
		var exceeded *budget.ExceededError
		if errors.As(err, &exceeded) {
			secs := int(math.Ceil(exceeded.RetryAfter(time.Now()).Seconds()))
			c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
		}
	}
	if code == http.StatusInternalServerError {
		return err
	}
	return c.JSON(code, echo.Map{"error": err.Error()})
}

func (s *Server) initConversation(c echo.Context) error {
	var req wingman.InitRequest
	if ok, err := decode(c, &req); !ok {
		return err
	}
	res, err := s.svc.Init(c.Request().Context(), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) analyze(c echo.Context) error {
	var req wingman.AnalyzeRequest
	if ok, err := decode(c, &req); !ok {
		return err
	}
	res, err := s.svc.Analyze(c.Request().Context(), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) chat(c echo.Context) error {
	var req wingman.ChatRequest
	if ok, err := decode(c, &req); !ok {
		return err
	}
	res, err := s.svc.Chat(c.Request().Context(), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) feedback(c echo.Context) error {
	var req models.Feedback
	if ok, err := decode(c, &req); !ok {
		return err
	}
	res, err := s.svc.Feedback(c.Request().Context(), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) profiles(c echo.Context) error {
	userID := c.QueryParam("userId")
	if userID == "" {
		return missingParam(c, "userId")
	}
	res, err := s.svc.Profiles(c.Request().Context(), userID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"profiles": res})
}

func (s *Server) saveProfile(c echo.Context) error {
	var req wingman.ProfileRequest
	if ok, err := decode(c, &req); !ok {
		return err
	}
	res, err := s.svc.SaveProfile(c.Request().Context(), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) deleteProfile(c echo.Context) error {
	id := c.QueryParam("profileId")
	if id == "" {
		return missingParam(c, "profileId")
	}
	if err := s.svc.DeleteProfile(c.Request().Context(), id); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}

func missingParam(c echo.Context, name string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{
		"error":   "Validation failed",
		"details": []validation.FieldError{{Path: name, Rule: "required", Message: "is required"}},
	})
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) stats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.svc.Status())
}
