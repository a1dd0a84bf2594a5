// Package validation wraps go-playground/validator so that failures are
// reported with JSON field paths.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/krishamaze/arin-bot-v2/pkg/models"
)

// FieldError is one failing field.
type FieldError struct {
	Path    string `json:"path"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// New returns a validator that names fields by their json tag and knows the
// cross-field rules of the response types.
func New() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		r := sl.Current().Interface().(models.BotReply)
		if r.Strategy == models.StrategyObserve && len(r.Messages) > 0 {
			sl.ReportError(r.Messages, "messages", "Messages", "empty_on_observe", "")
		}
	}, models.BotReply{})
	return v
}

// Fields flattens a validator error into FieldErrors. Other errors yield nil.
func Fields(err error) []FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		path := fe.Namespace()
		if _, rest, ok := strings.Cut(path, "."); ok {
			path = rest
		}
		out = append(out, FieldError{Path: path, Rule: fe.Tag(), Message: message(fe)})
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "uuid", "uuid4":
		return "must be a valid UUID"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "startswith":
		return fmt.Sprintf("must start with %q", fe.Param())
	case "required_without_all":
		return "is required when " + fe.Param() + " are absent"
	case "empty_on_observe":
		return "must be empty when strategy is OBSERVE"
	}
	return "failed " + fe.Tag() + " validation"
}
