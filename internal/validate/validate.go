// Package validate holds the shared struct validator for config, API
// payloads and store inputs.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/socialrelay/socialrelay/internal/core"
)

var (
	once     sync.Once
	instance *validator.Validate
)

// Get returns the process-wide validator with custom tags registered.
func Get() *validator.Validate {
	once.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		_ = v.RegisterValidation("platform", validatePlatform)
		v.RegisterTagNameFunc(fieldName)
		instance = v
	})
	return instance
}

// Struct validates s using its tags.
func Struct(s any) error {
	return Get().Struct(s)
}

// Fields flattens validation errors into field -> message. Anything that is
// not a validator error is reported under "error".
func Fields(err error) map[string]string {
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return map[string]string{"error": err.Error()}
	}

	out := make(map[string]string, len(validationErrors))
	for _, e := range validationErrors {
		field := strings.TrimPrefix(e.Namespace(), rootName(e))
		field = strings.TrimPrefix(field, ".")
		if field == "" {
			field = e.Field()
		}
		out[field] = message(e)
	}
	return out
}

// Summary renders validation errors as a single sorted-by-field line.
func Summary(err error) string {
	fields := Fields(err)
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+fields[k])
	}
	return strings.Join(parts, "; ")
}

func message(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required"
	case "platform":
		return "Invalid platform"
	case "oneof":
		return fmt.Sprintf("Must be one of: %s", e.Param())
	case "min", "gte":
		return fmt.Sprintf("Must be at least %s", e.Param())
	case "max", "lte":
		return fmt.Sprintf("Must be at most %s", e.Param())
	case "url", "http_url":
		return "Must be a valid URL"
	default:
		return "Invalid value"
	}
}

func validatePlatform(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	return core.Platform(strings.ToLower(value)).Valid()
}

// fieldName reports json (then mapstructure) names so messages match the
// payload or config key the caller wrote.
func fieldName(f reflect.StructField) string {
	for _, tag := range []string{"json", "mapstructure"} {
		name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return f.Name
}

func rootName(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[:i]
	}
	return ns
}
