package settings

import (
	"errors"
	"fmt"
	"net/url"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ValidationError reports the settings fields that violate their
// constraints. Field and Constraint describe the first offending field in
// name order; Fields holds all of them.
type ValidationError struct {
	Field      string
	Constraint string
	Fields     map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Constraint)
}

// Validate checks the write-time invariants of the record
func (s WidgetSettings) Validate() error {
	err := validation.ValidateStruct(&s,
		validation.Field(&s.APIServerURL, validation.By(httpURL)),
		validation.Field(&s.UserAvatarURL, validation.By(optionalURL)),
		validation.Field(&s.ConnectionTimeout, validation.By(atLeast(MinConnectionTimeout, "must be at least 5 seconds"))),
		validation.Field(&s.MaxRetries, validation.By(atLeast(MinMaxRetries, "cannot be negative"))),
		validation.Field(&s.Position, validation.Required, validation.In(
			PositionBottomRight, PositionBottomLeft, PositionTopRight, PositionTopLeft,
		).Error("must be one of bottom-right, bottom-left, top-right, top-left")),
		validation.Field(&s.Theme, validation.Required, validation.In(
			ThemeDefault, ThemeLight, ThemeDark,
		).Error("must be one of default, light, dark")),
	)
	if err == nil {
		return nil
	}

	var fieldErrs validation.Errors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	return toValidationError(fieldErrs)
}

func toValidationError(errs validation.Errors) *ValidationError {
	names := make([]string, 0, len(errs))
	fields := make(map[string]string, len(errs))
	for name, err := range errs {
		names = append(names, name)
		fields[name] = err.Error()
	}
	sort.Strings(names)

	return &ValidationError{
		Field:      names[0],
		Constraint: fields[names[0]],
		Fields:     fields,
	}
}

// httpURL accepts an empty value, meaning the default server is used
func httpURL(value interface{}) error {
	raw, _ := value.(string)
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.New("must start with http:// or https://")
	}
	if u.Host == "" {
		return errors.New("must include a host")
	}
	return nil
}

func optionalURL(value interface{}) error {
	raw, _ := value.(string)
	if raw == "" {
		return nil
	}
	if _, err := url.Parse(raw); err != nil {
		return errors.New("must be a valid URL")
	}
	return nil
}

// atLeast replaces validation.Min, which treats zero as "empty" and skips it
func atLeast(min int, message string) validation.RuleFunc {
	return func(value interface{}) error {
		n, _ := value.(int)
		if n < min {
			return errors.New(message)
		}
		return nil
	}
}
