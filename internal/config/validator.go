package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate validates the Config using struct tags and cross-field rules.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	// The upstream maps have to decode and cross-reference cleanly.
	specs, err := c.UpstreamSpecs()
	if err != nil {
		return err
	}

	// A gateway with no upstreams and no way to register any at runtime
	// would serve an empty registry forever.
	if len(specs) == 0 && c.RegistrationToken == "" {
		return errors.New("no upstreams configured: set upstreams or enable the registration API with registration_token")
	}

	if err := c.validateHooks(); err != nil {
		return err
	}
	return nil
}

// validateHooks checks hook settings for consistency. Factory existence is
// checked at wiring time; here only the setting dependencies are enforced.
func (c *Config) validateHooks() error {
	hasCEL := false
	for _, name := range c.HookNames() {
		if name == "cel-policy" {
			hasCEL = true
		}
	}
	if hasCEL && strings.TrimSpace(c.HookCELExpr) == "" {
		return errors.New("hooks includes cel-policy but hook_cel_expr is empty")
	}
	if !hasCEL && strings.TrimSpace(c.HookCELExpr) != "" {
		return errors.New("hook_cel_expr is set but hooks does not include cel-policy")
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to actionable
// messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "json":
		return fmt.Sprintf("%s must be valid JSON", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
