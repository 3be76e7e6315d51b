package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/giantswarm/dav-proxy/pkg/logging"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

func validPort(p int) bool {
	return p >= 0 && p <= 65535
}

// Validate checks the whole configuration and reports every problem found.
func (c Config) Validate() error {
	var errs ValidationErrors

	if c.Listen.Socket == "" && !c.Listen.Systemd {
		if strings.TrimSpace(c.Listen.Bind) == "" {
			errs.Add("listen.bind", "is required")
		}
		if !validPort(c.Listen.Port) {
			errs.Add("listen.port", "must be between 0 and 65535", c.Listen.Port)
		}
	}
	if c.Listen.Socket != "" && c.Listen.Systemd {
		errs.Add("listen.socket", "cannot be combined with systemd socket activation")
	}

	if u, err := url.Parse(c.Upstream); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs.Add("upstream", "must be an absolute http(s) URL", c.Upstream)
	}

	if c.Token != "" && c.TokenCommand != "" {
		errs.Add("token", "cannot be combined with tokenCommand")
	}

	if c.UsesOAuth() {
		if strings.TrimSpace(c.CredentialsFile) == "" {
			errs.Add("credentialsFile", "is required")
		}
		if strings.TrimSpace(c.TokenFile) == "" {
			errs.Add("tokenFile", "is required")
		}
		if len(c.Scopes) == 0 {
			errs.Add("scopes", "must have at least one item")
		}
	}

	if c.AuthTimeout <= 0 {
		errs.Add("authTimeout", "must be positive", c.AuthTimeout)
	}
	if c.ExpiryMargin < 0 {
		errs.Add("expiryMargin", "must not be negative", c.ExpiryMargin)
	}
	if c.UpstreamTimeout <= 0 {
		errs.Add("upstreamTimeout", "must be positive", c.UpstreamTimeout)
	}
	if !validPort(c.CallbackPort) {
		errs.Add("callbackPort", "must be between 0 and 65535", c.CallbackPort)
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs.Add("log.level", "must be one of: debug, info, warn, error", c.Log.Level)
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		errs.Add("log.format", "must be one of: text, json", c.Log.Format)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
