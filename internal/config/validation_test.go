package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationErrors_Error(t *testing.T) {
	var errs ValidationErrors
	assert.Equal(t, "no validation errors", errs.Error())
	assert.False(t, errs.HasErrors())

	errs.Add("listen.port", "must be between 0 and 65535", -1)
	assert.Equal(t, "field 'listen.port': must be between 0 and 65535", errs.Error())

	errs.Add("", "something else")
	assert.Equal(t, "validation failed: field 'listen.port': must be between 0 and 65535; something else", errs.Error())
}

func TestValidate(t *testing.T) {
	withHome(t)

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"negative port", func(c *Config) { c.Listen.Port = -1 }, "listen.port"},
		{"port too large", func(c *Config) { c.Listen.Port = 70000 }, "listen.port"},
		{"empty bind", func(c *Config) { c.Listen.Bind = " " }, "listen.bind"},
		{"socket and systemd", func(c *Config) { c.Listen.Socket = "/tmp/s"; c.Listen.Systemd = true }, "listen.socket"},
		{"relative upstream", func(c *Config) { c.Upstream = "/caldav" }, "upstream"},
		{"ftp upstream", func(c *Config) { c.Upstream = "ftp://example.com/" }, "upstream"},
		{"token and command", func(c *Config) { c.Token = "x"; c.TokenCommand = "echo x" }, "token"},
		{"no credentials file", func(c *Config) { c.CredentialsFile = "" }, "credentialsFile"},
		{"no token file", func(c *Config) { c.TokenFile = "" }, "tokenFile"},
		{"no scopes", func(c *Config) { c.Scopes = nil }, "scopes"},
		{"zero auth timeout", func(c *Config) { c.AuthTimeout = 0 }, "authTimeout"},
		{"negative margin", func(c *Config) { c.ExpiryMargin = -1 }, "expiryMargin"},
		{"zero upstream timeout", func(c *Config) { c.UpstreamTimeout = 0 }, "upstreamTimeout"},
		{"callback port", func(c *Config) { c.CallbackPort = -1 }, "callbackPort"},
		{"log level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs))
			var fields []string
			for _, e := range verrs {
				fields = append(fields, e.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestValidate_StaticTokenSkipsOAuthFields(t *testing.T) {
	withHome(t)

	cfg := Default()
	cfg.Token = "static"
	cfg.CredentialsFile = ""
	cfg.Scopes = nil
	assert.NoError(t, cfg.Validate())
}

func TestValidate_SocketSkipsPort(t *testing.T) {
	withHome(t)

	cfg := Default()
	cfg.Listen.Socket = "/run/dav-proxy.sock"
	cfg.Listen.Port = -1
	assert.NoError(t, cfg.Validate())
}
