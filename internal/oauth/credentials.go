package oauth

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Credentials identifies this program as an OAuth client. It is read from a
// Google "installed application" client secrets file and never modified.
type Credentials struct {
	ProjectID    string   `json:"project_id"`
	AuthURI      string   `json:"auth_uri"`
	TokenURI     string   `json:"token_uri"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	RedirectURIs []string `json:"redirect_uris,omitempty"`

	// Scopes requested during authorization. Not part of the file.
	Scopes []string `json:"-"`

	// raw is the file content, handed to google.ConfigFromJSON.
	raw []byte
}

type credentialsFile struct {
	Installed *Credentials `json:"installed"`
	Web       *Credentials `json:"web"`
}

// LoadCredentials reads and validates a client secrets file.
// All failures wrap ErrCredentialsInvalid.
func LoadCredentials(path string, scopes []string) (*Credentials, error) {
	// #nosec G304 -- path comes from configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCredentialsInvalid, err)
	}
	return ParseCredentials(data, scopes)
}

// ParseCredentials decodes and validates client secrets JSON. Both the
// {"installed": {...}} and {"web": {...}} layouts are accepted.
func ParseCredentials(data []byte, scopes []string) (*Credentials, error) {
	var f credentialsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: malformed JSON: %v", ErrCredentialsInvalid, err)
	}

	c := f.Installed
	if c == nil {
		c = f.Web
	}
	if c == nil {
		return nil, fmt.Errorf("%w: missing \"installed\" section", ErrCredentialsInvalid)
	}

	c.Scopes = append([]string(nil), scopes...)
	c.raw = data
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks that every field needed for the authorization flow is
// present and that the endpoints are absolute URLs.
func (c *Credentials) Validate() error {
	var missing []string
	for _, f := range []struct {
		name, value string
	}{
		{"project_id", c.ProjectID},
		{"auth_uri", c.AuthURI},
		{"token_uri", c.TokenURI},
		{"client_id", c.ClientID},
		{"client_secret", c.ClientSecret},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing field(s) %s", ErrCredentialsInvalid, strings.Join(missing, ", "))
	}

	for name, raw := range map[string]string{"auth_uri": c.AuthURI, "token_uri": c.TokenURI} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: %s is not an absolute URL", ErrCredentialsInvalid, name)
		}
	}
	return nil
}

// OAuth2Config builds the client configuration for the given redirect URL.
// Client credentials are sent in the POST body of token requests.
func (c *Credentials) OAuth2Config(redirectURL string) (*oauth2.Config, error) {
	if c.AuthURI == "" || c.ClientID == "" {
		return nil, fmt.Errorf("%w: auth_uri and client_id are required", ErrCredentialsInvalid)
	}

	var cfg *oauth2.Config
	if len(c.raw) > 0 {
		parsed, err := google.ConfigFromJSON(c.raw, c.Scopes...)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCredentialsInvalid, err)
		}
		cfg = parsed
	} else {
		cfg = &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			Scopes:       append([]string(nil), c.Scopes...),
			Endpoint: oauth2.Endpoint{
				AuthURL:  c.AuthURI,
				TokenURL: c.TokenURI,
			},
		}
	}

	cfg.Endpoint.AuthStyle = oauth2.AuthStyleInParams
	cfg.RedirectURL = redirectURL
	return cfg, nil
}
