// CLAUDE:SUMMARY Builds request headers and basic credentials from the source auth policy (none, bearer, basic, static headers).
package acquire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tidwall/jsonc"
)

// Auth modes.
const (
	AuthNone    = "none"
	AuthBearer  = "bearer"
	AuthBasic   = "basic"
	AuthHeaders = "headers"
)

// Auth describes how requests to the source are authenticated. Static
// Headers apply in every mode; bearer and basic are layered on top.
type Auth struct {
	Mode        string
	Token       string
	TokenHeader string // default "Authorization"
	TokenPrefix string // default "Bearer"
	Username    string
	Password    string
	Headers     string // JSON (or JSONC) object of static headers
}

// BasicCredentials is a username/password pair for HTTP basic auth.
type BasicCredentials struct {
	Username string
	Password string
}

// Header returns the Authorization header value for the credentials.
func (c BasicCredentials) Header() string {
	raw := c.Username + ":" + c.Password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

// HeaderConfigError reports a static header value that could not be parsed.
type HeaderConfigError struct {
	Err error
}

func (e *HeaderConfigError) Error() string {
	return fmt.Sprintf("acquire: static headers must be a JSON object: %v", e.Err)
}

func (e *HeaderConfigError) Unwrap() error { return e.Err }

// ParseStaticHeaders parses a JSON object of header names to values.
// Comments and trailing commas are accepted. Non-string values are
// rendered with their JSON text.
func ParseStaticHeaders(raw string) (http.Header, error) {
	h := http.Header{}
	if strings.TrimSpace(raw) == "" {
		return h, nil
	}

	var m map[string]any
	if err := json.Unmarshal(jsonc.ToJSON([]byte(raw)), &m); err != nil {
		return h, &HeaderConfigError{Err: err}
	}
	for k, v := range m {
		if k == "" {
			continue
		}
		switch val := v.(type) {
		case string:
			h.Set(k, val)
		case nil:
			h.Set(k, "")
		default:
			b, _ := json.Marshal(val)
			h.Set(k, string(b))
		}
	}
	return h, nil
}

// BuildHeaders returns the headers and optional basic credentials for a
// source request. A malformed static header value is logged and ignored:
// the cycle proceeds as if no static headers were configured.
func BuildHeaders(auth Auth, logger *slog.Logger) (http.Header, *BasicCredentials) {
	if logger == nil {
		logger = slog.Default()
	}

	headers, err := ParseStaticHeaders(auth.Headers)
	if err != nil {
		logger.Warn("acquire: ignoring static headers", "error", err)
		headers = http.Header{}
	}

	switch strings.ToLower(auth.Mode) {
	case AuthBearer:
		if auth.Token != "" {
			name := auth.TokenHeader
			if name == "" {
				name = "Authorization"
			}
			prefix := auth.TokenPrefix
			if prefix == "" {
				prefix = "Bearer"
			}
			headers.Set(name, prefix+" "+auth.Token)
		}
	case AuthBasic:
		if auth.Username != "" && auth.Password != "" {
			return headers, &BasicCredentials{Username: auth.Username, Password: auth.Password}
		}
	}
	return headers, nil
}

// browserHeaders flattens headers for the renderer. Basic credentials
// become an explicit Authorization header since the browser session has
// no separate credential channel.
func browserHeaders(h http.Header, basic *BasicCredentials) map[string]string {
	out := make(map[string]string, len(h)+1)
	for k := range h {
		out[k] = h.Get(k)
	}
	if basic != nil {
		out["Authorization"] = basic.Header()
	}
	return out
}
