package autelis

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nerrad567/autelis-bridge/internal/infrastructure/config"
)

// Controller endpoints.
const (
	statusPath = "/status.xml"
	setPath    = "/set.cgi"

	// maxStatusSize bounds the status document read into memory.
	maxStatusSize = 1 << 20

	defaultControllerTimeout = 10 * time.Second
)

// Write parameters understood by set.cgi.
const (
	ParamValue = "value"
	ParamTemp  = "temp"
)

// WriteRequest is one fully encoded controller write.
type WriteRequest struct {
	// Name is the native field, e.g. "aux1" or "poolsp".
	Name string `json:"name"`

	// Param is ParamValue for switches and ParamTemp for setpoints.
	Param string `json:"param"`

	// Value is the encoded value: "0"/"1" or a temperature.
	Value string `json:"value"`
}

// Query returns the set.cgi query string, e.g. "name=aux1&value=0".
func (r WriteRequest) Query() string {
	return url.Values{"name": {r.Name}, r.Param: {r.Value}}.Encode()
}

func (r WriteRequest) String() string {
	return setPath + "?" + r.Query()
}

// StatusFetcher fetches the raw status document.
type StatusFetcher interface {
	FetchStatus(ctx context.Context) ([]byte, error)
}

// Writer executes a controller write.
type Writer interface {
	Write(ctx context.Context, req WriteRequest) error
}

// Controller is the full controller surface the bridge needs.
type Controller interface {
	StatusFetcher
	Writer
}

// HTTPController talks to the controller's HTTP interface with basic auth.
//
// Thread Safety:
//   - Safe for concurrent use; http.Client is.
type HTTPController struct {
	base     *url.URL
	username string
	password string
	client   *http.Client
}

// NewHTTPController creates a controller client from configuration.
func NewHTTPController(cfg config.ControllerConfig) (*HTTPController, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing controller url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("controller url %q is not absolute", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultControllerTimeout
	}

	return &HTTPController{
		base:     base,
		username: cfg.Username,
		password: cfg.Password,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// BaseURL returns the controller address without credentials.
func (c *HTTPController) BaseURL() string {
	return c.base.Redacted()
}

// FetchStatus performs GET /status.xml and returns the body.
// Network failures and non-2xx responses wrap ErrTransport.
func (c *HTTPController) FetchStatus(ctx context.Context) ([]byte, error) {
	resp, err := c.get(ctx, statusPath, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStatusSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading status: %w", ErrTransport, err)
	}
	return body, nil
}

// Write performs GET /set.cgi with the request's query.
func (c *HTTPController) Write(ctx context.Context, req WriteRequest) error {
	resp, err := c.get(ctx, setPath, req.Query())
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse
	return nil
}

func (c *HTTPController) get(ctx context.Context, path, query string) (*http.Response, error) {
	u := *c.base
	u.Path += path
	u.RawQuery = query

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", ErrTransport, err)
	}
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %w", ErrTransport, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: GET %s: status %d", ErrTransport, path, resp.StatusCode)
	}
	return resp, nil
}
