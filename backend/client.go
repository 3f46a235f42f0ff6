package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const (
	distancePath    = "/getdistance"
	temperaturePath = "/gettemperature"
	touchPath       = "/gettouch"
	counterPath     = "/getcounter"
	snapshotPath    = "/data"
	toggleModePath  = "/toggle_mode"

	// DefaultRequestTimeout bounds every backend request
	DefaultRequestTimeout = 3 * time.Second

	maxBodySize = 1 << 20
)

// StatusError is returned when the backend answers with an unexpected
// status code
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s failed with status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// RejectedError is returned when the backend accepts a command request but
// refuses to carry it out
type RejectedError struct {
	Path    string
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return "command " + e.Path + " rejected by backend"
	}
	return "command " + e.Path + " rejected by backend: " + e.Message
}

// Client talks to the device backend
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a backend client. Redirects are never followed: the
// legacy switch endpoint answers with a redirect to the page it was called
// from, which counts as success.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend URL %q must use http or https", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	return &Client{
		baseURL: u,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return "backend " + r.Method + " " + r.URL.Path
				}),
			),
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}, nil
}

// BaseURL returns the backend origin
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.String() + path
}

// doRequest performs a request and decodes a JSON body into result when
// result is non-nil. Any 2xx is accepted; 3xx is accepted only when
// allowRedirect is set.
func (c *Client) doRequest(ctx context.Context, method, path string, allowRedirect bool, result interface{}) error {
	body, err := c.fetch(ctx, method, path, allowRedirect, result != nil)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		c.logger.Error("Failed to parse JSON",
			zap.String("path", path),
			zap.String("sample", sample(body)),
			zap.Error(err))
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// doCommand performs a command request. The backend may refuse a command
// with a 2xx status and {"success": false} in the body.
func (c *Client) doCommand(ctx context.Context, path string) error {
	body, err := c.fetch(ctx, http.MethodPost, path, false, true)
	if err != nil {
		return err
	}

	var result CommandResult
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, &result); err != nil {
		c.logger.Debug("command response is not JSON",
			zap.String("path", path),
			zap.String("sample", sample(body)))
		return nil
	}
	if result.Success != nil && !*result.Success {
		return &RejectedError{Path: path, Message: result.Message}
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, method, path string, allowRedirect, wantBody bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if wantBody {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if allowRedirect && resp.StatusCode >= 300 && resp.StatusCode < 400 {
		ok = true
	}
	if !ok {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if !wantBody {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

func sample(body []byte) string {
	s := string(body)
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// GetDistance reads the ultrasonic distance sensor
func (c *Client) GetDistance(ctx context.Context) (*DistanceResponse, error) {
	var response DistanceResponse
	if err := c.doRequest(ctx, http.MethodGet, distancePath, false, &response); err != nil {
		return nil, fmt.Errorf("failed to get distance: %w", err)
	}
	return &response, nil
}

// GetClimate reads temperature and humidity
func (c *Client) GetClimate(ctx context.Context) (*ClimateResponse, error) {
	var response ClimateResponse
	if err := c.doRequest(ctx, http.MethodGet, temperaturePath, false, &response); err != nil {
		return nil, fmt.Errorf("failed to get climate: %w", err)
	}
	return &response, nil
}

// GetTouch reads /gettouch. What the body means depends on the variant.
func (c *Client) GetTouch(ctx context.Context) (*TouchResponse, error) {
	var response TouchResponse
	if err := c.doRequest(ctx, http.MethodGet, touchPath, false, &response); err != nil {
		return nil, fmt.Errorf("failed to get touch state: %w", err)
	}
	return &response, nil
}

// GetCounter reads the counter value
func (c *Client) GetCounter(ctx context.Context) (*CounterResponse, error) {
	var response CounterResponse
	if err := c.doRequest(ctx, http.MethodGet, counterPath, false, &response); err != nil {
		return nil, fmt.Errorf("failed to get counter: %w", err)
	}
	return &response, nil
}

// GetSnapshot reads the consolidated sensor and status document
func (c *Client) GetSnapshot(ctx context.Context) (*SnapshotResponse, error) {
	var response SnapshotResponse
	if err := c.doRequest(ctx, http.MethodGet, snapshotPath, false, &response); err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return &response, nil
}

// SwitchLegacy drives a device through GET /{index}/{0|1}
func (c *Client) SwitchLegacy(ctx context.Context, index int, on bool) error {
	state := 0
	if on {
		state = 1
	}
	path := fmt.Sprintf("/%d/%d", index, state)
	if err := c.doRequest(ctx, http.MethodGet, path, true, nil); err != nil {
		return fmt.Errorf("failed to switch device %d: %w", index, err)
	}
	return nil
}

// Control drives a device through POST /control/{device}/{ON|OFF}
func (c *Client) Control(ctx context.Context, device string, on bool) error {
	path := "/control/" + url.PathEscape(device) + "/" + Action(on)
	if err := c.doCommand(ctx, path); err != nil {
		return fmt.Errorf("failed to control %s: %w", device, err)
	}
	return nil
}

// ToggleMode flips the backend between AUTO and MANUAL
func (c *Client) ToggleMode(ctx context.Context) error {
	if err := c.doCommand(ctx, toggleModePath); err != nil {
		return fmt.Errorf("failed to toggle mode: %w", err)
	}
	return nil
}
