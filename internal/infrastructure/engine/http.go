package engine

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Prison3/prison/internal/infrastructure/logging"
	"github.com/Prison3/prison/internal/infrastructure/resilience"
	"github.com/Prison3/prison/internal/shared/types"
)

// HTTPConfig configures the engine HTTP client
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
	RPS     float64 // <= 0 disables limiting
	Logger  *zap.Logger
}

// HTTPClient talks to the engine's JSON API with rate limiting and circuit breaker protection
type HTTPClient struct {
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	logger  *zap.Logger
}

type profileWire struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type installWire struct {
	Source string `json:"source"`
	Remote bool   `json:"remote"`
}

type errorWire struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewHTTPClient creates an engine client.
// Retries are left to callers: the inventory loader owns its retry policy.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	// Pooled transport from retryablehttp, without its retry loop
	pooled := retryablehttp.NewClient()
	pooled.Logger = nil

	client := resty.New()
	client.
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", "Prison-Registry/1.0").
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)
	client.SetTransport(pooled.HTTPClient.Transport)

	logger := logging.OrNop(cfg.Logger).Named("engine")

	breaker := resilience.New("engine", resilience.Settings{
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Client errors and absent answers say nothing about engine health
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, ErrNoResult) {
				return true
			}
			var se *StatusError
			return errors.As(err, &se) && !se.Temporary()
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("Engine circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), max(1, int(cfg.RPS)))
	}

	return &HTTPClient{
		resty:   client,
		limiter: limiter,
		breaker: breaker,
		logger:  logger,
	}
}

// BreakerState returns the current circuit breaker state
func (c *HTTPClient) BreakerState() resilience.State {
	return c.breaker.State()
}

// ListInstalled fetches a profile's raw installed list. A JSON null body is ErrNoResult.
func (c *HTTPClient) ListInstalled(ctx context.Context, flags int, profileID int) ([]types.InstalledPackage, error) {
	resp, err := c.do(ctx, "list", func(r *resty.Request) (*resty.Response, error) {
		return r.
			SetPathParam("id", strconv.Itoa(profileID)).
			SetQueryParam("flags", strconv.Itoa(flags)).
			Get("/v1/profiles/{id}/packages")
	})
	if err != nil {
		return nil, err
	}

	body := resp.Body()
	if isNull(body) {
		return nil, ErrNoResult
	}

	var pkgs []types.InstalledPackage
	if err := sonic.Unmarshal(body, &pkgs); err != nil {
		return nil, fmt.Errorf("decode installed list: %w", err)
	}
	if pkgs == nil {
		return nil, ErrNoResult
	}
	return pkgs, nil
}

// Install asks the engine to install source into a profile
func (c *HTTPClient) Install(ctx context.Context, source string, opts types.InstallOptions, profileID int) (types.InstallResult, error) {
	resp, err := c.do(ctx, "install", func(r *resty.Request) (*resty.Response, error) {
		return r.
			SetPathParam("id", strconv.Itoa(profileID)).
			SetBody(installWire{Source: source, Remote: opts.Remote}).
			Post("/v1/profiles/{id}/packages")
	})
	if err != nil {
		return types.InstallResult{}, err
	}

	if isNull(resp.Body()) {
		return types.InstallResult{}, ErrNoResult
	}
	var result types.InstallResult
	if err := sonic.Unmarshal(resp.Body(), &result); err != nil {
		return types.InstallResult{}, fmt.Errorf("decode install result: %w", err)
	}
	return result, nil
}

// Uninstall removes a package from a profile
func (c *HTTPClient) Uninstall(ctx context.Context, packageID string, profileID int) error {
	_, err := c.do(ctx, "uninstall", func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParams(packagePath(packageID, profileID)).
			Delete("/v1/profiles/{id}/packages/{pkg}")
	})
	return err
}

// ClearData wipes a package's data in a profile
func (c *HTTPClient) ClearData(ctx context.Context, packageID string, profileID int) error {
	_, err := c.do(ctx, "clear", func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParams(packagePath(packageID, profileID)).
			Post("/v1/profiles/{id}/packages/{pkg}/clear")
	})
	return err
}

// IsInstalled reports whether a package is installed in a profile
func (c *HTTPClient) IsInstalled(ctx context.Context, packageID string, profileID int) (bool, error) {
	var out struct {
		Installed bool `json:"installed"`
	}
	resp, err := c.do(ctx, "status", func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParams(packagePath(packageID, profileID)).
			Get("/v1/profiles/{id}/packages/{pkg}")
	})
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	if err := sonic.Unmarshal(resp.Body(), &out); err != nil {
		return false, fmt.Errorf("decode status: %w", err)
	}
	return out.Installed, nil
}

// Launch starts a package inside a profile
func (c *HTTPClient) Launch(ctx context.Context, packageID string, profileID int) (bool, error) {
	var out struct {
		Launched bool `json:"launched"`
	}
	resp, err := c.do(ctx, "launch", func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParams(packagePath(packageID, profileID)).
			Post("/v1/profiles/{id}/packages/{pkg}/launch")
	})
	if err != nil {
		return false, err
	}
	if err := sonic.Unmarshal(resp.Body(), &out); err != nil {
		return false, fmt.Errorf("decode launch: %w", err)
	}
	return out.Launched, nil
}

// ListProfiles returns existing profiles, ascending by id
func (c *HTTPClient) ListProfiles(ctx context.Context) ([]types.Profile, error) {
	resp, err := c.do(ctx, "profiles", func(r *resty.Request) (*resty.Response, error) {
		return r.Get("/v1/profiles")
	})
	if err != nil {
		return nil, err
	}
	if isNull(resp.Body()) {
		return nil, ErrNoResult
	}

	var wire []profileWire
	if err := sonic.Unmarshal(resp.Body(), &wire); err != nil {
		return nil, fmt.Errorf("decode profiles: %w", err)
	}
	profiles := make([]types.Profile, len(wire))
	for i, p := range wire {
		profiles[i] = types.Profile{ID: p.ID, Label: p.Name}
	}
	sortProfiles(profiles)
	return profiles, nil
}

// DeleteProfile removes a profile from the engine
func (c *HTTPClient) DeleteProfile(ctx context.Context, profileID int) error {
	_, err := c.do(ctx, "delete_profile", func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("id", strconv.Itoa(profileID)).
			Delete("/v1/profiles/{id}")
	})
	return err
}

// do runs one request through the limiter and breaker and maps non-2xx to StatusError
func (c *HTTPClient) do(ctx context.Context, op string, send func(*resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	start := time.Now()
	resp, err := resilience.Do(c.breaker, func() (*resty.Response, error) {
		resp, err := send(c.resty.R().SetContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("engine %s: %w", op, err)
		}
		if resp.IsError() {
			return resp, statusError(op, resp)
		}
		return resp, nil
	})

	c.logger.Debug("Engine call",
		zap.String("op", op),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err))
	return resp, err
}

func statusError(op string, resp *resty.Response) error {
	se := &StatusError{Op: op, Code: resp.StatusCode()}
	var body errorWire
	if err := sonic.Unmarshal(resp.Body(), &body); err == nil {
		se.Message = body.Error
		if se.Message == "" {
			se.Message = body.Message
		}
	}
	if se.Message == "" {
		se.Message = http.StatusText(se.Code)
	}
	return se
}

func packagePath(packageID string, profileID int) map[string]string {
	return map[string]string{"id": strconv.Itoa(profileID), "pkg": packageID}
}

func isNull(body []byte) bool {
	b := bytes.TrimSpace(body)
	return len(b) == 0 || string(b) == "null"
}

func sortProfiles(profiles []types.Profile) {
	slices.SortFunc(profiles, func(a, b types.Profile) int {
		return cmp.Compare(a.ID, b.ID)
	})
}
