package device

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kestrel/internal/config"
	"kestrel/internal/logger"
	"kestrel/pkg/circuitbreaker"
	pkgerrors "kestrel/pkg/errors"
)

// Directory is the external device/sensor inventory. It is consumed, not
// implemented, by the rule engine.
type Directory interface {
	GetDevice(ctx context.Context, id string) (*Device, error)
	GetDevices(ctx context.Context, ids []string) ([]Device, error)
	ProjectKey(ctx context.Context, deviceID string) (TenantCredential, error)
	DevicesUnderGroup(ctx context.Context, groupID string, deviceIDs []string) (bool, error)
}

type SensorReader interface {
	ReadSensor(ctx context.Context, cred TenantCredential, deviceID, sensorID string, kind SensorKind) (Reading, error)
}

type SensorWriter interface {
	WriteSensor(ctx context.Context, cred TenantCredential, deviceID, sensorID, value string) error
}

type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, ref ImageRef) ([]byte, error)
}

// HTTPClient talks to the platform directory service. All calls go through
// a shared circuit breaker so a directory outage fails fast instead of
// stalling every evaluation worker.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.Wrapper
	logger  logger.Logger
}

func NewHTTPClient(cfg config.DirectoryConfig, log logger.Logger) *HTTPClient {
	timeout := cfg.TimeoutSeconds
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		breaker: circuitbreaker.NewWrapper(circuitbreaker.DefaultConfig("device-directory")),
		logger:  log,
	}
}

func (c *HTTPClient) GetDevice(ctx context.Context, id string) (*Device, error) {
	var dev Device
	path := fmt.Sprintf("/v1/devices/%s", url.PathEscape(id))
	if err := c.getJSON(ctx, path, &dev); err != nil {
		return nil, err
	}
	return &dev, nil
}

func (c *HTTPClient) GetDevices(ctx context.Context, ids []string) ([]Device, error) {
	var devices []Device
	path := "/v1/devices?ids=" + url.QueryEscape(strings.Join(ids, ","))
	if err := c.getJSON(ctx, path, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

func (c *HTTPClient) ProjectKey(ctx context.Context, deviceID string) (TenantCredential, error) {
	var cred TenantCredential
	path := fmt.Sprintf("/v1/devices/%s/project-key", url.PathEscape(deviceID))
	if err := c.getJSON(ctx, path, &cred); err != nil {
		return TenantCredential{}, err
	}
	return cred, nil
}

func (c *HTTPClient) DevicesUnderGroup(ctx context.Context, groupID string, deviceIDs []string) (bool, error) {
	var result struct {
		UnderGroup bool `json:"under_group"`
	}
	path := fmt.Sprintf("/v1/groups/%s/contains?ids=%s",
		url.PathEscape(groupID), url.QueryEscape(strings.Join(deviceIDs, ",")))
	if err := c.getJSON(ctx, path, &result); err != nil {
		return false, err
	}
	return result.UnderGroup, nil
}

func (c *HTTPClient) ReadSensor(ctx context.Context, cred TenantCredential, deviceID, sensorID string, kind SensorKind) (Reading, error) {
	var reading Reading
	path := fmt.Sprintf("/v1/devices/%s/sensors/%s/value", url.PathEscape(deviceID), url.PathEscape(sensorID))
	if err := c.doJSON(ctx, http.MethodGet, path, cred, nil, &reading); err != nil {
		return Reading{}, err
	}
	return reading, nil
}

func (c *HTTPClient) WriteSensor(ctx context.Context, cred TenantCredential, deviceID, sensorID, value string) error {
	body := map[string]string{"value": value}
	path := fmt.Sprintf("/v1/devices/%s/sensors/%s/value", url.PathEscape(deviceID), url.PathEscape(sensorID))
	return c.doJSON(ctx, http.MethodPut, path, cred, body, nil)
}

func (c *HTTPClient) FetchSnapshot(ctx context.Context, ref ImageRef) ([]byte, error) {
	result, err := c.breaker.ExecuteWithContext(ctx, func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(ref.Credential.Username, ref.Credential.Password)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("snapshot fetch returned status %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	return result.([]byte), nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out interface{}) error {
	return c.doJSON(ctx, http.MethodGet, path, TenantCredential{}, nil, out)
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, cred TenantCredential, body, out interface{}) error {
	_, err := c.breaker.ExecuteWithContext(ctx, func() (interface{}, error) {
		var reqBody io.Reader
		if body != nil {
			encoded, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal request body: %w", err)
			}
			reqBody = strings.NewReader(string(encoded))
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if cred.Username != "" {
			req.SetBasicAuth(cred.Username, cred.Password)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("directory returned 404 for %s", path))
		case resp.StatusCode >= 400:
			return nil, fmt.Errorf("directory returned status %d for %s", resp.StatusCode, path)
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return nil, fmt.Errorf("failed to decode directory response: %w", err)
			}
		}
		return nil, nil
	})
	return err
}
