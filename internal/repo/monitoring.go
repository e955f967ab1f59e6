package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/deploywatch/deploywatch/internal/cache"
	"github.com/deploywatch/deploywatch/internal/models"
)

// MonitoringClient wraps the monitoring backend's alert and snapshot APIs.
type MonitoringClient struct {
	baseURL      string
	alertsPath   string
	snapshotPath string
	httpClient   *http.Client
	cache        cache.Provider
	alertsTTL    time.Duration
}

// NewMonitoringClient constructs a client targeting the configured backend.
func NewMonitoringClient(baseURL, alertsPath, snapshotPath string, timeout time.Duration, cacheProvider cache.Provider, alertsTTL time.Duration) *MonitoringClient {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	return &MonitoringClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		alertsPath:   alertsPath,
		snapshotPath: snapshotPath,
		httpClient:   &http.Client{Timeout: timeout},
		cache:        cacheProvider,
		alertsTTL:    alertsTTL,
	}
}

type alertPayload struct {
	ID           string    `json:"id"`
	Summary      string    `json:"summary"`
	Severity     string    `json:"severity"`
	Services     []string  `json:"services"`
	Timestamp    time.Time `json:"timestamp"`
	Proximity    float64   `json:"proximity,omitempty"`
	ServiceMatch float64   `json:"service_match,omitempty"`
}

// AlertsInWindow returns alerts raised inside [start, end] for the given
// service filter. Windows repeat across polls of concurrent deployments, so
// responses are cached briefly.
func (c *MonitoringClient) AlertsInWindow(ctx context.Context, start, end time.Time, services []string) ([]models.Alert, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("monitoring base URL not configured")
	}

	key := alertsCacheKey(start, end, services)
	var alerts []models.Alert
	if data, err := c.cache.Get(ctx, key); err == nil {
		if json.Unmarshal(data, &alerts) == nil {
			return alerts, nil
		}
	}

	query := url.Values{}
	query.Set("start", start.Format(time.RFC3339))
	query.Set("end", end.Format(time.RFC3339))
	for _, svc := range services {
		query.Add("service", svc)
	}

	var response struct {
		Alerts []alertPayload `json:"alerts"`
	}
	if err := c.getJSON(ctx, c.resolvePath(c.alertsPath), query, &response); err != nil {
		return nil, fmt.Errorf("monitoring alerts request failed: %w", err)
	}

	alerts = make([]models.Alert, 0, len(response.Alerts))
	for _, payload := range response.Alerts {
		alerts = append(alerts, models.Alert{
			ID:           payload.ID,
			Summary:      payload.Summary,
			Severity:     models.Severity(strings.ToLower(payload.Severity)),
			Services:     payload.Services,
			Timestamp:    payload.Timestamp,
			Proximity:    payload.Proximity,
			ServiceMatch: payload.ServiceMatch,
		})
	}

	if data, err := json.Marshal(alerts); err == nil {
		_ = c.cache.Set(ctx, key, data, c.alertsTTL)
	}
	return alerts, nil
}

// Snapshot returns the current metrics snapshot aggregated over the given
// services.
func (c *MonitoringClient) Snapshot(ctx context.Context, services []string) (models.MetricsSnapshot, error) {
	if c.baseURL == "" {
		return models.MetricsSnapshot{}, fmt.Errorf("monitoring base URL not configured")
	}

	query := url.Values{}
	for _, svc := range services {
		query.Add("service", svc)
	}

	var response struct {
		ErrorRate      float64   `json:"error_rate"`
		ResponseTimeMs float64   `json:"response_time_ms"`
		CPUPercent     float64   `json:"cpu_percent"`
		MemoryPercent  float64   `json:"memory_percent"`
		CollectedAt    time.Time `json:"collected_at"`
	}
	if err := c.getJSON(ctx, c.resolvePath(c.snapshotPath), query, &response); err != nil {
		return models.MetricsSnapshot{}, fmt.Errorf("monitoring snapshot request failed: %w", err)
	}

	collectedAt := response.CollectedAt
	if collectedAt.IsZero() {
		collectedAt = time.Now().UTC()
	}
	return models.MetricsSnapshot{
		ErrorRate:      response.ErrorRate,
		ResponseTimeMs: response.ResponseTimeMs,
		CPUPercent:     response.CPUPercent,
		MemoryPercent:  response.MemoryPercent,
		CollectedAt:    collectedAt,
	}, nil
}

func alertsCacheKey(start, end time.Time, services []string) string {
	sorted := append([]string(nil), services...)
	sort.Strings(sorted)
	return fmt.Sprintf("mon:alerts:%d:%d:%s", start.Unix(), end.Unix(), strings.Join(sorted, ","))
}

func (c *MonitoringClient) resolvePath(p string) string {
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *MonitoringClient) getJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	if len(query) > 0 {
		endpoint = endpoint + "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("monitoring returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
