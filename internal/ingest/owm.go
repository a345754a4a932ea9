package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lox/weathertracker/internal/httputil"
	"github.com/lox/weathertracker/internal/metrics"
	"github.com/lox/weathertracker/internal/models"
)

// DefaultBaseURL is the OpenWeatherMap 2.5 API root.
const DefaultBaseURL = "https://api.openweathermap.org/data/2.5"

const currentEndpoint = "weather"

/*
	OpenWeatherMap current weather status codes
	200  success
	401  invalid API key
	404  city not found
	429  rate limit exceeded
*/

// OWMClient fetches current conditions from OpenWeatherMap.
type OWMClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewOWMClient creates a client. An empty baseURL selects DefaultBaseURL and
// a nil client selects httputil.NewClient.
func NewOWMClient(apiKey, baseURL string, client *http.Client) *OWMClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = httputil.NewClient(0)
	}
	return &OWMClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

type CurrentResponse struct {
	Name string `json:"name"`
	Sys  *struct {
		Country string `json:"country"`
	} `json:"sys"`
	Main *struct {
		Temp     float64 `json:"temp"`
		Humidity int     `json:"humidity"`
		Pressure int     `json:"pressure"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
	Wind *struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
}

// FetchCity requests current metric weather for city. It returns the parsed
// snapshot and the raw response body.
func (c *OWMClient) FetchCity(ctx context.Context, city models.City) (*models.WeatherSnapshot, []byte, error) {
	u, err := url.Parse(c.baseURL + "/" + currentEndpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("parse base url: %w", err)
	}
	q := url.Values{}
	q.Set("q", city.Key())
	q.Set("appid", c.apiKey)
	q.Set("units", "metric")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", httputil.UserAgent)

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.ProviderLatency.WithLabelValues(currentEndpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ProviderCallsTotal.WithLabelValues(currentEndpoint, "error").Inc()
		return nil, nil, fmt.Errorf("fetch current: %w", err)
	}
	defer resp.Body.Close()
	metrics.ProviderCallsTotal.WithLabelValues(currentEndpoint, strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, body, fmt.Errorf("fetch current %s: status %d: %s", city.Key(), resp.StatusCode, strings.TrimSpace(string(body)))
	}

	snapshot, err := ParseCurrent(body)
	if err != nil {
		return nil, body, err
	}
	snapshot.FetchedAt = time.Now().UTC()
	return snapshot, body, nil
}

// ParseCurrent converts a current-weather response body into a snapshot.
// An empty condition list yields the Unknown description and fallback icon.
func ParseCurrent(body []byte) (*models.WeatherSnapshot, error) {
	var data CurrentResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if data.Main == nil || data.Sys == nil || data.Wind == nil {
		return nil, errors.New("malformed response: missing main, sys or wind")
	}

	snapshot := &models.WeatherSnapshot{
		City:        data.Name,
		Country:     data.Sys.Country,
		Temperature: data.Main.Temp,
		Description: models.UnknownDescription,
		Humidity:    data.Main.Humidity,
		WindSpeed:   data.Wind.Speed,
		Pressure:    data.Main.Pressure,
		Icon:        models.FallbackIcon,
	}
	if len(data.Weather) > 0 {
		snapshot.Description = data.Weather[0].Description
		snapshot.Icon = data.Weather[0].Icon
	}
	return snapshot, nil
}
