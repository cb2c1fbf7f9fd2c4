package traveltime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// RemoteOracle estimates travel time through an external routing
// provider's duration endpoint. It satisfies the same Oracle capability
// as the great-circle default, so swapping providers never touches the
// checker or the optimizer. When the provider errors and a fallback is
// configured, the fallback's estimate is used instead.
type RemoteOracle struct {
	BaseURL  string
	APIKey   string
	Client   *http.Client
	Fallback Oracle
}

// NewRemoteOracle builds a provider-backed oracle with a bounded HTTP
// client and an optional local fallback.
func NewRemoteOracle(baseURL, apiKey string, fallback Oracle) *RemoteOracle {
	return &RemoteOracle{
		BaseURL:  baseURL,
		APIKey:   apiKey,
		Client:   &http.Client{Timeout: 5 * time.Second},
		Fallback: fallback,
	}
}

type durationResponse struct {
	DurationMinutes int `json:"duration_minutes"`
}

func (o *RemoteOracle) Estimate(ctx context.Context, from, to Coordinate) (int, error) {
	if from.Latitude == to.Latitude && from.Longitude == to.Longitude {
		return 0, nil
	}
	minutes, err := o.fetch(ctx, from, to)
	if err != nil {
		if o.Fallback != nil {
			return o.Fallback.Estimate(ctx, from, to)
		}
		return 0, err
	}
	if minutes < 0 {
		minutes = 0
	}
	return minutes, nil
}

func (o *RemoteOracle) fetch(ctx context.Context, from, to Coordinate) (int, error) {
	endpoint, err := url.Parse(o.BaseURL + "/route/duration")
	if err != nil {
		return 0, fmt.Errorf("parse provider url: %w", err)
	}
	q := endpoint.Query()
	q.Set("from", fmt.Sprintf("%f,%f", from.Latitude, from.Longitude))
	q.Set("to", fmt.Sprintf("%f,%f", to.Latitude, to.Longitude))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("build provider request: %w", err)
	}
	if o.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.APIKey)
	}

	resp, err := o.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("call travel provider: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("travel provider returned %d", resp.StatusCode)
	}

	var body durationResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode provider response: %w", err)
	}
	return body.DurationMinutes, nil
}
