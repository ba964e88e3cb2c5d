package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

type GetWeatherInput struct {
	City string `json:"city" jsonschema:"required,description=City name to look up current weather for"`
}

type WeatherResult struct {
	City         string   `json:"city"`
	TemperatureC *float64 `json:"temperature_c"`
	WindSpeedKph *float64 `json:"wind_speed_kph"`
	Source       string   `json:"source"`
}

// GetWeatherTool resolves a city via the Open-Meteo geocoding API, then
// fetches current conditions. An unknown city is a data-level error result,
// not a failure.
type GetWeatherTool struct {
	client      *http.Client
	geocodeURL  string
	forecastURL string
}

func NewGetWeatherTool() GetWeatherTool {
	return GetWeatherTool{
		client:      &http.Client{Timeout: 15 * time.Second},
		geocodeURL:  "https://geocoding-api.open-meteo.com/v1/search",
		forecastURL: "https://api.open-meteo.com/v1/forecast",
	}
}

func (t GetWeatherTool) Name() string {
	return "get_weather"
}

func (t GetWeatherTool) Description() string {
	return "Get current weather for a city using Open-Meteo (free)."
}

func (t GetWeatherTool) Schema() map[string]interface{} {
	return generateSchema[GetWeatherInput]()
}

func (t GetWeatherTool) Call(ctx context.Context, arguments string) (any, error) {
	params := decodeParams[GetWeatherInput](arguments)

	geoURL := fmt.Sprintf("%s?name=%s&count=1", t.geocodeURL, url.QueryEscape(params.City))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, geoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build geocode request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode request failed: %w", err)
	}
	defer resp.Body.Close()

	var geo struct {
		Results []struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&geo); err != nil {
		return nil, fmt.Errorf("failed to decode geocode response: %w", err)
	}

	if len(geo.Results) == 0 {
		return ToolError{Error: fmt.Sprintf("City not found: %s", params.City)}, nil
	}

	forecastURL := fmt.Sprintf("%s?latitude=%g&longitude=%g&current=%s",
		t.forecastURL,
		geo.Results[0].Latitude,
		geo.Results[0].Longitude,
		url.QueryEscape("temperature_2m,wind_speed_10m"))

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, forecastURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build forecast request: %w", err)
	}

	resp, err = t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forecast request failed: %w", err)
	}
	defer resp.Body.Close()

	var forecast struct {
		Current struct {
			Temperature2m *float64 `json:"temperature_2m"`
			WindSpeed10m  *float64 `json:"wind_speed_10m"`
		} `json:"current"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&forecast); err != nil {
		return nil, fmt.Errorf("failed to decode forecast response: %w", err)
	}

	return WeatherResult{
		City:         params.City,
		TemperatureC: forecast.Current.Temperature2m,
		WindSpeedKph: forecast.Current.WindSpeed10m,
		Source:       "open-meteo.com",
	}, nil
}
