package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/harunnryd/elara/pkg/llm"
)

const (
	geocodingBaseURL = "https://geocoding-api.open-meteo.com/v1"
	forecastBaseURL  = "https://api.open-meteo.com/v1"
)

// WeatherTool answers weather queries through Open-Meteo, which needs
// no API key.
type WeatherTool struct {
	GeocodingURL string
	ForecastURL  string
	Client       *http.Client
}

func NewWeatherTool() *WeatherTool {
	return &WeatherTool{
		GeocodingURL: geocodingBaseURL,
		ForecastURL:  forecastBaseURL,
		Client:       &http.Client{Timeout: 5 * time.Second},
	}
}

func (w *WeatherTool) Definition() llm.Tool {
	return llm.Tool{
		Name:        "get_weather",
		Description: "Get the current weather and forecast for a city",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city": map[string]any{"type": "string", "description": "City name"},
				"days": map[string]any{"type": "number", "description": "Forecast days (1-7, default 1)"},
			},
			"required": []string{"city"},
		},
	}
}

type weatherArgs struct {
	City string `mapstructure:"city"`
	Days int    `mapstructure:"days"`
}

func (w *WeatherTool) Handle(ctx context.Context, args map[string]any) (Result, error) {
	var a weatherArgs
	if err := decodeArgs(args, &a); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(a.City) == "" {
		return Result{}, errors.New("missing city")
	}
	if a.Days < 1 {
		a.Days = 1
	}
	if a.Days > 7 {
		a.Days = 7
	}

	lat, lon, name, err := w.geocode(ctx, a.City)
	if err != nil {
		return Result{}, err
	}
	if name == "" {
		return Result{Text: fmt.Sprintf("City %q not found.", a.City)}, nil
	}
	return w.forecast(ctx, lat, lon, name, a.Days)
}

func (w *WeatherTool) geocode(ctx context.Context, city string) (float64, float64, string, error) {
	endpoint := fmt.Sprintf("%s/search?name=%s&count=1", w.GeocodingURL, url.QueryEscape(city))
	var payload struct {
		Results []struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
			Name      string  `json:"name"`
		} `json:"results"`
	}
	if err := w.getJSON(ctx, endpoint, &payload); err != nil {
		return 0, 0, "", err
	}
	if len(payload.Results) == 0 {
		return 0, 0, "", nil
	}
	r := payload.Results[0]
	return r.Latitude, r.Longitude, r.Name, nil
}

func (w *WeatherTool) forecast(ctx context.Context, lat, lon float64, name string, days int) (Result, error) {
	endpoint := fmt.Sprintf(
		"%s/forecast?latitude=%f&longitude=%f&current=temperature_2m,weather_code,wind_speed_10m&daily=weather_code,temperature_2m_max,temperature_2m_min&forecast_days=%d",
		w.ForecastURL, lat, lon, days)
	var payload struct {
		Current struct {
			Temperature float64 `json:"temperature_2m"`
			WindSpeed   float64 `json:"wind_speed_10m"`
		} `json:"current"`
		Daily struct {
			Time    []string  `json:"time"`
			TempMax []float64 `json:"temperature_2m_max"`
			TempMin []float64 `json:"temperature_2m_min"`
		} `json:"daily"`
	}
	if err := w.getJSON(ctx, endpoint, &payload); err != nil {
		return Result{}, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Weather in %s: %.1f°C, wind %.0f km/h", name, payload.Current.Temperature, payload.Current.WindSpeed)
	if days > 1 && len(payload.Daily.Time) > 0 {
		sb.WriteString("\nForecast:")
		for i := 0; i < days && i < len(payload.Daily.Time); i++ {
			fmt.Fprintf(&sb, "\n- %s: %.0f°-%.0f°C", payload.Daily.Time[i], payload.Daily.TempMin[i], payload.Daily.TempMax[i])
		}
	}
	return Result{Text: sb.String()}, nil
}

func (w *WeatherTool) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("weather api status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
