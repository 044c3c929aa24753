package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

var (
	tempPattern     = regexp.MustCompile(`\btemp(erature)?\b`)
	humidityPattern = regexp.MustCompile(`\bhumid(ity)?\b`)
)

// sensorPaths are probed in order; the first endpoint that answers ok=true
// with both readings present wins (original_source's _ESP_SENSOR_PATHS).
var sensorPaths = []string{"/dht", "/sensor"}

// SensorQuery is the parsed form of a temperature/humidity question.
type SensorQuery struct {
	AskTemperature bool
	AskHumidity    bool
}

// DetectSensorQuery reports whether the utterance asks for temperature
// and/or humidity, and which.
func DetectSensorQuery(utterance string) (SensorQuery, bool) {
	normalized := normalizeForMatch(utterance)
	q := SensorQuery{
		AskTemperature: tempPattern.MatchString(normalized),
		AskHumidity:    humidityPattern.MatchString(normalized),
	}
	if !q.AskTemperature && !q.AskHumidity {
		return SensorQuery{}, false
	}
	return q, true
}

// SensorReading is a successful probe result.
type SensorReading struct {
	TemperatureC float64
	Humidity     float64
}

type sensorResponse struct {
	OK           bool     `json:"ok"`
	Error        string   `json:"error"`
	TemperatureC *float64 `json:"temperature_c"`
	Humidity     *float64 `json:"humidity"`
}

// SensorProbe queries the ESP device's sensor endpoints with first-ok-wins
// semantics, deduplicating concurrent callers via singleflight so a burst of
// sensor questions only issues one round of HTTP calls against the device.
// The deduplication covers every caller of the same SensorProbe, across
// sessions when the probe is shared.
type SensorProbe struct {
	baseURL string
	client  *http.Client
	group   singleflight.Group
}

func NewSensorProbe(baseURL string) *SensorProbe {
	return &SensorProbe{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (p *SensorProbe) Read(ctx context.Context) (SensorReading, error) {
	v, err, _ := p.group.Do("sensor", func() (interface{}, error) {
		return p.readUncached(ctx)
	})
	if err != nil {
		return SensorReading{}, err
	}
	return v.(SensorReading), nil
}

func (p *SensorProbe) readUncached(ctx context.Context) (SensorReading, error) {
	var lastErr error
	for _, path := range sensorPaths {
		reading, err := p.probe(ctx, path)
		if err != nil {
			lastErr = err
			continue
		}
		return reading, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("sensor_unavailable")
	}
	return SensorReading{}, lastErr
}

func (p *SensorProbe) probe(ctx context.Context, path string) (SensorReading, error) {
	url := p.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return SensorReading{}, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return SensorReading{}, fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	var data sensorResponse
	_ = json.NewDecoder(resp.Body).Decode(&data)

	if resp.StatusCode >= 400 {
		if data.Error != "" {
			return SensorReading{}, fmt.Errorf("%s: %s", path, data.Error)
		}
		return SensorReading{}, fmt.Errorf("%s: http_%d", path, resp.StatusCode)
	}
	if !data.OK {
		reason := data.Error
		if reason == "" {
			reason = "sensor_error"
		}
		return SensorReading{}, fmt.Errorf("%s: %s", path, reason)
	}
	if data.TemperatureC == nil || data.Humidity == nil {
		return SensorReading{}, fmt.Errorf("%s: missing_sensor_values", path)
	}
	return SensorReading{TemperatureC: *data.TemperatureC, Humidity: *data.Humidity}, nil
}

// FormatSensorReply renders the reading the way the assistant speaks it
// back, matching original_source's phrasing for temperature/humidity.
func FormatSensorReply(reading SensorReading, q SensorQuery) string {
	switch {
	case q.AskTemperature && q.AskHumidity:
		return fmt.Sprintf("Current temperature is %.1f degrees Celsius and humidity is %.1f percent.", reading.TemperatureC, reading.Humidity)
	case q.AskTemperature:
		return fmt.Sprintf("Current temperature is %.1f degrees Celsius.", reading.TemperatureC)
	default:
		return fmt.Sprintf("Current humidity is %.1f percent.", reading.Humidity)
	}
}
