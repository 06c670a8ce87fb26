package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/askbot/internal/config"
)

// decodeInput unmarshals tool input, treating an empty or null payload as {}.
func decodeInput(input string, v any) error {
	input = strings.TrimSpace(input)
	if input == "" || input == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(input), v); err != nil {
		return fmt.Errorf("invalid tool input: %w", err)
	}
	return nil
}

// NewsTool answers with a canned headline summary for a topic.
type NewsTool struct{}

func (NewsTool) Name() string        { return "news" }
func (NewsTool) Description() string { return "Search recent news about any topic." }
func (NewsTool) InputSchema() string {
	return `{"type":"object","properties":{"topic":{"type":"string"}},"required":["topic"]}`
}

func (NewsTool) Execute(_ context.Context, input string) (string, error) {
	var in struct {
		Topic string `json:"topic"`
	}
	if err := decodeInput(input, &in); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Topic) == "" {
		return "", fmt.Errorf("topic is required")
	}
	return fmt.Sprintf("Latest news about %s: relevant results were found.", in.Topic), nil
}

// TimeTool reports the current time, optionally in an IANA zone.
type TimeTool struct {
	Zone string
	now  func() time.Time
}

// NewTimeTool creates a time tool. An empty zone uses the server's local time.
func NewTimeTool(cfg config.TimeConfig) *TimeTool {
	return &TimeTool{Zone: cfg.Zone, now: time.Now}
}

func (t *TimeTool) Name() string        { return "time" }
func (t *TimeTool) Description() string { return "Get the current date and time." }
func (t *TimeTool) InputSchema() string {
	return `{"type":"object","properties":{"zone":{"type":"string","description":"IANA time zone, e.g. America/Mexico_City"}}}`
}

func (t *TimeTool) Execute(_ context.Context, input string) (string, error) {
	var in struct {
		Zone string `json:"zone"`
	}
	if err := decodeInput(input, &in); err != nil {
		return "", err
	}
	zone := in.Zone
	if zone == "" {
		zone = t.Zone
	}

	now := t.now()
	if zone != "" {
		loc, err := time.LoadLocation(zone)
		if err != nil {
			return "", fmt.Errorf("unknown time zone %q", zone)
		}
		now = now.In(loc)
	}
	return fmt.Sprintf("The current time is %s.", now.Format("2006-01-02 15:04:05 MST")), nil
}

// WeatherTool is a stub that always reports fair weather.
type WeatherTool struct {
	DefaultLocation string
}

// NewWeatherTool creates the weather tool.
func NewWeatherTool(cfg config.WeatherConfig) *WeatherTool {
	loc := cfg.DefaultLocation
	if loc == "" {
		loc = config.DefaultWeatherLocation
	}
	return &WeatherTool{DefaultLocation: loc}
}

func (w *WeatherTool) Name() string        { return "weather" }
func (w *WeatherTool) Description() string { return "Get the weather for a location." }
func (w *WeatherTool) InputSchema() string {
	return `{"type":"object","properties":{"location":{"type":"string"}}}`
}

func (w *WeatherTool) Execute(_ context.Context, input string) (string, error) {
	var in struct {
		Location string `json:"location"`
	}
	if err := decodeInput(input, &in); err != nil {
		return "", err
	}
	if in.Location == "" {
		in.Location = w.DefaultLocation
	}
	return fmt.Sprintf("The weather in %s is sunny with 22C.", in.Location), nil
}

// DefaultTools builds the tool set from config.
func DefaultTools(cfg config.ToolsConfig) *ToolRegistry {
	reg := NewToolRegistry()
	if config.Enabled(cfg.Wikipedia.Enabled) {
		reg.Register(NewWikipediaTool(cfg.Wikipedia))
	}
	reg.Register(NewsTool{})
	reg.Register(NewTimeTool(cfg.Time))
	reg.Register(NewWeatherTool(cfg.Weather))
	return reg
}
