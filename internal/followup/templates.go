package followup

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// TimeOfDay is a local wall-clock time within a business day.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// Minutes returns the time of day as minutes since midnight.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var tod TimeOfDay
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &tod.Hour, &tod.Minute); err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q", s)
	}
	if tod.Hour < 0 || tod.Hour > 23 || tod.Minute < 0 || tod.Minute > 59 {
		return TimeOfDay{}, fmt.Errorf("time of day %q out of range", s)
	}
	return tod, nil
}

// Template is one configured follow-up message. Templates with a timezone
// are constrained to the business-hours window; without one, the raw delay
// applies unmodified.
type Template struct {
	ID         string
	BusinessID uuid.UUID // zero value means global
	Scenario   Scenario
	Delay      time.Duration
	Body       string
	Timezone   string
	OpenFrom   TimeOfDay
	OpenTo     TimeOfDay
	Weekdays   map[time.Weekday]bool // nil means every weekday is allowed
}

// WeekdayAllowed reports whether the template may fire on the given weekday.
func (t Template) WeekdayAllowed(d time.Weekday) bool {
	if t.Weekdays == nil {
		return true
	}
	return t.Weekdays[d]
}

// TemplateSnapshot is an immutable view of the follow-up template
// configuration, taken once at startup and passed explicitly into
// scheduling. Nothing reads shared mutable config at dispatch time.
type TemplateSnapshot struct {
	templates []Template
}

// NewTemplateSnapshot builds a snapshot from already-validated templates.
func NewTemplateSnapshot(templates []Template) *TemplateSnapshot {
	copied := make([]Template, len(templates))
	copy(copied, templates)
	return &TemplateSnapshot{templates: copied}
}

// For returns the templates applying to the business and scenario.
// Business-specific templates take precedence over globals.
func (s *TemplateSnapshot) For(businessID uuid.UUID, scenario Scenario) []Template {
	var specific, global []Template
	for _, t := range s.templates {
		if t.Scenario != scenario {
			continue
		}
		switch t.BusinessID {
		case businessID:
			specific = append(specific, t)
		case uuid.Nil:
			global = append(global, t)
		}
	}
	if len(specific) > 0 {
		return specific
	}
	return global
}

// Len returns the number of templates in the snapshot.
func (s *TemplateSnapshot) Len() int {
	return len(s.templates)
}

// ---- YAML loading ----

type templateFile struct {
	Templates []templateYAML `yaml:"templates"`
}

type templateYAML struct {
	ID         string   `yaml:"id"`
	BusinessID string   `yaml:"business_id"`
	Scenario   string   `yaml:"scenario"`
	Delay      string   `yaml:"delay"`
	Body       string   `yaml:"body"`
	Timezone   string   `yaml:"timezone"`
	OpenFrom   string   `yaml:"open_from"`
	OpenTo     string   `yaml:"open_to"`
	Weekdays   []string `yaml:"weekdays"`
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday,
	"wed": time.Wednesday, "thu": time.Thursday, "fri": time.Friday,
	"sat": time.Saturday,
}

// LoadTemplates reads the follow-up template configuration from a YAML file
// and returns an immutable snapshot.
func LoadTemplates(path string) (*TemplateSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	return ParseTemplates(data)
}

// ParseTemplates parses and validates YAML template configuration.
func ParseTemplates(data []byte) (*TemplateSnapshot, error) {
	var file templateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	templates := make([]Template, 0, len(file.Templates))
	for i, raw := range file.Templates {
		tmpl, err := buildTemplate(raw)
		if err != nil {
			return nil, fmt.Errorf("template %d (%s): %w", i, raw.ID, err)
		}
		templates = append(templates, tmpl)
	}
	return NewTemplateSnapshot(templates), nil
}

func buildTemplate(raw templateYAML) (Template, error) {
	if strings.TrimSpace(raw.ID) == "" {
		return Template{}, fmt.Errorf("id is required")
	}
	if strings.TrimSpace(raw.Body) == "" {
		return Template{}, fmt.Errorf("body is required")
	}

	scenario := Scenario(raw.Scenario)
	if !scenario.Valid() {
		return Template{}, fmt.Errorf("unknown scenario %q", raw.Scenario)
	}

	delay, err := time.ParseDuration(raw.Delay)
	if err != nil || delay < 0 {
		return Template{}, fmt.Errorf("invalid delay %q", raw.Delay)
	}

	tmpl := Template{
		ID:       raw.ID,
		Scenario: scenario,
		Delay:    delay,
		Body:     raw.Body,
		Timezone: strings.TrimSpace(raw.Timezone),
	}

	if raw.BusinessID != "" {
		id, err := uuid.Parse(raw.BusinessID)
		if err != nil {
			return Template{}, fmt.Errorf("invalid business_id %q", raw.BusinessID)
		}
		tmpl.BusinessID = id
	}

	if tmpl.Timezone != "" {
		if _, err := time.LoadLocation(tmpl.Timezone); err != nil {
			return Template{}, fmt.Errorf("unknown timezone %q", tmpl.Timezone)
		}
		if tmpl.OpenFrom, err = ParseTimeOfDay(raw.OpenFrom); err != nil {
			return Template{}, err
		}
		if tmpl.OpenTo, err = ParseTimeOfDay(raw.OpenTo); err != nil {
			return Template{}, err
		}
		if tmpl.OpenFrom.Minutes() >= tmpl.OpenTo.Minutes() {
			return Template{}, fmt.Errorf("open_from must precede open_to")
		}
	}

	if len(raw.Weekdays) > 0 {
		tmpl.Weekdays = make(map[time.Weekday]bool, len(raw.Weekdays))
		for _, name := range raw.Weekdays {
			day, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
			if !ok {
				return Template{}, fmt.Errorf("unknown weekday %q", name)
			}
			tmpl.Weekdays[day] = true
		}
	}

	return tmpl, nil
}
