package followup

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

const validTemplateYAML = `
templates:
  - id: nudge-1
    scenario: no_phone
    delay: 2h
    body: "Could you share a phone number?"
    timezone: UTC
    open_from: "09:00"
    open_to: "18:00"
    weekdays: [mon, tue, wed, thu, fri]
  - id: confirm
    scenario: phone_available
    delay: 15m
    body: "Thanks, we will call you."
`

func TestParseTemplatesValid(t *testing.T) {
	snap, err := ParseTemplates([]byte(validTemplateYAML))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if snap.Len() != 2 {
		t.Fatalf("expected 2 templates, got %d", snap.Len())
	}

	noPhone := snap.For(uuid.New(), ScenarioNoPhone)
	if len(noPhone) != 1 || noPhone[0].ID != "nudge-1" {
		t.Fatalf("expected the no_phone template, got %+v", noPhone)
	}
	if noPhone[0].Delay != 2*time.Hour {
		t.Fatalf("expected 2h delay, got %v", noPhone[0].Delay)
	}
	if noPhone[0].WeekdayAllowed(time.Saturday) {
		t.Fatal("expected Saturday to be disallowed")
	}
	if !noPhone[0].WeekdayAllowed(time.Monday) {
		t.Fatal("expected Monday to be allowed")
	}
}

func TestParseTemplatesRejectsUnknownScenario(t *testing.T) {
	_, err := ParseTemplates([]byte(`
templates:
  - id: bad
    scenario: carrier_pigeon
    delay: 1h
    body: "hi"
`))
	if err == nil || !strings.Contains(err.Error(), "unknown scenario") {
		t.Fatalf("expected unknown scenario error, got %v", err)
	}
}

func TestParseTemplatesRejectsInvertedWindow(t *testing.T) {
	_, err := ParseTemplates([]byte(`
templates:
  - id: bad
    scenario: no_phone
    delay: 1h
    body: "hi"
    timezone: UTC
    open_from: "18:00"
    open_to: "09:00"
`))
	if err == nil || !strings.Contains(err.Error(), "open_from must precede open_to") {
		t.Fatalf("expected window order error, got %v", err)
	}
}

func TestParseTemplatesRejectsNegativeDelay(t *testing.T) {
	_, err := ParseTemplates([]byte(`
templates:
  - id: bad
    scenario: no_phone
    delay: -5m
    body: "hi"
`))
	if err == nil || !strings.Contains(err.Error(), "invalid delay") {
		t.Fatalf("expected delay error, got %v", err)
	}
}

func TestParseTemplatesRejectsUnknownTimezone(t *testing.T) {
	_, err := ParseTemplates([]byte(`
templates:
  - id: bad
    scenario: no_phone
    delay: 1h
    body: "hi"
    timezone: Mars/Olympus
    open_from: "09:00"
    open_to: "18:00"
`))
	if err == nil || !strings.Contains(err.Error(), "unknown timezone") {
		t.Fatalf("expected timezone error, got %v", err)
	}
}

func TestSnapshotBusinessSpecificBeatsGlobal(t *testing.T) {
	businessID := uuid.New()
	snap := NewTemplateSnapshot([]Template{
		{ID: "global", Scenario: ScenarioNoPhone, Body: "hi"},
		{ID: "custom", BusinessID: businessID, Scenario: ScenarioNoPhone, Body: "hi there"},
	})

	got := snap.For(businessID, ScenarioNoPhone)
	if len(got) != 1 || got[0].ID != "custom" {
		t.Fatalf("expected business-specific template only, got %+v", got)
	}

	other := snap.For(uuid.New(), ScenarioNoPhone)
	if len(other) != 1 || other[0].ID != "global" {
		t.Fatalf("expected global fallback, got %+v", other)
	}
}

func TestParseTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("09:30")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if tod.Hour != 9 || tod.Minute != 30 {
		t.Fatalf("expected 09:30, got %+v", tod)
	}

	if _, err := ParseTimeOfDay("25:00"); err == nil {
		t.Fatal("expected out of range error")
	}
	if _, err := ParseTimeOfDay("not a time"); err == nil {
		t.Fatal("expected parse error")
	}
}
