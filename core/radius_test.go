package core

import (
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/huntsync/model"
)

func TestRadiusMeters(t *testing.T) {
	start := time.Date(2024, time.January, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		startedAt string
		now       time.Time
		want      float64
	}{
		{name: "one hour", startedAt: "2024-01-01T10:00:00.000Z", now: start.Add(time.Hour), want: 6000},
		{name: "ten seconds", startedAt: "2024-01-01T10:00:00Z", now: start.Add(10 * time.Second), want: 10 * SearchSpeedMps},
		{name: "future start", startedAt: "2024-01-01T11:00:00Z", now: start, want: 0},
		{name: "unparsable", startedAt: "yesterday", now: start, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RadiusMeters(tt.startedAt, tt.now); math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("RadiusMeters() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShowsRadius(t *testing.T) {
	entities := []model.SearchEntity{
		vos("old", model.AreaAlpha, "2024-01-01T10:00:00Z", 52, 5),
		vos("new", model.AreaAlpha, "2024-01-01T11:00:00Z", 52, 5),
	}
	g := BuildAreaGraph(entities, graphNow)

	if ShowsRadius(g, entities[0]) {
		t.Fatalf("older entity must not show a radius")
	}
	if !ShowsRadius(g, entities[1]) {
		t.Fatalf("newest entity with circle enabled must show a radius")
	}
	disabled := entities[1]
	disabled.CircleEnabled = false
	if ShowsRadius(g, disabled) {
		t.Fatalf("newest entity with circle disabled must not show a radius")
	}
}

func TestNormalizeStartedAt(t *testing.T) {
	got, ok := NormalizeStartedAt("2024-01-01T12:00:00+02:00")
	if !ok || got != "2024-01-01T10:00:00.000Z" {
		t.Fatalf("NormalizeStartedAt() = %q, %v; want 2024-01-01T10:00:00.000Z, true", got, ok)
	}
	if _, ok := NormalizeStartedAt("01/01/2024"); ok {
		t.Fatalf("expected non-RFC3339 input to be rejected")
	}
}
