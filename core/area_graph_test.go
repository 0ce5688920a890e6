package core

import (
	"reflect"
	"testing"
	"time"

	"github.com/signalsfoundry/huntsync/model"
)

var graphNow = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

func vos(id string, area model.Area, startedAt string, lat, lng float64) model.SearchEntity {
	return model.SearchEntity{ID: id, Area: area, StartedAt: startedAt, Lat: lat, Lng: lng, CircleEnabled: true}
}

func TestBuildAreaGraphOrdersByStartedAt(t *testing.T) {
	entities := []model.SearchEntity{
		vos("v2", model.AreaAlpha, "2024-01-01T11:00:00Z", 52.1, 6.0),
		vos("v1", model.AreaAlpha, "2024-01-01T10:00:00Z", 52.0, 5.9),
		vos("b1", model.AreaBravo, "2024-01-01T09:00:00Z", 51.9, 5.8),
	}

	g := BuildAreaGraph(entities, graphNow)

	if g.Version != graphNow.UnixMilli() {
		t.Fatalf("Version = %d, want %d", g.Version, graphNow.UnixMilli())
	}
	alpha, ok := g.Areas[model.AreaAlpha]
	if !ok {
		t.Fatalf("Alpha missing from graph: %+v", g)
	}
	if want := []string{"v1", "v2"}; !reflect.DeepEqual(alpha.Order, want) {
		t.Fatalf("Alpha order = %v, want %v", alpha.Order, want)
	}
	if alpha.NewestID != "v2" {
		t.Fatalf("Alpha newest = %q, want v2", alpha.NewestID)
	}
	if want := [][2]float64{{52.0, 5.9}, {52.1, 6.0}}; !reflect.DeepEqual(alpha.Coords, want) {
		t.Fatalf("Alpha coords = %v, want %v", alpha.Coords, want)
	}
	if g.Areas[model.AreaBravo].NewestID != "b1" {
		t.Fatalf("Bravo newest = %q, want b1", g.Areas[model.AreaBravo].NewestID)
	}
	if _, ok := g.Areas[model.AreaCharlie]; ok {
		t.Fatalf("empty area Charlie should not appear")
	}
}

func TestBuildAreaGraphTiesKeepInsertionOrder(t *testing.T) {
	same := "2024-01-01T10:00:00Z"
	entities := []model.SearchEntity{
		vos("first", model.AreaEcho, same, 52, 5),
		vos("second", model.AreaEcho, same, 52, 5),
		vos("third", model.AreaEcho, same, 52, 5),
	}

	g := BuildAreaGraph(entities, graphNow)
	if want := []string{"first", "second", "third"}; !reflect.DeepEqual(g.Areas[model.AreaEcho].Order, want) {
		t.Fatalf("order = %v, want %v", g.Areas[model.AreaEcho].Order, want)
	}
}

func TestBuildAreaGraphUnparsableSortsAsEpoch(t *testing.T) {
	entities := []model.SearchEntity{
		vos("dated", model.AreaGolf, "2024-01-01T10:00:00Z", 52, 5),
		vos("garbage", model.AreaGolf, "not a time", 52, 5),
		vos("empty", model.AreaGolf, "", 52, 5),
	}

	g := BuildAreaGraph(entities, graphNow)
	if want := []string{"garbage", "empty", "dated"}; !reflect.DeepEqual(g.Areas[model.AreaGolf].Order, want) {
		t.Fatalf("order = %v, want %v", g.Areas[model.AreaGolf].Order, want)
	}
}

func TestBuildAreaGraphEmpty(t *testing.T) {
	g := BuildAreaGraph(nil, graphNow)
	if g.Areas == nil || len(g.Areas) != 0 {
		t.Fatalf("Areas = %#v, want empty non-nil map", g.Areas)
	}
}

func TestBuildAreaGraphIdempotent(t *testing.T) {
	entities := []model.SearchEntity{
		vos("a", model.AreaHotel, "2024-01-01T10:00:00Z", 52, 5),
		vos("b", model.AreaHotel, "2024-01-01T09:00:00Z", 52.2, 5.1),
	}
	first := BuildAreaGraph(entities, graphNow)
	second := BuildAreaGraph(entities, graphNow.Add(time.Minute))

	if !SameHistory(first, second) {
		t.Fatalf("graphs differ: %+v vs %+v", first, second)
	}
	if first.Version == second.Version {
		t.Fatalf("expected versions to differ")
	}
}

func TestBuildAreaGraphNewestIsMaxStartedAt(t *testing.T) {
	stamps := []string{
		"2024-01-01T08:00:00Z",
		"2024-01-01T12:30:00+02:00", // 10:30Z
		"2024-01-01T10:15:00Z",
		"2024-01-01T09:59:59.999Z",
	}
	var entities []model.SearchEntity
	for i, s := range stamps {
		entities = append(entities, vos(string(rune('a'+i)), model.AreaOscar, s, 52, 5))
	}

	g := BuildAreaGraph(entities, graphNow)
	if got := g.Areas[model.AreaOscar].NewestID; got != "b" {
		t.Fatalf("newest = %q, want b", got)
	}
}

func TestBuildAreaGraphFarFutureStartedAt(t *testing.T) {
	// Beyond the range of UnixNano.
	entities := []model.SearchEntity{
		vos("far", model.AreaAlpha, "2300-01-01T00:00:00Z", 52, 5),
		vos("now", model.AreaAlpha, "2024-01-01T10:00:00Z", 52.1, 5.1),
		vos("ancient", model.AreaAlpha, "1500-06-01T00:00:00Z", 52.2, 5.2),
	}

	g := BuildAreaGraph(entities, graphNow)
	alpha := g.Areas[model.AreaAlpha]
	if want := []string{"ancient", "now", "far"}; !reflect.DeepEqual(alpha.Order, want) {
		t.Fatalf("order = %v, want %v", alpha.Order, want)
	}
	if alpha.NewestID != "far" {
		t.Fatalf("newest = %q, want far", alpha.NewestID)
	}
}

func TestSameHistoryDetectsChanges(t *testing.T) {
	base := []model.SearchEntity{vos("a", model.AreaDelta, "2024-01-01T10:00:00Z", 52, 5)}
	moved := []model.SearchEntity{vos("a", model.AreaDelta, "2024-01-01T10:00:00Z", 52.5, 5)}

	if SameHistory(BuildAreaGraph(base, graphNow), BuildAreaGraph(moved, graphNow)) {
		t.Fatalf("expected coordinate change to be detected")
	}
}
