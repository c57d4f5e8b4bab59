package decode

import (
	"testing"
	"time"
)

type payload struct {
	ID      string    `json:"id"`
	Count   int64     `json:"count"`
	Members []string  `json:"members"`
	At      time.Time `json:"at"`
}

func TestMap(t *testing.T) {
	m := map[string]any{
		"id":      "m1",
		"count":   float64(3),
		"members": []any{"a", "b"},
		"at":      "2024-01-15T10:30:00Z",
	}
	got, err := Map[payload](m)
	if err != nil {
		t.Fatalf("Map() error = %v", err)
	}
	if got.ID != "m1" || got.Count != 3 || len(got.Members) != 2 || got.Members[1] != "b" {
		t.Errorf("Map() = %+v", got)
	}
	if want := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC); !got.At.Equal(want) {
		t.Errorf("At = %v, want %v", got.At, want)
	}
}

func TestMapStrict(t *testing.T) {
	if _, err := Map[payload](nil); err == nil {
		t.Error("Map(nil) succeeded")
	}
	_, err := Map[payload](map[string]any{"id": "x", "extra": 1}, Options{ErrorUnused: true})
	if err == nil {
		t.Error("unused field accepted with ErrorUnused")
	}
}
