package profile

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestPairKeyUnordered(t *testing.T) {
	if PairKey("light-a", "light-b") != PairKey("light-b", "light-a") {
		t.Error("PairKey should not depend on argument order")
	}
	if got := PairKey("2", "10"); got != "10+2" {
		t.Errorf("PairKey(2, 10) = %q, want lexicographic order", got)
	}
}

func TestTotalContribution(t *testing.T) {
	p := &Profile{
		Contributions: map[string]Contribution{
			"1": {MaxContribution: 50},
			"2": {MaxContribution: 30.5},
		},
	}
	if got := p.TotalContribution(); got != 80.5 {
		t.Errorf("TotalContribution() = %v, want 80.5", got)
	}

	empty := &Profile{}
	if got := empty.TotalContribution(); got != 0 {
		t.Errorf("TotalContribution() on empty profile = %v, want 0", got)
	}
}

func TestContributingLightsSorted(t *testing.T) {
	p := &Profile{
		Contributions: map[string]Contribution{
			"3": {}, "1": {}, "2": {},
		},
	}
	want := []string{"1", "2", "3"}
	if got := p.ContributingLights(); !reflect.DeepEqual(got, want) {
		t.Errorf("ContributingLights() = %v, want %v", got, want)
	}
}

func TestProfileJSONShape(t *testing.T) {
	p := &Profile{
		Room:   "office",
		Sensor: "5",
		MinLux: 5,
		MaxLux: 89,
		Contributions: map[string]Contribution{
			"1": {MaxContribution: 50, BaseLux: 5, WithLightLux: 55, LinearValidated: true},
		},
		ValidationResults: map[string]PairValidation{
			"1+2": {Expected: 80, Actual: 78, ErrorPercent: 2.5, Valid: true},
		},
		SettleTimeSeconds: 4,
		ExcludedLights:    []string{"7"},
		Timestamp:         time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"room", "min_lux", "max_lux", "light_contributions", "validation_results", "settle_time_seconds", "excluded_lights"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("serialized profile missing %q key", key)
		}
	}
}
