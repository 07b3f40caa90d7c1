package shipping

import (
	"errors"
	"strings"
	"testing"
)

func TestDefaultZonesAreDisjoint(t *testing.T) {
	if _, err := NewTable(DefaultZones()); err != nil {
		t.Fatalf("expected default zones to be valid, got %v", err)
	}
}

func TestTableLookupIsCaseInsensitive(t *testing.T) {
	table := MustDefaultTable()

	zone, ok := table.Lookup(" tx ")
	if !ok {
		t.Fatalf("expected TX to resolve")
	}
	if zone.Name != "Texas" || zone.Rate != 1500 || zone.TransitDays != 1 {
		t.Fatalf("unexpected zone %#v", zone)
	}
	if got := table.Rate("ok"); got != 2500 {
		t.Fatalf("expected 2500 for OK, got %d", got)
	}
}

func TestTableRateUnknownState(t *testing.T) {
	table := MustDefaultTable()
	for _, state := range []string{"", "  ", "ZZ", "PR"} {
		if got := table.Rate(state); got != 0 {
			t.Fatalf("expected 0 for %q, got %d", state, got)
		}
	}
}

func TestNewTableRejectsOverlap(t *testing.T) {
	_, err := NewTable([]Zone{
		{Name: "A", States: []string{"TX", "OK"}, Rate: 100},
		{Name: "B", States: []string{"ok"}, Rate: 200},
	})
	if !errors.Is(err, ErrOverlappingZones) {
		t.Fatalf("expected ErrOverlappingZones, got %v", err)
	}
	if !strings.Contains(err.Error(), "OK (A, B)") {
		t.Fatalf("expected overlap detail, got %v", err)
	}
}

func TestNewTableRejectsInvalidZones(t *testing.T) {
	cases := map[string][]Zone{
		"missing name":  {{Name: " ", States: []string{"TX"}}},
		"negative rate": {{Name: "A", States: []string{"TX"}, Rate: -1}},
	}
	for name, zones := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewTable(zones); !errors.Is(err, ErrInvalidZone) {
				t.Fatalf("expected ErrInvalidZone, got %v", err)
			}
		})
	}
}

func TestLoadTableFromYAML(t *testing.T) {
	doc := `
zones:
  - name: Local
    states: [tx]
    rate: 999
    transitDays: 1
  - name: Far
    states: [CA, wa]
    rate: 4999
    transitDays: 4
`
	table, err := LoadTable(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := table.Rate("WA"); got != 4999 {
		t.Fatalf("expected 4999 for WA, got %d", got)
	}
	zones := table.Zones()
	if len(zones) != 2 || zones[1].States[1] != "WA" {
		t.Fatalf("expected normalized states, got %#v", zones)
	}
}

func TestLoadTableRejectsUnknownFields(t *testing.T) {
	doc := "zones:\n  - name: Local\n    states: [TX]\n    price: 10\n"
	if _, err := LoadTable(strings.NewReader(doc)); err == nil {
		t.Fatalf("expected decode error for unknown field")
	}
}
