package shipping

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrOverlappingZones indicates a state code assigned to more than one zone.
	ErrOverlappingZones = errors.New("shipping: state assigned to multiple zones")
	// ErrInvalidZone indicates a malformed zone definition.
	ErrInvalidZone = errors.New("shipping: invalid zone")
)

// Zone groups US states sharing a flat shipping rate (cents) and transit time.
type Zone struct {
	Name        string   `yaml:"name" json:"name"`
	States      []string `yaml:"states" json:"states"`
	Rate        int64    `yaml:"rate" json:"rate"`
	TransitDays int      `yaml:"transitDays" json:"transitDays"`
}

// Table is an immutable state to zone lookup.
type Table struct {
	zones   []Zone
	byState map[string]int
}

// DefaultZones is the rate table used when no override file is configured.
func DefaultZones() []Zone {
	return []Zone{
		{Name: "Texas", States: []string{"TX"}, Rate: 1500, TransitDays: 1},
		{Name: "South Central", States: []string{"OK", "LA", "AR", "NM"}, Rate: 2500, TransitDays: 2},
		{Name: "South and Midwest", States: []string{
			"AL", "MS", "TN", "KY", "GA", "FL", "SC", "NC", "MO", "KS", "NE", "IA", "CO",
		}, Rate: 3500, TransitDays: 2},
		{Name: "Mountain and Great Lakes", States: []string{
			"AZ", "UT", "NV", "WY", "MT", "ID", "SD", "ND", "MN", "WI", "IL", "IN", "MI", "OH", "WV", "VA",
		}, Rate: 4500, TransitDays: 3},
		{Name: "Coasts", States: []string{
			"CA", "OR", "WA", "PA", "NY", "NJ", "DE", "MD", "DC", "CT", "RI", "MA", "VT", "NH", "ME",
		}, Rate: 5500, TransitDays: 3},
	}
}

// NewTable validates the zones and builds the lookup index.
// A state may belong to at most one zone.
func NewTable(zones []Zone) (*Table, error) {
	table := &Table{
		zones:   make([]Zone, 0, len(zones)),
		byState: make(map[string]int),
	}
	var overlaps []string
	for _, zone := range zones {
		name := strings.TrimSpace(zone.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: zone name is required", ErrInvalidZone)
		}
		if zone.Rate < 0 {
			return nil, fmt.Errorf("%w: zone %q has a negative rate", ErrInvalidZone, name)
		}
		if zone.TransitDays < 0 {
			return nil, fmt.Errorf("%w: zone %q has negative transit days", ErrInvalidZone, name)
		}
		normalized := Zone{Name: name, Rate: zone.Rate, TransitDays: zone.TransitDays}
		idx := len(table.zones)
		for _, raw := range zone.States {
			code := normalizeState(raw)
			if code == "" {
				continue
			}
			if prev, ok := table.byState[code]; ok {
				overlaps = append(overlaps, fmt.Sprintf("%s (%s, %s)", code, table.zones[prev].Name, name))
				continue
			}
			table.byState[code] = idx
			normalized.States = append(normalized.States, code)
		}
		table.zones = append(table.zones, normalized)
	}
	if len(overlaps) > 0 {
		sort.Strings(overlaps)
		return nil, fmt.Errorf("%w: %s", ErrOverlappingZones, strings.Join(overlaps, ", "))
	}
	return table, nil
}

// MustDefaultTable returns the compiled-in table.
func MustDefaultTable() *Table {
	table, err := NewTable(DefaultZones())
	if err != nil {
		panic(err)
	}
	return table
}

// LoadTable reads zones from a YAML document of the form `zones: [...]`.
func LoadTable(r io.Reader) (*Table, error) {
	var doc struct {
		Zones []Zone `yaml:"zones"`
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("shipping: decode zones: %w", err)
	}
	if len(doc.Zones) == 0 {
		return nil, fmt.Errorf("%w: no zones defined", ErrInvalidZone)
	}
	return NewTable(doc.Zones)
}

// LoadTableFile reads zones from path, falling back to the default table when path is empty.
func LoadTableFile(path string) (*Table, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return NewTable(DefaultZones())
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("shipping: open zones file: %w", err)
	}
	defer f.Close()
	return LoadTable(f)
}

// Lookup returns the zone containing the state code, case-insensitively.
func (t *Table) Lookup(state string) (Zone, bool) {
	if t == nil {
		return Zone{}, false
	}
	idx, ok := t.byState[normalizeState(state)]
	if !ok {
		return Zone{}, false
	}
	return cloneZone(t.zones[idx]), true
}

// Rate returns the flat rate for the state, or 0 when the state is empty or unzoned.
func (t *Table) Rate(state string) int64 {
	zone, ok := t.Lookup(state)
	if !ok {
		return 0
	}
	return zone.Rate
}

// Zones returns a copy of all zones in declaration order.
func (t *Table) Zones() []Zone {
	if t == nil {
		return nil
	}
	out := make([]Zone, len(t.zones))
	for i, zone := range t.zones {
		out[i] = cloneZone(zone)
	}
	return out
}

func cloneZone(z Zone) Zone {
	z.States = append([]string(nil), z.States...)
	return z
}

func normalizeState(state string) string {
	return strings.ToUpper(strings.TrimSpace(state))
}
