// Package refdata resolves the colour and size identifiers used by the
// Retail Express product catalogue.
package refdata

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Tables holds the id/name pairs for colours and sizes.
type Tables struct {
	Colours map[int]string `yaml:"colours"`
	Sizes   map[int]string `yaml:"sizes"`

	colourIDs map[string]int
	sizeIDs   map[string]int
}

// Default returns the tables shipped with the connector.
func Default() *Tables {
	t, err := Parse(defaultsYAML)
	if err != nil {
		panic(fmt.Sprintf("refdata: embedded defaults are invalid: %v", err))
	}
	return t
}

// Load reads reference tables from a YAML file.
func Load(path string) (*Tables, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read reference data: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Tables, error) {
	var t Tables
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("failed to parse reference data: %w", err)
	}
	t.colourIDs = reverse(t.Colours)
	t.sizeIDs = reverse(t.Sizes)
	return &t, nil
}

func reverse(m map[int]string) map[string]int {
	out := make(map[string]int, len(m))
	for id, name := range m {
		key := strings.ToLower(name)
		// keep the lowest id when a name is listed twice
		if existing, ok := out[key]; ok && existing < id {
			continue
		}
		out[key] = id
	}
	return out
}

// Colour returns the colour name for a backend id. The id may be any integer
// or numeric string.
func (t *Tables) Colour(id any) (string, error) {
	return lookup("colour", t.Colours, id)
}

// ColourID returns the backend id for a colour name (case-insensitive).
func (t *Tables) ColourID(name string) (int, error) {
	return lookupID("colour", t.colourIDs, name)
}

func (t *Tables) Size(id any) (string, error) {
	return lookup("size", t.Sizes, id)
}

func (t *Tables) SizeID(name string) (int, error) {
	return lookupID("size", t.sizeIDs, name)
}

func lookup(kind string, table map[int]string, raw any) (string, error) {
	id, err := toInt(raw)
	if err != nil {
		return "", fmt.Errorf("invalid %s id %v: %w", kind, raw, err)
	}
	name, ok := table[id]
	if !ok {
		return "", fmt.Errorf("unknown %s id %d", kind, id)
	}
	return name, nil
}

func lookupID(kind string, table map[string]int, name string) (int, error) {
	id, ok := table[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown %s %q", kind, name)
	}
	return id, nil
}

func toInt(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(t))
	case nil:
		return 0, fmt.Errorf("missing value")
	}
	return 0, fmt.Errorf("unsupported type %T", v)
}
