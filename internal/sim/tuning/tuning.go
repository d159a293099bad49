package tuning

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"isocraft.ai/internal/sim/world/logic/isomath"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	Generator string `yaml:"generator"`
	Seed      int64  `yaml:"seed"`
	Slot      int    `yaml:"slot"`

	Terrain   Terrain   `yaml:"terrain"`
	Observer  Observer  `yaml:"observer"`
	Journal   Journal   `yaml:"journal"`
	EditQueue EditQueue `yaml:"edit_queue"`
}

type Terrain struct {
	WaterLevel  int `yaml:"water_level"`
	TreeCount   int `yaml:"tree_count"`
	OrePermille int `yaml:"ore_permille"`
}

type Observer struct {
	// DeltaBuffer is the per-subscriber queue length before deltas are dropped.
	DeltaBuffer    int `yaml:"delta_buffer"`
	MaxConnections int `yaml:"max_connections"`
	WriteTimeoutMs int `yaml:"write_timeout_ms"`
	MaxMessageKB   int `yaml:"max_message_kb"`
}

type Journal struct {
	Enabled bool `yaml:"enabled"`
}

type EditQueue struct {
	Size int `yaml:"size"`
}

const MaxSlots = 10

// Defaults matches configs/tuning.yaml.
func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		Generator:       "natural",
		Seed:            1,
		Slot:            0,
		Terrain: Terrain{
			WaterLevel:  5,
			TreeCount:   12,
			OrePermille: 100,
		},
		Observer: Observer{
			DeltaBuffer:    64,
			MaxConnections: 16,
			WriteTimeoutMs: 5000,
			MaxMessageKB:   64,
		},
		Journal:   Journal{Enabled: true},
		EditQueue: EditQueue{Size: 256},
	}
}

// Load reads a YAML file over the defaults. An empty path yields the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		t.Normalize()
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Normalize fills zero values that have an obvious default.
func (t *Tuning) Normalize() {
	d := Defaults()
	t.ProtocolVersion = strings.TrimSpace(t.ProtocolVersion)
	if t.ProtocolVersion == "" {
		t.ProtocolVersion = d.ProtocolVersion
	}
	t.Generator = strings.ToLower(strings.TrimSpace(t.Generator))
	if t.Generator == "" {
		t.Generator = d.Generator
	}
	if t.Observer.DeltaBuffer <= 0 {
		t.Observer.DeltaBuffer = d.Observer.DeltaBuffer
	}
	if t.Observer.MaxConnections <= 0 {
		t.Observer.MaxConnections = d.Observer.MaxConnections
	}
	if t.Observer.WriteTimeoutMs <= 0 {
		t.Observer.WriteTimeoutMs = d.Observer.WriteTimeoutMs
	}
	if t.Observer.MaxMessageKB <= 0 {
		t.Observer.MaxMessageKB = d.Observer.MaxMessageKB
	}
	if t.EditQueue.Size <= 0 {
		t.EditQueue.Size = d.EditQueue.Size
	}
}

func (t Tuning) Validate() error {
	switch t.Generator {
	case "natural", "flat", "demo":
	default:
		return fmt.Errorf("unknown generator %q", t.Generator)
	}
	if t.Slot < 0 || t.Slot >= MaxSlots {
		return fmt.Errorf("slot out of range: %d", t.Slot)
	}
	if t.Terrain.WaterLevel < 0 || t.Terrain.WaterLevel > isomath.Height-2 {
		return fmt.Errorf("terrain.water_level out of range: %d", t.Terrain.WaterLevel)
	}
	if t.Terrain.TreeCount < 0 {
		return fmt.Errorf("terrain.tree_count must be >= 0")
	}
	if t.Terrain.OrePermille < 0 || t.Terrain.OrePermille > 1000 {
		return fmt.Errorf("terrain.ore_permille out of range: %d", t.Terrain.OrePermille)
	}
	return nil
}
