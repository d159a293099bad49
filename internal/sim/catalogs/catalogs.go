package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// BlockID is the value stored per voxel. AIR and WATER are reserved; every id
// above WATER is an opaque solid.
type BlockID uint8

const (
	Air BlockID = iota
	Water
	Stone
	Grass
	Dirt
	Cobble
	Planks
	Bricks
	Slabs
	Wood
	Leaves
	Sand
	Books
	TNT
	Crafting
	Furnace
	Jukebox
	Sponge
	Gravel
	Moss
	CoalOre
	IronOre
	Bedrock
	Iron
	Gold

	blockCount
)

func (b BlockID) IsAir() bool   { return b == Air }
func (b BlockID) IsWater() bool { return b == Water }
func (b BlockID) IsSolid() bool { return b > Water }

var builtinNames = [blockCount]string{
	Air:      "AIR",
	Water:    "WATER",
	Stone:    "STONE",
	Grass:    "GRASS",
	Dirt:     "DIRT",
	Cobble:   "COBBLE",
	Planks:   "PLANKS",
	Bricks:   "BRICKS",
	Slabs:    "SLABS",
	Wood:     "WOOD",
	Leaves:   "LEAVES",
	Sand:     "SAND",
	Books:    "BOOKS",
	TNT:      "TNT",
	Crafting: "CRAFTING",
	Furnace:  "FURNACE",
	Jukebox:  "JUKEBOX",
	Sponge:   "SPONGE",
	Gravel:   "GRAVEL",
	Moss:     "MOSS",
	CoalOre:  "COAL_ORE",
	IronOre:  "IRON_ORE",
	Bedrock:  "BEDROCK",
	Iron:     "IRON",
	Gold:     "GOLD",
}

func (b BlockID) String() string {
	if int(b) < len(builtinNames) {
		return builtinNames[b]
	}
	return fmt.Sprintf("BLOCK_%d", uint8(b))
}

type BlockCatalog struct {
	Palette       []string
	Index         map[string]BlockID
	Defs          map[string]BlockDef
	PaletteDigest string
}

type BlockDef struct {
	ID         string `json:"id"`
	Selectable bool   `json:"selectable"`
}

// Default returns the built-in palette; every block except AIR is selectable.
func Default() *BlockCatalog {
	defs := make([]BlockDef, 0, len(builtinNames))
	for i, name := range builtinNames {
		defs = append(defs, BlockDef{ID: name, Selectable: i != int(Air)})
	}
	c, err := build(defs)
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads <configDir>/blocks.json. A missing file falls back to Default.
// The file lists block defs in id order; AIR and WATER must be ids 0 and 1.
func Load(configDir string) (*BlockCatalog, error) {
	raw, err := os.ReadFile(filepath.Join(configDir, "blocks.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	var defs []BlockDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("blocks.json: %w", err)
	}
	c, err := build(defs)
	if err != nil {
		return nil, fmt.Errorf("blocks.json: %w", err)
	}
	return c, nil
}

func build(defs []BlockDef) (*BlockCatalog, error) {
	if len(defs) < 2 || defs[0].ID != "AIR" || defs[1].ID != "WATER" {
		return nil, fmt.Errorf("palette must start with AIR, WATER")
	}
	if len(defs) > 256 {
		return nil, fmt.Errorf("palette too large: %d", len(defs))
	}
	c := &BlockCatalog{
		Palette: make([]string, 0, len(defs)),
		Index:   make(map[string]BlockID, len(defs)),
		Defs:    make(map[string]BlockDef, len(defs)),
	}
	for i, d := range defs {
		if d.ID == "" {
			return nil, fmt.Errorf("empty id at %d", i)
		}
		if _, dup := c.Defs[d.ID]; dup {
			return nil, fmt.Errorf("duplicate id %s", d.ID)
		}
		c.Palette = append(c.Palette, d.ID)
		c.Index[d.ID] = BlockID(i)
		c.Defs[d.ID] = d
	}
	palJSON, _ := json.Marshal(c.Palette)
	c.PaletteDigest = sha256Hex(palJSON)
	return c, nil
}

// Selectable lists the block ids a player may cycle through, in palette order.
func (c *BlockCatalog) Selectable() []BlockID {
	out := make([]BlockID, 0, len(c.Palette))
	for i, id := range c.Palette {
		if c.Defs[id].Selectable {
			out = append(out, BlockID(i))
		}
	}
	return out
}

// Next returns the selectable block after cur, wrapping around.
func (c *BlockCatalog) Next(cur BlockID) BlockID {
	sel := c.Selectable()
	if len(sel) == 0 {
		return cur
	}
	for i, b := range sel {
		if b == cur {
			return sel[(i+1)%len(sel)]
		}
	}
	return sel[0]
}

func (c *BlockCatalog) Name(b BlockID) string {
	if int(b) < len(c.Palette) {
		return c.Palette[b]
	}
	return b.String()
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
