package gen

import (
	"fmt"

	"github.com/aquilax/go-perlin"

	"isocraft.ai/internal/sim/catalogs"
	"isocraft.ai/internal/sim/world/logic/isomath"
	"isocraft.ai/internal/sim/world/terrain/store"
)

type Kind string

const (
	KindNatural Kind = "natural"
	KindFlat    Kind = "flat"
	KindDemo    Kind = "demo"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindNatural, KindFlat, KindDemo:
		return k, nil
	case "":
		return KindNatural, nil
	default:
		return "", fmt.Errorf("unknown generator %q", s)
	}
}

// Params tune the natural generator. Zero values take the defaults below.
type Params struct {
	Seed       int64
	WaterLevel int
	TreeCount  int
	// OrePermille is the chance, per stone voxel, of turning into ore. Coal
	// and iron split it evenly.
	OrePermille int
}

const (
	DefaultWaterLevel  = 5
	DefaultTreeCount   = 12
	DefaultOrePermille = 100

	gridStep = 8
	gridSize = isomath.Size/gridStep + 1

	minHeight = 3
	maxHeight = 12

	noiseFreq = 0.37
)

func (p Params) withDefaults() Params {
	if p.WaterLevel <= 0 {
		p.WaterLevel = DefaultWaterLevel
	}
	if p.WaterLevel > isomath.Height-2 {
		p.WaterLevel = isomath.Height - 2
	}
	if p.TreeCount < 0 {
		p.TreeCount = 0
	} else if p.TreeCount == 0 {
		p.TreeCount = DefaultTreeCount
	}
	if p.OrePermille <= 0 {
		p.OrePermille = DefaultOrePermille
	}
	p.OrePermille = clampPermille(p.OrePermille)
	return p
}

// Spawn is where the player starts after generation.
type Spawn struct {
	X, Y, Z int
}

// Generate clears s and fills it with the requested world.
func Generate(kind Kind, s *store.Store, p Params) (Spawn, error) {
	s.Clear()
	switch kind {
	case KindNatural, "":
		return Natural(s, p), nil
	case KindFlat:
		return Flat(s), nil
	case KindDemo:
		return Demo(s), nil
	default:
		return Spawn{}, fmt.Errorf("unknown generator %q", kind)
	}
}

// Natural builds rolling terrain over a bedrock floor with a water table,
// beaches, trees and scattered ore. Output depends only on p.Seed.
func Natural(s *store.Store, p Params) Spawn {
	p = p.withDefaults()
	const last = isomath.Size - 1

	s.Fill(store.Box(0, 0, 0, last, 0, last), catalogs.Bedrock)
	s.Fill(store.Box(0, 1, 0, last, p.WaterLevel, last), catalogs.Water)

	grid := heightGrid(p.Seed)
	for x := 0; x < isomath.Size; x++ {
		for z := 0; z < isomath.Size; z++ {
			h := lerpHeight(&grid, x, z)
			if h > 3 {
				s.Fill(store.Box(x, 1, z, x, h-3, z), catalogs.Stone)
				s.Fill(store.Box(x, h-2, z, x, h, z), catalogs.Dirt)
			} else {
				s.Fill(store.Box(x, 1, z, x, h, z), catalogs.Dirt)
			}
			if h >= p.WaterLevel {
				s.Set(x, h, z, catalogs.Grass)
			}
		}
	}

	addBeaches(s, p.WaterLevel)
	addTrees(s, p)
	addOre(s, p)

	return Spawn{X: isomath.Size / 2, Y: firstAir(s, isomath.Size/2, isomath.Size/2), Z: isomath.Size / 2}
}

// heightGrid samples a coarse lattice of column heights from Perlin noise.
// Sample points avoid integer coordinates, where Perlin noise is always zero.
func heightGrid(seed int64) [gridSize][gridSize]int {
	noise := perlin.NewPerlin(2, 2, 3, seed)
	var grid [gridSize][gridSize]int
	for gx := range grid {
		for gz := range grid[gx] {
			n := noise.Noise2D((float64(gx)+0.5)*noiseFreq, (float64(gz)+0.5)*noiseFreq)
			// Noise2D stays well inside [-1, 1]; stretch it over the height range.
			h := minHeight + int((n*1.5+0.5)*float64(maxHeight-minHeight)+0.5)
			grid[gx][gz] = isomath.Clamp(h, minHeight, maxHeight)
		}
	}
	return grid
}

func lerpHeight(grid *[gridSize][gridSize]int, x, z int) int {
	gx, gz := x/gridStep, z/gridStep
	lx, lz := x-gx*gridStep, z-gz*gridStep

	h := grid[gx][gz]*(gridStep-lx)*(gridStep-lz) +
		grid[gx+1][gz]*lx*(gridStep-lz) +
		grid[gx][gz+1]*(gridStep-lx)*lz +
		grid[gx+1][gz+1]*lx*lz
	return h / (gridStep * gridStep)
}

// addBeaches turns exposed ground at the water line into sand when water is
// within two columns.
func addBeaches(s *store.Store, waterLevel int) {
	for y := waterLevel - 1; y <= waterLevel; y++ {
		for x := 0; x < isomath.Size; x++ {
			for z := 0; z < isomath.Size; z++ {
				if b := s.Get(x, y, z); b != catalogs.Grass && b != catalogs.Dirt {
					continue
				}
				if y >= isomath.Height-1 || s.Get(x, y+1, z).IsSolid() {
					continue
				}
				if nearWater(s, x, y, z) {
					s.Set(x, y, z, catalogs.Sand)
				}
			}
		}
	}
}

func nearWater(s *store.Store, x, y, z int) bool {
	for dy := -1; dy <= 1; dy++ {
		for dx := -2; dx <= 2; dx++ {
			for dz := -2; dz <= 2; dz++ {
				if s.Get(x+dx, y+dy, z+dz).IsWater() {
					return true
				}
			}
		}
	}
	return false
}

func addTrees(s *store.Store, p Params) {
	span := uint64(isomath.Size - 1 - 4)
	for i := 0; i < p.TreeCount; i++ {
		h := hash2(p.Seed, i, 0x7ee)
		x := 2 + int(h%span)
		z := 2 + int((h>>20)%span)

		y := isomath.Height - 8
		if !s.Get(x, y+1, z).IsAir() {
			continue
		}
		for y > 0 && s.Get(x, y, z).IsAir() {
			y--
		}
		if s.Get(x, y, z) != catalogs.Grass {
			continue
		}
		AddTree(s, x, y+1, z)
		s.Set(x, y, z, catalogs.Dirt)
	}
}

func addOre(s *store.Store, p Params) {
	for y := 1; y < isomath.Height; y++ {
		for x := 0; x < isomath.Size; x++ {
			for z := 0; z < isomath.Size; z++ {
				if s.Get(x, y, z) != catalogs.Stone {
					continue
				}
				roll := int(hash3(p.Seed, x, y, z) % 1000)
				switch {
				case roll < p.OrePermille/2:
					s.Set(x, y, z, catalogs.CoalOre)
				case roll < p.OrePermille:
					s.Set(x, y, z, catalogs.IronOre)
				}
			}
		}
	}
}

// AddTree stamps a tree whose trunk starts at (x,y,z). Parts that fall
// outside the world are dropped.
func AddTree(s *store.Store, x, y, z int) {
	s.Fill(store.Box(x-2, y+3, z-2, x+2, y+4, z+2), catalogs.Leaves)
	s.Fill(store.Box(x-1, y+5, z-1, x+1, y+5, z+1), catalogs.Leaves)

	s.Set(x+1, y+6, z, catalogs.Leaves)
	s.Set(x-1, y+6, z, catalogs.Leaves)
	s.Set(x, y+6, z+1, catalogs.Leaves)
	s.Set(x, y+6, z-1, catalogs.Leaves)
	s.Set(x, y+6, z, catalogs.Leaves)

	s.Fill(store.Box(x, y, z, x, y+5, z), catalogs.Wood)
}

// Flat is a single grass floor.
func Flat(s *store.Store) Spawn {
	s.Fill(store.Box(0, 0, 0, isomath.Size-1, 0, isomath.Size-1), catalogs.Grass)
	return Spawn{X: isomath.Size / 2, Y: 1, Z: isomath.Size / 2}
}

// Demo is a fixed showcase: a house with a flooded floor, a slab pavilion with
// water skylights, a lake, a brick pillar, trees and a stepped gold pyramid.
func Demo(s *store.Store) Spawn {
	const (
		S = isomath.Size
		H = isomath.Height
	)
	s.Fill(store.Box(0, 0, 0, S-1, 0, S-1), catalogs.Grass)
	s.Fill(store.Box(32, 1, 0, S-1, 4, 16), catalogs.Water)
	s.Fill(store.Box(1, 1, S-2, 1, H-1, S-2), catalogs.Bricks)

	for _, t := range [][2]int{{8, 7}, {23, 15}, {4, 26}, {16, 23}, {28, 28}} {
		AddTree(s, t[0], 1, t[1])
	}

	// House.
	s.Fill(store.Box(18, 0, 3, 24, 0, 9), catalogs.Planks)
	s.Fill(store.Box(18, 1, 3, 24, 1, 9), catalogs.Water)
	s.Fill(store.Box(25, 1, 3, 25, 3, 9), catalogs.Bricks)
	s.Fill(store.Box(18, 1, 10, 24, 3, 10), catalogs.Bricks)
	s.Fill(store.Box(17, 1, 3, 17, 1, 9), catalogs.Sand)
	s.Fill(store.Box(17, 1, 10, 17, 3, 10), catalogs.Slabs)
	s.Fill(store.Box(25, 1, 10, 25, 3, 10), catalogs.Slabs)
	s.Fill(store.Box(25, 1, 2, 25, 3, 2), catalogs.Slabs)
	s.Set(18, 2, 3, catalogs.TNT)
	s.Set(19, 1, 3, catalogs.Books)
	s.Set(24, 3, 5, catalogs.Cobble)

	// Pavilion.
	for _, p := range [][2]int{{S - 4, 3}, {S - 10, 3}, {S - 4, 9}, {S - 10, 9}} {
		s.Fill(store.Box(p[0], 1, p[1], p[0], 3, p[1]), catalogs.Slabs)
	}
	s.Fill(store.Box(S-10, 4, 3, S-4, 4, 9), catalogs.Slabs)
	for _, w := range [][2]int{{S - 9, 4}, {S - 6, 4}, {S - 9, 7}, {S - 6, 7}} {
		s.Fill(store.Box(w[0], 4, w[1], w[0]+1, 4, w[1]+1), catalogs.Water)
	}

	for i := 1; i <= 8; i++ {
		s.Fill(store.Box(S-1-i, 9-i, S-1-i, S-1, 9-i, S-1), catalogs.Gold)
	}

	return Spawn{X: 0, Y: 1, Z: 0}
}

func firstAir(s *store.Store, x, z int) int {
	for y := 0; y < isomath.Height; y++ {
		if s.Get(x, y, z).IsAir() {
			return y
		}
	}
	return isomath.Height - 1
}

func clampPermille(v int) int {
	return isomath.Clamp(v, 0, 1000)
}
