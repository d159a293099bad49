package isomath

// World box. Every voxel coordinate the core sees satisfies InBounds.
const (
	Size   = 48 // x and z extent
	Height = 16 // y extent
)

// MaxDepth is the largest view or light depth a voxel inside the box can have.
const MaxDepth = (Size - 1) + (Size - 1) + (Height - 1)

func InBounds(x, y, z int) bool {
	return 0 <= x && x < Size && 0 <= y && y < Height && 0 <= z && z < Size
}

// ViewDepth is the distance along the camera axis. The camera looks from +x+z
// toward the origin, from above; smaller is nearer.
func ViewDepth(x, y, z int) int {
	return x + z + (Height - 1 - y)
}

// LightDepth is the distance along the light axis; smaller is nearer the light.
func LightDepth(x, y, z int) int {
	return x + (Size - 1 - z) + (Height - 1 - y)
}

// ToLightSpace reflects z so the light axis lines up with the camera axis.
// ViewDepth(ToLightSpace(p)) == LightDepth(p).
func ToLightSpace(x, y, z int) (sx, sy, sz int) {
	return Size - 1 - z, y, x
}

// FromLightSpace is the inverse of ToLightSpace.
func FromLightSpace(sx, sy, sz int) (x, y, z int) {
	return sz, sy, Size - 1 - sx
}

func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
