package trigrid

// Flags packs the drawing information for one view cell: which face won the
// cell, how much of it is shadowed, and how much water covers it.
type Flags uint8

const (
	FaceLeft  Flags = 0
	FaceRight Flags = 1
	FaceTop   Flags = 2
	FaceMask  Flags = 3

	ShadowNone   Flags = 0
	ShadowBottom Flags = 4
	ShadowTop    Flags = 8
	ShadowFull   Flags = 12
	ShadowMask   Flags = 12
	ShadowShift        = 2

	WaterNone  Flags = 0
	WaterHalf  Flags = 16
	WaterFull  Flags = 32
	WaterMask  Flags = 48
	WaterShift       = 4
)

// FaceOrder is the face of each of a voxel's six cells, in (slab, side) order.
var FaceOrder = [6]Flags{FaceLeft, FaceRight, FaceLeft, FaceRight, FaceTop, FaceTop}

func (f Flags) Face() Flags   { return f & FaceMask }
func (f Flags) Shadow() Flags { return f & ShadowMask }
func (f Flags) Water() Flags  { return f & WaterMask }

func (f Flags) HasWater() bool { return f&WaterMask != 0 }

func (f Flags) WithShadow(s Flags) Flags { return (f &^ ShadowMask) | (s & ShadowMask) }
func (f Flags) WithWater(w Flags) Flags  { return (f &^ WaterMask) | (w & WaterMask) }

func (f Flags) String() string {
	face := [...]string{"L", "R", "T", "?"}[f.Face()]
	shadow := [...]string{"-", "b", "t", "f"}[f.Shadow()>>ShadowShift]
	water := [...]string{"-", "h", "f", "?"}[f.Water()>>WaterShift]
	return face + shadow + water
}
