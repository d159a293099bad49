package observerproto

import "encoding/json"

// Version is the observer protocol version.
const Version = "1.0"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeCells     = "CELLS"
	TypeDelta     = "DELTA"
	TypeEdit      = "EDIT"
	TypeEditAck   = "EDIT_ACK"
	TypeError     = "ERROR"
)

// BaseMessage routes any observer message by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	ID              string `json:"id,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// EncodingRLE marks a base64(varint pairs) byte plane, see internal/sim/encoding.
const EncodingRLE = "RLE_U8"

// Client -> Server. First message on the observer WS connection.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

// HTTP response for GET /v1/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	Seq             uint64      `json:"seq"`
	WorldParams     WorldParams `json:"world_params"`
	BlockPalette    []string    `json:"block_palette"`
	PaletteDigest   string      `json:"palette_digest"`

	// Layers holds one RLE plane per y, in store layer order (x-major, z fastest).
	Encoding string      `json:"encoding"`
	Layers   []string    `json:"layers"`
	Rows     []RowInfo   `json:"rows"`
	Player   PlayerState `json:"player"`
}

type WorldParams struct {
	Size      int    `json:"size"`
	Height    int    `json:"height"`
	RowCount  int    `json:"row_count"`
	TriCount  int    `json:"tri_count"`
	Slot      int    `json:"slot"`
	Seed      int64  `json:"seed"`
	Generator string `json:"generator"`
}

type RowInfo struct {
	Start    int `json:"start"`
	Width    int `json:"width"`
	Offset   int `json:"offset"`
	PxOffset int `json:"px_offset"`
}

type PlayerState struct {
	Pos   [3]int `json:"pos"`
	Block string `json:"block"`
	// Hidden is true when a block sits between the player and the camera.
	Hidden bool `json:"hidden"`
}

// Server -> Client. The whole view buffer as three RLE byte planes of
// tri_count entries each. Sent on subscribe and after a subscriber fell behind.
type CellsMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Seq             uint64      `json:"seq"`
	Encoding        string      `json:"encoding"`
	Tex             string      `json:"tex"`
	Flags           string      `json:"flags"`
	Depth           string      `json:"depth"`
	Player          PlayerState `json:"player"`
}

// Server -> Client. View cells rewritten by one edit.
type DeltaMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Seq             uint64      `json:"seq"`
	Op              string      `json:"op"`
	Cells           []CellDelta `json:"cells"`
	Player          PlayerState `json:"player"`
}

type CellDelta struct {
	I     int   `json:"i"`
	Tex   uint8 `json:"tex"`
	Flags uint8 `json:"flags"`
	Depth uint8 `json:"depth"`
}

const (
	OpPlace    = "PLACE"
	OpRemove   = "REMOVE"
	OpWater    = "WATER"
	OpInteract = "INTERACT"
	OpMove     = "MOVE"
	OpSelect   = "SELECT"
)

// Client -> Server. Pos is used by PLACE/REMOVE/WATER, Delta by MOVE.
// INTERACT acts at the player's position with the selected block. Block is a
// palette name; SELECT without one cycles to the next selectable block.
type EditMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	ID              string  `json:"id,omitempty"`
	Op              string  `json:"op"`
	Pos             *[3]int `json:"pos,omitempty"`
	Delta           *[3]int `json:"delta,omitempty"`
	Block           string  `json:"block,omitempty"`
}

// Server -> Client. Reply to an EDIT.
type EditAckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id,omitempty"`
	Seq             uint64 `json:"seq"`
	Op              string `json:"op"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
