package observerproto_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"isocraft.ai/internal/observerproto"
)

func compileSchema(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	s, err := jsonschema.Compile(filepath.Join("..", "..", "schemas", name))
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return s
}

// asJSONValue round-trips v so the validator sees plain JSON values.
func asJSONValue(t *testing.T, v any) any {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func rawJSON(t *testing.T, s string) any {
	t.Helper()
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		t.Fatalf("bad sample %s: %v", s, err)
	}
	return out
}

var samplePlayer = observerproto.PlayerState{Pos: [3]int{24, 6, 24}, Block: "STONE"}

func TestSchemas_ServerMessages(t *testing.T) {
	rows := make([]observerproto.RowInfo, 127)
	for i := range rows {
		rows[i] = observerproto.RowInfo{Start: i * 60, Width: 60, Offset: -2 * i, PxOffset: i * 8}
	}
	layers := make([]string, 16)
	for i := range layers {
		layers[i] = "AICSAQ=="
	}
	boot := observerproto.BootstrapResponse{
		ProtocolVersion: observerproto.Version,
		WorldParams: observerproto.WorldParams{
			Size: 48, Height: 16, RowCount: 127, TriCount: 7680,
			Slot: 0, Seed: 1337, Generator: "natural",
		},
		BlockPalette:  []string{"AIR", "WATER", "STONE"},
		PaletteDigest: "9f86d081884c7d65",
		Encoding:      observerproto.EncodingRLE,
		Layers:        layers,
		Rows:          rows,
		Player:        samplePlayer,
	}
	cells := observerproto.CellsMsg{
		Type:            observerproto.TypeCells,
		ProtocolVersion: observerproto.Version,
		Encoding:        observerproto.EncodingRLE,
		Tex:             "gDwA",
		Flags:           "gDwA",
		Depth:           "gDz/",
		Player:          samplePlayer,
	}
	delta := observerproto.DeltaMsg{
		Type:            observerproto.TypeDelta,
		ProtocolVersion: observerproto.Version,
		Seq:             3,
		Op:              observerproto.OpPlace,
		Cells: []observerproto.CellDelta{
			{I: 0, Tex: 2, Flags: 0, Depth: 22},
			{I: 7679, Tex: 2, Flags: 14, Depth: 255},
		},
		Player: samplePlayer,
	}
	ack := observerproto.EditAckMsg{
		Type:            observerproto.TypeEditAck,
		ProtocolVersion: observerproto.Version,
		ID:              "e1",
		Seq:             3,
		Op:              observerproto.OpRemove,
	}
	errMsg := observerproto.ErrorMsg{
		Type:            observerproto.TypeError,
		ProtocolVersion: observerproto.Version,
		Code:            observerproto.ErrConflict,
		Message:         "position occupied",
	}

	cases := []struct {
		schema string
		v      any
	}{
		{"bootstrap.schema.json", boot},
		{"cells.schema.json", cells},
		{"delta.schema.json", delta},
		{"edit_ack.schema.json", ack},
		{"error.schema.json", errMsg},
	}
	for _, tc := range cases {
		s := compileSchema(t, tc.schema)
		if err := s.Validate(asJSONValue(t, tc.v)); err != nil {
			t.Fatalf("%s: %v", tc.schema, err)
		}
	}
}

func TestSchemas_ClientMessages(t *testing.T) {
	sub := compileSchema(t, "subscribe.schema.json")
	if err := sub.Validate(asJSONValue(t, observerproto.SubscribeMsg{Type: observerproto.TypeSubscribe, ProtocolVersion: "1.0"})); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Validate(rawJSON(t, `{"type":"SUBSCRIBE","protocol_version":"2.0"}`)); err == nil {
		t.Fatalf("expected version mismatch to fail")
	}

	edit := compileSchema(t, "edit.schema.json")
	valid := []string{
		`{"type":"EDIT","protocol_version":"1.0","id":"a","op":"PLACE","pos":[1,2,3],"block":"STONE"}`,
		`{"type":"EDIT","protocol_version":"1.0","op":"REMOVE","pos":[0,0,0]}`,
		`{"type":"EDIT","protocol_version":"1.0","op":"MOVE","delta":[-1,0,1]}`,
		`{"type":"EDIT","protocol_version":"1.0","op":"SELECT"}`,
		`{"type":"EDIT","protocol_version":"1.0","op":"INTERACT","block":"WATER"}`,
	}
	for _, s := range valid {
		if err := edit.Validate(rawJSON(t, s)); err != nil {
			t.Fatalf("%s: %v", s, err)
		}
	}
	invalid := []string{
		`{"type":"EDIT","protocol_version":"1.0","op":"PLACE","pos":[1,2,3]}`,
		`{"type":"EDIT","protocol_version":"1.0","op":"WATER"}`,
		`{"type":"EDIT","protocol_version":"1.0","op":"MOVE","delta":[2,0,0]}`,
		`{"type":"EDIT","protocol_version":"1.0","op":"FLY"}`,
		`{"type":"EDIT","protocol_version":"1.0","op":"REMOVE","pos":[1,2]}`,
	}
	for _, s := range invalid {
		if err := edit.Validate(rawJSON(t, s)); err == nil {
			t.Fatalf("%s: expected validation error", s)
		}
	}

	pos := [3]int{4, 5, 6}
	typed := observerproto.EditMsg{Type: observerproto.TypeEdit, ProtocolVersion: "1.0", Op: observerproto.OpWater, Pos: &pos}
	if err := edit.Validate(asJSONValue(t, typed)); err != nil {
		t.Fatalf("typed edit: %v", err)
	}
}

func TestIsKnownCode(t *testing.T) {
	for _, c := range []string{"", observerproto.ErrBusy, observerproto.ErrProtoBadRequest, observerproto.ErrOutOfBounds} {
		if !observerproto.IsKnownCode(c) {
			t.Fatalf("%q should be known", c)
		}
	}
	if observerproto.IsKnownCode("E_NOPE") {
		t.Fatalf("E_NOPE should be unknown")
	}
}
