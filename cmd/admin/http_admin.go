package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"isocraft.ai/internal/observerproto"
)

// stateCmd summarizes a running server's bootstrap without the layer data.
func stateCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("state", flag.ContinueOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Get(strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/v1/bootstrap")
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("bootstrap: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	var boot observerproto.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&boot); err != nil {
		return fmt.Errorf("decode bootstrap: %w", err)
	}

	summary := struct {
		ProtocolVersion string                    `json:"protocol_version"`
		Seq             uint64                    `json:"seq"`
		WorldParams     observerproto.WorldParams `json:"world_params"`
		PaletteSize     int                       `json:"palette_size"`
		PaletteDigest   string                    `json:"palette_digest"`
		Player          observerproto.PlayerState `json:"player"`
	}{
		ProtocolVersion: boot.ProtocolVersion,
		Seq:             boot.Seq,
		WorldParams:     boot.WorldParams,
		PaletteSize:     len(boot.BlockPalette),
		PaletteDigest:   boot.PaletteDigest,
		Player:          boot.Player,
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

// saveCmd asks a running server to save its slot.
func saveCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("save", flag.ContinueOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/v1/save"
	req, _ := http.NewRequest(http.MethodPost, u, nil)
	cl := &http.Client{Timeout: 30 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Fprintln(out, strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("save: %s", resp.Status)
	}
	return nil
}
