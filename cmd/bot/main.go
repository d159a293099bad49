package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"isocraft.ai/internal/observerproto"
	"isocraft.ai/internal/sim/world/logic/isomath"
)

func main() {
	var (
		url      = flag.String("url", "ws://127.0.0.1:8080/v1/observe", "observer ws url")
		name     = flag.String("name", "bot", "prefix for edit ids")
		plan     = flag.String("plan", "tower", "tower|scatter")
		at       = flag.String("at", "20,20", "x,z anchor of the plan")
		height   = flag.Int("height", 6, "tower height")
		count    = flag.Int("count", 40, "scatter edits")
		radius   = flag.Int("radius", 6, "scatter radius")
		block    = flag.String("block", "BRICKS", "block to build with")
		seed     = flag.Int64("seed", 0, "scatter seed (0 = time based)")
		interval = flag.Duration("interval", 250*time.Millisecond, "pause between edits")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	ax, az, err := parseXZ(*at)
	if err != nil {
		logger.Fatalf("-at: %v", err)
	}

	var edits []observerproto.EditMsg
	switch *plan {
	case "tower":
		edits = planTower(ax, az, *height, *block)
	case "scatter":
		s := *seed
		if s == 0 {
			s = time.Now().UnixNano()
		}
		edits = planScatter(rand.New(rand.NewSource(s)), ax, az, *radius, *count, *block)
	default:
		logger.Fatalf("unknown -plan %q", *plan)
	}
	for i := range edits {
		edits[i].ID = fmt.Sprintf("%s_%d", *name, i)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, *url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	st, err := runBot(ctx, conn, edits, *interval, logger)
	logger.Printf("done: acked=%d rejected=%d deltas=%d cells=%d", st.Acked, st.Rejected, st.Deltas, st.Cells)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("%v", err)
	}
}

type botStats struct {
	Acked    int
	Rejected int
	Deltas   int
	Cells    int
	// Codes counts rejections by error code.
	Codes map[string]int
}

// runBot subscribes on conn and sends edits one at a time, waiting for each
// EDIT_ACK or ERROR before the next one.
func runBot(ctx context.Context, conn *websocket.Conn, edits []observerproto.EditMsg, interval time.Duration, logger *log.Logger) (st botStats, err error) {
	st.Codes = map[string]int{}
	if err := conn.WriteJSON(observerproto.SubscribeMsg{
		Type:            observerproto.TypeSubscribe,
		ProtocolVersion: observerproto.Version,
	}); err != nil {
		return st, fmt.Errorf("send SUBSCRIBE: %w", err)
	}

	var cells, deltas atomic.Int64
	defer func() {
		st.Cells, st.Deltas = int(cells.Load()), int(deltas.Load())
	}()
	done := make(chan struct{})
	defer close(done)
	replies := make(chan observerproto.BaseMessage)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			base, err := observerproto.DecodeBase(msg)
			if err != nil {
				continue
			}
			switch base.Type {
			case observerproto.TypeCells:
				cells.Add(1)
				continue
			case observerproto.TypeDelta:
				deltas.Add(1)
				continue
			case observerproto.TypeEditAck:
			case observerproto.TypeError:
				var em observerproto.ErrorMsg
				if err := json.Unmarshal(msg, &em); err == nil {
					logger.Printf("rejected %s: %s %s", em.ID, em.Code, em.Message)
					base.Type = em.Code
				}
			default:
				continue
			}
			select {
			case replies <- base:
			case <-done:
				return
			}
		}
	}()

	for i, e := range edits {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
				return st, ctx.Err()
			case <-time.After(interval):
			}
		}
		e.Type = observerproto.TypeEdit
		e.ProtocolVersion = observerproto.Version
		if err := conn.WriteJSON(e); err != nil {
			return st, fmt.Errorf("send EDIT: %w", err)
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case err := <-readErr:
			return st, fmt.Errorf("read: %w", err)
		case r := <-replies:
			if r.Type == observerproto.TypeEditAck {
				st.Acked++
			} else {
				st.Rejected++
				st.Codes[r.Type]++
			}
		}
	}
	// Drain trailing deltas until the server acknowledges the close.
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	select {
	case <-readErr:
	case <-time.After(2 * time.Second):
		_ = conn.Close()
		<-readErr
	}
	return st, nil
}

// planTower stacks block on (x,z) from y=1 and caps it with water.
func planTower(x, z, height int, block string) []observerproto.EditMsg {
	var out []observerproto.EditMsg
	for y := 1; y <= height && y < isomath.Height; y++ {
		out = append(out, editAt(observerproto.OpPlace, x, y, z, block))
	}
	if top := height + 1; top < isomath.Height {
		out = append(out, editAt(observerproto.OpWater, x, top, z, ""))
	}
	return out
}

// planScatter places and removes blocks at random spots within radius of
// (x,z), on the first layer above the floor and the one above it.
func planScatter(rng *rand.Rand, x, z, radius, n int, block string) []observerproto.EditMsg {
	out := make([]observerproto.EditMsg, 0, n)
	for i := 0; i < n; i++ {
		px := clamp(x+rng.Intn(2*radius+1)-radius, 0, isomath.Size-1)
		pz := clamp(z+rng.Intn(2*radius+1)-radius, 0, isomath.Size-1)
		py := 1 + rng.Intn(2)
		switch rng.Intn(4) {
		case 0:
			out = append(out, editAt(observerproto.OpRemove, px, py, pz, ""))
		case 1:
			out = append(out, editAt(observerproto.OpWater, px, py, pz, ""))
		default:
			out = append(out, editAt(observerproto.OpPlace, px, py, pz, block))
		}
	}
	return out
}

func editAt(op string, x, y, z int, block string) observerproto.EditMsg {
	pos := [3]int{x, y, z}
	return observerproto.EditMsg{Op: op, Pos: &pos, Block: block}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func parseXZ(s string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected x,z")
	}
	x, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	z, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, err
	}
	if x < 0 || x >= isomath.Size || z < 0 || z >= isomath.Size {
		return 0, 0, fmt.Errorf("%d,%d outside the world", x, z)
	}
	return x, z, nil
}
