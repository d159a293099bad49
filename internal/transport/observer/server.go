package observer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"isocraft.ai/internal/observerproto"
	"isocraft.ai/internal/sim/play"
)

type Options struct {
	// MaxConnections caps concurrent WS subscribers; 0 means unlimited.
	MaxConnections int
	WriteTimeout   time.Duration
	// MaxMessageBytes bounds a single client message.
	MaxMessageBytes int64
	// AllowRemote serves non-loopback clients too.
	AllowRemote bool
}

// SaveFunc persists the running session. It is called from HTTP handlers.
type SaveFunc func(ctx context.Context) (slot int, seq uint64, err error)

type Server struct {
	sess *play.Session
	save SaveFunc
	opts Options
	log  *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	conns    atomic.Int64
}

// NewServer serves sess. save may be nil, which disables POST /v1/save.
func NewServer(sess *play.Session, save SaveFunc, opts Options, logger *log.Logger) *Server {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 64 * 1024
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[observer] ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Server{
		sess: sess,
		save: save,
		opts: opts,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Routes registers the observer endpoints on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/v1/observe", s.WSHandler())
	mux.HandleFunc("/v1/save", s.SaveHandler())
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain")
		_, _ = rw.Write([]byte("ok\n"))
	})
}

func (s *Server) allowed(r *http.Request) bool {
	return s.opts.AllowRemote || isLoopbackRemote(r.RemoteAddr)
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		resp, err := s.sess.Bootstrap(ctx)
		if err != nil {
			http.Error(rw, "session unavailable", http.StatusServiceUnavailable)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

type saveResponse struct {
	Slot int    `json:"slot"`
	Seq  uint64 `json:"seq"`
}

func (s *Server) SaveHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		if s.save == nil {
			http.Error(rw, "saving disabled", http.StatusNotImplemented)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()
		slot, seq, err := s.save(ctx)
		if err != nil {
			s.log.Printf("save: %v", err)
			http.Error(rw, "save failed", http.StatusInternalServerError)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(saveResponse{Slot: slot, Seq: seq})
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		n := s.conns.Add(1)
		defer s.conns.Add(-1)
		if limit := s.opts.MaxConnections; limit > 0 && n > int64(limit) {
			http.Error(rw, "too many observers", http.StatusServiceUnavailable)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetReadLimit(s.opts.MaxMessageBytes)

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			s.closeWith(conn, websocket.ClosePolicyViolation, "bad subscribe")
			return
		}
		if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
			s.closeWith(conn, websocket.ClosePolicyViolation, "expected SUBSCRIBE")
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		// Session output and our own replies share the writer goroutine.
		out := make(chan []byte, s.sess.DeltaBuffer())
		replies := make(chan []byte, 16)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		joinCtx, joinCancel := context.WithTimeout(ctx, 5*time.Second)
		err = s.sess.Join(joinCtx, sid, out)
		joinCancel()
		// The loop may have registered sid just as Join gave up.
		defer s.leave(sid)
		if err != nil {
			s.closeWith(conn, websocket.CloseTryAgainLater, "server busy")
			return
		}
		s.log.Printf("observer %s joined from %s", sid, r.RemoteAddr)

		writeErr := make(chan error, 1)
		go func() { writeErr <- s.writeLoop(ctx, conn, out, replies) }()

		for {
			_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			reply := s.handleClientMessage(ctx, msg)
			if reply == nil {
				continue
			}
			select {
			case replies <- reply:
			case <-ctx.Done():
			}
		}

		cancel()
		s.closeWith(conn, websocket.CloseNormalClosure, "bye")
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		s.log.Printf("observer %s left", sid)
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, out, replies <-chan []byte) error {
	write := func(b []byte) error {
		_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
		return conn.WriteMessage(websocket.TextMessage, b)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-out:
			if !ok {
				// Session stopped or replaced us.
				return nil
			}
			if err := write(b); err != nil {
				return err
			}
		case b := <-replies:
			if err := write(b); err != nil {
				return err
			}
		}
	}
}

// handleClientMessage returns the encoded reply, or nil for messages that
// need none.
func (s *Server) handleClientMessage(ctx context.Context, msg []byte) []byte {
	base, err := observerproto.DecodeBase(msg)
	if err != nil {
		return errorReply("", observerproto.ErrProtoBadRequest, "invalid json")
	}
	if base.ProtocolVersion != observerproto.Version {
		return errorReply(base.ID, observerproto.ErrProtoBadRequest, "unsupported protocol_version")
	}
	switch base.Type {
	case observerproto.TypeSubscribe:
		// Re-subscribing is a no-op; the stream is already running.
		return nil
	case observerproto.TypeEdit:
	default:
		return errorReply(base.ID, observerproto.ErrProtoBadRequest, "unknown message type")
	}

	var em observerproto.EditMsg
	if err := json.Unmarshal(msg, &em); err != nil {
		return errorReply(base.ID, observerproto.ErrProtoBadRequest, "bad EDIT")
	}
	edit, perr := s.toEdit(em)
	if perr != nil {
		return errorReply(em.ID, perr.Code, perr.Message)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	res, err := s.sess.Submit(ctx, edit)
	if err != nil {
		var ee *play.EditError
		if errors.As(err, &ee) {
			return errorReply(em.ID, ee.Code, ee.Message)
		}
		return errorReply(em.ID, observerproto.ErrInternal, err.Error())
	}
	b, _ := json.Marshal(observerproto.EditAckMsg{
		Type:            observerproto.TypeEditAck,
		ProtocolVersion: observerproto.Version,
		ID:              em.ID,
		Seq:             res.Seq,
		Op:              res.Op,
	})
	return b
}

func (s *Server) toEdit(em observerproto.EditMsg) (play.Edit, *play.EditError) {
	e := play.Edit{Op: em.Op}
	switch em.Op {
	case observerproto.OpPlace, observerproto.OpRemove, observerproto.OpWater:
		if em.Pos == nil {
			return e, &play.EditError{Code: observerproto.ErrBadRequest, Message: em.Op + " needs pos"}
		}
		e.Pos = *em.Pos
	case observerproto.OpMove:
		if em.Delta == nil {
			return e, &play.EditError{Code: observerproto.ErrBadRequest, Message: "MOVE needs delta"}
		}
		e.Delta = *em.Delta
	case observerproto.OpInteract, observerproto.OpSelect:
	default:
		return e, &play.EditError{Code: observerproto.ErrBadRequest, Message: fmt.Sprintf("unknown op %q", em.Op)}
	}
	if em.Block != "" {
		id, ok := s.sess.Catalog().Index[strings.ToUpper(em.Block)]
		if !ok {
			return e, &play.EditError{Code: observerproto.ErrBadRequest, Message: "unknown block " + em.Block}
		}
		e.Block, e.HasBlock = id, true
	}
	return e, nil
}

// leave outlives the request context, which is done by the time a handler
// unwinds.
func (s *Server) leave(sid string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.sess.Leave(ctx, sid)
}

func errorReply(id, code, message string) []byte {
	b, _ := json.Marshal(observerproto.ErrorMsg{
		Type:            observerproto.TypeError,
		ProtocolVersion: observerproto.Version,
		ID:              id,
		Code:            code,
		Message:         message,
	})
	return b
}

func (s *Server) closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
