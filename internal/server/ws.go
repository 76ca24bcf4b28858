package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashita-ai/kansoku/internal/config"
	"github.com/ashita-ai/kansoku/internal/model"
)

// errObserverGone is returned by Send when the connection's queue is full or
// the connection is closing. The hub treats it as death and prunes.
var errObserverGone = errors.New("server: observer gone")

// wsObserver adapts one websocket connection to the hub's Observer contract.
// Send never blocks: envelopes go into a bounded queue drained by a single
// writer goroutine, and a full queue kills the connection rather than
// stalling the broadcast.
type wsObserver struct {
	conn  *websocket.Conn
	queue chan model.Envelope
	done  chan struct{}
}

func newWSObserver(conn *websocket.Conn, queueSize int) *wsObserver {
	return &wsObserver{
		conn:  conn,
		queue: make(chan model.Envelope, queueSize),
		done:  make(chan struct{}),
	}
}

// Send enqueues an envelope for delivery.
func (o *wsObserver) Send(env model.Envelope) error {
	select {
	case <-o.done:
		return errObserverGone
	case o.queue <- env:
		return nil
	default:
		return errObserverGone
	}
}

// writeLoop drains the queue onto the wire. Exits on write failure or when
// ctx is done; the read loop notices via the closed connection.
func (o *wsObserver) writeLoop(ctx context.Context) {
	defer close(o.done)
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-o.queue:
			if err := wsjson.Write(ctx, o.conn, env); err != nil {
				return
			}
		}
	}
}

// HandleStream handles GET /stream, the live observer channel. The default
// mode is the legacy firehose: every event, preceded by one initial batch of
// the current priority-aware retrieval. ?scoped=true selects session-scoped
// mode, where the observer starts with an empty subscription set and manages
// it with {action, sessionIds} control frames.
func (h *Handlers) HandleStream(w http.ResponseWriter, r *http.Request) {
	scoped := r.URL.Query().Get("scoped") == "true"

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Observers are local dashboards and tooling; no origin allowlist.
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "server closing") //nolint:errcheck

	obs := newWSObserver(conn, h.observerQueueSize)

	if scoped {
		h.hub.AddScoped(obs)
	} else {
		h.hub.AddLegacy(obs)
		// Initial batch so the dashboard need not issue a separate fetch.
		cfg := config.LoadPriority()
		events, err := h.engine.Recent(r.Context(), cfg)
		if err != nil {
			h.logger.Warn("initial batch unavailable", "error", err)
			events = []model.Event{}
		}
		info := h.engine.Info(r.Context(), cfg)
		if err := obs.Send(model.Envelope{
			Type:         model.EnvelopeInitial,
			Data:         events,
			PriorityInfo: &info,
		}); err != nil {
			h.hub.Remove(obs)
			return
		}
	}
	defer h.hub.Remove(obs)

	ctx := r.Context()
	go obs.writeLoop(ctx)

	// Read loop: control frames for scoped observers; legacy observers'
	// inbound traffic is drained and ignored so pings and close frames are
	// still processed.
	for {
		var frame model.ControlFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return
		}
		if !scoped {
			continue
		}
		switch frame.Action {
		case model.ActionSubscribe:
			h.hub.Subscribe(obs, frame.SessionIDs)
		case model.ActionUnsubscribe:
			h.hub.Unsubscribe(obs, frame.SessionIDs)
		default:
			h.logger.Debug("unknown control frame action", "action", frame.Action)
		}
	}
}
