package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"nhooyr.io/websocket"

	"github.com/tinwren/launchpit/internal/updater"
)

// EventHub fans updater events out to websocket subscribers. It implements
// updater.Reporter so it can sit directly in the reporter chain; a slow
// subscriber drops events rather than stalling the run.
type EventHub struct {
	mu   sync.Mutex
	subs map[chan updater.Event]struct{}
}

func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[chan updater.Event]struct{})}
}

func (h *EventHub) Report(e updater.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (h *EventHub) subscribe() chan updater.Event {
	ch := make(chan updater.Event, 64)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *EventHub) unsubscribe(ch chan updater.Event) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// Events upgrades the request to a websocket and streams run events as JSON
// text messages. The current status is sent first so late subscribers do not
// start blind.
func (h *LauncherHandler) Events(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		markErr(w, err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

	ctx := r.Context()
	snapshot, err := json.Marshal(h.status())
	if err == nil {
		if err := conn.Write(ctx, websocket.MessageText, snapshot); err != nil {
			return
		}
	}

	ch := h.hub.subscribe()
	defer h.hub.unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.upd.Done():
			// Drain whatever the terminal stage produced, then close.
			for {
				select {
				case e := <-ch:
					if !h.writeEvent(ctx, conn, e) {
						return
					}
				default:
					return
				}
			}
		case e := <-ch:
			if !h.writeEvent(ctx, conn, e) {
				return
			}
		}
	}
}

func (h *LauncherHandler) writeEvent(ctx context.Context, conn *websocket.Conn, e updater.Event) bool {
	b, err := json.Marshal(e)
	if err != nil {
		return false
	}
	return conn.Write(ctx, websocket.MessageText, b) == nil
}
