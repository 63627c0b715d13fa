package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/fjod/go_cart/storefront/internal/storefront"
)

const (
	eventCart           = "cart"
	eventSessionExpired = "session_expired"
)

// clientBuffer is how many events a slow client may lag behind before
// further events to it are dropped.
const clientBuffer = 16

type event struct {
	Name string
	Data any
}

// EventsHandler streams cart changes and session expiry to the UI as
// server-sent events, so it can redraw the cart and send the user to login.
type EventsHandler struct {
	mu      sync.Mutex
	clients map[chan event]struct{}
	done    <-chan struct{}
	log     *zap.Logger
}

func NewEventsHandler(sf *storefront.Storefront, log *zap.Logger) *EventsHandler {
	h := &EventsHandler{
		clients: make(map[chan event]struct{}),
		log:     logger.OrNop(log),
	}
	sf.Subscribe(func(snap domain.CartSnapshot) {
		h.publish(event{Name: eventCart, Data: cartResponse(snap)})
	})
	sf.Session.OnExpired(func() {
		h.publish(event{Name: eventSessionExpired, Data: map[string]string{"code": "login_required"}})
	})
	return h
}

func (h *EventsHandler) publish(ev event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- ev:
		default:
			h.log.Warn("events client is lagging, dropping event", zap.String("event", ev.Name))
		}
	}
}

func (h *EventsHandler) subscribe() (<-chan event, func()) {
	ch := make(chan event, clientBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.clients, ch)
		h.mu.Unlock()
	}
}

// Stream handles GET /api/v1/events.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, unsubscribe := h.subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.done:
			return
		case ev := <-events:
			if err := writeEvent(w, ev); err != nil {
				h.log.Debug("events client gone", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, data)
	return err
}
