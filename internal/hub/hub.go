package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
)

const defaultBatchInterval = 50 * time.Millisecond

const (
	eventOpen   = "open"
	eventOutput = "output"
	eventClear  = "clear"
	eventError  = "error"
)

// event is a pane change. Events are applied to the scrollback and fanned
// out by Run in arrival order, so a new client's snapshot is never ahead of
// or behind the stream that follows it.
type event struct {
	pane string
	kind string
	text string
}

type Hub struct {
	clients      map[string]*Client
	register     chan *Client
	unregister   chan *Client
	events       chan event
	onInput      func(pane string, in Input)
	token        string
	mu           sync.RWMutex
	panes        map[string]*ringBuf
	panesMu      sync.RWMutex
	scrollback   int
	rateLimiter  *RateLimiter
	batchEnabled atomic.Bool
	ctxWrap      *ctxWrapper
	running      atomic.Bool
	stopped      chan struct{}
	stopOnce     sync.Once
}

type ctxWrapper struct {
	ctx context.Context
}

func New(token string, onInput func(pane string, in Input)) *Hub {
	h := &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		events:     make(chan event, 1024),
		onInput:    onInput,
		token:      token,
		panes:      make(map[string]*ringBuf),
		scrollback: defaultScrollback,
		ctxWrap:    &ctxWrapper{ctx: context.Background()},
		stopped:    make(chan struct{}),
	}
	h.batchEnabled.Store(true)
	h.rateLimiter = NewRateLimiter(defaultBatchInterval, func(pane string, text string) {
		h.enqueue(event{pane: pane, kind: eventOutput, text: text})
	})
	return h
}

func (h *Hub) getContext() context.Context {
	if h.ctxWrap != nil {
		return h.ctxWrap.ctx
	}
	return context.Background()
}

func (h *Hub) Run(ctx context.Context) {
	h.ctxWrap = &ctxWrapper{ctx: ctx}
	h.running.Store(true)
	defer func() {
		h.running.Store(false)
		h.stopOnce.Do(func() { close(h.stopped) })
	}()

	for {
		select {
		case <-ctx.Done():
			h.stopOnce.Do(func() { close(h.stopped) })
			h.rateLimiter.FlushAll()
			h.mu.Lock()
			for _, c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[string]*Client)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			if snapshot, err := json.Marshal(PanesMessage{Type: "panes", List: h.Panes()}); err == nil {
				select {
				case client.send <- snapshot:
				default:
				}
			}
			go client.writePump(h.getContext())
			go client.readPump(h.getContext())
			slog.Info("client connected", "client_id", client.id, "total", h.ClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			h.mu.Unlock()
			slog.Info("client disconnected", "client_id", client.id, "total", h.ClientCount())

		case ev := <-h.events:
			data := h.apply(ev)
			if data == nil {
				continue
			}
			h.mu.RLock()
			for _, c := range h.clients {
				select {
				case c.send <- data:
				default:
					slog.Warn("client send buffer full, dropping message", "client_id", c.id)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// apply updates the pane's scrollback and returns the wire message, or nil
// when nothing needs to be sent.
func (h *Hub) apply(ev event) []byte {
	h.panesMu.Lock()
	buf, ok := h.panes[ev.pane]
	if !ok {
		buf = newRingBuf(h.scrollback)
		h.panes[ev.pane] = buf
	}
	var msg any
	switch ev.kind {
	case eventOutput:
		buf.write(ev.text)
		msg = OutputMessage{Type: "output", Pane: ev.pane, Text: ev.text, Ts: time.Now().UnixMilli()}
	case eventClear:
		buf.reset()
		msg = ClearMessage{Type: "clear", Pane: ev.pane}
	case eventError:
		buf.write("\n[" + ev.text + "]\n")
		msg = ErrorMessage{Type: "error", Pane: ev.pane, Message: ev.text}
	}
	h.panesMu.Unlock()

	if msg == nil {
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal pane message", "pane", ev.pane, "error", err)
		return nil
	}
	return data
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" || token != h.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("websocket accept error", "error", err)
		return
	}

	client := newClient(conn, h)

	select {
	case h.register <- client:
	default:
		slog.Warn("hub not accepting connections")
		conn.Close(websocket.StatusTryAgainLater, "server busy")
		return
	}
}

// Panes returns every known pane with its scrollback, ordered by ID.
func (h *Hub) Panes() []PaneInfo {
	h.panesMu.RLock()
	defer h.panesMu.RUnlock()
	list := make([]PaneInfo, 0, len(h.panes))
	for id, buf := range h.panes {
		list = append(list, PaneInfo{ID: id, Text: buf.String()})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// enqueue waits for room rather than drop pane content. Only a hub that has
// stopped running discards events.
func (h *Hub) enqueue(ev event) {
	select {
	case h.events <- ev:
	case <-h.stopped:
		slog.Warn("hub stopped, dropping pane event", "pane", ev.pane, "kind", ev.kind)
	}
}

func (h *Hub) SendError(client *Client, message string) {
	data, err := json.Marshal(ErrorMessage{Type: "error", Message: message})
	if err != nil {
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) handleInput(pane string, in Input) {
	if h.onInput != nil {
		h.onInput(pane, in)
	}
}

func (h *Hub) SetBatchEnabled(enabled bool) {
	if !enabled {
		h.rateLimiter.FlushAll()
	}
	h.batchEnabled.Store(enabled)
}

func (h *Hub) FlushPendingOutput() {
	h.rateLimiter.FlushAll()
}

func (h *Hub) isRunning() bool {
	return h.running.Load()
}

func (h *Hub) unregisterClient(c *Client) {
	if !h.isRunning() {
		c.conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	select {
	case h.unregister <- c:
	default:
		slog.Warn("unregister channel full, forcing close", "client_id", c.id)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}
}
