package hub

// Pane is a console surface mirrored to every connected client. It
// satisfies sink.TextSink and sink.Reporter.
type Pane struct {
	id  string
	hub *Hub
}

// Pane returns the pane with the given id, announcing it to clients.
func (h *Hub) Pane(id string) *Pane {
	h.enqueue(event{pane: id, kind: eventOpen})
	return &Pane{id: id, hub: h}
}

func (p *Pane) ID() string { return p.id }

func (p *Pane) Append(text string) {
	if text == "" {
		return
	}
	if p.hub.batchEnabled.Load() {
		p.hub.rateLimiter.Add(p.id, text)
		return
	}
	p.hub.enqueue(event{pane: p.id, kind: eventOutput, text: text})
}

func (p *Pane) Clear() {
	p.hub.rateLimiter.Flush(p.id)
	p.hub.enqueue(event{pane: p.id, kind: eventClear})
}

func (p *Pane) Report(err error) {
	if err == nil {
		return
	}
	p.hub.rateLimiter.Flush(p.id)
	p.hub.enqueue(event{pane: p.id, kind: eventError, text: err.Error()})
}
