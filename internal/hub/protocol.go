package hub

// Server to client messages.

type OutputMessage struct {
	Type string `json:"type"`
	Pane string `json:"pane"`
	Text string `json:"text"`
	Ts   int64  `json:"ts"`
}

type ClearMessage struct {
	Type string `json:"type"`
	Pane string `json:"pane"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Pane    string `json:"pane,omitempty"`
	Message string `json:"message"`
}

// PanesMessage is the snapshot every client receives on connect.
type PanesMessage struct {
	Type string     `json:"type"`
	List []PaneInfo `json:"list"`
}

type PaneInfo struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// ClientMessage is sent by the browser. Type is "key" (Key holds a key
// name such as "up" or "C-c") or "text" (Text holds typed characters).
type ClientMessage struct {
	Type string `json:"type"`
	Pane string `json:"pane"`
	Key  string `json:"key,omitempty"`
	Text string `json:"text,omitempty"`
}

// Input is what a client typed into a pane.
type Input struct {
	Key  string
	Text string
}
