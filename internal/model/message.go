package model

// Message is one inbound message event from the transport.
type Message struct {
	// ID is the transport-assigned delivery identifier, used for dedup.
	ID string
	// From identifies the sending user; all registry state is keyed by it.
	From      string
	Body      string
	HasMedia  bool
	MediaType string
}

// IsAudio reports whether the message carries a voice or audio attachment.
func (m Message) IsAudio() bool {
	return m.HasMedia && (m.MediaType == "audio" || m.MediaType == "ptt")
}

// Query is a generated data query. Params is reserved for future
// parameterization; generators currently always return it empty.
type Query struct {
	SQL    string
	Params map[string]any
}

// Row is a single result row, column name to value.
type Row map[string]any
