package voicesession

import "sync"

// Sender attributes a transcript entry.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderModel Sender = "model"
)

// Entry is one transcription fragment.
type Entry struct {
	Sender Sender `json:"sender"`
	Text   string `json:"text"`
}

// Transcript is an append-only log of transcription fragments in arrival
// order. Consecutive fragments from the same sender are kept as separate
// entries. It is safe for concurrent use.
type Transcript struct {
	mu      sync.Mutex
	entries []Entry
}

// Append adds one fragment.
func (t *Transcript) Append(sender Sender, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, Entry{Sender: sender, Text: text})
}

// Entries returns a copy of the log.
func (t *Transcript) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Entry(nil), t.entries...)
}

// Reset empties the log. The controller calls it when a connection attempt
// starts.
func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
}
