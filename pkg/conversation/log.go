package conversation

import (
	"sync"
	"time"
)

// ChangeKind describes what happened to the log.
type ChangeKind string

const (
	ChangeAppended ChangeKind = "appended"
	ChangeResolved ChangeKind = "resolved"
	ChangeReset    ChangeKind = "reset"
)

// Change is delivered to subscribers after every mutation. Message is a copy
// of the affected entry (zero for resets).
type Change struct {
	Kind    ChangeKind `json:"kind"`
	Message Message    `json:"message"`
}

// Log is an append-only, ordered list of display messages with lookup by
// placeholder id.
//
// Display order is insertion order. Resolve rewrites a message in place and
// never moves it. The log never calls back into whoever drives it; views
// observe it through Subscribe.
type Log struct {
	mu           sync.Mutex
	messages     []Message
	placeholders map[string]int
	now          func() time.Time

	subMu       sync.Mutex
	subscribers []func(Change)
}

type LogOption func(*Log)

// WithClock overrides the time source used for CreatedAt/UpdatedAt.
func WithClock(now func() time.Time) LogOption {
	return func(l *Log) {
		l.now = now
	}
}

func NewLog(options ...LogOption) *Log {
	l := &Log{
		placeholders: map[string]int{},
		now:          time.Now,
	}
	for _, o := range options {
		o(l)
	}
	return l
}

// Subscribe registers fn to be called after each change. Subscribers are
// called in registration order, outside of the log lock, serialized with
// respect to each other. fn must not mutate the log.
func (l *Log) Subscribe(fn func(Change)) {
	if fn == nil {
		return
	}
	l.subMu.Lock()
	defer l.subMu.Unlock()
	l.subscribers = append(l.subscribers, fn)
}

// Append adds a message at the end. If placeholderID is non-empty the
// message is tagged for a later Resolve. A tag that is already in use moves
// to the new message.
func (l *Log) Append(text string, role Role, placeholderID string) Message {
	l.subMu.Lock()
	defer l.subMu.Unlock()

	msg := l.append(text, role, placeholderID)
	l.notify(Change{Kind: ChangeAppended, Message: msg})
	return msg
}

func (l *Log) append(text string, role Role, placeholderID string) Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	msg := Message{
		Seq:       len(l.messages),
		Text:      text,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if placeholderID != "" {
		if prev, ok := l.placeholders[placeholderID]; ok {
			l.messages[prev].PlaceholderID = ""
		}
		msg.PlaceholderID = placeholderID
		l.placeholders[placeholderID] = msg.Seq
	}
	l.messages = append(l.messages, msg)
	return msg
}

// Resolve overwrites the text and role of the message tagged with
// placeholderID. The tag is cleared unless the new role is still
// RolePlaceholder. If no message carries the tag, Resolve appends a new
// untagged message instead, so content is never dropped. The returned bool
// reports whether an existing message was rewritten.
func (l *Log) Resolve(placeholderID string, text string, role Role) (Message, bool) {
	l.subMu.Lock()
	defer l.subMu.Unlock()

	msg, found := l.resolve(placeholderID, text, role)
	if !found {
		msg = l.append(text, role, "")
		l.notify(Change{Kind: ChangeAppended, Message: msg})
		return msg, false
	}
	l.notify(Change{Kind: ChangeResolved, Message: msg})
	return msg, true
}

func (l *Log) resolve(placeholderID string, text string, role Role) (Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if placeholderID == "" {
		return Message{}, false
	}
	idx, ok := l.placeholders[placeholderID]
	if !ok {
		return Message{}, false
	}
	msg := &l.messages[idx]
	msg.Text = text
	msg.Role = role
	msg.UpdatedAt = l.now()
	if role != RolePlaceholder {
		msg.PlaceholderID = ""
		delete(l.placeholders, placeholderID)
	}
	return *msg, true
}

// Lookup returns the message currently tagged with placeholderID.
func (l *Log) Lookup(placeholderID string) (Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx, ok := l.placeholders[placeholderID]
	if !ok {
		return Message{}, false
	}
	return l.messages[idx], true
}

// Messages returns a copy of the log in display order.
func (l *Log) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}

// Last returns the most recent message.
func (l *Log) Last() (Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.messages) == 0 {
		return Message{}, false
	}
	return l.messages[len(l.messages)-1], true
}

// Reset drops every message. This is the only way messages are removed.
func (l *Log) Reset() {
	l.subMu.Lock()
	defer l.subMu.Unlock()

	l.mu.Lock()
	l.messages = nil
	l.placeholders = map[string]int{}
	l.mu.Unlock()

	l.notify(Change{Kind: ChangeReset})
}

// notify must be called with subMu held.
func (l *Log) notify(c Change) {
	for _, fn := range l.subscribers {
		fn(c)
	}
}
