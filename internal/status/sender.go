package status

import "sync"

// Sink receives status messages in the order they are produced.
type Sink interface {
	Send(msg Message) bool
}

// Sender is the single-producer end of an ordered, lossless message
// channel. Sends block until the consumer takes the message, unless the
// consumer has gone away via Close.
type Sender struct {
	ch   chan Message
	done chan struct{}
	once sync.Once
}

// NewChannel returns a sender and the receive side of its channel.
func NewChannel(buffer int) (*Sender, <-chan Message) {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Message, buffer)
	return &Sender{ch: ch, done: make(chan struct{})}, ch
}

// Send delivers msg, returning false when the consumer has detached.
func (s *Sender) Send(msg Message) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ch <- msg:
		return true
	case <-s.done:
		return false
	}
}

// Close detaches the consumer. Pending and future sends are dropped.
func (s *Sender) Close() {
	s.once.Do(func() {
		close(s.done)
	})
}

// Out sends a narration line.
func Out(sink Sink, line string) {
	sink.Send(Stdout{Line: line})
}

// Recorder is a Sink that keeps every message, for tests and for callers
// that render after the fact.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) Send(msg Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return true
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Lines returns the Stdout and Stderr lines received so far.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	lines := []string{}
	for _, msg := range r.messages {
		switch m := msg.(type) {
		case Stdout:
			lines = append(lines, m.Line)
		case Stderr:
			lines = append(lines, m.Line)
		}
	}
	return lines
}
