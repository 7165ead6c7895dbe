package log

import (
	"io"
	"sync"
)

const subscriberBuffer = 256

// Broadcaster is an io.Writer that copies every write to all subscribers.
// A subscriber whose buffer is full misses the line instead of blocking
// the logger.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[chan []byte]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan []byte]struct{})}
}

func (b *Broadcaster) Write(p []byte) (int, error) {
	line := append([]byte(nil), p...)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- line:
		default:
		}
	}
	return len(p), nil
}

// Subscribe returns a channel receiving a copy of every log line until
// Unsubscribe is called with it.
func (b *Broadcaster) Subscribe() chan []byte {
	ch := make(chan []byte, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broadcaster) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	_, ok := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Subscribers reports the number of attached subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

var _ io.Writer = (*Broadcaster)(nil)
