package dispatch

import (
	"bufio"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// Source delivers navigation events (URL fragments) to a subscriber.
//
// Subscribe returns a function that ends the subscription; after it
// returns, fn is not called again.
type Source interface {
	Subscribe(fn func(hash string)) (unsubscribe func(), err error)
}

// ManualSource is a Source driven by explicit Emit calls.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualSource struct {
	mu   sync.Mutex
	subs map[int]func(string)
	next int
}

// NewManualSource creates a source with no subscribers.
func NewManualSource() *ManualSource {
	return &ManualSource{subs: make(map[int]func(string))}
}

// Subscribe implements Source.
func (s *ManualSource) Subscribe(fn func(hash string)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.next
	s.next++
	s.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
		})
	}, nil
}

// Emit delivers hash to every current subscriber.
func (s *ManualSource) Emit(hash string) {
	s.mu.Lock()
	fns := make([]func(string), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(hash)
	}
}

// Subscribers returns the number of active subscriptions.
func (s *ManualSource) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// LineSource reads one deep link per line from a reader. Blank lines and
// lines starting with "//" are ignored. A single subscriber is supported.
type LineSource struct {
	r    io.Reader
	done chan struct{}
	once sync.Once
}

// NewLineSource creates a source over r.
func NewLineSource(r io.Reader) *LineSource {
	return &LineSource{r: r, done: make(chan struct{})}
}

// Done is closed once the reader is exhausted or the subscription ends.
func (s *LineSource) Done() <-chan struct{} {
	return s.done
}

// Subscribe implements Source. Lines are delivered from a background
// goroutine.
func (s *LineSource) Subscribe(fn func(hash string)) (func(), error) {
	var mu sync.Mutex
	active := true

	go func() {
		defer s.finish()
		scanner := bufio.NewScanner(s.r)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "//") {
				continue
			}
			mu.Lock()
			if !active {
				mu.Unlock()
				return
			}
			fn(line)
			mu.Unlock()
		}
		if err := scanner.Err(); err != nil {
			slog.Warn("navigation input failed", "error", err)
		}
	}()

	return func() {
		mu.Lock()
		active = false
		mu.Unlock()
		s.finish()
	}, nil
}

func (s *LineSource) finish() {
	s.once.Do(func() { close(s.done) })
}
