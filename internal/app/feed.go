package app

import (
	"sync"

	"adaptive-quiz-service/internal/domain"
)

// Feed fans committed score updates out to live leaderboard subscribers.
type Feed struct {
	mu          sync.Mutex
	subscribers map[chan domain.ScoreUpdate]struct{}
}

func NewFeed() *Feed {
	return &Feed{subscribers: make(map[chan domain.ScoreUpdate]struct{})}
}

// Subscribe returns a channel of updates. The caller must invoke the returned cancel function
// to avoid leaks.
func (f *Feed) Subscribe() (<-chan domain.ScoreUpdate, func()) {
	ch := make(chan domain.ScoreUpdate, 8)

	f.mu.Lock()
	f.subscribers[ch] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if _, ok := f.subscribers[ch]; ok {
			delete(f.subscribers, ch)
			close(ch)
		}
		f.mu.Unlock()
	}
	return ch, cancel
}

// Publish never blocks: a full subscriber loses its oldest pending update.
func (f *Feed) Publish(update domain.ScoreUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subscribers {
		select {
		case ch <- update:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- update
		}
	}
}

// Subscribers reports how many channels are attached.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}
