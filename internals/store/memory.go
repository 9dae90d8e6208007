package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/jadenj13/analyst/internals/conversation"
)

type Memory struct {
	mu       sync.RWMutex
	sessions map[string][]conversation.Message
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string][]conversation.Message),
		now:      time.Now,
	}
}

func (s *Memory) Read(_ context.Context, key string) ([]conversation.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.sessions[key]), nil
}

func (s *Memory) Append(_ context.Context, key string, msgs ...conversation.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.sessions[key]
	next := int64(len(log)) + 1
	now := s.now().UTC()
	for _, m := range msgs {
		m.Seq = next
		next++
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		log = append(log, m)
	}
	s.sessions[key] = log
	return nil
}

func (s *Memory) Info(ctx context.Context, key string) (Info, error) {
	msgs, _ := s.Read(ctx, key)
	return infoOf(key, msgs), nil
}

func (s *Memory) Stats(context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{Sessions: len(s.sessions)}
	for _, log := range s.sessions {
		st.Messages += len(log)
	}
	return st, nil
}

func (s *Memory) Close() error { return nil }
