package oracle

import (
	"context"
	"math/big"
	"sync"
	"time"
)

// StaticSource is an in-process feed whose answer is set explicitly. It backs
// development deployments and tests the way a mock aggregator would.
//
// Answers published with Set are pinned: they report the current time as
// their observation and never go stale. SetRound publishes a regular
// observation that ages like an aggregator round.
type StaticSource struct {
	mu     sync.RWMutex
	round  Round
	set    bool
	pinned bool
	now    func() time.Time
}

// NewStaticSource returns a source pinned at `answer` (8 decimals).
func NewStaticSource(answer int64) *StaticSource {
	s := &StaticSource{now: time.Now}
	s.Set(big.NewInt(answer))
	return s
}

// Set pins a new answer.
func (s *StaticSource) Set(answer *big.Int) {
	s.publish(answer, s.clock()(), true)
}

// SetRound publishes a new answer with an explicit observation time.
func (s *StaticSource) SetRound(answer *big.Int, observedAt time.Time) {
	s.publish(answer, observedAt, false)
}

func (s *StaticSource) publish(answer *big.Int, observedAt time.Time, pinned bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.round = Round{
		RoundID:    s.round.RoundID + 1,
		Answer:     new(big.Int).Set(answer),
		ObservedAt: observedAt.UTC(),
	}
	s.set = true
	s.pinned = pinned
}

// Latest returns a copy of the current round.
func (s *StaticSource) Latest(_ context.Context) (Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.set {
		return Round{}, ErrNoRound
	}
	r := s.round
	r.Answer = new(big.Int).Set(s.round.Answer)
	if s.pinned {
		r.ObservedAt = s.clock()().UTC()
		r.Pinned = true
	}
	return r, nil
}

func (s *StaticSource) clock() func() time.Time {
	if s.now == nil {
		return time.Now
	}
	return s.now
}
