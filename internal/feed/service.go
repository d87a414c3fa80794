package feed

import (
	"context"
	"sync"

	"github.com/npezzotti/go-pollchat/internal/stats"
	"github.com/rs/zerolog"
)

const metricMessagesPosted = "messages_posted"

// Service is the feed contract exposed to the transport layer.
type Service struct {
	log    *Log
	logger zerolog.Logger
	stats  stats.StatsProvider

	watchersLock sync.Mutex
	watchers     map[chan struct{}]struct{}
}

func NewService(l *Log, logger zerolog.Logger, sp stats.StatsProvider) *Service {
	sp.RegisterMetric(metricMessagesPosted)

	return &Service{
		log:      l,
		logger:   logger.With().Str("component", "feed").Logger(),
		stats:    sp,
		watchers: make(map[chan struct{}]struct{}),
	}
}

// PostMessage appends a message to the feed. Validation errors are returned
// unchanged; nothing is retried.
func (s *Service) PostMessage(ctx context.Context, author, body string) (Message, error) {
	msg, err := s.log.Append(ctx, author, body)
	if err != nil {
		return Message{}, err
	}

	s.stats.Incr(metricMessagesPosted)
	s.logger.Debug().
		Str("author", msg.Author).
		Int64("seq", msg.Seq).
		Msg("message posted")

	s.notify()
	return msg, nil
}

// ListRecent returns the current snapshot of the feed.
func (s *Service) ListRecent(ctx context.Context) ([]Message, error) {
	msgs, err := s.log.Recent(ctx, DefaultLimit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list recent")
		return nil, err
	}

	return msgs, nil
}

// Watch returns a channel that receives a value after the feed changes.
// Signals coalesce: a slow reader sees at most one pending signal. The
// returned func unsubscribes.
func (s *Service) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.watchersLock.Lock()
	s.watchers[ch] = struct{}{}
	s.watchersLock.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.watchersLock.Lock()
			delete(s.watchers, ch)
			s.watchersLock.Unlock()
		})
	}
}

func (s *Service) notify() {
	s.watchersLock.Lock()
	defer s.watchersLock.Unlock()

	for ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
