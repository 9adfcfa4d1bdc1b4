package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/respondeo/internal/interfaces"
)

// Service implements EventService with an in-process pub/sub pattern.
// Job transitions publish here; the WebSocket stream and any internal
// listeners subscribe.
type Service struct {
	subscribers map[interfaces.EventType][]interfaces.EventHandler
	all         []interfaces.EventHandler
	mu          sync.RWMutex
	closed      bool
	logger      arbor.ILogger
}

// NewService creates a new event service
func NewService(logger arbor.ILogger) interfaces.EventService {
	return &Service{
		subscribers: make(map[interfaces.EventType][]interfaces.EventHandler),
		logger:      logger,
	}
}

// Subscribe registers a handler for an event type
func (s *Service) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("event service is closed")
	}

	s.subscribers[eventType] = append(s.subscribers[eventType], handler)

	s.logger.Debug().
		Str("event_type", string(eventType)).
		Int("subscriber_count", len(s.subscribers[eventType])).
		Msg("Event handler subscribed")

	return nil
}

// SubscribeAll registers a handler that receives every event type.
func (s *Service) SubscribeAll(handler interfaces.EventHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("event service is closed")
	}

	s.all = append(s.all, handler)

	s.logger.Debug().
		Int("subscriber_count", len(s.all)).
		Msg("Catch-all event handler subscribed")

	return nil
}

// handlersFor snapshots the typed and catch-all handlers under the
// read lock so dispatch runs without holding it.
func (s *Service) handlersFor(eventType interfaces.EventType) []interfaces.EventHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil
	}

	handlers := make([]interfaces.EventHandler, 0, len(s.subscribers[eventType])+len(s.all))
	handlers = append(handlers, s.subscribers[eventType]...)
	handlers = append(handlers, s.all...)
	return handlers
}

// Publish sends an event to all subscribers asynchronously
func (s *Service) Publish(ctx context.Context, event interfaces.Event) error {
	handlers := s.handlersFor(event.Type)
	if len(handlers) == 0 {
		return nil
	}

	s.logger.Debug().
		Str("event_type", string(event.Type)).
		Int("subscriber_count", len(handlers)).
		Msg("Publishing event")

	for _, handler := range handlers {
		go func(h interfaces.EventHandler) {
			if err := h(ctx, event); err != nil {
				s.logger.Error().
					Err(err).
					Str("event_type", string(event.Type)).
					Msg("Event handler failed")
			}
		}(handler)
	}

	return nil
}

// PublishSync sends an event to all subscribers synchronously
func (s *Service) PublishSync(ctx context.Context, event interfaces.Event) error {
	handlers := s.handlersFor(event.Type)
	if len(handlers) == 0 {
		return nil
	}

	s.logger.Debug().
		Str("event_type", string(event.Type)).
		Int("subscriber_count", len(handlers)).
		Msg("Publishing event synchronously")

	var wg sync.WaitGroup
	errChan := make(chan error, len(handlers))

	for _, handler := range handlers {
		wg.Add(1)
		go func(h interfaces.EventHandler) {
			defer wg.Done()
			if err := h(ctx, event); err != nil {
				s.logger.Error().
					Err(err).
					Str("event_type", string(event.Type)).
					Msg("Event handler failed")
				errChan <- err
			}
		}(handler)
	}

	wg.Wait()
	close(errChan)

	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("event handlers failed: %d errors", len(errs))
	}

	return nil
}

// Close shuts down the event service. Events published after Close are
// dropped.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.subscribers = make(map[interfaces.EventType][]interfaces.EventHandler)
	s.all = nil
	s.logger.Info().Msg("Event service closed")

	return nil
}
