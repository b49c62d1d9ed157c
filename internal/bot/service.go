package bot

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/kjannette/cowtrader/internal/models"
)

// Service owns the bot's lifecycle and exposes its state to the API.
type Service struct {
	mu     sync.Mutex
	bot    *CowBot
	notify Notifier
	done   chan error
}

func NewService(b *CowBot, notify Notifier) *Service {
	return &Service{bot: b, notify: notify}
}

// Start initializes the bot and launches its block loop. Wait reports when
// the loop exits.
func (s *Service) Start(ctx context.Context, mode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil && s.bot.IsRunning() {
		log.Info().Str("component", "bot").Msg("already running")
		return nil
	}

	s.notify.Send(fmt.Sprintf("Starting CoW trader - %s", mode))
	if err := s.bot.Init(ctx); err != nil {
		return fmt.Errorf("bot init: %w", err)
	}

	done := make(chan error, 1)
	s.done = done
	go func() {
		done <- s.bot.Run(ctx)
		log.Info().Str("component", "bot").Msg("run loop exited")
	}()

	log.Info().Str("component", "bot").Str("mode", mode).Msg("started")
	return nil
}

// Wait blocks until the run loop exits or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return nil
	}
}

func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		s.bot.Shutdown()
	}
}

// State returns a snapshot of the bot state and whether the loop is running.
func (s *Service) State() (models.BotState, bool) {
	return s.bot.State(), s.bot.IsRunning()
}
