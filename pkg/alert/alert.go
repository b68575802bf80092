// Package alert broadcasts rank-mover notifications to configured
// destinations after a refresh cycle.
package alert

import (
	"context"
	"errors"
	"fmt"
)

// Mover is one game movement worth telling someone about. Only games
// with a computed day-over-day climb qualify; chart debuts have no
// delta and are never alerted on.
type Mover struct {
	Name        string `json:"name"`
	StoreID     string `json:"store_id"`
	Genre       string `json:"genre"`
	CountryCode string `json:"country_code"`
	CurrentRank int    `json:"current_rank"`
	RankChange  int    `json:"rank_change"`
}

// Notification is the data sent to alert destinations.
type Notification struct {
	Title  string  `json:"title"`
	Body   string  `json:"body"`
	Movers []Mover `json:"movers"`
}

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return len(m.notifiers) > 0
}

// Broadcast sends a notification to all registered notifiers.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func moverLine(m Mover) string {
	return fmt.Sprintf("%s (%s) climbed %d places to #%d in %s", m.Name, m.Genre, m.RankChange, m.CurrentRank, m.CountryCode)
}
