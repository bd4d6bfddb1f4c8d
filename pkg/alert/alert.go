// Package alert broadcasts recompute summaries and viral-video notices to
// configured destinations.
package alert

import (
	"context"
	"errors"
	"fmt"
)

// VideoNotice is one video flagged in a notification.
type VideoNotice struct {
	VideoID string  `json:"video_id"`
	Title   string  `json:"title"`
	Ratio   float64 `json:"performance_ratio"`
}

// Notification is the data sent to alert destinations.
type Notification struct {
	Title        string        `json:"title"`
	Body         string        `json:"body"`
	RunID        int64         `json:"run_id,omitempty"`
	Days         int           `json:"days,omitempty"`
	ObservedDays int           `json:"observed_days,omitempty"`
	Samples      int           `json:"samples,omitempty"`
	Videos       []VideoNotice `json:"videos,omitempty"`
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
