package pricecache

import "sync/atomic"

// Visibility reports whether the consuming surface is in the foreground.
// Pollers skip their tick while it reports false; cached values are kept.
type Visibility interface {
	Visible() bool
}

type alwaysVisible struct{}

func (alwaysVisible) Visible() bool { return true }

// AlwaysVisible is the activity signal for hosts without a UI
var AlwaysVisible Visibility = alwaysVisible{}

// Switch is a Visibility toggled by the host.
type Switch struct {
	visible atomic.Bool
}

func NewSwitch(visible bool) *Switch {
	s := &Switch{}
	s.visible.Store(visible)
	return s
}

func (s *Switch) Set(visible bool) { s.visible.Store(visible) }

func (s *Switch) Visible() bool { return s.visible.Load() }
