package browser

// Phase is the progress of one browser-driven login attempt. Phases only
// move forward.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseProviderInteraction
	PhaseVerifying
	PhaseCompleting
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseProviderInteraction:
		return "provider_interaction"
	case PhaseVerifying:
		return "verifying"
	case PhaseCompleting:
		return "completing"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (p Phase) Terminal() bool { return p == PhaseDone || p == PhaseFailed }

// Mode selects how the provider page is driven.
type Mode int

const (
	// ModeInjection fills and submits the provider form in a hidden view.
	ModeInjection Mode = iota
	// ModeRedirect shows the provider to the user and only clicks the
	// "continue with provider" control.
	ModeRedirect
)

func (m Mode) String() string {
	if m == ModeRedirect {
		return "redirect"
	}
	return "injection"
}
