package games

import "fmt"

// Phase is the coarse game phase reported to clients. The rules engine
// owns transitions; this package only stores and reports the value.
type Phase string

const (
	PhaseLobby      Phase = "lobby"
	PhaseAction     Phase = "action"
	PhaseProduction Phase = "production"
	PhaseEnd        Phase = "end"
)

// ParsePhase accepts only the known phases.
func ParsePhase(s string) (Phase, error) {
	switch p := Phase(s); p {
	case PhaseLobby, PhaseAction, PhaseProduction, PhaseEnd:
		return p, nil
	}
	return "", fmt.Errorf("unknown phase %q", s)
}

// Terminal reports whether no further transitions are possible.
func (p Phase) Terminal() bool {
	return p == PhaseEnd
}
