package session

import (
	"fmt"

	"videos2pdf/internal/scanerr"
)

// State is a session lifecycle state.
type State string

const (
	StateIdle         State = "IDLE"
	StateRecording    State = "RECORDING"
	StateImporting    State = "IMPORTING"
	StateReviewSource State = "REVIEW_SOURCE"
	StateTrim         State = "TRIM"
	StateAutoDetect   State = "AUTO_DETECT"
	StateManualPick   State = "MANUAL_PICK"
	StatePageReview   State = "PAGE_REVIEW"
	StateProcessing   State = "PROCESSING"
	StateExportSetup  State = "EXPORT_SETUP"
	StateExported     State = "EXPORTED"
	StateDiscarded    State = "DISCARDED"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateExported || s == StateDiscarded
}

// transitions lists the forward edges. DISCARDED is reachable from every
// non-terminal state and is handled separately.
var transitions = map[State][]State{
	StateIdle:         {StateRecording, StateImporting},
	StateRecording:    {StateReviewSource},
	StateImporting:    {StateReviewSource},
	StateReviewSource: {StateTrim},
	StateTrim:         {StateAutoDetect, StateManualPick},
	StateAutoDetect:   {StatePageReview, StateProcessing},
	StateManualPick:   {StatePageReview, StateProcessing},
	StatePageReview:   {StateProcessing, StateAutoDetect},
	StateProcessing:   {StateExportSetup, StateAutoDetect, StateManualPick, StatePageReview},
	StateExportSetup:  {StateExported},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	if to == StateDiscarded {
		return !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Mode records how the source video arrived.
type Mode string

const (
	ModeRecording Mode = "recording"
	ModeImport    Mode = "import"
)

// Branch records which page-selection path was chosen at TRIM.
type Branch string

const (
	BranchNone       Branch = ""
	BranchAutoDetect Branch = "auto_detect"
	BranchManual     Branch = "manual"
)

func invalidTransition(op string, from State, allowed ...State) error {
	if from.Terminal() {
		return scanerr.Wrap(scanerr.ErrSessionInvariant, "session", op, fmt.Sprintf("session is %s", from), nil)
	}
	return scanerr.Wrap(scanerr.ErrSessionInvariant, "session", op, fmt.Sprintf("not allowed in %s (allowed: %v)", from, allowed), nil)
}

func stateIn(state State, allowed ...State) bool {
	for _, s := range allowed {
		if s == state {
			return true
		}
	}
	return false
}
