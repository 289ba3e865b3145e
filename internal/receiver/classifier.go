// Package receiver handles inbound messages and token rotations: it classifies
// each message and routes it to the renderer or the pending-dialog store.
package receiver

import (
	"strings"

	"github.com/tinywideclouds/go-easy-notifier/pkg/notification"
)

// State is a step of the per-message classification.
type State int

const (
	StateIdle State = iota
	StateClassifying
	StateRendering
	StateStoring
	StateDiscarded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateClassifying:
		return "classifying"
	case StateRendering:
		return "rendering"
	case StateStoring:
		return "storing"
	case StateDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Reason explains a classification result.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonEmpty       Reason = "empty payload"
	ReasonFiltered    Reason = "filtered by predicate"
	ReasonUnknownType Reason = "unknown type"
	ReasonMissingType Reason = "missing type"
)

// Classify is the deterministic transition from Classifying to a terminal
// state. shouldProcess may be nil.
func Classify(data map[string]string, shouldProcess func(map[string]string) bool) (State, Reason) {
	if len(data) == 0 {
		return StateDiscarded, ReasonEmpty
	}
	if shouldProcess != nil && !shouldProcess(data) {
		return StateDiscarded, ReasonFiltered
	}

	raw, ok := data[notification.KeyType]
	if !ok || strings.TrimSpace(raw) == "" {
		return StateDiscarded, ReasonMissingType
	}
	kind, ok := notification.ParseKind(raw)
	if !ok {
		return StateDiscarded, ReasonUnknownType
	}
	if kind == notification.KindDialog {
		return StateStoring, ReasonNone
	}
	return StateRendering, ReasonNone
}
