// Package pending tracks per-participant pending text input.
// A participant who pressed "enter code" (or an admin who pressed
// "add codes") has a pending input kind; the next free-text message is
// consumed as that input exactly once, whether or not it proves valid.
package pending

import "sync"

// Kind identifies what a participant's next text message means.
type Kind string

// Pending input kinds.
const (
	KindCode       Kind = "code"        // player is about to submit a code
	KindAdminCodes Kind = "admin_codes" // admin is about to submit a batch of pool codes
)

// Registry is a process-wide map of participant id to pending input kind.
// Entries have no expiry; they persist until satisfied or the process
// restarts.
type Registry struct {
	inputs sync.Map // map[int64]Kind
}

// NewRegistry creates a new pending input registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Set marks the participant as awaiting input of the given kind,
// replacing any previous pending kind.
func (r *Registry) Set(participantID int64, kind Kind) {
	r.inputs.Store(participantID, kind)
}

// Take consumes the participant's pending input. Among concurrent callers
// at most one observes ok=true; the flag is cleared unconditionally.
func (r *Registry) Take(participantID int64) (Kind, bool) {
	v, ok := r.inputs.LoadAndDelete(participantID)
	if !ok {
		return "", false
	}
	return v.(Kind), true
}

// Peek reports the pending kind without consuming it.
func (r *Registry) Peek(participantID int64) (Kind, bool) {
	v, ok := r.inputs.Load(participantID)
	if !ok {
		return "", false
	}
	return v.(Kind), true
}

// Clear drops the participant's pending input, if any.
func (r *Registry) Clear(participantID int64) {
	r.inputs.Delete(participantID)
}
