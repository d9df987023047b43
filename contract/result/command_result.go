package result

import "sync"

// CommandResult is the envelope embedded in every command.
// It is created once with the command and mutated in place by its handler, so a caller
// holding the pointer observes the final state once dispatch returns.
//
// Invariant: Data is nil whenever the validation result holds a failure.
type CommandResult struct {
	mu         sync.RWMutex
	validation ValidationResult
	data       any
}

// NewCommandResult returns an empty, valid envelope.
func NewCommandResult() *CommandResult { return &CommandResult{} }

// IsValid reports whether no failure has been recorded.
func (r *CommandResult) IsValid() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.validation.IsValid()
}

// Data returns the success payload, or nil while the envelope is invalid.
func (r *CommandResult) Data() any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.validation.IsValid() {
		return nil
	}

	return r.data
}

// Validation returns a copy of the underlying validation result.
func (r *CommandResult) Validation() ValidationResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.validation.Clone()
}

// Errors returns the failure messages in insertion order.
func (r *CommandResult) Errors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.validation.Messages()
}

// Succeed records the success payload. It reports false and leaves Data unset
// when a failure was already recorded.
func (r *CommandResult) Succeed(data any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.validation.IsValid() {
		return false
	}

	r.data = data

	return true
}

// Fail records a failure and drops any payload.
func (r *CommandResult) Fail(key, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.validation.Add(key, message)
	r.data = nil
}

// AddValidation merges the failures of vr. A valid vr leaves the envelope untouched.
func (r *CommandResult) AddValidation(vr ValidationResult) {
	if vr.IsValid() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.validation.Merge(vr)
	r.data = nil
}
