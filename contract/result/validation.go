package result

// ExceptionKey tags a failure synthesized from an unexpected error at an ingress boundary.
const ExceptionKey = "Exception"

// ValidationFailure is one failed rule: Key names the offending entity or field.
type ValidationFailure struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

// ValidationResult collects failures. The zero value is valid.
type ValidationResult struct {
	Errors []ValidationFailure `json:"errors,omitempty"`
}

// Valid returns an empty, valid result.
func Valid() ValidationResult { return ValidationResult{} }

// Invalid returns a result carrying a single failure.
func Invalid(key, message string) ValidationResult {
	return ValidationResult{Errors: []ValidationFailure{{Key: key, Message: message}}}
}

// ExceptionFailure converts an unexpected error into a single synthetic failure.
func ExceptionFailure(err error) ValidationResult {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}

	return Invalid(ExceptionKey, msg)
}

// IsValid reports whether no failure was recorded.
func (v ValidationResult) IsValid() bool { return len(v.Errors) == 0 }

// Add appends a failure.
func (v *ValidationResult) Add(key, message string) {
	v.Errors = append(v.Errors, ValidationFailure{Key: key, Message: message})
}

// Merge appends the failures of other, preserving order.
func (v *ValidationResult) Merge(other ValidationResult) {
	v.Errors = append(v.Errors, other.Errors...)
}

// Messages returns the failure messages in insertion order.
func (v ValidationResult) Messages() []string {
	out := make([]string, 0, len(v.Errors))
	for _, e := range v.Errors {
		out = append(out, e.Message)
	}

	return out
}

// Clone returns a copy that does not share the underlying slice.
func (v ValidationResult) Clone() ValidationResult {
	if len(v.Errors) == 0 {
		return ValidationResult{}
	}

	return ValidationResult{Errors: append([]ValidationFailure(nil), v.Errors...)}
}
