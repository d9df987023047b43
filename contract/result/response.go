package result

import "encoding/json"

// ResponseMessage is the wire form of a validation outcome, used as the response
// type of request/response integration events.
type ResponseMessage struct {
	Valid  bool                `json:"valid"`
	Errors []ValidationFailure `json:"errors,omitempty"`
	Data   json.RawMessage     `json:"data,omitempty"`
}

// FromValidation wraps vr for the wire.
func FromValidation(vr ValidationResult) ResponseMessage {
	return ResponseMessage{Valid: vr.IsValid(), Errors: vr.Clone().Errors}
}

// FromCommandResult wraps r, encoding its payload when valid.
func FromCommandResult(r *CommandResult) (ResponseMessage, error) {
	msg := FromValidation(r.Validation())
	if !msg.Valid {
		return msg, nil
	}

	if data := r.Data(); data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return ResponseMessage{}, err
		}

		msg.Data = raw
	}

	return msg, nil
}

// ToValidation restores the validation result carried by m.
func (m ResponseMessage) ToValidation() ValidationResult {
	return ValidationResult{Errors: append([]ValidationFailure(nil), m.Errors...)}
}
