package gateway

import "encoding/json"

// failureRecord is the payload of a failed payment. Intent is set when the
// provider did create an intent that could not be attached to the payment.
type failureRecord struct {
	Error  string  `json:"error"`
	Intent *Intent `json:"intent,omitempty"`
}

// FailurePayload builds the payload stored on a failed payment. Pass the
// intent when one exists so the retry can adopt it instead of opening a
// second one the payer could also pay.
func FailurePayload(cause error, intent *Intent) json.RawMessage {
	rec := failureRecord{Intent: intent}
	if cause != nil {
		rec.Error = cause.Error()
	}

	b, err := json.Marshal(rec)
	if err != nil {
		b, _ = json.Marshal(failureRecord{Error: rec.Error})
	}

	return b
}

// RecordedIntent returns the intent kept in a failure payload, or nil.
func RecordedIntent(payload json.RawMessage) *Intent {
	if len(payload) == 0 {
		return nil
	}

	var rec failureRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil
	}

	if rec.Intent == nil || rec.Intent.ID == "" || rec.Intent.Reference == "" {
		return nil
	}

	return rec.Intent
}
