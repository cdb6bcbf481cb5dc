package runtime

import (
	"errors"
	"strings"

	"github.com/roach88/logline/internal/span"
)

// Outcome is the result of one submission: either a recorded span and its
// action output, or an error.
type Outcome struct {
	Span   span.Span
	Result string
	Err    error
}

// OK reports whether the submission was recorded.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Status returns "ok" or the lowercased error code, e.g. "contract_not_found".
func (o Outcome) Status() string {
	if o.Err == nil {
		return "ok"
	}
	var re *Error
	if errors.As(o.Err, &re) {
		return strings.ToLower(string(re.Code))
	}
	return "error"
}

// MarshalJSON encodes {"span":...,"result":...} on success and
// {"error":"..."} on failure.
func (o Outcome) MarshalJSON() ([]byte, error) {
	if o.Err != nil {
		return span.Marshal(struct {
			Error string `json:"error"`
		}{o.Err.Error()})
	}
	return span.Marshal(struct {
		Span   span.Span `json:"span"`
		Result string    `json:"result"`
	}{o.Span, o.Result})
}
