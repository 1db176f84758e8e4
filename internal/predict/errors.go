package predict

import (
	"errors"
	"fmt"

	"github.com/machine-monitor/backend/internal/models"
)

var (
	// ErrNetwork covers transport failures and non-2xx responses.
	ErrNetwork = errors.New("prediction request failed")
	// ErrMalformedResponse is returned when a 2xx body does not match
	// {"features": {name: number}, "label": string}.
	ErrMalformedResponse = errors.New("malformed prediction response")
)

// StatusError reports a non-2xx answer from the prediction service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("prediction service returned %d", e.StatusCode)
	}
	return fmt.Sprintf("prediction service returned %d: %s", e.StatusCode, e.Body)
}

// Unwrap makes a StatusError match ErrNetwork.
func (e *StatusError) Unwrap() error {
	return ErrNetwork
}

// Kind maps a Submit error onto the session error taxonomy.
// Anything that is not a malformed response counts as a network error.
func Kind(err error) models.ErrorKind {
	if errors.Is(err, ErrMalformedResponse) {
		return models.ErrorKindMalformedResponse
	}
	return models.ErrorKindNetwork
}
