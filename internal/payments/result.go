package payments

import (
	"errors"
	"fmt"
)

const (
	StatusOK    = "ok"
	StatusInfo  = "info"
	StatusError = "error"
)

// Result is the acknowledgment returned to the provider.
type Result struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	URL     string `json:"url,omitempty"`
}

func okResult(msg string) Result    { return Result{Status: StatusOK, Message: msg} }
func infoResult(msg string) Result  { return Result{Status: StatusInfo, Message: msg} }
func errorResult(msg string) Result { return Result{Status: StatusError, Message: msg} }

var signatureFailed = errorResult("webhook signature failed")

// Rejection is a permanent refusal of an event. It is acknowledged with
// an error result instead of being left for redelivery.
type Rejection struct {
	Message string
	Err     error
}

func (r *Rejection) Error() string {
	if r.Err == nil {
		return r.Message
	}
	return fmt.Sprintf("%s: %v", r.Message, r.Err)
}

func (r *Rejection) Unwrap() error { return r.Err }

func reject(msg string, err error) error {
	return &Rejection{Message: msg, Err: err}
}

func asRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
