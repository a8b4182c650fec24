package ji

import (
	"errors"

	"github.com/cyclopcam/evsdk/pkg/license"
)

// Status is the result of an entry point
type Status int

const (
	StatusSucceed       Status = 0
	StatusFailed        Status = -1
	StatusUnused        Status = -2 // The entry point is not implemented
	StatusInvalidParams Status = -9
	StatusOverMaxQPS    Status = -99
	StatusUnauthorized  Status = -999
)

func (s Status) String() string {
	switch s {
	case StatusSucceed:
		return "succeed"
	case StatusFailed:
		return "failed"
	case StatusUnused:
		return "unused"
	case StatusInvalidParams:
		return "invalid_params"
	case StatusOverMaxQPS:
		return "over_max_qps"
	case StatusUnauthorized:
		return "unauthorized"
	}
	return "unknown"
}

// Event codes
const (
	CodeAlarm  = 0
	CodeNormal = 1
	CodeFailed = -1 // Processing failed. JSON is empty.
)

// Event is the outcome of processing one image.
// JSON is borrowed from the Predictor, and is valid until the next call on that Predictor,
// or until Reinit or DestroyPredictor.
type Event struct {
	Code int
	JSON []byte
}

func failedEvent() Event {
	return Event{Code: CodeFailed}
}

// Map a license gate error onto a status
func licenseStatus(err error) Status {
	if err == nil {
		return StatusSucceed
	}
	if errors.Is(err, license.ErrOverMaxQPS) {
		return StatusOverMaxQPS
	}
	return StatusUnauthorized
}
