package batch

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lsm/chameleon/internal/chameleon"
	"github.com/lsm/chameleon/internal/event"
)

const (
	// ErrorCategory tags every per-event failure.
	ErrorCategory = "transformation"
	// ErrorTypePlatform tags failures that are not configuration or
	// instrumentation problems.
	ErrorTypePlatform = "platform"
)

// StatTags classifies a failure for downstream reporting.
type StatTags struct {
	ErrorCategory string `json:"errorCategory"`
	ErrorType     string `json:"errorType"`
}

// ErrorResult is the terminal value for a failed event.
type ErrorResult struct {
	StatusCode  int                `json:"statusCode"`
	Error       string             `json:"error"`
	StatTags    StatTags           `json:"statTags"`
	Metadata    []*event.Metadata  `json:"metadata,omitempty"`
	Batched     bool               `json:"batched"`
	Destination *event.Destination `json:"destination,omitempty"`
}

// RouterSuccess wraps a successful request for the router entry point.
type RouterSuccess struct {
	BatchedRequest []*chameleon.Request `json:"batchedRequest"`
	Metadata       []*event.Metadata    `json:"metadata"`
	Batched        bool                 `json:"batched"`
	StatusCode     int                  `json:"statusCode"`
	Destination    event.Destination    `json:"destination"`
	Message        event.Event          `json:"message,omitempty"`
}

// Result is the outcome for one input event. Exactly one field is set.
type Result struct {
	Request *chameleon.Request
	Router  *RouterSuccess
	Failure *ErrorResult
}

// OK reports whether the event was transformed.
func (r Result) OK() bool { return r.Failure == nil }

// MarshalJSON emits the populated variant only.
func (r Result) MarshalJSON() ([]byte, error) {
	switch {
	case r.Failure != nil:
		return json.Marshal(r.Failure)
	case r.Router != nil:
		return json.Marshal(r.Router)
	case r.Request != nil:
		return json.Marshal(r.Request)
	default:
		return nil, errors.New("batch: empty result")
	}
}

func newErrorResult(ev event.RoutedEvent, err error) *ErrorResult {
	res := &ErrorResult{
		StatusCode: http.StatusInternalServerError,
		Error:      err.Error(),
		StatTags: StatTags{
			ErrorCategory: ErrorCategory,
			ErrorType:     ErrorTypePlatform,
		},
		Metadata: metadataList(ev),
	}
	var te *chameleon.Error
	if errors.As(err, &te) {
		res.StatusCode = te.StatusCode()
		res.StatTags.ErrorType = te.Kind.String()
	}
	dest := ev.Destination
	res.Destination = &dest
	return res
}

func newRouterSuccess(ev event.RoutedEvent, req *chameleon.Request) *RouterSuccess {
	return &RouterSuccess{
		BatchedRequest: []*chameleon.Request{req},
		Metadata:       metadataList(ev),
		Batched:        true,
		StatusCode:     http.StatusOK,
		Destination:    ev.Destination,
		Message:        ev.Message,
	}
}

func metadataList(ev event.RoutedEvent) []*event.Metadata {
	if ev.Metadata == nil {
		return []*event.Metadata{}
	}
	return []*event.Metadata{ev.Metadata}
}
