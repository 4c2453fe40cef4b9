// Package errcode provides a toolkit for defining and assigning error codes
// to npm-registry HTTP API responses. An ErrorCode is identified globally by
// a string value (e.g. "NOT_FOUND") and carries the HTTP status it should be
// reported with.
//
// Error codes register themselves into a package-level vocabulary at
// init time, and ServeJSON renders any registered error as a flat npm-style
// {"error": "..."} JSON object with the status the code was registered
// under.
package errcode

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
)

// ErrorCode is a globally unique, numerically-identified error condition.
type ErrorCode int

var (
	errorCodeToDescriptors = map[ErrorCode]ErrorDescriptor{}
	idToDescriptors        = map[string]ErrorDescriptor{}
	registerLock           sync.Mutex
	nextCode               = 1000
)

// ErrorDescriptor describes the registered meaning of an ErrorCode.
type ErrorDescriptor struct {
	Code ErrorCode
	// Value is the short machine identifier, e.g. "NOT_FOUND".
	Value string
	// Message is the default human-readable message for this code.
	Message string
	// HTTPStatusCode is the status this error is reported with absent a
	// more specific override.
	HTTPStatusCode int
}

// Register assigns a new ErrorCode to the descriptor and makes it known to
// the package. Panics if Value collides with an already-registered code:
// registration happens at package-init time, so a collision is a programmer
// error, not a runtime one.
func Register(descriptor ErrorDescriptor) ErrorCode {
	registerLock.Lock()
	defer registerLock.Unlock()

	descriptor.Code = ErrorCode(nextCode)

	if _, ok := idToDescriptors[descriptor.Value]; ok {
		panic(fmt.Sprintf("errcode: value %q already registered", descriptor.Value))
	}

	errorCodeToDescriptors[descriptor.Code] = descriptor
	idToDescriptors[descriptor.Value] = descriptor
	nextCode++

	return descriptor.Code
}

// Descriptor returns the registration info for this code.
func (ec ErrorCode) Descriptor() ErrorDescriptor {
	return errorCodeToDescriptors[ec]
}

// String returns the error value, e.g. "NOT_FOUND".
func (ec ErrorCode) String() string {
	return ec.Descriptor().Value
}

// Error makes ErrorCode satisfy the error interface using the registered
// default message.
func (ec ErrorCode) Error() string {
	return ec.Descriptor().Message
}

// WithMessage returns a copy of this Error with Message overridden, e.g. to
// include the offending name or PID in the response.
func (ec ErrorCode) WithMessage(format string, args ...interface{}) Error {
	return Error{
		Code:    ec,
		Message: fmt.Sprintf(format, args...),
	}
}

// Error is a concrete, renderable instance of an ErrorCode, optionally
// overriding the descriptor's default message.
type Error struct {
	Code    ErrorCode `json:"-"`
	Message string    `json:"error"`
}

func (e Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code.Error()
}

// ErrorCoder identifies types carrying an ErrorCode, so ServeJSON can pick
// the right HTTP status.
type ErrorCoder interface {
	ErrorCode() ErrorCode
}

func (e Error) ErrorCode() ErrorCode { return e.Code }

// ServeJSON writes err as the npm-style {"error": "<message>"} envelope and
// sets the HTTP status from the registered descriptor (500 if err carries no
// ErrorCode).
func ServeJSON(w http.ResponseWriter, err error) error {
	w.Header().Set("Content-Type", "application/json")

	status := http.StatusInternalServerError
	body := Error{Message: err.Error()}

	if coder, ok := err.(ErrorCoder); ok {
		status = coder.ErrorCode().Descriptor().HTTPStatusCode
		body.Code = coder.ErrorCode()
		if e, ok := err.(Error); ok {
			body = e
		}
	}

	if status == 0 {
		status = http.StatusInternalServerError
	}

	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(body)
}

// AllDescriptors returns every registered descriptor, sorted by Value. Used
// by tests to assert the full taxonomy is wired.
func AllDescriptors() []ErrorDescriptor {
	out := make([]ErrorDescriptor, 0, len(idToDescriptors))
	for _, d := range idToDescriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out
}
