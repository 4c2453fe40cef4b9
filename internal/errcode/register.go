package errcode

import "net/http"

// The error codes the npm-wire-protocol HTTP API reports.
var (
	ErrorCodeBadRequest = Register(ErrorDescriptor{
		Value:          "BAD_REQUEST",
		Message:        "bad request",
		HTTPStatusCode: http.StatusBadRequest,
	})

	ErrorCodeNotFound = Register(ErrorDescriptor{
		Value:          "NOT_FOUND",
		Message:        "not found",
		HTTPStatusCode: http.StatusNotFound,
	})

	ErrorCodeMethodNotAllowed = Register(ErrorDescriptor{
		Value:          "METHOD_NOT_ALLOWED",
		Message:        "method not allowed",
		HTTPStatusCode: http.StatusMethodNotAllowed,
	})

	ErrorCodeConflict = Register(ErrorDescriptor{
		Value:          "CONFLICT",
		Message:        "conflict",
		HTTPStatusCode: http.StatusConflict,
	})

	ErrorCodeBadGateway = Register(ErrorDescriptor{
		Value:          "BAD_GATEWAY",
		Message:        "bad gateway",
		HTTPStatusCode: http.StatusBadGateway,
	})

	ErrorCodeInternal = Register(ErrorDescriptor{
		Value:          "INTERNAL",
		Message:        "internal error",
		HTTPStatusCode: http.StatusInternalServerError,
	})
)
