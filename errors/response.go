package errors

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
)

// maxErrorBody caps how much of an error response a client reads.
const maxErrorBody = 64 << 10

// ErrorResponse is the envelope every failed API call returns.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody is the payload of an ErrorResponse.
type ErrorBody struct {
	Code      ErrorCode      `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

// ToResponse wraps e in the wire envelope. Cause is never sent.
func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{Error: ErrorBody{
		Code:      e.Code,
		Message:   e.Message,
		Retryable: e.Retryable,
		Details:   e.Details,
	}}
}

// WriteJSON writes e as a JSON envelope with its HTTP status. It is meant
// for plain net/http handlers that run outside Gin.
func WriteJSON(w http.ResponseWriter, e *AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPStatus)
	_ = json.NewEncoder(w).Encode(e.ToResponse())
}

// statusCodes maps bare statuses to a code when the body carries none.
var statusCodes = map[int]ErrorCode{
	http.StatusBadRequest:      ErrCodeMalformedInput,
	http.StatusNotFound:        ErrCodeNotFound,
	http.StatusGone:            ErrCodeStaleCursor,
	http.StatusTooManyRequests: ErrCodeRateLimited,
	http.StatusGatewayTimeout:  ErrCodeTimeout,
}

func codeForStatus(status int) ErrorCode {
	if code, ok := statusCodes[status]; ok {
		return code
	}
	if status >= 500 {
		return ErrCodeTransientUnavailable
	}
	return ErrCodeInternal
}

// FromResponse rebuilds an AppError from a decoded envelope and the status
// it arrived with.
func FromResponse(status int, resp ErrorResponse) *AppError {
	body := resp.Error
	if body.Code == "" {
		body.Code = codeForStatus(status)
	}
	if body.Message == "" {
		body.Message = http.StatusText(status)
	}
	return &AppError{
		Code:       body.Code,
		Message:    body.Message,
		Retryable:  body.Retryable || IsRetryableCode(body.Code),
		HTTPStatus: status,
		Details:    body.Details,
	}
}

// Decode reads an error envelope from body. A body that is not an envelope
// still yields an error derived from status alone.
func Decode(status int, body io.Reader) *AppError {
	var resp ErrorResponse
	_ = json.NewDecoder(io.LimitReader(body, maxErrorBody)).Decode(&resp)
	return FromResponse(status, resp)
}

// IsAppError reports whether err wraps an *AppError.
func IsAppError(err error) bool {
	_, ok := AsAppError(err)
	return ok
}

// AsAppError returns the first *AppError in err's chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	ok := stderrors.As(err, &appErr)
	return appErr, ok
}

// HasCode reports whether err wraps an *AppError with code.
func HasCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}
