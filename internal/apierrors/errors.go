// Package apierrors implements the stable error taxonomy (codes, HTTP status,
// OpenAI error "type") that every tier above the adapter translates into.
package apierrors

import "net/http"

// Code is a stable, externally-visible error code string.
type Code string

const (
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeBrowserNotInit    Code = "BROWSER_NOT_INITIALIZED"
	CodeServerBusy        Code = "SERVER_BUSY"
	CodeNoMessages        Code = "NO_MESSAGES"
	CodeNoUserMessages    Code = "NO_USER_MESSAGES"
	CodeTooManyImages     Code = "TOO_MANY_IMAGES"
	CodeInvalidModel      Code = "INVALID_MODEL"
	CodeImageRequired     Code = "IMAGE_REQUIRED"
	CodeImageForbidden    Code = "IMAGE_FORBIDDEN"
	CodeRecaptcha         Code = "RECAPTCHA"
	CodeInternalError     Code = "INTERNAL_ERROR"
	CodeGenerationFailed  Code = "GENERATION_FAILED"
	CodeFailoverExhausted Code = "FAILOVER_EXHAUSTED"
)

// openaiType is the OpenAI-compatible error "type" field for a code.
type openaiType string

const (
	typeInvalidRequest openaiType = "invalid_request_error"
	typeRateLimit      openaiType = "rate_limit_error"
	typeServerError    openaiType = "server_error"
)

type taxonomyEntry struct {
	status int
	typ    openaiType
}

var taxonomy = map[Code]taxonomyEntry{
	CodeUnauthorized:      {http.StatusUnauthorized, typeInvalidRequest},
	CodeBrowserNotInit:    {http.StatusServiceUnavailable, typeServerError},
	CodeServerBusy:        {http.StatusTooManyRequests, typeRateLimit},
	CodeNoMessages:        {http.StatusBadRequest, typeInvalidRequest},
	CodeNoUserMessages:    {http.StatusBadRequest, typeInvalidRequest},
	CodeTooManyImages:     {http.StatusBadRequest, typeInvalidRequest},
	CodeInvalidModel:      {http.StatusBadRequest, typeInvalidRequest},
	CodeImageRequired:     {http.StatusBadRequest, typeInvalidRequest},
	CodeImageForbidden:    {http.StatusBadRequest, typeInvalidRequest},
	CodeRecaptcha:         {http.StatusForbidden, typeServerError},
	CodeInternalError:     {http.StatusInternalServerError, typeServerError},
	CodeGenerationFailed:  {http.StatusBadGateway, typeServerError},
	CodeFailoverExhausted: {http.StatusBadGateway, typeServerError},
}

// Error is a taxonomy-classified error carrying a stable code, an HTTP
// status, and an OpenAI-shaped error type, plus an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.cause }

// Status returns the HTTP status code for this error's taxonomy entry.
func (e *Error) Status() int {
	if entry, ok := taxonomy[e.Code]; ok {
		return entry.status
	}
	return http.StatusInternalServerError
}

// OpenAIType returns the OpenAI error "type" string for this error.
func (e *Error) OpenAIType() string {
	if entry, ok := taxonomy[e.Code]; ok {
		return string(entry.typ)
	}
	return string(typeServerError)
}

// New constructs a taxonomy error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs a taxonomy error with the given code and message, keeping
// cause as the Unwrap target so callers can still errors.Is/As into it.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// As extracts an *Error from a generic error, returning (nil, false) if the
// error (or any error in its chain) is not a taxonomy error.
func As(err error) (*Error, bool) {
	var target *Error
	if ok := asChain(err, &target); ok {
		return target, true
	}
	return nil, false
}

func asChain(err error, target **Error) bool {
	for err != nil {
		if te, ok := err.(*Error); ok {
			*target = te
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// Body is the wire shape of an OpenAI-compatible error response.
type Body struct {
	Error BodyDetail `json:"error"`
}

// BodyDetail is the nested {message,type,code} detail of Body.
type BodyDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// ToBody renders the error as the wire-level OpenAI error body.
func (e *Error) ToBody() Body {
	return Body{Error: BodyDetail{
		Message: e.Error(),
		Type:    e.OpenAIType(),
		Code:    string(e.Code),
	}}
}

// InternalOrWrap classifies an unrecognised error as INTERNAL_ERROR, unless
// it is already a taxonomy error, in which case it is returned unchanged.
func InternalOrWrap(err error) *Error {
	if err == nil {
		return nil
	}
	if te, ok := As(err); ok {
		return te
	}
	return Wrap(CodeInternalError, err.Error(), err)
}
