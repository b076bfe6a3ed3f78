package models

// Error codes carried in ErrorDetails.Code.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeForbidden      = "FORBIDDEN"
	CodeNotFound       = "NOT_FOUND"
	CodeConflict       = "CONFLICT"
	CodeRateLimited    = "RATE_LIMITED"
	CodeUnverified     = "UNVERIFIED"
	CodeInternal       = "INTERNAL_ERROR"
)

type ErrorDetails struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	OK           bool         `json:"ok"`
	Error        string       `json:"error"`
	ErrorDetails ErrorDetails `json:"errorDetails"`
}

func NewErrorResponse(code, message string) ErrorResponse {
	return ErrorResponse{
		Error:        message,
		ErrorDetails: ErrorDetails{Code: code, Message: message},
	}
}
