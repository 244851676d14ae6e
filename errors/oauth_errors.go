package errors

import "fmt"

// OAuth2Error represents a standardized OAuth 2.0 error
type OAuth2Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *OAuth2Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// IsServerError reports whether the error is an internal failure rather than
// a protocol rejection.
func (e *OAuth2Error) IsServerError() bool {
	return e.Code == ServerError
}

// Standard OAuth2 error codes
const (
	InvalidRequest          = "invalid_request"
	UnauthorizedClient      = "unauthorized_client"
	AccessDenied            = "access_denied"
	UnsupportedResponseType = "unsupported_response_type"
	UnsupportedGrantType    = "unsupported_grant_type"
	InvalidScope            = "invalid_scope"
	InvalidClient           = "invalid_client"
	InvalidGrant            = "invalid_grant"
	ServerError             = "server_error"
	TemporarilyUnavailable  = "temporarily_unavailable"
)

func New(code, description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        code,
		Description: description,
	}
}

// Common error constructors
func NewInvalidRequest(description string) *OAuth2Error {
	return New(InvalidRequest, description)
}

func NewInvalidClient(description string) *OAuth2Error {
	return New(InvalidClient, description)
}

func NewInvalidGrant(description string) *OAuth2Error {
	return New(InvalidGrant, description)
}

func NewInvalidScope(description string) *OAuth2Error {
	return New(InvalidScope, description)
}

func NewServerError(description string) *OAuth2Error {
	return New(ServerError, description)
}

func NewUnsupportedResponseType() *OAuth2Error {
	return New(UnsupportedResponseType, "Only the code response type is supported")
}

func NewUnsupportedGrantType() *OAuth2Error {
	return New(UnsupportedGrantType, "The authorization grant type is not supported")
}

// PKCE specific errors
func NewPKCERequired() *OAuth2Error {
	return New(InvalidRequest, "PKCE is required for this client")
}

func NewInvalidPKCE(description string) *OAuth2Error {
	return New(InvalidGrant, fmt.Sprintf("PKCE validation failed: %s", description))
}
