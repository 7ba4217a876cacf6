package gateway

import (
	"fmt"
	"net/http"
)

// Reason classifies why the gate refused or failed a request
type Reason string

const (
	ReasonMissingCredential           Reason = "MissingCredential"
	ReasonMalformedCredential         Reason = "MalformedCredential"
	ReasonMalformedRequestBody        Reason = "MalformedRequestBody"
	ReasonMissingSubjectID            Reason = "MissingSubjectId"
	ReasonInvalidToken                Reason = "InvalidToken"
	ReasonSubjectMismatch             Reason = "SubjectMismatch"
	ReasonAccountNotFound             Reason = "AccountNotFound"
	ReasonStoreUnavailable            Reason = "StoreUnavailable"
	ReasonIdentityProviderUnavailable Reason = "IdentityProviderUnavailable"
	ReasonInternal                    Reason = "Internal"
)

const internalMessage = "Internal server error"

// response describes how a reason is rendered to the caller
type response struct {
	outcome Outcome
	status  int
	message string
}

var responses = map[Reason]response{
	ReasonMissingCredential:           {OutcomeDeny, http.StatusUnauthorized, "Missing or invalid authorization header"},
	ReasonMalformedCredential:         {OutcomeDeny, http.StatusUnauthorized, "Missing or invalid authorization header"},
	ReasonMalformedRequestBody:        {OutcomeDeny, http.StatusBadRequest, "Invalid request body"},
	ReasonMissingSubjectID:            {OutcomeDeny, http.StatusBadRequest, "User ID is required"},
	ReasonInvalidToken:                {OutcomeDeny, http.StatusUnauthorized, "Invalid or expired token"},
	ReasonSubjectMismatch:             {OutcomeDeny, http.StatusUnauthorized, "Token subject does not match user ID"},
	ReasonAccountNotFound:             {OutcomeDeny, http.StatusUnauthorized, "User account is not found"},
	ReasonStoreUnavailable:            {OutcomeError, http.StatusInternalServerError, internalMessage},
	ReasonIdentityProviderUnavailable: {OutcomeError, http.StatusInternalServerError, internalMessage},
	ReasonInternal:                    {OutcomeError, http.StatusInternalServerError, internalMessage},
}

func responseFor(reason Reason) response {
	if r, ok := responses[reason]; ok {
		return r
	}
	return responses[ReasonInternal]
}

// Status returns the HTTP status the reason is rendered with
func (r Reason) Status() int {
	return responseFor(r).status
}

// Message returns the client-facing message for the reason
func (r Reason) Message() string {
	return responseFor(r).message
}

// Error is a gate failure carrying its reason and underlying cause
type Error struct {
	Reason Reason
	Err    error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return string(e.Reason)
}

// Unwrap implements errors.Unwrap
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same reason
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Reason == t.Reason
}

// NewError creates a gate error
func NewError(reason Reason, err error) *Error {
	return &Error{Reason: reason, Err: err}
}

var (
	ErrMissingCredential           = NewError(ReasonMissingCredential, nil)
	ErrMalformedCredential         = NewError(ReasonMalformedCredential, nil)
	ErrMalformedRequestBody        = NewError(ReasonMalformedRequestBody, nil)
	ErrMissingSubjectID            = NewError(ReasonMissingSubjectID, nil)
	ErrInvalidToken                = NewError(ReasonInvalidToken, nil)
	ErrSubjectMismatch             = NewError(ReasonSubjectMismatch, nil)
	ErrAccountNotFound             = NewError(ReasonAccountNotFound, nil)
	ErrStoreUnavailable            = NewError(ReasonStoreUnavailable, nil)
	ErrIdentityProviderUnavailable = NewError(ReasonIdentityProviderUnavailable, nil)
	ErrInternal                    = NewError(ReasonInternal, nil)
)
