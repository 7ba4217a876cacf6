package gateway

import (
	"errors"

	"github.com/upb/transcriber-gateway/identity"
	"github.com/upb/transcriber-gateway/models"
)

// Outcome is the terminal state of an authorization
type Outcome string

const (
	OutcomeAllow Outcome = "allow"
	OutcomeDeny  Outcome = "deny"
	OutcomeError Outcome = "error"
)

// Decision is the result of running a request through the gate.
// Identity and Account are set only when Outcome is OutcomeAllow.
type Decision struct {
	Outcome  Outcome
	Reason   Reason
	Status   int
	Message  string
	Identity *identity.VerifiedIdentity
	Account  *models.Account
	Err      error
}

// Allowed reports whether the request may proceed
func (d Decision) Allowed() bool {
	return d.Outcome == OutcomeAllow
}

// Allow builds an allow decision
func Allow(id *identity.VerifiedIdentity, account *models.Account) Decision {
	return Decision{Outcome: OutcomeAllow, Identity: id, Account: account}
}

// DecisionFor converts an error into a deny or error decision.
// Errors that are not gate errors are treated as internal failures.
func DecisionFor(err error) Decision {
	reason := ReasonInternal
	var gateErr *Error
	if errors.As(err, &gateErr) {
		reason = gateErr.Reason
	}

	resp := responseFor(reason)
	return Decision{
		Outcome: resp.outcome,
		Reason:  reason,
		Status:  resp.status,
		Message: resp.message,
		Err:     err,
	}
}
