package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/upb/transcriber-gateway/utils"
)

// MaxBodyBytes caps how much of the request body the extractor reads
const MaxBodyBytes = 1 << 20

const bearerScheme = "bearer"

// Credential is what the caller presents: a bearer token and the subject
// id it claims to act for
type Credential struct {
	BearerToken      string
	ClaimedSubjectID string
}

// subjectBody is the part of the request body the gate reads. user_id is
// bounded like a token subject so it always reaches the store as a valid key.
type subjectBody struct {
	UserID string `json:"user_id" validate:"required,max=128,printable"`
}

// ExtractCredential reads the Authorization header and the user_id field of
// the JSON body. The body is restored on r so later handlers can read it.
// It performs no network I/O.
func ExtractCredential(r *http.Request) (*Credential, error) {
	token, err := bearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return nil, err
	}

	userID, err := claimedSubject(r)
	if err != nil {
		return nil, err
	}

	return &Credential{BearerToken: token, ClaimedSubjectID: userID}, nil
}

// bearerToken returns the token part of a "Bearer <token>" header value
func bearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingCredential
	}

	scheme, rest, found := strings.Cut(header, " ")
	if !found {
		if strings.EqualFold(header, bearerScheme) {
			return "", ErrMalformedCredential
		}
		return "", ErrMissingCredential
	}
	if !strings.EqualFold(scheme, bearerScheme) {
		return "", ErrMissingCredential
	}

	token := strings.TrimSpace(rest)
	if token == "" {
		return "", ErrMalformedCredential
	}
	return token, nil
}

// claimedSubject decodes user_id from the body and puts the bytes back on r
func claimedSubject(r *http.Request) (string, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return "", NewError(ReasonMalformedRequestBody, errors.New("empty body"))
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	_ = r.Body.Close()
	if err != nil {
		return "", NewError(ReasonMalformedRequestBody, err)
	}
	if len(raw) > MaxBodyBytes {
		return "", NewError(ReasonMalformedRequestBody, errors.New("body too large"))
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))

	var body subjectBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", NewError(ReasonMalformedRequestBody, err)
	}

	if err := utils.ValidateStruct(body); err != nil {
		if utils.FailedRule(err, "user_id") == "required" {
			return "", ErrMissingSubjectID
		}
		return "", NewError(ReasonMalformedRequestBody, err)
	}
	return body.UserID, nil
}
