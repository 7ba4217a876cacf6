package models

import (
	"encoding/json"
	"time"
)

// DefaultAccountCollection is the collection holding one record per signed-up subject
const DefaultAccountCollection = "user-accounts"

// Account is a provisioned account record, keyed by the identity provider subject.
// The gateway only reads it; records are created and removed by provisioning.
type Account struct {
	Collection string          `json:"collection" db:"collection"`
	SubjectID  string          `json:"subject_id" db:"document_id"`
	Data       json.RawMessage `json:"data,omitempty" db:"data"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Account model
func (Account) TableName() string {
	return "account_records"
}

// Path returns the document path of the record, e.g. "user-accounts/u1"
func (a *Account) Path() string {
	return a.Collection + "/" + a.SubjectID
}

// Field returns a top-level string field from the record payload, if present
func (a *Account) Field(name string) (string, bool) {
	if len(a.Data) == 0 {
		return "", false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(a.Data, &fields); err != nil {
		return "", false
	}
	raw, ok := fields[name]
	if !ok {
		return "", false
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false
	}
	return value, true
}
