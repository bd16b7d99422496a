package store

import "errors"

var (
	// ErrNotFound is returned when the requested operator or subscription does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a username or tag id is already taken.
	ErrDuplicate = errors.New("already exists")
)

// OperatorProfile is the editable part of an operator record.
type OperatorProfile struct {
	DisplayName    string
	EmailAddress   string
	PhoneNumber    string
	TwitterHandle  string
	MastodonHandle string
	KeyfobID       *string
	PrintInPrivate bool
}
