package account

import "errors"

var (
	// ErrInvalidCredential covers every login failure: unknown email, wrong
	// password, undecryptable or malformed credential blob.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrPasswordMismatch is returned when the two new passwords differ.
	ErrPasswordMismatch = errors.New("passwords do not match")
	// ErrEmptyPassword is returned when a new password is blank.
	ErrEmptyPassword = errors.New("password must not be empty")
	// ErrInvalidOriginPassword is returned when the current password does not
	// verify during a password change.
	ErrInvalidOriginPassword = errors.New("invalid origin password")
	// ErrEmailMismatch is returned when a password change names an email
	// that does not belong to the role.
	ErrEmailMismatch = errors.New("email does not match account")
	// ErrNotFound is returned when no account matches a lookup.
	ErrNotFound = errors.New("account not found")
	// ErrExists is returned when creating an account whose email or role id
	// is already taken.
	ErrExists = errors.New("account already exists")
	// ErrConflict is returned when a concurrent writer kept winning the
	// compare-and-swap race.
	ErrConflict = errors.New("account update conflict")
)
