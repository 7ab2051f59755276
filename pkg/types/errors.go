package types

import "fmt"

// ConnectionError indicates the server could not be reached or the
// connection dropped before authentication completed.
type ConnectionError struct {
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Host != "" {
		return fmt.Sprintf("connection to %s failed: %v", e.Host, e.Err)
	}
	return fmt.Sprintf("connection failed: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// AuthenticationError indicates the server rejected the credentials.
type AuthenticationError struct {
	Account string
	Err     error
}

func (e *AuthenticationError) Error() string {
	if e.Account != "" {
		return fmt.Sprintf("authentication failed for %s: %v", e.Account, e.Err)
	}
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// ValidationError indicates invalid caller input or a server response that
// rejected one step of an operation. Op names the failing step when the
// operation has more than one.
type ValidationError struct {
	Op  string
	Msg string
	Err error
}

func (e *ValidationError) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s failed: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	default:
		return e.Msg
	}
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// AccountExistsError is returned when creating an account under a name that
// is already taken.
type AccountExistsError struct {
	Name string
}

func (e *AccountExistsError) Error() string {
	return fmt.Sprintf("account already exists: %s", e.Name)
}

// AccountNotFoundError is returned for operations on an unknown account.
type AccountNotFoundError struct {
	Name string
}

func (e *AccountNotFoundError) Error() string {
	return fmt.Sprintf("account not found: %s", e.Name)
}

// StorageError wraps failures of the underlying account store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
