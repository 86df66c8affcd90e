package errors

import (
	"fmt"
)

type ErrorType string

const (
	ErrorTypeRepositoryNotFound ErrorType = "REPOSITORY_NOT_FOUND"
	ErrorTypeFileRead           ErrorType = "FILE_READ"
	ErrorTypeIO                 ErrorType = "IO"
	ErrorTypeHeadCorrupt        ErrorType = "HEAD_CORRUPT"
	ErrorTypeValidation         ErrorType = "VALIDATION"
)

// Sentinels for errors.Is. Matching is by Type only.
var (
	ErrRepositoryNotFound = &Error{Type: ErrorTypeRepositoryNotFound}
	ErrFileRead           = &Error{Type: ErrorTypeFileRead}
	ErrIO                 = &Error{Type: ErrorTypeIO}
	ErrHeadCorrupt        = &Error{Type: ErrorTypeHeadCorrupt}
	ErrValidation         = &Error{Type: ErrorTypeValidation}
)

type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Path    string    `json:"path,omitempty"`
	Err     error     `json:"-"`
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Type)
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// RepositoryNotFound reports a missing repository marker directory at dir.
func RepositoryNotFound(dir string) *Error {
	return &Error{
		Type:    ErrorTypeRepositoryNotFound,
		Message: "repository not found (missing metadata directory)",
		Path:    dir,
	}
}

func FileRead(path string, err error) *Error {
	return &Error{
		Type:    ErrorTypeFileRead,
		Message: "cannot read file",
		Path:    path,
		Err:     err,
	}
}

func IO(message string, err error) *Error {
	return &Error{
		Type:    ErrorTypeIO,
		Message: message,
		Err:     err,
	}
}

func HeadCorrupt(message string, err error) *Error {
	return &Error{
		Type:    ErrorTypeHeadCorrupt,
		Message: message,
		Err:     err,
	}
}

func Validation(message string, path string) *Error {
	return &Error{
		Type:    ErrorTypeValidation,
		Message: message,
		Path:    path,
	}
}
