package domain

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-checkable result code. Messages are display-only.
type Code int

const (
	CodeOK Code = iota
	CodeAlreadyExists
	CodeStoreError
	CodeEmptyName
	CodeEmptyAuthor
	CodeBadImage
	CodeEmptyBrief
	CodeBadPrice
	CodeAccountNotFound
	CodeWrongPassword
	CodeBadFormat
	CodeMissingFile
	CodeEmptyAccount
	CodeEmptyPassword
	CodeEmptyKeyword
)

var codeNames = map[Code]string{
	CodeOK:              "ok",
	CodeAlreadyExists:   "alreadyExists",
	CodeStoreError:      "storeError",
	CodeEmptyName:       "emptyName",
	CodeEmptyAuthor:     "emptyAuthor",
	CodeBadImage:        "badImage",
	CodeEmptyBrief:      "emptyBrief",
	CodeBadPrice:        "badPrice",
	CodeAccountNotFound: "accountNotFound",
	CodeWrongPassword:   "wrongPassword",
	CodeBadFormat:       "badFormat",
	CodeMissingFile:     "missingFile",
	CodeEmptyAccount:    "emptyAccount",
	CodeEmptyPassword:   "emptyPassword",
	CodeEmptyKeyword:    "emptyKeyword",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error is a failed operation outcome. Err, when set, is the underlying cause
// (store or filesystem) and is never shown to callers.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code, so callers can write
// errors.Is(err, domain.ErrAlreadyExists).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

var (
	ErrAlreadyExists   = &Error{Code: CodeAlreadyExists, Message: "already exists"}
	ErrStore           = &Error{Code: CodeStoreError, Message: "store error"}
	ErrEmptyName       = &Error{Code: CodeEmptyName, Message: "book name required"}
	ErrEmptyAuthor     = &Error{Code: CodeEmptyAuthor, Message: "book author required"}
	ErrBadImage        = &Error{Code: CodeBadImage, Message: "invalid image path"}
	ErrEmptyBrief      = &Error{Code: CodeEmptyBrief, Message: "book brief required"}
	ErrBadPrice        = &Error{Code: CodeBadPrice, Message: "invalid book price"}
	ErrAccountNotFound = &Error{Code: CodeAccountNotFound, Message: "account not found"}
	ErrWrongPassword   = &Error{Code: CodeWrongPassword, Message: "wrong password"}
	ErrBadFormat       = &Error{Code: CodeBadFormat, Message: "file format not allowed"}
	ErrMissingFile     = &Error{Code: CodeMissingFile, Message: "file is required (field: file)"}
	ErrEmptyAccount    = &Error{Code: CodeEmptyAccount, Message: "account required"}
	ErrEmptyPassword   = &Error{Code: CodeEmptyPassword, Message: "password required"}
	ErrEmptyKeyword    = &Error{Code: CodeEmptyKeyword, Message: "keyword required"}
)

// StoreError wraps a store or filesystem failure with a display message.
func StoreError(msg string, cause error) *Error {
	return &Error{Code: CodeStoreError, Message: msg, Err: cause}
}

// CodeOf extracts the result code of err. nil is CodeOK; errors that are not
// *Error are reported as store errors.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeStoreError
}

// MessageOf returns the display message of err without the underlying cause.
func MessageOf(err error) string {
	if err == nil {
		return "ok"
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return ErrStore.Message
}
