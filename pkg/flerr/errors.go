package flerr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error into one of the categories spec.md §7 names.
type Kind string

const (
	Validation Kind = "validation"
	NotFound   Kind = "not_found"
	Conflict   Kind = "conflict"
	Resource   Kind = "resource"
	Integrity  Kind = "integrity"
	Limit      Kind = "limit"
	Recovery   Kind = "recovery"
	Fatal      Kind = "fatal"
)

// Error is the structured error every Flanes component returns.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Fields  map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is match sentinel errors by Kind+Message even after
// WithFields has copied them with new field data attached.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == te.Kind && e.Message == te.Message
}

// New builds an *Error with no wrapped cause.
func New(kind Kind, message string, fields map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Fields: fields}
}

// Wrap builds an *Error that wraps cause.
func Wrap(kind Kind, message string, cause error, fields map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause, Fields: fields}
}

// Is reports whether err is an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// Sentinel errors for conditions components return by identity rather
// than constructed message, matching spec.md §7's named error list.
var (
	ErrNotFound           = New(NotFound, "object not found", nil)
	ErrBlobTooLarge       = New(Limit, "blob exceeds max_blob_size", nil)
	ErrTreeTooDeep        = New(Limit, "tree exceeds max_tree_depth", nil)
	ErrBudgetExceeded     = New(Limit, "lane budget exceeded", nil)
	ErrIntegrityMismatch  = New(Integrity, "content hash does not match stored key", nil)
	ErrCorruptedLedger    = New(Integrity, "ledger failed an integrity constraint", nil)
	ErrPromoteConflict    = New(Conflict, "promotion has conflicting paths", nil)
	ErrStaleProposal      = New(Conflict, "lane head moved since the transition was proposed", nil)
	ErrLockBusy           = New(Resource, "workspace lock is held by another process", nil)
	ErrLockTimeout        = New(Resource, "timed out waiting for workspace lock", nil)
	ErrDirtyWorkspace     = New(Recovery, "workspace has an uncleared dirty marker", nil)
	ErrInvalidName        = New(Validation, "name failed validation", nil)
	ErrDuplicateEntryName = New(Validation, "tree has duplicate entry names", nil)
	ErrNoCommonAncestor   = New(Conflict, "source and target lanes share no common ancestor", nil)
	ErrCanceled           = New(Fatal, "operation canceled", nil)
)

// WithFields returns a copy of the sentinel error e with fields merged
// in, so call sites can attach context without mutating the package
// sentinel (errors.Is still works against the shared Kind+Message).
func WithFields(e *Error, fields map[string]any) *Error {
	cp := *e
	cp.Fields = fields
	return &cp
}
