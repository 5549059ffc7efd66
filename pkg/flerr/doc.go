/*
Package flerr defines the typed error taxonomy spec.md §7 lists:
Validation, NotFound, Conflict, Resource, Integrity, Limit, Recovery,
and Fatal. Every sentinel error the core packages return is built
through this package so a caller can `errors.As` a *flerr.Error and
branch on .Kind instead of string-matching messages, the same way
Warren threads `fmt.Errorf("...: %w", err)` context through every
layer but with one shared enum instead of ad hoc wrapping.
*/
package flerr
