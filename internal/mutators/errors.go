package mutators

import (
	"errors"

	"github.com/roach88/spacesync/internal/protocol"
	"github.com/roach88/spacesync/internal/store"
)

// Domain error codes returned to clients.
const (
	CodeInvalidArgs     = "invalid_args"
	CodeNotFound        = "not_found"
	CodeAlreadyExists   = "already_exists"
	CodeVersionConflict = "version_conflict"
	CodeForbidden       = "forbidden"
	CodeCartEmpty       = "cart_empty"
)

// domainError maps the store's optimistic write failures onto domain errors.
// Other errors are returned unchanged.
func domainError(err error, what string) error {
	var conflict *store.ConflictError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &conflict) && conflict.CurrentVersion != 0 && conflict.ExpectedVersion == 0:
		return protocol.NewDomainError(CodeAlreadyExists, "%s already exists", what)
	case errors.As(err, &conflict):
		return protocol.NewDomainError(CodeVersionConflict,
			"%s changed: expected version %d, current %d", what, conflict.ExpectedVersion, conflict.CurrentVersion)
	case errors.Is(err, store.ErrNotFound):
		return protocol.NewDomainError(CodeNotFound, "%s not found", what)
	default:
		return err
	}
}
