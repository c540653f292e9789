package mutators

import (
	"context"
	"errors"

	"github.com/roach88/spacesync/internal/engine"
	"github.com/roach88/spacesync/internal/protocol"
	"github.com/roach88/spacesync/internal/store"
)

type userArgs struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

// updateUser upserts the caller's own profile.
type updateUser struct{ schemas *schemaSet }

func (updateUser) Public() bool { return false }

func (m updateUser) Apply(ctx context.Context, tx *store.Tx, call engine.Call) error {
	var args userArgs
	if err := m.schemas.decode("#UpdateUser", call.Mutation.Args, &args); err != nil {
		return err
	}
	userID, err := callerID(call)
	if err != nil {
		return err
	}

	id := userEntityID(userID)
	u := userPayload{ID: id}
	version, err := readPayload(ctx, tx, id, "user "+id, &u)
	var domainErr *protocol.DomainError
	if errors.As(err, &domainErr) && domainErr.Code == CodeNotFound {
		version, err = 0, nil
	}
	if err != nil {
		return err
	}

	if args.Name != nil {
		u.Name = *args.Name
	}
	if args.Email != nil {
		u.Email = *args.Email
	}
	return writePayload(ctx, tx, id, id, "user "+id, u, version)
}

func userAffects(call engine.Call) ([]engine.SpaceKey, error) {
	userID, err := callerID(call)
	if err != nil {
		return nil, err
	}
	return []engine.SpaceKey{{Space: protocol.SpaceGlobal, SubspaceID: userEntityID(userID)}}, nil
}
