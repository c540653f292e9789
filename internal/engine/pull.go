package engine

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/spacesync/internal/diff"
	"github.com/roach88/spacesync/internal/protocol"
	"github.com/roach88/spacesync/internal/spaces"
	"github.com/roach88/spacesync/internal/store"
)

// Pull computes the patch that brings the client group up to date with the
// requested space scope. A nil principal is anonymous.
//
// Any storage failure aborts the whole pull: the transaction rolls back and
// no snapshot referenced by a returned cookie is left half written.
func (e *Engine) Pull(ctx context.Context, req protocol.PullRequest, principal *protocol.Principal) (protocol.PullResponse, error) {
	if req.ClientGroupID == "" {
		return protocol.PullResponse{}, invalidRequest("clientGroupID is required")
	}
	for _, id := range req.SubspaceIDs {
		if !utf8.ValidString(id) {
			return protocol.PullResponse{}, invalidRequest("subspace id %q is not valid UTF-8", id)
		}
	}
	def, ok := e.spaces.Lookup(req.Space)
	if !ok {
		return protocol.PullResponse{}, &protocol.SyncError{
			Code:    protocol.ErrCodeUnknownSpace,
			Message: fmt.Sprintf("space %q is not defined", req.Space),
		}
	}

	var prev protocol.Cookie
	if req.Cookie != nil {
		prev = *req.Cookie
	}

	if def.RequiresAuth && principal == nil {
		pullTotal.WithLabelValues(string(def.Name), outcomeUnauthorized).Inc()
		return unchanged(prev), nil
	}

	started := time.Now()
	resp, changed, err := e.pull(ctx, def, req, prev)
	pullDurationSeconds.WithLabelValues(string(def.Name)).Observe(time.Since(started).Seconds())

	switch {
	case err != nil:
		pullTotal.WithLabelValues(string(def.Name), outcomeError).Inc()
		return protocol.PullResponse{}, err
	case changed:
		pullTotal.WithLabelValues(string(def.Name), outcomeChanged).Inc()
	default:
		pullTotal.WithLabelValues(string(def.Name), outcomeUnchanged).Inc()
	}
	return resp, nil
}

func (e *Engine) pull(ctx context.Context, def spaces.Definition, req protocol.PullRequest, prev protocol.Cookie) (resp protocol.PullResponse, changed bool, err error) {
	newSpaceKey := e.keys.Generate()
	newClientKey := e.keys.Generate()

	err = e.store.InTx(ctx, store.PullTx, func(tx *store.Tx) error {
		m := spaces.NewManager(tx, def, req.ClientGroupID, req.SubspaceIDs)

		var (
			oldSpace       store.SpaceRecord
			oldSpaceFound  bool
			newSpace       store.SpaceRecord
			oldClient      store.ClientRecord
			oldClientFound bool
			newClient      store.ClientRecord
			group          store.ClientGroup
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			oldSpace, oldSpaceFound, err = m.GetOldSpaceRecord(gctx, prev.SpaceRecordKey)
			return err
		})
		g.Go(func() (err error) {
			newSpace, err = m.GetNewSpaceRecord(gctx, newSpaceKey)
			return err
		})
		g.Go(func() (err error) {
			oldClient, oldClientFound, err = m.GetOldClientRecord(gctx, prev.ClientRecordKey)
			return err
		})
		g.Go(func() (err error) {
			newClient, err = m.GetNewClientRecord(gctx, newClientKey)
			return err
		})
		g.Go(func() (err error) {
			group, err = m.GetClientGroupObject(gctx)
			return err
		})
		if err := g.Wait(); err != nil {
			return fmt.Errorf("pull %s: %w", def.Name, err)
		}

		var oldRecord *protocol.Record
		if oldSpaceFound {
			oldRecord = &oldSpace.Record
		}
		patch := diff.SpaceRecords(oldRecord, newSpace.Record)

		var oldClients map[string]int64
		if oldClientFound {
			oldClients = oldClient.Record
		}
		changes := diff.ClientRecords(oldClients, newClient.Record)

		if len(patch) == 0 && len(changes) == 0 {
			// Keep the client on its current cookie.
			if err := m.DeleteSpaceRecord(ctx, newSpaceKey); err != nil {
				return err
			}
			if err := m.DeleteClientRecord(ctx, newClientKey); err != nil {
				return err
			}
			resp = unchanged(prev)
			return nil
		}

		if err := attachPayloads(ctx, tx, patch); err != nil {
			return err
		}

		order := max(group.SpaceRecordVersion, prev.Order) + 1
		group.SpaceRecordVersion = order
		if err := m.SetClientGroupObject(ctx, group); err != nil {
			return err
		}
		if oldSpaceFound {
			if err := m.DeleteSpaceRecord(ctx, oldSpace.Key); err != nil {
				return err
			}
		}
		if oldClientFound {
			if err := m.DeleteClientRecord(ctx, oldClient.Key); err != nil {
				return err
			}
		}

		log.WithFields(log.Fields{
			"clientGroupID": req.ClientGroupID,
			"space":         def.Name,
			"subspaces":     m.SubspaceIDs(),
			"order":         order,
			"ops":           len(patch),
			"resync":        !oldSpaceFound,
		}).Debug("pull produced patch")

		resp = protocol.PullResponse{
			Cookie: protocol.Cookie{
				SpaceRecordKey:  newSpaceKey,
				ClientRecordKey: newClientKey,
				Order:           order,
			},
			LastMutationIDChanges: changes,
			Patch:                 patch,
		}
		changed = true
		return nil
	})
	return resp, changed, err
}

// attachPayloads fills the value of every put with the entity payload.
func attachPayloads(ctx context.Context, tx *store.Tx, patch []protocol.PatchOperation) error {
	keys := diff.PutKeys(patch)
	if len(keys) == 0 {
		return nil
	}
	payloads, err := tx.ReadPayloads(ctx, keys...)
	if err != nil {
		return fmt.Errorf("load patch payloads: %w", err)
	}
	for i := range patch {
		if patch[i].Op != protocol.OpPut {
			continue
		}
		payload, ok := payloads[patch[i].Key]
		if !ok {
			return fmt.Errorf("load patch payloads: %s: %w", patch[i].Key, store.ErrNotFound)
		}
		patch[i].Value = payload
	}
	return nil
}

func unchanged(cookie protocol.Cookie) protocol.PullResponse {
	return protocol.PullResponse{
		Cookie:                cookie,
		LastMutationIDChanges: map[string]int64{},
		Patch:                 []protocol.PatchOperation{},
	}
}
