package engine

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/roach88/spacesync/internal/diff"
	"github.com/roach88/spacesync/internal/protocol"
	"github.com/roach88/spacesync/internal/store"
)

// StaticPull returns the full clear+put patch of a public space that can be
// read without subspaces, for clients that only need reference data once.
// No cookie or client group state is involved. With a StaticCache configured
// the encoded patch is served cache-aside under "static:<space>".
func (e *Engine) StaticPull(ctx context.Context, space protocol.Space) (json.RawMessage, error) {
	def, ok := e.spaces.Lookup(space)
	if !ok {
		return nil, &protocol.SyncError{
			Code:    protocol.ErrCodeUnknownSpace,
			Message: fmt.Sprintf("space %q is not defined", space),
		}
	}
	if def.RequiresAuth || (def.Partitioned && !def.WholeSpaceWhenUnscoped) {
		return nil, invalidRequest("space %s does not support static pulls", space)
	}

	key := "static:" + string(space)
	if e.cache != nil {
		cached, found, err := e.cache.Get(key)
		switch {
		case err != nil:
			log.WithFields(log.Fields{"key": key, "err": err}).Warn("static cache read failed")
		case found:
			staticCacheTotal.WithLabelValues("hit").Inc()
			return cached, nil
		}
		staticCacheTotal.WithLabelValues("miss").Inc()
	}

	var encoded []byte
	err := e.store.InTx(ctx, store.PullTx, func(tx *store.Tx) error {
		record, err := tx.ReadVersions(ctx, def.Kinds, def.PartitionKeys(nil))
		if err != nil {
			return err
		}
		patch := diff.SpaceRecords(nil, record)
		if err := attachPayloads(ctx, tx, patch); err != nil {
			return err
		}
		encoded, err = protocol.EncodePatch(patch)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("static pull %s: %w", space, err)
	}

	if e.cache != nil {
		if err := e.cache.Put(key, encoded, e.staticTTL); err != nil {
			log.WithFields(log.Fields{"key": key, "err": err}).Warn("static cache write failed")
		}
	}
	return encoded, nil
}
