package mutators

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/spacesync/internal/engine"
	"github.com/roach88/spacesync/internal/protocol"
	"github.com/roach88/spacesync/internal/store"
)

type storePayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	OwnerID     string `json:"ownerID"`
	Description string `json:"description,omitempty"`
}

type productPayload struct {
	ID          string `json:"id"`
	StoreID     string `json:"storeID"`
	Name        string `json:"name"`
	Price       int64  `json:"price"`
	Stock       int64  `json:"stock"`
	Description string `json:"description,omitempty"`
}

type lineItem struct {
	ProductID string `json:"productID"`
	StoreID   string `json:"storeID"`
	Quantity  int64  `json:"quantity"`
	Price     int64  `json:"price"`
}

type cartPayload struct {
	ID      string     `json:"id"`
	OwnerID string     `json:"ownerID,omitempty"`
	Items   []lineItem `json:"items"`
}

type orderPayload struct {
	ID      string     `json:"id"`
	CartID  string     `json:"cartID"`
	StoreID string     `json:"storeID"`
	UserID  string     `json:"userID"`
	Items   []lineItem `json:"items"`
	Total   int64      `json:"total"`
}

type userPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// readPayload loads id into dst and returns its version. A missing row is
// reported as a not_found domain error naming what.
func readPayload(ctx context.Context, tx *store.Tx, id, what string, dst any) (int64, error) {
	e, err := tx.ReadEntity(ctx, id)
	if err != nil {
		return 0, domainError(err, what)
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return 0, fmt.Errorf("decode %s: %w", id, err)
	}
	return e.Version, nil
}

// writePayload stores v under id, guarded by expectedVersion.
func writePayload(ctx context.Context, tx *store.Tx, id, partitionKey, what string, v any, expectedVersion int64) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", id, err)
	}
	_, err = tx.WriteEntity(ctx, store.EntityWrite{
		ID:              id,
		PartitionKey:    partitionKey,
		Payload:         payload,
		ExpectedVersion: &expectedVersion,
	})
	return domainError(err, what)
}

// unmarshalArgs decodes arguments that Apply already validated.
func unmarshalArgs(call engine.Call, dst any) error {
	if err := json.Unmarshal(call.Mutation.Args, dst); err != nil {
		return protocol.NewDomainError(CodeInvalidArgs, "decode arguments: %v", err)
	}
	return nil
}

// callerID returns the authenticated user of call.
func callerID(call engine.Call) (string, error) {
	if call.Principal == nil || call.Principal.UserID == "" {
		return "", protocol.NewDomainError(CodeForbidden, "%s requires a signed-in user", call.Mutation.Name)
	}
	return call.Principal.UserID, nil
}

// userEntityID maps a principal user id onto its user entity id.
func userEntityID(userID string) string {
	if strings.HasPrefix(userID, "user_") {
		return userID
	}
	return "user_" + userID
}

// ownStore checks that userID owns storeID.
func ownStore(ctx context.Context, tx *store.Tx, storeID, userID string) error {
	var s storePayload
	if _, err := readPayload(ctx, tx, storeID, "store "+storeID, &s); err != nil {
		return err
	}
	if s.OwnerID != userID {
		return protocol.NewDomainError(CodeForbidden, "store %s is not owned by %s", storeID, userID)
	}
	return nil
}
