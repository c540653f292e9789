package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Space names a partition domain with its own sync stream.
type Space string

const (
	SpaceGlobal      Space = "global"
	SpaceDashboard   Space = "dashboard"
	SpaceMarketplace Space = "marketplace"
)

// Principal is the authenticated caller. A nil *Principal is anonymous.
type Principal struct {
	UserID string `json:"userID"`
}

// Cookie is the client-held synchronization token.
type Cookie struct {
	SpaceRecordKey  string `json:"spaceRecordKey"`
	ClientRecordKey string `json:"clientRecordKey"`
	Order           int64  `json:"order"`
}

// Mutation is one client-submitted side-effecting request.
// ID is a per-client sequence number starting at 1.
type Mutation struct {
	ClientID string          `json:"clientID"`
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Args     json.RawMessage `json:"args"`
}

// PullRequest asks for the patch that brings a client group up to date.
type PullRequest struct {
	ClientGroupID string   `json:"clientGroupID"`
	Cookie        *Cookie  `json:"cookie"`
	Space         Space    `json:"-"`
	SubspaceIDs   []string `json:"-"`
}

// PullResponse carries the new cookie, per-client mutation acknowledgements
// and the patch to apply.
type PullResponse struct {
	Cookie                Cookie           `json:"cookie"`
	LastMutationIDChanges map[string]int64 `json:"lastMutationIDChanges"`
	Patch                 []PatchOperation `json:"patch"`
}

// MarshalJSON encodes the response canonically.
func (r PullResponse) MarshalJSON() ([]byte, error) {
	changes := make(map[string]any, len(r.LastMutationIDChanges))
	for clientID, id := range r.LastMutationIDChanges {
		changes[clientID] = id
	}
	patch := make([]any, 0, len(r.Patch))
	for i, op := range r.Patch {
		v, err := op.canonicalValue()
		if err != nil {
			return nil, fmt.Errorf("patch[%d]: %w", i, err)
		}
		patch = append(patch, v)
	}
	return MarshalCanonical(map[string]any{
		"cookie": map[string]any{
			"spaceRecordKey":  r.Cookie.SpaceRecordKey,
			"clientRecordKey": r.Cookie.ClientRecordKey,
			"order":           r.Cookie.Order,
		},
		"lastMutationIDChanges": changes,
		"patch":                 patch,
	})
}

// PushRequest submits a batch of mutations for one client group.
type PushRequest struct {
	ClientGroupID string     `json:"clientGroupID"`
	Mutations     []Mutation `json:"mutations"`
	Space         Space      `json:"-"`
	SubspaceIDs   []string   `json:"-"`
}

// Validate checks the fields every push must carry.
func (r PushRequest) Validate() error {
	if strings.TrimSpace(r.ClientGroupID) == "" {
		return fmt.Errorf("clientGroupID is required")
	}
	for i, m := range r.Mutations {
		if m.ClientID == "" {
			return fmt.Errorf("mutations[%d]: clientID is required", i)
		}
		if m.ID < 1 {
			return fmt.Errorf("mutations[%d]: id must be >= 1, got %d", i, m.ID)
		}
		if m.Name == "" {
			return fmt.Errorf("mutations[%d]: name is required", i)
		}
	}
	return nil
}

// EntityKind returns the kind prefix of an entity id ("product_1" → "product").
func EntityKind(id string) string {
	kind, _, found := strings.Cut(id, "_")
	if !found {
		return ""
	}
	return kind
}
