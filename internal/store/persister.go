package store

import (
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"researchshell/pkg/researchtypes"
)

// Keys under which the store persists its state. Every backend stores the
// same JSON encoded values under these keys.
const (
	ConversationsKey = "conversations"
	SelectedKey      = "selected_conversation"
	SchemaVersionKey = "schema_version"
)

// SchemaVersion is the version written alongside persisted state.
const SchemaVersion = "1.0.0"

// supportedSchema accepts any state written by a 1.x release.
var supportedSchema = mustConstraint("^1.0.0")

// State is the unit of persistence: the whole collection plus the selected id.
type State struct {
	Conversations []researchtypes.Conversation
	SelectedID    string
}

// Persister is durable storage for the store's state.
type Persister interface {
	// Load returns the persisted state, or an empty State if nothing was saved yet.
	Load() (State, error)
	// Save replaces the persisted state.
	Save(state State) error
	Close() error
}

// encodeState serializes state into key/value pairs.
func encodeState(state State) (map[string][]byte, error) {
	conversations := state.Conversations
	if conversations == nil {
		conversations = []researchtypes.Conversation{}
	}

	convData, err := json.Marshal(conversations)
	if err != nil {
		return nil, fmt.Errorf("failed to encode conversations: %w", err)
	}
	selData, err := json.Marshal(state.SelectedID)
	if err != nil {
		return nil, fmt.Errorf("failed to encode selected conversation: %w", err)
	}
	verData, err := json.Marshal(SchemaVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to encode schema version: %w", err)
	}

	return map[string][]byte{
		SchemaVersionKey: verData,
		ConversationsKey: convData,
		SelectedKey:      selData,
	}, nil
}

// decodeState parses key/value pairs produced by encodeState. Missing keys
// decode to their zero value.
func decodeState(values map[string][]byte) (State, error) {
	var state State

	if raw, ok := values[SchemaVersionKey]; ok && len(raw) > 0 {
		var version string
		if err := json.Unmarshal(raw, &version); err != nil {
			return State{}, fmt.Errorf("failed to decode schema version: %w", err)
		}
		if err := checkSchemaVersion(version); err != nil {
			return State{}, err
		}
	}

	if raw, ok := values[ConversationsKey]; ok && len(raw) > 0 {
		if err := json.Unmarshal(raw, &state.Conversations); err != nil {
			return State{}, fmt.Errorf("failed to decode conversations: %w", err)
		}
	}

	if raw, ok := values[SelectedKey]; ok && len(raw) > 0 {
		if err := json.Unmarshal(raw, &state.SelectedID); err != nil {
			return State{}, fmt.Errorf("failed to decode selected conversation: %w", err)
		}
	}

	return state, nil
}

func checkSchemaVersion(version string) error {
	if version == "" {
		return nil
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid schema version %q: %w", version, err)
	}
	if !supportedSchema.Check(v) {
		return fmt.Errorf("unsupported schema version %s (supported: %s)", v, supportedSchema)
	}
	return nil
}

func mustConstraint(c string) *semver.Constraints {
	constraint, err := semver.NewConstraint(c)
	if err != nil {
		panic(fmt.Sprintf("invalid schema constraint %q: %v", c, err))
	}
	return constraint
}
