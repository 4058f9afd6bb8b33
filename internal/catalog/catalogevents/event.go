package catalogevents

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mohammed-shakir/tiled-subset/internal/core/model"
)

const (
	OpUpsert = "upsert"
	OpDelete = "delete"
)

// Event is one catalog change. Upserts carry the full descriptor; deletes
// only need the id. Version defaults to the descriptor's version.
type Event struct {
	Op      string                   `json:"op"`
	ID      string                   `json:"id,omitempty"`
	Dataset *model.DatasetDescriptor `json:"dataset,omitempty"`
	Version uint64                   `json:"version,omitempty"`
	TS      time.Time                `json:"ts,omitzero"`
}

func (e *Event) normalize() {
	e.Op = strings.ToLower(strings.TrimSpace(e.Op))
	if e.ID == "" && e.Dataset != nil {
		e.ID = e.Dataset.ID
	}
	e.ID = strings.TrimSpace(e.ID)
	if e.Version == 0 && e.Dataset != nil {
		e.Version = e.Dataset.Version
	}
}

func (e Event) Validate() error {
	switch e.Op {
	case OpUpsert:
		if e.Dataset == nil {
			return errors.New("upsert without dataset")
		}
		if e.Dataset.ID != "" && !strings.EqualFold(e.Dataset.ID, e.ID) {
			return fmt.Errorf("id %q does not match dataset id %q", e.ID, e.Dataset.ID)
		}
	case OpDelete:
	default:
		return fmt.Errorf("unknown op %q", e.Op)
	}
	if e.ID == "" {
		return errors.New("dataset id is required")
	}
	return nil
}
