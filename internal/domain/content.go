package domain

import (
	"time"

	"github.com/google/uuid"
)

type NodeType string

const (
	NodeTypeContent NodeType = "content"
	NodeTypeFolder  NodeType = "folder"
)

const (
	WorkspaceStore = "workspace://SpacesStore"
	ArchiveStore   = "archive://SpacesStore"
)

// NoOwner marks a node whose owner property was never set.
const NoOwner = ""

type Content struct {
	ID                    uuid.UUID  `json:"id" db:"id"`
	StoreID               string     `json:"store_id" db:"store_id"`
	ParentID              *uuid.UUID `json:"parent_id,omitempty" db:"parent_id"`
	Type                  NodeType   `json:"type" db:"node_type"`
	Name                  string     `json:"name" db:"name"`
	Size                  *int64     `json:"size,omitempty" db:"size_bytes"`
	ContentKey            *string    `json:"-" db:"content_key"`
	Owner                 string     `json:"owner" db:"owner"`
	Creator               string     `json:"creator" db:"creator"`
	ArchivedOriginalOwner string     `json:"archived_original_owner,omitempty" db:"archived_original_owner"`
	ArchivedAt            *time.Time `json:"archived_at,omitempty" db:"archived_at"`
	CreatedAt             time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at" db:"updated_at"`
}

// ContentSize returns the content size, zero when no content is attached.
func (c *Content) ContentSize() int64 {
	if c == nil || c.Size == nil {
		return 0
	}
	return *c.Size
}

func (c *Content) HasContent() bool {
	return c != nil && c.Size != nil
}

func (c *Content) IsFolder() bool {
	return c.Type == NodeTypeFolder
}
