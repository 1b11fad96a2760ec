package soup

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies the variant of an Item.
type Kind string

// Item kinds returned by the feed. Projects are never returned directly;
// they only contribute inherited access in ScopeExpanded.
const (
	KindDocument Kind = "document"
	KindChat     Kind = "chat"
)

// Scope selects how a user's access to items is resolved.
type Scope int

const (
	// ScopeExpanded includes items visible through a direct grant or inherited
	// through the project hierarchy.
	ScopeExpanded Scope = iota
	// ScopeUnexpanded includes direct grants only.
	ScopeUnexpanded
)

// String returns the wire name of the scope.
func (s Scope) String() string {
	switch s {
	case ScopeExpanded:
		return "expanded"
	case ScopeUnexpanded:
		return "unexpanded"
	default:
		return fmt.Sprintf("scope(%d)", int(s))
	}
}

// ParseScope parses a scope name. An empty string selects ScopeExpanded.
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "expanded":
		return ScopeExpanded, nil
	case "unexpanded":
		return ScopeUnexpanded, nil
	default:
		return 0, fmt.Errorf("unknown scope %q", s)
	}
}

// SortKey is the timestamp a plain-sort feed is ordered by (descending).
type SortKey string

const (
	SortUpdatedAt SortKey = "updated_at"
	SortCreatedAt SortKey = "created_at"
	SortViewedAt  SortKey = "viewed_at"
)

// Valid reports whether k is a known sort key.
func (k SortKey) Valid() bool {
	switch k {
	case SortUpdatedAt, SortCreatedAt, SortViewedAt:
		return true
	}
	return false
}

// DocumentFields holds the document-only attributes of an Item.
type DocumentFields struct {
	FileType string `json:"file_type,omitempty"`
}

// ChatFields holds the chat-only attributes of an Item.
type ChatFields struct {
	Model        string `json:"model,omitempty"`
	MessageCount int    `json:"message_count"`
}

// Item is a document or a chat visible to the requesting user.
// Exactly one of Document and Chat is set, matching Kind.
type Item struct {
	Kind      Kind       `json:"type"`
	ID        string     `json:"id"`
	OwnerID   string     `json:"owner_id"`
	Title     string     `json:"title"`
	ProjectID *string    `json:"project_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ViewedAt  *time.Time `json:"viewed_at,omitempty"` // per-user history; nil if never opened

	Document *DocumentFields `json:"document,omitempty"`
	Chat     *ChatFields     `json:"chat,omitempty"`
}

// neverViewed is the SortViewedAt value of items the user never opened.
var neverViewed = time.Unix(0, 0).UTC()

// SortValue returns the timestamp the item is ordered by under key.
// Items the user never viewed sort as the Unix epoch under SortViewedAt.
func (it Item) SortValue(key SortKey) time.Time {
	switch key {
	case SortCreatedAt:
		return it.CreatedAt
	case SortViewedAt:
		if it.ViewedAt == nil {
			return neverViewed
		}
		return *it.ViewedAt
	default:
		return it.UpdatedAt
	}
}

// FrecencyItem is an Item as it appears in a page. Score is set only for
// items attributed to a ranked candidate; plain and fallback items carry nil.
type FrecencyItem struct {
	Item
	Score *float64 `json:"frecency_score,omitempty"`
}

// Scored reports whether the item came from the relevance source.
func (fi FrecencyItem) Scored() bool {
	return fi.Score != nil
}

func unscored(items []Item) []FrecencyItem {
	out := make([]FrecencyItem, len(items))
	for i, it := range items {
		out[i] = FrecencyItem{Item: it}
	}
	return out
}
