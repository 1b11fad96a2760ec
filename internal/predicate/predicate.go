// Package predicate implements the filter expressions accepted by the soup
// feed. The feed treats a predicate as opaque bytes; this package gives those
// bytes meaning for the adapters and the API.
//
// A predicate is a JSON object. Every populated field must hold for an item
// to match:
//
//	{"kinds":["chat"],"owner_ids":["u1"],"project_id":"p1",
//	 "updated_after":"2026-01-02T15:04:05Z","title_contains":"roadmap"}
package predicate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/onnwee/soup/internal/soup"
)

// ErrInvalidPredicate is returned for predicates that cannot be parsed.
var ErrInvalidPredicate = errors.New("invalid predicate")

// Limits on predicate contents.
const (
	MaxEncodedLen     = 2 << 10
	MaxListLen        = 50
	MaxTitleNeedleLen = 200
)

// Expr is a parsed predicate.
type Expr struct {
	Kinds         []soup.Kind `json:"kinds,omitempty"`
	OwnerIDs      []string    `json:"owner_ids,omitempty"`
	ProjectID     *string     `json:"project_id,omitempty"`
	UpdatedAfter  *time.Time  `json:"updated_after,omitempty"`
	TitleContains string      `json:"title_contains,omitempty"`
}

// Empty reports whether e matches every item.
func (e Expr) Empty() bool {
	return len(e.Kinds) == 0 && len(e.OwnerIDs) == 0 && e.ProjectID == nil &&
		e.UpdatedAfter == nil && e.TitleContains == ""
}

// Validate checks field contents.
func (e Expr) Validate() error {
	if len(e.Kinds) > MaxListLen || len(e.OwnerIDs) > MaxListLen {
		return fmt.Errorf("%w: too many values", ErrInvalidPredicate)
	}
	for _, k := range e.Kinds {
		if k != soup.KindDocument && k != soup.KindChat {
			return fmt.Errorf("%w: unknown kind %q", ErrInvalidPredicate, k)
		}
	}
	for _, id := range e.OwnerIDs {
		if id == "" {
			return fmt.Errorf("%w: empty owner id", ErrInvalidPredicate)
		}
	}
	if e.ProjectID != nil && *e.ProjectID == "" {
		return fmt.Errorf("%w: empty project id", ErrInvalidPredicate)
	}
	if len(e.TitleContains) > MaxTitleNeedleLen {
		return fmt.Errorf("%w: title filter too long", ErrInvalidPredicate)
	}
	return nil
}

// Parse decodes and validates a predicate. An empty predicate parses to the
// empty expression.
func Parse(p soup.Predicate) (Expr, error) {
	var e Expr
	if len(p) == 0 {
		return e, nil
	}
	if len(p) > MaxEncodedLen {
		return Expr{}, fmt.Errorf("%w: too long", ErrInvalidPredicate)
	}

	dec := json.NewDecoder(bytes.NewReader(p))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&e); err != nil {
		return Expr{}, fmt.Errorf("%w: %v", ErrInvalidPredicate, err)
	}
	if dec.More() {
		return Expr{}, fmt.Errorf("%w: trailing data", ErrInvalidPredicate)
	}
	if err := e.Validate(); err != nil {
		return Expr{}, err
	}
	return e, nil
}

// Encode returns the canonical form of e: lists sorted and deduplicated,
// times in UTC. Equal expressions encode to equal bytes, so cursors carrying
// them are stable. The empty expression encodes to nil.
func Encode(e Expr) (soup.Predicate, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if e.Empty() {
		return nil, nil
	}

	e.Kinds = slices.Compact(slices.Sorted(slices.Values(e.Kinds)))
	e.OwnerIDs = slices.Compact(slices.Sorted(slices.Values(e.OwnerIDs)))
	if e.UpdatedAfter != nil {
		t := e.UpdatedAfter.UTC()
		e.UpdatedAfter = &t
	}

	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode predicate: %w", err)
	}
	return soup.Predicate(data), nil
}

// Match reports whether it satisfies e.
func (e Expr) Match(it soup.Item) bool {
	if len(e.Kinds) > 0 && !slices.Contains(e.Kinds, it.Kind) {
		return false
	}
	if len(e.OwnerIDs) > 0 && !slices.Contains(e.OwnerIDs, it.OwnerID) {
		return false
	}
	if e.ProjectID != nil && (it.ProjectID == nil || *it.ProjectID != *e.ProjectID) {
		return false
	}
	if e.UpdatedAfter != nil && !it.UpdatedAt.After(*e.UpdatedAfter) {
		return false
	}
	if e.TitleContains != "" && !strings.Contains(strings.ToLower(it.Title), strings.ToLower(e.TitleContains)) {
		return false
	}
	return true
}

// Matcher compiles predicates into in-process filters. It implements
// soup.Matcher.
type Matcher struct{}

// Compile implements soup.Matcher.
func (Matcher) Compile(p soup.Predicate) (soup.MatchFunc, error) {
	e, err := Parse(p)
	if err != nil {
		return nil, err
	}
	if e.Empty() {
		return nil, nil
	}
	return e.Match, nil
}
