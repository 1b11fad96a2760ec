package soup

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// cursorFormatVersion is written into every encoded cursor. Decoders accept
// every version up to and including it. Version 1 stored positions as Unix
// nanoseconds, which only covers the years 1678 to 2262.
const cursorFormatVersion = 2

// Wire tags. New tags may be added; existing ones must stay decodable.
const (
	tagPlain    = "plain"
	tagScore    = "score"
	tagFallback = "fallback"
)

// maxEncodedCursorLen bounds the token accepted from clients.
const maxEncodedCursorLen = 8 << 10

// wireCursor is the CBOR shape of an encoded cursor.
type wireCursor struct {
	Version   int      `cbor:"v"`
	Tag       string   `cbor:"t"`
	Sort      string   `cbor:"s,omitempty"`
	AtNanos   *int64   `cbor:"at,omitempty"` // version 1
	AtSec     *int64   `cbor:"as,omitempty"`
	AtNsec    int64    `cbor:"an,omitempty"`
	ID        string   `cbor:"id,omitempty"`
	Threshold *float64 `cbor:"sc,omitempty"`
	Predicate []byte   `cbor:"p,omitempty"`
	Done      bool     `cbor:"d,omitempty"`
}

var (
	cursorEncMode cbor.EncMode
	cursorDecMode cbor.DecMode
)

func init() {
	var err error
	// Deterministic encoding keeps identical cursors byte-identical.
	cursorEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("soup: cursor encoder: %v", err))
	}
	cursorDecMode, err = cbor.DecOptions{
		MaxNestedLevels: 4,
		MaxMapPairs:     32,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("soup: cursor decoder: %v", err))
	}
}

// EncodeCursor serializes c into an opaque, URL-safe token.
func EncodeCursor(c Cursor) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}

	w := wireCursor{
		Version:   cursorFormatVersion,
		Threshold: c.Threshold,
		Predicate: c.Predicate,
		Done:      c.Done,
	}
	switch {
	case c.Regime == RegimePlain:
		w.Tag = tagPlain
		w.Sort = string(c.Sort)
	case c.Phase == PhaseScore:
		w.Tag = tagScore
	default:
		w.Tag = tagFallback
	}
	if c.After != nil {
		sec := c.After.Value.Unix()
		w.AtSec = &sec
		w.AtNsec = int64(c.After.Value.Nanosecond())
		w.ID = c.After.ID
	}

	data, err := cursorEncMode.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeCursor parses a token produced by EncodeCursor. Every failure wraps
// ErrInvalidCursor.
func DecodeCursor(token string) (Cursor, error) {
	if token == "" {
		return Cursor{}, fmt.Errorf("%w: empty token", ErrInvalidCursor)
	}
	if len(token) > maxEncodedCursorLen {
		return Cursor{}, fmt.Errorf("%w: token too long", ErrInvalidCursor)
	}

	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	var w wireCursor
	if err := cursorDecMode.Unmarshal(data, &w); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if w.Version < 1 || w.Version > cursorFormatVersion {
		return Cursor{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidCursor, w.Version)
	}

	c := Cursor{
		Threshold: w.Threshold,
		Predicate: w.Predicate,
		Done:      w.Done,
	}
	switch w.Tag {
	case tagPlain:
		c.Regime = RegimePlain
		c.Sort = SortKey(w.Sort)
	case tagScore:
		c.Regime = RegimeRelevance
		c.Phase = PhaseScore
	case tagFallback:
		c.Regime = RegimeRelevance
		c.Phase = PhaseFallback
	default:
		return Cursor{}, fmt.Errorf("%w: unknown tag %q", ErrInvalidCursor, w.Tag)
	}
	switch {
	case w.AtSec != nil:
		if w.AtNsec < 0 || w.AtNsec >= int64(time.Second) {
			return Cursor{}, fmt.Errorf("%w: position nanoseconds out of range", ErrInvalidCursor)
		}
		c.After = &Position{Value: time.Unix(*w.AtSec, w.AtNsec).UTC(), ID: w.ID}
	case w.AtNanos != nil:
		c.After = &Position{Value: time.Unix(0, *w.AtNanos).UTC(), ID: w.ID}
	}

	if err := c.Validate(); err != nil {
		return Cursor{}, err
	}
	return c, nil
}
