package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/onnwee/soup/internal/middleware"
	"github.com/onnwee/soup/internal/predicate"
	"github.com/onnwee/soup/internal/soup"
)

// sortFrecency selects the relevance regime in the sort query parameter.
const sortFrecency = "frecency"

// FeedService serves feed pages. *soup.Service satisfies it.
type FeedService interface {
	GetPage(ctx context.Context, req soup.Request) (soup.Page, error)
}

// SoupHandlers holds dependencies for the feed endpoint.
type SoupHandlers struct {
	feed   FeedService
	logger *slog.Logger
}

// NewSoupHandlers creates a new SoupHandlers instance.
func NewSoupHandlers(feed FeedService, logger *slog.Logger) *SoupHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &SoupHandlers{feed: feed, logger: logger}
}

// SoupResponse is one page of the feed.
type SoupResponse struct {
	Items      []soup.FrecencyItem `json:"items"`
	NextCursor string              `json:"next_cursor"`
	HasMore    bool                `json:"has_more"`
	Limit      int                 `json:"limit"`
}

// GetSoup handles GET /soup.
//
// Query parameters: limit, cursor, scope (expanded|unexpanded),
// sort (frecency|updated_at|created_at|viewed_at) and filter (base64url JSON
// predicate). With a cursor, sort and filter are ignored.
func (h *SoupHandlers) GetSoup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}

	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return
	}

	req, err := parseSoupRequest(r)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	req.UserID = userID

	page, err := h.feed.GetPage(r.Context(), req)
	if err != nil {
		h.writeFeedError(w, r, err)
		return
	}

	next, err := soup.EncodeCursor(page.Next)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to encode cursor", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to encode cursor")
		return
	}

	response := SoupResponse{
		Items:      page.Items,
		NextCursor: next,
		HasMore:    page.HasMore(),
		Limit:      page.Limit,
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to encode soup response", "error", err)
	}
}

// writeFeedError maps service errors onto the error envelope. Anything that is
// not the caller's fault is a backing store failure.
func (h *SoupHandlers) writeFeedError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, soup.ErrInvalidCursor),
		errors.Is(err, soup.ErrRegimeReversal),
		errors.Is(err, soup.ErrInvalidRequest),
		errors.Is(err, predicate.ErrInvalidPredicate):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "feed page failed",
			"error", err,
			"user_id", middleware.GetUserID(r.Context()),
			"request_id", middleware.GetRequestID(r.Context()),
		)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeUpstream)
		WriteError(w, ctx, http.StatusBadGateway, ErrCodeUpstream, "Feed backend unavailable")
	}
}

var errBadLimit = errors.New("limit must be an integer")

func parseSoupRequest(r *http.Request) (soup.Request, error) {
	query := r.URL.Query()
	var req soup.Request

	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return soup.Request{}, errBadLimit
		}
		req.Limit = limit
	}

	scope, err := soup.ParseScope(query.Get("scope"))
	if err != nil {
		return soup.Request{}, err
	}
	req.Scope = scope

	if token := strings.TrimSpace(query.Get("cursor")); token != "" {
		cur, err := soup.DecodeCursor(token)
		if err != nil {
			return soup.Request{}, errors.New("invalid cursor")
		}
		req.Cursor = &cur
		return req, nil
	}

	pred, err := parseFilter(query.Get("filter"))
	if err != nil {
		return soup.Request{}, err
	}

	switch sort := strings.ToLower(strings.TrimSpace(query.Get("sort"))); sort {
	case "":
		req.Predicate = pred
	case sortFrecency:
		cur := soup.RelevanceCursor(pred)
		req.Cursor = &cur
	default:
		key := soup.SortKey(sort)
		if !key.Valid() {
			return soup.Request{}, errors.New("unknown sort " + strconv.Quote(sort))
		}
		cur := soup.PlainCursor(key, pred)
		req.Cursor = &cur
	}
	return req, nil
}

// parseFilter decodes a base64url JSON predicate and returns its canonical
// encoding, so equal filters produce equal cursors.
func parseFilter(raw string) (soup.Predicate, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "="))
	if err != nil {
		return nil, errors.New("filter must be base64url encoded")
	}
	expr, err := predicate.Parse(data)
	if err != nil {
		return nil, err
	}
	return predicate.Encode(expr)
}
