package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/match"
)

// defaultDecidedBy is recorded on decisions when the caller does not
// identify the reviewer.
const defaultDecidedBy = "admin"

// Match decision actions.
const (
	matchActionConfirm = "confirm"
	matchActionReject  = "reject"
	matchActionMerge   = "merge"
)

// matchActionRequest is the optional body of a match decision. Merge
// overrides only apply to the merge action.
type matchActionRequest struct {
	DecidedBy string           `json:"decided_by"`
	Merge     match.MergeInput `json:"merge"`
}

// listMatches returns proposed duplicate pairs, highest score first
// GET /api/matches?status=&limit=&offset=
func (r *Router) listMatches(c *gin.Context) {
	ctx := c.Request.Context()

	status := domain.MatchStatus(c.Query("status"))
	switch status {
	case "", domain.MatchOpen, domain.MatchConfirmed, domain.MatchRejected:
	default:
		respondValidation(c, []validationDetail{{Field: "status", Message: "must be open, confirmed, or rejected"}})
		return
	}

	limit, offset := parseLimitOffset(c)
	matches, err := r.deps.Matches.List(ctx, status, limit, offset)
	if err != nil {
		handleRepositoryError(c, err, "match", "list")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"matches": matches,
		"count":   len(matches),
	})
}

// decideMatch applies a reviewer decision to a proposed pair. Confirm and
// reject return the decided match; merge returns the canonical event the
// pair folded into.
// POST /api/matches/:id/:action
func (r *Router) decideMatch(c *gin.Context) {
	ctx := c.Request.Context()

	id, ok := parseID(c, "id", "match")
	if !ok {
		return
	}

	var req matchActionRequest
	if c.Request.ContentLength > 0 {
		if bindErr := c.ShouldBindJSON(&req); bindErr != nil {
			respondBindError(c, bindErr)
			return
		}
	}
	decidedBy := req.DecidedBy
	if decidedBy == "" {
		decidedBy = defaultDecidedBy
	}

	action := c.Param("action")
	switch action {
	case matchActionConfirm:
		decided, err := r.deps.Matches.Confirm(ctx, id, decidedBy)
		if err != nil {
			handleMatchError(c, err)
			return
		}
		c.JSON(http.StatusOK, decided)

	case matchActionReject:
		decided, err := r.deps.Matches.Reject(ctx, id, decidedBy)
		if err != nil {
			handleMatchError(c, err)
			return
		}
		c.JSON(http.StatusOK, decided)

	case matchActionMerge:
		canonical, err := r.deps.Matches.Merge(ctx, id, req.Merge, decidedBy)
		if err != nil {
			handleMatchError(c, err)
			return
		}
		c.JSON(http.StatusOK, canonical)

	default:
		respondValidation(c, []validationDetail{{Field: "action", Message: "must be confirm, reject, or merge"}})
	}
}

// handleMatchError maps decision failures onto status codes.
func handleMatchError(c *gin.Context, err error) {
	if errors.Is(err, match.ErrAlreadyDecided) {
		c.JSON(http.StatusConflict, gin.H{"error": "match already decided"})
		return
	}
	handleRepositoryError(c, err, "match", "decide")
}
