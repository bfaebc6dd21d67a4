// Package main provides the equipment search API server entry point.
package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kikidoko/kikidoko-go/internal/apperrors"
	"github.com/kikidoko/kikidoko-go/internal/equipment"
	"github.com/kikidoko/kikidoko-go/internal/logger"
	"github.com/kikidoko/kikidoko-go/internal/metrics"
	"github.com/kikidoko/kikidoko-go/internal/search"
	"github.com/kikidoko/kikidoko-go/internal/sentry"
	"github.com/kikidoko/kikidoko-go/internal/session"
	"github.com/kikidoko/kikidoko-go/internal/store"
)

type api struct {
	sessions     *session.Manager
	db           *store.SQLiteStore
	log          *logger.Logger
	metrics      *metrics.Metrics
	queryTimeout time.Duration
}

func newAPI(sessions *session.Manager, db *store.SQLiteStore, log *logger.Logger, m *metrics.Metrics, queryTimeout time.Duration) *api {
	return &api{
		sessions:     sessions,
		db:           db,
		log:          log.WithModule("api"),
		metrics:      m,
		queryTimeout: queryTimeout,
	}
}

type createSessionRequest struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

// createSession starts a search session. The client may share its
// coordinate here; it fixes the distance ordering for the whole session.
func (a *api) createSession(c *gin.Context) {
	var req createSessionRequest
	_ = c.ShouldBindJSON(&req) // empty body means no coordinate

	var origin *equipment.Coordinate
	if req.Lat != nil && req.Lng != nil {
		origin = &equipment.Coordinate{Lat: *req.Lat, Lng: *req.Lng}
	}

	s := a.sessions.Create(origin)
	c.JSON(http.StatusCreated, gin.H{"session_id": s.ID})
}

func (a *api) session(c *gin.Context) (*session.Session, bool) {
	s, ok := a.sessions.Get(c.Param("sid"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "セッションが見つかりません"})
		return nil, false
	}
	return s, true
}

// searchEquipment applies the facet set from the query string and
// returns the first ranked page. Any facet change starts a fresh result
// set; repeating the same facets doubles as the retry affordance.
func (a *api) searchEquipment(c *gin.Context) {
	s, ok := a.session(c)
	if !ok {
		return
	}

	var facets equipment.SearchFacets
	if err := c.ShouldBindQuery(&facets); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "検索条件が不正です"})
		return
	}

	ctx, cancel := a.requestContext(c)
	defer cancel()

	view, err := s.Search.Search(ctx, facets)
	if err != nil {
		a.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type pageRequest struct {
	Op string `json:"op" binding:"required"`
	To int    `json:"to"`
}

func (a *api) pageOp(c *gin.Context) {
	s, ok := a.session(c)
	if !ok {
		return
	}

	var req pageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ページ操作が不正です"})
		return
	}

	ctx, cancel := a.requestContext(c)
	defer cancel()

	var (
		view search.View
		err  error
	)
	switch req.Op {
	case "next":
		view, err = s.Search.NextPage(ctx)
	case "back":
		view, err = s.Search.PreviousPage(ctx)
	case "first":
		view, err = s.Search.GoToPage(ctx, 0)
	case "last":
		view, err = s.Search.LastLoadedPage(ctx)
	case "forward", "jump":
		view, err = s.Search.GoToPage(ctx, req.To)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "不明なページ操作です"})
		return
	}
	if err != nil {
		a.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// equipmentDetail returns one record and records the visit in the detail
// history: opening from the main list roots a new trail, opening via a
// recommendation extends the current one.
func (a *api) equipmentDetail(c *gin.Context) {
	s, ok := a.session(c)
	if !ok {
		return
	}

	ctx, cancel := a.requestContext(c)
	defer cancel()

	rec, err := a.db.GetByID(ctx, c.Param("id"))
	if err != nil {
		a.renderError(c, err)
		return
	}

	trail := s.CurrentHistory()
	if c.Query("via") == "recommendation" && trail != nil {
		trail.Append(rec.ID)
	} else {
		trail = s.ResetHistory(rec.ID)
	}

	c.JSON(http.StatusOK, gin.H{
		"equipment": rec,
		"history":   trail.Position(),
	})
}

// similarEquipment returns the recommendation pool head for a record.
func (a *api) similarEquipment(c *gin.Context) {
	a.recommendOp(c, false)
}

// similarEquipmentMore grows the visible recommendation slice.
func (a *api) similarEquipmentMore(c *gin.Context) {
	a.recommendOp(c, true)
}

func (a *api) recommendOp(c *gin.Context, more bool) {
	s, ok := a.session(c)
	if !ok {
		return
	}

	ctx, cancel := a.requestContext(c)
	defer cancel()

	rec, err := a.db.GetByID(ctx, c.Param("id"))
	if err != nil {
		a.renderError(c, err)
		return
	}

	var snap interface{}
	if more {
		snap, err = s.Recommend.LoadMore(ctx, *rec)
	} else {
		snap, err = s.Recommend.Recommend(ctx, *rec)
	}
	if err != nil {
		// Recommendation failures stay scoped to this endpoint; the
		// search session remains fully usable.
		a.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

type historyRequest struct {
	Op string `json:"op" binding:"required"`
}

func (a *api) historyOp(c *gin.Context) {
	s, ok := a.session(c)
	if !ok {
		return
	}

	trail := s.CurrentHistory()
	if trail == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "閲覧履歴がありません"})
		return
	}

	var req historyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "履歴操作が不正です"})
		return
	}

	var id string
	switch req.Op {
	case "back":
		id = trail.Navigate(-1)
	case "forward":
		id = trail.Navigate(1)
	case "root":
		id = trail.ReturnToRoot()
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "不明な履歴操作です"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"equipment_id": id,
		"history":      trail.Position(),
	})
}

func (a *api) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), a.queryTimeout)
}

// renderError maps classified errors to component-scoped responses.
// Transient failures are retryable; the session state stays valid.
func (a *api) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "機器が見つかりません"})
	case errors.Is(err, apperrors.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": apperrors.GetUserMessage(err)})
	default:
		a.log.WithError(err).Error("request failed")
		sentry.CaptureExceptionWithContext(c.Request.Context(), err)
		a.metrics.RecordHTTPError(c.FullPath(), "503")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":     apperrors.GetUserMessage(err),
			"retryable": true,
		})
	}
}
