package call

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"callsignal-backend/internal/domain"
	"callsignal-backend/internal/middleware"
	callService "callsignal-backend/internal/service/call"
	"callsignal-backend/pkg/pagination"
	"callsignal-backend/pkg/response"
	"callsignal-backend/pkg/sanitize"
)

// Handler handles call signaling HTTP requests
type Handler struct {
	callService *callService.Service
}

// NewHandler creates a new call handler
func NewHandler(svc *callService.Service) *Handler {
	return &Handler{
		callService: svc,
	}
}

// RegisterRoutes mounts the call endpoints on an authenticated group
func (h *Handler) RegisterRoutes(calls *gin.RouterGroup) {
	calls.POST("", h.InitiateCall)
	calls.GET("/active", h.GetActiveCall)
	calls.GET("/history", h.GetCallHistory)
	calls.GET("/:id", h.GetCall)
	calls.POST("/:id/accept", h.AcceptCall)
	calls.POST("/:id/terminate", h.TerminateCall)
	calls.PUT("/:id/offer", h.SubmitOffer)
	calls.PUT("/:id/answer", h.SubmitAnswer)
	calls.GET("/:id/signaling", h.GetSignaling)
	calls.POST("/:id/candidates", h.AddCandidate)
	calls.GET("/:id/candidates", h.ListCandidates)
}

// InitiateCallRequest represents call initiation request
type InitiateCallRequest struct {
	ReceiverID string `json:"receiver_id" binding:"required,uuid"`
	MediaKind  string `json:"media_kind" binding:"required,oneof=audio video"`
}

// TerminateCallRequest represents an optional termination reason
type TerminateCallRequest struct {
	Reason string `json:"reason" binding:"max=64"`
}

// PayloadRequest carries an opaque offer, answer or candidate blob
type PayloadRequest struct {
	Payload string `json:"payload" binding:"required"`
}

// InitiateCall starts a new call
// POST /v1/calls
func (h *Handler) InitiateCall(c *gin.Context) {
	var req InitiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	callerID, ok := actor(c)
	if !ok {
		return
	}

	receiverID, err := uuid.Parse(req.ReceiverID)
	if err != nil {
		response.ValidationError(c, "Invalid receiver ID")
		return
	}

	view, err := h.callService.CreateCall(c.Request.Context(), &callService.CreateCallInput{
		CallerID:   callerID,
		ReceiverID: receiverID,
		MediaKind:  domain.MediaKind(req.MediaKind),
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, view)
}

// GetActiveCall returns the caller's ringing or connected call, or null
// GET /v1/calls/active
func (h *Handler) GetActiveCall(c *gin.Context) {
	userID, ok := actor(c)
	if !ok {
		return
	}

	view, err := h.callService.GetActiveCallFor(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if view == nil {
		response.Success(c, http.StatusOK, nil)
		return
	}

	response.Success(c, http.StatusOK, view)
}

// GetCallHistory lists the user's calls, newest first
// GET /v1/calls/history?limit=20&offset=0
func (h *Handler) GetCallHistory(c *gin.Context) {
	userID, ok := actor(c)
	if !ok {
		return
	}

	defaultLimit, maxLimit := h.callService.HistoryLimits()
	page, err := pagination.Parse(c.Query("limit"), c.Query("offset"), defaultLimit, maxLimit)
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	calls, err := h.callService.GetCallHistory(c.Request.Context(), userID, page.Limit, page.Offset)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"calls":    calls,
		"limit":    page.Limit,
		"offset":   page.Offset,
		"has_more": page.HasMore(len(calls)),
	})
}

// GetCall retrieves a call with the peer's profile
// GET /v1/calls/:id
func (h *Handler) GetCall(c *gin.Context) {
	callID, userID, ok := callAndActor(c)
	if !ok {
		return
	}

	view, err := h.callService.GetCallFor(c.Request.Context(), callID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, view)
}

// AcceptCall moves a ringing call to connected
// POST /v1/calls/:id/accept
func (h *Handler) AcceptCall(c *gin.Context) {
	callID, userID, ok := callAndActor(c)
	if !ok {
		return
	}

	call, err := h.callService.Accept(c.Request.Context(), callID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, call)
}

// TerminateCall declines, cancels or hangs up a call
// POST /v1/calls/:id/terminate
func (h *Handler) TerminateCall(c *gin.Context) {
	callID, userID, ok := callAndActor(c)
	if !ok {
		return
	}

	var req TerminateCallRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ValidationError(c, err.Error())
			return
		}
	}

	call, err := h.callService.Terminate(c.Request.Context(), callID, userID, sanitize.Label(req.Reason))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, call)
}

// SubmitOffer stores the caller's session offer
// PUT /v1/calls/:id/offer
func (h *Handler) SubmitOffer(c *gin.Context) {
	callID, userID, ok := callAndActor(c)
	if !ok {
		return
	}

	var req PayloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	state, err := h.callService.SubmitOffer(c.Request.Context(), callID, userID, req.Payload)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// SubmitAnswer stores the receiver's session answer
// PUT /v1/calls/:id/answer
func (h *Handler) SubmitAnswer(c *gin.Context) {
	callID, userID, ok := callAndActor(c)
	if !ok {
		return
	}

	var req PayloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	state, err := h.callService.SubmitAnswer(c.Request.Context(), callID, userID, req.Payload)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// GetSignaling returns the current offer, answer and status
// GET /v1/calls/:id/signaling
func (h *Handler) GetSignaling(c *gin.Context) {
	callID, userID, ok := callAndActor(c)
	if !ok {
		return
	}

	state, err := h.callService.ReadSignaling(c.Request.Context(), callID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// AddCandidate appends a connectivity candidate to the call's log
// POST /v1/calls/:id/candidates
func (h *Handler) AddCandidate(c *gin.Context) {
	callID, userID, ok := callAndActor(c)
	if !ok {
		return
	}

	var req PayloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	candidate, err := h.callService.AppendCandidate(c.Request.Context(), callID, userID, req.Payload)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, candidate)
}

// ListCandidates returns the candidate log in sequence order
// GET /v1/calls/:id/candidates?after=0&exclude_own=false
func (h *Handler) ListCandidates(c *gin.Context) {
	callID, userID, ok := callAndActor(c)
	if !ok {
		return
	}

	var filter domain.CandidateFilter
	if after := c.Query("after"); after != "" {
		seq, err := strconv.ParseInt(after, 10, 64)
		if err != nil || seq < 0 {
			response.ValidationError(c, "Invalid after sequence")
			return
		}
		filter.AfterSequence = seq
	}
	if excludeOwn := c.Query("exclude_own"); excludeOwn != "" {
		exclude, err := strconv.ParseBool(excludeOwn)
		if err != nil {
			response.ValidationError(c, "Invalid exclude_own flag")
			return
		}
		if exclude {
			filter.ExcludeOwner = &userID
		}
	}

	candidates, err := h.callService.ListCandidates(c.Request.Context(), callID, userID, filter)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, candidates)
}

func actor(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}
	return userID, true
}

func callAndActor(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := actor(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}

	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return uuid.Nil, uuid.Nil, false
	}
	return callID, userID, true
}
