package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/foodvoter/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/foodvoter/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/foodvoter/backend/internal/foodpoll"
	"github.com/MarcoPoloResearchLab/foodvoter/backend/internal/session"
	"github.com/MarcoPoloResearchLab/foodvoter/backend/internal/syncgw"
	"github.com/MarcoPoloResearchLab/foodvoter/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const userIDContextKey = "foodvoter_user_id"

var (
	errMissingTokenManager = errors.New("token manager dependency required")
	errMissingSessions     = errors.New("session manager dependency required")
	errMissingGateway      = errors.New("sync gateway dependency required")
	errMissingCatalog      = errors.New("catalog dependency required")
	errMissingUsers        = errors.New("user service dependency required")
	errMissingPresence     = errors.New("presence dependency required")
	errInvalidAuth         = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates the identity tokens requests carry.
type TokenManager interface {
	IssueToken(ctx context.Context, claims auth.IdentityClaims) (string, int64, error)
	ValidateToken(token string) (auth.IdentityClaims, error)
}

// Dependencies wires the HTTP surface to the core services.
type Dependencies struct {
	TokenManager TokenManager
	Sessions     *session.Manager
	Gateway      *syncgw.Gateway
	Catalog      *catalog.Catalog
	Users        *users.Service
	Presence     *syncgw.Presence
	Logger       *zap.Logger
}

// NewHTTPHandler assembles the router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}
	if deps.Gateway == nil {
		return nil, errMissingGateway
	}
	if deps.Catalog == nil {
		return nil, errMissingCatalog
	}
	if deps.Users == nil {
		return nil, errMissingUsers
	}
	if deps.Presence == nil {
		return nil, errMissingPresence
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:   deps.TokenManager,
		sessions: deps.Sessions,
		gateway:  deps.Gateway,
		catalog:  deps.Catalog,
		users:    deps.Users,
		presence: deps.Presence,
		logger:   logger,
	}

	router.POST("/auth/token", handler.handleIssueToken)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/users", handler.handleListUsers)
	protected.POST("/polls", handler.handleCreatePoll)
	protected.GET("/polls/:id", handler.handleGetPoll)
	protected.PATCH("/polls/:id", handler.handleUpdateSettings)
	protected.PUT("/polls/:id/invites", handler.handleUpdateInvites)
	protected.POST("/polls/:id/close", handler.handleClosePoll)
	protected.POST("/polls/:id/votes", handler.handleCastVote)
	protected.GET("/polls/:id/tally", handler.handleTally)
	protected.GET("/polls/:id/candidates", handler.handleCandidates)
	protected.GET("/polls/:id/events", handler.handlePollEvents)

	return router, nil
}

type httpHandler struct {
	tokens   TokenManager
	sessions *session.Manager
	gateway  *syncgw.Gateway
	catalog  *catalog.Catalog
	users    *users.Service
	presence *syncgw.Presence
	logger   *zap.Logger
}

type tokenRequestPayload struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// handleIssueToken is the identity-provider boundary: it exchanges a user
// identity for the signed token the rest of the API trusts.
func (h *httpHandler) handleIssueToken(c *gin.Context) {
	var request tokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	userID, err := foodpoll.NewUserID(request.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), auth.IdentityClaims{
		UserID:      userID.String(),
		DisplayName: request.DisplayName,
	})
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	if err := h.users.Upsert(c.Request.Context(), userID.String(), request.DisplayName); err != nil {
		h.logger.Warn("failed to record user", zap.String("user_id", userID.String()), zap.Error(err))
	}

	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type userPayload struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Online      bool   `json:"online"`
}

func (h *httpHandler) handleListUsers(c *gin.Context) {
	roster, err := h.users.List(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list users", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	payload := make([]userPayload, 0, len(roster))
	for _, user := range roster {
		payload = append(payload, userPayload{
			UserID:      user.UserID,
			DisplayName: user.DisplayName,
			Online:      user.Online,
		})
	}
	c.JSON(http.StatusOK, gin.H{"users": payload})
}

type coordinatePayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type createPollPayload struct {
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Price       string             `json:"price"`
	OpenNow     bool               `json:"open_now"`
	Coordinate  *coordinatePayload `json:"coordinate"`
	ZipCode     string             `json:"zip_code"`
	VoterIDs    []string           `json:"voter_ids"`
}

func (h *httpHandler) handleCreatePoll(c *gin.Context) {
	hostID := foodpoll.UserID(c.GetString(userIDContextKey))

	var request createPollPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	price, err := foodpoll.ParsePriceLevel(request.Price)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_price"})
		return
	}

	draft := session.Draft{
		Title:       request.Title,
		Description: request.Description,
		Price:       price,
		OpenNow:     request.OpenNow,
		ZipCode:     request.ZipCode,
	}
	if request.Coordinate != nil {
		draft.Coordinate = &foodpoll.Coordinate{
			Latitude:  request.Coordinate.Latitude,
			Longitude: request.Coordinate.Longitude,
		}
	}
	for _, rawVoterID := range request.VoterIDs {
		voterID, err := foodpoll.NewUserID(rawVoterID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_voter_id"})
			return
		}
		draft.VoterIDs = append(draft.VoterIDs, voterID)
	}

	poll, err := h.sessions.CreatePoll(c.Request.Context(), hostID, draft)
	if err != nil {
		h.renderError(c, "create poll", err)
		return
	}
	c.JSON(http.StatusCreated, poll)
}

func (h *httpHandler) handleGetPoll(c *gin.Context) {
	pollSession, ok := h.openSession(c)
	if !ok {
		return
	}
	poll, ok := pollSession.Poll()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "poll_not_found"})
		return
	}
	c.JSON(http.StatusOK, poll)
}

type updateSettingsPayload struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	OpenNow     *bool   `json:"open_now"`
	Price       *string `json:"price"`
}

func (h *httpHandler) handleUpdateSettings(c *gin.Context) {
	callerID := foodpoll.UserID(c.GetString(userIDContextKey))
	pollSession, ok := h.openSession(c)
	if !ok {
		return
	}

	var request updateSettingsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	update := session.SettingsUpdate{
		Title:       request.Title,
		Description: request.Description,
		OpenNow:     request.OpenNow,
	}
	if request.Price != nil {
		price, err := foodpoll.ParsePriceLevel(*request.Price)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_price"})
			return
		}
		update.Price = &price
	}

	poll, err := pollSession.UpdateSettings(c.Request.Context(), callerID, update)
	if err != nil {
		h.renderError(c, "update settings", err)
		return
	}
	c.JSON(http.StatusOK, poll)
}

type updateInvitesPayload struct {
	Add    []string `json:"add"`
	Remove []string `json:"remove"`
}

func (h *httpHandler) handleUpdateInvites(c *gin.Context) {
	callerID := foodpoll.UserID(c.GetString(userIDContextKey))
	pollSession, ok := h.openSession(c)
	if !ok {
		return
	}

	var request updateInvitesPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	update := session.InviteUpdate{}
	for _, rawID := range request.Add {
		voterID, err := foodpoll.NewUserID(rawID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_voter_id"})
			return
		}
		update.Add = append(update.Add, voterID)
	}
	for _, rawID := range request.Remove {
		voterID, err := foodpoll.NewUserID(rawID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_voter_id"})
			return
		}
		update.Remove = append(update.Remove, voterID)
	}

	poll, err := pollSession.UpdateInvites(c.Request.Context(), callerID, update)
	if err != nil {
		h.renderError(c, "update invites", err)
		return
	}
	c.JSON(http.StatusOK, poll)
}

func (h *httpHandler) handleClosePoll(c *gin.Context) {
	callerID := foodpoll.UserID(c.GetString(userIDContextKey))
	pollSession, ok := h.openSession(c)
	if !ok {
		return
	}
	if err := pollSession.Close(c.Request.Context(), callerID); err != nil {
		h.renderError(c, "close poll", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": string(foodpoll.StateClosed)})
}

type castVotePayload struct {
	CandidateID string `json:"candidate_id"`
}

func (h *httpHandler) handleCastVote(c *gin.Context) {
	voterID := foodpoll.UserID(c.GetString(userIDContextKey))
	pollSession, ok := h.openSession(c)
	if !ok {
		return
	}

	var request castVotePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	candidateID, err := foodpoll.NewCandidateID(request.CandidateID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_candidate_id"})
		return
	}

	vote, err := pollSession.CastVote(c.Request.Context(), voterID, candidateID)
	if err != nil {
		h.renderError(c, "cast vote", err)
		return
	}
	c.JSON(http.StatusOK, vote)
}

func (h *httpHandler) handleTally(c *gin.Context) {
	pollSession, ok := h.openSession(c)
	if !ok {
		return
	}
	tally, err := pollSession.Tally()
	if err != nil {
		h.renderError(c, "tally", err)
		return
	}
	c.JSON(http.StatusOK, tally)
}

// handleCandidates derives the catalog query from the poll's settings, so
// every participant sees the same candidate list for the same poll.
func (h *httpHandler) handleCandidates(c *gin.Context) {
	pollSession, ok := h.openSession(c)
	if !ok {
		return
	}
	poll, found := pollSession.Poll()
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "poll_not_found"})
		return
	}

	businesses, err := h.catalog.Fetch(c.Request.Context(), catalog.QueryFromPoll(poll))
	if err != nil {
		h.renderError(c, "fetch candidates", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"businesses": businesses})
}

func (h *httpHandler) openSession(c *gin.Context) (*session.Session, bool) {
	pollID, err := foodpoll.NewPollID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_poll_id"})
		return nil, false
	}
	pollSession, err := h.sessions.Open(c.Request.Context(), pollID)
	if err != nil {
		h.renderError(c, "open poll", err)
		return nil, false
	}
	return pollSession, true
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuth.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuth.Error()})
		return
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	// The subject becomes a store path segment downstream; a token carrying
	// an id the domain rejects never enters a handler.
	userID, err := foodpoll.NewUserID(claims.UserID)
	if err != nil {
		h.logger.Warn("token subject rejected", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, userID.String())
	c.Next()
}

// renderError maps core errors to HTTP responses. Nothing here is fatal to
// the process; every failure is reported at the operation boundary.
func (h *httpHandler) renderError(c *gin.Context, operation string, err error) {
	var validationErr *foodpoll.ValidationError
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "field": validationErr.Field})
	case errors.Is(err, foodpoll.ErrInvalidPollID),
		errors.Is(err, foodpoll.ErrInvalidUserID),
		errors.Is(err, foodpoll.ErrInvalidCandidateID),
		errors.Is(err, foodpoll.ErrInvalidPriceLevel):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	case errors.Is(err, foodpoll.ErrPollNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "poll_not_found"})
	case errors.Is(err, foodpoll.ErrNotInvited):
		c.JSON(http.StatusForbidden, gin.H{"error": "not_invited"})
	case errors.Is(err, foodpoll.ErrPollClosed):
		c.JSON(http.StatusConflict, gin.H{"error": "poll_closed"})
	case errors.Is(err, foodpoll.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_state"})
	case errors.Is(err, catalog.ErrRetrieval):
		c.JSON(http.StatusBadGateway, gin.H{"error": "retrieval_failed"})
	case errors.Is(err, syncgw.ErrSync):
		c.JSON(http.StatusBadGateway, gin.H{"error": "sync_failed"})
	default:
		h.logger.Error("unhandled operation error", zap.String("operation", operation), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
