package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/board"
	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/view"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultHeartbeatInterval = 25 * time.Second

var (
	errMissingBoard    = errors.New("board dependency required")
	errMissingRealtime = errors.New("realtime dispatcher dependency required")
)

// Board is the page instance the HTTP surface drives.
type Board interface {
	Projection() view.Projection
	Query(search string, mode view.Mode) view.Projection
	SetSearch(search string) view.Projection
	SetMode(mode view.Mode) view.Projection
	Search() (string, view.Mode)
	ToggleFavorite(jobID string) bool
	Announcement() string
	RecordView(ctx context.Context, jobID string)
	RecordApply(ctx context.Context, jobID string)
	OpenChat(ctx context.Context, jobID string) error
	CloseChat()
	SendMessage(ctx context.Context, text string) error
	DeleteMessage(ctx context.Context, messageID string) error
	ChatState() chat.View
}

// AdminValidator authorizes privileged requests.
type AdminValidator interface {
	ValidateRequest(r *http.Request) (auth.AdminClaims, error)
}

// AdminFlag is the advisory admin flag of the local cache.
type AdminFlag interface {
	AdminEnabled() bool
	SetAdminEnabled(enabled bool)
}

type Dependencies struct {
	Board          Board
	Realtime       *RealtimeDispatcher
	AdminValidator AdminValidator
	AdminFlag      AdminFlag
	AllowedOrigins []string
	Heartbeat      time.Duration
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin router. A nil AdminValidator leaves privileged routes open,
// in which case message deletion falls back to the board's own policy.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Board == nil {
		return nil, errMissingBoard
	}
	if deps.Realtime == nil {
		return nil, errMissingRealtime
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		board:     deps.Board,
		realtime:  deps.Realtime,
		admin:     deps.AdminValidator,
		adminFlag: deps.AdminFlag,
		heartbeat: heartbeat,
		logger:    logger,
	}

	router.GET("/health", handler.handleHealth)
	router.GET("/jobs", handler.handleListJobs)
	router.PUT("/view", handler.handleUpdateView)
	router.GET("/announcement", handler.handleAnnouncement)
	router.POST("/favorites/:id/toggle", handler.handleToggleFavorite)
	router.POST("/jobs/:id/view", handler.handleRecordView)
	router.POST("/jobs/:id/apply", handler.handleRecordApply)

	router.GET("/chat", handler.handleChatState)
	router.POST("/chat/:jobId/open", handler.handleOpenChat)
	router.DELETE("/chat", handler.handleCloseChat)
	router.POST("/chat/messages", handler.handleSendMessage)

	privileged := router.Group("/")
	privileged.Use(handler.authorizeAdmin)
	privileged.DELETE("/chat/messages/:id", handler.handleDeleteMessage)
	privileged.PUT("/admin/flag", handler.handleSetAdminFlag)

	router.GET("/events", handler.handleEvents)

	return router, nil
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

type httpHandler struct {
	board     Board
	realtime  *RealtimeDispatcher
	admin     AdminValidator
	adminFlag AdminFlag
	heartbeat time.Duration
	logger    *zap.Logger
}

type jobsResponse struct {
	Cards []view.Card `json:"cards"`
	Empty bool        `json:"empty"`
}

func newJobsResponse(projection view.Projection) jobsResponse {
	cards := projection.Cards
	if cards == nil {
		cards = []view.Card{}
	}
	return jobsResponse{Cards: cards, Empty: projection.Empty()}
}

type viewRequestPayload struct {
	Search *string `json:"search"`
	Mode   *string `json:"mode"`
}

type viewResponsePayload struct {
	Search string `json:"search"`
	Mode   string `json:"mode"`
	jobsResponse
}

type messageRequestPayload struct {
	Text string `json:"text"`
}

type adminFlagPayload struct {
	Enabled bool `json:"enabled"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleListJobs(c *gin.Context) {
	search, searchSet := c.GetQuery("q")
	mode, modeSet := c.GetQuery("view")
	if !searchSet && !modeSet {
		c.JSON(http.StatusOK, newJobsResponse(h.board.Projection()))
		return
	}
	currentSearch, currentMode := h.board.Search()
	if !searchSet {
		search = currentSearch
	}
	if !modeSet {
		mode = string(currentMode)
	}
	c.JSON(http.StatusOK, newJobsResponse(h.board.Query(search, view.ParseMode(mode))))
}

func (h *httpHandler) handleUpdateView(c *gin.Context) {
	var request viewRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if request.Search != nil {
		h.board.SetSearch(*request.Search)
	}
	if request.Mode != nil {
		h.board.SetMode(view.ParseMode(*request.Mode))
	}
	search, mode := h.board.Search()
	c.JSON(http.StatusOK, viewResponsePayload{
		Search:       search,
		Mode:         string(mode),
		jobsResponse: newJobsResponse(h.board.Projection()),
	})
}

func (h *httpHandler) handleAnnouncement(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"text": h.board.Announcement()})
}

func (h *httpHandler) handleToggleFavorite(c *gin.Context) {
	jobID := strings.TrimSpace(c.Param("id"))
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_job_id"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": jobID, "favorite": h.board.ToggleFavorite(jobID)})
}

func (h *httpHandler) handleRecordView(c *gin.Context) {
	h.board.RecordView(c.Request.Context(), c.Param("id"))
	c.Status(http.StatusAccepted)
}

func (h *httpHandler) handleRecordApply(c *gin.Context) {
	h.board.RecordApply(c.Request.Context(), c.Param("id"))
	c.Status(http.StatusAccepted)
}

func (h *httpHandler) handleChatState(c *gin.Context) {
	c.JSON(http.StatusOK, h.board.ChatState())
}

func (h *httpHandler) handleOpenChat(c *gin.Context) {
	// The subscription outlives the request.
	ctx := context.WithoutCancel(c.Request.Context())
	if err := h.board.OpenChat(ctx, c.Param("jobId")); err != nil {
		h.writeChatError(c, "open", err)
		return
	}
	c.JSON(http.StatusOK, h.board.ChatState())
}

func (h *httpHandler) handleCloseChat(c *gin.Context) {
	h.board.CloseChat()
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleSendMessage(c *gin.Context) {
	var request messageRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.board.SendMessage(c.Request.Context(), request.Text); err != nil {
		h.writeChatError(c, "send", err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *httpHandler) handleDeleteMessage(c *gin.Context) {
	if err := h.board.DeleteMessage(c.Request.Context(), c.Param("id")); err != nil {
		h.writeChatError(c, "delete", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleSetAdminFlag(c *gin.Context) {
	if h.adminFlag == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "admin_flag_unavailable"})
		return
	}
	var request adminFlagPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.adminFlag.SetAdminEnabled(request.Enabled)
	c.JSON(http.StatusOK, adminFlagPayload{Enabled: h.adminFlag.AdminEnabled()})
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx)
	defer cleanup()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent(RealtimeEventJobs, newJobsResponse(h.board.Projection()))
	c.SSEvent(RealtimeEventChat, h.board.ChatState())
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, message.Payload)
			return true
		case now := <-ticker.C:
			c.SSEvent(RealtimeEventHeartbeat, gin.H{
				"source":    realtimeSourceBackend,
				"timestamp": now.UTC().UnixMilli(),
			})
			return true
		}
	})
}

func (h *httpHandler) authorizeAdmin(c *gin.Context) {
	if h.admin == nil {
		c.Next()
		return
	}
	claims, err := h.admin.ValidateRequest(c.Request)
	if err != nil {
		h.logger.Warn("admin token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Request = c.Request.WithContext(auth.WithAdmin(c.Request.Context(), claims))
	c.Next()
}

func (h *httpHandler) writeChatError(c *gin.Context, operation string, err error) {
	switch {
	case errors.Is(err, chat.ErrMissingJobID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_job_id"})
	case errors.Is(err, chat.ErrMissingMessageID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_message_id"})
	case errors.Is(err, chat.ErrNoActiveSession):
		c.JSON(http.StatusConflict, gin.H{"error": "no_active_session"})
	case errors.Is(err, chat.ErrDeleteNotPermitted):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	default:
		h.logger.Error("chat operation failed", zap.String("operation", operation), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "chat_" + operation + "_failed"})
	}
}

// AdminDeletePolicy allows deletion only for requests that passed admin token validation.
func AdminDeletePolicy() chat.DeletePolicy {
	return chat.DeletePolicyFunc(func(ctx context.Context, _, _ string) bool {
		_, ok := auth.AdminFromContext(ctx)
		return ok
	})
}

var _ Board = (*board.Board)(nil)
