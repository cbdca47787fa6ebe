package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/RuBiCK/viberetro-sub000/internal/board"
	"github.com/RuBiCK/viberetro-sub000/internal/metrics"
	"github.com/RuBiCK/viberetro-sub000/internal/session"
	"github.com/RuBiCK/viberetro-sub000/internal/stage"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	errMissingStore    = errors.New("store dependency required")
	errMissingRegistry = errors.New("session registry dependency required")
	errMissingHub      = errors.New("hub dependency required")
	errMissingIDs      = errors.New("id provider dependency required")
)

const (
	defaultTimerDurationSeconds = 300
	defaultVotesPerUser         = 3
)

// Dependencies wires the HTTP surface: session bootstrap, the websocket
// gateway, health, and metrics.
type Dependencies struct {
	Store         *board.Store
	Registry      *session.Registry
	Hub           *Hub
	IDProvider    board.IDProvider
	Clock         func() time.Time
	Logger        *zap.Logger
	Metrics       *metrics.Collector
	Gatherer      prometheus.Gatherer
	PublicBaseURL string
}

// NewHTTPHandler builds the gin handler serving REST bootstrap and the
// realtime gateway.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Store == nil {
		return nil, errMissingStore
	}
	if deps.Registry == nil {
		return nil, errMissingRegistry
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}
	if deps.IDProvider == nil {
		return nil, errMissingIDs
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		store:    deps.Store,
		registry: deps.Registry,
		hub:      deps.Hub,
		ids:      deps.IDProvider,
		clock:    clock,
		logger:   logger,
		metrics:  deps.Metrics,
		baseURL:  strings.TrimRight(deps.PublicBaseURL, "/"),
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(metrics.Handler(deps.Gatherer)))
	}
	router.POST("/sessions", handler.handleCreateSession)
	router.GET("/sessions/:id", handler.handleGetSession)
	router.GET("/sessions/:id/ws", handler.handleSocket)

	return router, nil
}

type httpHandler struct {
	store    *board.Store
	registry *session.Registry
	hub      *Hub
	ids      board.IDProvider
	clock    func() time.Time
	logger   *zap.Logger
	metrics  *metrics.Collector
	baseURL  string
}

type createSessionPayload struct {
	Name          string   `json:"name"`
	Template      string   `json:"template"`
	Columns       []string `json:"columns"`
	TimerDuration int      `json:"timerDuration"`
	VotesPerUser  int      `json:"votesPerUser"`
	IceBreaker    string   `json:"iceBreaker"`
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
	HostID    string `json:"hostId"`
	URL       string `json:"url"`
}

// handleCreateSession bootstraps a session from a board template. The
// returned hostId doubles as the host token: a participant joining with
// it becomes the session host.
func (h *httpHandler) handleCreateSession(c *gin.Context) {
	var request createSessionPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	columns, err := resolveColumns(request.Template, request.Columns)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_template", "message": err.Error()})
		return
	}

	name := strings.TrimSpace(request.Name)
	if name == "" {
		name = "Retrospective"
	}
	timerDuration := request.TimerDuration
	if timerDuration <= 0 {
		timerDuration = defaultTimerDurationSeconds
	}
	votesPerUser := request.VotesPerUser
	if votesPerUser <= 0 {
		votesPerUser = defaultVotesPerUser
	}

	sessionID, err := h.ids.NewID()
	if err != nil {
		h.logger.Error("session id generation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_create_failed"})
		return
	}
	hostID, err := h.ids.NewID()
	if err != nil {
		h.logger.Error("host id generation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_create_failed"})
		return
	}

	nowMS := h.clock().UnixMilli()
	newSession := &board.Session{
		ID:                   sessionID,
		HostID:               hostID,
		Name:                 name,
		Stage:                stage.Setup,
		Columns:              columns,
		TimerDurationSeconds: timerDuration,
		VotesPerUser:         votesPerUser,
		IceBreakerPrompt:     strings.TrimSpace(request.IceBreaker),
		CreatedAtMS:          nowMS,
		UpdatedAtMS:          nowMS,
	}
	if err := h.store.CreateSession(c.Request.Context(), newSession); err != nil {
		h.logger.Error("session create failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_create_failed"})
		return
	}

	h.logger.Info("session created",
		zap.String("session_id", sessionID),
		zap.Strings("columns", columns))
	c.JSON(http.StatusCreated, createSessionResponse{
		SessionID: sessionID,
		HostID:    hostID,
		URL:       fmt.Sprintf("%s/sessions/%s", h.baseURL, sessionID),
	})
}

// handleGetSession serves a full-state snapshot over REST, the resync
// path for clients that fell behind the broadcast stream.
func (h *httpHandler) handleGetSession(c *gin.Context) {
	coordinator, err := h.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, board.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
			return
		}
		h.logger.Error("session lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_lookup_failed"})
		return
	}
	snapshot, err := coordinator.Snapshot(c.Request.Context())
	if err != nil {
		h.logger.Error("snapshot failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_lookup_failed"})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}
