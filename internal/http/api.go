package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"episoded/internal/domain"
	"episoded/internal/repository"
	"episoded/internal/service"
)

// Handler wires HTTP routes to domain services.
type Handler struct {
	episodes service.EpisodeService
	auth     service.AuthService
	cycle    func()
	active   func() int
}

// NewHandler builds the admin API surface. cycle triggers an immediate
// fetch-then-reconcile pass; active reports the size of the active job set.
func NewHandler(episodes service.EpisodeService, auth service.AuthService, cycle func(), active func() int) *Handler {
	return &Handler{
		episodes: episodes,
		auth:     auth,
		cycle:    cycle,
		active:   active,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	api := router.Group("/api")
	{
		api.GET("/health", h.health)
		api.POST("/auth/login", h.login)

		authorized := api.Group("", h.requireToken())
		{
			authorized.GET("/episodes", h.listEpisodes)
			authorized.GET("/episodes/:id", h.getEpisode)
			authorized.POST("/cycle", h.triggerCycle)
		}
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":               true,
		"active_downloads": h.active(),
	})
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := h.auth.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (h *Handler) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token == "" || token == header {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		subject, err := h.auth.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("subject", subject)
		c.Next()
	}
}

func (h *Handler) listEpisodes(c *gin.Context) {
	var (
		episodes []domain.Episode
		err      error
	)
	if statusFilter := c.Query("status"); statusFilter != "" {
		episodes, err = h.episodes.ListByStatuses(c.Request.Context(), domain.EpisodeStatus(statusFilter))
	} else {
		episodes, err = h.episodes.ListEpisodes(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]EpisodeResponse, len(episodes))
	for i := range episodes {
		resp[i] = episodeToResponse(episodes[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getEpisode(c *gin.Context) {
	idStr := c.Param("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid episode id"})
		return
	}

	episode, err := h.episodes.GetEpisode(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "episode not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, episodeToResponse(*episode))
}

func (h *Handler) triggerCycle(c *gin.Context) {
	if h.cycle == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cycle trigger not configured"})
		return
	}
	go h.cycle()
	c.JSON(http.StatusAccepted, gin.H{"triggered": true})
}

type EpisodeResponse struct {
	ID          int64                `json:"id"`
	Title       string               `json:"title"`
	ContentHash string               `json:"content_hash"`
	SizeBytes   int64                `json:"size_bytes"`
	PublishedAt string               `json:"published_at"`
	SourceURL   string               `json:"source_url"`
	GID         string               `json:"gid,omitempty"`
	Status      domain.EpisodeStatus `json:"status"`
	CreatedAt   string               `json:"created_at"`
	UpdatedAt   string               `json:"updated_at"`
}

func episodeToResponse(episode domain.Episode) EpisodeResponse {
	return EpisodeResponse{
		ID:          episode.ID,
		Title:       episode.Title,
		ContentHash: episode.ContentHash,
		SizeBytes:   episode.SizeBytes,
		PublishedAt: episode.PublishedAt.Format(time.RFC3339),
		SourceURL:   episode.SourceURL,
		GID:         episode.GID,
		Status:      episode.Status,
		CreatedAt:   episode.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   episode.UpdatedAt.Format(time.RFC3339),
	}
}
