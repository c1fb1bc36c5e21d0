package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/guildsense-backend/internal/search"
	"github.com/yungbote/guildsense-backend/internal/server/response"
)

type QueryHandler struct {
	search *search.Service
}

func NewQueryHandler(svc *search.Service) *QueryHandler {
	return &QueryHandler{search: svc}
}

type searchRequest struct {
	GuildID    string  `json:"guild_id" binding:"required"`
	ChannelID  string  `json:"channel_id"`
	Query      string  `json:"query" binding:"required"`
	TopK       int     `json:"top_k"`
	MinScore   float64 `json:"min_score"`
	SourceType string  `json:"source_type"`
}

// POST /api/search
func (h *QueryHandler) Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	guildID, err := uuid.Parse(req.GuildID)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_guild_id", err)
		return
	}
	params := search.Params{
		GuildID:    guildID,
		Query:      req.Query,
		TopK:       req.TopK,
		MinScore:   req.MinScore,
		SourceType: req.SourceType,
	}
	if req.ChannelID != "" {
		channelID, err := uuid.Parse(req.ChannelID)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_channel_id", err)
			return
		}
		params.ChannelID = channelID
	}

	hits, err := h.search.SearchSemantic(c.Request.Context(), params)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "search_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"hits": hits})
}

// GET /api/guilds/:id/sessions/recent
func (h *QueryHandler) RecentSessions(c *gin.Context) {
	guildID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_guild_id", err)
		return
	}
	var channelID uuid.UUID
	if raw := c.Query("channel_id"); raw != "" {
		channelID, err = uuid.Parse(raw)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_channel_id", err)
			return
		}
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if err := parsePositive(raw, &limit); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_limit", err)
			return
		}
	}

	sessions, err := h.search.ListRecent(c.Request.Context(), guildID, channelID, limit)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "list_recent_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"sessions": sessions})
}

func parsePositive(raw string, out *int) error {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return err
	}
	if n < 1 {
		return errors.New("must be positive")
	}
	*out = n
	return nil
}
