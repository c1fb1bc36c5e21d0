package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/guildsense-backend/internal/ingest"
	"github.com/yungbote/guildsense-backend/internal/server/response"
)

// IngestHandler is the gateway-facing intake: the Discord gateway
// process posts its events here.
type IngestHandler struct {
	ingestor *ingest.Ingestor
}

func NewIngestHandler(ingestor *ingest.Ingestor) *IngestHandler {
	return &IngestHandler{ingestor: ingestor}
}

// POST /api/ingest/guilds
func (h *IngestHandler) GuildUpsert(c *gin.Context) {
	var ev ingest.GuildUpsertEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	guild, err := h.ingestor.HandleGuildUpsert(c.Request.Context(), ev)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "guild_upsert_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"guild": guild})
}

// POST /api/ingest/channels
func (h *IngestHandler) ChannelUpsert(c *gin.Context) {
	var ev ingest.ChannelUpsertEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	channel, err := h.ingestor.HandleChannelUpsert(c.Request.Context(), ev)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "channel_upsert_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"channel": channel})
}

// POST /api/ingest/messages
func (h *IngestHandler) MessageCreate(c *gin.Context) {
	var ev ingest.MessageCreateEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	outcome, err := h.ingestor.HandleMessageCreate(c.Request.Context(), ev)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "message_create_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"outcome": outcome})
}

// POST /api/ingest/message-updates
func (h *IngestHandler) MessageUpdate(c *gin.Context) {
	var ev ingest.MessageUpdateEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	outcome, err := h.ingestor.HandleMessageUpdate(c.Request.Context(), ev)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "message_update_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"outcome": outcome})
}

// POST /api/ingest/message-deletes
//
// One endpoint serves single deletes and bulk deletes; the gateway
// sends whatever batch Discord gave it.
func (h *IngestHandler) MessageDelete(c *gin.Context) {
	var ev ingest.MessageDeleteEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	outcome, err := h.ingestor.HandleMessageDelete(c.Request.Context(), ev)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "message_delete_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"outcome": outcome})
}

// POST /api/ingest/channel-deletes
func (h *IngestHandler) ChannelDelete(c *gin.Context) {
	var ev ingest.ChannelDeleteEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	outcome, err := h.ingestor.HandleChannelDelete(c.Request.Context(), ev)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "channel_delete_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"outcome": outcome})
}

type backfillRequest struct {
	GuildID   string `json:"guild_id" binding:"required"`
	ChannelID string `json:"channel_id" binding:"required"`
}

// POST /api/ingest/backfills
func (h *IngestHandler) StartBackfill(c *gin.Context) {
	var req backfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	guildID, err := uuid.Parse(req.GuildID)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_guild_id", err)
		return
	}
	channelID, err := uuid.Parse(req.ChannelID)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_channel_id", err)
		return
	}
	job, err := h.ingestor.EnqueueBackfill(c.Request.Context(), guildID, channelID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "backfill_enqueue_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}
