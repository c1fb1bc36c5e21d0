package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/guildsense-backend/internal/data/repos"
	jobsdomain "github.com/yungbote/guildsense-backend/internal/domain/jobs"
	"github.com/yungbote/guildsense-backend/internal/platform/dbctx"
	"github.com/yungbote/guildsense-backend/internal/platform/logger"
	"github.com/yungbote/guildsense-backend/internal/reconciler"
	"github.com/yungbote/guildsense-backend/internal/server/response"
)

// AdminHandler covers the operator surface: tenant toggles, sync
// health, and dead-letter triage.
type AdminHandler struct {
	log   *logger.Logger
	repos repos.All
	recon *reconciler.Reconciler
}

func NewAdminHandler(baseLog *logger.Logger, all repos.All, recon *reconciler.Reconciler) *AdminHandler {
	return &AdminHandler{
		log:   baseLog.With("handler", "Admin"),
		repos: all,
		recon: recon,
	}
}

type setActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// PATCH /api/admin/guilds/:id/active
//
// Deactivating a guild queues a purge of its entire vector footprint;
// the relational rows stay, so reactivation re-embeds from scratch.
func (h *AdminHandler) SetGuildActive(c *gin.Context) {
	guildID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_guild_id", err)
		return
	}
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	if err := h.repos.Guilds.SetActive(dbc, guildID, *req.Active); err != nil {
		response.RespondError(c, http.StatusInternalServerError, "set_guild_active_failed", err)
		return
	}
	if !*req.Active {
		_, _, err := h.repos.Queue.Enqueue(dbc, repos.EnqueueParams{
			GuildID:  guildID,
			Kind:     jobsdomain.KindPurgeGuildVectors,
			Priority: jobsdomain.PriorityHigh,
			DedupKey: "pgv:" + guildID.String(),
			Payload:  jobsdomain.PurgeGuildVectorsPayload{GuildID: guildID},
		})
		if err != nil {
			response.RespondError(c, http.StatusInternalServerError, "purge_enqueue_failed", err)
			return
		}
	}
	h.log.Info("guild active toggled", "guild_id", guildID, "active", *req.Active)
	response.RespondOK(c, gin.H{"guild_id": guildID, "active": *req.Active})
}

type setIndexingRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// PATCH /api/admin/channels/:id/indexing
//
// Disabling a channel also queues a purge of everything it already
// put in the vector store. Enabling queues a history backfill so the
// channel's past catches up with its future.
func (h *AdminHandler) SetChannelIndexed(c *gin.Context) {
	channelID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_channel_id", err)
		return
	}
	var req setIndexingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}

	channel, err := h.repos.Channels.GetByID(dbc, channelID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "channel_lookup_failed", err)
		return
	}
	if channel == nil {
		response.RespondError(c, http.StatusNotFound, "channel_not_found", errors.New("channel not found"))
		return
	}
	if err := h.repos.Channels.SetIndexingEnabled(dbc, channelID, *req.Enabled); err != nil {
		response.RespondError(c, http.StatusInternalServerError, "set_indexing_failed", err)
		return
	}

	if *req.Enabled {
		_, _, err := h.repos.Queue.Enqueue(dbc, repos.EnqueueParams{
			GuildID:  channel.GuildID,
			Kind:     jobsdomain.KindBackfillChannel,
			Priority: jobsdomain.PriorityLow,
			DedupKey: "bf:" + channelID.String(),
			Payload: jobsdomain.BackfillChannelPayload{
				GuildID:   channel.GuildID,
				ChannelID: channelID,
			},
		})
		if err != nil {
			response.RespondError(c, http.StatusInternalServerError, "backfill_enqueue_failed", err)
			return
		}
	} else {
		_, _, err := h.repos.Queue.Enqueue(dbc, repos.EnqueueParams{
			GuildID:  channel.GuildID,
			Kind:     jobsdomain.KindPurgeChannelVectors,
			Priority: jobsdomain.PriorityHigh,
			DedupKey: "pcv:" + channelID.String(),
			Payload: jobsdomain.PurgeChannelVectorsPayload{
				GuildID:   channel.GuildID,
				ChannelID: channelID,
			},
		})
		if err != nil {
			response.RespondError(c, http.StatusInternalServerError, "purge_enqueue_failed", err)
			return
		}
	}

	h.log.Info("channel indexing toggled", "channel_id", channelID, "enabled", *req.Enabled)
	response.RespondOK(c, gin.H{"channel_id": channelID, "indexing_enabled": *req.Enabled})
}

// GET /api/admin/guilds/:id/sync-health
func (h *AdminHandler) SyncHealth(c *gin.Context) {
	guildID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_guild_id", err)
		return
	}
	report, err := h.recon.HealthReport(c.Request.Context(), guildID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "sync_health_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"report": report})
}

// GET /api/admin/guilds/:id/dead-letters
func (h *AdminHandler) ListDeadLetters(c *gin.Context) {
	guildID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_guild_id", err)
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	rows, err := h.repos.Queue.ListDeadLetters(dbc, guildID, limit)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "dead_letters_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"dead_letters": rows})
}

// POST /api/admin/dead-letters/:id/requeue
func (h *AdminHandler) RequeueDeadLetter(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_dead_letter_id", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	job, err := h.repos.Queue.RequeueDeadLetter(dbc, id)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "requeue_failed", err)
		return
	}
	h.log.Info("dead letter requeued", "dead_letter_id", id, "job_id", job.ID)
	response.RespondOK(c, gin.H{"job": job})
}
