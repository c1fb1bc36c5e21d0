package handlers

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	types "github.com/yungbote/guildsense-backend/internal/domain"
	filesdomain "github.com/yungbote/guildsense-backend/internal/domain/files"
	jobsdomain "github.com/yungbote/guildsense-backend/internal/domain/jobs"
	"github.com/yungbote/guildsense-backend/internal/ingestion/chunker"
	"github.com/yungbote/guildsense-backend/internal/ingestion/fetcher"
	"github.com/yungbote/guildsense-backend/internal/ingestion/pdfextract"
	"github.com/yungbote/guildsense-backend/internal/jobs/runtime"
	"github.com/yungbote/guildsense-backend/internal/platform/openai"
	"github.com/yungbote/guildsense-backend/internal/vector"
)

func chunkVectorKey(chunk *types.Chunk) string {
	return "chunk:" + chunk.ID.String()
}

// processAttachmentHandler extracts an attachment into chunks and
// indexes them: text is chunked structurally, PDFs go through the
// extractor, images become one captioned chunk. An attachment the
// pipeline cannot process is marked failed and the job still succeeds.
type processAttachmentHandler struct {
	Deps
}

func (h *processAttachmentHandler) Kind() string { return jobsdomain.KindProcessAttachment }

func (h *processAttachmentHandler) Run(jc *runtime.Context) error {
	var p jobsdomain.ProcessAttachmentPayload
	if err := jc.Decode(&p); err != nil {
		return err
	}
	dbc := jc.DBC()

	att, err := h.Repos.Attachments.GetByID(dbc, p.AttachmentID)
	if err != nil {
		return err
	}
	if att == nil || att.ProcessingStatus == filesdomain.ProcessingCompleted {
		return nil
	}
	channel, err := h.Repos.Channels.GetByID(dbc, att.ChannelID)
	if err != nil {
		return err
	}
	if channel == nil || !channel.IndexingEnabled {
		// Channel left the index while this job was queued.
		return nil
	}
	if h.Fetcher == nil {
		return runtime.Permanent(fmt.Errorf("no attachment fetcher configured"))
	}

	if err := h.Repos.Attachments.SetProcessingStatus(dbc, att.ID, filesdomain.ProcessingInProgress, ""); err != nil {
		return err
	}

	texts, err := h.extract(jc, att)
	if err != nil {
		if terminal := terminalReason(err); terminal != "" {
			if serr := h.Repos.Attachments.SetProcessingStatus(dbc, att.ID, filesdomain.ProcessingFailed, terminal); serr != nil {
				return serr
			}
			h.Log.Warn("attachment rejected", "attachment_id", att.ID, "reason", terminal)
			return nil
		}
		return err
	}
	if len(texts) == 0 {
		if err := h.Repos.Attachments.SetProcessingStatus(dbc, att.ID, filesdomain.ProcessingCompleted, ""); err != nil {
			return err
		}
		return nil
	}

	rows := make([]*types.Chunk, 0, len(texts))
	for i, c := range texts {
		rows = append(rows, &types.Chunk{
			GuildID:      att.GuildID,
			ChannelID:    att.ChannelID,
			AttachmentID: att.ID,
			ChunkIndex:   i,
			Text:         c,
			Preview:      filesdomain.MakePreview(c),
		})
	}

	var staleKeys []string
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		txc := jc.DBC()
		txc.Tx = tx

		keys, err := h.Repos.Chunks.DeleteByAttachment(txc, att.ID)
		if err != nil {
			return err
		}
		staleKeys = keys
		if _, err := h.Repos.Chunks.CreateBatch(txc, rows); err != nil {
			return err
		}
		return h.Repos.Attachments.SetProcessingStatus(txc, att.ID, filesdomain.ProcessingCompleted, "")
	})
	if err != nil {
		return err
	}

	if len(staleKeys) > 0 {
		if err := h.Store.Delete(jc.Ctx, att.GuildID.String(), staleKeys); err != nil {
			return err
		}
	}
	if err := h.index(jc, att, rows); err != nil {
		return err
	}

	h.Log.Info("attachment processed",
		"attachment_id", att.ID,
		"chunks", len(rows),
	)
	return nil
}

// extract turns the fetched attachment into chunk texts.
func (h *processAttachmentHandler) extract(jc *runtime.Context, att *types.Attachment) ([]string, error) {
	res, err := h.Fetcher.Fetch(jc.Ctx, att.Filename, att.URL, att.SizeBytes)
	if err != nil {
		return nil, err
	}

	opts := chunker.Options{}
	switch res.Kind {
	case fetcher.KindText:
		return chunkTexts(chunker.ChunkText(string(res.Data), opts)), nil
	case fetcher.KindPDF:
		if h.Extractor == nil {
			return nil, errNoExtractor
		}
		pages, err := h.Extractor.ExtractPages(jc.Ctx, res.Data)
		if err != nil {
			return nil, err
		}
		return chunkTexts(chunker.ChunkPages(pages, opts)), nil
	case fetcher.KindImage:
		if h.Caption == nil {
			return nil, errNoCaption
		}
		caption, err := h.Caption.DescribeImage(jc.Ctx, openai.CaptionRequest{
			Prompt:     "Describe this image factually in a few sentences.",
			ImageBytes: res.Data,
			ImageMime:  res.MediaType,
		})
		if err != nil {
			return nil, err
		}
		if caption == "" {
			return nil, nil
		}
		return []string{"Image " + att.Filename + ": " + caption}, nil
	default:
		return nil, fmt.Errorf("%w: %s", fetcher.ErrUnsupportedType, res.Kind)
	}
}

func chunkTexts(chunks []chunker.Chunk) []string {
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, c.Text)
	}
	return out
}

// index embeds the fresh chunks and flips each to indexed.
func (h *processAttachmentHandler) index(jc *runtime.Context, att *types.Attachment, rows []*types.Chunk) error {
	texts := make([]string, len(rows))
	for i, c := range rows {
		texts[i] = c.Text
	}
	vecs, err := h.Embedder.Embed(jc.Ctx, texts)
	if err != nil {
		return err
	}
	if len(vecs) != len(rows) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(rows))
	}

	points := make([]vector.Vector, 0, len(rows))
	for i, c := range rows {
		points = append(points, vector.Vector{
			Key:    chunkVectorKey(c),
			Values: vecs[i],
			Payload: map[string]any{
				vector.PayloadGuildIDKey:    c.GuildID.String(),
				vector.PayloadChannelIDKey:  c.ChannelID.String(),
				vector.PayloadSourceTypeKey: vector.SourceTypeAttachmentChunk,
				vector.PayloadSourceIDKey:   c.ID.String(),
				vector.PayloadPreviewKey:    c.Preview,
				vector.PayloadCreatedAtKey:  c.CreatedAt.UTC().Format(time.RFC3339),
			},
		})
	}
	if err := h.Store.Upsert(jc.Ctx, att.GuildID.String(), points); err != nil {
		return err
	}

	for _, c := range rows {
		ok, err := h.Repos.Chunks.MarkIndexed(jc.DBC(), c.ID, chunkVectorKey(c), h.Embedder.Identity(), c.UpdatedAt)
		if err != nil {
			return err
		}
		if !ok {
			h.Log.Info("chunk moved during embed, left stale", "chunk_id", c.ID)
		}
	}
	return nil
}

var (
	errNoExtractor = errors.New("no pdf extractor configured")
	errNoCaption   = errors.New("no image caption client configured")
)

// terminalReason classifies failures that retrying cannot fix; the
// attachment is marked failed with a stable reason code instead of
// bouncing through the queue.
func terminalReason(err error) string {
	switch {
	case errors.Is(err, fetcher.ErrBlockedType):
		return "blocked_extension"
	case errors.Is(err, fetcher.ErrUnsupportedType):
		return "unsupported_type"
	case errors.Is(err, fetcher.ErrTooLarge):
		return "too_large"
	case errors.Is(err, pdfextract.ErrMalformed):
		return "extraction_failed"
	case errors.Is(err, errNoExtractor), errors.Is(err, errNoCaption):
		return err.Error()
	default:
		return ""
	}
}
