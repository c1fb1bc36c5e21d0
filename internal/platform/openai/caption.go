package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/guildsense-backend/internal/platform/ctxutil"
	"github.com/yungbote/guildsense-backend/internal/platform/logger"
)

// Caption turns uploaded images into text so they can be chunked and
// embedded like any other attachment.
type Caption interface {
	DescribeImage(ctx context.Context, req CaptionRequest) (string, error)
}

type CaptionRequest struct {
	Prompt     string // extra instructions (optional)
	ImageURL   string
	ImageBytes []byte
	ImageMime  string
	Detail     string // "low"|"high"
}

type caption struct {
	log    *logger.Logger
	client Client
}

func NewCaption(log *logger.Logger, client Client) (Caption, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if client == nil {
		return nil, fmt.Errorf("openai client required")
	}
	return &caption{
		log:    log.With("service", "Caption"),
		client: client,
	}, nil
}

func (c *caption) DescribeImage(ctx context.Context, req CaptionRequest) (string, error) {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 90*time.Second)
	defer cancel()

	imageURL := strings.TrimSpace(req.ImageURL)
	if imageURL == "" && len(req.ImageBytes) > 0 {
		if strings.TrimSpace(req.ImageMime) == "" {
			return "", fmt.Errorf("ImageMime required when using ImageBytes")
		}
		imageURL = dataURL(req.ImageMime, req.ImageBytes)
	}
	if imageURL == "" {
		return "", fmt.Errorf("image required (ImageURL or ImageBytes)")
	}

	system := "You are a meticulous visual analyst. Turn images into faithful, factual text notes."
	user := buildCaptionPrompt(req.Prompt)

	raw, err := c.client.GenerateTextWithImages(ctx, system, user, []ImageInput{
		{ImageURL: imageURL, Detail: req.Detail},
	})
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(raw)
	if text == "" {
		return "", fmt.Errorf("empty caption response")
	}
	return text, nil
}

func buildCaptionPrompt(extra string) string {
	var b strings.Builder
	b.WriteString("Describe what the image shows in plain language.\n")
	b.WriteString("Extract any text visible in the image as best as possible.\n")
	b.WriteString("Explain relationships, flows, components, and labels.\n")
	b.WriteString("Do not hallucinate details not visible.\n")
	if strings.TrimSpace(extra) != "" {
		b.WriteString("\nExtra instructions:\n")
		b.WriteString(extra)
		b.WriteString("\n")
	}
	return b.String()
}

func dataURL(mime string, b []byte) string {
	enc := base64.StdEncoding.EncodeToString(b)
	return fmt.Sprintf("data:%s;base64,%s", mime, enc)
}
