package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/guildsense-backend/internal/platform/ctxutil"
	"github.com/yungbote/guildsense-backend/internal/platform/logger"
	"github.com/yungbote/guildsense-backend/internal/vector"
)

const maxErrorBodyBytes = 1024

var pointIDNamespaceUUID = uuid.MustParse("6c3b1a52-9d7e-4f08-a1c4-2e64bfe0d9a3")

// Payload fields the reconciler and search paths filter on.
var indexedPayloadFields = []string{
	vector.PayloadGuildIDKey,
	vector.PayloadChannelIDKey,
	vector.PayloadSourceTypeKey,
	vector.PayloadSourceIDKey,
}

type vectorStore struct {
	log     *logger.Logger
	cfg     Config
	baseURL string
	http    *http.Client
}

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

type qdrantSearchResultItem struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

func NewVectorStore(log *logger.Logger, cfg Config) (vector.Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := ValidateConfig(cfg, true); err != nil {
		return nil, err
	}

	s := &vectorStore{
		log:     log.With("service", "QdrantVectorStore"),
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	if err := s.ensureCollection(context.Background()); err != nil {
		return nil, err
	}

	log.Info(
		"Qdrant vector store selected",
		"provider", "qdrant",
		"url", s.baseURL,
		"collection", cfg.Collection,
		"vector_dim", cfg.VectorDim,
		"distance", cfg.Distance,
	)
	return s, nil
}

func (s *vectorStore) Upsert(ctx context.Context, guildID string, vectors []vector.Vector) error {
	if s == nil {
		return nil
	}
	const op = "upsert"
	gid, err := requireGuild(op, guildID)
	if err != nil {
		return err
	}
	if len(vectors) == 0 {
		return nil
	}

	points := make([]map[string]any, 0, len(vectors))
	for _, v := range vectors {
		key := strings.TrimSpace(v.Key)
		if key == "" {
			return opErr(op, OperationErrorValidation, "vector key is required", nil)
		}
		if len(v.Values) == 0 {
			return opErr(op, OperationErrorValidation, fmt.Sprintf("vector %q has empty values", key), nil)
		}
		if s.cfg.VectorDim > 0 && len(v.Values) != s.cfg.VectorDim {
			return opErr(
				op,
				OperationErrorValidation,
				fmt.Sprintf(
					"vector %q dimension mismatch: expected=%d got=%d",
					key,
					s.cfg.VectorDim,
					len(v.Values),
				),
				nil,
			)
		}
		if raw, ok := v.Payload[vector.PayloadGuildIDKey]; ok {
			if asStr, _ := raw.(string); asStr != gid {
				return tenantErr(op, fmt.Sprintf("vector %q payload guild mismatch", key))
			}
		}
		payload := clonePayload(v.Payload)
		payload[vector.PayloadGuildIDKey] = gid
		// Point ids are deterministic hashes; the logical key rides in
		// the payload so scroll and search can hand it back.
		payload[vector.PayloadVectorKeyKey] = key
		points = append(points, map[string]any{
			"id":      s.pointID(gid, key),
			"vector":  v.Values,
			"payload": payload,
		})
	}

	req := map[string]any{"points": points}
	return s.doJSON(ctx, op, http.MethodPut, s.collectionPath("/points?wait=true"), req, nil)
}

func (s *vectorStore) Delete(ctx context.Context, guildID string, keys []string) error {
	if s == nil {
		return nil
	}
	const op = "delete"
	gid, err := requireGuild(op, guildID)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	pointIDs := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, id := range keys {
		key := strings.TrimSpace(id)
		if key == "" {
			continue
		}
		pointID := s.pointID(gid, key)
		if _, exists := seen[pointID]; exists {
			continue
		}
		seen[pointID] = struct{}{}
		pointIDs = append(pointIDs, pointID)
	}
	if len(pointIDs) == 0 {
		return nil
	}

	req := map[string]any{"points": pointIDs}
	return s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/delete?wait=true"), req, nil)
}

func (s *vectorStore) DeleteWhere(ctx context.Context, guildID string, filter map[string]any) error {
	if s == nil {
		return nil
	}
	const op = "delete_where"
	gid, err := requireGuild(op, guildID)
	if err != nil {
		return err
	}

	qdrantFilter, err := s.scopedFilter(gid, filter)
	if err != nil {
		return err
	}
	req := map[string]any{"filter": qdrantFilter}
	return s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/delete?wait=true"), req, nil)
}

func (s *vectorStore) Query(ctx context.Context, guildID string, q []float32, topK int, filter map[string]any) ([]vector.Match, error) {
	if s == nil {
		return nil, fmt.Errorf("vector store unavailable")
	}
	const op = "query"
	gid, err := requireGuild(op, guildID)
	if err != nil {
		return nil, err
	}
	if len(q) == 0 {
		return nil, opErr(op, OperationErrorValidation, "query vector required", nil)
	}
	if s.cfg.VectorDim > 0 && len(q) != s.cfg.VectorDim {
		return nil, opErr(
			op,
			OperationErrorValidation,
			fmt.Sprintf("query vector dimension mismatch: expected=%d got=%d", s.cfg.VectorDim, len(q)),
			nil,
		)
	}
	if topK <= 0 {
		topK = 10
	}

	qdrantFilter, err := s.scopedFilter(gid, filter)
	if err != nil {
		var typed *OperationError
		if errors.As(err, &typed) && typed.Code == OperationErrorUnsupportedFilter {
			s.log.Warn("qdrant query filter unsupported", "guild_id", gid, "error", err)
		}
		return nil, err
	}

	req := map[string]any{
		"vector":       q,
		"limit":        topK,
		"with_payload": true,
		"with_vector":  false,
		"filter":       qdrantFilter,
	}
	var rawResults []qdrantSearchResultItem
	if err := s.doJSON(
		ctx,
		op,
		http.MethodPost,
		s.collectionPath("/points/search"),
		req,
		&rawResults,
	); err != nil {
		return nil, err
	}

	out := make([]vector.Match, 0, len(rawResults))
	for _, item := range rawResults {
		key := s.extractVectorKey(item)
		if key == "" {
			continue
		}
		// Fail closed on anything the store returns outside the guild scope.
		if payloadGID, _ := item.Payload[vector.PayloadGuildIDKey].(string); payloadGID != gid {
			return nil, tenantErr(op, fmt.Sprintf("result %q outside guild scope", key))
		}
		out = append(out, vector.Match{
			Key:     key,
			Score:   s.normalizeScore(item.Score),
			Payload: item.Payload,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].Key < out[j].Key
		}
		return out[i].Score > out[j].Score
	})
	return out, nil
}

func (s *vectorStore) Count(ctx context.Context, guildID string) (int64, error) {
	if s == nil {
		return 0, fmt.Errorf("vector store unavailable")
	}
	const op = "count"
	gid, err := requireGuild(op, guildID)
	if err != nil {
		return 0, err
	}

	qdrantFilter, err := s.scopedFilter(gid, nil)
	if err != nil {
		return 0, err
	}
	req := map[string]any{"filter": qdrantFilter, "exact": true}
	var result struct {
		Count int64 `json:"count"`
	}
	if err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/count"), req, &result); err != nil {
		return 0, err
	}
	return result.Count, nil
}

func (s *vectorStore) ScrollKeys(ctx context.Context, guildID string, limit int, offset string) (vector.KeyPage, error) {
	if s == nil {
		return vector.KeyPage{}, fmt.Errorf("vector store unavailable")
	}
	const op = "scroll"
	gid, err := requireGuild(op, guildID)
	if err != nil {
		return vector.KeyPage{}, err
	}
	if limit <= 0 {
		limit = 256
	}

	qdrantFilter, err := s.scopedFilter(gid, nil)
	if err != nil {
		return vector.KeyPage{}, err
	}
	req := map[string]any{
		"filter":       qdrantFilter,
		"limit":        limit,
		"with_payload": []string{vector.PayloadVectorKeyKey, vector.PayloadSourceTypeKey, vector.PayloadSourceIDKey, vector.PayloadGuildIDKey},
		"with_vector":  false,
	}
	if strings.TrimSpace(offset) != "" {
		req["offset"] = offset
	}

	var result struct {
		Points         []qdrantSearchResultItem `json:"points"`
		NextPageOffset json.RawMessage          `json:"next_page_offset"`
	}
	if err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/scroll"), req, &result); err != nil {
		return vector.KeyPage{}, err
	}

	page := vector.KeyPage{
		Keys:       make([]string, 0, len(result.Points)),
		NextOffset: decodePointID(result.NextPageOffset),
	}
	for _, item := range result.Points {
		key := s.extractVectorKey(item)
		if key == "" {
			continue
		}
		page.Keys = append(page.Keys, key)
	}
	return page, nil
}

// ensureCollection creates the collection and its payload indexes when
// absent, then verifies dimension agreement with the running instance.
func (s *vectorStore) ensureCollection(ctx context.Context) error {
	const op = "bootstrap"

	readyReq, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodGet, s.baseURL+"/readyz", nil)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build ready request failed", err)
	}
	readyResp, err := s.http.Do(readyReq)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant ready check failed", err)
	}
	_ = readyResp.Body.Close()
	if readyResp.StatusCode < 200 || readyResp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: readyResp.StatusCode,
			Message:    fmt.Sprintf("qdrant ready check returned status=%d", readyResp.StatusCode),
		}
	}

	exists, size, err := s.describeCollection(ctx, op)
	if err != nil {
		return err
	}
	if !exists {
		createReq := map[string]any{
			"vectors": map[string]any{
				"size":     s.cfg.VectorDim,
				"distance": s.cfg.Distance,
			},
		}
		if err := s.doJSON(ctx, op, http.MethodPut, s.collectionPath(""), createReq, nil); err != nil {
			return err
		}
		for _, field := range indexedPayloadFields {
			indexReq := map[string]any{
				"field_name":   field,
				"field_schema": "keyword",
			}
			if err := s.doJSON(ctx, op, http.MethodPut, s.collectionPath("/index?wait=true"), indexReq, nil); err != nil {
				return err
			}
		}
		return nil
	}

	if size != 0 && size != s.cfg.VectorDim {
		return &OperationError{
			Code:      OperationErrorValidation,
			Operation: op,
			Message: fmt.Sprintf(
				"qdrant collection %q vector size mismatch: expected=%d actual=%d",
				s.cfg.Collection,
				s.cfg.VectorDim,
				size,
			),
		}
	}
	return nil
}

func (s *vectorStore) describeCollection(ctx context.Context, op string) (exists bool, size int, err error) {
	var result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	err = s.doJSON(ctx, op, http.MethodGet, s.collectionPath(""), nil, &result)
	if err != nil {
		var typed *OperationError
		if errors.As(err, &typed) && typed.StatusCode == http.StatusNotFound {
			return false, 0, nil
		}
		return false, 0, err
	}
	return true, result.Config.Params.Vectors.Size, nil
}

func (s *vectorStore) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), method, s.baseURL+path, body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant request failed", err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 10*maxErrorBodyBytes))
	if readErr != nil {
		return opErr(op, OperationErrorDecodeFailed, "read response failed", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant http status=%d body=%q", resp.StatusCode, truncateBody(raw)),
		}
	}

	var envelope qdrantEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant envelope failed", err)
	}
	if statusErr := parseEnvelopeStatus(envelope.Status); statusErr != "" {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    statusErr,
		}
	}

	if out == nil {
		return nil
	}
	if len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant result failed", err)
	}
	return nil
}

func classifyHTTPCallError(op, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	return opErr(op, OperationErrorTransportFailed, message, err)
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}

	var statusString string
	if err := json.Unmarshal(raw, &statusString); err == nil {
		if strings.EqualFold(statusString, "ok") {
			return ""
		}
		return fmt.Sprintf("qdrant status=%q", statusString)
	}

	var statusObject struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &statusObject); err == nil {
		if strings.TrimSpace(statusObject.Error) != "" {
			return strings.TrimSpace(statusObject.Error)
		}
	}

	return fmt.Sprintf("qdrant status=%s", status)
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}

func clonePayload(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func requireGuild(op, guildID string) (string, error) {
	gid := strings.TrimSpace(guildID)
	if gid == "" {
		return "", tenantErr(op, "guild id required")
	}
	return gid, nil
}

func tenantErr(op, msg string) error {
	return &OperationError{
		Code:      OperationErrorTenantViolation,
		Operation: op,
		Message:   msg,
		Cause:     vector.ErrTenantViolation,
	}
}

func (s *vectorStore) scopedFilter(guildID string, filter map[string]any) (map[string]any, error) {
	base := translatedFilter{
		Must: []any{
			qdrantMatchCondition(vector.PayloadGuildIDKey, guildID),
		},
	}
	if len(filter) == 0 {
		return base.asMap(), nil
	}

	translated, err := translateFilterMap(filter)
	if err != nil {
		return nil, err
	}
	mergeTranslatedFilters(&base, translated)
	return base.asMap(), nil
}

func (s *vectorStore) pointID(guildID, key string) string {
	deterministic := uuid.NewSHA1(pointIDNamespaceUUID, []byte(guildID+"|"+key))
	return deterministic.String()
}

func (s *vectorStore) collectionPath(suffix string) string {
	path := "/collections/" + s.cfg.Collection
	if strings.TrimSpace(suffix) == "" {
		return path
	}
	return path + suffix
}

func (s *vectorStore) extractVectorKey(item qdrantSearchResultItem) string {
	if payloadKey, ok := item.Payload[vector.PayloadVectorKeyKey].(string); ok {
		key := strings.TrimSpace(payloadKey)
		if key != "" {
			return key
		}
	}
	// Older points predate the vector_key payload field; rebuild the
	// logical key from source type and id.
	sourceType, _ := item.Payload[vector.PayloadSourceTypeKey].(string)
	sourceID, _ := item.Payload[vector.PayloadSourceIDKey].(string)
	sourceID = strings.TrimSpace(sourceID)
	if sourceID != "" {
		switch sourceType {
		case vector.SourceTypeSession:
			return "session:" + sourceID
		case vector.SourceTypeAttachmentChunk:
			return "chunk:" + sourceID
		}
	}
	return decodePointID(item.ID)
}

func decodePointID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var idString string
	if err := json.Unmarshal(raw, &idString); err == nil {
		return strings.TrimSpace(idString)
	}
	var idNumber int64
	if err := json.Unmarshal(raw, &idNumber); err == nil {
		return fmt.Sprintf("%d", idNumber)
	}
	return strings.TrimSpace(string(raw))
}

func (s *vectorStore) normalizeScore(score float64) float64 {
	switch strings.ToLower(strings.TrimSpace(s.cfg.Distance)) {
	case "euclid", "manhattan":
		if score < 0 {
			score = -score
		}
		return 1.0 / (1.0 + score)
	default:
		return score
	}
}
