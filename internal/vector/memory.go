package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// MemoryStore is a process-local Store used in tests and single-node
// development runs. Scoring is cosine similarity over raw values.
type MemoryStore struct {
	mu     sync.RWMutex
	guilds map[string]map[string]memoryEntry
}

type memoryEntry struct {
	values  []float32
	payload map[string]any
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{guilds: make(map[string]map[string]memoryEntry)}
}

func (m *MemoryStore) Upsert(ctx context.Context, guildID string, vectors []Vector) error {
	gid := strings.TrimSpace(guildID)
	if gid == "" {
		return ErrTenantViolation
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.guilds[gid]
	if !ok {
		bucket = make(map[string]memoryEntry)
		m.guilds[gid] = bucket
	}
	for _, v := range vectors {
		key := strings.TrimSpace(v.Key)
		if key == "" {
			return fmt.Errorf("memory store: vector key required")
		}
		if len(v.Values) == 0 {
			return fmt.Errorf("memory store: vector %q has empty values", key)
		}
		payload := make(map[string]any, len(v.Payload)+1)
		for k, val := range v.Payload {
			payload[k] = val
		}
		payload[PayloadGuildIDKey] = gid
		values := make([]float32, len(v.Values))
		copy(values, v.Values)
		bucket[key] = memoryEntry{values: values, payload: payload}
	}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, guildID string, keys []string) error {
	gid := strings.TrimSpace(guildID)
	if gid == "" {
		return ErrTenantViolation
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.guilds[gid]
	if !ok {
		return nil
	}
	for _, key := range keys {
		delete(bucket, strings.TrimSpace(key))
	}
	return nil
}

func (m *MemoryStore) DeleteWhere(ctx context.Context, guildID string, filter map[string]any) error {
	gid := strings.TrimSpace(guildID)
	if gid == "" {
		return ErrTenantViolation
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.guilds[gid]
	if !ok {
		return nil
	}
	for key, entry := range bucket {
		match, err := payloadMatches(entry.payload, filter)
		if err != nil {
			return err
		}
		if match {
			delete(bucket, key)
		}
	}
	return nil
}

func (m *MemoryStore) Query(ctx context.Context, guildID string, q []float32, topK int, filter map[string]any) ([]Match, error) {
	gid := strings.TrimSpace(guildID)
	if gid == "" {
		return nil, ErrTenantViolation
	}
	if len(q) == 0 {
		return nil, fmt.Errorf("memory store: query vector required")
	}
	if topK <= 0 {
		topK = 10
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	bucket := m.guilds[gid]
	out := make([]Match, 0, len(bucket))
	for key, entry := range bucket {
		match, err := payloadMatches(entry.payload, filter)
		if err != nil {
			return nil, err
		}
		if !match {
			continue
		}
		payload := make(map[string]any, len(entry.payload))
		for k, v := range entry.payload {
			payload[k] = v
		}
		out = append(out, Match{
			Key:     key,
			Score:   cosine(q, entry.values),
			Payload: payload,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].Key < out[j].Key
		}
		return out[i].Score > out[j].Score
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (m *MemoryStore) Count(ctx context.Context, guildID string) (int64, error) {
	gid := strings.TrimSpace(guildID)
	if gid == "" {
		return 0, ErrTenantViolation
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.guilds[gid])), nil
}

func (m *MemoryStore) ScrollKeys(ctx context.Context, guildID string, limit int, offset string) (KeyPage, error) {
	gid := strings.TrimSpace(guildID)
	if gid == "" {
		return KeyPage{}, ErrTenantViolation
	}
	if limit <= 0 {
		limit = 256
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	bucket := m.guilds[gid]
	keys := make([]string, 0, len(bucket))
	for key := range bucket {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	start := 0
	if strings.TrimSpace(offset) != "" {
		parsed, err := strconv.Atoi(strings.TrimSpace(offset))
		if err != nil {
			return KeyPage{}, fmt.Errorf("memory store: bad scroll offset %q", offset)
		}
		start = parsed
	}
	if start >= len(keys) {
		return KeyPage{}, nil
	}
	end := start + limit
	next := ""
	if end < len(keys) {
		next = strconv.Itoa(end)
	} else {
		end = len(keys)
	}
	page := KeyPage{
		Keys:       append([]string(nil), keys[start:end]...),
		NextOffset: next,
	}
	return page, nil
}

// payloadMatches supports the same caller-facing filter shape the qdrant
// adapter translates: scalar equality plus $eq, $ne and $in per field.
func payloadMatches(payload, filter map[string]any) (bool, error) {
	for field, cond := range filter {
		if strings.EqualFold(field, PayloadGuildIDKey) {
			return false, ErrTenantViolation
		}
		have, ok := payload[field]
		switch typed := cond.(type) {
		case map[string]any:
			for op, want := range typed {
				switch strings.ToLower(strings.TrimSpace(op)) {
				case "$eq":
					if !ok || !scalarEqual(have, want) {
						return false, nil
					}
				case "$ne":
					if ok && scalarEqual(have, want) {
						return false, nil
					}
				case "$in":
					items, isSlice := cond.(map[string]any)[op].([]any)
					if !isSlice {
						if strs, isStrs := want.([]string); isStrs {
							items = make([]any, 0, len(strs))
							for _, s := range strs {
								items = append(items, s)
							}
						} else {
							return false, fmt.Errorf("memory store: $in expects array for field %q", field)
						}
					}
					found := false
					for _, item := range items {
						if ok && scalarEqual(have, item) {
							found = true
							break
						}
					}
					if !found {
						return false, nil
					}
				default:
					return false, fmt.Errorf("memory store: unsupported operator %q for field %q", op, field)
				}
			}
		default:
			if !ok || !scalarEqual(have, cond) {
				return false, nil
			}
		}
	}
	return true, nil
}

func scalarEqual(a, b any) bool {
	if a == b {
		return true
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
