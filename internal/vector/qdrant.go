package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"docquery/internal/config"
	"docquery/internal/models"
)

// Index is a minimal REST client to Qdrant. It assumes cosine distance
// and creates the collection if missing. Points carry a tenant/document
// payload so every search is filtered to one tenant's document; an
// is_deleted flag excludes soft-deleted points without removing them.
type Index struct {
	url        string
	apiKey     string
	collection string
	dimension  int
	client     *http.Client
}

func NewIndex(cfg config.QdrantConfig) *Index {
	return &Index{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

// EnsureCollection creates the collection if it does not exist yet.
func (x *Index) EnsureCollection(ctx context.Context) error {
	if x.dimension <= 0 {
		return errors.New("invalid dimension")
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     x.dimension,
			"distance": "Cosine",
		},
	}
	// Qdrant returns 200 if the collection already exists with the same schema.
	return x.putJSON(ctx, fmt.Sprintf("%s/collections/%s", x.url, x.collection), body, nil)
}

// IndexChunks upserts one point per chunk. The chunk's database id doubles
// as the point id, so re-upserting after a retry overwrites rather than
// duplicates.
func (x *Index) IndexChunks(ctx context.Context, tenantID, documentID int64, chunks []models.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks %d vs vectors %d: %w", len(chunks), len(vectors), models.ErrBatchMismatch)
	}
	points := make([]map[string]any, len(chunks))
	for i, c := range chunks {
		points[i] = map[string]any{
			"id":     c.ID,
			"vector": vectors[i],
			"payload": map[string]any{
				"tenant_id":   tenantID,
				"document_id": documentID,
				"chunk_id":    c.ID,
				"index":       c.Index,
				"page":        c.Page,
				"content":     c.Content,
				"is_deleted":  false,
			},
		}
	}
	body := map[string]any{"points": points}
	return x.putJSON(ctx, fmt.Sprintf("%s/collections/%s/points?wait=true", x.url, x.collection), body, nil)
}

// Search runs a filtered similarity search scoped to one tenant document.
func (x *Index) Search(ctx context.Context, tenantID, documentID int64, vector []float32, limit int, scoreThreshold float64) ([]models.SearchHit, error) {
	if limit <= 0 {
		limit = 20
	}
	req := map[string]any{
		"vector":          vector,
		"limit":           limit,
		"score_threshold": scoreThreshold,
		"with_payload":    true,
		"filter":          x.documentFilter(tenantID, documentID),
	}
	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := x.postJSON(ctx, fmt.Sprintf("%s/collections/%s/points/search", x.url, x.collection), req, &resp); err != nil {
		return nil, err
	}
	hits := make([]models.SearchHit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hit := models.SearchHit{Score: r.Score}
		if v, ok := r.Payload["chunk_id"].(float64); ok {
			hit.ChunkID = int64(v)
		}
		if v, ok := r.Payload["document_id"].(float64); ok {
			hit.DocumentID = int64(v)
		}
		if v, ok := r.Payload["index"].(float64); ok {
			hit.Index = int(v)
		}
		if v, ok := r.Payload["page"].(float64); ok {
			hit.Page = int(v)
		}
		if v, ok := r.Payload["content"].(string); ok {
			hit.Content = v
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Count returns how many live points a document has in the index.
func (x *Index) Count(ctx context.Context, tenantID, documentID int64) (int, error) {
	req := map[string]any{
		"filter": x.documentFilter(tenantID, documentID),
		"exact":  true,
	}
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := x.postJSON(ctx, fmt.Sprintf("%s/collections/%s/points/count", x.url, x.collection), req, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

// DeleteByDocument removes a document's points. With hard=false the points
// are kept but flagged is_deleted, which the search filter excludes.
func (x *Index) DeleteByDocument(ctx context.Context, tenantID, documentID int64, hard bool) error {
	filter := map[string]any{
		"must": []map[string]any{
			{"key": "tenant_id", "match": map[string]any{"value": tenantID}},
			{"key": "document_id", "match": map[string]any{"value": documentID}},
		},
	}
	if hard {
		body := map[string]any{"filter": filter}
		return x.postJSON(ctx, fmt.Sprintf("%s/collections/%s/points/delete?wait=true", x.url, x.collection), body, nil)
	}
	body := map[string]any{
		"payload": map[string]any{"is_deleted": true},
		"filter":  filter,
	}
	return x.postJSON(ctx, fmt.Sprintf("%s/collections/%s/points/payload?wait=true", x.url, x.collection), body, nil)
}

func (x *Index) documentFilter(tenantID, documentID int64) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{"key": "tenant_id", "match": map[string]any{"value": tenantID}},
			{"key": "document_id", "match": map[string]any{"value": documentID}},
		},
		"must_not": []map[string]any{
			{"key": "is_deleted", "match": map[string]any{"value": true}},
		},
	}
}

func (x *Index) putJSON(ctx context.Context, url string, body, out any) error {
	return x.doJSON(ctx, http.MethodPut, url, body, out)
}

func (x *Index) postJSON(ctx context.Context, url string, body, out any) error {
	return x.doJSON(ctx, http.MethodPost, url, body, out)
}

func (x *Index) doJSON(ctx context.Context, method, url string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode qdrant request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build qdrant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if x.apiKey != "" {
		req.Header.Set("api-key", x.apiKey)
	}
	resp, err := x.client.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant %s %s failed: %s", method, url, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
