// Package retrieval implements RetrievalService external
// collaborator: semantic/full-text search over indexed source chunks,
// backed by github.com/typesense/typesense-go/v4 — grounded on
// codegraph/golang/process/{ingest,orchestrate}.go's
// typesense.Document/typesense.Config wiring, reshaped onto this
// project's chunk model (internal/chunking) instead of a multi-language
// qname document shape.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/typesense/typesense-go/v4/typesense"
	"github.com/typesense/typesense-go/v4/typesense/api"
	"github.com/typesense/typesense-go/v4/typesense/api/pointer"
)

const collectionSchemaVersion = "v1"

// Chunk is one indexed unit of source: a function, a type, a doc
// fragment, or a parent/child AST chunk from internal/chunking.
type Chunk struct {
	ID          string
	ModuleID    string
	EntityName  string
	Kind        string
	Code        string
	Doc         string
	FilePath    string
	StartLine   int
	EndLine     int
	ParentID string // non-empty for a child chunk, per internal/chunking
}

// Service is the RetrievalService contract consumed by ModulePipeline
// (module retrieval, semantic neighbors) and the adaptive tool loop's
// find_usage_patterns; cmd/docweaver indexes chunks through it.
type Service interface {
	IndexChunks(ctx context.Context, chunks []Chunk) error
	SearchSemantic(ctx context.Context, query string, limit int) ([]Chunk, error)
	SearchByEntity(ctx context.Context, name string, limit int) ([]Chunk, error)
	SearchUsages(ctx context.Context, entityName string, limit int) ([]Chunk, error)
	SearchModuleTopK(ctx context.Context, moduleID string, k int) ([]Chunk, error)
}

// Config configures the Typesense-backed service.
type Config struct {
	URL        string
	APIKey     string
	Collection string
}

type typesenseService struct {
	client     *typesense.Client
	collection string
}

// NewTypesenseService constructs a Typesense-backed Service and ensures
// the backing collection exists.
func NewTypesenseService(ctx context.Context, cfg Config) (Service, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("retrieval: typesense URL is required")
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "docweaver_chunks"
	}

	client := typesense.NewClient(
		typesense.WithServer(cfg.URL),
		typesense.WithAPIKey(cfg.APIKey),
	)

	svc := &typesenseService{client: client, collection: collection}
	if err := svc.ensureCollection(ctx); err != nil {
		return nil, fmt.Errorf("ensure typesense collection: %w", err)
	}
	return svc, nil
}

func (s *typesenseService) ensureCollection(ctx context.Context) error {
	schema := &api.CollectionSchema{
		Name: s.collection,
		Fields: []api.Field{
			{Name: "module_id", Type: "string", Facet: pointer.True()},
			{Name: "entity_name", Type: "string"},
			{Name: "kind", Type: "string", Facet: pointer.True()},
			{Name: "code", Type: "string"},
			{Name: "doc", Type: "string", Optional: pointer.True()},
			{Name: "file_path", Type: "string"},
			{Name: "start_line", Type: "int32"},
			{Name: "end_line", Type: "int32"},
			{Name: "parent_id", Type: "string", Optional: pointer.True()},
			{Name: "schema_version", Type: "string", Facet: pointer.True()},
		},
		DefaultSortingField: pointer.String("start_line"),
	}

	_, err := s.client.Collections().Create(ctx, schema)
	if err != nil {
		// Already exists is the common case on repeated runs.
		slog.DebugContext(ctx, "retrieval: create collection (may already exist)", "err", err)
	}
	return nil
}

func (s *typesenseService) IndexChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	start := time.Now()

	docs := make([]any, len(chunks))
	for i, c := range chunks {
		docs[i] = map[string]any{
			"id":             c.ID,
			"module_id":      c.ModuleID,
			"entity_name":    c.EntityName,
			"kind":           c.Kind,
			"code":           c.Code,
			"doc":            c.Doc,
			"file_path":      c.FilePath,
			"start_line":     c.StartLine,
			"end_line":       c.EndLine,
			"parent_id":      c.ParentID,
			"schema_version": collectionSchemaVersion,
		}
	}

	action := api.ImportDocumentsParams{Action: pointer.String("upsert")}
	results, err := s.client.Collection(s.collection).Documents().Import(ctx, docs, &action)
	if err != nil {
		return fmt.Errorf("import chunks: %w", err)
	}
	failures := 0
	for _, r := range results {
		if !r.Success {
			failures++
		}
	}
	if failures > 0 {
		slog.WarnContext(ctx, "retrieval: some chunks failed to index", "failures", failures, "total", len(chunks))
	}

	slog.DebugContext(ctx, "retrieval: chunks indexed",
		"count", len(chunks), "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (s *typesenseService) SearchSemantic(ctx context.Context, query string, limit int) ([]Chunk, error) {
	return s.search(ctx, query, "code,doc,entity_name", "", limit)
}

func (s *typesenseService) SearchByEntity(ctx context.Context, name string, limit int) ([]Chunk, error) {
	return s.search(ctx, name, "entity_name", "", limit)
}

func (s *typesenseService) SearchUsages(ctx context.Context, entityName string, limit int) ([]Chunk, error) {
	return s.search(ctx, entityName, "code", "", limit)
}

func (s *typesenseService) SearchModuleTopK(ctx context.Context, moduleID string, k int) ([]Chunk, error) {
	return s.search(ctx, "*", "code", fmt.Sprintf("module_id:=%s", moduleID), k)
}

func (s *typesenseService) search(ctx context.Context, query, queryBy, filterBy string, limit int) ([]Chunk, error) {
	if limit <= 0 {
		limit = 10
	}
	params := &api.SearchCollectionParams{
		Q:       query,
		QueryBy: queryBy,
		PerPage: pointer.Int(limit),
	}
	if filterBy != "" {
		params.FilterBy = pointer.String(filterBy)
	}

	result, err := s.client.Collection(s.collection).Documents().Search(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("typesense search: %w", err)
	}
	if result.Hits == nil {
		return nil, nil
	}

	chunks := make([]Chunk, 0, len(*result.Hits))
	for _, hit := range *result.Hits {
		if hit.Document == nil {
			continue
		}
		chunks = append(chunks, chunkFromDoc(*hit.Document))
	}
	return chunks, nil
}

func chunkFromDoc(doc map[string]any) Chunk {
	str := func(k string) string {
		v, _ := doc[k].(string)
		return v
	}
	num := func(k string) int {
		switch v := doc[k].(type) {
		case float64:
			return int(v)
		case int:
			return v
		}
		return 0
	}
	return Chunk{
		ID:         str("id"),
		ModuleID:   str("module_id"),
		EntityName: str("entity_name"),
		Kind:       str("kind"),
		Code:       str("code"),
		Doc:        str("doc"),
		FilePath:   str("file_path"),
		StartLine:  num("start_line"),
		EndLine:    num("end_line"),
		ParentID:   str("parent_id"),
	}
}

var _ Service = (*typesenseService)(nil)
