package retrieval

import (
	"context"
	"sort"
	"strings"
)

// MemoryService is an in-memory Service used by unit tests and by
// recorder/replayer fakes that need a real Service without a running
// Typesense instance.
type MemoryService struct {
	chunks []Chunk
}

func NewMemoryService() *MemoryService {
	return &MemoryService{}
}

func (s *MemoryService) IndexChunks(ctx context.Context, chunks []Chunk) error {
	s.chunks = append(s.chunks, chunks...)
	return nil
}

func (s *MemoryService) SearchSemantic(ctx context.Context, query string, limit int) ([]Chunk, error) {
	return s.filter(limit, func(c Chunk) bool {
		return containsFold(c.Code, query) || containsFold(c.Doc, query) || containsFold(c.EntityName, query)
	}), nil
}

func (s *MemoryService) SearchByEntity(ctx context.Context, name string, limit int) ([]Chunk, error) {
	return s.filter(limit, func(c Chunk) bool {
		return containsFold(c.EntityName, name)
	}), nil
}

func (s *MemoryService) SearchUsages(ctx context.Context, entityName string, limit int) ([]Chunk, error) {
	return s.filter(limit, func(c Chunk) bool {
		return c.EntityName != entityName && containsFold(c.Code, entityName)
	}), nil
}

func (s *MemoryService) SearchModuleTopK(ctx context.Context, moduleID string, k int) ([]Chunk, error) {
	matches := s.filter(0, func(c Chunk) bool { return c.ModuleID == moduleID })
	sort.Slice(matches, func(i, j int) bool { return matches[i].StartLine < matches[j].StartLine })
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *MemoryService) filter(limit int, pred func(Chunk) bool) []Chunk {
	var out []Chunk
	for _, c := range s.chunks {
		if pred(c) {
			out = append(out, c)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

var _ Service = (*MemoryService)(nil)
