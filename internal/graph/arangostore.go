// Package graph's ArangoStore persists the extracted module/entity graph
// into ArangoDB (the analyzer writes to it; its own export and usage
// lookups do not read it back) — grounded on relay/common/arangodb.Client's
// EnsureDatabase/EnsureCollections/EnsureGraph/IngestNodes/IngestEdges
// sequence, reshaped onto this package's Module/Entity types instead of
// a multi-language qname scheme.
package graph

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/arangodb/go-driver/v2/connection"
)

const graphName = "docweaver"

// ArangoConfig configures the ArangoDB-backed graph store.
type ArangoConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

func (c ArangoConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("arangodb url is required")
	}
	if c.Username == "" {
		return fmt.Errorf("arangodb username is required")
	}
	if c.Database == "" {
		return fmt.Errorf("arangodb database is required")
	}
	return nil
}

// ArangoStore implements GraphStore over a real ArangoDB instance.
type ArangoStore struct {
	client arangodb.Client
	db     arangodb.Database
	cfg    ArangoConfig
}

func NewArangoStore(cfg ArangoConfig) (*ArangoStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("arangodb config: %w", err)
	}

	endpoint := connection.NewRoundRobinEndpoints([]string{cfg.URL})
	conn := connection.NewHttp2Connection(connection.DefaultHTTP2ConfigurationWrapper(endpoint, true))
	if err := conn.SetAuthentication(connection.NewBasicAuth(cfg.Username, cfg.Password)); err != nil {
		return nil, fmt.Errorf("arangodb auth: %w", err)
	}

	return &ArangoStore{client: arangodb.NewClient(conn), cfg: cfg}, nil
}

// EnsureSchema creates the database, node/edge collections, and the named
// graph if they don't already exist. Idempotent: safe to call on every
// run.
func (s *ArangoStore) EnsureSchema(ctx context.Context) error {
	exists, err := s.client.DatabaseExists(ctx, s.cfg.Database)
	if err != nil {
		return fmt.Errorf("check database exists: %w", err)
	}
	if !exists {
		if _, err := s.client.CreateDatabase(ctx, s.cfg.Database, nil); err != nil {
			return fmt.Errorf("create database: %w", err)
		}
	}
	db, err := s.client.GetDatabase(ctx, s.cfg.Database, nil)
	if err != nil {
		return fmt.Errorf("get database: %w", err)
	}
	s.db = db

	for _, name := range []string{"modules", "entities"} {
		if err := s.ensureCollection(ctx, name, false); err != nil {
			return err
		}
	}
	if err := s.ensureCollection(ctx, "imports", true); err != nil {
		return err
	}
	if err := s.ensureCollection(ctx, "declares", true); err != nil {
		return err
	}

	exists, err = s.db.GraphExists(ctx, graphName)
	if err != nil {
		return fmt.Errorf("check graph exists: %w", err)
	}
	if !exists {
		def := &arangodb.GraphDefinition{
			Name: graphName,
			EdgeDefinitions: []arangodb.EdgeDefinition{
				{Collection: "imports", From: []string{"modules"}, To: []string{"modules"}},
				{Collection: "declares", From: []string{"modules"}, To: []string{"entities"}},
			},
		}
		if _, err := s.db.CreateGraph(ctx, graphName, def, nil); err != nil {
			return fmt.Errorf("create graph: %w", err)
		}
	}
	return nil
}

func (s *ArangoStore) ensureCollection(ctx context.Context, name string, isEdge bool) error {
	exists, err := s.db.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection %s exists: %w", name, err)
	}
	if exists {
		return nil
	}
	opts := &arangodb.CreateCollectionProperties{}
	if isEdge {
		opts.Type = arangodb.CollectionTypeEdge
	}
	if _, err := s.db.CreateCollection(ctx, name, &arangodb.CreateCollectionOptions{Properties: opts}); err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

// IngestModules writes module nodes and their import edges. Duplicate
// keys from a prior run are tolerated and left untouched — callers that
// want a clean rebuild truncate first.
func (s *ArangoStore) IngestModules(ctx context.Context, modules []Module) error {
	if s.db == nil {
		return fmt.Errorf("arangostore: EnsureSchema must run before ingest")
	}
	if len(modules) == 0 {
		return nil
	}

	start := time.Now()
	nodeDocs := make([]map[string]any, len(modules))
	for i, m := range modules {
		nodeDocs[i] = map[string]any{
			"_key":        key(string(m.ID)),
			"module_id":   string(m.ID),
			"source_path": m.SourcePath,
		}
	}
	if err := s.upsert(ctx, "modules", nodeDocs); err != nil {
		return fmt.Errorf("ingest module nodes: %w", err)
	}

	var edgeDocs []map[string]any
	for _, m := range modules {
		for _, dep := range m.Imports {
			edgeDocs = append(edgeDocs, map[string]any{
				"_key":  edgeKey(string(m.ID), string(dep)),
				"_from": "modules/" + key(string(m.ID)),
				"_to":   "modules/" + key(string(dep)),
			})
		}
	}
	if err := s.upsert(ctx, "imports", edgeDocs); err != nil {
		return fmt.Errorf("ingest import edges: %w", err)
	}

	slog.DebugContext(ctx, "arangodb modules ingested",
		"modules", len(modules), "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// IngestEntities writes the function/type/method nodes declared by
// moduleID and a declares edge from the module to each one.
func (s *ArangoStore) IngestEntities(ctx context.Context, moduleID ModuleID, entities []Entity) error {
	if s.db == nil {
		return fmt.Errorf("arangostore: EnsureSchema must run before ingest")
	}
	if len(entities) == 0 {
		return nil
	}

	nodeDocs := make([]map[string]any, len(entities))
	edgeDocs := make([]map[string]any, len(entities))
	for i, e := range entities {
		entityKey := key(string(moduleID) + "." + e.Name)
		nodeDocs[i] = map[string]any{
			"_key":      entityKey,
			"module_id": string(moduleID),
			"name":      e.Name,
			"kind":      e.Kind,
			"signature": e.Signature,
			"doc":       e.Doc,
		}
		edgeDocs[i] = map[string]any{
			"_key":  edgeKey(string(moduleID), entityKey),
			"_from": "modules/" + key(string(moduleID)),
			"_to":   "entities/" + entityKey,
		}
	}
	if err := s.upsert(ctx, "entities", nodeDocs); err != nil {
		return fmt.Errorf("ingest entity nodes: %w", err)
	}
	return s.upsert(ctx, "declares", edgeDocs)
}

func (s *ArangoStore) upsert(ctx context.Context, collection string, docs []map[string]any) error {
	if len(docs) == 0 {
		return nil
	}
	col, err := s.db.GetCollection(ctx, collection, nil)
	if err != nil {
		return fmt.Errorf("get collection %s: %w", collection, err)
	}
	reader, err := col.CreateDocuments(ctx, docs)
	if err != nil {
		return fmt.Errorf("create documents in %s: %w", collection, err)
	}
	for {
		if _, err := reader.Read(); err != nil {
			break // duplicate-key errors on re-ingest are expected, not fatal
		}
	}
	return nil
}

// Callers returns the ids of modules that import moduleID, directly or
// transitively up to depth hops, by traversing the stored graph.
// find_usage_patterns does not call it; its usage lookup is a text search.
func (s *ArangoStore) Callers(ctx context.Context, moduleID ModuleID, depth int) ([]ModuleID, error) {
	if depth <= 0 {
		depth = 1
	}
	query := `
		FOR v IN 1..@depth INBOUND @start GRAPH @graph
			OPTIONS { bfs: true, uniqueVertices: "global" }
			FILTER IS_SAME_COLLECTION("modules", v)
			RETURN DISTINCT v.module_id
	`
	cursor, err := s.db.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: map[string]any{
			"start": "modules/" + key(string(moduleID)),
			"depth": depth,
			"graph": graphName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("callers query: %w", err)
	}
	defer cursor.Close()

	var out []ModuleID
	for cursor.HasMore() {
		var id string
		if _, err := cursor.ReadDocument(ctx, &id); err != nil {
			return nil, fmt.Errorf("read caller: %w", err)
		}
		out = append(out, ModuleID(id))
	}
	return out, nil
}

func key(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func edgeKey(from, to string) string {
	return key(from + "->" + to)
}

var _ GraphStore = (*ArangoStore)(nil)
