// Command docweaver documents a Go module tree end to end: it analyzes
// the import graph, chunks and indexes source for retrieval, documents
// every module (resolving strongly connected components as a group
// first), summarizes folders bottom-up, plans and writes a final
// narrative document, and renders the whole run's deliverables to disk.
// Wiring style grounded on
// codegraph/golang/cmd/codegraph/main.go + codegraph/process/orchestrate.go.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/semaphore"

	"github.com/basegraph-app/docweaver/common/id"
	"github.com/basegraph-app/docweaver/common/llmtransport"
	"github.com/basegraph-app/docweaver/common/logger"
	"github.com/basegraph-app/docweaver/common/otelx"
	"github.com/basegraph-app/docweaver/common/taskerr"
	"github.com/basegraph-app/docweaver/internal/assembler"
	"github.com/basegraph-app/docweaver/internal/chunking"
	"github.com/basegraph-app/docweaver/internal/config"
	"github.com/basegraph-app/docweaver/internal/contextresolver"
	"github.com/basegraph-app/docweaver/internal/cyclecontext"
	"github.com/basegraph-app/docweaver/internal/foldersummary"
	"github.com/basegraph-app/docweaver/internal/graph"
	"github.com/basegraph-app/docweaver/internal/modulepipeline"
	"github.com/basegraph-app/docweaver/internal/planpipeline"
	"github.com/basegraph-app/docweaver/internal/retrieval"
	"github.com/basegraph-app/docweaver/internal/scheduler"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code: 0 even when individual modules
// failed (those are summarized, not fatal), non-zero only for
// configuration or analyzer failures that prevent a run from producing
// anything at all.
func run() int {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "docweaver: %v\n", err)
		return 1
	}

	logger.Setup(logger.Env{
		Development: cfg.IsDevelopment(),
		OTelEnabled: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "",
		ServiceName: "docweaver",
	})

	if err := id.Init(0); err != nil {
		slog.Error("docweaver: failed to initialize run id generator", "err", err)
		return 1
	}
	runID := id.New()
	ctx := logger.With(context.Background(), logger.Fields{RunID: runID, Component: "main"})

	shutdown, err := otelx.Setup(ctx, otelx.Config{
		ServiceName: "docweaver",
		Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	})
	if err != nil {
		slog.ErrorContext(ctx, "docweaver: failed to set up tracing", "err", err)
		return 1
	}
	defer shutdown(context.Background())

	start := time.Now()
	summary, exitCode := documentRepo(ctx, cfg)
	elapsed := time.Since(start)

	if summary != nil {
		summary.Elapsed = elapsed
		fmt.Print(assembler.FormatRunSummary(*summary))
	}
	return exitCode
}

func documentRepo(ctx context.Context, cfg config.Config) (*assembler.RunSummary, int) {
	// store stays a nil GraphStore interface (not a typed-nil *ArangoStore)
	// when arangodb is unavailable, so StaticAnalyzer's `a.Store != nil`
	// check degrades persistence cleanly instead of panicking.
	var store graph.GraphStore
	if arangoStore, err := graph.NewArangoStore(graph.ArangoConfig{
		URL:      cfg.Arango.URL,
		Username: cfg.Arango.Username,
		Password: cfg.Arango.Password,
		Database: cfg.Arango.Database,
	}); err != nil {
		slog.WarnContext(ctx, "docweaver: arangodb unavailable, continuing without graph persistence", "err", err)
	} else {
		store = arangoStore
	}

	analyzer := graph.NewStaticAnalyzer(cfg.Root, store)
	g, err := analyzer.Analyze(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %v", taskerr.ErrAnalyzerUnavailable, err)
		slog.ErrorContext(ctx, "docweaver: graph analysis failed", "err", err)
		return nil, 1
	}
	slog.InfoContext(ctx, "docweaver: graph built", "modules", len(g.Modules()), "sccs", len(g.AllSccs()))

	transport, err := llmtransport.New(llmtransport.Config{
		APIKey:         cfg.OpenAI.APIKey,
		BaseURL:        cfg.OpenAI.BaseURL,
		FastModel:      cfg.OpenAI.FastModel,
		ReasoningModel: cfg.OpenAI.ReasoningModel,
	})
	if err != nil {
		slog.ErrorContext(ctx, "docweaver: llm transport unavailable", "err", err)
		return nil, 1
	}

	search, err := newRetrievalService(ctx, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "docweaver: retrieval service unavailable", "err", err)
		return nil, 1
	}

	sem := semaphore.NewWeighted(int64(cfg.Concurrency))

	indexModuleChunks(ctx, g, search)

	sccContexts := buildSccContexts(ctx, g, analyzer, transport)

	modulePipeline := modulepipeline.New(transport, analyzer, search, g, sem, modulepipeline.Config{
		Mode:            modeFor(cfg),
		MaxRetries:      cfg.ModuleRetries,
		RetrieveTimeout: cfg.RetrieveTimeout,
		ReviewTimeout:   cfg.ReviewTimeout,
		MaxTurns:        cfg.MaxTurns,
		AutoExpand:      cfg.AutoExpand,
	})

	sched := scheduler.New(g, sem, modulePipeline)
	sched.SetSccContexts(sccContexts)
	batch := sched.Run(ctx)
	slog.InfoContext(ctx, "docweaver: module batch finished", "succeeded", len(batch.Artifacts), "failed", len(batch.Failures))

	moduleSummaries := make(map[graph.ModuleID]string, len(batch.Artifacts))
	for moduleID, a := range batch.Artifacts {
		moduleSummaries[moduleID] = a.Summary
	}

	folders := foldersummary.Build(g)
	folderSummarizer := foldersummary.New(transport, sem)
	folderArtifacts, err := folderSummarizer.Run(ctx, folders, moduleSummaries)
	if err != nil {
		slog.WarnContext(ctx, "docweaver: folder summarization incomplete", "err", err)
	}

	configSource := newFileConfigSource(cfg.Root)

	resolver := contextresolver.New(contextresolver.Data{
		Graph:           g,
		Entities:        analyzer,
		ModuleArtifacts: batch.Artifacts,
		Folders:         resolverFolders(folders, folderArtifacts),
		Configs:         configSource,
		EntryPoints:     entryPointModules(g),
		ProjectTree:     renderProjectTree(folders),
	})

	plan := planpipeline.New(transport, resolver, sem, planpipeline.Config{
		MaxPlanRetries: cfg.PlanRetries,
		WriteTier:      llmtransport.Tier(cfg.SectionModelTier),
	})

	doc, _, warnings, err := plan.Run(ctx, planSummaryFor(g, folders, configSource))
	if err != nil {
		slog.ErrorContext(ctx, "docweaver: plan pipeline failed", "err", err)
		return nil, 1
	}
	for _, w := range warnings {
		slog.WarnContext(ctx, "docweaver: context sufficiency warning", "warning", w)
	}

	if err := assembler.WriteAll(cfg.OutputDir, assembler.Deliverables{
		Modules:     assembler.FormatModules(batch.Artifacts, g.TopoOrderIndependentFirst()),
		Folders:     assembler.FormatFolders(folderArtifacts),
		SccContexts: assembler.FormatSccContexts(sccContexts),
		Final:       doc,
	}); err != nil {
		slog.ErrorContext(ctx, "docweaver: failed to write deliverables", "err", err)
		return nil, 1
	}

	return &assembler.RunSummary{
		Succeeded: succeededIDs(batch.Artifacts),
		Failed:    failuresFrom(batch.Failures),
		SccCount:  nonTrivialSccCount(g),
	}, 0
}

func newRetrievalService(ctx context.Context, cfg config.Config) (retrieval.Service, error) {
	if cfg.EmbeddingBackend == config.BackendMemory {
		return retrieval.NewMemoryService(), nil
	}
	return retrieval.NewTypesenseService(ctx, retrieval.Config{
		URL:        cfg.Typesense.URL,
		APIKey:     cfg.Typesense.APIKey,
		Collection: cfg.Typesense.Collection,
	})
}

func modeFor(cfg config.Config) modulepipeline.Mode {
	if cfg.Adaptive {
		return modulepipeline.ModeAdaptive
	}
	return modulepipeline.ModeStatic
}

// indexModuleChunks walks every analyzed module's source directory,
// chunks each file with internal/chunking, and indexes the result for
// later semantic/entity/usage lookups.
func indexModuleChunks(ctx context.Context, g *graph.DependencyGraph, search retrieval.Service) {
	for _, m := range g.Modules() {
		dir := g.SourcePath(m)
		entries, err := os.ReadDir(dir)
		if err != nil {
			slog.WarnContext(ctx, "docweaver: failed to read module directory", "module", m, "dir", dir, "err", err)
			continue
		}

		var chunks []retrieval.Chunk
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".go") || strings.HasSuffix(entry.Name(), "_test.go") {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			src, err := os.ReadFile(path)
			if err != nil {
				slog.WarnContext(ctx, "docweaver: failed to read source file", "path", path, "err", err)
				continue
			}
			fileChunks, err := chunking.ChunkModule(m, path, string(src))
			if err != nil {
				slog.WarnContext(ctx, "docweaver: chunking failed", "path", path, "err", err)
				continue
			}
			chunks = append(chunks, fileChunks...)
		}

		if len(chunks) == 0 {
			continue
		}
		if err := search.IndexChunks(ctx, chunks); err != nil {
			slog.WarnContext(ctx, "docweaver: failed to index chunks", "module", m, "err", err)
		}
	}
}

// buildSccContexts runs CycleContextBuilder over every non-trivial SCC
// (more than one member); singleton SCCs need no shared context.
func buildSccContexts(ctx context.Context, g *graph.DependencyGraph, analyzer graph.EntitySource, transport llmtransport.Client) map[graph.SccID]*graph.SccContext {
	builder := cyclecontext.New(transport, entitySourceCollector{analyzer})
	contexts := make(map[graph.SccID]*graph.SccContext)

	for _, scc := range g.AllSccs() {
		members := g.MembersOf(scc)
		if len(members) < 2 {
			continue
		}
		sc, err := builder.Build(ctx, scc, members)
		if err != nil {
			slog.WarnContext(ctx, "docweaver: cycle context build failed", "scc", scc, "err", err)
			continue
		}
		if sc != nil {
			contexts[scc] = sc
		}
	}
	return contexts
}

// entitySourceCollector adapts graph.EntitySource into
// cyclecontext.SourceCollector by concatenating one module's entity
// sources into a single string.
type entitySourceCollector struct {
	entities graph.EntitySource
}

func (c entitySourceCollector) CollectSource(ctx context.Context, m graph.ModuleID) (string, error) {
	entities, err := c.entities.Entities(ctx, m)
	if err != nil {
		return "", fmt.Errorf("collect source for %s: %w", m, err)
	}
	var b strings.Builder
	for _, e := range entities {
		b.WriteString(e.Source)
		b.WriteString("\n")
	}
	return b.String(), nil
}

func resolverFolders(folders map[string]*foldersummary.Info, artifacts map[string]foldersummary.Artifact) map[string]contextresolver.FolderSummary {
	out := make(map[string]contextresolver.FolderSummary, len(folders))
	for path, f := range folders {
		a := artifacts[path]
		out[path] = contextresolver.FolderSummary{
			Path:     path,
			Summary:  a.Summary,
			Depth:    f.Depth,
			Children: f.ChildFolders,
		}
	}
	return out
}

// entryPointNames mirrors original_source/layer2/plan_pipeline/executor.py's
// get_entry_points module-name heuristic, translated onto Go package
// directory basenames.
var entryPointNames = []string{"main", "cli", "server", "api", "app", "run", "core", "client"}

func entryPointModules(g *graph.DependencyGraph) []graph.ModuleID {
	var out []graph.ModuleID
	for _, m := range g.Modules() {
		base := filepath.Base(string(m))
		for _, name := range entryPointNames {
			if base == name {
				out = append(out, m)
				break
			}
		}
	}
	return out
}

// renderProjectTree renders an indented folder tree in lexicographic
// path order, so each folder is listed before its subfolders.
func renderProjectTree(folders map[string]*foldersummary.Info) string {
	paths := make([]string, 0, len(folders))
	for p := range folders {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	for _, p := range paths {
		if p == "" {
			continue
		}
		f := folders[p]
		b.WriteString(strings.Repeat("  ", f.Depth-1))
		b.WriteString(filepath.Base(p))
		b.WriteString("/\n")
	}
	return b.String()
}

func planSummaryFor(g *graph.DependencyGraph, folders map[string]*foldersummary.Info, configSource *fileConfigSource) planpipeline.ProjectSummary {
	return planpipeline.ProjectSummary{
		Tree:              renderProjectTree(folders),
		ModuleCount:       len(g.Modules()),
		FolderCount:       len(folders),
		CycleCount:        nonTrivialSccCount(g),
		ConfigFiles:       configSource.AllConfigFiles(),
		EntryPointPreview: entryPointPreview(entryPointModules(g)),
	}
}

func entryPointPreview(ids []graph.ModuleID) string {
	names := make([]string, len(ids))
	for i, moduleID := range ids {
		names[i] = string(moduleID)
	}
	return strings.Join(names, ", ")
}

func nonTrivialSccCount(g *graph.DependencyGraph) int {
	count := 0
	for _, scc := range g.AllSccs() {
		if len(g.MembersOf(scc)) > 1 {
			count++
		}
	}
	return count
}

func succeededIDs(artifacts map[graph.ModuleID]graph.ModuleArtifact) []graph.ModuleID {
	out := make([]graph.ModuleID, 0, len(artifacts))
	for moduleID := range artifacts {
		out = append(out, moduleID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func failuresFrom(failures []scheduler.Failure) []assembler.Failure {
	out := make([]assembler.Failure, len(failures))
	for i, f := range failures {
		out[i] = assembler.Failure{ModuleID: f.ModuleID, Reason: f.Err.Error()}
	}
	return out
}

// fileConfigSource implements contextresolver.ConfigSource by reading
// well-known config/manifest files straight off disk, grounded on
// original_source/layer1/config_reader.py's fixed-filename lookup.
type fileConfigSource struct {
	root  string
	names []string
}

var wellKnownConfigFiles = []string{
	"go.mod", "go.sum", ".env", ".env.example",
	"config.yaml", "config.yml", "config.json",
	"docker-compose.yml", "docker-compose.yaml", "Dockerfile", "Makefile",
}

var dependencyManifestFiles = []string{"go.mod", "go.sum"}

func newFileConfigSource(root string) *fileConfigSource {
	var present []string
	for _, name := range wellKnownConfigFiles {
		if _, err := os.Stat(filepath.Join(root, name)); err == nil {
			present = append(present, name)
		}
	}
	return &fileConfigSource{root: root, names: present}
}

func (c *fileConfigSource) FileContent(name string) (string, bool) {
	content, err := os.ReadFile(filepath.Join(c.root, name))
	if err != nil {
		return "", false
	}
	return string(content), true
}

func (c *fileConfigSource) AllConfigFiles() []string {
	return c.names
}

func (c *fileConfigSource) DependencyManifests() []string {
	var out []string
	for _, name := range c.names {
		for _, manifest := range dependencyManifestFiles {
			if name == manifest {
				out = append(out, name)
			}
		}
	}
	return out
}
