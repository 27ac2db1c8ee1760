package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashitfit/coach/internal/datasource"
	"github.com/hashitfit/coach/internal/documents"
	"github.com/hashitfit/coach/internal/memory"
	"github.com/hashitfit/coach/internal/requestctx"
)

// Built-in tool names.
const (
	NameSearchMemory    = "search_memory"
	NameWriteMemory     = "write_memory"
	NameGetUserData     = "get_user_data"
	NameSearchDocuments = "search_documents"
)

var errNoUser = errors.New("no user in request context")

// MemoryStore is the memory surface the memory tools need.
type MemoryStore interface {
	Search(ctx context.Context, userID, query string, k int) ([]memory.Scored, error)
	Write(ctx context.Context, rec *memory.Record) error
}

// DocumentSearcher is the corpus surface search_documents needs.
type DocumentSearcher interface {
	Search(ctx context.Context, query string, k int) ([]documents.Hit, error)
}

// DataFetcher is the data source surface get_user_data needs.
type DataFetcher interface {
	Registry() *datasource.Registry
	Fetch(ctx context.Context, key string, req datasource.Request) ([]datasource.Row, error)
}

// Deps are the collaborators of the built-in tools. Nil members leave the
// corresponding tools unregistered.
type Deps struct {
	Memory    MemoryStore
	Documents DocumentSearcher
	Data      DataFetcher
}

// RegisterBuiltins registers every built-in tool whose collaborator is set.
func RegisterBuiltins(r *ToolRegistry, deps Deps) {
	if deps.Memory != nil {
		r.Register(&searchMemoryTool{store: deps.Memory})
		r.Register(&writeMemoryTool{store: deps.Memory})
	}
	if deps.Data != nil {
		r.Register(&getUserDataTool{data: deps.Data})
	}
	if deps.Documents != nil {
		r.Register(&searchDocumentsTool{docs: deps.Documents})
	}
}

func userFrom(ctx context.Context) (string, error) {
	u := requestctx.UserID(ctx)
	if u == "" {
		return "", errNoUser
	}
	return u, nil
}

// --- search_memory ---

type searchMemoryTool struct {
	store MemoryStore
}

type searchMemoryArgs struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

type memoryHit struct {
	ID      string  `json:"id"`
	Kind    string  `json:"kind"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

func (t *searchMemoryTool) Name() string { return NameSearchMemory }
func (t *searchMemoryTool) Description() string {
	return "Search what is remembered about the user (facts, preferences, summaries, notes), most relevant and important first."
}
func (t *searchMemoryTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "Free-text search"},
    "k": {"type": "integer", "description": "Max results, default 5, at most 10"}
  },
  "required": ["query"]
}`)
}

func (t *searchMemoryTool) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	userID, err := userFrom(ctx)
	if err != nil {
		return nil, err
	}
	var args searchMemoryArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, fmt.Errorf("parsing arguments: %w", err)
	}
	scored, err := t.store.Search(ctx, userID, args.Query, args.K)
	if err != nil {
		return nil, err
	}
	hits := make([]memoryHit, 0, len(scored))
	for _, s := range scored {
		hits = append(hits, memoryHit{ID: s.ID, Kind: s.Kind, Content: s.Content, Score: s.Score})
	}
	return json.Marshal(map[string]any{"memories": hits})
}

// --- write_memory ---

type writeMemoryTool struct {
	store MemoryStore
}

type writeMemoryArgs struct {
	Kind       string `json:"kind"`
	Content    string `json:"content"`
	Importance int    `json:"importance"`
}

func (t *writeMemoryTool) Name() string { return NameWriteMemory }
func (t *writeMemoryTool) Description() string {
	return "Remember something durable about the user. Importance 1 (trivia) to 5 (critical, e.g. injuries)."
}
func (t *writeMemoryTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "kind": {"type": "string", "enum": ["fact", "preference", "summary", "note"]},
    "content": {"type": "string", "minLength": 1},
    "importance": {"type": "integer", "description": "1-5, default 1; out of range values are clamped"}
  },
  "required": ["kind", "content"]
}`)
}

func (t *writeMemoryTool) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	userID, err := userFrom(ctx)
	if err != nil {
		return nil, err
	}
	var args writeMemoryArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, fmt.Errorf("parsing arguments: %w", err)
	}
	rec := &memory.Record{UserID: userID, Kind: args.Kind, Content: args.Content, Importance: args.Importance}
	if err := t.store.Write(ctx, rec); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"id":         rec.ID,
		"created_at": rec.CreatedAt.Format(time.RFC3339),
		"importance": rec.Importance,
	})
}

// --- get_user_data ---

type getUserDataTool struct {
	data DataFetcher
}

type scopedFilter struct {
	Source   string `json:"source,omitempty"`
	Column   string `json:"column"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

type getUserDataArgs struct {
	Query      string                `json:"query"`
	TimeRange  *datasource.TimeRange `json:"time_range,omitempty"`
	SourceKeys []string              `json:"source_keys,omitempty"`
	Filters    []scopedFilter        `json:"filters,omitempty"`
	Limit      int                   `json:"limit,omitempty"`
}

type sourceRows struct {
	Key  string           `json:"key"`
	Rows []datasource.Row `json:"rows"`
}

type skippedSource struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

func (t *getUserDataTool) Name() string { return NameGetUserData }
func (t *getUserDataTool) Description() string {
	var keys []string
	for _, d := range t.data.Registry().Active() {
		keys = append(keys, d.Key)
	}
	return "Read the user's tracked data (workouts, nutrition, progress, schedule). Sources: " +
		strings.Join(keys, ", ") + ". Dates are YYYY-MM-DD."
}
func (t *getUserDataTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "What data is needed; used to pick sources when source_keys is empty"},
    "time_range": {
      "type": "object",
      "properties": {"from": {"type": "string"}, "to": {"type": "string"}}
    },
    "source_keys": {"type": "array", "items": {"type": "string"}},
    "filters": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "source": {"type": "string"},
          "column": {"type": "string"},
          "operator": {"type": "string", "enum": ["=", ">", ">=", "<", "<=", "like"]},
          "value": {"type": ["string", "number", "boolean"]}
        },
        "required": ["column", "operator", "value"]
      }
    },
    "limit": {"type": "integer", "description": "Rows per source, default 50, at most 200"}
  }
}`)
}

func (t *getUserDataTool) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	userID, err := userFrom(ctx)
	if err != nil {
		return nil, err
	}
	var args getUserDataArgs
	dec := json.NewDecoder(strings.NewReader(string(params)))
	dec.UseNumber()
	if err := dec.Decode(&args); err != nil {
		return nil, fmt.Errorf("parsing arguments: %w", err)
	}

	keys := args.SourceKeys
	if len(keys) == 0 {
		keys = selectSources(t.data.Registry(), args.Query)
	}

	sources := []sourceRows{}
	skipped := []skippedSource{}
	for _, key := range keys {
		req := datasource.Request{UserID: userID, TimeRange: args.TimeRange, Limit: args.Limit}
		for _, f := range args.Filters {
			if f.Source != "" && f.Source != key {
				continue
			}
			req.Filters = append(req.Filters, datasource.Filter{Column: f.Column, Operator: f.Operator, Value: numberValue(f.Value)})
		}
		rows, err := t.data.Fetch(ctx, key, req)
		if err != nil {
			skipped = append(skipped, skippedSource{Key: key, Error: err.Error()})
			continue
		}
		sources = append(sources, sourceRows{Key: key, Rows: rows})
	}
	return json.Marshal(map[string]any{"sources": sources, "skipped": skipped})
}

// selectSources picks the active sources whose key, name or description
// mentions a word of query, or every active user-scoped source when none do.
func selectSources(r *datasource.Registry, query string) []string {
	words := strings.Fields(strings.ToLower(query))
	var matched, scoped []string
	for _, d := range r.Active() {
		if !d.UserScoped {
			continue
		}
		scoped = append(scoped, d.Key)
		hay := strings.ToLower(d.Key + " " + strings.ReplaceAll(d.Key, "_", " ") + " " + d.Name + " " + d.Description)
		for _, w := range words {
			w = strings.Trim(w, ".,;:!?\"'()")
			if len(w) >= 4 && strings.Contains(hay, strings.TrimSuffix(w, "s")) {
				matched = append(matched, d.Key)
				break
			}
		}
	}
	if len(matched) > 0 {
		return matched
	}
	return scoped
}

// numberValue converts json.Number into an int64 or float64 bind value.
func numberValue(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

// --- search_documents ---

type searchDocumentsTool struct {
	docs DocumentSearcher
}

type searchDocumentsArgs struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

func (t *searchDocumentsTool) Name() string { return NameSearchDocuments }
func (t *searchDocumentsTool) Description() string {
	return "Search the coaching knowledge base (exercise guides, nutrition articles)."
}
func (t *searchDocumentsTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "minLength": 1},
    "k": {"type": "integer", "description": "Max results, default 5"}
  },
  "required": ["query"]
}`)
}

func (t *searchDocumentsTool) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var args searchDocumentsArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, fmt.Errorf("parsing arguments: %w", err)
	}
	hits, err := t.docs.Search(ctx, args.Query, args.K)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"documents": hits})
}
