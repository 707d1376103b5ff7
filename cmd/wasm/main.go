//go:build js && wasm

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"syscall/js"

	"github.com/hack-pad/hackpadfs/indexeddb"
	"github.com/kittclouds/annokitt/internal/api"
	"github.com/kittclouds/annokitt/internal/config"
	"github.com/kittclouds/annokitt/internal/diag"
	"github.com/kittclouds/annokitt/internal/session"
	"github.com/kittclouds/annokitt/internal/store"
	"github.com/kittclouds/annokitt/pkg/concept"
	"github.com/kittclouds/annokitt/pkg/suggest"
	"github.com/kittclouds/annokitt/pkg/vector"
)

// Version info
const Version = "0.1.0"

// Global state
var sess *session.Session
var proposer = suggest.New(nil)

func main() {
	println("[annokitt] WASM Ready v" + Version)

	js.Global().Set("AnnoKitt", js.ValueOf(map[string]interface{}{
		"version":   js.FuncOf(getVersion),
		"configure": js.FuncOf(configure),

		// Navigation (async)
		"open":     js.FuncOf(open),
		"next":     js.FuncOf(next),
		"previous": js.FuncOf(previous),
		"current":  js.FuncOf(current),
		"objects":  js.FuncOf(objects),

		// Editor
		"select":              js.FuncOf(selectObject),
		"newObject":           js.FuncOf(newObject),
		"editor":              js.FuncOf(editor),
		"editText":            js.FuncOf(editText),
		"addConcept":          js.FuncOf(addConcept),
		"removeConcept":       js.FuncOf(removeConcept),
		"selectConcept":       js.FuncOf(selectConcept),
		"toggleConcept":       js.FuncOf(toggleConcept),
		"setConceptBox":       js.FuncOf(setConceptBox),
		"setConceptEmbedding": js.FuncOf(setConceptEmbedding),
		"save":                js.FuncOf(save),
		"deleteObject":        js.FuncOf(deleteObject),
		"similar":             js.FuncOf(similar),
		"close":               js.FuncOf(closeSession),

		// Stateless helpers
		"buildRanges": js.FuncOf(buildRanges),
		"joinTokens":  js.FuncOf(joinTokens),
		"propose":     js.FuncOf(propose),
	}))

	select {}
}

func getVersion(this js.Value, args []js.Value) interface{} {
	return Version
}

// configure: [configJSON string]
// Builds the session. The feature index lives in IndexedDB; records are
// mirrored in memory for the page's lifetime.
func configure(this js.Value, args []js.Value) interface{} {
	raw := "{}"
	if len(args) > 0 && args[0].Type() == js.TypeString {
		raw = args[0].String()
	}
	return promise(func() (interface{}, error) {
		loaded, err := config.LoadJSON("", []byte(raw))
		if err != nil {
			return nil, err
		}
		cfg := config.Merge(config.Defaults(), loaded)
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
		logger := diag.NewLogger(cfg.Logging)

		var client *api.Client
		if cfg.Window.Mode != config.ModeOffline {
			client, err = api.New(api.Options{
				BaseURL:           cfg.API.BaseURL,
				Token:             cfg.API.Token,
				TimeoutSeconds:    cfg.API.TimeoutSeconds,
				RequestsPerSecond: cfg.API.RequestsPerSecond,
				Logger:            logger,
			})
			if err != nil {
				return nil, err
			}
		}

		if cfg.Vectors.Backend == config.BackendSQLite {
			logger.Warn("sqlite feature index unavailable in the browser; using IndexedDB")
		}
		fs, err := indexeddb.NewFS(context.Background(), "annokitt", indexeddb.Options{})
		if err != nil {
			return nil, fmt.Errorf("failed to create idb fs: %w", err)
		}
		vectors, err := vector.NewStore(fs, cfg.Vectors.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to load feature index: %w", err)
		}

		if sess != nil {
			sess.Close()
		}
		sess, err = session.New(session.Deps{
			API:     client,
			Store:   store.NewMemStore(),
			Vectors: vectors,
			Logger:  logger,
		}, cfg)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"mode": cfg.Window.Mode, "capacity": cfg.Window.Capacity}, nil
	})
}

// =============================================================================
// Navigation
// =============================================================================

// open: [projectID string, docID string?]
func open(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult("requires 1 arg: projectID (string)")
	}
	if sess == nil {
		return errorResult("not configured")
	}
	projectID := args[0].String()
	docID := ""
	if len(args) > 1 && args[1].Type() == js.TypeString {
		docID = args[1].String()
	}
	return promise(func() (interface{}, error) {
		return sess.Open(context.Background(), projectID, docID)
	})
}

type stepResult struct {
	Document *store.Document    `json:"document"`
	OK       bool               `json:"ok"`
	Objects  []store.Annotation `json:"objects"`
}

func next(this js.Value, args []js.Value) interface{} {
	return stepPromise(true)
}

func previous(this js.Value, args []js.Value) interface{} {
	return stepPromise(false)
}

func stepPromise(forward bool) interface{} {
	if sess == nil {
		return errorResult("not configured")
	}
	return promise(func() (interface{}, error) {
		step := sess.Previous
		if forward {
			step = sess.Next
		}
		doc, ok, err := step(context.Background())
		if err != nil {
			return nil, err
		}
		res := stepResult{OK: ok, Objects: sess.Objects()}
		if ok {
			res.Document = &doc
		}
		return res, nil
	})
}

func current(this js.Value, args []js.Value) interface{} {
	if sess == nil {
		return errorResult("not configured")
	}
	doc, ok := sess.Current()
	if !ok {
		return jsonResult(nil)
	}
	return jsonResult(doc)
}

func objects(this js.Value, args []js.Value) interface{} {
	if sess == nil {
		return errorResult("not configured")
	}
	return jsonResult(sess.Objects())
}

// =============================================================================
// Editor
// =============================================================================

// select: [annotationID string]
func selectObject(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult("requires 1 arg: annotationID (string)")
	}
	if sess == nil {
		return errorResult("not configured")
	}
	return editorResult(sess.Select(args[0].String()))
}

// newObject: [label string, boxJSON string]
func newObject(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return errorResult("requires 2 args: label (string), boxJSON (string)")
	}
	if sess == nil {
		return errorResult("not configured")
	}
	var box concept.BoundingBox
	if err := json.Unmarshal([]byte(args[1].String()), &box); err != nil {
		return errorResult("invalid box json: " + err.Error())
	}
	return editorResult(sess.NewObject(args[0].String(), box))
}

func editor(this js.Value, args []js.Value) interface{} {
	if sess == nil {
		return errorResult("not configured")
	}
	return editorState()
}

// editText: [text string]
func editText(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult("requires 1 arg: text (string)")
	}
	if sess == nil {
		return errorResult("not configured")
	}
	return editorResult(sess.EditText(args[0].String()))
}

// addConcept: [markA int, markB int]
func addConcept(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return errorResult("requires 2 args: markA (int), markB (int)")
	}
	if sess == nil {
		return errorResult("not configured")
	}
	if _, err := sess.AddConcept(args[0].Int(), args[1].Int()); err != nil {
		return errorResult(err.Error())
	}
	return editorState()
}

// removeConcept: [index int]
func removeConcept(this js.Value, args []js.Value) interface{} {
	return indexOp(args, sess.RemoveConcept)
}

// selectConcept: [index int] (-1 clears)
func selectConcept(this js.Value, args []js.Value) interface{} {
	return indexOp(args, sess.SelectConcept)
}

// toggleConcept: [index int]
func toggleConcept(this js.Value, args []js.Value) interface{} {
	return indexOp(args, sess.ToggleConcept)
}

// setConceptBox: [index int, boxJSON string|null]
func setConceptBox(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return errorResult("requires 2 args: index (int), boxJSON (string|null)")
	}
	var box *concept.BoundingBox
	if args[1].Type() == js.TypeString {
		box = &concept.BoundingBox{}
		if err := json.Unmarshal([]byte(args[1].String()), box); err != nil {
			return errorResult("invalid box json: " + err.Error())
		}
	}
	return indexOp(args, func(i int) error { return sess.SetConceptBox(i, box) })
}

// setConceptEmbedding: [index int, vectorJSON string]
func setConceptEmbedding(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return errorResult("requires 2 args: index (int), vectorJSON (string)")
	}
	var vec []float32
	if err := json.Unmarshal([]byte(args[1].String()), &vec); err != nil {
		return errorResult("invalid vector json: " + err.Error())
	}
	return indexOp(args, func(i int) error { return sess.SetConceptEmbedding(i, vec) })
}

func indexOp(args []js.Value, fn func(int) error) interface{} {
	if len(args) < 1 {
		return errorResult("requires 1 arg: index (int)")
	}
	if sess == nil {
		return errorResult("not configured")
	}
	if err := fn(args[0].Int()); err != nil {
		return errorResult(err.Error())
	}
	return editorState()
}

func save(this js.Value, args []js.Value) interface{} {
	if sess == nil {
		return errorResult("not configured")
	}
	return promise(func() (interface{}, error) {
		return sess.Save(context.Background())
	})
}

// deleteObject: [annotationID string]
func deleteObject(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult("requires 1 arg: annotationID (string)")
	}
	if sess == nil {
		return errorResult("not configured")
	}
	id := args[0].String()
	return promise(func() (interface{}, error) {
		if err := sess.DeleteObject(context.Background(), id); err != nil {
			return nil, err
		}
		return map[string]string{"success": "deleted"}, nil
	})
}

// similar: [vectorJSON string, k int]
// Returns: JSON array of concept IDs
func similar(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return errorResult("requires 2 args: vectorJSON (string), k (int)")
	}
	if sess == nil {
		return errorResult("not configured")
	}
	var vec []float32
	if err := json.Unmarshal([]byte(args[0].String()), &vec); err != nil {
		return errorResult("invalid vector json: " + err.Error())
	}
	ids, err := sess.Similar(vec, args[1].Int())
	if err != nil {
		return errorResult("search failed: " + err.Error())
	}
	return jsonResult(ids)
}

func closeSession(this js.Value, args []js.Value) interface{} {
	if sess != nil {
		sess.Close()
	}
	return successResult("closed")
}

// =============================================================================
// Stateless helpers
// =============================================================================

// buildRanges: [tokensJSON string, maskJSON string]
func buildRanges(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return errorResult("requires 2 args: tokensJSON (string), maskJSON (string)")
	}
	var tokens []string
	if err := json.Unmarshal([]byte(args[0].String()), &tokens); err != nil {
		return errorResult("tokens json: " + err.Error())
	}
	var mask []int
	if err := json.Unmarshal([]byte(args[1].String()), &mask); err != nil {
		return errorResult("mask json: " + err.Error())
	}
	ranges, substrings := concept.BuildRanges(tokens, mask)
	return jsonResult(map[string]interface{}{"ranges": ranges, "substrings": substrings})
}

// joinTokens: [tokensJSON string]
func joinTokens(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult("requires 1 arg: tokensJSON (string)")
	}
	var tokens []string
	if err := json.Unmarshal([]byte(args[0].String()), &tokens); err != nil {
		return errorResult("tokens json: " + err.Error())
	}
	return concept.JoinTokens(tokens)
}

// propose: [text string]
// Chunk-only proposal, without the project vocabulary.
func propose(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult("requires 1 arg: text (string)")
	}
	return jsonResult(proposer.Propose(args[0].String()))
}

// =============================================================================
// Result helpers
// =============================================================================

// promise runs fn off the event loop. Blocking calls (fetch, IndexedDB)
// would deadlock if made from the callback goroutine.
func promise(fn func() (interface{}, error)) interface{} {
	executor := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		resolve, reject := args[0], args[1]
		go func() {
			out, err := fn()
			if err != nil {
				reject.Invoke(errorResult(err.Error()))
				return
			}
			resolve.Invoke(jsonResult(out))
		}()
		return nil
	})
	p := js.Global().Get("Promise").New(executor)
	executor.Release()
	return p
}

func editorResult(ed session.Editor, err error) interface{} {
	if err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(ed)
}

func editorState() interface{} {
	ed, ok := sess.Editor()
	if !ok {
		return jsonResult(nil)
	}
	return jsonResult(ed)
}

func jsonResult(v interface{}) interface{} {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return errorResult("encode: " + err.Error())
	}
	return string(jsonBytes)
}

// Helper: Create error result
func errorResult(msg string) interface{} {
	result := map[string]interface{}{
		"error": msg,
	}
	jsonBytes, _ := json.Marshal(result)
	return string(jsonBytes)
}

// Helper: Create success result
func successResult(msg string) interface{} {
	result := map[string]interface{}{
		"success": msg,
	}
	jsonBytes, _ := json.Marshal(result)
	return string(jsonBytes)
}
