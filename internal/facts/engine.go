package facts

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"domkit-mcp-server/internal/config"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
	"go.uber.org/zap"
)

//go:embed schema.mg
var defaultSchema string

// ErrNotReady is returned by queries when the engine is disabled or has no program.
var ErrNotReady = errors.New("engine not ready")

// Fact is one ground atom recorded from an extraction or overlay result.
type Fact struct {
	Predicate string        `json:"predicate"`
	Args      []interface{} `json:"args"`
	Timestamp time.Time     `json:"timestamp"`
}

// QueryResult binds query variables to values.
type QueryResult map[string]interface{}

// Engine wraps a Mangle program and store with a bounded fact buffer.
type Engine struct {
	cfg    config.FactsConfig
	logger *zap.Logger

	mu           sync.RWMutex
	schemaLoaded bool
	programInfo  *analysis.ProgramInfo
	source       string
	store        factstore.FactStore

	// facts is the authoritative buffer; the store is rebuilt from it on trim.
	facts []Fact
	index map[string][]int
}

// NewEngine builds an engine with the built-in element schema, extended by
// cfg.SchemaPath when set.
func NewEngine(cfg config.FactsConfig, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:    cfg,
		logger: logger.Named("facts"),
		facts:  make([]Fact, 0, cfg.FactBufferLimit),
		index:  make(map[string][]int),
		store:  factstore.NewSimpleInMemoryStore(),
	}
	if !cfg.Enable {
		return e, nil
	}
	if cfg.SchemaPath != "" {
		if err := e.LoadSchema(cfg.SchemaPath); err != nil {
			return nil, err
		}
		return e, nil
	}
	if err := e.loadSource(defaultSchema); err != nil {
		return nil, fmt.Errorf("built-in schema: %w", err)
	}
	return e, nil
}

// LoadSchema reads a Mangle file and analyzes it together with the built-in schema.
func (e *Engine) LoadSchema(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	return e.loadSource(defaultSchema + "\n" + string(data))
}

func (e *Engine) loadSource(src string) error {
	unit, err := parse.Unit(strings.NewReader(src))
	if err != nil {
		return fmt.Errorf("parse schema: %w", err)
	}
	programInfo, err := analysis.AnalyzeOneUnit(unit, make(map[ast.PredicateSym]ast.Decl))
	if err != nil {
		return fmt.Errorf("analyze schema: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.programInfo = programInfo
	e.source = src
	e.schemaLoaded = true
	e.logger.Debug("schema loaded", zap.Int("rules", len(programInfo.Rules)), zap.Int("decls", len(programInfo.Decls)))
	return nil
}

// AddRule appends clauses to the program. The combined source is analyzed
// again so new rules take part in evaluation.
func (e *Engine) AddRule(ruleSource string) error {
	if !e.cfg.Enable {
		return nil
	}
	if _, err := parse.Unit(bytes.NewReader([]byte(ruleSource))); err != nil {
		return fmt.Errorf("parse rule: %w", err)
	}

	e.mu.RLock()
	src := e.source
	e.mu.RUnlock()
	if err := e.loadSource(src + "\n" + ruleSource); err != nil {
		return fmt.Errorf("add rule: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.evalLocked()
}

// AddFacts appends facts to the buffer and store, trimming the oldest past
// the buffer limit, and re-derives rule heads.
func (e *Engine) AddFacts(ctx context.Context, facts []Fact) error {
	if !e.cfg.Enable || len(facts) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	base := len(e.facts)
	e.facts = append(e.facts, facts...)
	if e.cfg.FactBufferLimit > 0 && len(e.facts) > e.cfg.FactBufferLimit {
		trim := len(e.facts) - e.cfg.FactBufferLimit
		e.facts = e.facts[trim:]
		e.logger.Debug("fact buffer trimmed", zap.Int("dropped", trim))
		e.rebuildLocked()
	} else {
		for i, f := range facts {
			e.index[f.Predicate] = append(e.index[f.Predicate], base+i)
			e.store.Add(factToAtom(f))
		}
	}
	return e.evalLocked()
}

// Replace drops every fact of predicate whose first argument is session and
// records facts in their place.
func (e *Engine) Replace(ctx context.Context, session, predicate string, facts []Fact) error {
	if !e.cfg.Enable {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.facts[:0]
	for _, f := range e.facts {
		if f.Predicate == predicate && len(f.Args) > 0 && f.Args[0] == session {
			continue
		}
		kept = append(kept, f)
	}
	e.facts = append(kept, facts...)
	if e.cfg.FactBufferLimit > 0 && len(e.facts) > e.cfg.FactBufferLimit {
		e.facts = e.facts[len(e.facts)-e.cfg.FactBufferLimit:]
	}
	e.rebuildLocked()
	return e.evalLocked()
}

// Forget drops every fact recorded for a session.
func (e *Engine) Forget(session string) {
	if !e.cfg.Enable {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.facts[:0]
	for _, f := range e.facts {
		if len(f.Args) > 0 && f.Args[0] == session {
			continue
		}
		kept = append(kept, f)
	}
	e.facts = kept
	e.rebuildLocked()
	if err := e.evalLocked(); err != nil {
		e.logger.Warn("re-evaluation after forget failed", zap.String("session", session), zap.Error(err))
	}
}

func (e *Engine) evalLocked() error {
	if !e.schemaLoaded || e.programInfo == nil {
		return nil
	}
	if err := engine.EvalProgram(e.programInfo, e.store); err != nil {
		return fmt.Errorf("eval program: %w", err)
	}
	return nil
}

// Query runs a single-atom query such as `fillable(S, A).` and returns one
// binding per matching fact, base or derived.
func (e *Engine) Query(ctx context.Context, queryStr string) ([]QueryResult, error) {
	if !e.cfg.Enable || !e.schemaLoaded {
		return nil, ErrNotReady
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src := strings.TrimSpace(queryStr)
	if src != "" && !strings.HasSuffix(src, ".") {
		src += "."
	}
	unit, err := parse.Unit(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	if len(unit.Clauses) == 0 {
		return nil, fmt.Errorf("no query found")
	}
	queryAtom := unit.Clauses[0].Head

	e.mu.RLock()
	defer e.mu.RUnlock()

	results := make([]QueryResult, 0)
	err = e.store.GetFacts(queryAtom, func(atom ast.Atom) error {
		if !matchesConstants(queryAtom.Args, atom.Args) {
			return nil
		}
		result := make(QueryResult)
		for i, arg := range queryAtom.Args {
			if i >= len(atom.Args) {
				break
			}
			if v, ok := arg.(ast.Variable); ok && v.Symbol != "_" {
				result[v.Symbol] = convertConstant(atom.Args[i])
			}
		}
		results = append(results, result)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}

	// Base facts whose arity the store does not match still live in the buffer.
	if len(results) == 0 {
		results = append(results, e.queryBuffer(queryAtom.Predicate.Symbol, queryAtom.Args)...)
	}
	return results, nil
}

func matchesConstants(query, args []ast.BaseTerm) bool {
	for i, q := range query {
		c, ok := q.(ast.Constant)
		if !ok || i >= len(args) {
			continue
		}
		if fmt.Sprint(convertConstant(c)) != fmt.Sprint(convertConstant(args[i])) {
			return false
		}
	}
	return true
}

func (e *Engine) queryBuffer(predicate string, queryArgs []ast.BaseTerm) []QueryResult {
	results := make([]QueryResult, 0)
	for _, idx := range e.index[predicate] {
		f := e.facts[idx]
		if len(f.Args) < len(queryArgs) {
			continue
		}

		result := make(QueryResult)
		matches := true
		for i, q := range queryArgs {
			switch arg := q.(type) {
			case ast.Variable:
				if arg.Symbol != "_" {
					result[arg.Symbol] = f.Args[i]
				}
			case ast.Constant:
				if fmt.Sprint(f.Args[i]) != fmt.Sprint(convertConstant(arg)) {
					matches = false
				}
			}
			if !matches {
				break
			}
		}
		if matches {
			results = append(results, result)
		}
	}
	return results
}

// Evaluate returns every fact currently derivable for predicate.
func (e *Engine) Evaluate(ctx context.Context, predicate string) ([]Fact, error) {
	if !e.cfg.Enable || !e.schemaLoaded {
		return nil, ErrNotReady
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.evalLocked(); err != nil {
		return nil, err
	}

	arity := -1
	for sym := range e.programInfo.Decls {
		if sym.Symbol == predicate {
			arity = sym.Arity
			break
		}
	}
	if arity < 0 {
		return nil, fmt.Errorf("unknown predicate %q", predicate)
	}

	args := make([]ast.BaseTerm, arity)
	for i := range args {
		args[i] = ast.Variable{Symbol: fmt.Sprintf("V%d", i)}
	}
	queryAtom := ast.Atom{Predicate: ast.PredicateSym{Symbol: predicate, Arity: arity}, Args: args}

	now := time.Now()
	out := make([]Fact, 0)
	err := e.store.GetFacts(queryAtom, func(atom ast.Atom) error {
		out = append(out, atomToFact(atom, now))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get facts: %w", err)
	}
	return out, nil
}

// FactsByPredicate returns buffered base facts for predicate, oldest first.
func (e *Engine) FactsByPredicate(predicate string) []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()

	indices := e.index[predicate]
	out := make([]Fact, 0, len(indices))
	for _, idx := range indices {
		out = append(out, e.facts[idx])
	}
	return out
}

// Facts returns a copy of the buffer.
func (e *Engine) Facts() []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Fact, len(e.facts))
	copy(out, e.facts)
	return out
}

// Predicates lists the declared predicates and their arities.
func (e *Engine) Predicates() map[string]int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]int)
	if e.programInfo == nil {
		return out
	}
	for sym := range e.programInfo.Decls {
		out[sym.Symbol] = sym.Arity
	}
	return out
}

// Ready reports whether queries can run.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.schemaLoaded || !e.cfg.Enable
}

// Enabled reports whether facts are recorded at all.
func (e *Engine) Enabled() bool {
	return e.cfg.Enable
}

// rebuildLocked recreates the index and store from the buffer.
func (e *Engine) rebuildLocked() {
	e.index = make(map[string][]int)
	e.store = factstore.NewSimpleInMemoryStore()
	for i, f := range e.facts {
		e.index[f.Predicate] = append(e.index[f.Predicate], i)
		e.store.Add(factToAtom(f))
	}
}

func factToAtom(f Fact) ast.Atom {
	args := make([]ast.BaseTerm, len(f.Args))
	for i, arg := range f.Args {
		args[i] = toConstant(arg)
	}
	return ast.Atom{
		Predicate: ast.PredicateSym{Symbol: f.Predicate, Arity: len(f.Args)},
		Args:      args,
	}
}

func atomToFact(atom ast.Atom, ts time.Time) Fact {
	args := make([]interface{}, len(atom.Args))
	for i, arg := range atom.Args {
		args[i] = convertConstant(arg)
	}
	return Fact{Predicate: atom.Predicate.Symbol, Args: args, Timestamp: ts}
}

func toConstant(v interface{}) ast.Constant {
	switch val := v.(type) {
	case string:
		return ast.String(val)
	case int:
		return ast.Number(int64(val))
	case int64:
		return ast.Number(val)
	case float64:
		return ast.Float64(val)
	case bool:
		return ast.String(boolString(val))
	default:
		return ast.String(fmt.Sprintf("%v", v))
	}
}

func convertConstant(c ast.BaseTerm) interface{} {
	switch term := c.(type) {
	case nil:
		return nil
	case ast.Constant:
		switch term.Type {
		case ast.StringType:
			val, _ := term.StringValue()
			return val
		case ast.NumberType:
			return term.NumberValue
		case ast.Float64Type:
			if val, err := term.Float64Value(); err == nil {
				return val
			}
		}
		return term.String()
	case ast.Variable:
		return term.Symbol
	default:
		return fmt.Sprintf("%v", c)
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
