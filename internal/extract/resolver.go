package extract

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/IshaanNene/reviewgoat/internal/config"
	"github.com/IshaanNene/reviewgoat/internal/ledger"
)

// Strategy and Chain are declared in config so selector chains load from YAML.
type (
	Strategy = config.Strategy
	Chain    = config.Chain
)

// NotFound is the strategy index reported when a chain is exhausted.
const NotFound = -1

// Ledger event names emitted per strategy attempt.
const (
	EventStrategyHit  = "strategy_hit"
	EventStrategyMiss = "strategy_miss"
)

// Miss reasons.
const (
	ReasonNoMatch         = "no_match"
	ReasonEmpty           = "empty_value"
	ReasonPrefixAbsent    = "prefix_absent"
	ReasonPatternMismatch = "pattern_mismatch"
	ReasonTransform       = "transform_failed"
	ReasonQueryError      = "query_error"
)

// AttemptFunc observes each strategy attempt, e.g. for metrics.
type AttemptFunc func(field string, hit bool)

// Result is the outcome of resolving a chain.
type Result struct {
	Value    string
	Index    int
	Selector string
}

// Found reports whether some strategy produced a valid value.
func (r Result) Found() bool {
	return r.Index != NotFound
}

// Int returns the value as an int, or def when not found or not numeric.
func (r Result) Int(def int) int {
	if !r.Found() {
		return def
	}
	n, err := strconv.Atoi(r.Value)
	if err != nil {
		return def
	}
	return n
}

// Float returns the value as a float64, or def when not found or not numeric.
func (r Result) Float(def float64) float64 {
	if !r.Found() {
		return def
	}
	f, err := strconv.ParseFloat(r.Value, 64)
	if err != nil {
		return def
	}
	return f
}

// String returns the value, or def when not found.
func (r Result) String(def string) string {
	if !r.Found() {
		return def
	}
	return r.Value
}

// Resolver evaluates selector chains against a Node. The first strategy that
// yields a valid value wins; later strategies are not consulted.
type Resolver struct {
	logger    *slog.Logger
	recorder  ledger.Recorder
	onAttempt AttemptFunc

	mu    sync.Mutex
	cache map[string]*regexp.Regexp
}

// NewResolver creates a resolver. recorder may be nil.
func NewResolver(logger *slog.Logger, recorder ledger.Recorder) *Resolver {
	return &Resolver{
		logger:   logger.With("component", "resolver"),
		recorder: recorder,
		cache:    make(map[string]*regexp.Regexp),
	}
}

// OnAttempt registers a hook called after every strategy attempt.
func (r *Resolver) OnAttempt(fn AttemptFunc) {
	r.onAttempt = fn
}

// Resolve returns the value of the first productive strategy in chain, or a
// Result with Index NotFound. It never fails.
func (r *Resolver) Resolve(field string, chain Chain, ctx Node) Result {
	for i, st := range chain {
		values, reason := r.evaluate(st, ctx, false)
		if len(values) == 0 {
			r.emit(field, i, st, false, reason)
			continue
		}
		r.emit(field, i, st, true, "")
		return Result{Value: values[0], Index: i, Selector: st.Selector}
	}
	return Result{Index: NotFound}
}

// ResolveAll returns every valid value of the first productive strategy.
// Matches whose transform fails are skipped rather than failing the strategy.
func (r *Resolver) ResolveAll(field string, chain Chain, ctx Node) ([]string, int) {
	for i, st := range chain {
		values, reason := r.evaluate(st, ctx, true)
		if len(values) == 0 {
			r.emit(field, i, st, false, reason)
			continue
		}
		r.emit(field, i, st, true, "")
		return values, i
	}
	return nil, NotFound
}

// Nodes returns the matches of the first strategy whose selector matches at
// least one node. Transforms are not applied.
func (r *Resolver) Nodes(field string, chain Chain, ctx Node) ([]Node, int) {
	for i, st := range chain {
		nodes, err := ctx.Find(st.Type, st.Selector)
		if err != nil {
			r.logger.Debug("selector query failed", "field", field, "selector", st.Selector, "error", err)
			r.emit(field, i, st, false, ReasonQueryError)
			continue
		}
		if len(nodes) == 0 {
			r.emit(field, i, st, false, ReasonNoMatch)
			continue
		}
		r.emit(field, i, st, true, "")
		return nodes, i
	}
	return nil, NotFound
}

// evaluate runs one strategy. With all unset, only the first match is
// considered, so a later valid match cannot rescue an invalid first one.
func (r *Resolver) evaluate(st Strategy, ctx Node, all bool) ([]string, string) {
	nodes, err := ctx.Find(st.Type, st.Selector)
	if err != nil {
		r.logger.Debug("selector query failed", "selector", st.Selector, "error", err)
		return nil, ReasonQueryError
	}
	if len(nodes) == 0 {
		return nil, ReasonNoMatch
	}

	switch st.Transform {
	case TransformCount:
		return []string{strconv.Itoa(len(nodes))}, ""
	case TransformExists:
		return []string{"true"}, ""
	}

	if !all {
		nodes = nodes[:1]
	}

	var values []string
	reason := ReasonEmpty
	for _, n := range nodes {
		v, why := r.value(st, n)
		if why != "" {
			reason = why
			continue
		}
		values = append(values, v)
	}
	return values, reason
}

// value extracts and normalizes the value of a single matched node.
func (r *Resolver) value(st Strategy, n Node) (string, string) {
	var raw string
	switch st.Attribute {
	case "", "text":
		raw = n.Text()
	case "html", "outerHTML":
		raw = n.HTML()
	default:
		raw, _ = n.Attr(st.Attribute)
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ReasonEmpty
	}

	if st.TrimPrefix != "" {
		if !strings.HasPrefix(raw, st.TrimPrefix) {
			return "", ReasonPrefixAbsent
		}
		raw = strings.TrimSpace(strings.TrimPrefix(raw, st.TrimPrefix))
		if raw == "" {
			return "", ReasonEmpty
		}
	}

	if st.Pattern != "" {
		re, err := r.compile(st.Pattern)
		if err != nil {
			r.logger.Warn("invalid pattern", "pattern", st.Pattern, "error", err)
			return "", ReasonPatternMismatch
		}
		m := re.FindStringSubmatch(raw)
		switch {
		case m == nil:
			return "", ReasonPatternMismatch
		case len(m) > 1:
			raw = m[1]
		default:
			raw = m[0]
		}
	}

	v, err := applyTransform(st.Transform, raw, st.Currency)
	if err != nil {
		return "", ReasonTransform
	}
	return v, ""
}

func (r *Resolver) emit(field string, index int, st Strategy, hit bool, reason string) {
	if r.onAttempt != nil {
		r.onAttempt(field, hit)
	}
	if r.recorder == nil {
		return
	}

	step := EventStrategyMiss
	desc := fmt.Sprintf("%s: strategy %d missed (%s)", field, index, reason)
	extra := map[string]any{
		"field":    field,
		"index":    index,
		"selector": st.Selector,
	}
	if hit {
		step = EventStrategyHit
		desc = fmt.Sprintf("%s: strategy %d matched", field, index)
	} else {
		extra["reason"] = reason
	}
	r.recorder.Record(step, desc, extra)
}

// compile returns a cached compiled regex or compiles and caches a new one.
func (r *Resolver) compile(pattern string) (*regexp.Regexp, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if re, ok := r.cache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	r.cache[pattern] = re
	return re, nil
}
