// Package selector evaluates CouchDB-style rich queries against ledger values
// for adapters whose storage engine cannot run them natively.
package selector

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
	lru "github.com/hashicorp/golang-lru/v2"

	"bloodledger/pkg/domain"
)

// DefaultCacheSize bounds the number of compiled queries kept by the default compiler.
const DefaultCacheSize = 256

// Program is a compiled query. It is safe for concurrent use.
type Program struct {
	query      string
	expression string
	program    *exprvm.Program
	params     []any
	regexes    []*regexp.Regexp
	equalities map[string]any
	keyPrefix  string
}

// Compiler compiles queries and caches the resulting programs by query text.
type Compiler struct {
	cache *lru.Cache[string, *Program]
}

// NewCompiler returns a compiler caching up to size programs.
func NewCompiler(size int) (*Compiler, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, *Program](size)
	if err != nil {
		return nil, fmt.Errorf("selector cache: %w", err)
	}
	return &Compiler{cache: cache}, nil
}

var (
	defaultOnce     sync.Once
	defaultCompiler *Compiler
)

// Compile compiles query with the shared default compiler.
func Compile(query string) (*Program, error) {
	defaultOnce.Do(func() {
		c, err := NewCompiler(DefaultCacheSize)
		if err != nil {
			panic(err)
		}
		defaultCompiler = c
	})
	return defaultCompiler.Compile(query)
}

// Compile parses query and returns its program, reusing a cached one when possible.
func (c *Compiler) Compile(query string) (*Program, error) {
	if cached, ok := c.cache.Get(query); ok {
		return cached, nil
	}
	p, err := compile(query)
	if err != nil {
		return nil, err
	}
	c.cache.Add(query, p)
	return p, nil
}

// Len reports the number of cached programs.
func (c *Compiler) Len() int { return c.cache.Len() }

func compile(query string) (*Program, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(query), &doc); err != nil {
		return nil, fmt.Errorf("selector: parse query: %w", err)
	}
	raw, ok := doc["selector"]
	if !ok {
		return nil, fmt.Errorf("selector: query has no selector")
	}
	root, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("selector: selector must be an object, got %T", raw)
	}
	p := &Program{query: query, equalities: map[string]any{}}
	expression, err := p.node(root)
	if err != nil {
		return nil, err
	}
	regexes := p.regexes
	program, err := exprlang.Compile(expression,
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
		exprlang.Function("regex", func(args ...any) (any, error) {
			idx, ok := args[0].(int)
			if !ok || idx < 0 || idx >= len(regexes) {
				return nil, fmt.Errorf("regex index %v out of range", args[0])
			}
			s, _ := args[1].(string)
			return regexes[idx].MatchString(s), nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("selector: compile %q: %w", expression, err)
	}
	p.expression = expression
	p.program = program
	return p, nil
}

// node translates one selector object into an expr conjunction.
func (p *Program) node(sel map[string]any) (string, error) {
	fields := make([]string, 0, len(sel))
	for f := range sel {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	clauses := make([]string, 0, len(fields))
	for _, field := range fields {
		value := sel[field]
		if field == "$and" {
			items, ok := value.([]any)
			if !ok {
				return "", fmt.Errorf("selector: $and expects an array, got %T", value)
			}
			for _, item := range items {
				sub, ok := item.(map[string]any)
				if !ok {
					return "", fmt.Errorf("selector: $and element must be an object, got %T", item)
				}
				clause, err := p.node(sub)
				if err != nil {
					return "", err
				}
				clauses = append(clauses, "("+clause+")")
			}
			continue
		}
		if strings.HasPrefix(field, "$") {
			return "", fmt.Errorf("selector: unsupported operator %q", field)
		}
		clause, err := p.field(field, value)
		if err != nil {
			return "", err
		}
		clauses = append(clauses, clause)
	}
	if len(clauses) == 0 {
		return "true", nil
	}
	return strings.Join(clauses, " && "), nil
}

func (p *Program) field(field string, value any) (string, error) {
	ops, isOps := value.(map[string]any)
	if !isOps {
		return p.equality(field, value)
	}
	names := make([]string, 0, len(ops))
	for op := range ops {
		names = append(names, op)
	}
	sort.Strings(names)
	clauses := make([]string, 0, len(ops))
	for _, op := range names {
		switch op {
		case "$eq":
			clause, err := p.equality(field, ops[op])
			if err != nil {
				return "", err
			}
			clauses = append(clauses, clause)
		case "$regex":
			pattern, ok := ops[op].(string)
			if !ok {
				return "", fmt.Errorf("selector: $regex on %q expects a string", field)
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return "", fmt.Errorf("selector: $regex on %q: %w", field, err)
			}
			p.regexes = append(p.regexes, re)
			idx := len(p.regexes) - 1
			if field == domain.IDField {
				if prefix, _ := re.LiteralPrefix(); strings.HasPrefix(pattern, "^") && len(prefix) > len(p.keyPrefix) {
					p.keyPrefix = prefix
				}
				clauses = append(clauses, fmt.Sprintf("regex(%d, key)", idx))
				continue
			}
			clauses = append(clauses, fmt.Sprintf("regex(%d, %s)", idx, p.lookup(field)))
		default:
			return "", fmt.Errorf("selector: unsupported operator %q on %q", op, field)
		}
	}
	if len(clauses) == 0 {
		return "true", nil
	}
	return strings.Join(clauses, " && "), nil
}

func (p *Program) equality(field string, value any) (string, error) {
	switch value.(type) {
	case nil, string, bool, float64:
	default:
		return "", fmt.Errorf("selector: field %q must compare against a scalar, got %T", field, value)
	}
	if field == domain.IDField {
		return fmt.Sprintf("key == %s", p.param(value)), nil
	}
	p.equalities[field] = value
	return fmt.Sprintf("%s == %s", p.lookup(field), p.param(value)), nil
}

// lookup reads field from the decoded document. Field names travel as
// parameters so they never need quoting inside the expression.
func (p *Program) lookup(field string) string {
	return "doc[" + p.param(field) + "]"
}

func (p *Program) param(v any) string {
	p.params = append(p.params, v)
	return fmt.Sprintf("params[%d]", len(p.params)-1)
}

// Match reports whether the entry stored under key with value satisfies the query.
// Values that are not JSON objects never match.
func (p *Program) Match(key string, value []byte) (bool, error) {
	var doc map[string]any
	if err := json.Unmarshal(value, &doc); err != nil || doc == nil {
		return false, nil
	}
	out, err := exprlang.Run(p.program, map[string]any{
		"doc":    doc,
		"key":    key,
		"params": p.params,
	})
	if err != nil {
		return false, fmt.Errorf("selector: evaluate %q: %w", p.expression, err)
	}
	matched, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("selector: %q evaluated to %T", p.expression, out)
	}
	return matched, nil
}

// Equalities returns the attribute equalities every match must satisfy.
// Storage engines with native JSON containment use them to narrow a scan.
func (p *Program) Equalities() map[string]any {
	out := make(map[string]any, len(p.equalities))
	for k, v := range p.equalities {
		out[k] = v
	}
	return out
}

// KeyPrefix returns the literal prefix every matching key starts with, if the
// query anchors the key with a regex.
func (p *Program) KeyPrefix() string { return p.keyPrefix }

// Query returns the source text of the program.
func (p *Program) Query() string { return p.query }
