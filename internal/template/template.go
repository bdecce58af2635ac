// Package template implements the {{var}} substitution engine (spec
// §4.6). It is a dedicated token scanner rather than text/template: the
// spec's cardinality-expansion rule (only the first multi-valued
// variable expands; a second multi-valued variable is pinned to its
// first/only value, §9 "documented limitation") requires resolving each
// variable to a value sequence before substitution, which text/template
// cannot express — it substitutes scalars into a single execution pass.
//
// The overall shape (parse tokens, resolve each to a value, join) is
// grounded on source/fqdn/fqdn.go's templating concept in the teacher
// repo, generalized from Kubernetes-object field access to the
// machine/selector/CIDR variable namespace this spec defines.
package template

import (
	"regexp"
	"strings"

	"github.com/meshdns-controller/meshdns-controller/internal/cidr"
	"github.com/meshdns-controller/meshdns-controller/internal/selector"
)

var tokenPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.$,-]+)\s*\}\}`)

// Context is the per-(machine, captures) evaluation context a template
// is rendered against.
type Context struct {
	MachineName  string
	TailscaleIP  string
	Tags         []string
	Captures     selector.Captures
	EndpointIPs  []string // all matched IPv4 endpoint addresses, in machine order
	NamedLists   map[string]*cidr.List
	RawEndpoints []string // raw machine endpoint strings, for cidr.* resolution
}

// token is one {{...}} occurrence: its raw text and variable name.
type token struct {
	raw  string
	name string
}

// Template is a parsed template string, ready to be evaluated repeatedly
// against different contexts.
type Template struct {
	raw    string
	tokens []token
}

// Parse scans raw for {{identifier}} tokens. It never errors: an
// unparseable or unknown identifier simply resolves to an empty sequence
// at evaluation time, which suppresses the record (spec §4.6 step 2).
func Parse(raw string) *Template {
	matches := tokenPattern.FindAllStringSubmatchIndex(raw, -1)
	t := &Template{raw: raw}
	for _, m := range matches {
		name := raw[m[2]:m[3]]
		t.tokens = append(t.tokens, token{raw: raw[m[0]:m[1]], name: name})
	}
	return t
}

// resolve returns the value sequence for one variable identifier.
func resolve(name string, ctx *Context) []string {
	switch {
	case name == "machineName":
		if ctx.MachineName == "" {
			return nil
		}
		return []string{ctx.MachineName}
	case name == "tailscaleIP":
		if ctx.TailscaleIP == "" {
			return nil
		}
		return []string{ctx.TailscaleIP}
	case name == "tags":
		if len(ctx.Tags) == 0 {
			return nil
		}
		return []string{strings.Join(ctx.Tags, ",")}
	case strings.HasPrefix(name, "cidr."):
		return resolveCIDR(strings.TrimPrefix(name, "cidr."), ctx)
	default:
		if v, ok := ctx.Captures[strings.TrimPrefix(name, "$")]; ok {
			if v == "" {
				return nil
			}
			return []string{v}
		}
		return nil
	}
}

func resolveCIDR(listSpec string, ctx *Context) []string {
	names := strings.Split(listSpec, ",")
	lists := make([]*cidr.List, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if l, ok := ctx.NamedLists[n]; ok {
			lists = append(lists, l)
		}
	}
	if len(lists) == 0 {
		return nil
	}
	ips := cidr.ExtractEndpointIPs(ctx.RawEndpoints, nil)
	selected := cidr.SelectUnion(ips, lists)
	if len(selected) == 0 {
		return nil
	}
	out := make([]string, len(selected))
	for i, ip := range selected {
		out[i] = ip.String()
	}
	return out
}

// Eval renders t against ctx, returning the sequence of result strings
// per spec §4.6 steps 2-4:
//   - if any variable resolves empty, the template yields no results
//   - if exactly one variable is multi-valued, the template expands once
//     per value of that variable, other variables taking their first value
//   - if more than one variable is multi-valued, only the first
//     encountered (in token order) expands; the rest are pinned to their
//     first value (documented limitation, pinned by test)
//   - otherwise, a single result is produced
func (t *Template) Eval(ctx *Context) []string {
	if len(t.tokens) == 0 {
		return []string{t.raw}
	}

	resolved := make(map[string][]string, len(t.tokens))
	for _, tok := range t.tokens {
		if _, ok := resolved[tok.name]; ok {
			continue
		}
		vals := resolve(tok.name, ctx)
		if len(vals) == 0 {
			return nil
		}
		resolved[tok.name] = vals
	}

	expandName := ""
	for _, tok := range t.tokens {
		if len(resolved[tok.name]) > 1 {
			expandName = tok.name
			break
		}
	}

	var cardinality int
	if expandName == "" {
		cardinality = 1
	} else {
		cardinality = len(resolved[expandName])
	}

	results := make([]string, 0, cardinality)
	for i := 0; i < cardinality; i++ {
		results = append(results, t.substitute(func(name string) string {
			vals := resolved[name]
			if name == expandName {
				return vals[i]
			}
			return vals[0]
		}))
	}
	return results
}

func (t *Template) substitute(value func(name string) string) string {
	out := t.raw
	for _, tok := range t.tokens {
		out = strings.Replace(out, tok.raw, value(tok.name), 1)
	}
	return out
}
