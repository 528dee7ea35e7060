package core

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Params carries operation arguments such as symbol, interval and limit.
type Params map[string]any

// Canonical renders params as a stable "k=v&k=v" string with keys sorted and
// empty values dropped, so logically identical calls share one cache key.
func (p Params) Canonical() string {
	if len(p) == 0 {
		return ""
	}

	keys := slices.Sorted(maps.Keys(p))

	var b strings.Builder
	for _, k := range keys {
		v := p[k]
		if v == nil {
			continue
		}
		s := fmt.Sprintf("%v", v)
		if s == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(s)
	}
	return b.String()
}

// CacheKey builds the coalescer key for an operation and its params.
func CacheKey(op Operation, params Params) string {
	canonical := params.Canonical()
	if canonical == "" {
		return op.String()
	}
	return op.String() + "?" + canonical
}

// Clone returns a shallow copy of the params.
func (p Params) Clone() Params {
	if p == nil {
		return Params{}
	}
	return maps.Clone(p)
}

// String returns a string param, or "" when absent or not a string.
func (p Params) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Int returns an integer param, accepting numeric strings. def is returned
// when the key is absent or unparsable.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// Request is an exchange call built by a Protocol from an operation and its params.
type Request struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Query   Params            `json:"query,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Signed  bool              `json:"signed"`
}

func NewRequest(method, path string) *Request {
	return &Request{
		Method:  method,
		Path:    path,
		Query:   make(Params),
		Headers: make(map[string]string),
	}
}

func (r *Request) SetQuery(key string, value any) *Request {
	if r.Query == nil {
		r.Query = make(Params)
	}
	r.Query[key] = value
	return r
}

func (r *Request) SetHeader(key, value string) *Request {
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	r.Headers[key] = value
	return r
}

func (r *Request) SetSigned(signed bool) *Request {
	r.Signed = signed
	return r
}

// QueryStrings converts query values to strings for the HTTP layer.
func (r *Request) QueryStrings() map[string]string {
	out := make(map[string]string, len(r.Query))
	for k, v := range r.Query {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}
