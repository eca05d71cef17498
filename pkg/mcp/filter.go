package mcp

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// toolFilter applies a server's allow and deny patterns to tool names.
// Deny wins. An empty allow list allows everything not denied.
type toolFilter struct {
	allow []string
	deny  []string
}

// newToolFilter validates the patterns. It returns nil when there is nothing
// to filter; a nil *toolFilter allows every tool.
func newToolFilter(allow, deny []string) (*toolFilter, error) {
	if len(allow) == 0 && len(deny) == 0 {
		return nil, nil
	}
	for _, p := range append(append([]string(nil), allow...), deny...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid tool pattern %q", p)
		}
	}
	return &toolFilter{allow: allow, deny: deny}, nil
}

func (f *toolFilter) allowed(name string) bool {
	if f == nil {
		return true
	}
	if matchAny(f.deny, name) {
		return false
	}
	return len(f.allow) == 0 || matchAny(f.allow, name)
}

// apply returns the tools that pass the filter, preserving order.
func (f *toolFilter) apply(tools []ToolInfo) []ToolInfo {
	if f == nil {
		return tools
	}
	out := make([]ToolInfo, 0, len(tools))
	for _, t := range tools {
		if f.allowed(t.Name) {
			out = append(out, t)
		}
	}
	return out
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}
