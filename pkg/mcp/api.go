package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jg-phare/mcpconn/pkg/transport"
)

// CallTool invokes a tool on the server. A tool excluded by the server's
// allow/deny patterns fails with ErrToolNotAllowed before anything is sent.
// A result with IsError set is returned as a result, not an error.
func (c *Connection) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	t, err := c.connectedTransport()
	if err != nil {
		return nil, err
	}
	if !c.filter.allowed(name) {
		return nil, fmt.Errorf("%w: %s", ErrToolNotAllowed, name)
	}

	c.stats.toolCalls.Add(1)
	c.emit(Event{Type: EventToolCalled, Tool: name, Arguments: args})

	raw, err := c.request(ctx, t, MethodToolsCall, ToolCallParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	var result ToolResult
	if err := decodeResult(raw, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListTools returns every tool the server offers, following pagination,
// minus those excluded by the server's allow/deny patterns.
func (c *Connection) ListTools(ctx context.Context) ([]ToolInfo, error) {
	t, err := c.connectedTransport()
	if err != nil {
		return nil, err
	}
	tools, err := listAll(ctx, c, t, MethodToolsList, func(r ToolsListResult) ([]ToolInfo, string) {
		return r.Tools, r.NextCursor
	})
	if err != nil {
		return nil, err
	}
	return c.filter.apply(tools), nil
}

// ReadResource reads the contents of one resource.
func (c *Connection) ReadResource(ctx context.Context, uri string) (*ResourceReadResult, error) {
	t, err := c.connectedTransport()
	if err != nil {
		return nil, err
	}

	c.stats.resourceReads.Add(1)
	c.emit(Event{Type: EventResourceRead, URI: uri})

	raw, err := c.request(ctx, t, MethodResourcesRead, ResourceReadParams{URI: uri})
	if err != nil {
		return nil, err
	}
	var result ResourceReadResult
	if err := decodeResult(raw, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListResources returns every resource the server offers.
func (c *Connection) ListResources(ctx context.Context) ([]Resource, error) {
	t, err := c.connectedTransport()
	if err != nil {
		return nil, err
	}
	return listAll(ctx, c, t, MethodResourcesList, func(r ResourcesListResult) ([]Resource, string) {
		return r.Resources, r.NextCursor
	})
}

// ListResourceTemplates returns every resource template the server offers.
func (c *Connection) ListResourceTemplates(ctx context.Context) ([]ResourceTemplate, error) {
	t, err := c.connectedTransport()
	if err != nil {
		return nil, err
	}
	return listAll(ctx, c, t, MethodResourcesTemplatesList, func(r ResourceTemplatesListResult) ([]ResourceTemplate, string) {
		return r.ResourceTemplates, r.NextCursor
	})
}

// SubscribeResource asks the server to send resource:updated notifications for uri.
func (c *Connection) SubscribeResource(ctx context.Context, uri string) error {
	return c.call(ctx, MethodResourcesSubscribe, ResourceReadParams{URI: uri})
}

// UnsubscribeResource cancels a SubscribeResource.
func (c *Connection) UnsubscribeResource(ctx context.Context, uri string) error {
	return c.call(ctx, MethodResourcesUnsubscribe, ResourceReadParams{URI: uri})
}

// GetPrompt renders a prompt with the given arguments.
func (c *Connection) GetPrompt(ctx context.Context, name string, args map[string]string) (*GetPromptResult, error) {
	t, err := c.connectedTransport()
	if err != nil {
		return nil, err
	}

	c.stats.promptGets.Add(1)
	c.emit(Event{Type: EventPromptGet, Prompt: name})

	raw, err := c.request(ctx, t, MethodPromptsGet, GetPromptParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	var result GetPromptResult
	if err := decodeResult(raw, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListPrompts returns every prompt the server offers.
func (c *Connection) ListPrompts(ctx context.Context) ([]Prompt, error) {
	t, err := c.connectedTransport()
	if err != nil {
		return nil, err
	}
	return listAll(ctx, c, t, MethodPromptsList, func(r PromptsListResult) ([]Prompt, string) {
		return r.Prompts, r.NextCursor
	})
}

// Ping checks that the server is responsive.
func (c *Connection) Ping(ctx context.Context) error {
	return c.call(ctx, MethodPing, struct{}{})
}

// call issues a request whose result carries nothing of interest.
func (c *Connection) call(ctx context.Context, method string, params any) error {
	t, err := c.connectedTransport()
	if err != nil {
		return err
	}
	_, err = c.request(ctx, t, method, params)
	return err
}

// listAll requests method page by page until the server stops returning a
// cursor. A cursor the server already handed out ends the loop with an error.
// The list counter and event count the operation, not its pages.
func listAll[R, T any](ctx context.Context, c *Connection, t transport.Transport, method string, page func(R) ([]T, string)) ([]T, error) {
	c.stats.listCalls.Add(1)
	c.emit(Event{Type: EventListCalled, Method: method})

	var (
		all    []T
		cursor string
		seen   = make(map[string]bool)
	)
	for {
		raw, err := c.request(ctx, t, method, PaginatedParams{Cursor: cursor})
		if err != nil {
			return nil, err
		}
		var r R
		if err := decodeResult(raw, &r); err != nil {
			return nil, err
		}
		items, next := page(r)
		all = append(all, items...)
		if next == "" {
			return all, nil
		}
		if seen[next] {
			return nil, fmt.Errorf("%s: server repeated cursor %q", method, next)
		}
		seen[next] = true
		cursor = next
	}
}

func decodeResult(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return &ProtocolParseError{Raw: raw, Err: err}
	}
	return nil
}
