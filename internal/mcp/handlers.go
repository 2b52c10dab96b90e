package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/switchboard/internal/errors"
	"github.com/hpungsan/switchboard/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	svc *ops.Service
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(svc *ops.Service) *Handlers {
	return &Handlers{svc: svc}
}

// Request types for each tool

// StateRequest represents the arguments for capability_state.
type StateRequest struct {
	AssistantID  string `json:"assistant_id"`
	CapabilityID string `json:"capability_id,omitempty"`
}

// ListRequest represents the arguments for capability_list.
type ListRequest struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// ToggleRequest represents the arguments for capability_toggle.
type ToggleRequest struct {
	AssistantID  string `json:"assistant_id"`
	CapabilityID string `json:"capability_id"`
	ChannelID    string `json:"channel_id,omitempty"`
	Enabled      *bool  `json:"enabled"`
	Wait         bool   `json:"wait,omitempty"`
}

// SyncRequest represents the arguments for capability_sync.
type SyncRequest struct {
	AssistantID string `json:"assistant_id,omitempty"`
}

// AssistantRequest represents the arguments of tools that only take an assistant.
type AssistantRequest struct {
	AssistantID string `json:"assistant_id"`
}

// SetChannelRequest represents the arguments for link_set_channel.
type SetChannelRequest struct {
	AssistantID    string `json:"assistant_id"`
	LinkID         string `json:"link_id"`
	ChannelEnabled *bool  `json:"channel_enabled"`
}

// NoticeListRequest represents the arguments for notice_list.
type NoticeListRequest struct {
	AssistantID string `json:"assistant_id,omitempty"`
	AfterSeq    int64  `json:"after_seq,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

// ToggleResult is returned by capability_toggle.
type ToggleResult struct {
	AssistantID  string           `json:"assistant_id"`
	CapabilityID string           `json:"capability_id"`
	Accepted     bool             `json:"accepted"`
	State        *ops.StateOutput `json:"state,omitempty"`
	Warning      map[string]any   `json:"warning,omitempty"`
}

// Handler implementations

// HandleState handles the capability_state tool call.
func (h *Handlers) HandleState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[StateRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	if input.CapabilityID == "" {
		result, err := h.svc.AssistantState(ctx, input.AssistantID)
		if err != nil {
			return errorResult(err), nil
		}
		return successResult(result)
	}

	result, err := h.svc.PresentedState(ctx, input.AssistantID, input.CapabilityID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleList handles the capability_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := h.svc.ListCapabilities(ctx, ops.ListCapabilitiesInput{
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleToggle handles the capability_toggle tool call.
func (h *Handlers) HandleToggle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ToggleRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if input.Enabled == nil {
		return errorResult(errors.NewInvalidRequest("enabled is required")), nil
	}

	in := ops.ToggleInput{
		AssistantID:  input.AssistantID,
		CapabilityID: input.CapabilityID,
		ChannelID:    input.ChannelID,
		Enabled:      *input.Enabled,
	}
	out := ToggleResult{AssistantID: input.AssistantID, CapabilityID: input.CapabilityID, Accepted: true}

	if !input.Wait {
		if err := h.svc.ToggleAsync(ctx, in); err != nil {
			return errorResult(err), nil
		}
		return successResult(out)
	}

	if err := h.svc.Toggle(ctx, in); err != nil {
		if !errors.IsWarning(err) {
			return errorResult(err), nil
		}
		out.Warning = errorObject(err)
	}

	state, err := h.svc.PresentedState(ctx, input.AssistantID, input.CapabilityID)
	if err != nil {
		return errorResult(err), nil
	}
	out.State = state
	return successResult(out)
}

// HandleSync handles the capability_sync tool call.
func (h *Handlers) HandleSync(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SyncRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := h.svc.Sync(ctx, input.AssistantID)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleRefresh handles the capability_refresh tool call.
func (h *Handlers) HandleRefresh(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AssistantRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := h.svc.Refresh(ctx, input.AssistantID)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleLinkList handles the link_list tool call.
func (h *Handlers) HandleLinkList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AssistantRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	links, err := h.svc.Links(ctx, input.AssistantID)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(map[string]any{"items": links})
}

// HandleLinkSetChannel handles the link_set_channel tool call.
func (h *Handlers) HandleLinkSetChannel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SetChannelRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if input.ChannelEnabled == nil {
		return errorResult(errors.NewInvalidRequest("channel_enabled is required")), nil
	}

	link, err := h.svc.SetChannelEnabled(ctx, input.AssistantID, input.LinkID, *input.ChannelEnabled)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(link)
}

// HandleNoticeList handles the notice_list tool call.
func (h *Handlers) HandleNoticeList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[NoticeListRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(h.svc.ListNotices(ops.NoticesInput{
		AssistantID: input.AssistantID,
		AfterSeq:    input.AfterSeq,
		Limit:       input.Limit,
	}))
}

// Result helpers

// errorObject renders err as the "error" member of a tool payload.
// Internal error details are not exposed to prevent leaking sensitive info.
func errorObject(err error) map[string]any {
	var sErr *errors.Error
	if !stderrors.As(err, &sErr) {
		return map[string]any{
			"code":    string(errors.ErrInternal),
			"message": "an internal error occurred",
			"status":  500,
		}
	}

	// Keep wrapper context when the typed error was wrapped
	message := sErr.Message
	if err != error(sErr) {
		message = err.Error()
	}

	obj := map[string]any{
		"code":    string(sErr.Code),
		"message": message,
		"status":  sErr.Status,
	}
	if sErr.Code != errors.ErrInternal && sErr.Details != nil {
		obj["details"] = sErr.Details
	}
	return obj
}

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
func errorResult(err error) *mcp.CallToolResult {
	content, _ := json.Marshal(map[string]any{"error": errorObject(err)})
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
