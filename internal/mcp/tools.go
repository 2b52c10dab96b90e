package mcp

import "github.com/mark3labs/mcp-go/mcp"

var stateToolDef = mcp.NewTool("capability_state",
	mcp.WithDescription("Show what the console presents for an assistant's capabilities. "+
		"With capability_id, returns one capability's active/pending flags; without it, the full table "+
		"including suppressed capabilities, sync cooldown and active channels."),
	mcp.WithString("assistant_id", mcp.Required(), mcp.Description("Assistant to inspect")),
	mcp.WithString("capability_id", mcp.Description("Limit the result to one capability")),
)

var listToolDef = mcp.NewTool("capability_list",
	mcp.WithDescription("List the capability catalog in creation order."),
	mcp.WithNumber("limit", mcp.Description("Page size (default 50, max 200)")),
	mcp.WithNumber("offset", mcp.Description("Items to skip")),
)

var toggleToolDef = mcp.NewTool("capability_toggle",
	mcp.WithDescription("Switch a capability on or off for an assistant. "+
		"Enabling requires an active notification channel. While any capability of the assistant "+
		"is in transition the call fails with TRANSITION_IN_PROGRESS. By default the call returns once "+
		"the transition has started; set wait to block until it settles."),
	mcp.WithString("assistant_id", mcp.Required(), mcp.Description("Assistant to change")),
	mcp.WithString("capability_id", mcp.Required(), mcp.Description("Capability to toggle")),
	mcp.WithString("channel_id", mcp.Description("Notification channel (required when enabling)")),
	mcp.WithBoolean("enabled", mcp.Required(), mcp.Description("Desired state")),
	mcp.WithBoolean("wait", mcp.Description("Wait for the transition to settle (default false)")),
)

var syncToolDef = mcp.NewTool("capability_sync",
	mcp.WithDescription("Push local enabled links to the remote platform as one replace-all per assistant. "+
		"Omit assistant_id to sync every linked assistant. Mutating syncs are spaced by a cooldown; "+
		"a call inside it fails with RATE_LIMITED and retry_after_ms."),
	mcp.WithString("assistant_id", mcp.Description("Assistant to sync (default: all)")),
)

var refreshToolDef = mcp.NewTool("capability_refresh",
	mcp.WithDescription("Re-read both the remote platform and local links for an assistant and report drift. Never mutates."),
	mcp.WithString("assistant_id", mcp.Required(), mcp.Description("Assistant to refresh")),
)

var linkListToolDef = mcp.NewTool("link_list",
	mcp.WithDescription("List an assistant's capability links."),
	mcp.WithString("assistant_id", mcp.Required(), mcp.Description("Assistant whose links to list")),
)

var linkSetChannelToolDef = mcp.NewTool("link_set_channel",
	mcp.WithDescription("Turn notification forwarding on or off for one link. Activation is unaffected."),
	mcp.WithString("assistant_id", mcp.Required(), mcp.Description("Assistant owning the link")),
	mcp.WithString("link_id", mcp.Required(), mcp.Description("Link to change")),
	mcp.WithBoolean("channel_enabled", mcp.Required(), mcp.Description("Forward successful calls to the channel")),
)

var noticeListToolDef = mcp.NewTool("notice_list",
	mcp.WithDescription("List recent operator notices (failures, warnings with remediation, sync results), oldest first."),
	mcp.WithString("assistant_id", mcp.Description("Filter by assistant")),
	mcp.WithNumber("after_seq", mcp.Description("Only notices newer than this sequence number")),
	mcp.WithNumber("limit", mcp.Description("Keep the newest N (default 20, max 200)")),
)
