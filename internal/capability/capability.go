package capability

// Capability is a named, remotely-executable function an assistant may invoke.
// Capabilities are immutable once created; the catalog owns them.
type Capability struct {
	// ID is the local identity
	ID string `json:"id"`

	// Name is the local canonical name (may contain non-ASCII)
	Name string `json:"name"`

	// Description is operator-authored markdown shown in the console
	Description string `json:"description,omitempty"`

	// NotificationChannelID is the channel that receives structured output by default
	NotificationChannelID string `json:"notification_channel_id,omitempty"`

	// CreatedAt is the Unix timestamp when the capability was registered
	CreatedAt int64 `json:"created_at"`
}

// Link associates one Capability with one Assistant.
// A Link exists only while the capability is active for the assistant;
// deactivation deletes it.
type Link struct {
	// ID is a ULID that uniquely identifies this link
	ID string `json:"id"`

	CapabilityID          string `json:"capability_id"`
	AssistantID           string `json:"assistant_id"`
	NotificationChannelID string `json:"notification_channel_id"`

	// Enabled reports whether the assistant may call the capability
	Enabled bool `json:"enabled"`

	// ChannelEnabled reports whether successful calls are forwarded to the channel
	ChannelEnabled bool `json:"channel_enabled"`

	// CreatedAt is the Unix timestamp when the link was created
	CreatedAt int64 `json:"created_at"`
}

// Channel is a downstream notification channel (VK, Avito, webhook, ...).
type Channel struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Enabled bool   `json:"enabled"`
}

// ByID indexes a catalog by capability ID.
func ByID(catalog []Capability) map[string]Capability {
	out := make(map[string]Capability, len(catalog))
	for _, c := range catalog {
		out[c.ID] = c
	}
	return out
}
