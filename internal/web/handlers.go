package web

import (
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hpungsan/switchboard/internal/errors"
	"github.com/hpungsan/switchboard/internal/ops"
)

// recentNotices is how many notices the assistant page shows.
const recentNotices = 10

// tableTarget is the element id partial table swaps replace.
const tableTarget = "capability-table"

// Handlers contains HTTP route handlers for the web console.
type Handlers struct {
	svc      *ops.Service
	renderer *Renderer
}

// HandleAssistants handles GET /assistants: the assistant index. An "id"
// query parameter jumps straight to that assistant.
func (h *Handlers) HandleAssistants(w http.ResponseWriter, r *http.Request) {
	if id := strings.TrimSpace(r.URL.Query().Get("id")); id != "" {
		http.Redirect(w, r, assistantPath(id), http.StatusFound)
		return
	}

	ids, err := h.svc.Assistants(r.Context())
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.renderer.renderPage(w, r, "assistants", AssistantsPageData{
		PageData: PageData{
			Title:   "Assistants",
			Version: h.renderer.version,
			Nav:     "assistants",
		},
		Assistants: ids,
	})
}

// HandleCatalog handles GET /catalog: the capability catalog.
func (h *Handlers) HandleCatalog(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListCapabilities(r.Context(), ops.ListCapabilitiesInput{
		Limit:  parseIntParam(r, "limit", ops.DefaultListLimit),
		Offset: parseIntParam(r, "offset", 0),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	items := make([]CatalogItem, 0, len(result.Items))
	for _, c := range result.Items {
		items = append(items, CatalogItem{Capability: c, Description: renderMarkdown(c.Description)})
	}

	h.renderer.renderPage(w, r, "catalog", CatalogPageData{
		PageData: PageData{
			Title:   "Catalog",
			Version: h.renderer.version,
			Nav:     "catalog",
		},
		Items:      items,
		Pagination: result.Pagination,
	})
}

// HandleAssistant handles GET /assistants/{id}: one assistant's capability table.
// A request targeting the table receives only the table fragment.
func (h *Handlers) HandleAssistant(w http.ResponseWriter, r *http.Request) {
	data, err := h.assistantData(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if r.Header.Get("HX-Target") == tableTarget {
		h.renderer.renderBlock(w, http.StatusOK, "assistant", "table", data)
		return
	}
	h.renderer.renderPage(w, r, "assistant", data)
}

// HandleState handles GET /assistants/{id}/state: the table as JSON.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("assistant ID is required"))
		return
	}

	state, err := h.svc.AssistantState(r.Context(), id)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, state)
}

// HandleToggle handles POST /assistants/{id}/capabilities/{cid}/toggle.
// The transition runs in the background; the response is 202 Accepted.
func (h *Handlers) HandleToggle(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}

	enabled, err := strconv.ParseBool(r.FormValue("enabled"))
	if err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("enabled must be true or false"))
		return
	}

	id := r.PathValue("id")
	in := ops.ToggleInput{
		AssistantID:  id,
		CapabilityID: r.PathValue("cid"),
		ChannelID:    r.FormValue("channel_id"),
		Enabled:      enabled,
	}
	if err := h.svc.ToggleAsync(r.Context(), in); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	// HTMX request: re-render the table, now showing the pending row
	if isHTMX(r) {
		data, err := h.assistantData(r)
		if err != nil {
			h.renderer.renderError(w, r, err)
			return
		}
		h.renderer.renderBlock(w, http.StatusAccepted, "assistant", "table", data)
		return
	}

	// JSON request
	if wantsJSON(r) {
		renderJSON(w, http.StatusAccepted, map[string]any{
			"accepted":      true,
			"assistant_id":  in.AssistantID,
			"capability_id": in.CapabilityID,
			"enabled":       in.Enabled,
		})
		return
	}

	// Default: redirect
	http.Redirect(w, r, assistantPath(id), http.StatusSeeOther)
}

// HandleSetChannel handles POST /assistants/{id}/links/{lid}/channel.
func (h *Handlers) HandleSetChannel(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}

	channelEnabled, err := strconv.ParseBool(r.FormValue("channel_enabled"))
	if err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("channel_enabled must be true or false"))
		return
	}

	id := r.PathValue("id")
	link, err := h.svc.SetChannelEnabled(r.Context(), id, r.PathValue("lid"), channelEnabled)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if isHTMX(r) {
		data, err := h.assistantData(r)
		if err != nil {
			h.renderer.renderError(w, r, err)
			return
		}
		h.renderer.renderBlock(w, http.StatusOK, "assistant", "table", data)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, link)
		return
	}

	http.Redirect(w, r, assistantPath(id), http.StatusSeeOther)
}

// HandleSync handles POST /assistants/{id}/sync.
func (h *Handlers) HandleSync(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("assistant ID is required"))
		return
	}

	result, err := h.svc.Sync(r.Context(), id)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if isHTMX(r) {
		msg := "synchronized: " + strconv.Itoa(result.Added) + " added, " + strconv.Itoa(result.Removed) + " removed"
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`<div class="sync-result">` + template.HTMLEscapeString(msg) + `</div>`))
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	http.Redirect(w, r, assistantPath(id), http.StatusSeeOther)
}

// HandleRefresh handles POST /assistants/{id}/refresh.
func (h *Handlers) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("assistant ID is required"))
		return
	}

	result, err := h.svc.Refresh(r.Context(), id)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if isHTMX(r) {
		data, err := h.assistantData(r)
		if err != nil {
			h.renderer.renderError(w, r, err)
			return
		}
		h.renderer.renderBlock(w, http.StatusOK, "assistant", "table", data)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	http.Redirect(w, r, assistantPath(id), http.StatusSeeOther)
}

func (h *Handlers) assistantData(r *http.Request) (AssistantPageData, error) {
	id := r.PathValue("id")
	if id == "" {
		return AssistantPageData{}, errors.NewInvalidRequest("assistant ID is required")
	}

	state, err := h.svc.AssistantState(r.Context(), id)
	if err != nil {
		return AssistantPageData{}, err
	}

	rows := make([]RowView, 0, len(state.Rows))
	for _, row := range state.Rows {
		rows = append(rows, RowView{Row: row, Description: renderMarkdown(row.Capability.Description)})
	}

	notices := h.svc.ListNotices(ops.NoticesInput{AssistantID: id, Limit: recentNotices})

	return AssistantPageData{
		PageData: PageData{
			Title:   "Assistant " + id,
			Version: h.renderer.version,
			Nav:     "assistants",
		},
		AssistantID: id,
		Busy:        state.Busy,
		Rows:        rows,
		Channels:    state.Channels,
		Notices:     notices.Items,
		CooldownMs:  state.CooldownMs,
	}, nil
}

func assistantPath(id string) string {
	return "/assistants/" + url.PathEscape(id)
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
