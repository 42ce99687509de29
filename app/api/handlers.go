package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/tag-comb/app/canon"
	"github.com/lysyi3m/tag-comb/app/cfg"
	"github.com/lysyi3m/tag-comb/app/dom"
	"github.com/lysyi3m/tag-comb/app/engine"
	"github.com/lysyi3m/tag-comb/app/feed"
	"github.com/lysyi3m/tag-comb/app/store"
)

const maxBodyBytes = 10 << 20

func NewHandler(st StoreInterface, profiles ProfileCacheInterface, defaultProfile string,
	broker *Broker, onChange func()) *Handler {
	if broker == nil {
		broker = NewBroker(0)
	}
	return &Handler{
		store:          st,
		profiles:       profiles,
		defaultProfile: defaultProfile,
		processor:      feed.NewProcessor(),
		broker:         broker,
		onChange:       onChange,
	}
}

func (h *Handler) changed() {
	if h.onChange != nil {
		h.onChange()
	}
}

func readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
		return nil, false
	}
	return body, true
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().In(time.Local).Format(time.RFC3339),
		"version":         cfg.Get().Version,
		"hidden_tags":     len(h.store.GetHidden(c.Request.Context())),
		"loaded_profiles": h.profiles.GetProfileCount(),
		"subscribers":     h.broker.SubscriberCount(),
	}

	c.JSON(http.StatusOK, health)
}

// FilterPage reconciles a listing page posted as HTML and returns the
// transformed page.
func (h *Handler) FilterPage(c *gin.Context) {
	name := c.DefaultQuery("profile", h.defaultProfile)
	p, err := h.profiles.GetProfile(name)
	if err != nil {
		slog.Error("Profile not found", "profile", name, "error", err)
		c.JSON(http.StatusNotFound, gin.H{"error": "Profile not found"})
		return
	}

	body, ok := readBody(c)
	if !ok {
		return
	}

	doc, err := dom.ParseString(string(body))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid HTML", "details": err.Error()})
		return
	}

	eng, err := engine.New(doc, h.store, engine.Options{
		Profile:   p,
		Listeners: []engine.Listener{h.broker.Publish},
	})
	if err != nil {
		slog.Error("Engine setup error", "profile", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Engine setup failed"})
		return
	}

	ctx := c.Request.Context()
	eng.EnsureInlineIcons(ctx)
	sum := eng.Run(ctx)

	out, err := eng.Render()
	if err != nil {
		slog.Error("Render error", "profile", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Render failed"})
		return
	}

	c.Header("X-Items-Total", strconv.Itoa(sum.Items))
	c.Header("X-Items-Hidden", strconv.Itoa(sum.Wrapped))
	c.Header("X-Profile", p.Name)
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(out))
}

// FilterInteract replays one gesture on a posted page and returns what the
// host should do with it along with the updated page.
func (h *Handler) FilterInteract(c *gin.Context) {
	name := c.DefaultQuery("profile", h.defaultProfile)
	p, err := h.profiles.GetProfile(name)
	if err != nil {
		slog.Error("Profile not found", "profile", name, "error", err)
		c.JSON(http.StatusNotFound, gin.H{"error": "Profile not found"})
		return
	}

	var req interactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	kind, err := engine.ParseKind(req.Kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid interaction", "details": err.Error()})
		return
	}

	doc, err := dom.ParseString(req.HTML)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid HTML", "details": err.Error()})
		return
	}

	eng, err := engine.New(doc, h.store, engine.Options{
		Profile:   p,
		Listeners: []engine.Listener{h.broker.Publish},
	})
	if err != nil {
		slog.Error("Engine setup error", "profile", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Engine setup failed"})
		return
	}

	ctx := c.Request.Context()
	eng.Attach()
	eng.EnsureInlineIcons(ctx)
	eng.Run(ctx)
	for workID, hint := range req.Locks {
		eng.Lock(workID, hint)
	}

	sel, err := cascadia.Compile(req.Target)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid target", "details": err.Error()})
		return
	}
	target := goquery.NewDocumentFromNode(eng.Document()).FindMatcher(sel).First()
	if target.Length() == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Target not found"})
		return
	}

	out := eng.Dispatch(ctx, engine.Interaction{
		Kind:   kind,
		Target: target.Get(0),
		Key:    req.Key,
		Alt:    req.Alt,
	})
	if out.Tag != "" {
		h.changed()
	}

	page, err := eng.Render()
	if err != nil {
		slog.Error("Render error", "profile", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Render failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"outcome": out, "html": page})
}

// FilterFeed drops feed entries carrying hidden tags and returns RSS.
func (h *Handler) FilterFeed(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}

	result, err := h.processor.Run(body, h.store.HiddenSet(c.Request.Context()))
	if err != nil {
		slog.Error("Feed filter error", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid feed", "details": err.Error()})
		return
	}

	c.Header("Content-Type", "application/xml; charset=utf-8")
	c.Header("X-Feed-Items", strconv.Itoa(result.Total-result.Filtered))
	c.Header("X-Feed-Filtered", strconv.Itoa(result.Filtered))

	c.String(http.StatusOK, result.RSS)
}

func (h *Handler) APIListTags(c *gin.Context) {
	tags := h.store.GetHidden(c.Request.Context())

	c.JSON(http.StatusOK, gin.H{
		"tags":  tags,
		"total": len(tags),
	})
}

func (h *Handler) APIReplaceTags(c *gin.Context) {
	var req tagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	tags := h.store.SetHidden(c.Request.Context(), req.Tags)
	h.changed()

	c.JSON(http.StatusOK, gin.H{"tags": tags, "total": len(tags)})
}

func (h *Handler) APIAddTag(c *gin.Context) {
	var req tagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	tag := canon.Clean(req.Tag)
	if tag == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Tag is empty after normalization"})
		return
	}

	tags := h.store.AddHiddenTag(c.Request.Context(), tag)
	h.changed()

	slog.Info("Tag hidden", "tag", tag)
	c.JSON(http.StatusOK, gin.H{"tag": tag, "tags": tags, "total": len(tags)})
}

func (h *Handler) APIRemoveTag(c *gin.Context) {
	tag := canon.Clean(strings.TrimPrefix(c.Param("tag"), "/"))
	if tag == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing tag parameter"})
		return
	}

	tags := h.store.RemoveHiddenTag(c.Request.Context(), tag)
	h.changed()

	slog.Info("Tag shown", "tag", tag)
	c.JSON(http.StatusOK, gin.H{"tag": tag, "tags": tags, "total": len(tags)})
}

func (h *Handler) APIExportTags(c *gin.Context) {
	data, err := h.store.ExportHidden(c.Request.Context())
	if err != nil {
		slog.Error("Export error", "record", "hidden", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Export failed"})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="hidden-tags.json"`)
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

func (h *Handler) APIImportTags(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}

	tags, err := h.store.ImportHidden(c.Request.Context(), body)
	if err != nil {
		h.importError(c, "hidden", err)
		return
	}
	h.changed()

	c.JSON(http.StatusOK, gin.H{"tags": tags, "total": len(tags)})
}

func (h *Handler) APIGetGroups(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"groups": h.store.GetGroupsMap(c.Request.Context())})
}

func (h *Handler) APIReplaceGroups(c *gin.Context) {
	var req groupsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	groups := h.store.SetGroupsMap(c.Request.Context(), req.Groups)
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

func (h *Handler) APIExportGroups(c *gin.Context) {
	data, err := h.store.ExportGroups(c.Request.Context())
	if err != nil {
		slog.Error("Export error", "record", "groups", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Export failed"})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="tag-groups.json"`)
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

func (h *Handler) APIImportGroups(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}

	groups, err := h.store.ImportGroups(c.Request.Context(), body)
	if err != nil {
		h.importError(c, "groups", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

func (h *Handler) importError(c *gin.Context, record string, err error) {
	if errors.Is(err, store.ErrInvalidImport) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid import", "details": err.Error()})
		return
	}
	slog.Error("Import error", "record", record, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Import failed"})
}

// APIEvents streams engine events as server-sent events.
func (h *Handler) APIEvents(c *gin.Context) {
	events, cancel := h.broker.Subscribe()
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	// headers go out before the first event
	c.Status(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Type), ev)
			return true
		}
	})
}
