package api

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"path"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kbukum/regd/errors"
	"github.com/kbukum/regd/logger"
	"github.com/kbukum/regd/registry"
	"github.com/kbukum/regd/server"
	"github.com/kbukum/regd/sse"
)

// LastEventIDHeader is sent by reconnecting EventSource clients.
const LastEventIDHeader = "Last-Event-ID"

// ChangePublisher returns a listener that publishes every registry change
// to hub, keyed by service name. Register it with Registry.OnChange.
func ChangePublisher(hub *sse.Hub, log *logger.Logger) registry.ChangeListener {
	if log == nil {
		log = logger.NewNop()
	}
	return func(ev registry.ChangeEvent) {
		data, err := json.Marshal(ev)
		if err != nil {
			log.Error("encode change event", logger.Fields("error", err.Error(), "version", ev.Version))
			return
		}
		hub.Publish(ev.Instance.ServiceName, sse.Event{ID: ev.Version, Type: string(ev.Action), Data: data})
	}
}

type connectedEvent struct {
	ClientID string `json:"clientId"`
	Pattern  string `json:"pattern"`
	Version  uint64 `json:"version"`
}

// Watch handles GET /v1/watch. It streams changes as Server-Sent Events,
// one event per change with the registry version as its id. service is an
// optional glob over service names. A client resumes with since or the
// Last-Event-ID header; a cursor outside the retained log answers 410.
func (h *Handler) Watch(c *gin.Context) {
	pattern := c.DefaultQuery("service", "*")
	if _, err := path.Match(pattern, ""); err != nil {
		server.RespondWithError(c, errors.MalformedInput("service is not a valid pattern").WithDetail("field", "service"))
		return
	}

	raw := c.Query("since")
	if raw == "" {
		raw = c.GetHeader(LastEventIDHeader)
	}
	var since *uint64
	if raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			server.RespondWithError(c, errors.MalformedInput("since must be a non-negative integer").WithDetail("field", "since"))
			return
		}
		since = &v
	}

	client := sse.NewClient(uuid.NewString(), h.hub.Config().ClientBuffer, sse.WithPattern(pattern))
	if err := h.hub.Register(client); err != nil {
		if stderrors.Is(err, sse.ErrTooManyClients) {
			server.RespondWithError(c, errors.RateLimited().WithDetail("reason", "too many watch streams"))
			return
		}
		server.RespondWithError(c, errors.New(errors.ErrCodeTransientUnavailable, "Watch streams are shutting down.", http.StatusServiceUnavailable))
		return
	}
	defer h.hub.Unregister(client)

	// Registered before the backlog is read, so nothing falls between the
	// two; duplicates are dropped by id.
	start := h.reg.Version()
	var backlog []sse.Event
	if since != nil {
		delta, err := h.reg.GetDelta(*since)
		if err != nil {
			var stale *registry.StaleCursorError
			if stderrors.As(err, &stale) {
				c.Header(VersionHeader, strconv.FormatUint(stale.Current, 10))
				server.RespondWithError(c, errors.StaleCursor(stale.Since, stale.Current))
				return
			}
			server.RespondWithError(c, err)
			return
		}
		start = *since
		for _, ch := range delta.Changes {
			if !client.Matches(ch.Instance.ServiceName) {
				continue
			}
			data, err := json.Marshal(registry.ChangeEvent{
				Version: ch.Version, Action: ch.Action, Instance: ch.Instance, NodeID: originOf(ch.Instance, h.reg.NodeID()),
			})
			if err != nil {
				server.RespondWithError(c, errors.Internal(err))
				return
			}
			backlog = append(backlog, sse.Event{ID: ch.Version, Type: string(ch.Action), Data: data})
		}
	}

	hello, _ := json.Marshal(connectedEvent{ClientID: client.ID(), Pattern: client.Pattern(), Version: start})
	backlog = append([]sse.Event{{ID: start, Type: sse.EventTypeConnected, Data: hello}}, backlog...)

	c.Header(VersionHeader, strconv.FormatUint(start, 10))
	h.hub.Serve(c.Writer, c.Request, client, backlog...)
}

func originOf(inst registry.Instance, local string) string {
	if inst.Origin != "" {
		return inst.Origin
	}
	return local
}
