package api

import (
	stderrors "errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/regd/errors"
	"github.com/kbukum/regd/logger"
	"github.com/kbukum/regd/registry"
	"github.com/kbukum/regd/server"
	"github.com/kbukum/regd/server/endpoint"
	"github.com/kbukum/regd/sse"
	"github.com/kbukum/regd/validation"
)

// VersionHeader carries the registry version on snapshot and delta responses.
const VersionHeader = "X-Registry-Version"

// Registry is the part of *registry.Registry the handlers use.
type Registry interface {
	Register(inst registry.Instance, leaseDuration time.Duration) error
	Renew(serviceName, instanceID string) bool
	Cancel(serviceName, instanceID string) bool
	SetStatus(serviceName, instanceID string, status registry.Status) (bool, error)
	GetInstance(serviceName, instanceID string) (registry.Instance, bool)
	GetInstancesByService(serviceName string) []registry.Instance
	GetSnapshot() *registry.Snapshot
	GetDelta(sinceVersion uint64) (registry.Delta, error)
	ApplyRemoteUpdate(inst registry.Instance, action registry.ActionType, originNodeID string) error
	Stats() registry.Stats
	Version() uint64
	NodeID() string
	Config() registry.Config
}

var _ Registry = (*registry.Registry)(nil)

// Handler serves the /v1 registry API.
type Handler struct {
	reg Registry
	log *logger.Logger
	hub *sse.Hub
}

// Option configures a Handler.
type Option func(*Handler)

// WithWatch enables GET /v1/watch backed by hub.
func WithWatch(hub *sse.Hub) Option {
	return func(h *Handler) { h.hub = hub }
}

// NewHandler creates the API handler.
func NewHandler(reg Registry, log *logger.Logger, opts ...Option) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	h := &Handler{reg: reg, log: log.WithComponent("api")}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Mount registers the routes under /v1.
func (h *Handler) Mount(r gin.IRouter) {
	v1 := r.Group("/v1")
	v1.POST("/register", h.Register)
	v1.PUT("/renew", h.Renew)
	v1.DELETE("/cancel", h.Cancel)
	v1.PUT("/status", h.SetStatus)
	v1.GET("/instances", h.ListInstances)
	v1.GET("/instances/:service/:id", h.GetInstance)
	v1.GET("/snapshot", h.Snapshot)
	v1.GET("/delta", h.Delta)
	v1.GET("/stats", h.Stats)
	v1.POST("/replicate", h.Replicate)
	v1.GET("/version", endpoint.Version())
	if h.hub != nil {
		v1.GET("/watch", h.Watch)
	}
}

// Register handles POST /v1/register.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := bindJSON(c, &req); err != nil {
		server.RespondWithError(c, err)
		return
	}
	inst, err := req.toInstance()
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	lease, err := req.lease(h.reg.Config().MaxLeaseDuration)
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	if err := h.reg.Register(inst, lease); err != nil {
		server.RespondWithError(c, err)
		return
	}
	server.RespondNoContent(c)
}

// Renew handles PUT /v1/renew. 404 tells the client to register again.
func (h *Handler) Renew(c *gin.Context) {
	var ref InstanceRef
	if err := bindRef(c, &ref); err != nil {
		server.RespondWithError(c, err)
		return
	}
	if !h.reg.Renew(ref.ServiceName, ref.InstanceID) {
		server.RespondWithError(c, errors.NotFound(ref.ServiceName, ref.InstanceID))
		return
	}
	server.RespondOK(c, RenewResponse{Renewed: true})
}

// Cancel handles DELETE /v1/cancel. The reference may come in a JSON body or
// in the query string. Cancelling an unknown instance still answers 200.
func (h *Handler) Cancel(c *gin.Context) {
	var ref InstanceRef
	if err := bindRef(c, &ref); err != nil {
		server.RespondWithError(c, err)
		return
	}
	server.RespondOK(c, CancelResponse{Cancelled: h.reg.Cancel(ref.ServiceName, ref.InstanceID)})
}

// SetStatus handles PUT /v1/status.
func (h *Handler) SetStatus(c *gin.Context) {
	var req StatusRequest
	if err := bindJSON(c, &req); err != nil {
		server.RespondWithError(c, err)
		return
	}
	if err := validation.Validate(req); err != nil {
		server.RespondWithError(c, err)
		return
	}
	ok, err := h.reg.SetStatus(req.ServiceName, req.InstanceID, req.Status)
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	if !ok {
		server.RespondWithError(c, errors.NotFound(req.ServiceName, req.InstanceID))
		return
	}
	server.RespondOK(c, StatusResponse{Updated: true})
}

// ListInstances handles GET /v1/instances?service=NAME.
func (h *Handler) ListInstances(c *gin.Context) {
	service := c.Query("service")
	if service == "" {
		server.RespondWithError(c, errors.MissingField("service"))
		return
	}
	server.RespondOK(c, InstancesResponse{Service: service, Instances: h.reg.GetInstancesByService(service)})
}

// GetInstance handles GET /v1/instances/:service/:id.
func (h *Handler) GetInstance(c *gin.Context) {
	service, id := c.Param("service"), c.Param("id")
	inst, ok := h.reg.GetInstance(service, id)
	if !ok {
		server.RespondWithError(c, errors.NotFound(service, id))
		return
	}
	server.RespondOK(c, inst)
}

// Snapshot handles GET /v1/snapshot. The snapshot's encoding is shared by
// every request at the same version.
func (h *Handler) Snapshot(c *gin.Context) {
	snap := h.reg.GetSnapshot()
	body, err := snap.MarshalJSON()
	if err != nil {
		server.RespondWithError(c, errors.Internal(err))
		return
	}
	c.Header(VersionHeader, strconv.FormatUint(snap.Version(), 10))
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

// Delta handles GET /v1/delta?since=V. A cursor outside the retained log
// answers 410 and the client falls back to a snapshot.
func (h *Handler) Delta(c *gin.Context) {
	raw := c.Query("since")
	if raw == "" {
		server.RespondWithError(c, errors.MissingField("since"))
		return
	}
	since, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		server.RespondWithError(c, errors.MalformedInput("since must be a non-negative integer").
			WithDetail("field", "since"))
		return
	}

	delta, err := h.reg.GetDelta(since)
	if err != nil {
		var stale *registry.StaleCursorError
		if stderrors.As(err, &stale) {
			h.log.Debug("stale delta cursor", logger.Fields("since", stale.Since, "current", stale.Current))
			c.Header(VersionHeader, strconv.FormatUint(stale.Current, 10))
			server.RespondWithError(c, errors.StaleCursor(stale.Since, stale.Current))
			return
		}
		server.RespondWithError(c, err)
		return
	}
	c.Header(VersionHeader, strconv.FormatUint(delta.Version, 10))
	server.RespondOK(c, delta)
}

// Stats handles GET /v1/stats.
func (h *Handler) Stats(c *gin.Context) {
	server.RespondOK(c, h.reg.Stats())
}

// Replicate handles POST /v1/replicate, the HTTP binding of
// ApplyRemoteUpdate for peers that push over HTTP.
func (h *Handler) Replicate(c *gin.Context) {
	var req ReplicateRequest
	if err := bindJSON(c, &req); err != nil {
		server.RespondWithError(c, err)
		return
	}
	if err := validation.Validate(req); err != nil {
		server.RespondWithError(c, err)
		return
	}
	if err := h.reg.ApplyRemoteUpdate(req.Instance, req.Action, req.OriginNodeID); err != nil {
		server.RespondWithError(c, err)
		return
	}
	server.RespondNoContent(c)
}

// bindJSON decodes the body, mapping decode failures to MALFORMED_INPUT.
func bindJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		if stderrors.Is(err, io.EOF) {
			return errors.MalformedInput("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return errors.MalformedInput("request body too large").WithDetail("limit", tooLarge.Limit)
		}
		return errors.MalformedInput("invalid JSON body").WithCause(err)
	}
	return nil
}

// bindRef reads an InstanceRef from the JSON body when present, else from
// the query string, and validates it.
func bindRef(c *gin.Context, ref *InstanceRef) error {
	if c.Request.ContentLength != 0 && c.ContentType() == gin.MIMEJSON {
		if err := bindJSON(c, ref); err != nil {
			return err
		}
	} else {
		ref.ServiceName = c.Query("serviceName")
		ref.InstanceID = c.Query("instanceId")
	}
	return validation.Validate(*ref)
}
