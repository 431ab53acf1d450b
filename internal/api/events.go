package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/synapkit/synapd/internal/apierrors"
	kernelevent "github.com/synapkit/synapd/internal/event"
	"github.com/synapkit/synapd/pkg/event"
)

// externallySubmittable is the safe subset of event variants an outside
// caller may inject. Everything else is a kernel-internal signal; letting
// a client fake a PermissionGranted would bypass the whole grant path.
var externallySubmittable = map[event.Kind]bool{
	event.KindMessageReceived: true,
	event.KindVisionUpdated:   true,
	event.KindGazeUpdated:     true,
}

type postEventRequest struct {
	Type    event.Kind      `json:"type" binding:"required"`
	Payload json.RawMessage `json:"payload"`
}

// postEvent injects an external event at depth zero.
func (a *API) postEvent(c *gin.Context) {
	var req postEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.ErrorWithMessage(c, apierrors.CodeInvalidRequest, err.Error())
		return
	}

	if !externallySubmittable[req.Type] {
		apierrors.ErrorWithMessage(c, apierrors.CodePermissionDenied,
			"event type cannot be injected externally")
		return
	}

	data, err := event.DecodeData(req.Type, req.Payload)
	if err != nil {
		apierrors.ErrorWithMessage(c, apierrors.CodeValidationFailed, err.Error())
		return
	}

	if err := a.submit(event.System(data)); err != nil {
		if errors.Is(err, kernelevent.ErrQueueFull) {
			apierrors.Error(c, apierrors.CodeChannelFull)
			return
		}
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "published"})
}

// listEvents returns recent history, oldest first.
func (a *API) listEvents(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			apierrors.ErrorWithMessage(c, apierrors.CodeValidationFailed, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}
	c.JSON(http.StatusOK, gin.H{"events": a.deps.History.Recent(limit)})
}

func (a *API) streamSSE(c *gin.Context) {
	a.trackSubscriber()
	defer a.untrackSubscriber()
	a.deps.Broker.ServeSSE(c.Writer, c.Request)
}

func (a *API) streamWS(c *gin.Context) {
	a.trackSubscriber()
	defer a.untrackSubscriber()
	a.deps.Broker.ServeWS(c.Writer, c.Request)
}

func (a *API) trackSubscriber() {
	if a.deps.Metrics != nil {
		a.deps.Metrics.Subscribers.Inc()
	}
}

func (a *API) untrackSubscriber() {
	if a.deps.Metrics != nil {
		a.deps.Metrics.Subscribers.Dec()
	}
}
