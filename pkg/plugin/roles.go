package plugin

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/synapkit/synapd/pkg/event"
)

// RoleSet is the tagged query surface for polymorphic plugin roles. The
// kernel asks a plugin for its roles once at registration and binds the
// non-nil handles; a nil field simply means "role not fulfilled".
type RoleSet struct {
	Reasoning ReasoningEngine
	Memory    MemoryProvider
	Vision    VisionProvider
	Web       WebContributor
	HAL       HALProvider
}

// ReasoningEngine produces replies for agents.
type ReasoningEngine interface {
	EngineName() string

	// Think produces a reply to message given prior context.
	Think(ctx context.Context, agent event.AgentRef, message event.Message, history []event.Message) (string, error)
}

// MemoryProvider stores and recalls conversation messages.
type MemoryProvider interface {
	ProviderName() string

	Store(ctx context.Context, agentID string, message event.Message) error

	// Recall returns up to limit messages matching query, ordered oldest
	// first (chronological). An empty query matches everything.
	Recall(ctx context.Context, agentID, query string, limit int) ([]event.Message, error)
}

// VisionProvider captures and analyzes frames.
type VisionProvider interface {
	Capture(ctx context.Context) (event.VisionData, error)
}

// WebContributor adds HTTP routes under the kernel's API at bootstrap.
type WebContributor interface {
	RegisterRoutes(r gin.IRouter)
}

// HALProvider performs hardware or UI actions.
type HALProvider interface {
	Perform(ctx context.Context, action event.Action) error
}
