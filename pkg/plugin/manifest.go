package plugin

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/synapkit/synapd/pkg/permission"
)

// MagicSeal is the integrity seal every plugin manifest must carry. It is
// fixed at compile time in the kernel and in each SDK release; a manifest
// reporting any other value was built against an incompatible SDK and is
// refused at registration. Changing this constant is an ABI break.
const MagicSeal uint32 = 0x56455253

// SDKVersion identifies this contract release for diagnostics.
const SDKVersion = "1.0.0"

// Category groups plugins for discovery.
type Category string

const (
	CategoryTool      Category = "Tool"
	CategoryMemory    Category = "Memory"
	CategoryReasoning Category = "Reasoning"
	CategorySkill     Category = "Skill"
	CategoryVision    Category = "Vision"
	CategoryBridge    Category = "Bridge"
)

// ServiceType names the primary service a plugin provides.
type ServiceType string

const (
	ServiceReasoning ServiceType = "Reasoning"
	ServiceMemory    ServiceType = "Memory"
	ServiceVision    ServiceType = "Vision"
	ServiceSkill     ServiceType = "Skill"
	ServiceBridge    ServiceType = "Bridge"
)

// ToolSpec describes a tool a plugin offers for discovery. InputSchema is a
// JSON Schema document; the kernel compiles it at registration and refuses
// manifests carrying schemas that do not compile.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// JobSpec declares a scheduled task: when the cron schedule fires, the
// kernel emits the named event with the given payload. The scheduler
// registers every enabled job of an installed plugin.
type JobSpec struct {
	ID          string          `json:"id"`
	Description string          `json:"description,omitempty"`
	Schedule    string          `json:"schedule"` // cron expression, e.g. "0 * * * *"
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Enabled     bool            `json:"enabled"`
}

// Manifest is the immutable descriptor a plugin produces about itself.
type Manifest struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Version     string      `json:"version"`
	Category    Category    `json:"category"`
	ServiceType ServiceType `json:"service_type"`

	Tags               []string `json:"tags,omitempty"`
	IsActive           bool     `json:"is_active"`
	IsConfigured       bool     `json:"is_configured"`
	RequiredConfigKeys []string `json:"required_config_keys,omitempty"`

	MagicSeal  uint32 `json:"magic_seal"`
	SDKVersion string `json:"sdk_version"`

	RequiredPermissions  []permission.Permission `json:"required_permissions,omitempty"`
	ProvidedCapabilities []string                `json:"provided_capabilities,omitempty"`
	ProvidedTools        []ToolSpec              `json:"provided_tools,omitempty"`
	Jobs                 []JobSpec               `json:"jobs,omitempty"`
}

// Sealed reports whether the manifest carries the kernel's integrity seal.
func (m Manifest) Sealed() bool { return m.MagicSeal == MagicSeal }

// DeriveID maps a string plugin id to the fixed-width form used as a map
// key: the first 16 bytes of the id's SHA-256, hex-encoded. Ids are
// case-sensitive; distinct ids yield distinct derived ids.
func DeriveID(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:16])
}
