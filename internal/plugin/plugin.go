// Package plugin is the kernel side of the plugin system: the registry that
// owns instances and fans events out to them, the manager that bootstraps
// plugins from factories and administers their permissions, and the
// capability implementations handed to plugins.
//
// The canonical contract types live in the public pkg/plugin package,
// accessible to external plugin authors; this package re-exports them so
// kernel code keeps a single import.
package plugin

import (
	pkgplugin "github.com/synapkit/synapd/pkg/plugin"
)

// Type aliases — these are identical to the pkg/plugin types.

type Plugin = pkgplugin.Plugin
type Manifest = pkgplugin.Manifest
type Category = pkgplugin.Category
type ServiceType = pkgplugin.ServiceType
type ToolSpec = pkgplugin.ToolSpec
type JobSpec = pkgplugin.JobSpec
type RoleSet = pkgplugin.RoleSet
type ReasoningEngine = pkgplugin.ReasoningEngine
type MemoryProvider = pkgplugin.MemoryProvider
type VisionProvider = pkgplugin.VisionProvider
type WebContributor = pkgplugin.WebContributor
type HALProvider = pkgplugin.HALProvider
type RuntimeContext = pkgplugin.RuntimeContext
type Config = pkgplugin.Config
type Factory = pkgplugin.Factory
type Capability = pkgplugin.Capability
type NetworkCapability = pkgplugin.NetworkCapability
type StoreCapability = pkgplugin.StoreCapability
type DataStore = pkgplugin.DataStore
type Entry = pkgplugin.Entry
type Base = pkgplugin.Base

// MagicSeal re-exports the kernel's integrity seal constant.
const MagicSeal = pkgplugin.MagicSeal

// Category and ServiceType constants re-exported for kernel code.

const (
	CategoryTool      = pkgplugin.CategoryTool
	CategoryMemory    = pkgplugin.CategoryMemory
	CategoryReasoning = pkgplugin.CategoryReasoning
	CategorySkill     = pkgplugin.CategorySkill
	CategoryVision    = pkgplugin.CategoryVision
	CategoryBridge    = pkgplugin.CategoryBridge
)

const (
	ServiceReasoning = pkgplugin.ServiceReasoning
	ServiceMemory    = pkgplugin.ServiceMemory
	ServiceVision    = pkgplugin.ServiceVision
	ServiceSkill     = pkgplugin.ServiceSkill
	ServiceBridge    = pkgplugin.ServiceBridge
)

// DeriveID re-exports the fixed-width id derivation.
var DeriveID = pkgplugin.DeriveID
