// Package easycli exposes the supervision engine for embedding: the
// template expander, the process supervisor, and the durable process
// registry. The CLI under cmd/easycli is a thin layer over this API.
package easycli

import (
	"github.com/zerrdev/easycli/internal/process"
	"github.com/zerrdev/easycli/internal/registry"
	"github.com/zerrdev/easycli/internal/supervisor"
	"github.com/zerrdev/easycli/pkg/template"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Item = template.Item

type Command = template.Command

type RestartPolicy = process.RestartPolicy

const (
	RestartAlways        = process.RestartAlways
	RestartNever         = process.RestartNever
	RestartUnlessStopped = process.RestartUnlessStopped
)

type GroupSpec = supervisor.GroupSpec

type ProcStatus = supervisor.ProcStatus

type Options = supervisor.Options

type Supervisor = supervisor.Supervisor

type RegistryEntry = registry.Entry

type Registry = registry.Registry

// Expand substitutes an item's positional values and the group's named
// parameters into a command template.
func Expand(tmpl string, item Item, params map[string]string) Command {
	return template.Expand(tmpl, item, params)
}

// ParseItem resolves an item into a concrete command line for a tool.
func ParseItem(tool, toolTemplate string, item Item, params map[string]string) Command {
	return template.ParseItem(tool, toolTemplate, item, params)
}

// NewSupervisor creates a supervisor with its control loop running.
func NewSupervisor(opts Options) *Supervisor { return supervisor.New(opts) }

// OpenRegistry opens the process record store at dir; empty selects the
// per-user default directory.
func OpenRegistry(dir string) (*Registry, error) { return registry.New(dir) }
