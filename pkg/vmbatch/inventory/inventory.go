// Package inventory is a simulated virtualization endpoint described by a
// YAML file. It resolves machines by name, ID or pattern and drives state
// changes through watchable tasks.
package inventory

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gammazero/toposort"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/arthur-debert/vmbatch/pkg/vmbatch/core"
)

// MachineState is the power state of a machine.
type MachineState string

const (
	StateRunning MachineState = "Running"
	StateOff     MachineState = "Off"
)

// DefaultSteps is how many progress steps a state change takes when the
// inventory does not say.
const DefaultSteps = 4

// Machine is one virtual machine of the inventory.
type Machine struct {
	Name       string       `yaml:"name" validate:"required"`
	ID         string       `yaml:"id"`
	State      MachineState `yaml:"state" validate:"omitempty,oneof=Running Off"`
	DependsOn  []string     `yaml:"depends_on"`
	Cancelable bool         `yaml:"cancelable"`
	// Fail, when set, makes every state change of the machine fault with
	// this message.
	Fail  string `yaml:"fail"`
	Steps int    `yaml:"steps" validate:"gte=0,lte=100"`
}

func (m Machine) String() string {
	if m.ID == "" {
		return fmt.Sprintf("%-16s %s", m.Name, m.State)
	}
	return fmt.Sprintf("%-16s %-8s %s", m.Name, m.State, m.ID)
}

// File is the on-disk inventory.
type File struct {
	Endpoint string     `yaml:"endpoint" validate:"required"`
	Machines []*Machine `yaml:"machines" validate:"dive"`
}

// Load reads and validates the inventory at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.Wrap(err, core.CategoryOf(err), "read inventory").WithTarget(path)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, core.Wrap(err, core.CategoryOf(err), "load inventory").WithTarget(path)
	}
	return f, nil
}

// Parse decodes and validates an inventory document. Unknown keys are
// rejected.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, core.Wrap(err, core.CategoryInvalidArgument, "invalid inventory document")
	}

	if err := validator.New().Struct(&f); err != nil {
		return nil, core.Wrap(err, core.CategoryInvalidArgument, "invalid inventory")
	}

	seen := make(map[string]bool, len(f.Machines))
	for _, m := range f.Machines {
		if seen[m.Name] {
			return nil, core.Newf(core.CategoryInvalidArgument, "duplicate machine name %q", m.Name)
		}
		seen[m.Name] = true
		if m.State == "" {
			m.State = StateOff
		}
		if m.Steps == 0 {
			m.Steps = DefaultSteps
		}
	}
	for _, m := range f.Machines {
		for _, dep := range m.DependsOn {
			if !seen[dep] {
				return nil, core.Newf(core.CategoryInvalidArgument, "machine %q depends on unknown machine %q", m.Name, dep)
			}
		}
	}
	if _, err := dependencyRanks(f.Machines); err != nil {
		return nil, err
	}
	return &f, nil
}

// dependencyRanks gives every machine its depth in the dependency graph:
// machines without dependencies have rank 0 and every machine ranks above
// all of its dependencies.
func dependencyRanks(machines []*Machine) (map[string]int, error) {
	byName := make(map[string]*Machine, len(machines))
	edges := make([]toposort.Edge, 0)
	for _, m := range machines {
		byName[m.Name] = m
		for _, dep := range m.DependsOn {
			// dependency -> machine
			edges = append(edges, toposort.Edge{dep, m.Name})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, core.Wrap(err, core.CategoryInvalidArgument, "circular machine dependency")
	}

	ranks := make(map[string]int, len(machines))
	for _, node := range sorted {
		name, ok := node.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected type in topological sort result: %T", node)
		}
		rank := 0
		for _, dep := range byName[name].DependsOn {
			rank = max(rank, ranks[dep]+1)
		}
		ranks[name] = rank
	}
	return ranks, nil
}
