// Package demo provides the robot-arm tool set used by the CLI, the HTTP
// service and the end-to-end tests.
package demo

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ZanzyTHEbar/dragonscale-intents/pkg/registry"
)

// Components that initialize_components accepts.
var Components = []string{"table", "gripper", "camera", "shelf"}

// DefaultInventory maps screw length to count.
func DefaultInventory() map[int64]int64 {
	return map[int64]int64{8: 4, 10: 20, 11: 3, 12: 14, 16: 2}
}

// RobotArm is a simulated arm picking screws from a shelf.
type RobotArm struct {
	mu        sync.Mutex
	inventory map[int64]int64
	actions   []string
}

// NewRobotArm creates an arm stocked with inventory, or with
// DefaultInventory when inventory is nil.
func NewRobotArm(inventory map[int64]int64) *RobotArm {
	if inventory == nil {
		inventory = DefaultInventory()
	}
	stock := make(map[int64]int64, len(inventory))
	for k, v := range inventory {
		stock[k] = v
	}
	return &RobotArm{inventory: stock}
}

// Registry returns a frozen registry holding the arm's tools, its
// inventory query source and any extra sources.
func (r *RobotArm) Registry(extra ...registry.Source) (*registry.Registry, error) {
	reg := registry.New()
	err := reg.Register(
		registry.NewTool("retrieve_screw", r.RetrieveScrew,
			registry.WithDescription("Retrieve screws of a specific length from the inventory."),
			registry.WithCategory("Arm"),
			registry.WithParam("count", registry.Int, "Number of screws to retrieve."),
			registry.WithParam("length", registry.Int, "Length of the screws to retrieve."),
			registry.WithReturns(registry.String, "A confirmation message."),
			registry.WithExamples(
				`retrieve_screw(count=2, length=12)`,
				`retrieve_screw(count=FuzzyValue("a few"), length=ASK("what length?"))`,
			),
			registry.WithValidator(validateRetrieve),
		),
		registry.NewTool("organize", r.Organize,
			registry.WithDescription("Organize the screws that are on the table."),
			registry.WithCategory("Arm"),
		),
		registry.NewTool("initialize_components", r.InitializeComponents,
			registry.WithDescription("Initialize one or more of the following components: "+strings.Join(Components, ", ")+"."),
			registry.WithCategory("System"),
			registry.WithParam("components", registry.ListOf(registry.String), "One or more of the components to initialize."),
			registry.WithScalarToList(),
			registry.WithValidator(validateComponents),
		),
		registry.NewTool("shutdown", r.Shutdown,
			registry.WithDescription("Shutdown the system."),
			registry.WithCategory("System"),
		),
	)
	if err != nil {
		return nil, err
	}
	err = reg.RegisterSource(registry.NewQuerySource("inventory",
		"Returns the inventory of screws, including their length and count. Useful to resolve "+
			"quantities such as 'all' or 'the longest'.",
		func(_ context.Context, _ string) (string, error) { return r.InventoryYAML() }))
	if err == nil && len(extra) > 0 {
		err = reg.RegisterSource(extra...)
	}
	if err != nil {
		return nil, err
	}
	return reg.Freeze(), nil
}

// RetrieveScrew takes count screws of the given length off the shelf. A
// missing length or short stock is a recoverable condition.
func (r *RobotArm) RetrieveScrew(_ context.Context, args registry.Args) (any, error) {
	count, length := args.Int("count"), args.Int("length")
	log.Printf("TOOL: retrieve_screw (count: %d, length: %d)", count, length)

	r.mu.Lock()
	defer r.mu.Unlock()
	available, ok := r.inventory[length]
	if !ok {
		return nil, registry.AbortAndResolve("No screws of length %d found in inventory.", length)
	}
	if available < count {
		return nil, registry.AbortAndResolve("Not enough screws of length %d. Requested %d, available %d.",
			length, count, available)
	}
	if available == count {
		delete(r.inventory, length)
	} else {
		r.inventory[length] = available - count
	}
	msg := fmt.Sprintf("Retrieved %d screws of length %d. Remaining: %d", count, length, available-count)
	r.actions = append(r.actions, fmt.Sprintf("retrieve_screw(count=%d, length=%d)", count, length))
	return msg, nil
}

// Organize tidies the table.
func (r *RobotArm) Organize(_ context.Context, _ registry.Args) (any, error) {
	log.Printf("TOOL: organize")
	r.record("organize()")
	return nil, nil
}

// InitializeComponents powers up the named components.
func (r *RobotArm) InitializeComponents(_ context.Context, args registry.Args) (any, error) {
	components := args.Strings("components")
	log.Printf("TOOL: initialize_components (components: %v)", components)
	r.record(fmt.Sprintf("initialize_components(components=%q)", components))
	return nil, nil
}

// Shutdown stops the arm.
func (r *RobotArm) Shutdown(_ context.Context, _ registry.Args) (any, error) {
	log.Printf("TOOL: shutdown")
	r.record("shutdown()")
	return nil, nil
}

func (r *RobotArm) record(action string) {
	r.mu.Lock()
	r.actions = append(r.actions, action)
	r.mu.Unlock()
}

// Actions lists the tool calls that succeeded, oldest first.
func (r *RobotArm) Actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.actions))
	copy(out, r.actions)
	return out
}

// Stock returns the count left for length.
func (r *RobotArm) Stock(length int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inventory[length]
}

type inventoryEntry struct {
	Length int64 `yaml:"length"`
	Count  int64 `yaml:"count"`
}

// InventoryYAML renders the inventory sorted by length.
func (r *RobotArm) InventoryYAML() (string, error) {
	r.mu.Lock()
	entries := make([]inventoryEntry, 0, len(r.inventory))
	for length, count := range r.inventory {
		entries = append(entries, inventoryEntry{Length: length, Count: count})
	}
	r.mu.Unlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Length < entries[j].Length })

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(map[string][]inventoryEntry{"inventory": entries}); err != nil {
		return "", fmt.Errorf("failed to render inventory: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to render inventory: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

func validateRetrieve(args registry.Args) error {
	if args.Int("count") <= 0 {
		return fmt.Errorf("count must be positive, got %d", args.Int("count"))
	}
	if args.Int("length") <= 0 {
		return fmt.Errorf("length must be positive, got %d", args.Int("length"))
	}
	return nil
}

func validateComponents(args registry.Args) error {
	components := args.Strings("components")
	if len(components) == 0 {
		return fmt.Errorf("at least one component is required")
	}
	for _, c := range components {
		known := false
		for _, k := range Components {
			if c == k {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("unknown component %q (expected one of %s)", c, strings.Join(Components, ", "))
		}
	}
	return nil
}
