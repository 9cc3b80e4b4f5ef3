package deployment

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/gammadia/fleet/cluster"
	"github.com/gammadia/fleet/config"
	"github.com/gammadia/fleet/graph"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/samber/lo"
)

var ErrValidation = errors.New("invalid deployment")

type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Field, e.Msg)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Validator checks the parameters of a task kind. *engine.Registry implements it.
type Validator interface {
	Validate(taskType string, parameters map[string]any) error
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// descriptor is one task entry of the graph document, merged with its directory entry.
type descriptor struct {
	ID          string            `mapstructure:"id" validate:"required"`
	Type        string            `mapstructure:"type" validate:"required"`
	Parameters  map[string]any    `mapstructure:"parameters"`
	Requires    []any             `mapstructure:"requires"`
	RequiredFor []any             `mapstructure:"required_for"`
	FailOnError *bool             `mapstructure:"fail_on_error"`
	Strategy    *cluster.Strategy `mapstructure:"strategy"`
	Extra       map[string]any    `mapstructure:",remain"`
}

// Plan is a validated deployment, ready to run.
type Plan struct {
	Arena           *graph.Arena
	CriticalNodes   []string
	Groups          []cluster.FaultToleranceGroup
	TaskConcurrency map[string]int
	Subgraphs       []cluster.Subgraph
	NodeConcurrency int
	VirtualNode     string
}

// Options turns the plan policies into cluster options.
func (p *Plan) Options() []cluster.Option {
	return []cluster.Option{
		cluster.WithCriticalNodes(p.CriticalNodes...),
		cluster.WithFaultToleranceGroups(p.Groups...),
		cluster.WithTaskConcurrency(p.TaskConcurrency),
		cluster.WithSubgraphs(p.Subgraphs...),
	}
}

// Nodes returns the deployment targets, without the virtual sync node.
func (p *Plan) Nodes() []string {
	var nodes []string
	for _, g := range p.Arena.Graphs() {
		if g.Node() != p.VirtualNode {
			nodes = append(nodes, g.Node())
		}
	}
	return nodes
}

type builder struct {
	input     Input
	validator Validator
	config    config.Config
	arena     *graph.Arena
	plan      *Plan
}

// Build validates the input and turns it into a plan. Every problem with the input is a
// ValidationError, except dependency loops which are reported as graph.LoopError.
func Build(input Input, validator Validator, cfg config.Config) (*Plan, error) {
	b := &builder{
		input:     input,
		validator: validator,
		config:    cfg,
		arena:     graph.NewArena(),
	}
	b.plan = &Plan{
		Arena:           b.arena,
		TaskConcurrency: map[string]int{},
		NodeConcurrency: input.Metadata.NodeConcurrency,
		VirtualNode:     cfg.VirtualSyncNodeID,
	}

	if len(input.Graph) == 0 {
		return nil, invalid("graph", "no nodes to deploy")
	}

	descriptors, err := b.createTasks()
	if err != nil {
		return nil, err
	}
	if err := b.linkTasks(descriptors); err != nil {
		return nil, err
	}
	if err := b.arena.CheckLoops(); err != nil {
		return nil, err
	}

	for _, step := range []func() error{b.criticalNodes, b.faultToleranceGroups, b.strategies, b.subgraphs} {
		if err := step(); err != nil {
			return nil, err
		}
	}
	if b.plan.NodeConcurrency < 0 {
		return nil, invalid("node_concurrency", "must not be negative")
	}
	return b.plan, nil
}

func (b *builder) node(id string) string {
	switch id {
	case "", "null", "~":
		return b.config.VirtualSyncNodeID
	}
	return id
}

func (b *builder) createTasks() (map[*graph.Task]descriptor, error) {
	descriptors := map[*graph.Task]descriptor{}
	for _, nodeID := range sortedNodes(lo.Keys(b.input.Graph)) {
		node := b.node(nodeID)
		g := b.arena.Graph(node)

		for i, raw := range b.input.Graph[nodeID] {
			field := fmt.Sprintf("graph[%s][%d]", node, i)

			data := lo.Assign(b.input.Directory[fmt.Sprint(raw["id"])], raw)
			d, err := decodeDescriptor(data)
			if err != nil {
				return nil, invalid(field, "%s", err)
			}
			field = fmt.Sprintf("graph[%s][%s]", node, d.ID)

			if _, exists := g.Task(d.ID); exists {
				return nil, invalid(field, "duplicate task id")
			}
			if err := b.validator.Validate(d.Type, d.Parameters); err != nil {
				return nil, invalid(field, "%s", err)
			}

			if d.FailOnError != nil {
				data["fail_on_error"] = *d.FailOnError
			}
			task := g.CreateTask(d.ID, data)
			descriptors[task] = d
		}
	}
	return descriptors, nil
}

func decodeDescriptor(data map[string]any) (descriptor, error) {
	var d descriptor
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &d,
	})
	if err != nil {
		return descriptor{}, err
	}
	if err := decoder.Decode(data); err != nil {
		return descriptor{}, err
	}
	if err := validate.Struct(d); err != nil {
		return descriptor{}, err
	}
	return d, nil
}

// linkTasks wires requires and required_for references once every task exists.
func (b *builder) linkTasks(descriptors map[*graph.Task]descriptor) error {
	for _, task := range b.arena.Tasks() {
		d, ok := descriptors[task]
		if !ok {
			continue
		}
		field := fmt.Sprintf("graph[%s][%s]", task.Node, task.Name)

		for _, ref := range d.Requires {
			other, err := b.resolveReference(task, ref)
			if err != nil {
				return invalid(field+".requires", "%s", err)
			}
			if err := b.arena.AddDependency(other, task); err != nil {
				return invalid(field+".requires", "%s", err)
			}
		}
		for _, ref := range d.RequiredFor {
			other, err := b.resolveReference(task, ref)
			if err != nil {
				return invalid(field+".required_for", "%s", err)
			}
			if err := b.arena.AddDependency(task, other); err != nil {
				return invalid(field+".required_for", "%s", err)
			}
		}
	}
	return nil
}

// resolveReference finds the task named by a reference: a plain name on the same node, or
// a {name, node_id} mapping where a null node_id designates the virtual sync node. Missing
// tasks on the virtual sync node are created as synchronisation stages.
func (b *builder) resolveReference(from *graph.Task, ref any) (*graph.Task, error) {
	name, node := "", from.Node
	switch ref := ref.(type) {
	case string:
		name = ref
	case map[string]any:
		if value, ok := ref["name"]; ok && value != nil {
			name = fmt.Sprint(value)
		}
		if id, present := ref["node_id"]; present {
			node = b.config.VirtualSyncNodeID
			if id != nil {
				node = b.node(fmt.Sprint(id))
			}
		}
	default:
		return nil, fmt.Errorf("invalid reference %v", ref)
	}
	if name == "" {
		return nil, fmt.Errorf("reference without a name")
	}

	if task, ok := b.arena.Lookup(node, name); ok {
		return task, nil
	}
	if node == b.config.VirtualSyncNodeID {
		return b.arena.Graph(node).CreateTask(name, map[string]any{"id": name, "type": "stage"}), nil
	}
	return nil, fmt.Errorf("%w: '%s' on node '%s'", graph.ErrNoSuchTask, name, node)
}

func (b *builder) criticalNodes() error {
	for _, id := range b.input.Metadata.CriticalNodes {
		if !b.hasNode(id) {
			return invalid("critical_nodes", "unknown node '%s'", id)
		}
		b.plan.CriticalNodes = append(b.plan.CriticalNodes, id)
	}
	return nil
}

func (b *builder) hasNode(id string) bool {
	return lo.SomeBy(b.arena.Graphs(), func(g *graph.Graph) bool { return g.Node() == id })
}

func (b *builder) faultToleranceGroups() error {
	for i, group := range b.input.Metadata.FaultToleranceGroups {
		field := fmt.Sprintf("fault_tolerance_groups[%d]", i)
		if group.FaultTolerance < 0 || group.FaultTolerance > 100 {
			return invalid(field, "fault_tolerance must be a percentage, got %d", group.FaultTolerance)
		}
		if unknown, found := lo.Find(group.NodeIDs, func(id string) bool { return !b.hasNode(id) }); found {
			return invalid(field, "unknown node '%s'", unknown)
		}
		b.plan.Groups = append(b.plan.Groups, cluster.FaultToleranceGroup{
			Name:      lo.Ternary(group.Name != "", group.Name, fmt.Sprintf("group-%d", i)),
			NodeIDs:   lo.Uniq(group.NodeIDs),
			Tolerance: group.FaultTolerance,
		})
	}
	return nil
}

// strategies resolves per task name concurrency. The first strategy declared for a name wins.
func (b *builder) strategies() error {
	totals := map[string]int{}
	strategies := map[string]cluster.Strategy{}
	for _, task := range b.arena.Tasks() {
		totals[task.Name]++
		if _, seen := strategies[task.Name]; seen {
			continue
		}
		raw, ok := task.Data["strategy"]
		if !ok || raw == nil {
			continue
		}
		var strategy cluster.Strategy
		if err := mapstructure.WeakDecode(raw, &strategy); err != nil {
			return invalid(fmt.Sprintf("graph[%s][%s].strategy", task.Node, task.Name), "%s", err)
		}
		strategies[task.Name] = strategy
	}

	for name, strategy := range strategies {
		maximum, err := strategy.Maximum(totals[name])
		if err != nil {
			return invalid(name+".strategy", "%s", err)
		}
		if maximum > 0 {
			b.plan.TaskConcurrency[name] = maximum
		}
	}
	return nil
}

func (b *builder) subgraphs() error {
	for i, subgraph := range b.input.Metadata.Subgraphs {
		start, err := b.resolveTasks(subgraph.Start)
		if err != nil {
			return invalid(fmt.Sprintf("subgraphs[%d].start", i), "%s", err)
		}
		end, err := b.resolveTasks(subgraph.End)
		if err != nil {
			return invalid(fmt.Sprintf("subgraphs[%d].end", i), "%s", err)
		}
		b.plan.Subgraphs = append(b.plan.Subgraphs, cluster.Subgraph{Start: start, End: end})
	}
	return nil
}

func (b *builder) resolveTasks(references []string) ([]*graph.Task, error) {
	var tasks []*graph.Task
	for _, reference := range references {
		name, nodes, err := parseTaskReference(reference)
		if err != nil {
			return nil, err
		}

		matches := lo.Filter(b.arena.Tasks(), func(task *graph.Task, _ int) bool {
			return task.Name == name && (nodes == nil || lo.Contains(nodes, task.Node))
		})
		if len(matches) == 0 {
			return nil, fmt.Errorf("%w: '%s'", graph.ErrNoSuchTask, reference)
		}
		tasks = append(tasks, matches...)
	}
	return lo.Uniq(tasks), nil
}

// sortedNodes orders node ids numerically when both are numbers, lexically otherwise.
func sortedNodes(ids []string) []string {
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return ids[i] < ids[j]
		}
	})
	return ids
}
