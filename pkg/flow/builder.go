package flow

// Builder constructs a Flow fluently. It is the programmatic
// counterpart of the JSON document, used by tests and example hosts.
// Build returns the raw Flow; validation happens in the compiler.
type Builder struct {
	f Flow
}

// NewBuilder starts a flow definition.
func NewBuilder(id string) *Builder {
	return &Builder{f: Flow{ID: id, SchemaVersion: SchemaVersion}}
}

// Entry sets the entry node id.
func (b *Builder) Entry(id string) *Builder {
	b.f.Entry = id
	return b
}

// NodeOption customizes a node under construction.
type NodeOption func(*Node)

// Skippable marks the node skippable.
func Skippable() NodeOption { return func(n *Node) { n.Skippable = true } }

// Revisitable marks the node revisitable.
func Revisitable() NodeOption { return func(n *Node) { n.Revisitable = true } }

// Required marks a question as required.
func Required() NodeOption { return func(n *Node) { n.Required = true } }

// Label sets the display label.
func Label(label string) NodeOption { return func(n *Node) { n.Label = label } }

// DependsOn lists answer keys that must be filled before the question
// becomes eligible.
func DependsOn(keys ...string) NodeOption {
	return func(n *Node) { n.Dependencies = append(n.Dependencies, keys...) }
}

// AskPriority sets the question's tie-break priority for next-unanswered
// selection.
func AskPriority(p int) NodeOption { return func(n *Node) { n.Priority = p } }

// Allowed restricts the question's accepted values.
func Allowed(values ...string) NodeOption {
	return func(n *Node) { n.AllowedValues = append(n.AllowedValues, values...) }
}

// DataType declares the question's answer type for validation.
func DataType(t string) NodeOption { return func(n *Node) { n.DataType = t } }

// MaxAttempts caps validation retries on a question.
func MaxAttempts(n int) NodeOption { return func(node *Node) { node.MaxAttempts = n } }

// Meta attaches a metadata key.
func Meta(key string, value any) NodeOption {
	return func(n *Node) {
		if n.Meta == nil {
			n.Meta = make(map[string]any)
		}
		n.Meta[key] = value
	}
}

// Outputs names the answer keys an action writes.
func Outputs(keys ...string) NodeOption {
	return func(n *Node) { n.OutputKeys = append(n.OutputKeys, keys...) }
}

// MapIn renames a parent answer key into a subflow.
func MapIn(parent, child string) NodeOption {
	return func(n *Node) {
		if n.InputMapping == nil {
			n.InputMapping = make(map[string]string)
		}
		n.InputMapping[parent] = child
	}
}

// MapOut renames a subflow answer key back into the parent.
func MapOut(child, parent string) NodeOption {
	return func(n *Node) {
		if n.OutputMapping == nil {
			n.OutputMapping = make(map[string]string)
		}
		n.OutputMapping[child] = parent
	}
}

// Question adds a question node asking for the given answer key.
func (b *Builder) Question(id, key, prompt string, opts ...NodeOption) *Builder {
	return b.add(Node{ID: id, Kind: KindQuestion, Key: key, Prompt: prompt}, opts)
}

// Decision adds a decision node.
func (b *Builder) Decision(id string, dt DecisionType, prompt string, opts ...NodeOption) *Builder {
	return b.add(Node{ID: id, Kind: KindDecision, DecisionType: dt, DecisionPrompt: prompt}, opts)
}

// Terminal adds a terminal node.
func (b *Builder) Terminal(id, reason string, success bool, opts ...NodeOption) *Builder {
	return b.add(Node{ID: id, Kind: KindTerminal, Reason: reason, Success: success}, opts)
}

// Action adds an action node dispatched to the handler registered for
// actionType.
func (b *Builder) Action(id, actionType string, config map[string]any, opts ...NodeOption) *Builder {
	return b.add(Node{ID: id, Kind: KindAction, ActionType: actionType, ActionConfig: config}, opts)
}

// Call adds a subflow invocation node.
func (b *Builder) Call(id, flowRef string, opts ...NodeOption) *Builder {
	return b.add(Node{ID: id, Kind: KindSubflow, FlowRef: flowRef}, opts)
}

func (b *Builder) add(n Node, opts []NodeOption) *Builder {
	for _, opt := range opts {
		opt(&n)
	}
	b.f.Nodes = append(b.f.Nodes, n)
	return b
}

// EdgeOption customizes an edge under construction.
type EdgeOption func(*Edge)

// Guarded attaches a guard to the edge.
func Guarded(fn string, args map[string]any) EdgeOption {
	return func(e *Edge) { e.Guard = &GuardRef{Fn: fn, Args: args} }
}

// Priority sets the edge evaluation priority (ascending).
func Priority(p int) EdgeOption { return func(e *Edge) { e.Priority = p } }

// EdgeLabel sets the edge label.
func EdgeLabel(label string) EdgeOption { return func(e *Edge) { e.Label = label } }

// Hint sets the natural-language condition description the LLM sees.
func Hint(desc string) EdgeOption { return func(e *Edge) { e.ConditionDescription = desc } }

// Edge connects two nodes.
func (b *Builder) Edge(source, target string, opts ...EdgeOption) *Builder {
	e := Edge{Source: source, Target: target}
	for _, opt := range opts {
		opt(&e)
	}
	b.f.Edges = append(b.f.Edges, e)
	return b
}

// Policies sets the flow policies.
func (b *Builder) Policies(p Policies) *Builder {
	b.f.Policies = &p
	return b
}

// Subflow registers a nested flow under name.
func (b *Builder) Subflow(name string, sub *Flow) *Builder {
	if b.f.Subflows == nil {
		b.f.Subflows = make(map[string]*Flow)
	}
	b.f.Subflows[name] = sub
	return b
}

// Validation registers a named answer validation rule.
func (b *Builder) Validation(name string, rule ValidationRule) *Builder {
	if b.f.Validations == nil {
		b.f.Validations = make(map[string]ValidationRule)
	}
	b.f.Validations[name] = rule
	return b
}

// Build returns the assembled flow.
func (b *Builder) Build() *Flow {
	return b.f.Clone()
}
