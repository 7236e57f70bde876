package flow

// Clone returns a deep copy of the flow. The modify service edits the
// copy and swaps the definition wholesale, so the live Flow is never
// mutated in place.
func (f *Flow) Clone() *Flow {
	if f == nil {
		return nil
	}
	next := *f
	next.Metadata = cloneAnyMap(f.Metadata)
	next.Context = cloneAnyMap(f.Context)

	next.Nodes = make([]Node, len(f.Nodes))
	for i := range f.Nodes {
		next.Nodes[i] = f.Nodes[i].Clone()
	}
	next.Edges = make([]Edge, len(f.Edges))
	for i := range f.Edges {
		next.Edges[i] = f.Edges[i].Clone()
	}

	if f.Policies != nil {
		p := *f.Policies
		if f.Policies.PathSelection != nil {
			ps := *f.Policies.PathSelection
			if ps.AllowSwitchBeforeLock != nil {
				b := *ps.AllowSwitchBeforeLock
				ps.AllowSwitchBeforeLock = &b
			}
			p.PathSelection = &ps
		}
		if f.Policies.Conversation != nil {
			cv := *f.Policies.Conversation
			p.Conversation = &cv
		}
		if f.Policies.Validation != nil {
			vp := *f.Policies.Validation
			p.Validation = &vp
		}
		next.Policies = &p
	}

	if f.Validations != nil {
		next.Validations = make(map[string]ValidationRule, len(f.Validations))
		for k, v := range f.Validations {
			rule := v
			rule.AllowedValues = append([]string(nil), v.AllowedValues...)
			next.Validations[k] = rule
		}
	}
	if f.Subflows != nil {
		next.Subflows = make(map[string]*Flow, len(f.Subflows))
		for name, sub := range f.Subflows {
			next.Subflows[name] = sub.Clone()
		}
	}
	return &next
}

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	next := n
	next.Meta = cloneAnyMap(n.Meta)
	next.AllowedValues = append([]string(nil), n.AllowedValues...)
	next.Dependencies = append([]string(nil), n.Dependencies...)
	next.ActionConfig = cloneAnyMap(n.ActionConfig)
	next.OutputKeys = append([]string(nil), n.OutputKeys...)
	next.InputMapping = cloneStringMap(n.InputMapping)
	next.OutputMapping = cloneStringMap(n.OutputMapping)
	return next
}

// Clone returns a deep copy of the edge.
func (e Edge) Clone() Edge {
	next := e
	if e.Guard != nil {
		g := *e.Guard
		g.Args = cloneAnyMap(e.Guard.Args)
		next.Guard = &g
	}
	return next
}

// cloneAnyMap deep-copies one level of maps and slices; scalar values
// are shared, which is safe because answers and configs are treated as
// immutable once written.
func cloneAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return cloneAnyMap(tv)
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), tv...)
	default:
		return v
	}
}
