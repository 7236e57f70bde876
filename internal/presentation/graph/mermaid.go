package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/palaverhq/palaver/pkg/compiler"
	"github.com/palaverhq/palaver/pkg/flow"
)

// Overlay contains dynamic session state to visualize on the graph.
type Overlay struct {
	VisitedNodes []string
	CurrentNode  string
}

// GenerateMermaid produces a Mermaid flowchart from a compiled flow.
// Node shapes follow kind:
//   - terminal: ((circle))
//   - action:   [[subroutine]]
//   - question: [/parallelogram/]
//   - decision: {diamond}
//   - subflow:  [[call]], with the called flow rendered as a subgraph
//
// Guarded edges are labeled with the guard function; subflow calls use
// dotted arrows. Overlay styles mark visited and current nodes.
func GenerateMermaid(cf *compiler.CompiledFlow, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	writeFlow(&sb, cf, "")

	names := make([]string, 0, len(cf.Subflows))
	for name := range cf.Subflows {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sub := cf.Subflows[name]
		sb.WriteString(fmt.Sprintf("\n    subgraph %s\n", sanitizeMermaidID(name)))
		writeFlow(&sb, sub, sanitizeMermaidID(name)+"__")
		sb.WriteString("    end\n")
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		visitedSet := make(map[string]bool)
		for _, id := range overlay.VisitedNodes {
			safeID := sanitizeMermaidID(id)
			if safeID != "" && !visitedSet[safeID] {
				visitedSet[safeID] = true
				sb.WriteString(fmt.Sprintf("    class %s visited;\n", safeID))
			}
		}
		if overlay.CurrentNode != "" {
			sb.WriteString(fmt.Sprintf("    class %s current;\n", sanitizeMermaidID(overlay.CurrentNode)))
		}
	}

	return sb.String()
}

// writeFlow emits nodes and edges in declaration order so output is
// stable across runs.
func writeFlow(sb *strings.Builder, cf *compiler.CompiledFlow, prefix string) {
	def := cf.Definition()
	for i := range def.Nodes {
		node := &def.Nodes[i]
		safeID := prefix + sanitizeMermaidID(node.ID)

		opener, closer := "[", "]"
		switch node.Kind {
		case flow.KindTerminal:
			opener, closer = "((", "))"
		case flow.KindAction, flow.KindSubflow:
			opener, closer = "[[", "]]"
		case flow.KindQuestion:
			opener, closer = "[/", "/]"
		case flow.KindDecision:
			opener, closer = "{", "}"
		}

		label := node.ID
		if node.Label != "" {
			label = node.Label
		}
		sb.WriteString(fmt.Sprintf("    %s%s\"%s\"%s\n", safeID, opener, escapeLabel(label), closer))

		for _, e := range cf.Outgoing(node.ID) {
			safeTo := prefix + sanitizeMermaidID(e.Target)
			arrow := "-->"
			if g := e.Guard; g != nil && g.Fn != "always" {
				arrow = fmt.Sprintf("-- \"%s\" -->", escapeLabel(guardLabel(g)))
			} else if e.Label != "" {
				arrow = fmt.Sprintf("-- \"%s\" -->", escapeLabel(e.Label))
			}
			sb.WriteString(fmt.Sprintf("    %s %s %s\n", safeID, arrow, safeTo))
		}

		// Dotted call edge into the subflow's entry.
		if node.Kind == flow.KindSubflow {
			if sub, ok := cf.Subflows[node.FlowRef]; ok {
				target := sanitizeMermaidID(node.FlowRef) + "__" + sanitizeMermaidID(sub.Entry)
				sb.WriteString(fmt.Sprintf("    %s -. call .-> %s\n", safeID, target))
			}
		}
	}
}

func guardLabel(g *flow.GuardRef) string {
	if len(g.Args) == 0 {
		return g.Fn
	}
	keys := make([]string, 0, len(g.Args))
	for k := range g.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, g.Args[k]))
	}
	return fmt.Sprintf("%s(%s)", g.Fn, strings.Join(parts, ", "))
}

func escapeLabel(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	return s
}
