package canvas

import (
	"fmt"

	"github.com/google/uuid"

	apperrors "canvas-backend/pkg/errors"
)

// Placement grid. Spacing doubles as the collision extent: two nodes closer
// than half a pitch on both axes are considered overlapping.
const (
	layoutSpacingX = 320.0
	layoutSpacingY = 120.0
)

// NodeSpec describes a node to be added to a canvas. ID and Position are
// optional; absent values are assigned by PrepareAddNode.
type NodeSpec struct {
	ID       string    `json:"id,omitempty"`
	Type     string    `json:"type"`
	Position *Position `json:"position,omitempty"`
	Data     NodeData  `json:"data"`
}

// ConnectFilter selects existing nodes a new node should be wired from.
// EntityID narrows the match; empty matches any node of the type.
type ConnectFilter struct {
	Type     string `json:"type"`
	EntityID string `json:"entityId,omitempty"`
}

// AddNodeResult is the outcome of preparing one node insertion
type AddNodeResult struct {
	NewNode  Node
	NewEdges []Edge
}

// PrepareAddNode computes the node and edges that adding spec to the given
// graph produces, without mutating its inputs. The new node gets an id when
// the spec has none and a deterministic non-overlapping position when the
// spec has none or autoLayout is set. For every connect filter that matches
// existing nodes an edge is emitted from each match to the new node; when no
// filter resolves, the new node is wired from the canvas entry node instead,
// if one exists.
func PrepareAddNode(nodes []Node, edges []Edge, spec NodeSpec, filters []ConnectFilter, autoLayout bool) (*AddNodeResult, error) {
	if spec.Type == "" {
		return nil, apperrors.NewValidationError("node spec is missing a type")
	}

	id := spec.ID
	if id == "" {
		id = uuid.New().String()
	}
	for _, n := range nodes {
		if n.ID == id {
			return nil, apperrors.NewValidationError(fmt.Sprintf("node %s already exists on the canvas", id))
		}
	}

	var pos Position
	if spec.Position != nil && !autoLayout {
		pos = resolveCollision(nodes, *spec.Position)
	} else {
		pos = nextFreePosition(nodes)
	}

	newNode := Node{
		ID:       id,
		Type:     spec.Type,
		Position: pos,
		Data:     spec.Data,
	}
	newNode.Data.Metadata = deepCopyMap(spec.Data.Metadata)

	newEdges := connectEdges(nodes, newNode, filters)

	return &AddNodeResult{NewNode: newNode, NewEdges: newEdges}, nil
}

// connectEdges resolves filters to source nodes, deduplicated by source id.
// Node array order drives edge order, keeping output deterministic.
func connectEdges(nodes []Node, newNode Node, filters []ConnectFilter) []Edge {
	var out []Edge
	seen := make(map[string]struct{})

	for _, f := range filters {
		for _, n := range nodes {
			if n.Type != f.Type {
				continue
			}
			if f.EntityID != "" && n.Data.EntityID != f.EntityID {
				continue
			}
			if _, dup := seen[n.ID]; dup {
				continue
			}
			seen[n.ID] = struct{}{}
			out = append(out, Edge{
				ID:     uuid.New().String(),
				Source: n.ID,
				Target: newNode.ID,
			})
		}
	}

	if len(out) > 0 {
		return out
	}

	// Default wiring: hang the node off the entry node so nothing is left
	// floating disconnected.
	for _, n := range nodes {
		if n.Type == NodeTypeStart && n.ID != newNode.ID {
			return []Edge{{
				ID:     uuid.New().String(),
				Source: n.ID,
				Target: newNode.ID,
			}}
		}
	}

	return nil
}

// nextFreePosition places a node one pitch right of the occupied bounding
// box, on the row of the current rightmost node, probing downward until the
// slot is free. Purely a function of the input nodes.
func nextFreePosition(nodes []Node) Position {
	if len(nodes) == 0 {
		return Position{X: 0, Y: 0}
	}

	maxX := nodes[0].Position.X
	y := nodes[0].Position.Y
	for _, n := range nodes[1:] {
		if n.Position.X > maxX {
			maxX = n.Position.X
			y = n.Position.Y
		}
	}

	return resolveCollision(nodes, Position{X: maxX + layoutSpacingX, Y: y})
}

// resolveCollision probes downward from the candidate until no existing node
// overlaps it
func resolveCollision(nodes []Node, candidate Position) Position {
	for overlapsAny(nodes, candidate) {
		candidate.Y += layoutSpacingY
	}
	return candidate
}

func overlapsAny(nodes []Node, p Position) bool {
	for _, n := range nodes {
		dx := n.Position.X - p.X
		dy := n.Position.Y - p.Y
		if dx < 0 {
			dx = -dx
		}
		if dy < 0 {
			dy = -dy
		}
		if dx < layoutSpacingX/2 && dy < layoutSpacingY/2 {
			return true
		}
	}
	return false
}
