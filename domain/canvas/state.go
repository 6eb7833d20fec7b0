package canvas

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// Node types the engine gives special meaning to. Any other type string is
// carried through untouched.
const (
	NodeTypeStart = "start"
	NodeTypeTool  = "tool"
)

// Position is a node's placement on the canvas
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeData carries the payload attached to a node
type NodeData struct {
	Title    string                 `json:"title,omitempty"`
	EntityID string                 `json:"entityId,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Node is a single vertex of the canvas graph
type Node struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Position Position `json:"position"`
	Data     NodeData `json:"data"`
}

// Edge is a directed connection between two nodes
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// VersionHistoryEntry records a superseded version. The history list is
// append-only: entries are never rewritten or reordered.
type VersionHistoryEntry struct {
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Hash      string    `json:"hash"`
}

// State is the full synchronized document for one canvas: the node/edge
// graph, the transaction log appended since the last sealed version, and the
// audit trail of prior versions. While a writer holds the canvas lock it may
// mutate its working copy in place; everywhere else State values are
// immutable snapshots.
type State struct {
	Version      string                `json:"version,omitempty"`
	Nodes        []Node                `json:"nodes"`
	Edges        []Edge                `json:"edges"`
	Transactions []Transaction         `json:"transactions"`
	History      []VersionHistoryEntry `json:"history"`
	CreatedAt    time.Time             `json:"createdAt"`
	UpdatedAt    time.Time             `json:"updatedAt"`
}

// NewEmptyState returns the state a canvas is born with on first access:
// no nodes, no edges, version unset.
func NewEmptyState() *State {
	now := time.Now().UTC()
	return &State{
		Nodes:        []Node{},
		Edges:        []Edge{},
		Transactions: []Transaction{},
		History:      []VersionHistoryEntry{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Clone returns a deep copy sharing no mutable memory with the receiver.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}

	out := &State{
		Version:   s.Version,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}

	out.Nodes = make([]Node, len(s.Nodes))
	for i, n := range s.Nodes {
		out.Nodes[i] = cloneNode(n)
	}

	out.Edges = make([]Edge, len(s.Edges))
	copy(out.Edges, s.Edges)

	out.Transactions = make([]Transaction, len(s.Transactions))
	for i, tx := range s.Transactions {
		out.Transactions[i] = tx.clone()
	}

	out.History = make([]VersionHistoryEntry, len(s.History))
	copy(out.History, s.History)

	return out
}

func cloneNode(n Node) Node {
	n.Data.Metadata = deepCopyMap(n.Data.Metadata)
	return n
}

func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}

// FindNode returns the node with the given id, or nil
func (s *State) FindNode(id string) *Node {
	for i := range s.Nodes {
		if s.Nodes[i].ID == id {
			return &s.Nodes[i]
		}
	}
	return nil
}

// FindEdge returns the edge with the given id, or nil
func (s *State) FindEdge(id string) *Edge {
	for i := range s.Edges {
		if s.Edges[i].ID == id {
			return &s.Edges[i]
		}
	}
	return nil
}

// EntryNode returns the canvas's designated entry node, or nil if the canvas
// has none
func (s *State) EntryNode() *Node {
	for i := range s.Nodes {
		if s.Nodes[i].Type == NodeTypeStart {
			return &s.Nodes[i]
		}
	}
	return nil
}

// UsedToolsets lists the distinct toolset entity ids referenced by tool
// nodes, sorted. Tracked so callers can detect toolset-set changes between
// saves.
func (s *State) UsedToolsets() []string {
	seen := make(map[string]struct{})
	for _, n := range s.Nodes {
		if n.Type != NodeTypeTool || n.Data.EntityID == "" {
			continue
		}
		seen[n.Data.EntityID] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// UnsyncedCount returns the number of transactions not yet durably persisted
func (s *State) UnsyncedCount() int {
	count := 0
	for _, tx := range s.Transactions {
		if tx.SyncedAt == nil {
			count++
		}
	}
	return count
}

// IsEmpty reports whether the state has no content at all
func (s *State) IsEmpty() bool {
	return len(s.Nodes) == 0 && len(s.Edges) == 0 && len(s.Transactions) == 0
}

// contentProjection is the deterministic subset hashed for history entries.
// Maps marshal with sorted keys and slices are sorted by id first, so equal
// graphs always hash equal.
type contentProjection struct {
	Version string `json:"version"`
	Nodes   []Node `json:"nodes"`
	Edges   []Edge `json:"edges"`
}

// ContentHash returns the hex SHA-256 of the node/edge graph. Transactions
// and history are excluded: the hash identifies graph content, not the log.
func (s *State) ContentHash() string {
	nodes := make([]Node, len(s.Nodes))
	copy(nodes, s.Nodes)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	edges := make([]Edge, len(s.Edges))
	copy(edges, s.Edges)
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })

	data, _ := json.Marshal(contentProjection{
		Version: s.Version,
		Nodes:   nodes,
		Edges:   edges,
	})

	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
