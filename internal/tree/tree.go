// Package tree indexes snapshots by subvolume identity.
//
// A Tree links every node to the node whose UUID is its parent UUID, so that
// snapshots taken from one another end up close together. Parents that are not
// among the nodes (the live subvolume, or snapshots nobody tracks) are represented
// by virtual placeholders below a single synthetic root.
package tree

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// ErrParentNotFound is returned by Build when a node's parent cannot be placed.
var ErrParentNotFound = errors.New("parent node not found")

// ErrNodeNotFound is returned by FindNearestValid for a UUID the tree does not contain.
var ErrNodeNotFound = errors.New("node not found")

// Node is a snapshot as seen from one side of a replication.
type Node interface {
	Number() uint
	UUID() string
	ParentUUID() string
	// IsValid reports whether the node can serve as delta parent right now.
	IsValid() bool
}

// Kind distinguishes the vertices of a Tree.
type Kind int

const (
	// KindRoot is the synthetic root every tree has exactly one of.
	KindRoot Kind = iota
	// KindVirtual stands in for a parent UUID that no node carries.
	KindVirtual
	// KindReal wraps a Node.
	KindReal
)

func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindVirtual:
		return "virtual"
	case KindReal:
		return "real"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Vertex is one position in a Tree.
type Vertex[N Node] struct {
	Kind Kind
	// Node is only set for KindReal.
	Node N
	uuid string
	// Implicit marks a vertex attached to the root because its real parent is unknown.
	Implicit bool
	Parent   *Vertex[N]
	Children []*Vertex[N]
}

// UUID returns the subvolume UUID of the vertex; empty for the root.
func (v *Vertex[N]) UUID() string {
	return v.uuid
}

func (v *Vertex[N]) valid() bool {
	switch v.Kind {
	case KindReal:
		return v.Node.IsValid()
	case KindRoot, KindVirtual:
		return false
	default:
		return false
	}
}

func (v *Vertex[N]) attach(child *Vertex[N], implicit bool) {
	child.Parent = v
	child.Implicit = implicit
	v.Children = append(v.Children, child)
}

// Tree is a read-only index built once from a set of nodes.
type Tree[N Node] struct {
	root   *Vertex[N]
	byUUID map[string]*Vertex[N]
}

// Build creates the tree for nodes. Nodes without a UUID are left out.
//
// Nodes are processed newest (highest number) first, which also fixes the order
// of every vertex's children.
func Build[N Node](nodes []N) (*Tree[N], error) {
	t := &Tree[N]{
		root:   &Vertex[N]{Kind: KindRoot},
		byUUID: make(map[string]*Vertex[N]),
	}

	var ordered []*Vertex[N]
	for _, n := range nodes {
		if n.UUID() == "" {
			continue
		}
		ordered = append(ordered, &Vertex[N]{Kind: KindReal, Node: n, uuid: n.UUID()})
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Node.Number() > ordered[j].Node.Number()
	})

	for _, v := range ordered {
		t.byUUID[v.uuid] = v
	}

	// Placeholders for parents nobody carries.
	for _, v := range ordered {
		parent := v.Node.ParentUUID()
		if parent == "" {
			continue
		}
		if _, ok := t.byUUID[parent]; ok {
			continue
		}
		placeholder := &Vertex[N]{Kind: KindVirtual, uuid: parent}
		t.byUUID[parent] = placeholder
		t.root.attach(placeholder, true)
	}

	for _, v := range ordered {
		parentUUID := v.Node.ParentUUID()
		if parentUUID == "" {
			t.root.attach(v, true)
			continue
		}
		parent, ok := t.byUUID[parentUUID]
		if !ok {
			return nil, fmt.Errorf("snapshot %d: %w", v.Node.Number(), ErrParentNotFound)
		}
		if descendsFrom(parent, v) {
			// A parent chain leading back to v would never reach the root.
			t.root.attach(v, true)
			continue
		}
		parent.attach(v, false)
	}

	return t, nil
}

// descendsFrom reports whether v is u or one of u's attached ancestors.
func descendsFrom[N Node](u, v *Vertex[N]) bool {
	for p := u; p != nil; p = p.Parent {
		if p == v {
			return true
		}
	}
	return false
}

// Root returns the synthetic root.
func (t *Tree[N]) Root() *Vertex[N] {
	return t.root
}

// Contains reports whether uuid is a vertex of the tree.
func (t *Tree[N]) Contains(uuid string) bool {
	if uuid == "" {
		return false
	}
	_, ok := t.byUUID[uuid]
	return ok
}

// Len returns the number of vertices, the root included.
func (t *Tree[N]) Len() int {
	return len(t.byUUID) + 1
}

// FindNearestValid searches outward from the vertex with the given UUID, walking
// both toward the root and toward the children, and returns the closest real node
// that is valid, together with its distance in edges. The start vertex itself is
// never returned. ok is false if no valid node is reachable.
func (t *Tree[N]) FindNearestValid(uuid string) (node N, distance int, ok bool, err error) {
	start, found := t.byUUID[uuid]
	if !found || uuid == "" {
		return node, 0, false, fmt.Errorf("%s: %w", uuid, ErrNodeNotFound)
	}

	type entry struct {
		v    *Vertex[N]
		dist int
	}

	// The root has no UUID; track it separately.
	visited := map[string]bool{start.uuid: true}
	rootVisited := false
	visit := func(v *Vertex[N]) bool {
		if v.Kind == KindRoot {
			if rootVisited {
				return false
			}
			rootVisited = true
			return true
		}
		if visited[v.uuid] {
			return false
		}
		visited[v.uuid] = true
		return true
	}

	queue := []entry{{v: start}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur.dist > 0 && cur.v.valid() {
			return cur.v.Node, cur.dist, true, nil
		}

		if p := cur.v.Parent; p != nil && visit(p) {
			queue = append(queue, entry{v: p, dist: cur.dist + 1})
		}
		for _, c := range cur.v.Children {
			if visit(c) {
				queue = append(queue, entry{v: c, dist: cur.dist + 1})
			}
		}
	}

	return node, 0, false, nil
}

// Walk calls fn for every vertex in depth-first order, the root first.
func (t *Tree[N]) Walk(fn func(v *Vertex[N], depth int)) {
	var walk func(v *Vertex[N], depth int)
	walk = func(v *Vertex[N], depth int) {
		fn(v, depth)
		for _, c := range v.Children {
			walk(c, depth+1)
		}
	}
	walk(t.root, 0)
}

// Render writes an indented outline of the tree to w.
func (t *Tree[N]) Render(w io.Writer) error {
	var err error
	t.Walk(func(v *Vertex[N], depth int) {
		if err != nil {
			return
		}
		indent := strings.Repeat("  ", depth)

		var line string
		switch v.Kind {
		case KindRoot:
			line = "root"
		case KindVirtual:
			line = fmt.Sprintf("%s- virtual %s", indent, v.uuid)
		case KindReal:
			mark := ""
			if v.Node.IsValid() {
				mark = " (valid)"
			}
			line = fmt.Sprintf("%s- %d %s%s", indent, v.Node.Number(), v.uuid, mark)
		}
		if v.Implicit {
			line += " [implicit]"
		}
		_, err = fmt.Fprintln(w, line)
	})
	return err
}
