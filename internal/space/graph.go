// Package space implements the spatial frame graph: an arena of nodes, each
// holding a rigid local offset relative to its parent.
//
// global(root) = I and global(S) = global(parent(S))·offset(S). Nothing is
// cached; every query walks the parent chain, so a change to any ancestor is
// visible immediately.
//
// The graph is not safe for concurrent use. It is owned by the scheduler
// goroutine.
package space

import (
	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
	"github.com/wem-technology/ios-webxr-sub000/internal/xrerr"
)

// ID indexes a node in its Graph.
type ID uint32

// RootID is the global root of every graph.
const RootID ID = 0

type node struct {
	parent   ID
	offset   xmath.Mat4
	children int
	alive    bool
	emulated bool
}

// Graph is the node arena.
type Graph struct {
	nodes []node
	free  []ID
}

// NewGraph creates a graph containing only the root.
func NewGraph() *Graph {
	return &Graph{
		nodes: []node{{parent: RootID, offset: xmath.Identity(), alive: true}},
	}
}

// Root returns the global root space.
func (g *Graph) Root() Space {
	return Space{graph: g, id: RootID}
}

// Len returns the number of live nodes, root included.
func (g *Graph) Len() int {
	return len(g.nodes) - len(g.free)
}

// Create adds a space under parent with the given local offset.
func (g *Graph) Create(parent Space, offset xmath.Mat4) (Space, error) {
	if err := g.check(parent, "space.create"); err != nil {
		return Space{}, err
	}

	n := node{parent: parent.id, offset: offset, alive: true}

	var id ID
	if k := len(g.free); k > 0 {
		id = g.free[k-1]
		g.free = g.free[:k-1]
		g.nodes[id] = n
	} else {
		id = ID(len(g.nodes))
		g.nodes = append(g.nodes, n)
	}
	g.nodes[parent.id].children++
	return Space{graph: g, id: id}, nil
}

// Remove deletes a leaf space. Removing a space that still has children
// fails until they are reparented or removed.
func (g *Graph) Remove(s Space) error {
	if err := g.check(s, "space.remove"); err != nil {
		return err
	}
	if s.id == RootID {
		return xrerr.New(xrerr.InvalidState, "space.remove", "cannot remove the global root")
	}
	n := &g.nodes[s.id]
	if n.children > 0 {
		return xrerr.New(xrerr.InvalidState, "space.remove", "space still has children")
	}
	g.nodes[n.parent].children--
	*n = node{}
	g.free = append(g.free, s.id)
	return nil
}

// Reparent moves s under newParent keeping its local offset.
func (g *Graph) Reparent(s, newParent Space) error {
	if err := g.check(s, "space.reparent"); err != nil {
		return err
	}
	if err := g.check(newParent, "space.reparent"); err != nil {
		return err
	}
	if s.id == RootID {
		return xrerr.New(xrerr.InvalidState, "space.reparent", "cannot reparent the global root")
	}
	for cur := newParent.id; ; cur = g.nodes[cur].parent {
		if cur == s.id {
			return xrerr.New(xrerr.InvalidState, "space.reparent", "reparent would create a cycle")
		}
		if cur == RootID {
			break
		}
	}
	n := &g.nodes[s.id]
	g.nodes[n.parent].children--
	n.parent = newParent.id
	g.nodes[newParent.id].children++
	return nil
}

func (g *Graph) check(s Space, op string) error {
	if g == nil {
		return xrerr.New(xrerr.InvalidState, op, "space is not part of a graph")
	}
	if s.graph != g {
		return xrerr.New(xrerr.InvalidState, op, "space belongs to another graph")
	}
	if int(s.id) >= len(g.nodes) || !g.nodes[s.id].alive {
		return xrerr.New(xrerr.InvalidState, op, "space has been removed")
	}
	return nil
}

func (g *Graph) global(id ID) xmath.Mat4 {
	if id == RootID {
		return xmath.Identity()
	}
	n := g.nodes[id]
	return xmath.Compose(g.global(n.parent), n.offset)
}

func (g *Graph) chainEmulated(id ID) bool {
	for {
		n := g.nodes[id]
		if n.emulated {
			return true
		}
		if id == RootID {
			return false
		}
		id = n.parent
	}
}
