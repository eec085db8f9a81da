/*
 * Copyright 2024 Dexopt Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package override builds the bidirectional method-override graph: for
// every non-private instance method, its parents (methods it overrides in
// supertypes and interfaces) and its children (methods overriding it).
package override

import (
    `github.com/oleiade/lane`

    `github.com/dexopt/dexopt/internal/concur`
    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/wq`
)

// Node is one method in the graph. External placeholder nodes stand for
// methods declared outside the scope.
type Node struct {
    Method   *ir.Method
    Ref      *ir.MethodRef
    External bool
    Parents  []*Node
    Children []*Node
}

// Graph is the override graph over one scope. It is immutable once built.
type Graph struct {
    scope *ir.Scope
    nodes map[*ir.MethodRef]*Node
}

// Build scans the scope once, in parallel, and links the graph.
func Build(scope *ir.Scope) *Graph {
    g := &Graph {
        scope : scope,
        nodes : make(map[*ir.MethodRef]*Node),
    }

    /* phase 1: create one node per virtual method, in parallel */
    tmp := concur.NewMap[*ir.MethodRef, *Node](concur.PtrHash[ir.MethodRef])
    wq.ForEach(len(scope.Classes), func(i int) {
        for _, m := range scope.Classes[i].VMethods {
            if m.IsVirtual() {
                tmp.Insert(m.Ref, &Node { Method: m, Ref: m.Ref })
            }
        }
    })
    tmp.Range(func(ref *ir.MethodRef, nd *Node) bool {
        g.nodes[ref] = nd
        return true
    })

    /* phase 2: link parents through the hierarchy, sequentially; edge
     * lists alias each other and linking is cheap compared to the scan */
    for _, nd := range g.nodes {
        if !nd.External {
            g.link(nd)
        }
    }
    return g
}

// link finds the closest matching method of the same signature in every
// supertype chain and implemented interface.
func (self *Graph) link(nd *Node) {
    cls := nd.Method.Class

    /* super chain */
    if cls.Super != nil {
        self.linkchain(nd, cls.Super)
    }

    /* transitive interfaces */
    seen := make(map[*ir.Type]struct{})
    for _, it := range cls.Interfaces {
        self.linkiface(nd, it, seen)
    }
}

func (self *Graph) linkchain(nd *Node, tp *ir.Type) {
    for cur := tp; cur != nil; {
        cls := self.scope.ClassOf(cur)

        /* external supertype: record a placeholder parent */
        if cls == nil {
            ref := ir.MakeMethodRef(cur, nd.Ref.Name, nd.Ref.Proto)
            self.attach(nd, self.external(ref))
            return
        }

        /* a matching method ends the walk: overriding is transitive
         * through that method's own parents */
        if m := cls.FindVMethod(nd.Ref.Name, nd.Ref.Proto); m != nil && m.IsVirtual() {
            self.attach(nd, self.nodes[m.Ref])
            return
        }
        cur = cls.Super
    }
}

func (self *Graph) linkiface(nd *Node, tp *ir.Type, seen map[*ir.Type]struct{}) {
    if _, ok := seen[tp]; ok {
        return
    }
    seen[tp] = struct{}{}

    /* external interface: placeholder parent */
    cls := self.scope.ClassOf(tp)
    if cls == nil {
        ref := ir.MakeMethodRef(tp, nd.Ref.Name, nd.Ref.Proto)
        self.attach(nd, self.external(ref))
        return
    }

    /* a matching declaration parents nd */
    if m := cls.FindVMethod(nd.Ref.Name, nd.Ref.Proto); m != nil {
        self.attach(nd, self.nodes[m.Ref])
        return
    }

    /* otherwise recurse upwards */
    for _, it := range cls.Interfaces {
        self.linkiface(nd, it, seen)
    }
}

func (self *Graph) external(ref *ir.MethodRef) *Node {
    if nd, ok := self.nodes[ref]; ok {
        return nd
    }
    nd := &Node { Ref: ref, External: true }
    self.nodes[ref] = nd
    return nd
}

func (self *Graph) attach(child *Node, parent *Node) {
    if parent == nil || parent == child {
        return
    }
    child.Parents = append(child.Parents, parent)
    parent.Children = append(parent.Children, child)
}

// NodeOf returns the node for a method, or nil.
func (self *Graph) NodeOf(m *ir.Method) *Node {
    return self.nodes[m.Ref]
}

// AllOverriders returns every method transitively overriding m, m itself
// excluded.
func (self *Graph) AllOverriders(m *ir.Method) []*ir.Method {
    nd := self.nodes[m.Ref]
    if nd == nil {
        return nil
    }

    var ret []*ir.Method
    seen := map[*Node]struct{} { nd: {} }
    wl := lane.NewQueue()
    wl.Enqueue(nd)

    /* BFS down the children edges */
    for !wl.Empty() {
        cur := wl.Dequeue().(*Node)
        for _, c := range cur.Children {
            if _, ok := seen[c]; !ok {
                seen[c] = struct{}{}
                wl.Enqueue(c)
                if c.Method != nil {
                    ret = append(ret, c.Method)
                }
            }
        }
    }
    return ret
}

// AnyExternalParents reports whether m transitively overrides a method
// outside the scope.
func (self *Graph) AnyExternalParents(m *ir.Method) bool {
    nd := self.nodes[m.Ref]
    if nd == nil {
        return false
    }

    seen := map[*Node]struct{} { nd: {} }
    wl := lane.NewQueue()
    wl.Enqueue(nd)

    /* BFS up the parent edges */
    for !wl.Empty() {
        cur := wl.Dequeue().(*Node)
        for _, p := range cur.Parents {
            if p.External {
                return true
            }
            if _, ok := seen[p]; !ok {
                seen[p] = struct{}{}
                wl.Enqueue(p)
            }
        }
    }
    return false
}

// GatherConnectedMethods returns the transitive closure of m in both
// directions, m included. Renaming-sensitive passes must treat the whole
// group uniformly.
func (self *Graph) GatherConnectedMethods(m *ir.Method) []*ir.Method {
    nd := self.nodes[m.Ref]
    if nd == nil {
        return []*ir.Method { m }
    }

    var ret []*ir.Method
    seen := map[*Node]struct{} { nd: {} }
    wl := lane.NewQueue()
    wl.Enqueue(nd)

    /* BFS over both edge directions */
    for !wl.Empty() {
        cur := wl.Dequeue().(*Node)
        if cur.Method != nil {
            ret = append(ret, cur.Method)
        }
        for _, p := range cur.Parents {
            if _, ok := seen[p]; !ok {
                seen[p] = struct{}{}
                wl.Enqueue(p)
            }
        }
        for _, c := range cur.Children {
            if _, ok := seen[c]; !ok {
                seen[c] = struct{}{}
                wl.Enqueue(c)
            }
        }
    }
    return ret
}

// HasExternal reports whether the group around m touches any external
// placeholder node.
func (self *Graph) HasExternal(m *ir.Method) bool {
    nd := self.nodes[m.Ref]
    if nd == nil {
        return false
    }

    seen := map[*Node]struct{} { nd: {} }
    wl := lane.NewQueue()
    wl.Enqueue(nd)
    for !wl.Empty() {
        cur := wl.Dequeue().(*Node)
        if cur.External {
            return true
        }
        for _, p := range cur.Parents {
            if _, ok := seen[p]; !ok {
                seen[p] = struct{}{}
                wl.Enqueue(p)
            }
        }
        for _, c := range cur.Children {
            if _, ok := seen[c]; !ok {
                seen[c] = struct{}{}
                wl.Enqueue(c)
            }
        }
    }
    return false
}
