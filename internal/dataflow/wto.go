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

/** Weak topological ordering per Bourdoncle, "Efficient chaotic iteration
 *  strategies with widenings" (FMPA 1993). Components bound the iteration
 *  count of fixpoint closures on cyclic dependency graphs.
 */

package dataflow

// Graph is a directed graph over dense integer node ids.
type Graph struct {
    Succs [][]int
}

// Element is one entry of a weak topological ordering: either a plain node
// (Comp == nil) or a component headed by Node with body Comp.
type Element struct {
    Node int
    Comp []Element
}

// WTO is the ordering itself, outermost sequence first.
type WTO struct {
    Seq []Element
}

const _Unnumbered = 0

type _WtoBuilder struct {
    g     *Graph
    cnt   int
    num   []int
    stack []int
}

// BuildWTO computes the weak topological ordering of g from the given
// roots. Nodes unreachable from any root are absent from the result.
func BuildWTO(g *Graph, roots []int) *WTO {
    b := &_WtoBuilder {
        g   : g,
        num : make([]int, len(g.Succs)),
    }

    /* visit every root not already numbered */
    var seq []Element
    for _, r := range roots {
        if b.num[r] == _Unnumbered {
            b.visit(r, &seq)
        }
    }
    return &WTO { Seq: seq }
}

const _MaxInt = int(^uint(0) >> 1)

func (self *_WtoBuilder) push(v int) {
    self.stack = append(self.stack, v)
}

func (self *_WtoBuilder) pop() int {
    n := len(self.stack) - 1
    v := self.stack[n]
    self.stack = self.stack[:n]
    return v
}

func (self *_WtoBuilder) visit(v int, partition *[]Element) int {
    self.push(v)
    self.cnt++
    self.num[v] = self.cnt
    head := self.num[v]
    loop := false

    /* examine all the successors */
    for _, w := range self.g.Succs[v] {
        var min int
        if self.num[w] == _Unnumbered {
            min = self.visit(w, partition)
        } else {
            min = self.num[w]
        }
        if min <= head && min != _MaxInt {
            head = min
            loop = true
        }
    }

    /* v heads its own strongly connected region */
    if head == self.num[v] {
        self.num[v] = _MaxInt
        elem := self.pop()

        /* single node, no cycle through it */
        if !loop {
            *partition = append([]Element { { Node: v } }, *partition...)
            return head
        }

        /* unwind the component members for re-visiting */
        for elem != v {
            self.num[elem] = _Unnumbered
            elem = self.pop()
        }

        /* build the component body */
        *partition = append([]Element { self.component(v) }, *partition...)
    }
    return head
}

func (self *_WtoBuilder) component(v int) Element {
    var body []Element

    /* visit the members skipping the head */
    for _, w := range self.g.Succs[v] {
        if self.num[w] == _Unnumbered {
            self.visit(w, &body)
        }
    }

    /* the head starts the component; the body stays non-nil even for a
     * self loop so Iterate keeps treating it as a component */
    if body == nil {
        body = make([]Element, 0)
    }
    return Element {
        Node : v,
        Comp : body,
    }
}

// Flatten returns the node visit order, component heads first.
func (self *WTO) Flatten() []int {
    var ret []int
    var walk func(es []Element)
    walk = func(es []Element) {
        for _, e := range es {
            ret = append(ret, e.Node)
            if e.Comp != nil {
                walk(e.Comp)
            }
        }
    }
    walk(self.Seq)
    return ret
}

// Iterate runs step over the ordering until stabilization: plain nodes are
// stepped once, components are repeated until no member reports a change.
// step returns whether the node's outputs changed.
func (self *WTO) Iterate(step func(node int) bool) {
    var once func(e Element) bool
    once = func(e Element) bool {
        changed := step(e.Node)
        for _, s := range e.Comp {
            if once(s) {
                changed = true
            }
        }
        return changed
    }

    /* components iterate to local fixpoint before moving on */
    for _, e := range self.Seq {
        if e.Comp == nil {
            step(e.Node)
            continue
        }
        for once(e) {
        }
    }
}
