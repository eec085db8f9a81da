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

package dexstore

import (
    `fmt`

    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/trace`
)

/* per-DEX reference caps, linear-alloc is the dalvik budget in bytes */
const (
    MaxMethodRefs  = 65536
    MaxFieldRefs   = 65536
    MaxTypeRefs    = 65536
    LinearAllocCap = 11 << 20
)

// DexFile is one DEX inside a store: an ordered set of classes plus the
// canary marker for secondaries.
type DexFile struct {
    Store   *Store
    Index   int
    Classes []*ir.Class
    Canary  *ir.Class
}

// Store is a named bundle of DEX files. The root store holds the primary
// DEX at index 0 plus secondaries, auxiliary stores carry app modules.
type Store struct {
    Name  string
    Root  bool
    Files []*DexFile
}

// World is the full program layout across all stores, root first.
type World struct {
    Stores []*Store
}

// NewWorld wraps a root class partition into a single-store world.
func NewWorld(files [][]*ir.Class) *World {
    st := &Store { Name: "root", Root: true }
    for i, classes := range files {
        df := &DexFile { Store: st, Index: i, Classes: classes }
        if i > 0 {
            df.Canary = findCanary(classes, i)
        }
        st.Files = append(st.Files, df)
    }
    return &World { Stores: []*Store { st } }
}

// AddModuleStore appends an auxiliary store.
func (self *World) AddModuleStore(name string, files [][]*ir.Class) *Store {
    st := &Store { Name: name }
    for i, classes := range files {
        st.Files = append(st.Files, &DexFile { Store: st, Index: i, Classes: classes })
    }
    self.Stores = append(self.Stores, st)
    return st
}

// Root returns the root store.
func (self *World) Root() *Store {
    return self.Stores[0]
}

// Primary returns the root store's first DEX.
func (self *World) Primary() *DexFile {
    return self.Stores[0].Files[0]
}

// FileOf returns the DEX holding cls, nil when unplaced.
func (self *World) FileOf(cls *ir.Class) *DexFile {
    for _, st := range self.Stores {
        for _, df := range st.Files {
            for _, c := range df.Classes {
                if c == cls {
                    return df
                }
            }
        }
    }
    return nil
}

// EachClass visits every class in layout order.
func (self *World) EachClass(fn func(df *DexFile, cls *ir.Class)) {
    for _, st := range self.Stores {
        for _, df := range st.Files {
            for _, cls := range df.Classes {
                fn(df, cls)
            }
        }
    }
}

// Remove detaches cls from its current DEX.
func (self *DexFile) Remove(cls *ir.Class) bool {
    for i, c := range self.Classes {
        if c == cls {
            self.Classes = append(self.Classes[:i], self.Classes[i+1:]...)
            return true
        }
    }
    return false
}

// Add appends cls.
func (self *DexFile) Add(cls *ir.Class) {
    self.Classes = append(self.Classes, cls)
}

// Refs tallies the distinct method, field and type references a DEX
// carries, plus its estimated linear-alloc footprint.
type Refs struct {
    Methods map[*ir.MethodRef]int
    Fields  map[*ir.FieldRef]int
    Types   map[*ir.Type]int
    Linear  int
}

// NewRefs returns empty tallies.
func NewRefs() *Refs {
    return &Refs {
        Methods : make(map[*ir.MethodRef]int),
        Fields  : make(map[*ir.FieldRef]int),
        Types   : make(map[*ir.Type]int),
    }
}

// CountClass adds one class's references to the tally.
func (self *Refs) CountClass(cls *ir.Class) {
    self.Types[cls.Type]++
    if cls.Super != nil {
        self.Types[cls.Super]++
    }
    for _, itf := range cls.Interfaces {
        self.Types[itf]++
    }

    for _, f := range cls.SFields {
        self.Fields[f.Ref]++
        self.Types[f.Ref.Type]++
    }
    for _, f := range cls.IFields {
        self.Fields[f.Ref]++
        self.Types[f.Ref.Type]++
    }

    for _, m := range cls.AllMethods() {
        self.Methods[m.Ref]++
        self.Linear += _VTableSlot
        if m.Code == nil {
            continue
        }
        for _, bb := range m.Code.Blocks {
            for _, p := range bb.Insns {
                self.CountInsn(p)
            }
        }
    }
}

// CountInsn adds one instruction's references.
func (self *Refs) CountInsn(p *ir.Insn) {
    self.Linear += _InsnSlot
    switch {
        case p.Field != nil: {
            self.Fields[p.Field]++
            self.Types[p.Field.Owner]++
        }
        case p.Method != nil: {
            self.Methods[p.Method]++
            self.Types[p.Method.Owner]++
        }
        case p.TypeRef != nil: {
            self.Types[p.TypeRef]++
        }
    }
}

const (
    _VTableSlot = 4
    _InsnSlot   = 2
)

// Tally counts the whole DEX.
func (self *DexFile) Tally() *Refs {
    rs := NewRefs()
    for _, cls := range self.Classes {
        rs.CountClass(cls)
    }
    return rs
}

// Fits reports whether the DEX could absorb delta more references.
func (self *Refs) Fits(delta *Refs) bool {
    return mergedLen(self.Methods, delta.Methods) <= MaxMethodRefs &&
           mergedLen(self.Fields, delta.Fields) <= MaxFieldRefs &&
           mergedLen(self.Types, delta.Types) <= MaxTypeRefs &&
           self.Linear + delta.Linear <= LinearAllocCap
}

func mergedLen[K comparable](base map[K]int, delta map[K]int) int {
    n := len(base)
    for k := range delta {
        if _, ok := base[k]; !ok {
            n++
        }
    }
    return n
}

// CrossDexRefs counts references inside the root store that resolve to a
// class placed in a different root DEX.
func (self *World) CrossDexRefs() int {
    home := make(map[*ir.Type]*DexFile)
    for _, df := range self.Root().Files {
        for _, cls := range df.Classes {
            home[cls.Type] = df
        }
    }

    n := 0
    for _, df := range self.Root().Files {
        for _, cls := range df.Classes {
            n += crossRefs(cls, df, home)
        }
    }
    return n
}

func crossRefs(cls *ir.Class, df *DexFile, home map[*ir.Type]*DexFile) int {
    n := 0
    seen := make(map[*ir.Type]struct{})
    count := func(tp *ir.Type) {
        if _, ok := seen[tp]; ok {
            return
        }
        seen[tp] = struct{}{}
        if h, ok := home[tp]; ok && h != df {
            n++
        }
    }

    for _, m := range cls.AllMethods() {
        if m.Code == nil {
            continue
        }
        for _, bb := range m.Code.Blocks {
            for _, p := range bb.Insns {
                switch {
                    case p.Method != nil  : count(p.Method.Owner)
                    case p.Field != nil   : count(p.Field.Owner)
                    case p.TypeRef != nil : count(p.TypeRef)
                }
            }
        }
    }
    return n
}

/* the canary of secondary DEX i is named by its index */
func canaryName(i int) string {
    return fmt.Sprintf("Lsecondary/dex%02d/Canary;", i)
}

func findCanary(classes []*ir.Class, i int) *ir.Class {
    want := canaryName(i)
    for _, cls := range classes {
        if cls.Type.Descriptor == want {
            return cls
        }
    }
    return nil
}

// Compact drops emptied secondary DEX files and renumbers the surviving
// canaries so names stay aligned with positions.
func (self *Store) Compact() int {
    if !self.Root {
        return 0
    }

    keep := self.Files[:1]
    dropped := 0
    for _, df := range self.Files[1:] {
        if empties(df) {
            dropped++
            continue
        }
        df.Index = len(keep)
        keep = append(keep, df)
        renumberCanary(df)
    }
    self.Files = keep

    if dropped > 0 {
        trace.T("dexstore", 2, "compacted %d empty dex files", dropped)
    }
    return dropped
}

/* a secondary holding only its canary is empty */
func empties(df *DexFile) bool {
    for _, cls := range df.Classes {
        if cls != df.Canary {
            return false
        }
    }
    return true
}

func renumberCanary(df *DexFile) {
    if df.Canary == nil {
        return
    }
    want := canaryName(df.Index)
    if df.Canary.Type.Descriptor != want {
        df.Canary.Rstate.Renamed = want
    }
}

// PowerValue maps a reference occurrence count onto the log-like gain
// curve used by the reshuffler. It plateaus at 11.
func PowerValue(k int) int {
    v := 0
    for k > 0 && v < 11 {
        k >>= 1
        v++
    }
    return v
}
