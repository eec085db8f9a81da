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

// Package purity classifies every method in scope by the memory locations
// it may read and the observable effects it may have. The closure is the
// shared substrate for CSE, dead-code elimination and outlining decisions.
package purity

import (
    `fmt`

    `github.com/dexopt/dexopt/internal/ir`
)

// ArrayKind is one of the seven array-component location tokens.
type ArrayKind uint8

const (
    ArrInt ArrayKind = iota
    ArrByte
    ArrChar
    ArrWide
    ArrShort
    ArrObject
    ArrBool
)

func (self ArrayKind) String() string {
    switch self {
        case ArrInt    : return "array<int>"
        case ArrByte   : return "array<byte>"
        case ArrChar   : return "array<char>"
        case ArrWide   : return "array<wide>"
        case ArrShort  : return "array<short>"
        case ArrObject : return "array<object>"
        case ArrBool   : return "array<bool>"
        default        : return "array<?>"
    }
}

// ArrayKindOf maps an array component type to its location token.
func ArrayKindOf(elem *ir.Type) ArrayKind {
    switch elem.Descriptor[0] {
        case 'B' : return ArrByte
        case 'C' : return ArrChar
        case 'S' : return ArrShort
        case 'Z' : return ArrBool
        case 'J' : return ArrWide
        case 'D' : return ArrWide
        case 'L' : return ArrObject
        case '[' : return ArrObject
        default  : return ArrInt
    }
}

// Location is a memory location: a resolved field, an array-kind token, or
// the general barrier sentinel that subsumes everything.
type Location struct {
    Field *ir.Field
    Array ArrayKind
    Bar   bool
}

// Barrier is the general memory barrier location.
var Barrier = Location { Bar: true }

// FieldLoc builds a field location.
func FieldLoc(f *ir.Field) Location {
    return Location { Field: f }
}

// ArrayLoc builds an array-kind location.
func ArrayLoc(k ArrayKind) Location {
    return Location { Array: k }
}

func (self Location) String() string {
    switch {
        case self.Bar           : return "<barrier>"
        case self.Field != nil  : return self.Field.String()
        default                 : return self.Array.String()
    }
}

// LocationSet is a set of locations. The barrier subsumes the whole set.
type LocationSet map[Location]struct{}

// Add inserts loc, reporting a change. Adding the barrier collapses the
// set.
func (self LocationSet) Add(loc Location) bool {
    if _, ok := self[Barrier]; ok {
        return false
    }
    if loc.Bar {
        for k := range self {
            delete(self, k)
        }
        self[Barrier] = struct{}{}
        return true
    }
    if _, ok := self[loc]; ok {
        return false
    }
    self[loc] = struct{}{}
    return true
}

// Union merges rhs into self, reporting a change.
func (self LocationSet) Union(rhs LocationSet) bool {
    changed := false
    for loc := range rhs {
        if self.Add(loc) {
            changed = true
        }
    }
    return changed
}

// HasBarrier reports whether the set collapsed to the general barrier.
func (self LocationSet) HasBarrier() bool {
    _, ok := self[Barrier]
    return ok
}

// Intersects reports whether the two sets share a location. The barrier
// intersects everything non-empty.
func (self LocationSet) Intersects(rhs LocationSet) bool {
    if self.HasBarrier() && len(rhs) > 0 {
        return true
    }
    if rhs.HasBarrier() && len(self) > 0 {
        return true
    }
    for loc := range self {
        if _, ok := rhs[loc]; ok {
            return true
        }
    }
    return false
}

// Effect is the per-method effect bitmask.
type Effect uint16

const (
    EffThrows Effect = 1 << iota
    EffLocks
    EffWritesEscaping
    EffUnknownInvoke
    EffMayInitClass
    EffNoOptimizations
)

// Summary is the side-effect summary of one method.
type Summary struct {
    Effects         Effect
    Reads           LocationSet
    MutatesParams   map[int]struct{}
    ReadsExternal   bool
    Unknown         bool        // poisoned: assume anything
}

// NewSummary returns an empty (pure until proven otherwise) summary.
func NewSummary() *Summary {
    return &Summary {
        Reads         : make(LocationSet),
        MutatesParams : make(map[int]struct{}),
    }
}

// Poison marks the summary unknown.
func (self *Summary) Poison() {
    self.Unknown = true
}

// Pure reports whether the method reads nothing and writes nothing.
func (self *Summary) Pure() bool {
    return !self.Unknown &&
           self.Effects == 0 &&
           len(self.Reads) == 0 &&
           len(self.MutatesParams) == 0 &&
           !self.ReadsExternal
}

// ConditionallyPure reports whether the method only reads a specific
// stable location set and has no write effects.
func (self *Summary) ConditionallyPure() bool {
    return !self.Unknown &&
           self.Effects & ^EffThrows == 0 &&
           len(self.MutatesParams) == 0 &&
           !self.Reads.HasBarrier() &&
           !self.ReadsExternal
}

// NoSideEffects reports whether the method may write, but only memory
// unreachable from outside, so a call with an unused result is removable.
func (self *Summary) NoSideEffects() bool {
    return !self.Unknown &&
           self.Effects & (EffLocks | EffWritesEscaping | EffUnknownInvoke) == 0 &&
           len(self.MutatesParams) == 0
}

func (self *Summary) String() string {
    if self.Unknown {
        return "Summary{unknown}"
    }
    return fmt.Sprintf("Summary{effects=%#x, reads=%d, mutates=%d}", self.Effects, len(self.Reads), len(self.MutatesParams))
}
