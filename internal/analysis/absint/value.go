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

// Package absint is the compound abstract domain and intra-procedural
// interpreter used by constant propagation, both the local (shrinker) and
// the whole-program (clinit ordering) flavors.
package absint

import (
    `fmt`

    `github.com/dexopt/dexopt/internal/ir`
)

// Kind discriminates the abstract value forms.
type Kind uint8

const (
    Bottom Kind = iota      // unreachable / undefined
    Top                     // anything
    ConstInt                // signed constant, primitives
    ConstStr                // java.lang.String literal
    ConstClass              // java.lang.Class literal
    Null                    // known null reference
    NotNull                 // non-null reference of unknown identity
    Singleton               // non-null reference with exact class
    EnumField               // reference to a specific enum constant field
    BoxedBool               // java.lang.Boolean.TRUE / FALSE
    ImmutableObj            // object with known immutable attributes
    ApiLevel                // runtime SDK level, bounded below
)

// Value is an element of the compound domain. Exactly the fields implied
// by Kind are meaningful.
type Value struct {
    Kind  Kind
    I     int64                // ConstInt, BoxedBool (0/1), ApiLevel lower bound
    S     string               // ConstStr
    T     *ir.Type             // ConstClass, Singleton, ImmutableObj class
    F     *ir.Field            // EnumField
    Attrs map[string]int64     // ImmutableObj constructor-derived attributes
}

var (
    top    = Value { Kind: Top }
    bottom = Value { Kind: Bottom }
)

// TopV returns the ⊤ element.
func TopV() Value { return top }

// BottomV returns the ⊥ element.
func BottomV() Value { return bottom }

// IntV returns a signed-constant element.
func IntV(v int64) Value { return Value { Kind: ConstInt, I: v } }

// StrV returns a string-literal element.
func StrV(s string) Value { return Value { Kind: ConstStr, S: s } }

// NullV returns the known-null element.
func NullV() Value { return Value { Kind: Null } }

// NotNullV returns the non-null unknown-identity element.
func NotNullV() Value { return Value { Kind: NotNull } }

// SingletonV returns a non-null element of exact class tp.
func SingletonV(tp *ir.Type) Value { return Value { Kind: Singleton, T: tp } }

// ClassV returns a class-literal element.
func ClassV(tp *ir.Type) Value { return Value { Kind: ConstClass, T: tp } }

// EnumV returns an enum-constant element.
func EnumV(f *ir.Field) Value { return Value { Kind: EnumField, F: f } }

// BoxedBoolV returns Boolean.TRUE (1) or Boolean.FALSE (0).
func BoxedBoolV(v bool) Value {
    if v {
        return Value { Kind: BoxedBool, I: 1 }
    }
    return Value { Kind: BoxedBool, I: 0 }
}

// ApiLevelV returns the SDK-level element bounded below by min.
func ApiLevelV(min int64) Value { return Value { Kind: ApiLevel, I: min } }

// ImmutableObjV returns an immutable-attributes object element.
func ImmutableObjV(tp *ir.Type, attrs map[string]int64) Value {
    return Value { Kind: ImmutableObj, T: tp, Attrs: attrs }
}

// IsConstInt reports a known integer constant.
func (self Value) IsConstInt() bool {
    return self.Kind == ConstInt
}

// IsReference reports whether the element describes a reference value.
func (self Value) IsReference() bool {
    switch self.Kind {
        case Null, NotNull, Singleton, EnumField, BoxedBool, ImmutableObj, ConstStr, ConstClass : return true
        default                                                                                 : return false
    }
}

// DefinitelyNull / DefinitelyNotNull give the nullability verdicts.
func (self Value) DefinitelyNull() bool {
    return self.Kind == Null
}

func (self Value) DefinitelyNotNull() bool {
    switch self.Kind {
        case NotNull, Singleton, EnumField, BoxedBool, ImmutableObj, ConstStr, ConstClass : return true
        default                                                                           : return false
    }
}

// Eq compares two elements for lattice identity.
func (self Value) Eq(rhs Value) bool {
    if self.Kind != rhs.Kind {
        return false
    }
    switch self.Kind {
        case ConstInt, BoxedBool, ApiLevel : return self.I == rhs.I
        case ConstStr                      : return self.S == rhs.S
        case ConstClass, Singleton         : return self.T == rhs.T
        case EnumField                     : return self.F == rhs.F
        case ImmutableObj                  : return self.T == rhs.T && attrseq(self.Attrs, rhs.Attrs)
        default                            : return true
    }
}

func attrseq(a map[string]int64, b map[string]int64) bool {
    if len(a) != len(b) {
        return false
    }
    for k, v := range a {
        if bv, ok := b[k]; !ok || bv != v {
            return false
        }
    }
    return true
}

// Join is the least upper bound. Distinct constants widen: integers to
// Top, references to their common nullability.
func (self Value) Join(rhs Value) Value {
    switch {
        case self.Kind == Bottom : return rhs
        case rhs.Kind == Bottom  : return self
        case self.Eq(rhs)        : return self
        case self.Kind == Top    : return top
        case rhs.Kind == Top     : return top
    }

    /* api levels join to the weaker bound */
    if self.Kind == ApiLevel && rhs.Kind == ApiLevel {
        if self.I < rhs.I {
            return self
        }
        return rhs
    }

    /* distinct references keep their non-nullness if both sides have it */
    if self.IsReference() && rhs.IsReference() {
        if self.DefinitelyNotNull() && rhs.DefinitelyNotNull() {
            return NotNullV()
        }
        return top
    }
    return top
}

func (self Value) String() string {
    switch self.Kind {
        case Bottom       : return "⊥"
        case Top          : return "⊤"
        case ConstInt     : return fmt.Sprintf("#%d", self.I)
        case ConstStr     : return fmt.Sprintf("%q", self.S)
        case ConstClass   : return "class " + self.T.Descriptor
        case Null         : return "null"
        case NotNull      : return "nonnull"
        case Singleton    : return "exact " + self.T.Descriptor
        case EnumField    : return "enum " + self.F.String()
        case BoxedBool    : if self.I != 0 { return "Boolean.TRUE" } else { return "Boolean.FALSE" }
        case ImmutableObj : return "imm " + self.T.Descriptor
        case ApiLevel     : return fmt.Sprintf("sdk≥%d", self.I)
        default           : return "?"
    }
}
