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

package ir

import (
    `strings`
    `sync`
)

// Type is an interned reference to a class, array or primitive type,
// identified by its DEX descriptor. Two references to the same descriptor
// are pointer-equal.
type Type struct {
    Descriptor string
}

var (
    typeLock sync.RWMutex
    typeTab  = make(map[string]*Type, 4096)
)

// MakeType interns desc and returns the canonical *Type for it.
func MakeType(desc string) *Type {
    typeLock.RLock()
    tp, ok := typeTab[desc]
    typeLock.RUnlock()

    /* fast path: already interned */
    if ok {
        return tp
    }

    /* slow path: intern under the write lock */
    typeLock.Lock()
    defer typeLock.Unlock()

    /* somebody might have added it in the meantime */
    if tp, ok = typeTab[desc]; !ok {
        tp = &Type { Descriptor: desc }
        typeTab[desc] = tp
    }
    return tp
}

/* well-known primitive and library types */
var (
    TypeVoid    = MakeType("V")
    TypeBool    = MakeType("Z")
    TypeByte    = MakeType("B")
    TypeChar    = MakeType("C")
    TypeShort   = MakeType("S")
    TypeInt     = MakeType("I")
    TypeLong    = MakeType("J")
    TypeFloat   = MakeType("F")
    TypeDouble  = MakeType("D")
    TypeObject  = MakeType("Ljava/lang/Object;")
    TypeString  = MakeType("Ljava/lang/String;")
    TypeClass   = MakeType("Ljava/lang/Class;")
    TypeThrowable = MakeType("Ljava/lang/Throwable;")
)

func (self *Type) String() string {
    return self.Descriptor
}

func (self *Type) IsArray() bool {
    return self.Descriptor[0] == '['
}

func (self *Type) IsPrimitive() bool {
    switch self.Descriptor[0] {
        case 'V', 'Z', 'B', 'C', 'S', 'I', 'J', 'F', 'D' : return len(self.Descriptor) == 1
        default                                          : return false
    }
}

func (self *Type) IsReference() bool {
    return !self.IsPrimitive()
}

// IsWide reports whether the type occupies a register pair.
func (self *Type) IsWide() bool {
    return self == TypeLong || self == TypeDouble
}

// ArrayOf returns the array type with self as the component type.
func (self *Type) ArrayOf() *Type {
    return MakeType("[" + self.Descriptor)
}

// Elem returns the component type of an array type.
func (self *Type) Elem() *Type {
    if !self.IsArray() {
        panic("ir: element type of non-array type " + self.Descriptor)
    } else {
        return MakeType(self.Descriptor[1:])
    }
}

// SimpleName returns the unqualified class name, e.g. "Foo" for "Lcom/x/Foo;".
func (self *Type) SimpleName() string {
    d := self.Descriptor
    if i := strings.LastIndexByte(d, '/'); i >= 0 {
        return strings.TrimSuffix(d[i + 1:], ";")
    } else if len(d) >= 2 && d[0] == 'L' {
        return strings.TrimSuffix(d[1:], ";")
    } else {
        return d
    }
}

// Shorty returns the single-character shorthand used by proto keys.
func (self *Type) Shorty() byte {
    if self.IsPrimitive() {
        return self.Descriptor[0]
    } else {
        return 'L'
    }
}

// TypeCount reports the number of interned types, used by limit accounting.
func TypeCount() int {
    typeLock.RLock()
    n := len(typeTab)
    typeLock.RUnlock()
    return n
}
