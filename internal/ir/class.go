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

// Access is the DEX access-flag bitmask for classes, fields and methods.
type Access uint32

const (
    AccPublic       Access = 0x0001
    AccPrivate      Access = 0x0002
    AccProtected    Access = 0x0004
    AccStatic       Access = 0x0008
    AccFinal        Access = 0x0010
    AccSynchronized Access = 0x0020
    AccVolatile     Access = 0x0040
    AccBridge       Access = 0x0040
    AccVarargs      Access = 0x0080
    AccNative       Access = 0x0100
    AccInterface    Access = 0x0200
    AccAbstract     Access = 0x0400
    AccSynthetic    Access = 0x1000
    AccEnum         Access = 0x4000
    AccConstructor  Access = 0x10000
)

// RenameState carries the per-class marks consulted by the optimizer.
type RenameState struct {
    Root            bool
    NameUsed        bool
    Generated       bool
    DontInline      bool
    NoOptimizations bool
    ApiLevel        int32
    InterdexGroup   int32
    Renamed         string   // pending new descriptor, applied at write-out
}

// Class is a class definition. Every class is owned by exactly one DEX file
// inside one store.
type Class struct {
    Type       *Type
    Super      *Type
    Interfaces []*Type
    Access     Access
    SFields    []*Field
    IFields    []*Field
    DMethods   []*Method     // direct: static, private, constructors
    VMethods   []*Method     // virtual
    Anno       []string
    Rstate     RenameState
}

// Field is a resolved field definition.
type Field struct {
    Ref    *FieldRef
    Class  *Class
    Access Access
}

// Method is a resolved method definition. Code is nil for abstract and
// native methods.
type Method struct {
    Ref    *MethodRef
    Class  *Class
    Access Access
    Code   *Code
}

func (self *Class) String() string {
    return self.Type.Descriptor
}

func (self *Class) IsInterface() bool {
    return self.Access & AccInterface != 0
}

// Clinit returns the static initializer, or nil.
func (self *Class) Clinit() *Method {
    for _, m := range self.DMethods {
        if m.Ref.IsClinit() {
            return m
        }
    }
    return nil
}

// Ctors returns all constructors of the class.
func (self *Class) Ctors() []*Method {
    var ret []*Method
    for _, m := range self.DMethods {
        if m.Ref.IsInit() {
            ret = append(ret, m)
        }
    }
    return ret
}

// AllMethods returns direct methods followed by virtual methods.
func (self *Class) AllMethods() []*Method {
    ret := make([]*Method, 0, len(self.DMethods) + len(self.VMethods))
    ret = append(ret, self.DMethods...)
    ret = append(ret, self.VMethods...)
    return ret
}

// FindSField looks up a static field definition by reference identity on
// name and type.
func (self *Class) FindSField(name string, ft *Type) *Field {
    for _, f := range self.SFields {
        if f.Ref.Name == name && f.Ref.Type == ft {
            return f
        }
    }
    return nil
}

// FindIField looks up an instance field definition.
func (self *Class) FindIField(name string, ft *Type) *Field {
    for _, f := range self.IFields {
        if f.Ref.Name == name && f.Ref.Type == ft {
            return f
        }
    }
    return nil
}

// FindVMethod looks up a virtual method by name and proto.
func (self *Class) FindVMethod(name string, proto *Proto) *Method {
    for _, m := range self.VMethods {
        if m.Ref.Name == name && m.Ref.Proto == proto {
            return m
        }
    }
    return nil
}

// FindDMethod looks up a direct method by name and proto.
func (self *Class) FindDMethod(name string, proto *Proto) *Method {
    for _, m := range self.DMethods {
        if m.Ref.Name == name && m.Ref.Proto == proto {
            return m
        }
    }
    return nil
}

// RemoveMethod unlinks m from its owning class.
func (self *Class) RemoveMethod(m *Method) {
    self.DMethods = removemethod(self.DMethods, m)
    self.VMethods = removemethod(self.VMethods, m)
}

func removemethod(ms []*Method, m *Method) []*Method {
    for i, v := range ms {
        if v == m {
            return append(ms[:i], ms[i + 1:]...)
        }
    }
    return ms
}

func (self *Method) String() string {
    return self.Ref.String()
}

func (self *Method) IsStatic() bool {
    return self.Access & AccStatic != 0
}

func (self *Method) IsPrivate() bool {
    return self.Access & AccPrivate != 0
}

func (self *Method) IsAbstract() bool {
    return self.Access & AccAbstract != 0
}

func (self *Method) IsNative() bool {
    return self.Access & AccNative != 0
}

// IsVirtual reports whether the method takes part in virtual dispatch.
func (self *Method) IsVirtual() bool {
    return !self.IsStatic() && !self.IsPrivate() && !self.Ref.IsInit()
}

func (self *Field) String() string {
    return self.Ref.String()
}

func (self *Field) IsStatic() bool {
    return self.Access & AccStatic != 0
}

func (self *Field) IsFinal() bool {
    return self.Access & AccFinal != 0
}

func (self *Field) IsVolatile() bool {
    return self.Access & AccVolatile != 0
}
