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
    `fmt`
    `sync`
)

// FieldRef is an interned (owner, name, type) triple as it appears in
// instructions. It names a field; it does not imply the field resolves to a
// definition in the current scope.
type FieldRef struct {
    Owner *Type
    Name  string
    Type  *Type
}

// MethodRef is an interned (owner, name, proto) triple as it appears in
// invoke instructions.
type MethodRef struct {
    Owner *Type
    Name  string
    Proto *Proto
}

var (
    fieldLock  sync.RWMutex
    methodLock sync.RWMutex
    fieldTab   = make(map[string]*FieldRef, 4096)
    methodTab  = make(map[string]*MethodRef, 4096)
)

// MakeFieldRef interns the field triple.
func MakeFieldRef(owner *Type, name string, ft *Type) *FieldRef {
    key := owner.Descriptor + "." + name + ":" + ft.Descriptor
    fieldLock.RLock()
    fr, ok := fieldTab[key]
    fieldLock.RUnlock()

    /* fast path: already interned */
    if ok {
        return fr
    }

    /* slow path: intern under the write lock */
    fieldLock.Lock()
    defer fieldLock.Unlock()

    /* recheck, then insert */
    if fr, ok = fieldTab[key]; !ok {
        fr = &FieldRef { Owner: owner, Name: name, Type: ft }
        fieldTab[key] = fr
    }
    return fr
}

// MakeMethodRef interns the method triple.
func MakeMethodRef(owner *Type, name string, proto *Proto) *MethodRef {
    key := owner.Descriptor + "." + name + ":" + proto.String()
    methodLock.RLock()
    mr, ok := methodTab[key]
    methodLock.RUnlock()

    /* fast path: already interned */
    if ok {
        return mr
    }

    /* slow path: intern under the write lock */
    methodLock.Lock()
    defer methodLock.Unlock()

    /* recheck, then insert */
    if mr, ok = methodTab[key]; !ok {
        mr = &MethodRef { Owner: owner, Name: name, Proto: proto }
        methodTab[key] = mr
    }
    return mr
}

// String renders the reference in DEX descriptor form, e.g.
// "Lcom/x/Foo;.bar:(Ljava/lang/String;I)V".
func (self *FieldRef) String() string {
    return fmt.Sprintf("%s.%s:%s", self.Owner, self.Name, self.Type)
}

func (self *MethodRef) String() string {
    return fmt.Sprintf("%s.%s:%s", self.Owner, self.Name, self.Proto)
}

// IsInit reports whether the reference names a constructor.
func (self *MethodRef) IsInit() bool {
    return self.Name == "<init>"
}

// IsClinit reports whether the reference names a static initializer.
func (self *MethodRef) IsClinit() bool {
    return self.Name == "<clinit>"
}
