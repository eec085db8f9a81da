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
)

// Scope is the full ordered set of classes under analysis, across every
// store. It owns the type → class index; a duplicate class definition is an
// invariant violation.
type Scope struct {
    Classes []*Class
    index   map[*Type]*Class
}

// NewScope builds a scope over classes and indexes them.
func NewScope(classes []*Class) *Scope {
    idx := make(map[*Type]*Class, len(classes))

    /* index all the classes */
    for _, c := range classes {
        if _, ok := idx[c.Type]; ok {
            panic(fmt.Sprintf("ir: duplicate class definition: %s", c.Type))
        } else {
            idx[c.Type] = c
        }
    }

    /* construct the scope */
    return &Scope {
        index   : idx,
        Classes : classes,
    }
}

// ClassOf resolves a type to its definition, or nil if the type is external
// to the scope.
func (self *Scope) ClassOf(tp *Type) *Class {
    return self.index[tp]
}

// AddClass appends a generated class to the scope.
func (self *Scope) AddClass(c *Class) {
    if _, ok := self.index[c.Type]; ok {
        panic(fmt.Sprintf("ir: duplicate class definition: %s", c.Type))
    } else {
        self.index[c.Type] = c
        self.Classes = append(self.Classes, c)
    }
}

// RemoveClass unlinks a class absorbed by another definition.
func (self *Scope) RemoveClass(c *Class) {
    delete(self.index, c.Type)
    for i, v := range self.Classes {
        if v == c {
            self.Classes = append(self.Classes[:i], self.Classes[i+1:]...)
            break
        }
    }
}

// EachMethod iterates every method with code in scope order.
func (self *Scope) EachMethod(action func(m *Method)) {
    for _, c := range self.Classes {
        for _, m := range c.AllMethods() {
            if m.Code != nil {
                action(m)
            }
        }
    }
}

// MethodsWithCode collects every method that has a body, in scope order.
func (self *Scope) MethodsWithCode() []*Method {
    var ret []*Method
    self.EachMethod(func(m *Method) { ret = append(ret, m) })
    return ret
}
