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

// Resolution walks the hierarchy from a reference to a definition. A nil
// result means the reference is external or dangling; analyses must treat
// that as "unknown", never as an error.

// ResolveMethod resolves a method reference to its definition, searching the
// owner, its super chain, then the transitive interfaces.
func (self *Scope) ResolveMethod(ref *MethodRef) *Method {
    for tp := ref.Owner; tp != nil; {
        cls := self.ClassOf(tp)
        if cls == nil {
            return nil
        }

        /* direct methods take precedence, then virtual */
        if m := cls.FindDMethod(ref.Name, ref.Proto); m != nil {
            return m
        }
        if m := cls.FindVMethod(ref.Name, ref.Proto); m != nil {
            return m
        }

        /* not here, try the super class */
        tp = cls.Super
    }

    /* fall back to the interface graph */
    return self.resolveiface(ref.Owner, ref)
}

func (self *Scope) resolveiface(tp *Type, ref *MethodRef) *Method {
    cls := self.ClassOf(tp)
    if cls == nil {
        return nil
    }

    /* scan every implemented interface, depth first */
    for _, it := range cls.Interfaces {
        if ic := self.ClassOf(it); ic != nil {
            if m := ic.FindVMethod(ref.Name, ref.Proto); m != nil {
                return m
            }
            if m := self.resolveiface(it, ref); m != nil {
                return m
            }
        }
    }

    /* interfaces inherit from super interfaces through Super as well */
    if cls.Super != nil {
        return self.resolveiface(cls.Super, ref)
    }
    return nil
}

// ResolveField resolves a field reference to its definition, searching the
// owner then the super chain, honoring the static flag.
func (self *Scope) ResolveField(ref *FieldRef, static bool) *Field {
    for tp := ref.Owner; tp != nil; {
        cls := self.ClassOf(tp)
        if cls == nil {
            return nil
        }

        /* check the matching field table */
        if static {
            if f := cls.FindSField(ref.Name, ref.Type); f != nil {
                return f
            }
        } else {
            if f := cls.FindIField(ref.Name, ref.Type); f != nil {
                return f
            }
        }

        /* static fields may also live on interfaces */
        if static {
            for _, it := range cls.Interfaces {
                if ic := self.ClassOf(it); ic != nil {
                    if f := ic.FindSField(ref.Name, ref.Type); f != nil {
                        return f
                    }
                }
            }
        }

        /* not here, try the super class */
        tp = cls.Super
    }
    return nil
}

// IsSubclassOf reports whether sub derives from base through the super
// chain. Unknown classes terminate the walk.
func (self *Scope) IsSubclassOf(sub *Type, base *Type) bool {
    for tp := sub; tp != nil; {
        if tp == base {
            return true
        }
        cls := self.ClassOf(tp)
        if cls == nil {
            return false
        }
        tp = cls.Super
    }
    return false
}

// Implements reports whether tp transitively implements the interface it.
func (self *Scope) Implements(tp *Type, it *Type) bool {
    for cur := tp; cur != nil; {
        cls := self.ClassOf(cur)
        if cls == nil {
            return false
        }
        for _, v := range cls.Interfaces {
            if v == it || self.Implements(v, it) {
                return true
            }
        }
        cur = cls.Super
    }
    return false
}
