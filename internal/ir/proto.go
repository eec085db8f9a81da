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

// Proto is an interned method prototype: a return type plus an ordered
// argument type list.
type Proto struct {
    Ret  *Type
    Args []*Type
}

var (
    protoLock sync.RWMutex
    protoTab  = make(map[string]*Proto, 1024)
)

// MakeProto interns the (ret, args) pair and returns the canonical *Proto.
func MakeProto(ret *Type, args ...*Type) *Proto {
    key := protokey(ret, args)
    protoLock.RLock()
    pt, ok := protoTab[key]
    protoLock.RUnlock()

    /* fast path: already interned */
    if ok {
        return pt
    }

    /* slow path: intern under the write lock */
    protoLock.Lock()
    defer protoLock.Unlock()

    /* recheck, then insert */
    if pt, ok = protoTab[key]; !ok {
        pt = &Proto { Ret: ret, Args: append([]*Type(nil), args...) }
        protoTab[key] = pt
    }
    return pt
}

func protokey(ret *Type, args []*Type) string {
    var sb strings.Builder
    sb.WriteByte('(')
    for _, v := range args { sb.WriteString(v.Descriptor) }
    sb.WriteByte(')')
    sb.WriteString(ret.Descriptor)
    return sb.String()
}

func (self *Proto) String() string {
    return protokey(self.Ret, self.Args)
}

// WithoutArgs returns the interned proto with the argument positions in
// drop removed. drop must be sorted ascending.
func (self *Proto) WithoutArgs(drop []int) *Proto {
    j := 0
    args := make([]*Type, 0, len(self.Args))

    /* keep everything not in the drop list */
    for i, v := range self.Args {
        if j < len(drop) && drop[j] == i {
            j++
        } else {
            args = append(args, v)
        }
    }
    return MakeProto(self.Ret, args...)
}

// WithReturn returns the interned proto with the return type replaced.
func (self *Proto) WithReturn(ret *Type) *Proto {
    return MakeProto(ret, self.Args...)
}
