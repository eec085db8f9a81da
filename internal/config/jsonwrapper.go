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

// Package config gives passes typed, defaulted access to their slice of the
// JSON configuration object. The JSON loader itself is an external
// collaborator; this package only wraps an already-decoded object tree.
package config

import (
    `encoding/json`
    `sort`
)

// JsonWrapper wraps one JSON object level.
type JsonWrapper struct {
    obj map[string]json.RawMessage
}

// Wrap decodes raw into a wrapper. A nil or empty raw yields an empty
// wrapper whose accessors all return their defaults.
func Wrap(raw []byte) *JsonWrapper {
    w := &JsonWrapper { obj: make(map[string]json.RawMessage) }
    if len(raw) != 0 {
        if err := json.Unmarshal(raw, &w.obj); err != nil {
            panic("config: malformed configuration object: " + err.Error())
        }
    }
    return w
}

// WrapObject wraps an object already split into raw members.
func WrapObject(obj map[string]json.RawMessage) *JsonWrapper {
    if obj == nil {
        obj = make(map[string]json.RawMessage)
    }
    return &JsonWrapper { obj: obj }
}

// Has reports whether the key is present.
func (self *JsonWrapper) Has(key string) bool {
    _, ok := self.obj[key]
    return ok
}

// Sub returns the nested object under key, or an empty wrapper.
func (self *JsonWrapper) Sub(key string) *JsonWrapper {
    if raw, ok := self.obj[key]; ok {
        return Wrap(raw)
    }
    return WrapObject(nil)
}

// Bool returns the boolean under key, or def.
func (self *JsonWrapper) Bool(key string, def bool) bool {
    var v bool
    if raw, ok := self.obj[key]; !ok {
        return def
    } else if json.Unmarshal(raw, &v) != nil {
        return def
    } else {
        return v
    }
}

// Int returns the integer under key, or def.
func (self *JsonWrapper) Int(key string, def int64) int64 {
    var v int64
    if raw, ok := self.obj[key]; !ok {
        return def
    } else if json.Unmarshal(raw, &v) != nil {
        return def
    } else {
        return v
    }
}

// Float returns the float under key, or def.
func (self *JsonWrapper) Float(key string, def float64) float64 {
    var v float64
    if raw, ok := self.obj[key]; !ok {
        return def
    } else if json.Unmarshal(raw, &v) != nil {
        return def
    } else {
        return v
    }
}

// Str returns the string under key, or def.
func (self *JsonWrapper) Str(key string, def string) string {
    var v string
    if raw, ok := self.obj[key]; !ok {
        return def
    } else if json.Unmarshal(raw, &v) != nil {
        return def
    } else {
        return v
    }
}

// StrList returns the string list under key, or nil.
func (self *JsonWrapper) StrList(key string) []string {
    var v []string
    if raw, ok := self.obj[key]; ok {
        if json.Unmarshal(raw, &v) == nil {
            return v
        }
    }
    return nil
}

// StrSet returns the string list under key as a membership set.
func (self *JsonWrapper) StrSet(key string) map[string]struct{} {
    ls := self.StrList(key)
    ret := make(map[string]struct{}, len(ls))
    for _, s := range ls {
        ret[s] = struct{}{}
    }
    return ret
}

// Keys returns the member keys in sorted order.
func (self *JsonWrapper) Keys() []string {
    ret := make([]string, 0, len(self.obj))
    for k := range self.obj {
        ret = append(ret, k)
    }
    sort.Strings(ret)
    return ret
}
