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

// Package concur provides the sharded concurrent containers used to
// aggregate analysis results from parallel workers. String-keyed
// aggregations should prefer the lock-free skipmap / skipset re-exports.
package concur

import (
    `sync`
    `unsafe`

    `github.com/bytedance/gopkg/collection/skipmap`
    `github.com/bytedance/gopkg/collection/skipset`
)

const _NumShards = 64

// PtrHash hashes a pointer identity for shard selection.
func PtrHash[T any](p *T) uint64 {
    return uint64(uintptr(unsafe.Pointer(p))) >> 3
}

// NewStringMap returns a lock-free concurrent map keyed by string.
func NewStringMap() *skipmap.StringMap {
    return skipmap.NewString()
}

// NewStringSet returns a lock-free concurrent set of strings.
func NewStringSet() *skipset.StringSet {
    return skipset.NewString()
}

// Map is a sharded mutex-protected map for arbitrary comparable keys
// (pointer keys in particular, which the skip containers cannot order).
type Map[K comparable, V any] struct {
    hash   func(K) uint64
    shards [_NumShards]_Shard[K, V]
}

type _Shard[K comparable, V any] struct {
    mu sync.RWMutex
    kv map[K]V
}

// NewMap creates an empty sharded map.
func NewMap[K comparable, V any](hash func(K) uint64) *Map[K, V] {
    m := &Map[K, V] { hash: hash }
    for i := range m.shards {
        m.shards[i].kv = make(map[K]V)
    }
    return m
}

func (self *Map[K, V]) shard(k K) *_Shard[K, V] {
    return &self.shards[self.hash(k) % _NumShards]
}

// Get returns the value for k.
func (self *Map[K, V]) Get(k K) (V, bool) {
    s := self.shard(k)
    s.mu.RLock()
    v, ok := s.kv[k]
    s.mu.RUnlock()
    return v, ok
}

// Insert stores v under k. Concurrent inserts on the same key may conflict;
// the last one wins.
func (self *Map[K, V]) Insert(k K, v V) {
    s := self.shard(k)
    s.mu.Lock()
    s.kv[k] = v
    s.mu.Unlock()
}

// Update applies fn atomically to the current value under k (the zero
// value if absent) and stores the result.
func (self *Map[K, V]) Update(k K, fn func(v V, ok bool) V) {
    s := self.shard(k)
    s.mu.Lock()
    v, ok := s.kv[k]
    s.kv[k] = fn(v, ok)
    s.mu.Unlock()
}

// Range visits every entry. Not atomic across shards; concurrent writers
// may or may not be observed.
func (self *Map[K, V]) Range(fn func(k K, v V) bool) {
    for i := range self.shards {
        s := &self.shards[i]
        s.mu.RLock()
        for k, v := range s.kv {
            if !fn(k, v) {
                s.mu.RUnlock()
                return
            }
        }
        s.mu.RUnlock()
    }
}

// Len counts the entries across all shards.
func (self *Map[K, V]) Len() int {
    n := 0
    for i := range self.shards {
        s := &self.shards[i]
        s.mu.RLock()
        n += len(s.kv)
        s.mu.RUnlock()
    }
    return n
}

// Set is a sharded concurrent set of comparable keys.
type Set[K comparable] struct {
    m *Map[K, struct{}]
}

// NewSet creates an empty sharded set.
func NewSet[K comparable](hash func(K) uint64) *Set[K] {
    return &Set[K] { m: NewMap[K, struct{}](hash) }
}

// Add inserts k, reporting whether it was absent.
func (self *Set[K]) Add(k K) bool {
    added := false
    self.m.Update(k, func(v struct{}, ok bool) struct{} {
        added = !ok
        return struct{}{}
    })
    return added
}

// Has reports membership.
func (self *Set[K]) Has(k K) bool {
    _, ok := self.m.Get(k)
    return ok
}

// Range visits every member.
func (self *Set[K]) Range(fn func(k K) bool) {
    self.m.Range(func(k K, _ struct{}) bool { return fn(k) })
}

// Len counts the members.
func (self *Set[K]) Len() int {
    return self.m.Len()
}
