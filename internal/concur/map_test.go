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

package concur

import (
    `sync`
    `testing`

    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

func hashint(k int) uint64 {
    return uint64(k) * 0x9e3779b97f4a7c15
}

func TestMap_Basics(t *testing.T) {
    m := NewMap[int, string](hashint)

    _, ok := m.Get(1)
    assert.False(t, ok)

    m.Insert(1, "one")
    m.Insert(2, "two")
    v, ok := m.Get(1)
    require.True(t, ok)
    assert.Equal(t, "one", v)
    assert.Equal(t, 2, m.Len())

    /* insert overwrites */
    m.Insert(1, "uno")
    v, _ = m.Get(1)
    assert.Equal(t, "uno", v)
    assert.Equal(t, 2, m.Len())
}

func TestMap_Update(t *testing.T) {
    m := NewMap[string, int](func(s string) uint64 {
        var h uint64 = 14695981039346656037
        for i := 0; i < len(s); i++ {
            h = (h ^ uint64(s[i])) * 1099511628211
        }
        return h
    })

    for i := 0; i < 10; i++ {
        m.Update("k", func(v int, ok bool) int {
            if !ok {
                return 1
            }
            return v + 1
        })
    }
    v, ok := m.Get("k")
    require.True(t, ok)
    assert.Equal(t, 10, v)
}

func TestMap_Concurrent(t *testing.T) {
    const workers = 8
    const perWorker = 500

    m := NewMap[int, int](hashint)
    var wg sync.WaitGroup
    for w := 0; w < workers; w++ {
        wg.Add(1)
        go func(w int) {
            defer wg.Done()
            for i := 0; i < perWorker; i++ {
                m.Insert(w * perWorker + i, w)
            }
        }(w)
    }
    wg.Wait()

    assert.Equal(t, workers * perWorker, m.Len())
    n := 0
    m.Range(func(k int, v int) bool {
        n++
        return true
    })
    assert.Equal(t, workers * perWorker, n)
}

func TestSet(t *testing.T) {
    s := NewSet[int](hashint)

    assert.True(t, s.Add(1))
    assert.False(t, s.Add(1))
    assert.True(t, s.Add(2))
    assert.True(t, s.Has(1))
    assert.False(t, s.Has(3))
    assert.Equal(t, 2, s.Len())

    seen := 0
    s.Range(func(k int) bool {
        seen++
        return true
    })
    assert.Equal(t, 2, seen)
}

func TestPtrHash(t *testing.T) {
    a, b := new(int), new(int)
    assert.Equal(t, PtrHash(a), PtrHash(a))
    assert.NotEqual(t, PtrHash(a), PtrHash(b))
}
