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

package override

import (
    `testing`

    `github.com/dexopt/dexopt/internal/ir`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

func newclass(desc string, super *ir.Type) *ir.Class {
    return &ir.Class {
        Type   : ir.MakeType(desc),
        Super  : super,
        Access : ir.AccPublic,
    }
}

func addvirtual(cls *ir.Class, name string, proto *ir.Proto) *ir.Method {
    m := &ir.Method {
        Ref    : ir.MakeMethodRef(cls.Type, name, proto),
        Class  : cls,
        Access : ir.AccPublic,
    }
    cls.VMethods = append(cls.VMethods, m)
    return m
}

func TestGraph_OverrideChain(t *testing.T) {
    proto := ir.MakeProto(ir.TypeVoid)

    /* Base (no super) <- Mid <- Leaf, draw overridden at Base and Leaf */
    base := newclass("Lcom/test/og/Base;", nil)
    mid := newclass("Lcom/test/og/Mid;", base.Type)
    leaf := newclass("Lcom/test/og/Leaf;", mid.Type)

    bdraw := addvirtual(base, "draw", proto)
    ldraw := addvirtual(leaf, "draw", proto)
    other := addvirtual(mid, "other", proto)

    scope := ir.NewScope([]*ir.Class { base, mid, leaf })
    g := Build(scope)

    /* the leaf override parents on the base declaration through Mid */
    nd := g.NodeOf(ldraw)
    require.NotNil(t, nd)
    require.Len(t, nd.Parents, 1)
    assert.Equal(t, bdraw, nd.Parents[0].Method)

    ov := g.AllOverriders(bdraw)
    require.Len(t, ov, 1)
    assert.Equal(t, ldraw, ov[0])
    assert.Empty(t, g.AllOverriders(ldraw))

    /* the connected group spans both, in either direction */
    grp := g.GatherConnectedMethods(bdraw)
    assert.Len(t, grp, 2)
    grp = g.GatherConnectedMethods(ldraw)
    assert.Len(t, grp, 2)
    assert.Len(t, g.GatherConnectedMethods(other), 1)

    /* everything here is rooted inside the scope */
    assert.False(t, g.AnyExternalParents(bdraw))
    assert.False(t, g.AnyExternalParents(ldraw))
    assert.False(t, g.HasExternal(other))
}

func TestGraph_ExternalSuper(t *testing.T) {
    proto := ir.MakeProto(ir.TypeVoid)

    /* the super chain leaves the scope at java.lang.Object */
    cls := newclass("Lcom/test/og/Widget;", ir.TypeObject)
    m := addvirtual(cls, "onClick", proto)

    scope := ir.NewScope([]*ir.Class { cls })
    g := Build(scope)

    assert.True(t, g.AnyExternalParents(m))
    assert.True(t, g.HasExternal(m))
}

func TestGraph_ExternalInterface(t *testing.T) {
    proto := ir.MakeProto(ir.TypeVoid)

    cls := newclass("Lcom/test/og/Runner;", nil)
    cls.Interfaces = []*ir.Type { ir.MakeType("Ljava/lang/Runnable;") }
    m := addvirtual(cls, "run", proto)

    scope := ir.NewScope([]*ir.Class { cls })
    g := Build(scope)

    assert.True(t, g.AnyExternalParents(m))
}

func TestGraph_InterfaceImplementation(t *testing.T) {
    proto := ir.MakeProto(ir.TypeVoid)

    iface := newclass("Lcom/test/og/Doer;", nil)
    iface.Access |= ir.AccInterface
    decl := addvirtual(iface, "do1", proto)

    impl := newclass("Lcom/test/og/DoerImpl;", nil)
    impl.Interfaces = []*ir.Type { iface.Type }
    m := addvirtual(impl, "do1", proto)

    scope := ir.NewScope([]*ir.Class { iface, impl })
    g := Build(scope)

    nd := g.NodeOf(m)
    require.NotNil(t, nd)
    require.Len(t, nd.Parents, 1)
    assert.Equal(t, decl, nd.Parents[0].Method)
    assert.False(t, g.AnyExternalParents(m))
}

func TestGraph_StaticsExcluded(t *testing.T) {
    cls := newclass("Lcom/test/og/Stat;", nil)
    m := &ir.Method {
        Ref    : ir.MakeMethodRef(cls.Type, "s", ir.MakeProto(ir.TypeVoid)),
        Class  : cls,
        Access : ir.AccPublic | ir.AccStatic,
    }
    cls.DMethods = append(cls.DMethods, m)

    g := Build(ir.NewScope([]*ir.Class { cls }))
    assert.Nil(t, g.NodeOf(m))
    assert.Equal(t, []*ir.Method { m }, g.GatherConnectedMethods(m))
}
