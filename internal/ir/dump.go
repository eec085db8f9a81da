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
    `html`
    `strings`

    `github.com/oleiade/lane`
)

// Dot renders the CFG as a Graphviz digraph, for debugging.
func (self *Code) Dot() string {
    buf := []string {
        "digraph CFG {",
        `    xdotversion = "15"`,
        `    graph [ fontname = "Fira Code" ]`,
        `    node [ fontname = "Fira Code" fontsize="16" shape = "plaintext" ]`,
        `    edge [ fontname = "Fira Code" ]`,
        `    START [ shape = "circle" ]`,
        fmt.Sprintf(`    START -> bb_%d`, self.Entry.Id),
    }

    seen := make(map[int]bool)
    q := lane.NewQueue()

    for q.Enqueue(self.Entry); !q.Empty(); {
        bb := q.Dequeue().(*Block)
        if seen[bb.Id] {
            continue
        }
        seen[bb.Id] = true
        buf = append(buf, fmt.Sprintf(`    bb_%d [ label = < %s > ]`, bb.Id, dumpbb(bb)))

        for _, e := range bb.Succs {
            buf = append(buf, fmt.Sprintf(`    bb_%d -> bb_%d [ label = "%s" ]`, bb.Id, e.Dst.Id, edgeLabel(e)))
            if !seen[e.Dst.Id] {
                q.Enqueue(e.Dst)
            }
        }
    }

    buf = append(buf, "}")
    return strings.Join(buf, "\n")
}

func edgeLabel(e *Edge) string {
    switch e.Kind {
        case EdgeBranch : return fmt.Sprintf("case %d", e.CaseKey)
        case EdgeThrow  : return "throw"
        case EdgeGhost  : return "ghost"
        default         : return "goto"
    }
}

func dumpbb(bb *Block) string {
    var sb strings.Builder
    sb.WriteString(`<table border="1" cellborder="0" cellspacing="0">`)
    fmt.Fprintf(&sb, `<tr><td align="center"><b>bb_%d</b></td></tr>`, bb.Id)
    for _, p := range bb.Insns {
        fmt.Fprintf(&sb, `<tr><td align="left">%s</td></tr>`, html.EscapeString(p.String()))
    }
    sb.WriteString("</table>")
    return sb.String()
}
