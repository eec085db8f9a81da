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

package passes

// Property is a named whole-program fact that passes establish, require,
// preserve or destroy.
type Property uint8

const (
    DexLimitsObeyed Property = iota
    HasSourceBlocks
    NoResolvablePureRefs
    NoUnreachableInstructions
    NoInitClassInstructions
    NoSpuriousGetClassCalls
    InitialRenameClass
    UltralightCodePatterns
    SpuriousGetClassCallsInterned
    _PropertyCount
)

var propertyNames = [...]string {
    DexLimitsObeyed               : "DexLimitsObeyed",
    HasSourceBlocks               : "HasSourceBlocks",
    NoResolvablePureRefs          : "NoResolvablePureRefs",
    NoUnreachableInstructions     : "NoUnreachableInstructions",
    NoInitClassInstructions       : "NoInitClassInstructions",
    NoSpuriousGetClassCalls       : "NoSpuriousGetClassCalls",
    InitialRenameClass            : "InitialRenameClass",
    UltralightCodePatterns        : "UltralightCodePatterns",
    SpuriousGetClassCallsInterned : "SpuriousGetClassCallsInterned",
}

func (self Property) String() string {
    if int(self) < len(propertyNames) {
        return propertyNames[self]
    }
    return "Unknown"
}

// Interaction is how one pass relates to one property.
type Interaction uint8

const (
    None Interaction = iota
    Requires
    Establishes
    Preserves
    Destroys
    RequiresAndEstablishes
)

// Table declares a pass's interaction with every property.
type Table [_PropertyCount]Interaction

// With is a builder helper for declaring tables inline.
func (self Table) With(p Property, i Interaction) Table {
    self[p] = i
    return self
}

// State tracks which properties currently hold.
type State [_PropertyCount]bool

// Advance applies a pass's declared interactions to the state and
// reports the first unmet requirement, or a negative property index.
func (self *State) Advance(t Table) Property {
    for p := Property(0); p < _PropertyCount; p++ {
        switch t[p] {
            case Requires, RequiresAndEstablishes: {
                if !self[p] {
                    return p
                }
            }
        }
    }

    for p := Property(0); p < _PropertyCount; p++ {
        switch t[p] {
            case Establishes, RequiresAndEstablishes: {
                self[p] = true
            }
            case Destroys: {
                self[p] = false
            }
            case None: {
                /* unmentioned properties do not survive the pass */
                self[p] = false
            }
        }
    }
    return _PropertyCount
}
