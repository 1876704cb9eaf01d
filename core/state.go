// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import "fmt"

// PipelineState is the per-asset progress marker through ingestion stages.
// The non-failed states are totally ordered; Failed sits outside the order.
type PipelineState int

const (
	StateDiscovered PipelineState = iota + 1
	StateFingerprinted
	StateParsed
	StateLexicallyIndexed
	StateEnriched
	StateVectorIndexed
	StateFailed
)

var stateNames = map[PipelineState]string{
	StateDiscovered:       "discovered",
	StateFingerprinted:    "fingerprinted",
	StateParsed:           "parsed",
	StateLexicallyIndexed: "lexically-indexed",
	StateEnriched:         "enriched",
	StateVectorIndexed:    "vector-indexed",
	StateFailed:           "failed",
}

func (s PipelineState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ParsePipelineState converts a state name back into a PipelineState.
func ParsePipelineState(name string) (PipelineState, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidState, name)
}

// Valid reports whether s is one of the defined states.
func (s PipelineState) Valid() bool {
	return s >= StateDiscovered && s <= StateFailed
}

// Searchable reports whether an asset in this state may be returned by search.
func (s PipelineState) Searchable() bool {
	return s >= StateLexicallyIndexed && s <= StateVectorIndexed
}

// Terminal reports whether no further automatic transition follows s.
func (s PipelineState) Terminal() bool {
	return s == StateFailed || s == StateVectorIndexed
}

// CanTransition reports whether a record in state from may be written with state to.
//
// Rules:
//   - writing the same state is a field update and always allowed
//   - moving forward in the stage order is allowed (stages may be skipped)
//   - any non-terminal state may move to Failed
//   - Failed may only restart at Discovered
func CanTransition(from, to PipelineState) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	if from == StateFailed {
		return to == StateDiscovered
	}
	if to == StateFailed {
		return from != StateVectorIndexed
	}
	return to > from
}
