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

package openai

import (
	"strings"
	"unicode"
)

// repairJSON fixes keys that lost their opening quote, a mistake small chat
// models make in JSON mode. Example: `, caption":` becomes `, "caption":`.
func repairJSON(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 8)

	for i := 0; i < len(runes); {
		r := runes[i]
		b.WriteRune(r)
		i++
		if r != '{' && r != ',' {
			continue
		}

		for i < len(runes) && unicode.IsSpace(runes[i]) {
			b.WriteRune(runes[i])
			i++
		}
		if i >= len(runes) || !isKeyRune(runes[i]) {
			continue
		}
		end := i
		for end < len(runes) && (isKeyRune(runes[end]) || unicode.IsDigit(runes[end]) || runes[end] == '_') {
			end++
		}
		// A key followed by `":` is missing only its opening quote
		if end+1 < len(runes) && runes[end] == '"' && runes[end+1] == ':' {
			b.WriteByte('"')
		}
	}
	return b.String()
}
