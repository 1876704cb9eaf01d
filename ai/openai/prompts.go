package openai

import "fmt"

const tagResponseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "tags": {
      "type": "array",
      "items": {
        "type": "string",
        "pattern": "^[a-z0-9]+( [a-z0-9]+)*$"
      }
    },
    "caption": {
      "type": "string"
    }
  },
  "required": ["tags", "caption"],
  "additionalProperties": false
}`

const tagPromptTemplate = `You catalogue digital assets for artists and game developers. Describe the asset below with
search tags and a short caption, and return them as JSON.

Output ONLY valid JSON which complies with the schema given below. Do not include any preamble, explanation,
greeting, or acknowledgment. Start your response directly with the opening brace { and end with the closing
brace }. Your output must exactly follow this schema:

%s

Rules:
- Tags must be lowercase, 1-3 words, singular form only.
- Return at most %d tags, most descriptive first.
- Prefer tags about subject, material, style and intended use.
- Use only what the description states or clearly implies. Do not hallucinate.
- The caption is one sentence of at most 20 words. Use "" if nothing can be said.
- If no tags can be identified, return "tags": [].
- The JSON must parse without errors; no trailing commas, no extra keys, and no extraneous text outside the object.

Example:
Input:
filename: mossy_rock_01.png
kind: image
Output:
{
  "tags": ["rock", "moss", "texture", "nature"],
  "caption": "A moss covered rock texture."
}

Example:
Input:
filename: footsteps_gravel.wav
kind: audio
Output:
{
  "tags": ["footstep", "gravel", "sound effect"],
  "caption": "Footsteps walking on gravel."
}`

// buildSystemPrompt creates the system prompt with the tag cap embedded.
func buildSystemPrompt(maxTags int) string {
	return fmt.Sprintf(tagPromptTemplate, tagResponseSchema, maxTags)
}
