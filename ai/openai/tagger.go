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
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"

	"github.com/poiesic/curator/ai"
	"github.com/poiesic/curator/core"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// maxParseAttempts bounds how often a malformed model response is regenerated.
const maxParseAttempts = 3

// chatModel is the part of llms.Model used here.
type chatModel interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// Tagger implements ai.Tagger using OpenAI-compatible chat APIs.
type Tagger struct {
	client  chatModel
	maxTags int
	logger  *slog.Logger
}

// tagResponse is the JSON object the model is asked to produce.
type tagResponse struct {
	Tags    []string `json:"tags"`
	Caption string   `json:"caption"`
}

// newTagger is an internal constructor that returns the concrete type.
// Used by Enricher to manage the instance.
func newTagger(config *ai.Config) (*Tagger, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.TaggerHost),
		openai.WithToken(config.Token),
		openai.WithModel(config.TaggerModel),
	)
	if err != nil {
		return nil, err
	}

	return &Tagger{
		client:  client,
		maxTags: config.MaxTags,
		logger:  slog.Default().With("component", "openai-tagger"),
	}, nil
}

// NewTagger creates a new tagger using the provided configuration.
//
// Returns ai.Tagger interface to enforce abstraction.
func NewTagger(config *ai.Config) (ai.Tagger, error) {
	return newTagger(config)
}

// Tag asks the model for tags and a caption describing the asset.
func (t *Tagger) Tag(ctx context.Context, asset ai.AssetInfo) (ai.TagResult, error) {
	description := asset.Describe()
	if description == "" {
		return ai.TagResult{}, nil
	}

	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(buildSystemPrompt(t.maxTags))},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(description)},
		},
	}

	// Try up to maxParseAttempts times in case of malformed JSON
	var result tagResponse
	var lastErr error
	for attempt := 0; attempt < maxParseAttempts; attempt++ {
		response, err := t.client.GenerateContent(ctx, content, llms.WithTemperature(0.0), llms.WithJSONMode())
		if err != nil {
			if ctx.Err() != nil {
				return ai.TagResult{}, ctx.Err()
			}
			t.logger.Error("failed to generate content", "attempt", attempt+1, "err", err)
			return ai.TagResult{}, &core.IoError{Path: asset.Path, Op: "tag", Err: err}
		}

		if len(response.Choices) < 1 {
			t.logger.Debug("no choices returned from model")
			return ai.TagResult{}, nil
		}

		result, lastErr = parseTagResponse(response.Choices[0].Content)
		if lastErr == nil {
			break
		}
		t.logger.Warn("error parsing tagger response",
			"attempt", attempt+1,
			"response", response.Choices[0].Content,
			"err", lastErr)
	}

	if lastErr != nil {
		t.logger.Error("failed to parse tagger response after retries", "err", lastErr)
		return ai.TagResult{}, ai.ErrUnavailable
	}

	// The model lists the most descriptive tags first, so cap before sorting.
	tags := make([]string, 0, t.maxTags)
	for _, tag := range result.Tags {
		if len(tags) == t.maxTags {
			break
		}
		if tag = cleanTag(tag); tag != "" && !slices.Contains(tags, tag) {
			tags = append(tags, tag)
		}
	}
	tags = core.NormalizeTags(tags)

	t.logger.Debug("tagged asset", "path", asset.Path, "tags", len(tags))
	return ai.TagResult{Tags: tags, Caption: strings.TrimSpace(result.Caption)}, nil
}

// parseTagResponse strips code fences, repairs common key-quoting mistakes and decodes the response.
func parseTagResponse(text string) (tagResponse, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = repairJSON(strings.TrimSpace(text))

	var result tagResponse
	err := json.Unmarshal([]byte(text), &result)
	return result, err
}
