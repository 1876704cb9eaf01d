package lexical

import (
	"testing"

	"github.com/poiesic/curator/core"
	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"simple", "Mossy Rock", []string{"mossy", "rock"}},
		{"punctuation splits", "rock_wall-02.png", []string{"rock", "wall", "02", "png"}},
		{"stop words dropped", "the sound of the sea", []string{"sound", "sea"}},
		{"unicode letters kept", "Café Ünïcode", []string{"café", "ünïcode"}},
		{"only stop words", "the and of", []string{}},
		{"empty", "", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.text))
		})
	}
}

func TestQueryTerms(t *testing.T) {
	assert.Equal(t, []string{"rock", "moss"}, QueryTerms("Rock moss ROCK the rock"))
	assert.Empty(t, QueryTerms("   "))
}

func TestBoost(t *testing.T) {
	assert.Equal(t, 2.5, Boost(core.FieldTags))
	assert.Equal(t, 2.0, Boost(core.FieldFilename))
	assert.Equal(t, 1.4, Boost(core.FieldExtractedText))
	assert.Equal(t, 1.0, Boost("author"))
}

func TestWeighTerms(t *testing.T) {
	weights := weighTerms(map[string]string{
		core.FieldFilename:      "rock",
		core.FieldExtractedText: "rock and moss",
	})
	assert.InDelta(t, 3.4, weights["rock"], 1e-9)
	assert.InDelta(t, 1.4, weights["moss"], 1e-9)
	assert.NotContains(t, weights, "and")
}
