// internal/loop/parse_test.go
package loop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	json "github.com/json-iterator/go"
)

func TestParseReasoningWellFormed(t *testing.T) {
	text := "Evaluation: the click worked.\nMemory: logged in already.\nNext goal: open the orders page."
	rsn := parseReasoning(text)
	assert.Equal(t, "the click worked.", rsn.Evaluation)
	assert.Equal(t, "logged in already.", rsn.Memory)
	assert.Equal(t, "open the orders page.", rsn.NextGoal)
}

func TestParseReasoningToleratesDecoration(t *testing.T) {
	text := "Some preamble.\n**Evaluation**: fine\n  MEMORY:   two items found\n**Next Goal** : submit the form"
	rsn := parseReasoning(text)
	assert.Equal(t, "fine", rsn.Evaluation)
	assert.Equal(t, "two items found", rsn.Memory)
	assert.Equal(t, "submit the form", rsn.NextGoal)
}

func TestParseReasoningDefaultsMissingFields(t *testing.T) {
	rsn := parseReasoning("I will just click the button now.")
	assert.Equal(t, "N/A", rsn.Evaluation)
	assert.Equal(t, "N/A", rsn.Memory)
	assert.Equal(t, "N/A", rsn.NextGoal)

	rsn = parseReasoning("")
	assert.Equal(t, "N/A", rsn.Evaluation)
}

func TestToolCatalogueCoversEveryAction(t *testing.T) {
	defs := toolCatalogue()
	require.Len(t, defs, len(catalogueOrder))

	seen := map[string]bool{}
	for _, def := range defs {
		assert.NotEmpty(t, def.Description)
		// Every parameter schema must be a valid JSON object.
		var schema map[string]any
		require.NoError(t, json.Unmarshal(def.Parameters, &schema), def.Name)
		assert.Equal(t, "object", schema["type"], def.Name)
		seen[def.Name] = true
	}
	assert.True(t, seen["click"])
	assert.True(t, seen["done"])
	assert.True(t, seen["extract_content"])
}

func TestSystemPromptStatesStepBudget(t *testing.T) {
	prompt := systemPrompt(40)
	assert.Contains(t, prompt, "at most 40 steps")
	assert.Contains(t, prompt, "Evaluation:")
	assert.Contains(t, prompt, "Next goal:")
}
