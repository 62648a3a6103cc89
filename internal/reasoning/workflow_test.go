package reasoning

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/loomvoice/agentcore/internal/llm"
)

func TestBuildMessagesIncludesSystemRoleFirst(t *testing.T) {
	state := &State{Utterance: "what's the weather"}
	messages := buildMessages(state)

	assert.Equal(t, "system", messages[0].Role)
	assert.Equal(t, systemRole, messages[0].Content)
	assert.Equal(t, "user", messages[len(messages)-1].Role)
	assert.Equal(t, "what's the weather", messages[len(messages)-1].Content)
}

func TestBuildMessagesFormatsContextWhenPresent(t *testing.T) {
	state := &State{
		Utterance: "and tomorrow?",
		Context:   []string{"earlier turn about rain", "earlier turn about sun"},
	}
	messages := buildMessages(state)

	var found bool
	for _, m := range messages {
		if strings.Contains(m.Content, "earlier turn about rain") {
			found = true
		}
	}
	assert.True(t, found, "expected formatted context to appear in a system message")
}

func TestBuildMessagesOmitsContextSectionWhenEmpty(t *testing.T) {
	state := &State{Utterance: "hello"}
	messages := buildMessages(state)

	for _, m := range messages {
		assert.NotContains(t, m.Content, "Relevant prior turns")
	}
}

func TestBuildMessagesPreservesRunningHistory(t *testing.T) {
	state := &State{
		Utterance: "continue",
		Messages: []llm.ChatMessage{
			{Role: "user", Content: "first"},
			{Role: "assistant", Content: "first reply"},
		},
	}
	messages := buildMessages(state)

	assert.Contains(t, messages, llm.ChatMessage{Role: "user", Content: "first"})
	assert.Contains(t, messages, llm.ChatMessage{Role: "assistant", Content: "first reply"})
}

func TestFallbackReplyIsFixedString(t *testing.T) {
	assert.Equal(t, "I apologize, but I'm having trouble processing your request right now.", fallbackReply)
}
