package exchange

import (
	"fmt"

	"github.com/aifriendshub/agenthub/internal/store"
)

// BuildSystemPrompt renders the agent's persona into the system message
// sent with every generation.
func BuildSystemPrompt(agent *store.AgentData) string {
	prohibition := agent.Prohibition
	if prohibition == "" {
		prohibition = "None specified"
	}
	return fmt.Sprintf(
		"You are %s, an AI assistant with the following personality: %s\n\n"+
			"Instructions: %s\n\n"+
			"Prohibitions: %s\n\n"+
			"Remember to stay in character and follow your instructions at all times.",
		agent.AgentName, agent.Personality, agent.Instructions, prohibition)
}
