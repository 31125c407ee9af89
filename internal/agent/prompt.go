package agent

import (
	"strings"

	"OpenMCP-Bank/internal/knowledge"
)

const basePrompt = `You are a banking assistant for OpenMCP Bank.
Answer using only the customer's own data, either from the context below or from the tools provided.
Never invent balances, transactions or recipients.
Use the bank tools for history questions. Only query the blockchain with get_onchain_transactions when the customer explicitly asks to check on-chain, and never suggest it unprompted.
If no bank transactions are found, say so plainly.
When the customer asks to pay someone, answer with a line of the form "Send $<amount> to <Name>" and tell them they will be asked to confirm before anything is sent.`

const anonymousPrompt = `You are a banking assistant for OpenMCP Bank.
The visitor is not signed in. Do not discuss any account data. Offer general guidance and ask them to sign in for personal information.`

func systemPrompt(authenticated bool, cc ConversationContext, notes []knowledge.Snippet) string {
	var b strings.Builder
	if authenticated {
		b.WriteString(basePrompt)
	} else {
		b.WriteString(anonymousPrompt)
	}
	if rendered := cc.Render(); rendered != "" {
		b.WriteString("\n\n")
		b.WriteString(rendered)
	}
	if len(notes) > 0 {
		b.WriteString("\n\nProduct notes:\n")
		for _, n := range notes {
			b.WriteString("- ")
			b.WriteString(n.Title)
			b.WriteString(": ")
			b.WriteString(n.Content)
			b.WriteString("\n")
		}
	}
	return b.String()
}
