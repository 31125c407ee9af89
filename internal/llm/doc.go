// Package llm defines the provider-neutral chat-completion contract used by
// the agent: typed conversation turns, function descriptors for tool calling,
// and a classified upstream error so callers can decide when to degrade to the
// deterministic responder.
package llm
