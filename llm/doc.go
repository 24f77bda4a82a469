// Package llm provides a provider-neutral abstraction layer for Large Language Model (LLM) APIs.
//
// This package defines common types, interfaces, and utilities that allow the codebase
// to work with multiple LLM providers (Anthropic, OpenAI and OpenAI-compatible APIs,
// Ollama, Gemini) without being tightly coupled to any specific provider's SDK.
//
// # Core Concepts
//
//  1. Messages: The Message type represents a conversation message with role (user, assistant, system)
//     and content blocks (text, images, attached files).
//
//  2. Client Interface: The Client interface provides Synchronous() for one request and
//     ListModels(). A Result carries the reply text, a normalized finish reason and the
//     vendor's usage object under the vendor's own field names.
//
//  3. Capabilities: every provider name maps to a Capabilities row saying which adapter
//     family serves it, how it caches prompts and whether it accepts images. Callers
//     branch on the row, never on the concrete client type.
//
//  4. Middleware: The Middleware interface allows adding cross-cutting concerns like
//     logging or request rewriting without modifying provider implementations.
//
//  5. Errors: every adapter returns failures as *Error classified into exactly one of
//     rate_limited, transient or fatal. Only the retry policy interprets the kind.
//
// Usage Example
//
//	client, err := anthropic.NewAnthropicClient(apiKey, logger)
//	if err != nil {
//	    return err
//	}
//
//	req := &llm.Request{
//	    Model: "claude-sonnet-4-5",
//	    Messages: []llm.Message{
//	        llm.NewTextMessage(llm.RoleUser, "Hello!"),
//	    },
//	}
//
//	res, err := client.Synchronous(ctx, req)
//
// # Extension Points
//
// To add a new LLM provider:
//  1. Add its row to the capability table
//  2. Implement the Client interface, or reuse an existing family
//  3. Translate vendor failures with ClassifyStatus or ClassifyError
package llm
