// genllm sends one prompt to any supported LLM provider and reports what
// the call cost.
//
// It wraps the client package: provider adapters, retry with backoff,
// cache intent translation, usage and cost normalization, and a persistent
// conversation store.
//
// Usage:
//
//	# Ask the default provider
//	genllm prompt "What is the capital of France?"
//
//	# Pick a provider and model, attach an image, print JSON
//	genllm prompt -p anthropic -m claude-3-5-haiku-latest --image chart.png --json "Describe this chart"
//
//	# Continue a conversation
//	genllm prompt -C 6f1c... "And what about Spain?"
//
//	# Show the price table
//	genllm pricing show -p openai
//
//	# Write a starter config
//	genllm config init
package main

func main() {
	Execute()
}
