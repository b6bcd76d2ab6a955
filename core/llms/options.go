package llms

// StreamingPromptOptions collects everything a provider needs to run one
// streamed generation.
type StreamingPromptOptions struct {
	Instructions string
	Messages     []Message
	Tools        []Tool
}

type StreamingPromptOption func(*StreamingPromptOptions)

// WithSystemPrompt sets the instructions for the generation. Repeating this
// option overwrites the previous system prompt.
func WithSystemPrompt(prompt string) StreamingPromptOption {
	return func(opts *StreamingPromptOptions) {
		opts.Instructions = prompt
	}
}

// WithMessages appends messages to the prompt in order. Repeating this
// option sequentially adds more messages.
func WithMessages(messages ...Message) StreamingPromptOption {
	return func(opts *StreamingPromptOptions) {
		opts.Messages = append(opts.Messages, messages...)
	}
}

// WithTools adds tools the model may call during the generation.
func WithTools(tools ...Tool) StreamingPromptOption {
	return func(opts *StreamingPromptOptions) {
		opts.Tools = append(opts.Tools, tools...)
	}
}
