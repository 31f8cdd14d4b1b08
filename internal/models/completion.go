package models

// CompletionRequest is the validated, defaulted form of an inbound
// completions call. It never carries the caller credential.
type CompletionRequest struct {
	Prompt      string
	ImageURLs   []string
	MaxTokens   int
	Temperature float64
	DoSample    bool
}

// CompletionChoice is a single generated text.
type CompletionChoice struct {
	Index        int    `json:"index"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// CompletionResponse mirrors the OpenAI text_completion envelope. Choices is
// never empty on a successful response.
type CompletionResponse struct {
	ID      string             `json:"id,omitempty"`
	Object  string             `json:"object,omitempty"`
	Created int64              `json:"created,omitempty"`
	Model   string             `json:"model,omitempty"`
	Choices []CompletionChoice `json:"choices"`
}

// ObjectTextCompletion is the object tag used on completion responses.
const ObjectTextCompletion = "text_completion"

// ErrorBody is the JSON body written for every failed invocation.
type ErrorBody struct {
	Error string `json:"error"`
}
