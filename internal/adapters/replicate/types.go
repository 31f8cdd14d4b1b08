package replicate

import "encoding/json"

// Prediction states reported by the predictions API.
const (
	statusStarting   = "starting"
	statusProcessing = "processing"
	statusSucceeded  = "succeeded"
	statusFailed     = "failed"
	statusCanceled   = "canceled"
	statusAborted    = "aborted"
)

type predictionRequest struct {
	Version string          `json:"version,omitempty"`
	Input   predictionInput `json:"input"`
}

type predictionInput struct {
	Prompt string `json:"prompt"`
	// ImageURLs is a string for a single image and a list otherwise.
	ImageURLs   any     `json:"image_urls"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	DoSample    bool    `json:"do_sample"`
}

type prediction struct {
	ID     string          `json:"id"`
	Model  string          `json:"model,omitempty"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
	URLs   predictionURLs  `json:"urls"`
}

type predictionURLs struct {
	Get    string `json:"get"`
	Cancel string `json:"cancel"`
}

func (p prediction) terminal() bool {
	switch p.Status {
	case statusSucceeded, statusFailed, statusCanceled, statusAborted:
		return true
	}
	return false
}
