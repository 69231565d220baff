package roast

import "google.golang.org/genai"

// generateContentRequest is the REST body of models.generateContent.
type generateContentRequest struct {
	SystemInstruction *genai.Content         `json:"systemInstruction,omitempty"`
	Contents          []*genai.Content       `json:"contents"`
	GenerationConfig  *generationConfig      `json:"generationConfig,omitempty"`
	SafetySettings    []*genai.SafetySetting `json:"safetySettings,omitempty"`
}

type generationConfig struct {
	Temperature     float32 `json:"temperature"`
	TopP            float32 `json:"topP"`
	TopK            float32 `json:"topK"`
	MaxOutputTokens int32   `json:"maxOutputTokens"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content *struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason genai.FinishReason `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type providerError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}
