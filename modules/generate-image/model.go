package generateimage

import (
	"errors"
	"fmt"
)

const (
	DataURIPrefix = "data:image/png;base64,"

	MsgPromptRequired   = "Prompt is required"
	MsgGenerationFailed = "Failed to generate image"
)

// ErrPromptRequired - prompt 누락 (400)
var ErrPromptRequired = errors.New(MsgPromptRequired)

// GenerationRequest - 검증을 통과한 요청
type GenerationRequest struct {
	Prompt      string
	SampleCount int
}

// GenerationResult - prediction 순서를 유지한 data URI 목록
type GenerationResult struct {
	Images []string `json:"images"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// upstream wire format
type predictRequest struct {
	Instances  []predictInstance `json:"instances"`
	Parameters predictParameters `json:"parameters"`
}

type predictInstance struct {
	Prompt string `json:"prompt"`
}

type predictParameters struct {
	SampleCount int `json:"sampleCount"`
}

// UpstreamResponse - :predict 응답
type UpstreamResponse struct {
	Predictions []Prediction `json:"predictions"`
}

type Prediction struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType,omitempty"`
}

// googleErrorEnvelope - Google API 에러 응답 형식
type googleErrorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// UpstreamError covers transport failures (StatusCode 0), non-2xx answers and
// malformed payloads from the image service.
type UpstreamError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("request failed with status code %d: %s", e.StatusCode, msg)
	}
	return msg
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
