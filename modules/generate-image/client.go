package generateimage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// maxErrorBody - 에러 메시지에 포함할 응답 본문 최대 길이
const maxErrorBody = 512

// Client - Imagen :predict 엔드포인트 호출
type Client struct {
	httpClient *http.Client
	endpoint   string
	timeout    time.Duration
	logger     *zap.Logger
}

func NewClient(httpClient *http.Client, endpoint string, timeout time.Duration, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient: httpClient,
		endpoint:   endpoint,
		timeout:    timeout,
		logger:     logger.With(zap.String("component", "upstream")),
	}
}

// GenerateImages - 단일 POST, 재시도 없음
func (c *Client) GenerateImages(ctx context.Context, prompt string, sampleCount int, token string) (*UpstreamResponse, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := json.Marshal(predictRequest{
		Instances:  []predictInstance{{Prompt: prompt}},
		Parameters: predictParameters{SampleCount: sampleCount},
	})
	if err != nil {
		return nil, &UpstreamError{Message: "failed to encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &UpstreamError{Message: "failed to build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	c.logger.Info("🎨 Calling image generation endpoint", zap.Int("sampleCount", sampleCount))
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// 전체 에러(URL 포함)는 로그에만 남김
		c.logger.Error("❌ Image generation endpoint unreachable", zap.Error(err))
		return nil, &UpstreamError{Message: transportMessage(err), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Message: "failed to read response body", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	var out UpstreamResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &UpstreamError{Message: "malformed upstream response", Err: err}
	}
	if out.Predictions == nil {
		return nil, &UpstreamError{Message: "upstream response has no predictions"}
	}
	for i, p := range out.Predictions {
		if p.BytesBase64Encoded == "" {
			return nil, &UpstreamError{Message: fmt.Sprintf("prediction %d has no image data", i)}
		}
	}

	c.logger.Info("✅ Image generation endpoint responded",
		zap.Int("predictions", len(out.Predictions)),
		zap.Duration("elapsed", time.Since(start)))
	return &out, nil
}

// errorMessage - Google 에러 envelope 우선, 없으면 본문 일부
func errorMessage(data []byte) string {
	var envelope googleErrorEnvelope
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > maxErrorBody {
		cut := maxErrorBody
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut]
	}
	if msg == "" {
		msg = "empty response body"
	}
	return msg
}

// transportMessage - 응답을 받지 못한 경우 호출자에게 보낼 메시지 (endpoint URL 제외)
func transportMessage(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "upstream request timed out"
	case errors.Is(err, context.Canceled):
		return "upstream request canceled"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "upstream request timed out"
	default:
		return "upstream request failed: image generation endpoint unreachable"
	}
}
