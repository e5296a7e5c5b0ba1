package generateimage

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"imagen-relay-server/modules/common/credential"
)

// ImageGenerator - 업스트림 클라이언트 인터페이스
type ImageGenerator interface {
	GenerateImages(ctx context.Context, prompt string, sampleCount int, token string) (*UpstreamResponse, error)
}

type Service struct {
	credentials credential.Provider
	generator   ImageGenerator
	logger      *zap.Logger
}

func NewService(credentials credential.Provider, generator ImageGenerator, logger *zap.Logger) *Service {
	return &Service{
		credentials: credentials,
		generator:   generator,
		logger:      logger.With(zap.String("component", "generate-image")),
	}
}

// GenerateImage - 토큰 발급 → 업스트림 호출 → data URI 변환
func (s *Service) GenerateImage(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	token, err := s.credentials.FetchAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := s.generator.GenerateImages(ctx, req.Prompt, req.SampleCount, token.Value)
	if err != nil {
		return nil, err
	}

	return &GenerationResult{Images: ToDataURIs(resp.Predictions)}, nil
}

// ToDataURIs - prediction 순서 유지
func ToDataURIs(predictions []Prediction) []string {
	images := make([]string, 0, len(predictions))
	for _, p := range predictions {
		images = append(images, DataURIPrefix+p.BytesBase64Encoded)
	}
	return images
}

// ParseRequest maps a loosely typed JSON body onto GenerationRequest. Anything
// that does not yield a non-empty string prompt is ErrPromptRequired; a
// missing or unusable sampleCount becomes defaultSampleCount.
func ParseRequest(body []byte, defaultSampleCount int) (GenerationRequest, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil || raw == nil {
		return GenerationRequest{}, ErrPromptRequired
	}

	prompt, ok := raw["prompt"].(string)
	if !ok || prompt == "" {
		return GenerationRequest{}, ErrPromptRequired
	}

	return GenerationRequest{
		Prompt:      prompt,
		SampleCount: positiveInt(raw["sampleCount"], defaultSampleCount),
	}, nil
}

func positiveInt(value interface{}, fallback int) int {
	switch v := value.(type) {
	case json.Number:
		if n, err := strconv.Atoi(v.String()); err == nil && n > 0 {
			return n
		}
		if f, err := v.Float64(); err == nil && f > 0 && f == math.Trunc(f) && f <= math.MaxInt32 {
			return int(f)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
