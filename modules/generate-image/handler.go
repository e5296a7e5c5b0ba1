package generateimage

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"imagen-relay-server/modules/common/credential"
	"imagen-relay-server/modules/common/metrics"
)

// maxBodyBytes - 요청 본문 최대 크기
const maxBodyBytes = 1 << 20

// GenerationRecorder - 결과별 카운트 기록
type GenerationRecorder interface {
	RecordGeneration(result string, images int)
}

type GenerateImageHandler struct {
	service            *Service
	defaultSampleCount int
	recorder           GenerationRecorder
	logger             *zap.Logger
}

func NewGenerateImageHandler(service *Service, defaultSampleCount int, recorder GenerationRecorder, logger *zap.Logger) *GenerateImageHandler {
	return &GenerateImageHandler{
		service:            service,
		defaultSampleCount: defaultSampleCount,
		recorder:           recorder,
		logger:             logger.With(zap.String("component", "generate-image-handler")),
	}
}

// GenerateImage - POST /generate-image
func (h *GenerateImageHandler) GenerateImage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "Request body too large"})
			return
		}
		// 읽지 못한 본문은 prompt 누락과 동일하게 처리
		body = nil
	}

	req, err := ParseRequest(body, h.defaultSampleCount)
	if err != nil {
		h.record(metrics.ResultValidationError, 0)
		WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: MsgPromptRequired})
		return
	}

	result, err := h.service.GenerateImage(r.Context(), req)
	if err != nil {
		var credErr *credential.CredentialError
		if errors.As(err, &credErr) {
			h.record(metrics.ResultCredentialError, 0)
		} else {
			h.record(metrics.ResultUpstreamError, 0)
		}
		h.logger.Error("❌ Error generating image", zap.Error(err))
		WriteJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   MsgGenerationFailed,
			Details: err.Error(),
		})
		return
	}

	h.record(metrics.ResultSuccess, len(result.Images))
	h.logger.Info("✅ Images generated", zap.Int("count", len(result.Images)), zap.Int("sampleCount", req.SampleCount))
	WriteJSON(w, http.StatusOK, result)
}

func (h *GenerateImageHandler) record(result string, images int) {
	if h.recorder != nil {
		h.recorder.RecordGeneration(result, images)
	}
}

// WriteJSON - JSON 응답 작성
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
