package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"imagen-relay-server/modules/common/metrics"
	"imagen-relay-server/modules/common/middleware"
	generateimage "imagen-relay-server/modules/generate-image"
)

// RootMessage - GET / 고정 응답
const RootMessage = "AI for image generation is working properly on backend!"

const serviceName = "imagen-relay"

// NewRouter - 라우트 설정. request id, 요청 로그, CORS 는 라우터 바깥에서
// 감싸서 404/405/preflight 응답에도 적용됨
func NewRouter(handler *generateimage.GenerateImageHandler, collector *metrics.Collector, logger *zap.Logger) http.Handler {
	r := mux.NewRouter()

	r.Use(middleware.Recovery(logger))

	r.HandleFunc("/", root).Methods(http.MethodGet)
	r.HandleFunc("/health", healthCheck).Methods(http.MethodGet)
	r.HandleFunc("/generate-image", handler.GenerateImage).Methods(http.MethodPost)
	if collector != nil {
		r.Handle("/metrics", collector.Handler()).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		generateimage.WriteJSON(w, http.StatusNotFound, generateimage.ErrorResponse{Error: "Not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		generateimage.WriteJSON(w, http.StatusMethodNotAllowed, generateimage.ErrorResponse{Error: "Method not allowed"})
	})

	logged := middleware.RequestLogger(logger, collector, r)
	return middleware.RequestID(logged(middleware.EnableCORS(r)))
}

// root - 본문/헤더와 무관하게 항상 200
func root(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(RootMessage))
}

// healthCheck - 헬스 체크 엔드포인트
func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": serviceName,
	})
}
