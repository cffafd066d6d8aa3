package handler

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trialkey-service/internal/service"
)

type HealthHandler struct {
	keys      *service.KeyService
	startTime time.Time
}

func NewHealthHandler(keys *service.KeyService) *HealthHandler {
	return &HealthHandler{
		keys:      keys,
		startTime: time.Now(),
	}
}

type HealthResponse struct {
	Success       bool   `json:"success"`
	Status        string `json:"status"`
	Timestamp     string `json:"timestamp"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
	TotalKeys     int    `json:"totalKeys"`
	ActiveKeys    int    `json:"activeKeys"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	stats, err := h.keys.Stats(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to read key stats")
		stats = service.Stats{}
	}

	RespondJSON(w, http.StatusOK, HealthResponse{
		Success:       true,
		Status:        "OK",
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		TotalKeys:     stats.Total,
		ActiveKeys:    stats.Active,
	})
}
