package admin

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/trialkey-service/internal/handler"
	"github.com/trialkey-service/internal/service"
	"github.com/trialkey-service/internal/sweeper"
)

// Sweeper removes expired records on demand.
type Sweeper interface {
	Sweep(ctx context.Context) (sweeper.Result, error)
}

type SweepHandler struct {
	sweeper Sweeper
}

func NewSweepHandler(s Sweeper) *SweepHandler {
	return &SweepHandler{sweeper: s}
}

type sweepResponse struct {
	Success bool `json:"success"`
	Removed int  `json:"removed"`
	Kept    int  `json:"kept"`
}

func (h *SweepHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	result, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("manual sweep failed")
		handler.RespondError(w, http.StatusInternalServerError, service.CodeStoreUnavailable, "Key store unavailable")
		return
	}

	handler.RespondJSON(w, http.StatusOK, sweepResponse{
		Success: true,
		Removed: result.Removed,
		Kept:    result.Kept,
	})
}
