package handler

import (
	"net/http"
	"time"
)

type InfoHandler struct {
	resp InfoResponse
}

// NewInfoHandler describes what a client must claim to obtain a key.
func NewInfoHandler(keyPrefix string, requiredTasks []string, validity, recency time.Duration) *InfoHandler {
	return &InfoHandler{resp: InfoResponse{
		Success:            true,
		KeyPrefix:          keyPrefix,
		RequiredTasks:      requiredTasks,
		ValidityHours:      validity.Hours(),
		TaskRecencyMinutes: recency.Minutes(),
	}}
}

type InfoResponse struct {
	Success            bool     `json:"success"`
	KeyPrefix          string   `json:"keyPrefix"`
	RequiredTasks      []string `json:"requiredTasks"`
	ValidityHours      float64  `json:"validityHours"`
	TaskRecencyMinutes float64  `json:"taskRecencyMinutes"`
}

func (h *InfoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, h.resp)
}
