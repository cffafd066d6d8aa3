package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/trialkey-service/internal/middleware"
	"github.com/trialkey-service/internal/model"
	"github.com/trialkey-service/internal/service"
	"github.com/trialkey-service/internal/validation"
)

const maxBodyBytes = 1 << 20

// --- Generate ---

type GenerateKeyHandler struct {
	service *service.KeyService
}

func NewGenerateKeyHandler(svc *service.KeyService) *GenerateKeyHandler {
	return &GenerateKeyHandler{service: svc}
}

// GenerateKeyRequest carries the client's task claim. tasksData holds one
// "<task>Completed" flag per task plus a unix-millisecond "timestamp".
type GenerateKeyRequest struct {
	TasksData       map[string]any `json:"tasksData"`
	UserFingerprint string         `json:"userFingerprint"`
}

type GenerateKeyResponse struct {
	Success   bool   `json:"success"`
	Key       string `json:"key"`
	ExpiresAt string `json:"expiresAt"`
	Message   string `json:"message"`
}

func (h *GenerateKeyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req GenerateKeyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, service.CodeInvalidRequest, "Invalid request body")
		return
	}

	if req.TasksData == nil {
		RespondError(w, http.StatusBadRequest, service.CodeInvalidRequest, "tasksData is required")
		return
	}
	if err := validation.Fingerprint(req.UserFingerprint); err != nil {
		RespondError(w, http.StatusBadRequest, service.CodeInvalidRequest, err.Error())
		return
	}

	id := model.Identity{IP: middleware.ClientIP(r), Fingerprint: req.UserFingerprint}
	result, err := h.service.IssueKey(r.Context(), claimFromTasksData(req.TasksData), id)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, GenerateKeyResponse{
		Success:   true,
		Key:       result.Key,
		ExpiresAt: result.ExpiresAt.UTC().Format(time.RFC3339),
		Message:   "Key generated successfully. It is valid for 24 hours.",
	})
}

// claimFromTasksData reads "<task>Completed" booleans and the numeric
// "timestamp". Values of the wrong type count as not completed.
func claimFromTasksData(data map[string]any) model.TaskClaim {
	tasks := make(map[string]bool, len(data))
	var ms int64
	for k, v := range data {
		if k == "timestamp" {
			if f, ok := v.(float64); ok {
				ms = int64(f)
			}
			continue
		}
		task, ok := strings.CutSuffix(k, "Completed")
		if !ok || task == "" {
			continue
		}
		done, _ := v.(bool)
		tasks[task] = done
	}
	return model.TaskClaimFromMillis(tasks, ms)
}

// --- Validate ---

type ValidateKeyHandler struct {
	service *service.KeyService
}

func NewValidateKeyHandler(svc *service.KeyService) *ValidateKeyHandler {
	return &ValidateKeyHandler{service: svc}
}

type ValidateKeyRequest struct {
	Key             string `json:"key"`
	UserFingerprint string `json:"userFingerprint"`
}

type TimeLeft struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
}

type ValidateKeyResponse struct {
	Success    bool     `json:"success"`
	Message    string   `json:"message"`
	ExpiresAt  string   `json:"expiresAt"`
	UsageCount int64    `json:"usageCount"`
	TimeLeft   TimeLeft `json:"timeLeft"`
}

func (h *ValidateKeyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req ValidateKeyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, service.CodeInvalidRequest, "Invalid request body")
		return
	}

	if err := validation.Key(req.Key); err != nil {
		RespondError(w, http.StatusBadRequest, service.CodeInvalidRequest, err.Error())
		return
	}
	if err := validation.Fingerprint(req.UserFingerprint); err != nil {
		RespondError(w, http.StatusBadRequest, service.CodeInvalidRequest, err.Error())
		return
	}

	id := model.Identity{IP: middleware.ClientIP(r), Fingerprint: req.UserFingerprint}
	result, err := h.service.ValidateKey(r.Context(), req.Key, id)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, ValidateKeyResponse{
		Success:    true,
		Message:    "Key is valid",
		ExpiresAt:  result.ExpiresAt.UTC().Format(time.RFC3339),
		UsageCount: result.UsageCount,
		TimeLeft: TimeLeft{
			Hours:   result.TimeRemaining.Hours,
			Minutes: result.TimeRemaining.Minutes,
		},
	})
}
