package admin

import (
	"net/http"
	"time"

	"github.com/trialkey-service/internal/handler"
	"github.com/trialkey-service/internal/httputil"
	"github.com/trialkey-service/internal/service"
)

// --- List Keys ---

type ListKeysHandler struct {
	svc *service.KeyService
}

func NewListKeysHandler(svc *service.KeyService) *ListKeysHandler {
	return &ListKeysHandler{svc: svc}
}

type listKeysResponse struct {
	Success   bool          `json:"success"`
	TotalKeys int           `json:"totalKeys"`
	Page      int           `json:"page"`
	PerPage   int           `json:"perPage"`
	Keys      []keyListItem `json:"keys"`
}

type keyListItem struct {
	Key         string  `json:"key"`
	GeneratedAt string  `json:"generatedAt"`
	ExpiresAt   string  `json:"expiresAt"`
	Expired     bool    `json:"expired"`
	Used        bool    `json:"used"`
	UsageCount  int64   `json:"usageCount"`
	LastUsed    *string `json:"lastUsed"`
}

func (h *ListKeysHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	page, perPage, err := httputil.ParsePagination(r.URL.Query().Get("page"), r.URL.Query().Get("per_page"))
	if err != nil {
		handler.RespondError(w, http.StatusBadRequest, service.CodeInvalidRequest, err.Error())
		return
	}

	listing, err := h.svc.ListKeys(r.Context(), page, perPage)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	items := make([]keyListItem, 0, len(listing.Keys))
	for _, k := range listing.Keys {
		items = append(items, toKeyListItem(k))
	}

	handler.RespondJSON(w, http.StatusOK, listKeysResponse{
		Success:   true,
		TotalKeys: listing.Total,
		Page:      listing.Page,
		PerPage:   listing.PerPage,
		Keys:      items,
	})
}

func toKeyListItem(k service.KeyListItem) keyListItem {
	item := keyListItem{
		Key:         k.Key,
		GeneratedAt: k.GeneratedAt.UTC().Format(time.RFC3339),
		ExpiresAt:   k.ExpiresAt.UTC().Format(time.RFC3339),
		Expired:     k.Expired,
		Used:        k.Used,
		UsageCount:  k.UsageCount,
	}
	if k.LastUsed != nil {
		s := k.LastUsed.UTC().Format(time.RFC3339)
		item.LastUsed = &s
	}
	return item
}
