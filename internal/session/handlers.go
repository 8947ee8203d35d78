package session

import (
	"errors"
	"net/http"

	"github.com/noah-isme/beanpay/internal/common"
	"github.com/noah-isme/beanpay/internal/upstream"
)

// Handler exposes the session snapshot endpoints.
type Handler struct {
	Store *Store
}

// Get handles GET /api/v1/session. When no snapshot has been taken yet it
// fetches one on demand.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "session store unavailable")
		return
	}
	snap, ok := h.Store.Snapshot(r.Context())
	if !ok {
		if err := h.Store.Refresh(r.Context()); err != nil {
			h.renderError(w, err)
			return
		}
		snap, _ = h.Store.Snapshot(r.Context())
	}
	common.JSON(w, http.StatusOK, snap)
}

// Refresh handles POST /api/v1/session/refresh: the explicit re-fetch used
// after entitlement-changing mutations such as a handle or nickname change.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "session store unavailable")
		return
	}
	if err := h.Store.Refresh(r.Context()); err != nil {
		h.renderError(w, err)
		return
	}
	snap, _ := h.Store.Snapshot(r.Context())
	common.JSON(w, http.StatusOK, snap)
}

func (h *Handler) renderError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNoUser) || upstream.IsUnauthorized(err) {
		common.JSONError(w, http.StatusUnauthorized, "세션이 만료되었습니다. 다시 로그인해주세요.")
		return
	}
	common.JSONError(w, http.StatusBadGateway, "일시적인 오류가 발생했습니다. 잠시 후 다시 시도해주세요.")
}
