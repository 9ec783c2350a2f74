package handler

import (
	"errors"
	"net/http"

	"github.com/convospace/convospace-api/internal/http/middleware"
	"github.com/convospace/convospace-api/internal/http/response"
	"github.com/convospace/convospace-api/internal/observability"
	"github.com/convospace/convospace-api/internal/service"
)

type AccountHandler struct {
	accounts service.AccountLifecycle
	storage  service.StorageService
}

func NewAccountHandler(accounts service.AccountLifecycle, storage service.StorageService) *AccountHandler {
	return &AccountHandler{accounts: accounts, storage: storage}
}

type profileResponse struct {
	ID        uint   `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Verified  bool   `json:"verified"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	account, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "you are not logged in")
		return
	}

	profile := profileResponse{
		ID:        account.ID,
		FirstName: account.FirstName,
		LastName:  account.LastName,
		Email:     account.Email,
		Verified:  account.Verified,
	}
	if h.storage != nil && account.AvatarKey != "" {
		url, err := h.storage.AvatarURL(r.Context(), account.AvatarKey)
		if err == nil {
			profile.AvatarURL = url
		}
	}
	response.SuccessData(w, r, http.StatusOK, "", profile)
}

func (h *AccountHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	account, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "you are not logged in")
		return
	}
	if h.storage == nil {
		response.Error(w, r, http.StatusServiceUnavailable, "avatar storage is not configured")
		return
	}

	file, header, err := r.FormFile("avatar")
	if err != nil {
		observability.RecordAvatarEvent(r.Context(), "upload", "bad_request")
		response.Error(w, r, http.StatusBadRequest, "avatar file is required")
		return
	}
	defer file.Close()

	objectKey, err := h.storage.UploadAvatar(r.Context(), account.ID, file, header.Size, header.Header.Get("Content-Type"))
	if err != nil {
		observability.Audit(r, "account.avatar.upload.failed", "account_id", account.ID, "reason", err.Error())
		observability.RecordAvatarEvent(r.Context(), "upload", "failure")
		response.Error(w, r, avatarErrorStatus(err), err.Error())
		return
	}

	oldKey := account.AvatarKey
	if err := h.accounts.SetAvatarKey(account.ID, objectKey); err != nil {
		_ = h.storage.DeleteAvatar(r.Context(), account.ID, objectKey)
		observability.RecordAvatarEvent(r.Context(), "upload", "failure")
		response.Error(w, r, http.StatusInternalServerError, "failed to save avatar")
		return
	}
	if oldKey != "" {
		// Best effort; an orphaned object is cheaper than a failed upload.
		_ = h.storage.DeleteAvatar(r.Context(), account.ID, oldKey)
	}

	url, _ := h.storage.AvatarURL(r.Context(), objectKey)
	observability.Audit(r, "account.avatar.upload.success", "account_id", account.ID)
	observability.RecordAvatarEvent(r.Context(), "upload", "success")
	response.SuccessData(w, r, http.StatusOK, "avatar updated", map[string]string{"avatarUrl": url})
}

func (h *AccountHandler) DeleteAvatar(w http.ResponseWriter, r *http.Request) {
	account, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "you are not logged in")
		return
	}
	if h.storage == nil {
		response.Error(w, r, http.StatusServiceUnavailable, "avatar storage is not configured")
		return
	}
	if account.AvatarKey == "" {
		response.Success(w, r, http.StatusOK, "no avatar to delete")
		return
	}

	if err := h.storage.DeleteAvatar(r.Context(), account.ID, account.AvatarKey); err != nil {
		observability.Audit(r, "account.avatar.delete.failed", "account_id", account.ID, "reason", err.Error())
		observability.RecordAvatarEvent(r.Context(), "delete", "failure")
		response.Error(w, r, avatarErrorStatus(err), err.Error())
		return
	}
	if err := h.accounts.SetAvatarKey(account.ID, ""); err != nil {
		observability.RecordAvatarEvent(r.Context(), "delete", "failure")
		response.Error(w, r, http.StatusInternalServerError, "failed to clear avatar")
		return
	}

	observability.Audit(r, "account.avatar.delete.success", "account_id", account.ID)
	observability.RecordAvatarEvent(r.Context(), "delete", "success")
	response.Success(w, r, http.StatusOK, "avatar deleted")
}

func avatarErrorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrFileTooBig), errors.Is(err, service.ErrInvalidFileType):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUnauthorizedAccess):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
