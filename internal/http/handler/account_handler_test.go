package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/convospace/convospace-api/internal/domain"
	"github.com/convospace/convospace-api/internal/http/middleware"
	"github.com/convospace/convospace-api/internal/service"
)

type fakeStorage struct {
	uploaded  map[string][]byte
	deleted   []string
	uploadErr error
	deleteErr error
	urlErr    error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{uploaded: map[string][]byte{}}
}

func (s *fakeStorage) UploadAvatar(_ context.Context, accountID uint, file io.Reader, _ int64, _ string) (string, error) {
	if s.uploadErr != nil {
		return "", s.uploadErr
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("avatars/account-%d/object", accountID)
	s.uploaded[key] = data
	return key, nil
}

func (s *fakeStorage) DeleteAvatar(_ context.Context, _ uint, objectKey string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, objectKey)
	return nil
}

func (s *fakeStorage) AvatarURL(_ context.Context, objectKey string) (string, error) {
	if s.urlErr != nil {
		return "", s.urlErr
	}
	return "https://cdn.example.com/" + objectKey, nil
}

// protect routes the request through the session middleware so the handler
// sees the account in its context, same as in the real router.
func protect(t *testing.T, account *domain.Account, h http.HandlerFunc) http.Handler {
	t.Helper()
	accounts := &stubAccounts{authFn: func(string) (*domain.Account, error) { return account, nil }}
	return middleware.Authenticate(accounts)(h)
}

func authedRequest(method, target string, body io.Reader) *http.Request {
	r := httptest.NewRequest(method, target, body)
	r.Header.Set("Authorization", "Bearer good-token")
	return r
}

func multipartAvatar(t *testing.T, payload []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("avatar", "me.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(payload); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestMe(t *testing.T) {
	t.Run("profile without avatar", func(t *testing.T) {
		account := &domain.Account{ID: 1, FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Verified: true}
		h := NewAccountHandler(&stubAccounts{}, newFakeStorage())
		rec := httptest.NewRecorder()
		protect(t, account, h.Me).ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/me", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d", rec.Code)
		}
		var env struct {
			Status string          `json:"status"`
			Data   profileResponse `json:"data"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if env.Data.Email != "ada@example.com" || !env.Data.Verified {
			t.Fatalf("unexpected profile: %+v", env.Data)
		}
		if env.Data.AvatarURL != "" {
			t.Fatal("no avatar key means no avatar url")
		}
	})

	t.Run("profile with avatar url", func(t *testing.T) {
		account := &domain.Account{ID: 1, Email: "ada@example.com", AvatarKey: "avatars/account-1/object"}
		h := NewAccountHandler(&stubAccounts{}, newFakeStorage())
		rec := httptest.NewRecorder()
		protect(t, account, h.Me).ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/me", nil))
		var env struct {
			Data profileResponse `json:"data"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if env.Data.AvatarURL != "https://cdn.example.com/avatars/account-1/object" {
			t.Fatalf("unexpected avatar url %q", env.Data.AvatarURL)
		}
	})

	t.Run("presign failure degrades to no url", func(t *testing.T) {
		account := &domain.Account{ID: 1, AvatarKey: "avatars/account-1/object"}
		storage := newFakeStorage()
		storage.urlErr = fmt.Errorf("minio down")
		h := NewAccountHandler(&stubAccounts{}, storage)
		rec := httptest.NewRecorder()
		protect(t, account, h.Me).ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/me", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("profile must still serve, got %d", rec.Code)
		}
	})
}

func TestUploadAvatar(t *testing.T) {
	t.Run("success persists key and deletes old object", func(t *testing.T) {
		account := &domain.Account{ID: 1, AvatarKey: "avatars/account-1/old"}
		storage := newFakeStorage()
		var savedKey string
		accounts := &stubAccounts{setAvatarFn: func(accountID uint, key string) error {
			savedKey = key
			return nil
		}}
		h := NewAccountHandler(accounts, storage)

		body, contentType := multipartAvatar(t, []byte("png-bytes"))
		r := authedRequest(http.MethodPost, "/api/v1/me/avatar", body)
		r.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		protect(t, account, h.UploadAvatar).ServeHTTP(rec, r)

		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if savedKey == "" {
			t.Fatal("avatar key not persisted")
		}
		if len(storage.deleted) != 1 || storage.deleted[0] != "avatars/account-1/old" {
			t.Fatalf("old object not cleaned up: %v", storage.deleted)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		account := &domain.Account{ID: 1}
		h := NewAccountHandler(&stubAccounts{}, newFakeStorage())
		rec := httptest.NewRecorder()
		protect(t, account, h.UploadAvatar).ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/me/avatar", nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("want 400, got %d", rec.Code)
		}
	})

	t.Run("storage rejects file type", func(t *testing.T) {
		account := &domain.Account{ID: 1}
		storage := newFakeStorage()
		storage.uploadErr = service.ErrInvalidFileType
		h := NewAccountHandler(&stubAccounts{}, storage)
		body, contentType := multipartAvatar(t, []byte("not-an-image"))
		r := authedRequest(http.MethodPost, "/api/v1/me/avatar", body)
		r.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		protect(t, account, h.UploadAvatar).ServeHTTP(rec, r)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("want 400, got %d", rec.Code)
		}
	})

	t.Run("persist failure deletes the fresh upload", func(t *testing.T) {
		account := &domain.Account{ID: 1}
		storage := newFakeStorage()
		accounts := &stubAccounts{setAvatarFn: func(uint, string) error {
			return fmt.Errorf("db down")
		}}
		h := NewAccountHandler(accounts, storage)
		body, contentType := multipartAvatar(t, []byte("png-bytes"))
		r := authedRequest(http.MethodPost, "/api/v1/me/avatar", body)
		r.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		protect(t, account, h.UploadAvatar).ServeHTTP(rec, r)
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("want 500, got %d", rec.Code)
		}
		if len(storage.deleted) != 1 {
			t.Fatalf("orphaned upload must be deleted, got %v", storage.deleted)
		}
	})

	t.Run("storage not configured", func(t *testing.T) {
		account := &domain.Account{ID: 1}
		h := NewAccountHandler(&stubAccounts{}, nil)
		rec := httptest.NewRecorder()
		protect(t, account, h.UploadAvatar).ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/me/avatar", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("want 503, got %d", rec.Code)
		}
	})
}

func TestDeleteAvatar(t *testing.T) {
	t.Run("deletes object and clears key", func(t *testing.T) {
		account := &domain.Account{ID: 1, AvatarKey: "avatars/account-1/object"}
		storage := newFakeStorage()
		var clearedTo string
		cleared := false
		accounts := &stubAccounts{setAvatarFn: func(_ uint, key string) error {
			cleared = true
			clearedTo = key
			return nil
		}}
		h := NewAccountHandler(accounts, storage)
		rec := httptest.NewRecorder()
		protect(t, account, h.DeleteAvatar).ServeHTTP(rec, authedRequest(http.MethodDelete, "/api/v1/me/avatar", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d", rec.Code)
		}
		if len(storage.deleted) != 1 {
			t.Fatalf("object not deleted: %v", storage.deleted)
		}
		if !cleared || clearedTo != "" {
			t.Fatalf("avatar key not cleared: %q", clearedTo)
		}
	})

	t.Run("no avatar is a no-op", func(t *testing.T) {
		account := &domain.Account{ID: 1}
		storage := newFakeStorage()
		h := NewAccountHandler(&stubAccounts{}, storage)
		rec := httptest.NewRecorder()
		protect(t, account, h.DeleteAvatar).ServeHTTP(rec, authedRequest(http.MethodDelete, "/api/v1/me/avatar", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d", rec.Code)
		}
		if len(storage.deleted) != 0 {
			t.Fatal("nothing should be deleted")
		}
	})

	t.Run("storage failure surfaces", func(t *testing.T) {
		account := &domain.Account{ID: 1, AvatarKey: "avatars/account-1/object"}
		storage := newFakeStorage()
		storage.deleteErr = service.ErrDeleteFailed
		h := NewAccountHandler(&stubAccounts{}, storage)
		rec := httptest.NewRecorder()
		protect(t, account, h.DeleteAvatar).ServeHTTP(rec, authedRequest(http.MethodDelete, "/api/v1/me/avatar", nil))
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("want 500, got %d", rec.Code)
		}
	})
}
