package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/convospace/convospace-api/internal/http/response"
	"github.com/convospace/convospace-api/internal/observability"
	"github.com/convospace/convospace-api/internal/security"
	"github.com/convospace/convospace-api/internal/service"
)

type AuthHandler struct {
	accounts   service.AccountLifecycle
	guard      service.AbuseGuard
	cookieMgr  *security.CookieManager
	sessionTTL time.Duration
}

func NewAuthHandler(accounts service.AccountLifecycle, guard service.AbuseGuard, cookieMgr *security.CookieManager, sessionTTL time.Duration) *AuthHandler {
	return &AuthHandler{accounts: accounts, guard: guard, cookieMgr: cookieMgr, sessionTTL: sessionTTL}
}

type registerRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type verifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type resetPasswordRequest struct {
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "register", status, time.Since(start))
	}()

	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		status = "failure"
		observability.RecordAuthFlowEvent(r.Context(), "register", "bad_request")
		response.Error(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	accountID, err := h.accounts.Register(service.RegisterInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
	})
	if err != nil {
		status = "failure"
		observability.Audit(r, "auth.register.failed", "reason", err.Error())
		observability.RecordAuthFlowEvent(r.Context(), "register", "failure")
		response.Error(w, r, authErrorStatus(err), err.Error())
		return
	}

	if err := h.accounts.SendOTP(accountID); err != nil {
		status = "failure"
		observability.Audit(r, "auth.register.otp_send_failed", "account_id", accountID)
		observability.RecordAuthFlowEvent(r.Context(), "register", "otp_send_failed")
		response.Error(w, r, authErrorStatus(err), "there was an error sending the verification email, try again later")
		return
	}

	observability.Audit(r, "auth.register.success", "account_id", accountID)
	observability.RecordAuthFlowEvent(r.Context(), "register", "success")
	response.Success(w, r, http.StatusCreated, "verification code sent to email")
}

func (h *AuthHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "send_otp", status, time.Since(start))
	}()

	var req emailRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Email) == "" {
		status = "failure"
		observability.RecordAuthFlowEvent(r.Context(), "send_otp", "bad_request")
		response.Error(w, r, http.StatusBadRequest, "email is required")
		return
	}

	if h.blockOnCooldown(w, r, service.AbuseScopeVerify, req.Email) {
		status = "failure"
		return
	}

	if err := h.accounts.ResendOTP(req.Email); err != nil {
		status = "failure"
		observability.Audit(r, "auth.send_otp.failed", "reason", err.Error())
		observability.RecordAuthFlowEvent(r.Context(), "send_otp", "failure")
		response.Error(w, r, authErrorStatus(err), err.Error())
		return
	}

	observability.Audit(r, "auth.send_otp.success")
	observability.RecordAuthFlowEvent(r.Context(), "send_otp", "success")
	response.Success(w, r, http.StatusOK, "verification code sent to email")
}

func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "verify_otp", status, time.Since(start))
	}()

	var req verifyOTPRequest
	if err := decodeJSON(r, &req); err != nil || req.Email == "" || req.OTP == "" {
		status = "failure"
		observability.RecordAuthFlowEvent(r.Context(), "verify_otp", "bad_request")
		response.Error(w, r, http.StatusBadRequest, "email and otp are required")
		return
	}

	if h.blockOnCooldown(w, r, service.AbuseScopeVerify, req.Email) {
		status = "failure"
		return
	}

	token, err := h.accounts.VerifyOTP(req.Email, req.OTP)
	if err != nil {
		status = "failure"
		h.registerFailure(r, service.AbuseScopeVerify, req.Email)
		observability.Audit(r, "auth.verify_otp.failed", "reason", err.Error())
		observability.RecordAuthFlowEvent(r.Context(), "verify_otp", "failure")
		response.Error(w, r, authErrorStatus(err), err.Error())
		return
	}

	_ = h.guard.Reset(r.Context(), service.AbuseScopeVerify, req.Email, clientIP(r))
	h.cookieMgr.SetSessionCookie(w, token, h.sessionTTL)
	observability.Audit(r, "auth.verify_otp.success")
	observability.RecordAuthFlowEvent(r.Context(), "verify_otp", "success")
	response.SuccessToken(w, r, http.StatusOK, "email verified", token)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "login", status, time.Since(start))
	}()

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		status = "failure"
		observability.RecordAuthFlowEvent(r.Context(), "login", "bad_request")
		response.Error(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	if h.blockOnCooldown(w, r, service.AbuseScopeLogin, req.Email) {
		status = "failure"
		return
	}

	token, account, err := h.accounts.Login(req.Email, req.Password)
	if err != nil {
		status = "failure"
		if errors.Is(err, service.ErrInvalidCredentials) {
			h.registerFailure(r, service.AbuseScopeLogin, req.Email)
		}
		observability.Audit(r, "auth.login.failed", "reason", err.Error())
		observability.RecordAuthFlowEvent(r.Context(), "login", "failure")
		response.Error(w, r, authErrorStatus(err), err.Error())
		return
	}

	_ = h.guard.Reset(r.Context(), service.AbuseScopeLogin, req.Email, clientIP(r))
	h.cookieMgr.SetSessionCookie(w, token, h.sessionTTL)
	observability.Audit(r, "auth.login.success", "account_id", account.ID)
	observability.RecordAuthFlowEvent(r.Context(), "login", "success")
	response.SuccessToken(w, r, http.StatusOK, "logged in", token)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.cookieMgr.ClearSessionCookie(w)
	observability.Audit(r, "auth.logout")
	response.Success(w, r, http.StatusOK, "logged out")
}

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "forgot_password", status, time.Since(start))
	}()

	var req emailRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Email) == "" {
		status = "failure"
		observability.RecordAuthFlowEvent(r.Context(), "forgot", "bad_request")
		response.Error(w, r, http.StatusBadRequest, "email is required")
		return
	}

	if h.blockOnCooldown(w, r, service.AbuseScopeForgot, req.Email) {
		status = "failure"
		return
	}

	if err := h.accounts.ForgotPassword(req.Email); err != nil {
		status = "failure"
		if errors.Is(err, service.ErrAccountNotFound) {
			h.registerFailure(r, service.AbuseScopeForgot, req.Email)
		}
		observability.Audit(r, "auth.forgot_password.failed", "reason", err.Error())
		observability.RecordAuthFlowEvent(r.Context(), "forgot", "failure")
		response.Error(w, r, authErrorStatus(err), err.Error())
		return
	}

	observability.Audit(r, "auth.forgot_password.success")
	observability.RecordAuthFlowEvent(r.Context(), "forgot", "success")
	response.Success(w, r, http.StatusOK, "reset link sent to email")
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "reset_password", status, time.Since(start))
	}()

	plainToken := r.URL.Query().Get("code")

	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		status = "failure"
		observability.RecordAuthFlowEvent(r.Context(), "reset", "bad_request")
		response.Error(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := h.accounts.ResetPassword(plainToken, req.Password, req.PasswordConfirm)
	if err != nil {
		status = "failure"
		observability.Audit(r, "auth.reset_password.failed", "reason", err.Error())
		observability.RecordAuthFlowEvent(r.Context(), "reset", "failure")
		response.Error(w, r, authErrorStatus(err), err.Error())
		return
	}

	h.cookieMgr.SetSessionCookie(w, token, h.sessionTTL)
	observability.Audit(r, "auth.reset_password.success")
	observability.RecordAuthFlowEvent(r.Context(), "reset", "success")
	response.SuccessToken(w, r, http.StatusOK, "password updated", token)
}

// blockOnCooldown answers the request with 429 when the abuse guard holds
// an active cooldown for this identity or IP. Guard backend errors fail
// open; the rate limiters are still in front.
func (h *AuthHandler) blockOnCooldown(w http.ResponseWriter, r *http.Request, scope service.AbuseScope, identity string) bool {
	cooldown, err := h.guard.Check(r.Context(), scope, identity, clientIP(r))
	if err != nil {
		observability.RecordAbuseGuardEvent(r.Context(), string(scope), "check", "error")
		return false
	}
	if cooldown <= 0 {
		return false
	}
	observability.RecordAbuseGuardEvent(r.Context(), string(scope), "check", "blocked")
	observability.RecordAbuseCooldown(r.Context(), string(scope), "check", cooldown)
	w.Header().Set("Retry-After", retryAfterSeconds(cooldown))
	response.Error(w, r, http.StatusTooManyRequests, "too many attempts, try again later")
	return true
}

func (h *AuthHandler) registerFailure(r *http.Request, scope service.AbuseScope, identity string) {
	cooldown, err := h.guard.RegisterFailure(r.Context(), scope, identity, clientIP(r))
	if err != nil {
		observability.RecordAbuseGuardEvent(r.Context(), string(scope), "register_failure", "error")
		return
	}
	observability.RecordAbuseGuardEvent(r.Context(), string(scope), "register_failure", "recorded")
	if cooldown > 0 {
		observability.RecordAbuseCooldown(r.Context(), string(scope), "register_failure", cooldown)
	}
}

func authErrorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrDuplicateEmail),
		errors.Is(err, service.ErrMissingCredentials),
		errors.Is(err, service.ErrPasswordMismatch),
		errors.Is(err, service.ErrInvalidEmail),
		errors.Is(err, service.ErrWeakPassword),
		errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrInvalidOrExpiredOTP),
		errors.Is(err, service.ErrInvalidOrExpiredToken):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUnauthenticated),
		errors.Is(err, service.ErrStalePassword):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrAccountNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func retryAfterSeconds(d time.Duration) string {
	seconds := int(d.Round(time.Second).Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

func clientIP(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	return r.RemoteAddr
}
