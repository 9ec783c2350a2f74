package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/convospace/convospace-api/internal/health"
	"github.com/convospace/convospace-api/internal/http/handler"
	"github.com/convospace/convospace-api/internal/http/middleware"
	"github.com/convospace/convospace-api/internal/http/response"
	"github.com/convospace/convospace-api/internal/service"
)

type Dependencies struct {
	AuthHandler        *handler.AuthHandler
	AccountHandler     *handler.AccountHandler
	Accounts           service.AccountLifecycle
	CORSOrigins        []string
	APIRateLimitRPM    int
	AuthRateLimitRPM   int
	ForgotRateLimitRPM int
	GlobalRateLimiter  GlobalRateLimiterFunc
	AuthRateLimiter    AuthRateLimiterFunc
	ForgotRateLimiter  ForgotRateLimiterFunc
	Readiness          *health.ProbeRunner
	EnableOTelHTTP     bool
}

type GlobalRateLimiterFunc func(http.Handler) http.Handler
type AuthRateLimiterFunc func(http.Handler) http.Handler
type ForgotRateLimiterFunc func(http.Handler) http.Handler

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(1 << 20))
	if dep.GlobalRateLimiter != nil {
		r.Use(dep.GlobalRateLimiter)
	} else {
		r.Use(middleware.NewRateLimiter(dep.APIRateLimitRPM, time.Minute).Middleware())
	}

	authLimiter := dep.AuthRateLimiter
	if authLimiter == nil {
		authLimiter = middleware.NewRateLimiter(dep.AuthRateLimitRPM, time.Minute).Middleware()
	}
	forgotLimiter := dep.ForgotRateLimiter
	if forgotLimiter == nil {
		forgotLimiter = middleware.NewRateLimiter(dep.ForgotRateLimitRPM, time.Minute).Middleware()
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, response.Envelope{Status: "success", Message: "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.SuccessData(w, r, http.StatusOK, "ready", []any{})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.SuccessData(w, r, http.StatusOK, "ready", results)
			return
		}
		response.JSON(w, r, http.StatusServiceUnavailable, response.Envelope{
			Status:  "error",
			Message: "dependencies are not ready",
			Data:    results,
		})
	})

	protect := middleware.Authenticate(dep.Accounts)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(authLimiter).Post("/register", dep.AuthHandler.Register)
			r.With(authLimiter).Post("/send-otp", dep.AuthHandler.SendOTP)
			r.With(authLimiter).Post("/verify-otp", dep.AuthHandler.VerifyOTP)
			r.With(authLimiter).Post("/login", dep.AuthHandler.Login)
			r.With(forgotLimiter).Post("/forgot-password", dep.AuthHandler.ForgotPassword)
			r.With(authLimiter).Patch("/reset-password", dep.AuthHandler.ResetPassword)
			r.With(protect).Post("/logout", dep.AuthHandler.Logout)
		})

		r.Group(func(r chi.Router) {
			r.Use(protect)
			r.Get("/me", dep.AccountHandler.Me)
			// Avatar upload needs a higher body limit than the 1MB default.
			r.With(middleware.BodyLimit(6<<20)).Post("/me/avatar", dep.AccountHandler.UploadAvatar)
			r.Delete("/me/avatar", dep.AccountHandler.DeleteAvatar)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
