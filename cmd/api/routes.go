package main

import (
	"context"
	"net/http"
	"time"

	"libraryapi/internal/auth"
	"libraryapi/internal/book"
	"libraryapi/internal/circulation"
	"libraryapi/internal/httpx"
	"libraryapi/internal/member"
	"libraryapi/internal/report"
)

// newRouter wires every route and the global middleware chain. The returned
// cleanup stops background work owned by the middleware.
func newRouter(a *app) (http.Handler, func()) {
	authHandler := auth.NewHTTPHandler(a.auth, a.logger)
	memberHandler := member.NewHTTPHandler(a.members, a.logger)
	bookHandler := book.NewHTTPHandler(a.books, a.circ, a.logger)
	issueHandler := circulation.NewHTTPHandler(a.circ, a.logger)
	reportHandler := report.NewHTTPHandler(a.reports, a.logger)

	authn := httpx.AuthMiddleware(a.cfg.JWTSecret)
	anyone := func(h http.HandlerFunc) http.Handler { return authn(h) }
	admin := func(h http.HandlerFunc) http.Handler {
		return httpx.Chain(h, authn, httpx.RequireRole(member.RoleAdmin))
	}
	student := func(h http.HandlerFunc) http.Handler {
		return httpx.Chain(h, authn, httpx.RequireRole(member.RoleStudent))
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := a.ready(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	mux.Handle("GET /media/", http.StripPrefix("/media", a.media))

	mux.HandleFunc("POST /v1/auth/register", memberHandler.Register)
	mux.HandleFunc("POST /v1/auth/login", authHandler.Login)

	mux.Handle("GET /v1/me", anyone(memberHandler.Me))
	mux.Handle("PATCH /v1/me", anyone(memberHandler.UpdateMe))
	mux.Handle("POST /v1/me/password", anyone(memberHandler.ChangePassword))
	mux.Handle("POST /v1/me/avatar", anyone(memberHandler.UploadAvatar))

	mux.Handle("GET /v1/me/issues", student(issueHandler.MyIssues))
	mux.Handle("GET /v1/me/history", student(issueHandler.MyHistory))
	mux.Handle("GET /v1/me/fines", student(issueHandler.MyFines))
	mux.Handle("GET /v1/me/summary", student(issueHandler.MySummary))

	mux.Handle("GET /v1/books/popular", anyone(bookHandler.Popular))
	mux.Handle("GET /v1/books/{id}", anyone(bookHandler.Get))
	mux.Handle("POST /v1/books", admin(bookHandler.Create))
	mux.Handle("PUT /v1/books/{id}", admin(bookHandler.Update))
	mux.Handle("PATCH /v1/books/{id}/stock", admin(bookHandler.SetStock))
	mux.Handle("DELETE /v1/books/{id}", admin(bookHandler.Delete))

	mux.Handle("POST /v1/issues", admin(issueHandler.IssueBook))
	mux.Handle("POST /v1/issues/{id}/return", admin(issueHandler.ReturnBook))
	mux.Handle("POST /v1/issues/{id}/pay", admin(issueHandler.PayFine))
	mux.Handle("GET /v1/issues/active", admin(issueHandler.Active))
	mux.Handle("GET /v1/issues/history", admin(issueHandler.History))
	mux.Handle("GET /v1/issues/late", admin(issueHandler.Late))

	mux.Handle("GET /v1/dashboard/summary", admin(reportHandler.Summary))
	mux.Handle("GET /v1/dashboard/growth", admin(reportHandler.Growth))

	limiter := httpx.NewRateLimitMiddleware(a.cfg.RateLimitRPS, a.cfg.RateLimitBurst)
	handler := httpx.Chain(mux,
		httpx.RequestIDMiddleware,
		httpx.AccessLogMiddleware(a.logger),
		httpx.RecoveryMiddleware(a.logger),
		httpx.SecurityHeadersMiddleware(a.cfg.EnableHSTS),
		httpx.CORSMiddleware(a.cfg.CORSOrigins),
		httpx.RequestSizeLimitMiddleware(a.cfg.MaxBodyBytes),
		limiter.Middleware,
	)
	return handler, limiter.Stop
}
