package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MrEthical07/stampauth"
	"github.com/MrEthical07/stampauth/metrics/export/prometheus"
	"github.com/MrEthical07/stampauth/middleware"
)

const maxBodyBytes = 1 << 16

var errMalformedBody = fmt.Errorf("%w: malformed request body", stampauth.ErrBusinessRuleViolation)

type server struct {
	engine     *stampauth.Engine
	logger     *slog.Logger
	adminRoles []string
}

func newServer(engine *stampauth.Engine, logger *slog.Logger, adminRoles []string) *server {
	return &server{engine: engine, logger: logger, adminRoles: adminRoles}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.Handle("GET /metrics", prometheus.NewExporter(s.engine).Handler())

	mux.HandleFunc("POST /v1/register", s.register)
	mux.HandleFunc("POST /v1/login", s.login)
	mux.HandleFunc("POST /v1/login/mfa", s.loginMFA)
	mux.HandleFunc("POST /v1/refresh", s.refresh)
	mux.HandleFunc("POST /v1/email/verify", s.verifyEmail)
	mux.HandleFunc("POST /v1/email/verification", s.requestVerification)
	mux.HandleFunc("POST /v1/password/forgot", s.forgotPassword)
	mux.HandleFunc("POST /v1/password/reset", s.resetPassword)

	guard := middleware.Guard(s.engine)
	owner := func(h http.HandlerFunc) http.Handler {
		return guard(middleware.RejectImpersonation(h))
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return guard(middleware.RejectImpersonation(middleware.RequireRole(s.adminRoles...)(h)))
	}

	mux.Handle("GET /v1/me", guard(http.HandlerFunc(s.me)))
	mux.Handle("POST /v1/logout", owner(s.logout))
	mux.Handle("POST /v1/password/change", owner(s.changePassword))
	mux.Handle("POST /v1/mfa/setup", owner(s.setupMFA))
	mux.Handle("POST /v1/mfa/verify", owner(s.verifyMFASetup))
	mux.Handle("POST /v1/mfa/disable", owner(s.disableMFA))
	mux.Handle("POST /v1/impersonate", admin(s.impersonate))
	mux.Handle("POST /v1/impersonate/end", guard(http.HandlerFunc(s.endImpersonation)))
	mux.Handle("POST /v1/users/{id}/disable", admin(s.setStatus(false)))
	mux.Handle("POST /v1/users/{id}/enable", admin(s.setStatus(true)))

	return mux
}

func (s *server) register(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TenantID   string `json:"tenant_id"`
		TenantName string `json:"tenant_name"`
		Email      string `json:"email"`
		Password   string `json:"password"`
	}
	if !decode(w, r, &body) {
		return
	}
	res, err := s.engine.Register(requestContext(r), stampauth.RegisterRequest{
		TenantID:   body.TenantID,
		TenantName: body.TenantName,
		Email:      body.Email,
		Password:   body.Password,
	})
	s.respond(w, r, http.StatusCreated, res, err)
}

func (s *server) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TenantID string `json:"tenant_id"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decode(w, r, &body) {
		return
	}
	ctx := requestContext(r)
	user, ok, err := s.engine.ValidateCredentials(ctx, body.TenantID, body.Email, body.Password)
	if err == nil && !ok {
		err = stampauth.ErrInvalidCredentials
	}
	if err != nil {
		s.respond(w, r, 0, nil, err)
		return
	}
	res, err := s.engine.Login(ctx, user)
	s.respond(w, r, http.StatusOK, res, err)
}

func (s *server) loginMFA(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MFAToken string `json:"mfa_token"`
		Code     string `json:"code"`
	}
	if !decode(w, r, &body) {
		return
	}
	res, err := s.engine.VerifyMfaLogin(requestContext(r), body.MFAToken, body.Code)
	s.respond(w, r, http.StatusOK, res, err)
}

func (s *server) refresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !decode(w, r, &body) {
		return
	}
	sess, err := s.engine.RefreshSession(requestContext(r), body.RefreshToken)
	s.respond(w, r, http.StatusOK, sess, err)
}

func (s *server) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if !decode(w, r, &body) {
		return
	}
	s.respond(w, r, http.StatusNoContent, nil, s.engine.VerifyEmail(requestContext(r), body.Token))
}

func (s *server) requestVerification(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TenantID string `json:"tenant_id"`
		Email    string `json:"email"`
	}
	if !decode(w, r, &body) {
		return
	}
	err := s.engine.RequestEmailVerification(requestContext(r), body.TenantID, body.Email)
	s.respond(w, r, http.StatusAccepted, nil, err)
}

func (s *server) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TenantID string `json:"tenant_id"`
		Email    string `json:"email"`
	}
	if !decode(w, r, &body) {
		return
	}
	err := s.engine.RequestPasswordReset(requestContext(r), body.TenantID, body.Email)
	s.respond(w, r, http.StatusAccepted, nil, err)
}

func (s *server) resetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if !decode(w, r, &body) {
		return
	}
	err := s.engine.ResetPassword(requestContext(r), stampauth.ResetPasswordRequest{
		Token:       body.Token,
		NewPassword: body.NewPassword,
	})
	s.respond(w, r, http.StatusNoContent, nil, err)
}

func (s *server) me(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	s.respond(w, r, http.StatusOK, p, nil)
}

func (s *server) logout(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	s.respond(w, r, http.StatusNoContent, nil, s.engine.Logout(requestContext(r), p.TenantID, p.UserID))
}

func (s *server) changePassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if !decode(w, r, &body) {
		return
	}
	p, _ := middleware.PrincipalFromContext(r.Context())
	err := s.engine.ChangePassword(requestContext(r), p.TenantID, p.UserID, body.OldPassword, body.NewPassword)
	s.respond(w, r, http.StatusNoContent, nil, err)
}

func (s *server) setupMFA(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	setup, err := s.engine.SetupMfa(requestContext(r), p.TenantID, p.UserID)
	s.respond(w, r, http.StatusOK, setup, err)
}

func (s *server) verifyMFASetup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if !decode(w, r, &body) {
		return
	}
	p, _ := middleware.PrincipalFromContext(r.Context())
	err := s.engine.VerifyMfaSetup(requestContext(r), p.TenantID, p.UserID, body.Code)
	s.respond(w, r, http.StatusNoContent, nil, err)
}

func (s *server) disableMFA(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
		Code     string `json:"code"`
	}
	if !decode(w, r, &body) {
		return
	}
	p, _ := middleware.PrincipalFromContext(r.Context())
	err := s.engine.DisableMfa(requestContext(r), p.TenantID, p.UserID, stampauth.DisableMfaRequest{
		Password: body.Password,
		Code:     body.Code,
	})
	s.respond(w, r, http.StatusNoContent, nil, err)
}

func (s *server) impersonate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TargetID string `json:"target_id"`
		Reason   string `json:"reason"`
	}
	if !decode(w, r, &body) {
		return
	}
	p, _ := middleware.PrincipalFromContext(r.Context())
	res, err := s.engine.Impersonate(requestContext(r), stampauth.ImpersonateRequest{
		ActorID:  p.UserID,
		TargetID: body.TargetID,
		TenantID: p.TenantID,
		Reason:   body.Reason,
	})
	s.respond(w, r, http.StatusOK, res, err)
}

func (s *server) endImpersonation(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	if !p.Impersonated() {
		s.respond(w, r, 0, nil, fmt.Errorf("%w: not an impersonation session", stampauth.ErrBusinessRuleViolation))
		return
	}
	s.respond(w, r, http.StatusNoContent, nil, s.engine.EndImpersonate(requestContext(r), p.UserID))
}

func (s *server) setStatus(enable bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := middleware.PrincipalFromContext(r.Context())
		id := r.PathValue("id")
		var err error
		if enable {
			err = s.engine.EnableAccount(requestContext(r), p.TenantID, id)
		} else {
			err = s.engine.DisableAccount(requestContext(r), p.TenantID, id)
		}
		s.respond(w, r, http.StatusNoContent, nil, err)
	}
}

func (s *server) respond(w http.ResponseWriter, r *http.Request, status int, v any, err error) {
	if err != nil {
		if stampauth.Kind(err) == stampauth.KindInternal {
			s.logger.LogAttrs(r.Context(), slog.LevelError, "request failed",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
		}
		middleware.WriteError(w, err)
		return
	}
	if v == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		middleware.WriteError(w, errMalformedBody)
		return false
	}
	return true
}

func requestContext(r *http.Request) context.Context {
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i > 0 {
		host = host[:i]
	}
	return stampauth.WithClientIP(r.Context(), strings.Trim(host, "[]"))
}
