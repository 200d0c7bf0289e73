package server

import (
	"errors"
	"log/slog"
	"net/http"

	"nvrgate/internal/auth"
	"nvrgate/internal/middleware"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if err := decodeJSON(r, &body); err != nil {
		jsonErr(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	token, claims, err := s.auth.Login(body.Username, body.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			jsonErr(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}
		slog.Error("login failed", "user", body.Username, "error", err)
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}

	slog.Info("login", "user", claims.Username, "role", claims.Role)
	jsonOK(w, loginResponse{Token: token, Username: claims.Username, Role: claims.Role})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		jsonErr(w, auth.ErrMissing.Error(), http.StatusUnauthorized)
		return
	}
	jsonOK(w, map[string]any{
		"user": map[string]string{
			"id":       claims.Subject,
			"username": claims.Username,
			"role":     claims.Role,
		},
	})
}

func (s *Server) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.ClaimsFrom(r.Context()); !ok {
		jsonErr(w, auth.ErrMissing.Error(), http.StatusUnauthorized)
		return
	}
	jsonOK(w, map[string]bool{"authenticated": true})
}
