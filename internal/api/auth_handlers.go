package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/paperquery/paperquery/internal/auth"
	"github.com/paperquery/paperquery/internal/model"
	"github.com/paperquery/paperquery/internal/repository"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		respondError(w, http.StatusUnprocessableEntity, "a valid email is required")
		return
	}
	if len(req.Password) < 8 {
		respondError(w, http.StatusUnprocessableEntity, "password must be at least 8 characters")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		slog.Error("hash password", "err", err)
		respondError(w, http.StatusInternalServerError, "failed to create account")
		return
	}
	user := &model.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.deps.Users.Create(r.Context(), user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			respondError(w, http.StatusConflict, "email already registered")
			return
		}
		slog.Error("create user", "err", err)
		respondError(w, http.StatusInternalServerError, "failed to create account")
		return
	}
	slog.Info("user registered", "user_id", user.ID)
	respondJSON(w, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, err := s.deps.Users.GetByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		respondError(w, http.StatusUnauthorized, "incorrect email or password")
		return
	}
	tokens, err := s.issueTokens(r.Context(), user.ID)
	if err != nil {
		slog.Error("issue tokens", "user_id", user.ID, "err", err)
		respondError(w, http.StatusInternalServerError, "failed to sign in")
		return
	}
	respondJSON(w, http.StatusOK, tokens)
}

// handleRefresh exchanges a refresh token for a fresh pair. The consumed
// token is deleted in the same transaction that stores its replacement, so a
// replayed token finds nothing and gets a 401.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		respondError(w, http.StatusUnauthorized, "invalid or expired refresh token")
		return
	}
	row, err := s.deps.Tokens.GetByHash(r.Context(), s.deps.Hasher.Hash(req.RefreshToken))
	if err != nil || time.Now().After(row.ExpiresAt) {
		respondError(w, http.StatusUnauthorized, "invalid or expired refresh token")
		return
	}

	access, err := s.deps.Issuer.IssueAccess(row.UserID)
	if err != nil {
		slog.Error("issue access token", "user_id", row.UserID, "err", err)
		respondError(w, http.StatusInternalServerError, "failed to refresh session")
		return
	}
	refresh, err := auth.NewRefreshToken()
	if err != nil {
		slog.Error("mint refresh token", "err", err)
		respondError(w, http.StatusInternalServerError, "failed to refresh session")
		return
	}
	if err := s.deps.Tokens.Rotate(r.Context(), row.ID, s.refreshRow(row.UserID, refresh)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Lost a race with another use of the same token.
			respondError(w, http.StatusUnauthorized, "invalid or expired refresh token")
			return
		}
		slog.Error("rotate refresh token", "user_id", row.UserID, "err", err)
		respondError(w, http.StatusInternalServerError, "failed to refresh session")
		return
	}
	respondJSON(w, http.StatusOK, &tokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
	})
}

// handleLogout revokes a refresh token. Revoking an unknown token succeeds,
// so repeated logouts are harmless.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		respondError(w, http.StatusBadRequest, "refresh token required")
		return
	}
	if err := s.deps.Tokens.DeleteByHash(r.Context(), s.deps.Hasher.Hash(req.RefreshToken)); err != nil {
		slog.Error("delete refresh token", "err", err)
		respondError(w, http.StatusInternalServerError, "failed to log out")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.deps.Users.GetByID(r.Context(), userID(r.Context()))
	if err != nil {
		respondError(w, http.StatusUnauthorized, "account no longer exists")
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// issueTokens mints an access/refresh pair and stores the refresh digest.
func (s *Server) issueTokens(ctx context.Context, userID string) (*tokenResponse, error) {
	access, err := s.deps.Issuer.IssueAccess(userID)
	if err != nil {
		return nil, err
	}
	refresh, err := auth.NewRefreshToken()
	if err != nil {
		return nil, err
	}
	if err := s.deps.Tokens.Create(ctx, s.refreshRow(userID, refresh)); err != nil {
		return nil, err
	}
	return &tokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
	}, nil
}

func (s *Server) refreshRow(userID, refresh string) *model.RefreshToken {
	now := time.Now().UTC()
	return &model.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: s.deps.Hasher.Hash(refresh),
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
		CreatedAt: now,
	}
}
