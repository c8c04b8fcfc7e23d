package api

import (
	"net/http"
	"strings"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/types"
)

type createUserRequest struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// createUserResponse is the only place a token ever serializes outward.
type createUserResponse struct {
	User  *types.User `json:"user"`
	Token string      `json:"token"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	user, token, err := s.manager.CreateUser(req.Username, types.UserRole(strings.ToUpper(req.Role)))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createUserResponse{User: user, Token: token})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.manager.ListUsers()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.DeleteUser(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
