package manager

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/errdefs"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/log"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/types"
)

// EnsureBootstrapUser seeds the admin account with the configured token
// when the user table is empty. A fresh install has no other way to
// authenticate its first request.
func (m *Manager) EnsureBootstrapUser() error {
	users, err := m.store.ListUsers()
	if err != nil {
		return err
	}
	if len(users) > 0 {
		return nil
	}
	if m.cfg.Auth.BootstrapToken == "" {
		return errors.Wrap(errdefs.ErrPrecondition, "no users exist and auth.bootstrap_token is unset")
	}
	admin := &types.User{
		ID:        uuid.New().String(),
		Username:  "admin",
		Role:      types.UserRoleAdmin,
		Token:     m.cfg.Auth.BootstrapToken,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.CreateUser(admin); err != nil {
		return err
	}
	log.WithComponent("auth").Info().Msg("Bootstrap admin user created")
	return nil
}

// Authenticate resolves a bearer token to its user.
func (m *Manager) Authenticate(token string) (*types.User, error) {
	if token == "" {
		return nil, errors.Wrap(errdefs.ErrUnauthenticated, "missing bearer token")
	}
	u, err := m.store.GetUserByToken(token)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, errors.Wrap(errdefs.ErrUnauthenticated, "unknown token")
		}
		return nil, err
	}
	return u, nil
}

// CreateUser registers a user and issues its bearer token. The token is
// returned exactly once; the stored copy never serializes outward.
func (m *Manager) CreateUser(username string, role types.UserRole) (*types.User, string, error) {
	if username == "" {
		return nil, "", errors.Wrap(errdefs.ErrProtocol, "username required")
	}
	switch role {
	case types.UserRoleAdmin, types.UserRoleOperator, types.UserRoleViewer:
	default:
		return nil, "", errors.Wrapf(errdefs.ErrProtocol, "unknown role %q", role)
	}

	token, err := newToken()
	if err != nil {
		return nil, "", err
	}
	user := &types.User{
		ID:        uuid.New().String(),
		Username:  username,
		Role:      role,
		Token:     token,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.CreateUser(user); err != nil {
		return nil, "", err
	}
	log.WithComponent("auth").Info().
		Str("username", username).
		Str("role", string(role)).
		Msg("User created")
	return user, token, nil
}

// ListUsers returns all users. Tokens are not serialized outward.
func (m *Manager) ListUsers() ([]*types.User, error) {
	return m.store.ListUsers()
}

// DeleteUser removes a user. The last remaining admin cannot be deleted.
func (m *Manager) DeleteUser(id string) error {
	user, err := m.store.GetUser(id)
	if err != nil {
		return err
	}
	if user.Role == types.UserRoleAdmin {
		users, err := m.store.ListUsers()
		if err != nil {
			return err
		}
		admins := 0
		for _, u := range users {
			if u.Role == types.UserRoleAdmin {
				admins++
			}
		}
		if admins <= 1 {
			return errors.Wrap(errdefs.ErrPrecondition, "cannot delete the last admin")
		}
	}
	if err := m.store.DeleteUser(id); err != nil {
		return err
	}
	log.WithComponent("auth").Info().Str("username", user.Username).Msg("User deleted")
	return nil
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "generate token")
	}
	return hex.EncodeToString(buf), nil
}
