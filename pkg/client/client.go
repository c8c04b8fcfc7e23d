package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/errdefs"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/types"
)

const defaultTimeout = 10 * time.Second

// Client talks to a GGnet server over its HTTP API. All methods build
// their own request deadline; long-running transfers (uploads, the event
// stream) manage their own.
type Client struct {
	baseURL string
	token   string
	timeout time.Duration
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTimeout overrides the per-request deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithHTTPClient substitutes the underlying transport, mainly for tests
// and callers with custom TLS setups.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New returns a client for the server at baseURL, e.g.
// "http://boot-server:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: defaultTimeout,
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) reqCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

// do runs one JSON request. A nil in sends no body, a nil out discards
// the response body. Error responses are rebuilt into classifiable
// errors via their code, so errdefs.IsNotFound and friends work on the
// caller's side of the wire.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s %s response", method, path)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func decodeError(resp *http.Response) error {
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Code == "" {
		return errors.Errorf("server returned %s", resp.Status)
	}
	return errdefs.FromCode(body.Code, body.Message)
}

// Health reports the server's liveness document.
func (c *Client) Health() (*Health, error) {
	ctx, cancel := c.reqCtx()
	defer cancel()
	var h Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Ready reports the server's readiness document, including per-subsystem
// checks.
func (c *Client) Ready() (*Ready, error) {
	ctx, cancel := c.reqCtx()
	defer cancel()
	var r Ready
	// A 503 still carries the checks; surface them instead of the error
	// envelope so "ggnet doctor" can print what exactly is down.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ready", nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "GET /ready")
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, errors.Wrap(err, "decode readiness response")
	}
	return &r, nil
}

// Health mirrors the server's /health document.
type Health struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// Ready mirrors the server's /ready document.
type Ready struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
	Message   string            `json:"message,omitempty"`
}

// CreateMachine registers a machine. Zero-valued optional fields pick up
// server defaults (UEFI boot, x64 firmware, ACTIVE).
func (c *Client) CreateMachine(machine *types.Machine) (*types.Machine, error) {
	ctx, cancel := c.reqCtx()
	defer cancel()
	var out types.Machine
	if err := c.do(ctx, http.MethodPost, "/v1/machines", machine, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListMachines returns all registered machines.
func (c *Client) ListMachines() ([]*types.Machine, error) {
	ctx, cancel := c.reqCtx()
	defer cancel()
	var out []*types.Machine
	if err := c.do(ctx, http.MethodGet, "/v1/machines", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetMachine returns the machine by id.
func (c *Client) GetMachine(id string) (*types.Machine, error) {
	ctx, cancel := c.reqCtx()
	defer cancel()
	var out types.Machine
	if err := c.do(ctx, http.MethodGet, "/v1/machines/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetMachineByMAC resolves a MAC address in any common notation.
func (c *Client) GetMachineByMAC(mac string) (*types.Machine, error) {
	ctx, cancel := c.reqCtx()
	defer cancel()
	var out []*types.Machine
	if err := c.do(ctx, http.MethodGet, "/v1/machines?mac="+url.QueryEscape(mac), nil, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.Wrapf(errdefs.ErrNotFound, "machine with MAC %s", mac)
	}
	return out[0], nil
}

// UpdateMachine applies the non-zero fields of upd to the machine.
func (c *Client) UpdateMachine(id string, upd *types.Machine) (*types.Machine, error) {
	ctx, cancel := c.reqCtx()
	defer cancel()
	var out types.Machine
	if err := c.do(ctx, http.MethodPut, "/v1/machines/"+url.PathEscape(id), upd, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteMachine removes a machine. Refused while it has a live session.
func (c *Client) DeleteMachine(id string) error {
	ctx, cancel := c.reqCtx()
	defer cancel()
	return c.do(ctx, http.MethodDelete, "/v1/machines/"+url.PathEscape(id), nil, nil)
}

// BootScript fetches the machine's current iPXE script. Returns a
// not-found error while the machine has no active session.
func (c *Client) BootScript(machineID string) (string, error) {
	ctx, cancel := c.reqCtx()
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/machines/"+url.PathEscape(machineID)+"/boot-script", nil)
	if err != nil {
		return "", errors.Wrap(err, "build request")
	}
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "fetch boot script")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", decodeError(resp)
	}
	script, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "read boot script")
	}
	return string(script), nil
}

// StartSession boots machineID from imageID and blocks until the boot
// chain is provisioned or the attempt fails.
func (c *Client) StartSession(machineID, imageID string) (*types.Session, error) {
	// Provisioning talks to daemons with retries; give it room.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	req := struct {
		MachineID string `json:"machine_id"`
		ImageID   string `json:"image_id"`
	}{machineID, imageID}
	var out types.Session
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StopSession tears down the session's boot chain. An empty reason lets
// the server record who stopped it.
func (c *Client) StopSession(id, reason string) (*types.Session, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	req := struct {
		Reason string `json:"reason,omitempty"`
	}{reason}
	var out types.Session
	if err := c.do(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(id)+"/stop", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSession returns the session by id.
func (c *Client) GetSession(id string) (*types.Session, error) {
	ctx, cancel := c.reqCtx()
	defer cancel()
	var out types.Session
	if err := c.do(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSessions returns every session row, live and terminal.
func (c *Client) ListSessions() ([]*types.Session, error) {
	ctx, cancel := c.reqCtx()
	defer cancel()
	var out []*types.Session
	if err := c.do(ctx, http.MethodGet, "/v1/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListTargets returns every iSCSI target row.
func (c *Client) ListTargets() ([]*types.Target, error) {
	ctx, cancel := c.reqCtx()
	defer cancel()
	var out []*types.Target
	if err := c.do(ctx, http.MethodGet, "/v1/targets", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateUser creates a user and returns it together with the API token.
// The token is shown exactly once; the server stores only its hash.
func (c *Client) CreateUser(username string, role types.UserRole) (*types.User, string, error) {
	ctx, cancel := c.reqCtx()
	defer cancel()
	req := struct {
		Username string `json:"username"`
		Role     string `json:"role"`
	}{username, string(role)}
	var out struct {
		User  *types.User `json:"user"`
		Token string      `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/users", req, &out); err != nil {
		return nil, "", err
	}
	return out.User, out.Token, nil
}

// ListUsers returns all users. Token hashes never serialize.
func (c *Client) ListUsers() ([]*types.User, error) {
	ctx, cancel := c.reqCtx()
	defer cancel()
	var out []*types.User
	if err := c.do(ctx, http.MethodGet, "/v1/users", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteUser removes a user and revokes its token.
func (c *Client) DeleteUser(id string) error {
	ctx, cancel := c.reqCtx()
	defer cancel()
	return c.do(ctx, http.MethodDelete, "/v1/users/"+url.PathEscape(id), nil, nil)
}
