package virt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openconduit/openconduit/pkg/config"
	"github.com/openconduit/openconduit/pkg/transports"
)

// Client is a thin HTTPS client for the virtualization control plane
// (Proxmox-compatible API). It authenticates with an API token when one is
// configured, falling back to a password ticket.
type Client struct {
	baseURL   string
	user      string
	tokenName string
	tokenVal  string
	password  string
	http      *http.Client

	// Ticket state, populated lazily for password auth.
	ticket    string
	csrfToken string
}

// Node describes a control-plane cluster node.
type Node struct {
	Node   string `json:"node"`
	Status string `json:"status"`
}

// Container describes a container on a node.
type Container struct {
	VMID   json.Number `json:"vmid"`
	Name   string      `json:"name"`
	Status string      `json:"status"`
}

// NewClient builds a control-plane client from the process defaults.
func NewClient(cfg config.VirtDefaults) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("virtualization host is not configured")
	}

	realm := cfg.Realm
	if realm == "" {
		realm = "pam"
	}

	user, tokenName, err := resolveUser(cfg.User, realm, cfg.TokenName)
	if err != nil {
		return nil, err
	}

	if (tokenName == "" || cfg.TokenValue == "") && cfg.Password == "" {
		return nil, fmt.Errorf("provide either an API token (name and value) or a password")
	}

	transport := &http.Transport{}
	if !cfg.VerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // self-signed control planes are the norm
	}

	port := cfg.Port
	if port == 0 {
		port = 8006
	}

	c := &Client{
		baseURL:   fmt.Sprintf("https://%s:%d/api2/json", cfg.Host, port),
		user:      user,
		tokenName: tokenName,
		tokenVal:  cfg.TokenValue,
		password:  cfg.Password,
		http: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
	}

	if c.usesToken() {
		log.Debug().Str("user", user).Msg("control-plane client using API token auth")
	} else {
		log.Warn().Msg("control-plane client using password auth, consider an API token")
	}

	return c, nil
}

// resolveUser normalizes the configured user, supporting the
// "user@realm!token" syntax. A token name embedded after "!" is used when no
// explicit token name is configured.
func resolveUser(rawUser, realm, rawTokenName string) (user string, tokenName string, err error) {
	user = strings.TrimSpace(rawUser)
	tokenName = strings.TrimSpace(rawTokenName)

	if user == "" {
		user = "root@" + realm
	}

	if i := strings.IndexByte(user, '!'); i >= 0 {
		embedded := strings.TrimSpace(user[i+1:])
		user = strings.TrimSpace(user[:i])
		if user == "" {
			return "", "", fmt.Errorf("invalid control-plane user: user part before '!' is empty")
		}
		if tokenName == "" {
			tokenName = embedded
		}
	}

	if !strings.Contains(user, "@") {
		user = user + "@" + realm
	}

	return user, tokenName, nil
}

func (c *Client) usesToken() bool {
	return c.tokenName != "" && c.tokenVal != ""
}

// Version returns the control-plane version payload.
func (c *Client) Version(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := c.get(ctx, "/version", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Nodes lists the cluster nodes.
func (c *Client) Nodes(ctx context.Context) ([]Node, error) {
	var out []Node
	if err := c.get(ctx, "/nodes", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DefaultNode returns the explicitly requested node, or the first enumerated
// one when node is empty.
func (c *Client) DefaultNode(ctx context.Context, node string) (string, error) {
	if node != "" {
		return node, nil
	}
	nodes, err := c.Nodes(ctx)
	if err != nil {
		return "", err
	}
	if len(nodes) == 0 {
		return "", fmt.Errorf("no control-plane nodes available")
	}
	return nodes[0].Node, nil
}

// Containers lists the containers on a node.
func (c *Client) Containers(ctx context.Context, node string) ([]Container, error) {
	var out []Container
	if err := c.get(ctx, fmt.Sprintf("/nodes/%s/lxc", url.PathEscape(node)), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateContainerRequest describes a container to provision. All fields must
// be resolved by the caller, the client applies no defaults.
type CreateContainerRequest struct {
	VMID         int
	Hostname     string
	Cores        int
	MemoryMB     int
	Storage      string
	RootFSGB     int
	Bridge       string
	IPCIDR       string
	Gateway      string
	SSHPublicKey string
	Password     string
	OSTemplate   string
	Unprivileged bool
	Start        bool
}

// CreateContainer provisions a container on a node and returns the task
// identifier. The root filesystem is carved out of the request's storage,
// and eth0 is attached to the request's bridge.
func (c *Client) CreateContainer(ctx context.Context, node string, req CreateContainerRequest) (string, error) {
	form := url.Values{
		"vmid":         {strconv.Itoa(req.VMID)},
		"hostname":     {req.Hostname},
		"cores":        {strconv.Itoa(req.Cores)},
		"memory":       {strconv.Itoa(req.MemoryMB)},
		"ostemplate":   {req.OSTemplate},
		"storage":      {req.Storage},
		"rootfs":       {fmt.Sprintf("%s:%d", req.Storage, req.RootFSGB)},
		"unprivileged": {boolFlag(req.Unprivileged)},
		"start":        {boolFlag(req.Start)},
	}

	net0 := "name=eth0,bridge=" + req.Bridge
	if req.IPCIDR != "" {
		net0 += ",ip=" + req.IPCIDR
		if req.Gateway != "" {
			net0 += ",gw=" + req.Gateway
		}
	}
	form.Set("net0", net0)

	if req.SSHPublicKey != "" {
		form.Set("ssh-public-keys", req.SSHPublicKey)
	}
	if req.Password != "" {
		form.Set("password", req.Password)
	}

	return c.postTask(ctx, fmt.Sprintf("/nodes/%s/lxc", url.PathEscape(node)), form)
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// StartContainer starts a container and returns the task identifier.
func (c *Client) StartContainer(ctx context.Context, node string, vmid int) (string, error) {
	return c.postTask(ctx, fmt.Sprintf("/nodes/%s/lxc/%d/status/start", url.PathEscape(node), vmid), nil)
}

// StopContainer stops a container. force performs a hard stop instead of a
// clean shutdown.
func (c *Client) StopContainer(ctx context.Context, node string, vmid int, force bool) (string, error) {
	if force {
		return c.postTask(ctx, fmt.Sprintf("/nodes/%s/lxc/%d/status/stop", url.PathEscape(node), vmid), url.Values{"force": {"1"}})
	}
	return c.postTask(ctx, fmt.Sprintf("/nodes/%s/lxc/%d/status/shutdown", url.PathEscape(node), vmid), nil)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) postTask(ctx context.Context, path string, form url.Values) (string, error) {
	var task string
	if err := c.do(ctx, http.MethodPost, path, form, &task); err != nil {
		return "", err
	}
	return task, nil
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	if err := c.authorize(ctx, req); err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &transports.TransportError{
			Op:          "control-plane",
			Err:         err,
			IsTemporary: true,
			IsAuthError: false,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &transports.TransportError{
			Op:          "control-plane",
			Err:         fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode),
			IsTemporary: false,
			IsAuthError: true,
		}
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode control-plane response: %w", err)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("unexpected control-plane payload for %s: %w", path, err)
	}
	return nil
}

// authorize attaches credentials to a request, obtaining a ticket first if
// password auth is in use.
func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	if c.usesToken() {
		req.Header.Set("Authorization", fmt.Sprintf("PVEAPIToken=%s!%s=%s", c.user, c.tokenName, c.tokenVal))
		return nil
	}

	if c.ticket == "" {
		if err := c.obtainTicket(ctx); err != nil {
			return err
		}
	}

	req.AddCookie(&http.Cookie{Name: "PVEAuthCookie", Value: c.ticket})
	if req.Method != http.MethodGet {
		req.Header.Set("CSRFPreventionToken", c.csrfToken)
	}
	return nil
}

func (c *Client) obtainTicket(ctx context.Context) error {
	form := url.Values{
		"username": {c.user},
		"password": {c.password},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/access/ticket", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return &transports.TransportError{
			Op:          "control-plane-auth",
			Err:         err,
			IsTemporary: true,
			IsAuthError: false,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &transports.TransportError{
			Op:          "control-plane-auth",
			Err:         fmt.Errorf("ticket request returned status %d", resp.StatusCode),
			IsTemporary: false,
			IsAuthError: true,
		}
	}

	var envelope struct {
		Data struct {
			Ticket    string `json:"ticket"`
			CSRFToken string `json:"CSRFPreventionToken"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode ticket response: %w", err)
	}

	c.ticket = envelope.Data.Ticket
	c.csrfToken = envelope.Data.CSRFToken
	return nil
}
