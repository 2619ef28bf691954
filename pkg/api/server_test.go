package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openconduit/openconduit/pkg/config"
	"github.com/openconduit/openconduit/pkg/dispatch"
	"github.com/openconduit/openconduit/pkg/target"
	"github.com/openconduit/openconduit/pkg/telemetry"
	"github.com/openconduit/openconduit/pkg/transports"
)

// fakeTransport runs commands against a scripted exit-code table.
type fakeTransport struct {
	backend   target.Backend
	exitCodes map[string]int
	stdout    map[string]string
	openErr   error
}

func (f *fakeTransport) Backend() target.Backend { return f.backend }

func (f *fakeTransport) Open(ctx context.Context, t target.Target) (transports.Session, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return &fakeSession{transport: f}, nil
}

type fakeSession struct {
	transport *fakeTransport
}

func (s *fakeSession) Run(ctx context.Context, command string, elevated bool) (*transports.ExecResult, error) {
	return &transports.ExecResult{
		Stdout:   s.transport.stdout[command],
		ExitCode: s.transport.exitCodes[command],
	}, nil
}

func (s *fakeSession) Close() error { return nil }

func newTestServer(t *testing.T, ft *fakeTransport) *Server {
	t.Helper()

	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = "error"
	tel, err := telemetry.New(cfg)
	if err != nil {
		t.Fatalf("telemetry.New() error = %v", err)
	}

	defaults := config.Builtin()
	defaults.SSH.Host = "node1.example.com"
	defaults.SSH.Password = "secret"

	dispatcher := dispatch.New(defaults, tel, dispatch.WithTransportFactory(
		func(backend target.Backend, vmid int) (transports.Transport, error) {
			return ft, nil
		},
	))

	return New(DefaultConfig(), defaults, dispatcher, tel)
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &fakeTransport{backend: target.BackendSSH})

	rec := doJSON(t, s, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v", body["status"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeTransport{backend: target.BackendSSH})

	rec := doJSON(t, s, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestSSHRun(t *testing.T) {
	ft := &fakeTransport{
		backend: target.BackendSSH,
		stdout:  map[string]string{"uptime": "up 3 days"},
	}
	s := newTestServer(t, ft)

	rec := doJSON(t, s, http.MethodPost, "/v1/ssh/run", `{"commands":["uptime"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var result dispatch.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(result.Results) != 1 || result.Results[0].Result.Stdout != "up 3 days" {
		t.Errorf("result = %+v", result)
	}
}

func TestSSHRunCommandFailure(t *testing.T) {
	ft := &fakeTransport{
		backend:   target.BackendSSH,
		exitCodes: map[string]int{"false": 1},
	}
	s := newTestServer(t, ft)

	rec := doJSON(t, s, http.MethodPost, "/v1/ssh/run", `{"commands":["false","uptime"]}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409, body = %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Error  APIError        `json:"error"`
		Result dispatch.Result `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.Error.Kind != KindCommandFailed {
		t.Errorf("error kind = %q, want %q", body.Error.Kind, KindCommandFailed)
	}
	if len(body.Result.Results) != 1 {
		t.Errorf("got %d partial results, want 1", len(body.Result.Results))
	}
}

func TestSSHRunValidation(t *testing.T) {
	s := newTestServer(t, &fakeTransport{backend: target.BackendSSH})

	tests := []struct {
		name string
		body string
	}{
		{"empty body", `{}`},
		{"empty commands", `{"commands":[]}`},
		{"blank command", `{"commands":[""]}`},
		{"malformed json", `{"commands":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, s, http.MethodPost, "/v1/ssh/run", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestExecRequiresVMID(t *testing.T) {
	s := newTestServer(t, &fakeTransport{backend: target.BackendVirt})

	rec := doJSON(t, s, http.MethodPost, "/v1/exec", `{"commands":["uptime"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, s, http.MethodPost, "/v1/exec", `{"vmid":101,"commands":["uptime"]}`)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200, body = %s", rec.Code, rec.Body.String())
	}
}

func TestAuthFailureMapsTo401(t *testing.T) {
	ft := &fakeTransport{
		backend: target.BackendSSH,
		openErr: &transports.TransportError{
			Op:          "connect",
			Err:         context.DeadlineExceeded,
			IsAuthError: true,
		},
	}
	s := newTestServer(t, ft)

	rec := doJSON(t, s, http.MethodPost, "/v1/ssh/run", `{"commands":["uptime"]}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}

	var apiErr APIError
	if err := json.Unmarshal(rec.Body.Bytes(), &apiErr); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if apiErr.Kind != KindAuthFailure {
		t.Errorf("kind = %q, want %q", apiErr.Kind, KindAuthFailure)
	}
}

func TestUnavailableMapsTo502(t *testing.T) {
	ft := &fakeTransport{
		backend: target.BackendSSH,
		openErr: &transports.TransportError{
			Op:          "connect",
			Err:         context.DeadlineExceeded,
			IsTemporary: true,
		},
	}
	s := newTestServer(t, ft)

	rec := doJSON(t, s, http.MethodPost, "/v1/ssh/run", `{"commands":["uptime"]}`)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestDeploy(t *testing.T) {
	ft := &fakeTransport{backend: target.BackendSSH}
	s := newTestServer(t, ft)

	body := `{
		"name": "rollout",
		"backend": "ssh",
		"vars": {"version": "1.0"},
		"setup": [{"command": "apt-get update"}],
		"commands": [{"command": "echo {{version}}"}]
	}`
	rec := doJSON(t, s, http.MethodPost, "/v1/deploy", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var result struct {
		Status string `json:"status"`
		Steps  []struct {
			Command string `json:"command"`
		} `json:"steps"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if result.Status != "completed" {
		t.Errorf("status = %q", result.Status)
	}
	if len(result.Steps) != 2 || result.Steps[1].Command != "echo 1.0" {
		t.Errorf("steps = %+v", result.Steps)
	}
}

func TestDeployAborted(t *testing.T) {
	ft := &fakeTransport{
		backend:   target.BackendSSH,
		exitCodes: map[string]int{"apt-get update": 100},
	}
	s := newTestServer(t, ft)

	body := `{
		"name": "rollout",
		"backend": "ssh",
		"setup": [{"command": "apt-get update"}],
		"commands": [{"command": "echo done"}]
	}`
	rec := doJSON(t, s, http.MethodPost, "/v1/deploy", body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409, body = %s", rec.Code, rec.Body.String())
	}

	var respBody struct {
		Error APIError `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &respBody); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if respBody.Error.Kind != KindPipelineAborted {
		t.Errorf("kind = %q, want %q", respBody.Error.Kind, KindPipelineAborted)
	}
}

func TestDeployRepoDefaults(t *testing.T) {
	ft := &fakeTransport{backend: target.BackendSSH}
	s := newTestServer(t, ft)

	body := `{
		"name": "clone-and-run",
		"backend": "ssh",
		"repo_url": "https://github.com/acme/app.git"
	}`
	rec := doJSON(t, s, http.MethodPost, "/v1/deploy", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var result struct {
		Status string `json:"status"`
		Steps  []struct {
			Command string `json:"command"`
		} `json:"steps"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if result.Status != "completed" {
		t.Errorf("status = %q", result.Status)
	}
	if len(result.Steps) != 6 {
		t.Fatalf("got %d steps, want 6", len(result.Steps))
	}
	clone := result.Steps[2].Command
	if !strings.Contains(clone, "git clone https://github.com/acme/app.git /opt/app") {
		t.Errorf("clone step = %q, repo and workdir vars not rendered", clone)
	}
}

func TestDeployRepoCustomWorkdir(t *testing.T) {
	ft := &fakeTransport{backend: target.BackendSSH}
	s := newTestServer(t, ft)

	body := `{
		"name": "custom",
		"backend": "ssh",
		"repo_url": "https://github.com/acme/app.git",
		"workdir": "/srv/app",
		"setup": [{"command": "true"}],
		"commands": [{"command": "ls {{workdir}}"}]
	}`
	rec := doJSON(t, s, http.MethodPost, "/v1/deploy", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var result struct {
		Steps []struct {
			Command string `json:"command"`
		} `json:"steps"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(result.Steps) != 2 || result.Steps[1].Command != "ls /srv/app" {
		t.Errorf("steps = %+v", result.Steps)
	}
}

func TestDeployWithoutCommandsOrRepo(t *testing.T) {
	s := newTestServer(t, &fakeTransport{backend: target.BackendSSH})

	body := `{"name":"empty","backend":"ssh"}`
	rec := doJSON(t, s, http.MethodPost, "/v1/deploy", body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
	}
}

func TestDeployUnknownBackend(t *testing.T) {
	s := newTestServer(t, &fakeTransport{backend: target.BackendSSH})

	body := `{"name":"x","backend":"fax","commands":[{"command":"echo"}]}`
	rec := doJSON(t, s, http.MethodPost, "/v1/deploy", body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestContainerCreateValidation(t *testing.T) {
	s := newTestServer(t, &fakeTransport{backend: target.BackendVirt})

	valid := func(overrides string) string {
		return `{"vmid":150,"hostname":"web-150","storage":"local-lvm",` +
			`"ostemplate":"local:vztmpl/debian-12-standard_12.2-1_amd64.tar.zst"` + overrides + `}`
	}

	tests := []struct {
		name string
		body string
	}{
		{"missing vmid", `{"hostname":"ct1","storage":"local-lvm","ostemplate":"t"}`},
		{"hostname with illegal characters", valid(`,"hostname":"bad_host!"`)},
		{"hostname too long", valid(`,"hostname":"` + strings.Repeat("a", 256) + `"`)},
		{"undersized memory", valid(`,"memory":64`)},
		{"undersized rootfs", valid(`,"rootfs_gb":2`)},
		{"negative cores", valid(`,"cores":-1`)},
		{"missing ostemplate", `{"vmid":150,"hostname":"ct1","storage":"local-lvm"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, s, http.MethodPost, "/v1/containers", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestContainerCreatePasswordLength(t *testing.T) {
	s := newTestServer(t, &fakeTransport{backend: target.BackendVirt})

	body := `{"vmid":150,"hostname":"ct150","storage":"local-lvm",` +
		`"ostemplate":"local:vztmpl/debian-12.tar.zst","password":"1234"}`
	rec := doJSON(t, s, http.MethodPost, "/v1/containers", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "at least 5 characters") {
		t.Errorf("body = %s, want a password length message", rec.Body.String())
	}
}

func TestContainerCreatePasswordLengthConfigurable(t *testing.T) {
	s := newTestServer(t, &fakeTransport{backend: target.BackendVirt})
	s.defaults.Virt.PasswordMinLength = 4

	body := `{"vmid":150,"hostname":"ct150","storage":"local-lvm",` +
		`"ostemplate":"local:vztmpl/debian-12.tar.zst","password":"1023"}`
	rec := doJSON(t, s, http.MethodPost, "/v1/containers", body)

	// The password clears validation; the request then fails only because the
	// test server has no control plane configured.
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Errorf("body = %s, password should pass the lowered minimum", rec.Body.String())
	}
}

func TestGPUSelect(t *testing.T) {
	ft := &fakeTransport{
		backend: target.BackendSSH,
		stdout: map[string]string{
			"nvidia-smi --query-gpu=index,name,uuid --format=csv,noheader": "0, NVIDIA RTX 3060, GPU-a\n1, NVIDIA RTX 4090, GPU-b",
		},
	}
	s := newTestServer(t, ft)

	rec := doJSON(t, s, http.MethodPost, "/v1/gpus/select", `{"backend":"ssh","preference":"rtx 4090"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Selected struct {
			Index int    `json:"index"`
			Name  string `json:"name"`
		} `json:"selected"`
		Export string `json:"export"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.Selected.Index != 1 {
		t.Errorf("selected index = %d, want 1", body.Selected.Index)
	}
	if body.Export != "CUDA_VISIBLE_DEVICES=1" {
		t.Errorf("export = %q", body.Export)
	}
}

func TestConvergeEndpoint(t *testing.T) {
	ft := &fakeTransport{
		backend: target.BackendSSH,
		stdout: map[string]string{
			"ollama list": "NAME ID SIZE\nllama3:latest abc 4.7GB",
		},
	}
	s := newTestServer(t, ft)

	rec := doJSON(t, s, http.MethodPost, "/v1/converge", `{"backend":"ssh","models":"llama3, phi3"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var report struct {
		Status  string `json:"status"`
		Applied int    `json:"applied"`
		Skipped int    `json:"skipped"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if report.Status != "converged" || report.Applied != 1 || report.Skipped != 1 {
		t.Errorf("report = %+v", report)
	}
}
