package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/openconduit/openconduit/pkg/converge"
	"github.com/openconduit/openconduit/pkg/dispatch"
	"github.com/openconduit/openconduit/pkg/gpu"
	"github.com/openconduit/openconduit/pkg/pipeline"
	"github.com/openconduit/openconduit/pkg/target"
)

// execContainer runs commands inside a container.
func (s *Server) execContainer(c echo.Context) error {
	var req ExecRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}

	result, err := s.dispatcher.Dispatch(c.Request().Context(), dispatch.Request{
		Backend:  target.BackendVirt,
		Target:   req.Target,
		VMID:     req.VMID,
		Commands: req.Commands,
		Elevated: req.Elevated,
	})
	return s.respondDispatch(c, result, err)
}

// sshRun runs commands on an arbitrary host.
func (s *Server) sshRun(c echo.Context) error {
	var req SSHRunRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}

	result, err := s.dispatcher.Dispatch(c.Request().Context(), dispatch.Request{
		Backend:  target.BackendSSH,
		Target:   req.Target,
		Commands: req.Commands,
		Elevated: req.Elevated,
	})
	return s.respondDispatch(c, result, err)
}

// bridgeRun runs commands on a device.
func (s *Server) bridgeRun(c echo.Context) error {
	var req BridgeRunRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}

	result, err := s.dispatcher.Dispatch(c.Request().Context(), dispatch.Request{
		Backend:  target.BackendBridge,
		Target:   req.Target,
		Commands: req.Commands,
		Elevated: req.Elevated,
	})
	return s.respondDispatch(c, result, err)
}

// respondDispatch renders a dispatch outcome. A command failure still carries
// the partial results, so the body includes them next to the error.
func (s *Server) respondDispatch(c echo.Context, result *dispatch.Result, err error) error {
	if err != nil {
		if dispatch.IsCommandFailure(err) && result != nil {
			apiErr := fromDomainError(err)
			return c.JSON(apiErr.Code, map[string]interface{}{
				"error":  apiErr,
				"result": result,
			})
		}
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// Clone-and-run phases used when a deploy names a repository but supplies no
// phases of its own. The steps probe for requirements.txt, docker-compose.yml
// and a Makefile so the same pipeline serves most small services.
const defaultDeployWorkdir = "/opt/app"

var (
	defaultDeploySetup = []string{
		"apt-get update",
		"apt-get install -y git curl python3 python3-venv",
	}

	defaultDeployCommands = []string{
		"git clone {{repo_url}} {{workdir}} || (rm -rf {{workdir}} && git clone {{repo_url}} {{workdir}})",
		"cd {{workdir}} && if [ -f requirements.txt ]; then python3 -m venv .venv && . .venv/bin/activate && pip install -U pip -r requirements.txt; fi",
		"cd {{workdir}} && if [ -f docker-compose.yml ]; then curl -fsSL https://get.docker.com | sh && systemctl start docker && docker compose up -d; fi",
		"cd {{workdir}} && if [ -f Makefile ]; then make run || true; fi",
	}
)

// deploy runs an inline pipeline.
func (s *Server) deploy(c echo.Context) error {
	var req DeployRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}

	vars := req.Vars
	setup := deploySteps(req.Setup)
	commands := deploySteps(req.Commands)

	if req.RepoURL != "" {
		workdir := req.Workdir
		if workdir == "" {
			workdir = defaultDeployWorkdir
		}
		if vars == nil {
			vars = make(map[string]string, 2)
		}
		vars["repo_url"] = req.RepoURL
		vars["workdir"] = workdir
		if len(setup) == 0 {
			setup = plainSteps(defaultDeploySetup)
		}
		if len(commands) == 0 {
			commands = plainSteps(defaultDeployCommands)
		}
	}
	if len(commands) == 0 {
		return BadRequestError("nothing to deploy", "supply commands or a repo_url")
	}

	p := pipeline.Pipeline{
		Name:     req.Name,
		Backend:  target.ParseBackend(req.Backend),
		Target:   req.Target,
		VMID:     req.VMID,
		Vars:     vars,
		Setup:    setup,
		Commands: commands,
	}
	if !p.Backend.Valid() {
		return BadRequestError("unknown backend", req.Backend)
	}

	result, err := s.pipelines.Run(c.Request().Context(), p)
	if err != nil {
		apiErr := fromDomainError(err)
		if apiErr.Kind == KindPipelineAborted && result != nil {
			return c.JSON(apiErr.Code, map[string]interface{}{
				"error":  apiErr,
				"result": result,
			})
		}
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func deploySteps(steps []DeployStep) []pipeline.Step {
	out := make([]pipeline.Step, len(steps))
	for i, s := range steps {
		out[i] = pipeline.Step{Name: s.Name, Command: s.Command, Elevated: s.Elevated}
	}
	return out
}

func plainSteps(commands []string) []pipeline.Step {
	out := make([]pipeline.Step, len(commands))
	for i, cmd := range commands {
		out[i] = pipeline.Step{Command: cmd}
	}
	return out
}

// convergeModels converges the model set on a target.
func (s *Server) convergeModels(c echo.Context) error {
	var req ConvergeRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}

	backend := target.ParseBackend(req.Backend)
	if !backend.Valid() {
		return BadRequestError("unknown backend", req.Backend)
	}

	raw := req.Models
	if raw == "" {
		var err error
		raw, err = s.defaults.DesiredModels()
		if err != nil {
			return err
		}
	}

	mc := converge.NewModelConverger(s.dispatcher, s.converger, backend, req.Target, req.VMID)
	report, err := mc.Run(c.Request().Context(), raw)
	if err != nil {
		apiErr := fromDomainError(err)
		if apiErr.Kind == KindConvergenceFailed && report != nil {
			return c.JSON(apiErr.Code, map[string]interface{}{
				"error":  apiErr,
				"report": report,
			})
		}
		return err
	}
	return c.JSON(http.StatusOK, report)
}

// selectGPU enumerates a target's GPUs and picks one by preference.
func (s *Server) selectGPU(c echo.Context) error {
	var req GPUSelectRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}

	backend := target.ParseBackend(req.Backend)
	if !backend.Valid() {
		return BadRequestError("unknown backend", req.Backend)
	}

	resources, err := gpu.Enumerate(c.Request().Context(), s.dispatcher, backend, req.Target, req.VMID)
	if err != nil {
		return err
	}

	preference := req.Preference
	if preference == "" {
		preference = s.defaults.GPU.Preference
	}

	selected, err := gpu.Select(resources, preference)
	if err != nil {
		return BadRequestError("no GPUs found on target", err.Error())
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"selected":   selected,
		"export":     selected.ExportVar(),
		"resources":  resources,
		"preference": preference,
	})
}
