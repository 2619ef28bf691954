package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/openconduit/openconduit/pkg/transports/virt"
)

// listNodes returns the control-plane cluster nodes.
func (s *Server) listNodes(c echo.Context) error {
	client, err := s.virtClient()
	if err != nil {
		return BadRequestError("control plane not configured", err.Error())
	}

	nodes, err := client.Nodes(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"nodes": nodes})
}

// listContainers returns the containers on a node. With no node parameter
// the first cluster node is used.
func (s *Server) listContainers(c echo.Context) error {
	client, err := s.virtClient()
	if err != nil {
		return BadRequestError("control plane not configured", err.Error())
	}

	ctx := c.Request().Context()
	node, err := client.DefaultNode(ctx, c.QueryParam("node"))
	if err != nil {
		return err
	}

	containers, err := client.Containers(ctx, node)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"node":       node,
		"containers": containers,
	})
}

// createContainer provisions a container. The container is unprivileged and
// started after creation unless the request says otherwise.
func (s *Server) createContainer(c echo.Context) error {
	var req ContainerCreateRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}

	if min := s.defaults.Virt.PasswordMinLength; req.Password != "" && len(req.Password) < min {
		return BadRequestError("container password too short",
			fmt.Sprintf("password must be at least %d characters", min))
	}

	client, err := s.virtClient()
	if err != nil {
		return BadRequestError("control plane not configured", err.Error())
	}

	ctx := c.Request().Context()
	node, err := client.DefaultNode(ctx, req.Node)
	if err != nil {
		return err
	}

	if req.Cores == 0 {
		req.Cores = 2
	}
	if req.MemoryMB == 0 {
		req.MemoryMB = 2048
	}
	if req.RootFSGB == 0 {
		req.RootFSGB = 16
	}
	if req.Bridge == "" {
		req.Bridge = "vmbr0"
	}

	task, err := client.CreateContainer(ctx, node, virt.CreateContainerRequest{
		VMID:         req.VMID,
		Hostname:     req.Hostname,
		Cores:        req.Cores,
		MemoryMB:     req.MemoryMB,
		Storage:      req.Storage,
		RootFSGB:     req.RootFSGB,
		Bridge:       req.Bridge,
		IPCIDR:       req.IPCIDR,
		Gateway:      req.Gateway,
		SSHPublicKey: req.SSHPublicKey,
		Password:     req.Password,
		OSTemplate:   req.OSTemplate,
		Unprivileged: req.Unprivileged == nil || *req.Unprivileged,
		Start:        req.Start == nil || *req.Start,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"created": true,
		"node":    node,
		"vmid":    req.VMID,
		"task":    task,
	})
}

func (s *Server) startContainer(c echo.Context) error {
	return s.containerLifecycle(c, "start")
}

func (s *Server) stopContainer(c echo.Context) error {
	return s.containerLifecycle(c, "stop")
}

func (s *Server) containerLifecycle(c echo.Context, action string) error {
	vmid, err := strconv.Atoi(c.Param("vmid"))
	if err != nil || vmid <= 0 {
		return BadRequestError("invalid container id", c.Param("vmid"))
	}

	client, err := s.virtClient()
	if err != nil {
		return BadRequestError("control plane not configured", err.Error())
	}

	ctx := c.Request().Context()
	node, err := client.DefaultNode(ctx, c.QueryParam("node"))
	if err != nil {
		return err
	}

	var task string
	if action == "start" {
		task, err = client.StartContainer(ctx, node, vmid)
	} else {
		force := c.QueryParam("force") == "true" || c.QueryParam("force") == "1"
		task, err = client.StopContainer(ctx, node, vmid, force)
	}
	if err != nil {
		return err
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"node":   node,
		"vmid":   vmid,
		"action": action,
		"task":   task,
	})
}
