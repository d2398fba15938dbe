// Package container wraps the container engine's client for the two
// operations the gateway needs: verifying that a container is running, and
// attaching an exec session running the language server inside it.
package container

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/stellar-ide/lsp-gateway/internal/gwerr"
	"github.com/stellar-ide/lsp-gateway/internal/logger"
)

// Stream is the bidirectional byte stream handed back by Attach: the raw
// hijacked exec connection, readable for demuxed stdout/stderr and writable
// for stdin.
type Stream interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	// CloseWrite signals EOF to the remote stdin without tearing down the
	// read side, allowing the language server to exit cleanly.
	CloseWrite() error
	Close() error
}

// Client wraps the container engine's API for gateway use.
type Client struct {
	docker *client.Client
}

// NewClient dials the container engine at host (a domain-socket or TCP
// address, per the engine's client conventions).
func NewClient(host string) (*Client, error) {
	opts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create container engine client: %w", err)
	}

	if _, err := cli.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("connect to container engine: %w", err)
	}

	return &Client{docker: cli}, nil
}

// Close releases the engine client's connection pool.
func (c *Client) Close() error {
	return c.docker.Close()
}

// Verify inspects the container identified by id and confirms it is
// running. A "no such container" response from the engine is a policy
// violation (the caller asked for a container that doesn't exist); any other
// inspect failure (daemon unreachable, API error) is an infrastructure
// problem and is reported separately so callers don't conflate the two.
func (c *Client) Verify(ctx context.Context, id string) error {
	info, err := c.docker.ContainerInspect(ctx, id)
	if err != nil {
		if strings.Contains(err.Error(), "No such container") {
			return gwerr.Wrap(gwerr.KindContainerNotFound, "container not found", err)
		}
		return gwerr.Wrap(gwerr.KindInspectFailed, "container inspect failed", err)
	}

	if info.State == nil || !info.State.Running {
		return gwerr.New(gwerr.KindContainerNotRunning, "Container not running")
	}

	if info.NetworkSettings != nil {
		if summary := portBindingSummary(info.NetworkSettings.Ports); summary != "" {
			logger.Container().Debug().
				Str("container_id", id).
				Str("ports", summary).
				Msg("container verified running")
		}
	}

	return nil
}

// AttachConfig configures a single exec session.
type AttachConfig struct {
	ContainerID string
	Command     string
	WorkingDir  string
}

// Attach creates and starts an exec session running the language server
// inside the container, in hijacked raw-stream mode. A successful call
// returns the bidirectional Stream; any failure is an AttachFailed error.
func (c *Client) Attach(ctx context.Context, cfg AttachConfig) (Stream, error) {
	log := logger.Container()

	execCfg := types.ExecConfig{
		Cmd:          []string{cfg.Command},
		WorkingDir:   cfg.WorkingDir,
		Env:          []string{"RUST_BACKTRACE=1"},
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false,
	}

	execResp, err := c.docker.ContainerExecCreate(ctx, cfg.ContainerID, execCfg)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindAttachFailed, "exec create failed", err)
	}

	attachResp, err := c.docker.ContainerExecAttach(ctx, execResp.ID, types.ExecStartCheck{
		Detach: false,
		Tty:    false,
	})
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindAttachFailed, "exec start failed", err)
	}

	log.Debug().
		Str("container_id", cfg.ContainerID).
		Str("exec_id", execResp.ID).
		Str("command", cfg.Command).
		Msg("exec attached")

	return &hijackedStream{resp: attachResp, execID: execResp.ID}, nil
}

// hijackedStream adapts the engine client's HijackedResponse to the Stream
// interface: the hijacked connection is owned here, and the demuxer and
// codec only ever see the read-only and write-only views of it.
type hijackedStream struct {
	resp   types.HijackedResponse
	execID string
}

func (h *hijackedStream) Read(p []byte) (int, error) {
	return h.resp.Reader.Read(p)
}

func (h *hijackedStream) Write(p []byte) (int, error) {
	return h.resp.Conn.Write(p)
}

func (h *hijackedStream) CloseWrite() error {
	if cw, ok := h.resp.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

func (h *hijackedStream) Close() error {
	h.resp.Close()
	return nil
}

// portBindingSummary extracts a human-readable port binding summary from a
// container's network settings, surfaced in Verify's debug log when a
// session's container exposes ports (e.g. companion services alongside the
// language server).
func portBindingSummary(ports nat.PortMap) string {
	if len(ports) == 0 {
		return ""
	}
	for port, bindings := range ports {
		if len(bindings) > 0 {
			return fmt.Sprintf("%s->%s", port, bindings[0].HostPort)
		}
	}
	return ""
}
