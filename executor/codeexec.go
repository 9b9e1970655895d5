package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerCodeExec is a CodeExecBackend that runs each (userID, sessionID)'s
// code tools inside a dedicated long-lived container, so workspace state
// (files written by one call) survives into the next. Containers are
// reused across calls and rounds within a request, and across requests for
// the life of the process; a production deployment would additionally
// reap idle containers, which is out of scope here.
type DockerCodeExec struct {
	cli   *client.Client
	image string

	mu         sync.Mutex
	containers map[string]string // sessionKey -> container id
}

// NewDockerCodeExec constructs a DockerCodeExec using the Docker client
// configured from the environment (DOCKER_HOST and friends), matching the
// conventional `client.NewClientWithOpts(client.FromEnv)` bootstrap.
func NewDockerCodeExec(image string) (*DockerCodeExec, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("executor: docker client: %w", err)
	}
	return &DockerCodeExec{cli: cli, image: image, containers: map[string]string{}}, nil
}

func sessionKey(userID, sessionID string) string {
	return userID + "/" + sessionID
}

// ensureContainer creates (or reuses) the sandbox container for the given
// user/session pair. The container is started but kept idle between exec
// calls via a blocking entrypoint, and commands are run against it with
// ContainerExecCreate/ContainerExecAttach.
func (d *DockerCodeExec) ensureContainer(ctx context.Context, userID, sessionID string) (string, error) {
	key := sessionKey(userID, sessionID)

	d.mu.Lock()
	defer d.mu.Unlock()

	if id, ok := d.containers[key]; ok {
		if inspect, err := d.cli.ContainerInspect(ctx, id); err == nil && inspect.State != nil && inspect.State.Running {
			return id, nil
		}
		delete(d.containers, key)
	}

	resp, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image:     d.image,
		Cmd:       []string{"sleep", "infinity"},
		Tty:       false,
		Labels:    map[string]string{"chatcore.user": userID, "chatcore.session": sessionID},
		StopSignal: "SIGKILL",
	}, &container.HostConfig{
		AutoRemove: false,
		Resources: container.Resources{
			Memory:   512 * 1024 * 1024,
			NanoCPUs: 1_000_000_000,
		},
	}, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("executor: create sandbox container: %w", err)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("executor: start sandbox container: %w", err)
	}

	d.containers[key] = resp.ID
	return resp.ID, nil
}

// Execute implements CodeExecBackend. The first non-empty string among
// arguments["command"], arguments["code"] and arguments["script"] is run as a
// shell command inside the session's container. Stdout is returned; stderr
// appears only in the error when the command exits non-zero.
func (d *DockerCodeExec) Execute(ctx context.Context, userID, sessionID, toolName string, arguments map[string]any) (any, error) {
	containerID, err := d.ensureContainer(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	cmd := commandFor(arguments)
	if cmd == "" {
		return nil, fmt.Errorf("executor: %s: no command or code argument supplied", toolName)
	}

	execID, err := d.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          []string{"sh", "-c", cmd},
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("executor: create exec: %w", err)
	}

	attach, err := d.cli.ContainerExecAttach(ctx, execID.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("executor: attach exec: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil && err != io.EOF {
		return nil, fmt.Errorf("executor: read exec output: %w", err)
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, execID.ID)
	if err != nil {
		return nil, fmt.Errorf("executor: inspect exec: %w", err)
	}
	if inspect.ExitCode != 0 {
		return nil, fmt.Errorf("executor: %s exited %d: %s", toolName, inspect.ExitCode, strings.TrimSpace(stderr.String()))
	}

	return stdout.String(), nil
}

func commandFor(arguments map[string]any) string {
	for _, key := range []string{"command", "code", "script"} {
		if v, ok := arguments[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// Close releases the Docker client. It does not stop running session
// containers, which are expected to outlive a single process lifetime.
func (d *DockerCodeExec) Close() error {
	return d.cli.Close()
}
