package datasource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// execAPI is the part of the Docker client the exec provider needs.
type execAPI interface {
	ContainerExecCreate(ctx context.Context, container string, config types.ExecConfig) (types.IDResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config types.ExecStartCheck) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (types.ContainerExecInspect, error)
}

// DockerExecProvider runs the provider command inside a running container.
type DockerExecProvider struct {
	name      string
	container string
	args      []string
	env       []string
	docker    execAPI
}

func NewDockerExecProvider(name, container string, args, env []string) (*DockerExecProvider, error) {
	if container == "" {
		return nil, fmt.Errorf("docker provider %s: empty container", name)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("docker provider %s: empty command", name)
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker provider %s: %w", name, err)
	}
	return newDockerExecProvider(name, container, args, env, cli), nil
}

func newDockerExecProvider(name, container string, args, env []string, api execAPI) *DockerExecProvider {
	return &DockerExecProvider{
		name:      name,
		container: container,
		args:      args,
		env:       env,
		docker:    api,
	}
}

func (p *DockerExecProvider) Name() string {
	return p.name
}

func (p *DockerExecProvider) Fetch(ctx context.Context, subject string, timeout time.Duration) (*Payload, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	created, err := p.docker.ContainerExecCreate(ctx, p.container, types.ExecConfig{
		Cmd:          expandArgs(p.args, subject),
		Env:          p.env,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, classify(ctx, p.name, subject, fmt.Errorf("exec create: %w", err))
	}

	hijacked, err := p.docker.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return nil, classify(ctx, p.name, subject, fmt.Errorf("exec attach: %w", err))
	}
	defer hijacked.Close()

	var stdout, stderr bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, hijacked.Reader)
		copyDone <- err
	}()

	select {
	case err := <-copyDone:
		if err != nil {
			return nil, classify(ctx, p.name, subject, fmt.Errorf("exec output: %w", err))
		}
	case <-ctx.Done():
		return nil, classify(ctx, p.name, subject, ctx.Err())
	}

	inspect, err := p.docker.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, classify(ctx, p.name, subject, fmt.Errorf("exec inspect: %w", err))
	}
	if inspect.ExitCode != 0 {
		return nil, newError(KindUnavailable, p.name, subject,
			fmt.Errorf("exit status %d: %s", inspect.ExitCode, strings.TrimSpace(stderr.String())))
	}

	body := bytes.TrimSpace(stdout.Bytes())
	if !json.Valid(body) {
		return nil, newError(KindMalformedResponse, p.name, subject,
			fmt.Errorf("stdout is not valid JSON (%d bytes)", len(body)))
	}

	return &Payload{
		Provider:  p.name,
		Subject:   subject,
		Body:      body,
		FetchedAt: time.Now(),
	}, nil
}
