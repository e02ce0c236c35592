package datasource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommandProvider runs a local executable and expects JSON on stdout.
type CommandProvider struct {
	name string
	args []string
	env  []string
	dir  string
}

func NewCommandProvider(name string, args []string, env []string, dir string) (*CommandProvider, error) {
	if len(args) == 0 || args[0] == "" {
		return nil, fmt.Errorf("command provider %s: empty command", name)
	}
	return &CommandProvider{name: name, args: args, env: env, dir: dir}, nil
}

func (p *CommandProvider) Name() string {
	return p.name
}

func (p *CommandProvider) Fetch(ctx context.Context, subject string, timeout time.Duration) (*Payload, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	argv := expandArgs(p.args, subject)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = p.dir
	if len(p.env) > 0 {
		cmd.Env = append(cmd.Environ(), p.env...)
	}
	// Without WaitDelay a child that inherited stdout keeps Run blocked past the deadline.
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, classify(ctx, p.name, subject, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr.String())
			return nil, newError(KindUnavailable, p.name, subject,
				fmt.Errorf("exit status %d: %s", exitErr.ExitCode(), msg))
		}
		return nil, newError(KindUnavailable, p.name, subject, err)
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
