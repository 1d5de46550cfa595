package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// EngineManager is the subset of the engine runtime the docker runner needs.
type EngineManager interface {
	EnsureEngine(ctx context.Context) (string, error)
	Touch()
	Client() *client.Client
}

// DockerConfig holds configuration for the docker exec runner.
type DockerConfig struct {
	ScriptPath string
	Timeout    time.Duration
}

// DockerClient runs the inference script inside the warm engine container
// via docker exec. The stdio contract is identical to the subprocess runner;
// the container just keeps the model loaded between requests.
type DockerClient struct {
	engine EngineManager
	cfg    DockerConfig
	logger *slog.Logger
}

// NewDockerClient creates a docker-exec-backed inference client.
func NewDockerClient(engine EngineManager, cfg DockerConfig, logger *slog.Logger) *DockerClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultProcessConfig().Timeout
	}
	return &DockerClient{engine: engine, cfg: cfg, logger: logger}
}

// Generate runs one inference round trip inside the engine container.
func (c *DockerClient) Generate(ctx context.Context, req Request) (*Reply, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal inference request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	containerID, err := c.engine.EnsureEngine(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	defer c.engine.Touch()

	cli := c.engine.Client()

	execResp, err := cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          []string{"python3", c.cfg.ScriptPath},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create exec: %v", ErrEngineUnavailable, err)
	}

	attach, err := cli.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: attach exec: %v", ErrEngineUnavailable, err)
	}
	defer attach.Close()

	if _, err := attach.Conn.Write(payload); err != nil {
		return nil, fmt.Errorf("%w: write request: %v", ErrEngineUnavailable, err)
	}
	if err := attach.CloseWrite(); err != nil {
		c.logger.Debug("failed to close exec stdin", "error", err)
	}

	// Demux stdout/stderr off the hijacked connection. The copy is run in a
	// goroutine so the timeout can interrupt a hung generation.
	var stdout, stderr bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		copyDone <- copyErr
	}()

	start := time.Now()
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			c.logger.Warn("inference exec timed out", "timeout", c.cfg.Timeout)
			return nil, fmt.Errorf("%w: timed out after %s", ErrEngineUnavailable, c.cfg.Timeout)
		}
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, ctx.Err())
	case copyErr := <-copyDone:
		if copyErr != nil {
			return nil, fmt.Errorf("%w: read exec output: %v", ErrEngineUnavailable, copyErr)
		}
	}

	inspect, err := cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: inspect exec: %v", ErrEngineUnavailable, err)
	}
	if inspect.ExitCode != 0 {
		c.logger.Warn("inference exec failed",
			"exit_code", inspect.ExitCode,
			"stderr", tail(stderr.String(), 512),
		)
		return nil, fmt.Errorf("%w: exec exited with code %d", ErrEngineUnavailable, inspect.ExitCode)
	}

	reply, err := parseReply(stdout.Bytes())
	if err != nil {
		c.logger.Warn("inference output rejected",
			"error", err,
			"stdout", tail(stdout.String(), 512),
		)
		return nil, err
	}

	c.logger.Debug("inference exec completed",
		"elapsed", time.Since(start),
		"tokens", reply.TokensGenerated,
	)
	return reply, nil
}

// Close releases resources. The engine container lifecycle is owned by the
// engine manager and its idle worker, not the client.
func (c *DockerClient) Close() {}
