package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// ProcessConfig holds configuration for the subprocess runner.
type ProcessConfig struct {
	PythonBin  string
	ScriptPath string
	Timeout    time.Duration
}

// DefaultProcessConfig returns default subprocess runner configuration.
func DefaultProcessConfig() ProcessConfig {
	return ProcessConfig{
		PythonBin:  "python3",
		ScriptPath: "./inference/generate.py",
		Timeout:    30 * time.Second,
	}
}

// ProcessClient runs the inference script as a subprocess per request,
// writing the request JSON to stdin and reading the reply JSON from stdout.
type ProcessClient struct {
	cfg    ProcessConfig
	logger *slog.Logger
}

// NewProcessClient creates a subprocess-backed inference client.
func NewProcessClient(cfg ProcessConfig, logger *slog.Logger) *ProcessClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PythonBin == "" {
		cfg.PythonBin = DefaultProcessConfig().PythonBin
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultProcessConfig().Timeout
	}
	return &ProcessClient{cfg: cfg, logger: logger}
}

// Generate runs one inference round trip, bounded by the configured timeout.
func (c *ProcessClient) Generate(ctx context.Context, req Request) (*Reply, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal inference request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.cfg.PythonBin, c.cfg.ScriptPath)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if runErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			c.logger.Warn("inference process timed out",
				"script", c.cfg.ScriptPath,
				"timeout", c.cfg.Timeout,
			)
			return nil, fmt.Errorf("%w: timed out after %s", ErrEngineUnavailable, c.cfg.Timeout)
		}
		c.logger.Warn("inference process failed",
			"script", c.cfg.ScriptPath,
			"error", runErr,
			"stderr", tail(stderr.String(), 512),
		)
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, runErr)
	}

	reply, err := parseReply(stdout.Bytes())
	if err != nil {
		c.logger.Warn("inference output rejected",
			"script", c.cfg.ScriptPath,
			"error", err,
			"stdout", tail(stdout.String(), 512),
		)
		return nil, err
	}

	c.logger.Debug("inference completed",
		"elapsed", elapsed,
		"tokens", reply.TokensGenerated,
	)
	return reply, nil
}

// Close releases resources. Subprocesses are per-request, so nothing is held.
func (c *ProcessClient) Close() {}
