// Package engine manages the Docker-hosted inference engine container.
// The engine holds the loaded model so generations don't pay the model
// load cost on every request; an idle worker stops it when chat goes quiet.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
)

const (
	containerName   = "echos-inference-engine"
	modelVolume     = "echos-models"
	modelMountPath  = "/models"
	stopTimeoutSecs = 30

	// Resource limits. The engine loads a quantized local model.
	memoryLimitBytes = 6 * 1024 * 1024 * 1024 // 6GB
	pidsLimit        = 256

	createRetryAttempts = 10
	createRetryDelay    = 250 * time.Millisecond
)

// Manager defines the interface for managing the inference engine container.
type Manager interface {
	// EnsureEngine ensures the engine container exists and is running,
	// returning its container ID.
	EnsureEngine(ctx context.Context) (string, error)

	// StopEngine stops and removes the engine container. Idempotent.
	StopEngine(ctx context.Context) error

	// IsRunning checks if the engine container is currently running.
	IsRunning(ctx context.Context) (bool, error)

	// Touch records engine activity for the idle worker.
	Touch()

	// LastUsed returns the time of the most recent engine activity.
	LastUsed() time.Time

	// Client returns the underlying Docker client.
	Client() *client.Client
}

// DockerManager implements Manager using the Docker API.
type DockerManager struct {
	cli   *client.Client
	image string

	mu       sync.Mutex
	lastUsed time.Time
}

// NewDockerManager creates a new Docker-backed engine manager.
func NewDockerManager(image string) (Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	slog.Info("Docker client initialized", "engine_image", image)
	return &DockerManager{cli: cli, image: image, lastUsed: time.Now()}, nil
}

// EnsureEngine ensures the engine container exists and is running.
func (m *DockerManager) EnsureEngine(ctx context.Context) (string, error) {
	m.Touch()

	// Check if the engine container already exists.
	inspect, err := m.cli.ContainerInspect(ctx, containerName)
	if err == nil {
		if inspect.State.Running {
			return inspect.ID, nil
		}

		slog.Info("Restarting stopped engine container", "container_id", inspect.ID)
		if err := m.cli.ContainerStart(ctx, inspect.ID, container.StartOptions{}); err == nil {
			return inspect.ID, nil
		}

		// A container that refuses to start is recycled.
		slog.Warn("Engine container failed to start, recreating", "container_id", inspect.ID)
		if err := m.StopEngine(ctx); err != nil {
			slog.Warn("Failed to stop engine before recreation", "error", err)
		}
	}

	slog.Info("Creating engine container", "image", m.image)

	config := &container.Config{
		Image: m.image,
		Env:   []string{"MODEL_DIR=" + modelMountPath},
	}

	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeVolume,
			Source: modelVolume,
			Target: modelMountPath,
		}},
		Resources: container.Resources{
			Memory:    memoryLimitBytes,
			PidsLimit: ptr(int64(pidsLimit)),
		},
	}

	var resp container.CreateResponse
	var createErr error
	for i := 0; i < createRetryAttempts; i++ {
		resp, createErr = m.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, containerName)
		if createErr == nil {
			break
		}

		errStr := strings.ToLower(createErr.Error())
		if !strings.Contains(errStr, "is already in use") && !strings.Contains(errStr, "conflict") {
			return "", fmt.Errorf("create engine container: %w", createErr)
		}

		// The idle worker may be mid-removal; force-stop by name and retry.
		slog.Warn("Engine container name conflict during create, retrying",
			"attempt", i+1,
			"error", createErr,
		)
		if err := m.StopEngine(ctx); err != nil {
			slog.Warn("Failed to stop conflicting engine container before retry", "error", err)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(createRetryDelay):
		}
	}
	if createErr != nil {
		return "", fmt.Errorf("create engine container after retries: %w", createErr)
	}

	if err := m.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if removeErr := m.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true}); removeErr != nil {
			slog.Warn("Failed to remove engine container after start failure", "container_id", resp.ID, "error", removeErr)
		}
		return "", fmt.Errorf("start engine container %s: %w", resp.ID, err)
	}

	slog.Info("Engine container created and started", "container_id", resp.ID)
	return resp.ID, nil
}

// StopEngine stops and removes the engine container. Idempotent.
func (m *DockerManager) StopEngine(ctx context.Context) error {
	inspect, err := m.cli.ContainerInspect(ctx, containerName)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("inspect engine container: %w", err)
	}

	slog.Info("Stopping engine container", "container_id", inspect.ID)

	timeout := stopTimeoutSecs
	if err := m.cli.ContainerStop(ctx, inspect.ID, container.StopOptions{Timeout: &timeout}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		slog.Debug("Engine container stop returned error, continuing to remove", "container_id", inspect.ID, "error", err)
	}

	if err := m.cli.ContainerRemove(ctx, inspect.ID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) || strings.Contains(err.Error(), "is already in progress") {
			return nil
		}
		return fmt.Errorf("remove engine container %s: %w", inspect.ID, err)
	}

	slog.Info("Engine container stopped and removed", "container_id", inspect.ID)
	return nil
}

// IsRunning checks if the engine container is currently running.
func (m *DockerManager) IsRunning(ctx context.Context) (bool, error) {
	inspect, err := m.cli.ContainerInspect(ctx, containerName)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspect engine container: %w", err)
	}
	return inspect.State.Running, nil
}

// Touch records engine activity for the idle worker.
func (m *DockerManager) Touch() {
	m.mu.Lock()
	m.lastUsed = time.Now()
	m.mu.Unlock()
}

// LastUsed returns the time of the most recent engine activity.
func (m *DockerManager) LastUsed() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastUsed
}

// Client returns the underlying Docker client.
func (m *DockerManager) Client() *client.Client {
	return m.cli
}

func ptr[T any](v T) *T {
	return &v
}
