// Package docker implements the Container Driver contract against a
// Docker-compatible daemon, adapted from the teacher's build/run client.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/sethvargo/go-retry"

	"github.com/shipyard/bay/internal/domain"
	"github.com/shipyard/bay/internal/driver"
)

// Driver wraps the Docker SDK client to implement driver.Driver.
type Driver struct {
	inner   *client.Client
	image   string
	network string
	port    int
}

// New creates a Docker-backed Driver using environment defaults, optionally
// overridden by host.
func New(host, image, network string, port int) (*Driver, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	inner, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Driver{inner: inner, image: image, network: network, port: port}, nil
}

// Ping validates connectivity to the Docker daemon.
func (d *Driver) Ping(ctx context.Context) error {
	if d == nil || d.inner == nil {
		return fmt.Errorf("docker driver not initialized")
	}
	ping, err := d.inner.Ping(ctx)
	if err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	if ping.APIVersion == "" {
		return fmt.Errorf("docker ping returned empty API version")
	}
	return nil
}

// Close releases resources held by the Docker client.
func (d *Driver) Close() error {
	if d.inner == nil {
		return nil
	}
	return d.inner.Close()
}

func (d *Driver) containerPort() nat.Port {
	return nat.Port(strconv.Itoa(d.port) + "/tcp")
}

// Create pulls the configured image if missing and creates (but does not
// start) a container for the given Ship.
func (d *Driver) Create(ctx context.Context, shipID string, spec domain.Spec) (string, error) {
	if err := d.ensureImage(ctx); err != nil {
		return "", err
	}

	port := d.containerPort()
	cfg := &container.Config{
		Image:        d.image,
		Env:          []string{"SHIP_ID=" + shipID},
		Labels:       map[string]string{"shipyard.ship_id": shipID, "shipyard.created_by": "bay"},
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}

	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{port: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: ""}}},
		RestartPolicy: container.RestartPolicy{
			Name: "no",
		},
	}
	applySpec(hostCfg, spec)

	var netCfg *containerNetworkConfig
	if d.network != "" {
		netCfg = newNetworkConfig(d.network)
	}

	name := "ship-" + shipID
	resp, err := d.inner.ContainerCreate(ctx, cfg, hostCfg, netCfg.networkingConfig(), nil, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", driver.ErrNotFound
		}
		return "", fmt.Errorf("container create: %w", err)
	}
	return resp.ID, nil
}

// Start starts the container and waits briefly for the host port binding to
// appear, returning the reachable address.
func (d *Driver) Start(ctx context.Context, containerID string) (string, error) {
	if err := d.inner.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("container start: %w", err)
	}

	port := d.containerPort()
	var inspect types.ContainerJSON
	var err error
	for attempt := 0; attempt < 10; attempt++ {
		inspect, err = d.inner.ContainerInspect(ctx, containerID)
		if err != nil {
			return "", fmt.Errorf("container inspect: %w", err)
		}
		if addr, ok := hostAddress(inspect.NetworkSettings, port); ok {
			return addr, nil
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("wait for host port: %w", ctx.Err())
		case <-time.After(200 * time.Millisecond):
		}
	}
	return "", fmt.Errorf("container never exposed port %s", port)
}

// Inspect reports whether the container is running and its reachable address.
func (d *Driver) Inspect(ctx context.Context, containerID string) (driver.Inspection, error) {
	info, err := d.inner.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return driver.Inspection{}, driver.ErrNotFound
		}
		return driver.Inspection{}, fmt.Errorf("container inspect: %w", err)
	}
	running := info.State != nil && info.State.Running
	addr, _ := hostAddress(info.NetworkSettings, d.containerPort())
	return driver.Inspection{Running: running, Address: addr}, nil
}

// Logs returns recent stdout+stderr, bounded to approximately tail bytes.
func (d *Driver) Logs(ctx context.Context, containerID string, tail int64) ([]byte, error) {
	tailStr := "all"
	if tail > 0 {
		tailStr = strconv.FormatInt(tail/64, 10)
		if tailStr == "0" {
			tailStr = "200"
		}
	}
	reader, err := d.inner.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       tailStr,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, driver.ErrNotFound
		}
		return nil, fmt.Errorf("container logs: %w", err)
	}
	defer reader.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read container logs: %w", err)
	}
	out := buf.Bytes()
	if tail > 0 && int64(len(out)) > tail {
		out = out[int64(len(out))-tail:]
	}
	return out, nil
}

// Stop gracefully stops the container, forcing after the grace period.
func (d *Driver) Stop(ctx context.Context, containerID string) error {
	grace := 10
	if err := d.inner.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &grace}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("container stop: %w", err)
	}
	return nil
}

// Remove idempotently removes the container.
func (d *Driver) Remove(ctx context.Context, containerID string) error {
	if strings.TrimSpace(containerID) == "" {
		return nil
	}
	if err := d.inner.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("container remove: %w", err)
	}
	return nil
}

// ensureImage pulls the configured image if it is not present locally. Pulls
// are retried with bounded backoff since registry hiccups are transient.
func (d *Driver) ensureImage(ctx context.Context) error {
	_, _, err := d.inner.ImageInspectWithRaw(ctx, d.image)
	if err == nil {
		return nil
	}
	backoff := retry.WithMaxRetries(2, retry.NewExponential(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		reader, pullErr := d.inner.ImagePull(ctx, d.image, image.PullOptions{})
		if pullErr != nil {
			return retry.RetryableError(fmt.Errorf("pull image %s: %w", d.image, pullErr))
		}
		defer reader.Close()
		_, _ = io.Copy(io.Discard, reader)
		return nil
	})
}

func applySpec(hostCfg *container.HostConfig, spec domain.Spec) {
	if spec.CPUs != nil && *spec.CPUs > 0 {
		hostCfg.Resources.CPUPeriod = 100000
		hostCfg.Resources.CPUQuota = int64(*spec.CPUs * 100000)
	}
	if spec.Memory != nil {
		if bytes, ok := parseMemoryString(*spec.Memory); ok {
			hostCfg.Resources.Memory = bytes
		}
	}
}

func parseMemoryString(raw string) (int64, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return 0, false
	}
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "kb"):
		mult, s = 1024, strings.TrimSuffix(s, "kb")
	case strings.HasSuffix(s, "k"):
		mult, s = 1024, strings.TrimSuffix(s, "k")
	case strings.HasSuffix(s, "mb"):
		mult, s = 1024*1024, strings.TrimSuffix(s, "mb")
	case strings.HasSuffix(s, "m"):
		mult, s = 1024*1024, strings.TrimSuffix(s, "m")
	case strings.HasSuffix(s, "gb"):
		mult, s = 1024*1024*1024, strings.TrimSuffix(s, "gb")
	case strings.HasSuffix(s, "g"):
		mult, s = 1024*1024*1024, strings.TrimSuffix(s, "g")
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, false
	}
	return n * mult, true
}

func hostAddress(settings *types.NetworkSettings, port nat.Port) (string, bool) {
	if settings == nil || settings.Ports == nil {
		return "", false
	}
	bindings, ok := settings.Ports[port]
	if !ok || len(bindings) == 0 {
		return "", false
	}
	for _, b := range bindings {
		if strings.TrimSpace(b.HostPort) != "" {
			host := b.HostIP
			if host == "" || host == "0.0.0.0" {
				host = "127.0.0.1"
			}
			return host + ":" + b.HostPort, true
		}
	}
	return "", false
}
