package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	managedByLabel = "managed-by"
	managedByValue = "session-keeper"
	profileLabel   = "profile-id"

	containerPort   = "3000/tcp"
	containerDataIn = "/data"
)

// DockerConfig configures containerized browsers
type DockerConfig struct {
	Image          string
	StartupTimeout time.Duration
	OpTimeout      time.Duration
}

// DockerAcquirer runs each browser in a browserless/chrome container with the
// profile directory bind-mounted as its user data.
type DockerAcquirer struct {
	client *client.Client
	cfg    DockerConfig
	logger *zap.Logger
}

// NewDockerAcquirer connects to the docker daemon from the environment
func NewDockerAcquirer(cfg DockerConfig, logger *zap.Logger) (*DockerAcquirer, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	if cfg.Image == "" {
		cfg.Image = "browserless/chrome:latest"
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = 30 * time.Second
	}
	if cfg.OpTimeout == 0 {
		cfg.OpTimeout = 60 * time.Second
	}

	return &DockerAcquirer{
		client: cli,
		cfg:    cfg,
		logger: logger.Named("docker"),
	}, nil
}

// Acquire starts a container and attaches chromedp to it
func (d *DockerAcquirer) Acquire(ctx context.Context, opts AcquireOptions) (Handle, error) {
	logger := d.logger.With(zap.String("profile_id", opts.ProfileID))

	containerConfig := &container.Config{
		Image: d.cfg.Image,
		Labels: map[string]string{
			managedByLabel: managedByValue,
			profileLabel:   opts.ProfileID,
		},
		Env: []string{
			"CONNECTION_TIMEOUT=-1",
			"MAX_CONCURRENT_SESSIONS=1",
			"KEEP_ALIVE=true",
			"EXIT_ON_HEALTH_FAILURE=false",
		},
		ExposedPorts: nat.PortSet{
			containerPort: struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			containerPort: []nat.PortBinding{
				{
					HostIP:   "127.0.0.1",
					HostPort: "0",
				},
			},
		},
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: opts.ProfileDir,
				Target: containerDataIn,
			},
		},
	}

	name := fmt.Sprintf("session-keeper-%s", uuid.New().String()[:8])
	resp, err := d.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	release := func(ctx context.Context) error {
		return d.stop(ctx, resp.ID)
	}

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		d.remove(resp.ID)
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	inspect, err := d.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		d.remove(resp.ID)
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}

	bindings := inspect.NetworkSettings.Ports[containerPort]
	if len(bindings) == 0 {
		d.remove(resp.ID)
		return nil, fmt.Errorf("container %s exposes no port", resp.ID[:12])
	}
	port := bindings[0].HostPort

	if err := d.waitForBrowserReady(ctx, port); err != nil {
		d.remove(resp.ID)
		return nil, fmt.Errorf("browser failed to become ready: %w", err)
	}

	logger.Info("container started", zap.String("container", resp.ID[:12]), zap.String("port", port))

	allocCtx, cancel := chromedp.NewRemoteAllocator(context.Background(), connectURL(port, opts), chromedp.NoModifyURL)

	h, err := startChrome(chromeStart{
		mode:      ModeDocker,
		allocCtx:  allocCtx,
		cancel:    cancel,
		userAgent: opts.UserAgent,
		proxy:     opts.Proxy,
		viewport:  opts.Viewport,
		startup:   d.cfg.StartupTimeout,
		opTimeout: d.cfg.OpTimeout,
		release:   release,
		logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// connectURL passes launch flags to browserless through the query string
func connectURL(port string, opts AcquireOptions) string {
	q := url.Values{}
	q.Set("--user-data-dir", containerDataIn)
	q.Set("--user-agent", opts.UserAgent)
	q.Set("--window-size", strconv.Itoa(opts.Viewport.Width)+","+strconv.Itoa(opts.Viewport.Height))
	q.Set("--disable-blink-features", "AutomationControlled")
	if opts.Proxy != nil {
		q.Set("--proxy-server", opts.Proxy.Server())
	}
	return fmt.Sprintf("ws://127.0.0.1:%s?%s", port, q.Encode())
}

func (d *DockerAcquirer) stop(ctx context.Context, containerID string) error {
	timeout := 10
	if err := d.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	if err := d.client.ContainerRemove(ctx, containerID, container.RemoveOptions{}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

func (d *DockerAcquirer) remove(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		d.logger.Warn("failed to remove container", zap.String("container", containerID), zap.Error(err))
	}
}

// ForceCleanup removes every container this program started
func (d *DockerAcquirer) ForceCleanup(ctx context.Context) {
	list, err := d.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", managedByLabel+"="+managedByValue)),
	})
	if err != nil {
		d.logger.Warn("failed to list containers", zap.Error(err))
		return
	}

	for _, c := range list {
		if err := d.client.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
			d.logger.Warn("failed to remove container", zap.String("container", c.ID), zap.Error(err))
			continue
		}
		d.logger.Info("removed lingering container", zap.String("container", c.ID[:12]))
	}
}

// EnsureImage pulls the browser image if it is missing
func (d *DockerAcquirer) EnsureImage(ctx context.Context) error {
	images, err := d.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}

	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == d.cfg.Image {
				return nil
			}
		}
	}

	reader, err := d.client.ImagePull(ctx, d.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

// Close closes the docker client
func (d *DockerAcquirer) Close() error {
	return d.client.Close()
}

// waitForBrowserReady polls /json/version until the browser answers
func (d *DockerAcquirer) waitForBrowserReady(ctx context.Context, port string) error {
	endpoint := fmt.Sprintf("http://127.0.0.1:%s/json/version", port)
	deadline := time.Now().Add(d.cfg.StartupTimeout)

	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}

	return fmt.Errorf("browser did not become ready within %s", d.cfg.StartupTimeout)
}
