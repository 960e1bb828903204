package model

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"FinPilot/internal/domain/models"
	"FinPilot/internal/domain/service"
	pkghttp "FinPilot/pkg/http"
	"FinPilot/pkg/logger"
)

var (
	_ service.ModelRunner = (*HTTPRunner)(nil)
	_ service.ModelRunner = (*CommandRunner)(nil)
	_ service.ModelRunner = (*FileRunner)(nil)
	_ service.ModelRunner = (*FallbackRunner)(nil)
)

// HTTPRunner asks the model service to compute a snapshot.
type HTTPRunner struct {
	baseURL string
	path    string
	client  *pkghttp.Client
	now     func() time.Time
}

// NewHTTPRunner builds a runner posting to baseURL+path. The client timeout is
// the upper bound on one model computation.
func NewHTTPRunner(baseURL, path string, timeout time.Duration) *HTTPRunner {
	if timeout <= 0 {
		timeout = 20 * time.Minute
	}
	return &HTTPRunner{
		baseURL: strings.TrimRight(baseURL, "/"),
		path:    path,
		client:  pkghttp.NewClient(pkghttp.WithTimeout(timeout)),
		now:     time.Now,
	}
}

func (r *HTTPRunner) Name() string { return "http" }

func (r *HTTPRunner) Run(ctx context.Context) (*models.Snapshot, error) {
	if r.baseURL == "" {
		return nil, fmt.Errorf("model service url not configured")
	}
	var body []byte
	err := r.client.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method: pkghttp.MethodPost,
		URL:    r.baseURL + r.path,
		Body:   map[string]string{"requestedAt": r.now().UTC().Format(time.RFC3339)},
	}, &body)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", r.path, err)
	}
	return ParseSnapshot(body, r.now())
}

// CommandRunner executes the model as an external process that prints the
// snapshot JSON on stdout.
type CommandRunner struct {
	command string
	args    []string
	timeout time.Duration
	now     func() time.Time
}

func NewCommandRunner(command string, args []string, timeout time.Duration) *CommandRunner {
	if timeout <= 0 {
		timeout = 20 * time.Minute
	}
	return &CommandRunner{command: command, args: args, timeout: timeout, now: time.Now}
}

func (r *CommandRunner) Name() string { return "command" }

func (r *CommandRunner) Run(ctx context.Context) (*models.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.command, r.args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("model command timed out after %s", r.timeout)
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 500 {
			msg = msg[len(msg)-500:]
		}
		if msg != "" {
			return nil, fmt.Errorf("model command failed: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("model command failed: %w", err)
	}
	return ParseSnapshot(stdout.Bytes(), r.now())
}

// FileRunner loads a previously produced artifact from disk.
type FileRunner struct {
	path string
	now  func() time.Time
}

func NewFileRunner(path string) *FileRunner {
	return &FileRunner{path: path, now: time.Now}
}

func (r *FileRunner) Name() string { return "file" }

func (r *FileRunner) Run(_ context.Context) (*models.Snapshot, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("read model artifact: %w", err)
	}
	return ParseSnapshot(data, r.now())
}

// FallbackRunner tries the primary runner and falls back to the artifact when
// it fails. Name reports whichever produced the last snapshot.
type FallbackRunner struct {
	primary  service.ModelRunner
	fallback service.ModelRunner
	log      *logger.Logger
	last     string
}

func NewFallbackRunner(primary, fallback service.ModelRunner, log *logger.Logger) *FallbackRunner {
	if log == nil {
		log = logger.Nop()
	}
	return &FallbackRunner{primary: primary, fallback: fallback, log: log, last: primary.Name()}
}

func (r *FallbackRunner) Name() string { return r.last }

func (r *FallbackRunner) Run(ctx context.Context) (*models.Snapshot, error) {
	snap, err := r.primary.Run(ctx)
	if err == nil {
		r.last = r.primary.Name()
		return snap, nil
	}
	r.log.Warn("Primary model runner failed, using fallback artifact",
		logger.String("primary", r.primary.Name()),
		logger.Error(err))

	snap, ferr := r.fallback.Run(ctx)
	if ferr != nil {
		return nil, fmt.Errorf("%w (fallback: %v)", err, ferr)
	}
	r.last = r.fallback.Name()
	return snap, nil
}
