package reconstruct

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	model "github.com/shadowsculpt/backend/internal/model/session"
	"github.com/shadowsculpt/backend/internal/service/capture"
	"github.com/shadowsculpt/backend/internal/service/session"
	"github.com/shadowsculpt/backend/internal/service/storage"
)

// Broadcaster delivers a room-scoped event to every member of a session.
// Satisfied by the websocket hub.
type Broadcaster interface {
	Broadcast(roomID, event string, payload any)
}

// Options tune the polling loop.
type Options struct {
	PublicBaseURL string
	PollInterval  time.Duration
	MaxAttempts   int
	MaxFrames     int
}

// Orchestrator drives one reconstruction job per request: submit the selected
// frames, poll to a terminal state, classify the outcome, persist the
// artifact. Each run executes on its own goroutine and reports progress back
// through the broadcast channel; the request path only enqueues and returns.
type Orchestrator struct {
	registry *session.Registry
	layout   *storage.Layout
	provider *Client
	rooms    Broadcaster

	publicBase   string
	pollInterval time.Duration
	maxAttempts  int
	maxFrames    int
}

// NewOrchestrator 组装重建任务编排器。
func NewOrchestrator(registry *session.Registry, layout *storage.Layout, provider *Client, rooms Broadcaster, opts Options) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 60
	}
	if opts.MaxFrames <= 0 {
		opts.MaxFrames = capture.DefaultMaxFrames
	}
	return &Orchestrator{
		registry:     registry,
		layout:       layout,
		provider:     provider,
		rooms:        rooms,
		publicBase:   strings.TrimRight(opts.PublicBaseURL, "/"),
		pollInterval: opts.PollInterval,
		maxAttempts:  opts.MaxAttempts,
		maxFrames:    opts.MaxFrames,
	}
}

// Begin starts a job for the session and returns immediately. Fails fast with
// capture.ErrInsufficientFrames when no frames exist (no network call, no
// state change) and with session.ErrJobInFlight when a job is already
// running; at most one job instance is ever in flight per session.
func (o *Orchestrator) Begin(sessionID string) error {
	frames, err := o.layout.ListFrames(sessionID)
	if err != nil {
		return fmt.Errorf("list frames: %w", err)
	}

	selected, err := capture.SelectFrames(frames, o.maxFrames)
	if err != nil {
		return err
	}

	if err := o.registry.TryBeginJob(sessionID); err != nil {
		return err
	}

	jobID := uuid.NewString()
	log.Printf("[reconstruct] job %s started session=%s frames=%d/%d", jobID, sessionID, len(selected), len(frames))
	go o.run(jobID, sessionID, selected)
	return nil
}

// run executes a single job instance to a terminal state. It always ends in
// Succeeded or Failed and always emits exactly one terminal event.
func (o *Orchestrator) run(jobID, sessionID string, frames []string) {
	ctx := context.Background()

	artifact, err := o.execute(ctx, sessionID, frames)
	if err != nil {
		classified := classify(err)
		o.registry.SetJobState(sessionID, model.JobFailed)
		log.Printf("[reconstruct] job %s failed session=%s class=%s: %v", jobID, sessionID, classified.Class, classified)
		o.status(sessionID, classified.StatusText())
		return
	}

	o.registry.SetJobState(sessionID, model.JobSucceeded)
	log.Printf("[reconstruct] job %s succeeded session=%s artifact=%s", jobID, sessionID, artifact)
	o.rooms.Broadcast(sessionID, "model_ready", map[string]any{"url": artifact})
}

// execute performs submit, poll and download. Every error it returns is
// already a *ClassifiedError or classifiable by classify.
func (o *Orchestrator) execute(ctx context.Context, sessionID string, frames []string) (string, error) {
	o.status(sessionID, fmt.Sprintf("Submitting %d frames to the reconstruction engine...", len(frames)))

	if !o.provider.Configured() {
		return "", &ClassifiedError{Class: FailureConfig, Detail: "provider API key missing"}
	}

	urls := make([]string, 0, len(frames))
	for _, f := range frames {
		urls = append(urls, fmt.Sprintf("%s/files/%s/%s", o.publicBase, sessionID, f))
	}

	taskID, err := o.provider.CreateTask(ctx, urls)
	if err != nil {
		return "", err
	}

	o.registry.SetJobState(sessionID, model.JobPolling)
	o.status(sessionID, "Reconstruction task accepted. Generating model...")

	status, err := o.poll(ctx, sessionID, taskID)
	if err != nil {
		return "", err
	}

	o.status(sessionID, "Downloading generated model...")
	body, err := o.provider.Download(ctx, status.ModelURLs.GLB)
	if err != nil {
		return "", err
	}
	defer body.Close()

	artifact, err := o.layout.WriteArtifact(sessionID, body)
	if err != nil {
		return "", err
	}
	return artifact, nil
}

// poll waits on the fixed interval up to the attempt ceiling for the task to
// reach a terminal state.
func (o *Orchestrator) poll(ctx context.Context, sessionID, taskID string) (*TaskStatus, error) {
	lastProgress := -1
	for attempt := 0; attempt < o.maxAttempts; attempt++ {
		time.Sleep(o.pollInterval)

		status, err := o.provider.GetTask(ctx, taskID)
		if err != nil {
			return nil, err
		}

		switch status.Status {
		case TaskSucceeded:
			if status.ModelURLs.GLB == "" {
				return nil, &ClassifiedError{Class: FailureProviderUnavailable, Detail: "success response without model URL"}
			}
			return status, nil
		case TaskFailed:
			detail := status.TaskError.Message
			if detail == "" {
				detail = "the engine reported no detail"
			}
			return nil, &ClassifiedError{Class: FailureGeneration, Detail: detail}
		default:
			if status.Progress != lastProgress {
				lastProgress = status.Progress
				o.status(sessionID, fmt.Sprintf("Generating model... %d%%", status.Progress))
			}
		}
	}
	return nil, &ClassifiedError{Class: FailureTimeout, Detail: fmt.Sprintf("no terminal state after %d polls", o.maxAttempts)}
}

func (o *Orchestrator) status(sessionID, text string) {
	o.rooms.Broadcast(sessionID, "processing_status", map[string]any{"step": text})
}

// classify maps any error out of execute onto the failure taxonomy. HTTP
// 401/402 from the provider are credential/credit rejections; everything else
// that is not already classified is a provider-unavailable transport error.
func classify(err error) *ClassifiedError {
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401:
			return &ClassifiedError{Class: FailureProviderRejected, Detail: "invalid credentials", Err: apiErr}
		case 402:
			return &ClassifiedError{Class: FailureProviderRejected, Detail: "out of credits, payment required", Err: apiErr}
		}
		return &ClassifiedError{Class: FailureProviderUnavailable, Detail: fmt.Sprintf("provider error HTTP %d", apiErr.StatusCode), Err: apiErr}
	}

	return &ClassifiedError{Class: FailureProviderUnavailable, Detail: "transport failure", Err: err}
}
