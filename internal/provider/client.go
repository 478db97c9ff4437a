// Package provider is the reference provider: it runs a local UCI engine,
// long-polls the broker for work on its provider secret, and streams the
// engine's analysis back.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/AltairaLabs/engine-broker/internal/model"
)

// acquiredJob is the broker's acquire response.
type acquiredJob struct {
	ID           model.JobID `json:"id"`
	ProviderData string      `json:"providerData,omitempty"`
	Work         AnalyseWork `json:"work"`
}

// Client polls one broker with one provider secret and feeds one engine.
type Client struct {
	brokerURL string
	secret    string
	engine    *Engine
	http      *http.Client
	logger    *slog.Logger
	backoff   Backoff
}

// NewClient builds a provider client. The http client must not have a
// global timeout: acquire long-polls and submit streams indefinitely.
func NewClient(brokerURL, secret string, engine *Engine, logger *slog.Logger) *Client {
	return &Client{
		brokerURL: brokerURL,
		secret:    secret,
		engine:    engine,
		http:      &http.Client{},
		logger:    logger,
		backoff:   DefaultBackoff(),
	}
}

// Run polls for work until ctx is cancelled. Network errors back off
// exponentially; a successful poll resets the schedule.
func (c *Client) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		job, err := c.acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			delay := c.backoff.Next()
			c.logger.Error("Error while trying to acquire work", "error", err, "retry_in", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		c.backoff.Reset()
		if job == nil {
			continue
		}

		c.logger.Info("Handling job", "job_id", job.ID, "engine_id", job.Work.EngineID)
		if err := c.handle(ctx, job); err != nil && ctx.Err() == nil {
			c.logger.Info("Connection closed while streaming analysis", "job_id", job.ID, "error", err)
		}
	}
}

// acquire long-polls the broker once. Returns nil without error when no
// work arrived before the broker's deadline.
func (c *Client) acquire(ctx context.Context) (*acquiredJob, error) {
	body, err := json.Marshal(map[string]string{"providerSecret": c.secret})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.brokerURL+"/api/external-engine/work", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, nil
	case http.StatusOK:
		var job acquiredJob
		if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
			return nil, fmt.Errorf("decode acquire response: %w", err)
		}
		return &job, nil
	default:
		return nil, fmt.Errorf("acquire: unexpected status %d", resp.StatusCode)
	}
}

// handle runs the analysis and uploads the output stream for one job.
func (c *Client) handle(ctx context.Context, job *acquiredJob) error {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.engine.Analyse(jobCtx, job.Work)
	if err != nil {
		return fmt.Errorf("start analysis: %w", err)
	}
	defer stream.Close()

	req, err := http.NewRequestWithContext(jobCtx, http.MethodPost, c.brokerURL+"/api/external-engine/work/"+string(job.ID), stream)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("submit: unexpected status %d", resp.StatusCode)
	}
	return nil
}
