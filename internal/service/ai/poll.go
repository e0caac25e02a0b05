package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"pdfchat/internal/models"
)

// PollPolicy bounds how long WaitReady keeps asking for a processing file.
type PollPolicy struct {
	Interval    time.Duration
	MaxInterval time.Duration
	Multiplier  float64
	MaxAttempts int
	Timeout     time.Duration
}

// DefaultPollPolicy starts at the two second cadence of the remote examples and backs off from there.
var DefaultPollPolicy = PollPolicy{
	Interval:    2 * time.Second,
	MaxInterval: 10 * time.Second,
	Multiplier:  1.5,
	MaxAttempts: 60,
	Timeout:     5 * time.Minute,
}

func (p PollPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.Interval > 0 {
		b.InitialInterval = p.Interval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier >= 1 {
		b.Multiplier = p.Multiplier
	}
	b.RandomizationFactor = 0.1
	return b
}

// Options converts the policy into retry options for backoff.Retry.
func (p PollPolicy) Options() []backoff.RetryOption {
	opts := []backoff.RetryOption{backoff.WithBackOff(p.backOff())}
	if p.MaxAttempts > 0 {
		opts = append(opts, backoff.WithMaxTries(uint(p.MaxAttempts)))
	}
	if p.Timeout > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(p.Timeout))
	}
	return opts
}

// WaitReady polls the artifact until it leaves the processing state. Transient
// lookup failures are retried inside the same budget; running out of attempts
// yields ErrProcessingTimeout.
func WaitReady(ctx context.Context, remote Remote, artifact *models.Artifact, policy PollPolicy) (*models.Artifact, error) {
	if artifact == nil {
		return nil, NewError("wait for file", KindInvalidInput, fmt.Errorf("artifact is nil"))
	}
	if !artifact.Processing() {
		return checkState(artifact)
	}
	name := artifact.Name
	ready, err := backoff.Retry(ctx, func() (*models.Artifact, error) {
		current, err := remote.Artifact(ctx, name)
		if err != nil {
			if KindOf(err) != KindTransient {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if current.Processing() {
			return nil, ErrProcessingTimeout
		}
		return current, nil
	}, policy.Options()...)
	if err != nil {
		return nil, classify("wait for file", err)
	}
	return checkState(ready)
}

func checkState(artifact *models.Artifact) (*models.Artifact, error) {
	if artifact.State == models.ArtifactFailed {
		return nil, NewError("process file", KindPermanent, fmt.Errorf("%w: %s", ErrProcessingFailed, artifact.DisplayName))
	}
	return artifact, nil
}
