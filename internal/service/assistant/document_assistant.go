package assistant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	"pdfchat/internal/config"
	"pdfchat/internal/library"
	"pdfchat/internal/logger"
	"pdfchat/internal/models"
	"pdfchat/internal/service/ai"
)

// ErrNoSession is returned when a user talks before picking a document.
var ErrNoSession = errors.New("no active session")

const DefaultRequestTimeout = 2 * time.Minute

// DefaultUploadPolicy retries an upload a couple of times on transient failures.
var DefaultUploadPolicy = ai.PollPolicy{
	Interval:    time.Second,
	MaxInterval: 4 * time.Second,
	Multiplier:  2,
	MaxAttempts: 3,
}

type Options struct {
	Model          string
	Instruction    string
	RequestTimeout time.Duration
	Poll           ai.PollPolicy
	Upload         ai.PollPolicy
}

// Service owns the document conversations of all users.
type Service struct {
	remote     ai.Remote
	library    *library.Library
	sessions   *Registry
	artifacts  ArtifactCache
	transcript *Transcript
	opts       Options
}

// NewService builds the assistant. artifacts and transcript may be nil.
func NewService(remote ai.Remote, lib *library.Library, sessions *Registry, artifacts ArtifactCache, transcript *Transcript, opts Options) *Service {
	if opts.Model == "" {
		opts.Model = config.DefaultModel
	}
	if opts.Instruction == "" {
		opts.Instruction = config.DefaultInstruction
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Poll.MaxAttempts <= 0 && opts.Poll.Timeout <= 0 {
		opts.Poll = ai.DefaultPollPolicy
	}
	if opts.Upload.MaxAttempts <= 0 {
		opts.Upload = DefaultUploadPolicy
	}
	if sessions == nil {
		sessions = NewRegistry(0)
	}
	if artifacts == nil {
		artifacts = NewMemoryArtifactCache(DefaultArtifactTTL)
	}
	return &Service{
		remote:     remote,
		library:    lib,
		sessions:   sessions,
		artifacts:  artifacts,
		transcript: transcript,
		opts:       opts,
	}
}

// Model returns the model new conversations are opened with.
func (s *Service) Model() string {
	return s.opts.Model
}

// Library exposes the document folder.
func (s *Service) Library() *library.Library {
	return s.library
}

// SelectDocument uploads a library file, waits for the remote side to finish
// processing it and opens a conversation about it. On success the user's
// previous session, if any, is replaced; on failure it is left untouched.
func (s *Service) SelectDocument(ctx context.Context, userID, chatID int64, name string) (*models.Session, error) {
	doc, err := s.library.Open(name)
	if err != nil {
		return nil, ai.NewError("open document", ai.KindInvalidInput, err)
	}
	log := logger.WithFields(logrus.Fields{"user_id": userID, "file": doc.Name})

	artifact, err := s.prepareArtifact(ctx, doc, log)
	if err != nil {
		return nil, err
	}
	chat, err := s.remote.OpenChat(ctx, s.opts.Model, artifact, s.opts.Instruction)
	if err != nil {
		return nil, err
	}

	session := &models.Session{
		UserID:    userID,
		ChatID:    chatID,
		FileName:  doc.Name,
		Pages:     doc.Pages,
		Model:     s.opts.Model,
		Artifact:  *artifact,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.transcript.CloseSessions(ctx, userID); err != nil {
		log.Warnf("close previous transcript: %v", err)
	}
	if id, err := s.transcript.OpenSession(ctx, session); err != nil {
		log.Warnf("open transcript: %v", err)
	} else {
		session.TranscriptID = id
	}
	s.sessions.Put(session, chat)
	s.artifacts.Put(ctx, doc.Fingerprint(), artifact)
	log.Infof("session ready: %s (%d pages)", artifact.Name, doc.Pages)
	return session, nil
}

// prepareArtifact reuses a still active upload of the same file or uploads it again.
func (s *Service) prepareArtifact(ctx context.Context, doc *library.Document, log *logrus.Entry) (*models.Artifact, error) {
	key := doc.Fingerprint()
	if cached, ok := s.artifacts.Get(ctx, key); ok {
		current, err := s.remote.Artifact(ctx, cached.Name)
		if err == nil && current.State == models.ArtifactActive {
			log.Debugf("reusing upload %s", current.Name)
			return current, nil
		}
		if err != nil {
			log.Debugf("cached upload %s unusable: %v", cached.Name, err)
		}
		s.artifacts.Forget(ctx, key)
	}

	uploaded, err := backoff.Retry(ctx, func() (*models.Artifact, error) {
		artifact, err := s.remote.Upload(ctx, doc.Path, doc.Name)
		if err != nil {
			if ai.KindOf(err) != ai.KindTransient {
				return nil, backoff.Permanent(err)
			}
			log.Warnf("upload failed, retrying: %v", err)
			return nil, err
		}
		return artifact, nil
	}, s.opts.Upload.Options()...)
	if err != nil {
		return nil, err
	}
	log.Debugf("uploaded as %s (%s)", uploaded.Name, uploaded.State)

	ready, err := ai.WaitReady(ctx, s.remote, uploaded, s.opts.Poll)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", doc.Name, err)
	}
	return ready, nil
}

// Current returns the user's active session.
func (s *Service) Current(userID int64) (*models.Session, bool) {
	session, _, ok := s.sessions.Get(userID)
	return session, ok
}

// Reset drops the user's session. It reports whether one existed.
func (s *Service) Reset(ctx context.Context, userID int64) bool {
	session, ok := s.sessions.Delete(userID)
	if !ok {
		return false
	}
	if err := s.transcript.CloseSessions(ctx, userID); err != nil {
		logger.Warnf("close transcript for user %d: %v", userID, err)
	}
	logger.Debugf("user %d closed %s", userID, session.FileName)
	return true
}

// ActiveSessions counts users with an open conversation.
func (s *Service) ActiveSessions() int {
	return s.sessions.Len()
}
