package assistant

import (
	"context"

	"pdfchat/internal/logger"
	"pdfchat/internal/models"
)

// Ask relays one message to the user's conversation and returns the reply.
// Failures leave the session as it was.
func (s *Service) Ask(ctx context.Context, userID int64, text string) (string, error) {
	session, chat, ok := s.sessions.Get(userID)
	if !ok {
		return "", ErrNoSession
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()
	answer, err := chat.Send(reqCtx, text)
	if err != nil {
		return "", err
	}

	s.record(ctx, session, models.RoleUser, text)
	s.record(ctx, session, models.RoleModel, answer)
	return answer, nil
}

func (s *Service) record(ctx context.Context, session *models.Session, role models.Role, content string) {
	if session.TranscriptID == 0 {
		return
	}
	_, err := s.transcript.AddMessage(ctx, models.Message{
		UserID:    session.UserID,
		SessionID: session.TranscriptID,
		Role:      role,
		Content:   content,
	})
	if err != nil {
		logger.Warnf("record %s message for user %d: %v", role, session.UserID, err)
	}
}
