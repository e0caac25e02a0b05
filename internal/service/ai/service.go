package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"pdfchat/internal/models"
)

const pdfMIMEType = "application/pdf"

// Remote is the subset of the document API the bot relies on.
type Remote interface {
	Upload(ctx context.Context, path, displayName string) (*models.Artifact, error)
	Artifact(ctx context.Context, name string) (*models.Artifact, error)
	OpenChat(ctx context.Context, model string, artifact *models.Artifact, instruction string) (Chat, error)
}

// Chat is a remote multi-turn conversation.
type Chat interface {
	Send(ctx context.Context, text string) (string, error)
}

// GeminiService talks to the Gemini API through the genai SDK.
type GeminiService struct {
	client *genai.Client
}

func NewGeminiService(ctx context.Context, apiKey string) (*GeminiService, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini init: %w", err)
	}
	return &GeminiService{client: client}, nil
}

// Upload pushes a local PDF and returns the remote reference, usually still processing.
func (s *GeminiService) Upload(ctx context.Context, path, displayName string) (*models.Artifact, error) {
	file, err := s.client.Files.UploadFromPath(ctx, path, &genai.UploadFileConfig{
		DisplayName: displayName,
		MIMEType:    pdfMIMEType,
	})
	if err != nil {
		return nil, classify("upload file", err)
	}
	return toArtifact(file), nil
}

// Artifact fetches the current state of an uploaded file.
func (s *GeminiService) Artifact(ctx context.Context, name string) (*models.Artifact, error) {
	file, err := s.client.Files.Get(ctx, name, nil)
	if err != nil {
		return nil, classify("get file", err)
	}
	return toArtifact(file), nil
}

// OpenChat starts a conversation whose history holds the document and the priming instruction.
func (s *GeminiService) OpenChat(ctx context.Context, model string, artifact *models.Artifact, instruction string) (Chat, error) {
	if artifact == nil || artifact.URI == "" {
		return nil, NewError("create chat", KindInvalidInput, errors.New("artifact uri is required"))
	}
	mimeType := artifact.MIMEType
	if mimeType == "" {
		mimeType = pdfMIMEType
	}
	history := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromURI(artifact.URI, mimeType),
			genai.NewPartFromText(instruction),
		}, genai.RoleUser),
	}
	chat, err := s.client.Chats.Create(ctx, model, nil, history)
	if err != nil {
		return nil, classify("create chat", err)
	}
	return &geminiChat{chat: chat}, nil
}

type geminiChat struct {
	chat *genai.Chat
}

// Send forwards one user message and returns the reply text.
func (c *geminiChat) Send(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", NewError("send message", KindInvalidInput, ErrEmptyMessage)
	}
	resp, err := c.chat.SendMessage(ctx, genai.Part{Text: text})
	if err != nil {
		return "", classify("send message", err)
	}
	return resp.Text(), nil
}

func toArtifact(file *genai.File) *models.Artifact {
	if file == nil {
		return &models.Artifact{State: models.ArtifactUnspecified}
	}
	state := models.ArtifactState(file.State)
	if state == "" {
		state = models.ArtifactUnspecified
	}
	return &models.Artifact{
		Name:        file.Name,
		DisplayName: file.DisplayName,
		URI:         file.URI,
		MIMEType:    file.MIMEType,
		State:       state,
		ExpiresAt:   file.ExpirationTime,
	}
}
