// Package media handles attachment processing: audio transcription,
// document indexing for file search, and image generation. Providers
// are opaque operations; a failure in one attachment degrades to an
// inline error marker instead of failing the whole message.
package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aidalabs/aida/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// Transcriber converts an audio attachment to text.
type Transcriber interface {
	Transcribe(ctx context.Context, att models.Attachment) (string, error)
}

// DocumentStore uploads documents and maintains searchable indexes.
type DocumentStore interface {
	Upload(ctx context.Context, name string, data []byte) (string, error)
	CreateIndex(ctx context.Context, name string, fileIDs []string) (string, error)
	AddToIndex(ctx context.Context, indexID string, fileIDs []string) error
}

// ImageGenerator renders an image from a prompt.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

// Downloader fetches platform-hosted files. Slack private URLs need the
// bot credential as a bearer token.
type Downloader struct {
	token      string
	httpClient *http.Client
}

// NewDownloader creates a downloader authenticated with the platform
// bot token.
func NewDownloader(token string) *Downloader {
	return &Downloader{token: token, httpClient: &http.Client{Timeout: 60 * time.Second}}
}

// Fetch downloads a file.
func (d *Downloader) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download: HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Provider implements the media operations on the OpenAI API: Whisper
// for transcription, the files/vector-store API for documents, and
// DALL·E for generation.
type Provider struct {
	client     *openai.Client
	downloader *Downloader
}

// NewProvider creates a media provider.
func NewProvider(client *openai.Client, downloader *Downloader) *Provider {
	return &Provider{client: client, downloader: downloader}
}

// Transcribe downloads the audio attachment and runs Whisper over it.
// Transcription is forced to Portuguese, the operating locale.
func (p *Provider) Transcribe(ctx context.Context, att models.Attachment) (string, error) {
	data, err := p.downloader.Fetch(ctx, att.URL)
	if err != nil {
		return "", fmt.Errorf("transcribe %s: %w", att.Name, err)
	}

	resp, err := p.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		Reader:   bytes.NewReader(data),
		FilePath: att.Name,
		Language: "pt",
		Format:   openai.AudioResponseFormatText,
	})
	if err != nil {
		return "", fmt.Errorf("transcribe %s: %w", att.Name, err)
	}
	return resp.Text, nil
}

// Upload pushes a document to the provider for later indexing.
func (p *Provider) Upload(ctx context.Context, name string, data []byte) (string, error) {
	file, err := p.client.CreateFileBytes(ctx, openai.FileBytesRequest{
		Name:    name,
		Bytes:   data,
		Purpose: openai.PurposeAssistants,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	return file.ID, nil
}

// CreateIndex builds a new searchable index over the files.
func (p *Provider) CreateIndex(ctx context.Context, name string, fileIDs []string) (string, error) {
	store, err := p.client.CreateVectorStore(ctx, openai.VectorStoreRequest{
		Name:    name,
		FileIDs: fileIDs,
	})
	if err != nil {
		return "", fmt.Errorf("create index: %w", err)
	}
	return store.ID, nil
}

// AddToIndex attaches more files to an existing index.
func (p *Provider) AddToIndex(ctx context.Context, indexID string, fileIDs []string) error {
	for _, fileID := range fileIDs {
		_, err := p.client.CreateVectorStoreFile(ctx, indexID, openai.VectorStoreFileRequest{FileID: fileID})
		if err != nil {
			return fmt.Errorf("add file %s to index: %w", fileID, err)
		}
	}
	return nil
}

// Generate renders an image with DALL·E 3 and returns the raw bytes.
func (p *Provider) Generate(ctx context.Context, prompt string) ([]byte, error) {
	resp, err := p.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          openai.CreateImageModelDallE3,
		Size:           openai.CreateImageSize1024x1024,
		Quality:        openai.CreateImageQualityStandard,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
		N:              1,
	})
	if err != nil {
		return nil, fmt.Errorf("generate image: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("generate image: empty response")
	}
	return base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
}
