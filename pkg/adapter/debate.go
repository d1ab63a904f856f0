package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/prism/pkg/model"
)

// Debate hands a finished, bias-balanced payload to the downstream debate service
type Debate interface {
	UploadPerspectives(ctx context.Context, upload *PerspectiveUpload) error
}

// PerspectiveUpload is the body of POST /upload-perspectives
type PerspectiveUpload struct {
	Common   []model.Perspective      `json:"common"`
	Leftist  []model.Perspective      `json:"leftist"`
	Rightist []model.Perspective      `json:"rightist"`
	Input    *model.GenerationRequest `json:"input,omitempty"`
}

type debateClient struct {
	baseURL string
	client  *http.Client
}

// NewDebate creates a client for the debate service at baseURL
func NewDebate(baseURL string) Debate {
	return &debateClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (d *debateClient) UploadPerspectives(ctx context.Context, upload *PerspectiveUpload) error {
	target, err := url.JoinPath(d.baseURL, "upload-perspectives")
	if err != nil {
		return goerr.Wrap(err, "failed to build debate url", goerr.V("base_url", d.baseURL))
	}

	body, err := json.Marshal(upload)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal perspective upload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return goerr.Wrap(err, "failed to create debate request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return goerr.Wrap(err, "failed to send perspectives to debate service", goerr.V("url", target))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return goerr.New("debate service returned error",
			goerr.V("url", target),
			goerr.V("status", resp.StatusCode),
			goerr.V("body", string(detail)))
	}

	return nil
}
