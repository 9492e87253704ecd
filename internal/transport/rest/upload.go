package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/anteros-labs/domus/internal/domain"
)

// UploadFile is one local file headed for the attachment subsystem.
type UploadFile struct {
	Name     string
	MimeType string
	Size     int64
	Content  io.Reader
}

// UploadAttachments pushes every file to the attachment endpoint in parallel.
// The first failure cancels the remaining uploads and nothing is returned, so
// a message can never be submitted with a partial attachment set.
func (c *Client) UploadAttachments(ctx context.Context, files []UploadFile) ([]domain.Attachment, error) {
	if len(files) == 0 {
		return nil, nil
	}

	out := make([]domain.Attachment, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			att, err := c.uploadOne(gctx, f)
			if err != nil {
				return fmt.Errorf("uploading %s: %w", f.Name, err)
			}
			out[i] = *att
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) uploadOne(ctx context.Context, f UploadFile) (*domain.Attachment, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", f.Name)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f.Content); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/attachments", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, domain.ErrUnauthorized
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Code: "UNKNOWN"}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return nil, apiErr
	}

	var att domain.Attachment
	if err := json.NewDecoder(resp.Body).Decode(&att); err != nil {
		return nil, fmt.Errorf("decoding attachment response: %w", err)
	}
	return &att, nil
}
