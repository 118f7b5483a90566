// Package ipfs uploads post attachments to an IPFS API endpoint. The upload
// is fire-and-forget glue: one multipart POST returning the content id the
// contract stores alongside the post.
package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/pkg/errors"
)

type Uploader struct {
	apiURL   string
	maxBytes int64
	client   *http.Client
}

func NewUploader(apiURL string, maxFileSizeMB int64) *Uploader {
	return &Uploader{
		apiURL:   apiURL,
		maxBytes: maxFileSizeMB << 20,
		client:   http.DefaultClient,
	}
}

// Upload posts the file content and returns its CID. Files over the size
// bound are rejected before any bytes leave the process.
func (u *Uploader) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	if u.apiURL == "" {
		return "", errors.New("no ipfs api endpoint configured")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", errors.Wrap(err, "building upload request")
	}

	n, err := io.Copy(part, io.LimitReader(r, u.maxBytes+1))
	if err != nil {
		return "", errors.Wrap(err, "reading file")
	}
	if n > u.maxBytes {
		return "", errors.Errorf("file exceeds the %d MB upload limit", u.maxBytes>>20)
	}

	if err := mw.Close(); err != nil {
		return "", errors.Wrap(err, "building upload request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.apiURL+"/api/v0/add", &body)
	if err != nil {
		return "", errors.Wrap(err, "building upload request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "uploading file")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("upload failed with status %s", resp.Status)
	}

	var result struct {
		Hash string `json:"Hash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", errors.Wrap(err, "decoding upload response")
	}
	if result.Hash == "" {
		return "", errors.New("upload response contained no content id")
	}

	return result.Hash, nil
}
