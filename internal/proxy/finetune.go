package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
)

// UploadFile uploads data as a file with the given purpose (e.g. "fine-tune").
func (c *Client) UploadFile(ctx context.Context, filename, purpose string, data []byte) (FileObject, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("purpose", purpose); err != nil {
		return FileObject{}, fmt.Errorf("writing purpose field: %w", err)
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return FileObject{}, fmt.Errorf("creating file field: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return FileObject{}, fmt.Errorf("writing file field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return FileObject{}, fmt.Errorf("closing multipart body: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", &buf)
	if err != nil {
		return FileObject{}, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	// The upload may take longer than the default client timeout.
	hc := *c.httpClient
	hc.Timeout = 0
	resp, err := hc.Do(req)
	if err != nil {
		return FileObject{}, fmt.Errorf("uploading file: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return FileObject{}, err
	}

	var f FileObject
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		return FileObject{}, fmt.Errorf("%w: decoding file object: %v", ErrMalformedResponse, err)
	}
	if f.ID == "" {
		return FileObject{}, fmt.Errorf("%w: file object without id", ErrMalformedResponse)
	}
	return f, nil
}

// CreateFineTuneJob starts a fine-tuning job on an uploaded training file.
func (c *Client) CreateFineTuneJob(ctx context.Context, req FineTuneRequest) (FineTuneJob, error) {
	var job FineTuneJob
	if err := c.doJSON(ctx, http.MethodPost, "/fine_tuning/jobs", req, &job); err != nil {
		return FineTuneJob{}, fmt.Errorf("creating fine-tune job: %w", err)
	}
	if job.ID == "" {
		return FineTuneJob{}, fmt.Errorf("creating fine-tune job: %w: job without id", ErrMalformedResponse)
	}
	return job, nil
}

// GetFineTuneJob fetches the current state of a fine-tuning job.
func (c *Client) GetFineTuneJob(ctx context.Context, id string) (FineTuneJob, error) {
	var job FineTuneJob
	if err := c.doJSON(ctx, http.MethodGet, "/fine_tuning/jobs/"+url.PathEscape(id), nil, &job); err != nil {
		return FineTuneJob{}, fmt.Errorf("fetching fine-tune job %s: %w", id, err)
	}
	return job, nil
}

// CancelFineTuneJob asks the upstream to stop a running job.
func (c *Client) CancelFineTuneJob(ctx context.Context, id string) (FineTuneJob, error) {
	var job FineTuneJob
	if err := c.doJSON(ctx, http.MethodPost, "/fine_tuning/jobs/"+url.PathEscape(id)+"/cancel", nil, &job); err != nil {
		return FineTuneJob{}, fmt.Errorf("cancelling fine-tune job %s: %w", id, err)
	}
	return job, nil
}
