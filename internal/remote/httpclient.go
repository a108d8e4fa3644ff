package remote

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/NicolaiDodeac/Instant-SOP/internal/annot"
	"github.com/NicolaiDodeac/Instant-SOP/internal/draft"
)

// Client talks to the backend's REST surface. It implements Collaborator.
type Client struct {
	base  string
	token string
	http  *resty.Client
}

func NewClient(baseURL, token string) *Client {
	c := resty.New().SetTimeout(30 * time.Second)
	return &Client{base: strings.TrimRight(baseURL, "/"), token: token, http: c}
}

func (c *Client) req(ctx context.Context) *resty.Request {
	r := c.http.R().SetContext(ctx).SetHeader("Content-Type", "application/json")
	if c.token != "" {
		r.SetHeader("Authorization", "Bearer "+c.token)
	}
	return r
}

// mapStatus folds HTTP failures into the error taxonomy. 5xx and transport
// errors are transient; 404 and 403 are terminal signals the sync engine
// reacts to.
func mapStatus(op string, resp *resty.Response, err error) error {
	if err != nil {
		return &TransientError{Op: op, Err: err}
	}
	if !resp.IsError() {
		return nil
	}
	switch resp.StatusCode() {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusForbidden:
		return ErrForbidden
	}
	if resp.StatusCode() >= 500 {
		return &TransientError{Op: op, Err: fmt.Errorf("%s; body: %s", resp.Status(), resp.String())}
	}
	return fmt.Errorf("%s: %s; body: %s", op, resp.Status(), resp.String())
}

func (c *Client) GetPlaybackURL(ctx context.Context, path string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	resp, err := c.req(ctx).SetQueryParam("path", path).SetResult(&out).
		Get(c.base + "/api/videos/playback-url")
	if err := mapStatus("playback url", resp, err); err != nil {
		return "", err
	}
	return out.URL, nil
}

func (c *Client) GetUploadTarget(ctx context.Context, filename, contentType string) (UploadTarget, error) {
	var out UploadTarget
	resp, err := c.req(ctx).
		SetBody(map[string]string{"filename": filename, "contentType": contentType}).
		SetResult(&out).
		Post(c.base + "/api/videos/upload-target")
	if err := mapStatus("upload target", resp, err); err != nil {
		return UploadTarget{}, err
	}
	return out, nil
}

func (c *Client) CreateAnnotation(ctx context.Context, a annot.Annotation) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	resp, err := c.req(ctx).SetBody(a).SetResult(&out).
		Post(c.base + "/api/steps/" + a.StepID + "/annotations")
	if err := mapStatus("create annotation", resp, err); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) UpdateAnnotation(ctx context.Context, a annot.Annotation) error {
	resp, err := c.req(ctx).SetBody(a).Put(c.base + "/api/annotations/" + a.ID)
	return mapStatus("update annotation", resp, err)
}

func (c *Client) DeleteAnnotation(ctx context.Context, id string) error {
	resp, err := c.req(ctx).Delete(c.base + "/api/annotations/" + id)
	return mapStatus("delete annotation", resp, err)
}

func (c *Client) CreateStep(ctx context.Context, s draft.Step) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	resp, err := c.req(ctx).SetBody(s).SetResult(&out).
		Post(c.base + "/api/sops/" + s.SopID + "/steps")
	if err := mapStatus("create step", resp, err); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) UpdateStep(ctx context.Context, s draft.Step) error {
	resp, err := c.req(ctx).SetBody(s).Put(c.base + "/api/steps/" + s.ID)
	return mapStatus("update step", resp, err)
}

func (c *Client) UpdateSopMetadata(ctx context.Context, sopID, title, description string) error {
	resp, err := c.req(ctx).
		SetBody(map[string]string{"title": title, "description": description}).
		Put(c.base + "/api/sops/" + sopID)
	return mapStatus("update sop metadata", resp, err)
}
