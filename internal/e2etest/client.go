package e2etest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"github.com/Art-Therapy-Chat/web-front/internal/artifact"
	"github.com/Art-Therapy-Chat/web-front/internal/errors"
	"github.com/Art-Therapy-Chat/web-front/internal/inference"
	"github.com/Art-Therapy-Chat/web-front/internal/models"
	"github.com/PuerkitoBio/goquery"
)

var ErrUnexpectedStatus = errors.NewSentinel("unexpected status code")

// APIError is a non-2xx response of the JSON API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

// Client talks to the web front like a browser does, keeping the session cookies between requests.
type Client struct {
	client *http.Client
	url    string
}

func NewClient(url string) (*Client, error) {
	jar, err := newUnsafeCookieJar()
	if err != nil {
		return nil, errors.Wrap(err, "create unsafe cookie jar")
	}
	return &Client{
		client: &http.Client{Jar: jar},
		url:    url,
	}, nil
}

// WaitForReady calls the specified endpoint until it gets a HTTP 200 Success
// response or until the context is cancelled or the 1-second timeout is reached.
func (c *Client) WaitForReady(ctx context.Context, urlPath string) error {
	timeout := 1 * time.Second
	startTime := time.Now()
	var (
		err  error
		req  *http.Request
		resp *http.Response
	)
	for {
		if req, err = c.newRequestWithContext(ctx, http.MethodGet, urlPath, nil); err != nil {
			return errors.Wrap(err, "create request")
		}

		if resp, err = c.client.Do(req); err == nil {
			if err = resp.Body.Close(); err != nil {
				return errors.Wrap(err, "close response body")
			}
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "context cancelled")
		default:
			if time.Since(startTime) >= timeout {
				return errors.New("timeout waiting for endpoint to be ready")
			}
			time.Sleep(100 * time.Millisecond) //nolint:mnd // 100ms
		}
	}
}

// newRequestWithContext creates a new HTTP request to the server that respects the given context.
func (c *Client) newRequestWithContext(
	ctx context.Context,
	method, urlPath string,
	body io.Reader,
) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url+urlPath, body)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	return req, nil
}

// Get fetches a URL and returns the response.
func (c *Client) Get(ctx context.Context, urlPath string) (*http.Response, error) {
	var (
		err  error
		req  *http.Request
		resp *http.Response
	)
	if req, err = c.newRequestWithContext(ctx, http.MethodGet, urlPath, nil); err != nil {
		return nil, errors.Wrap(err, "create request with context")
	}
	if resp, err = c.client.Do(req); err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	return resp, nil
}

// GetDoc fetches a URL and returns a goquery document.
func (c *Client) GetDoc(ctx context.Context, urlPath string) (*goquery.Document, error) {
	var (
		err  error
		resp *http.Response
	)
	if resp, err = c.Get(ctx, urlPath); err != nil {
		return nil, errors.Wrap(err, "client get")
	}
	return readDoc(resp)
}

func readDoc(resp *http.Response) (*goquery.Document, error) {
	defer func() {
		_ = resp.Body.Close()
	}()
	if http.StatusOK != resp.StatusCode {
		return nil, errors.Wrap(ErrUnexpectedStatus, "read document", slog.Int("status", resp.StatusCode))
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "create document from reader")
	}
	return doc, nil
}

// api sends a JSON request and decodes the JSON response into out. Non-2xx responses become an [*APIError].
func (c *Client) api(ctx context.Context, method, urlPath string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
		body = bytes.NewReader(payload)
	}
	req, err := c.newRequestWithContext(ctx, method, urlPath, body)
	if err != nil {
		return errors.Wrap(err, "new request with context")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

func (c *Client) snapshot(ctx context.Context, method, urlPath string, in any) (models.Snapshot, error) {
	var snapshot models.Snapshot
	if err := c.api(ctx, method, urlPath, in, &snapshot); err != nil {
		return models.Snapshot{}, err
	}
	return snapshot, nil
}

// Snapshot returns the state of the session bound to the client's cookies.
func (c *Client) Snapshot(ctx context.Context) (models.Snapshot, error) {
	return c.snapshot(ctx, http.MethodGet, "/api/session", nil)
}

// PutArtifact submits image as the sketch of category, encoded as a PNG data URL.
func (c *Client) PutArtifact(ctx context.Context, category models.Category, image []byte) (models.Snapshot, error) {
	return c.snapshot(ctx, http.MethodPut, "/api/artifacts/"+string(category), map[string]string{
		"image": artifact.EncodeDataURL("image/png", image),
	})
}

func (c *Client) DeleteArtifact(ctx context.Context, category models.Category) (models.Snapshot, error) {
	return c.snapshot(ctx, http.MethodDelete, "/api/artifacts/"+string(category), nil)
}

func (c *Client) Interpret(ctx context.Context) (models.Snapshot, error) {
	return c.snapshot(ctx, http.MethodPost, "/api/interpret", struct{}{})
}

func (c *Client) Answer(ctx context.Context, answer string) (models.Snapshot, error) {
	return c.snapshot(ctx, http.MethodPost, "/api/answers", map[string]string{"answer": answer})
}

func (c *Client) RetryFinal(ctx context.Context) (models.Snapshot, error) {
	return c.snapshot(ctx, http.MethodPost, "/api/final/retry", struct{}{})
}

func (c *Client) Reset(ctx context.Context) (models.Snapshot, error) {
	return c.snapshot(ctx, http.MethodPost, "/api/reset", struct{}{})
}

// InferenceCalls returns the most recent journaled inference calls.
func (c *Client) InferenceCalls(ctx context.Context, limit int) ([]inference.Call, error) {
	var out struct {
		Calls []inference.Call `json:"calls"`
	}
	if err := c.api(ctx, http.MethodGet, fmt.Sprintf("/api/inference-calls?limit=%d", limit), nil, &out); err != nil {
		return nil, err
	}
	return out.Calls, nil
}

func (c *Client) extractCSRFToken(doc *goquery.Document, formActionURLPath string) (string, error) {
	formSelector := fmt.Sprintf("form[action='%s']", formActionURLPath)
	form := doc.Find(formSelector)
	csrfToken, ok := form.Find("input[name=csrf_token]").Attr("value")
	if !ok {
		return "", errors.New("csrf_token not found in form", slog.String("action", formActionURLPath))
	}
	return csrfToken, nil
}

// SubmitForm submits a form at formURLPath with action formActionURLPath and returns the response document.
// With htmx set, the request is made the way htmx makes it and the response is the partial.
func (c *Client) SubmitForm(
	ctx context.Context,
	formURLPath string,
	formActionURLPath string,
	fields neturl.Values,
	htmx bool,
) (*goquery.Document, error) {
	var (
		doc *goquery.Document
		err error
	)
	if doc, err = c.GetDoc(ctx, formURLPath); err != nil {
		return nil, errors.Wrap(err, "get document")
	}

	var csrfToken string
	if csrfToken, err = c.extractCSRFToken(doc, formActionURLPath); err != nil {
		return nil, errors.Wrap(err, "extract CSRF token")
	}

	formData := neturl.Values{}
	for key, values := range fields {
		formData[key] = values
	}
	formData.Set("csrf_token", csrfToken)

	var req *http.Request
	if req, err = c.newRequestWithContext(
		ctx, http.MethodPost, formActionURLPath, strings.NewReader(formData.Encode()),
	); err != nil {
		return nil, errors.Wrap(err, "new request with context")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if htmx {
		req.Header.Set("HX-Request", "true")
	}
	var resp *http.Response
	if resp, err = c.client.Do(req); err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	return readDoc(resp)
}

// UploadArtifact uploads image through the HTML form of the front page.
func (c *Client) UploadArtifact(ctx context.Context, category models.Category, image []byte) (*goquery.Document, error) {
	doc, err := c.GetDoc(ctx, "/")
	if err != nil {
		return nil, errors.Wrap(err, "get document")
	}
	csrfToken, err := c.extractCSRFToken(doc, "/artifacts")
	if err != nil {
		return nil, errors.Wrap(err, "extract CSRF token")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err = writer.WriteField("csrf_token", csrfToken); err != nil {
		return nil, errors.Wrap(err, "write csrf field")
	}
	if err = writer.WriteField("category", string(category)); err != nil {
		return nil, errors.Wrap(err, "write category field")
	}
	part, err := writer.CreateFormFile("image", string(category)+".png")
	if err != nil {
		return nil, errors.Wrap(err, "create form file")
	}
	if _, err = part.Write(image); err != nil {
		return nil, errors.Wrap(err, "write image")
	}
	if err = writer.Close(); err != nil {
		return nil, errors.Wrap(err, "close multipart writer")
	}

	req, err := c.newRequestWithContext(ctx, http.MethodPost, "/artifacts", &body)
	if err != nil {
		return nil, errors.Wrap(err, "new request with context")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	return readDoc(resp)
}
