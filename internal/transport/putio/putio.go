// Package putio moves attachments to and from Put.io cloud storage. Each bucket is a
// folder below a root folder and each attachment a file named <object>.<attribute>.
package putio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/italolelis/attachment_transfer/internal/logctx"
	"github.com/italolelis/attachment_transfer/internal/transfer"
	"github.com/putdotio/go-putio"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

const DefaultRootDir = "attachments"

type Client struct {
	putioClient *putio.Client
	httpClient  *http.Client
	rootDir     string

	mu      sync.Mutex
	folders map[string]int64
}

func NewClient(token, rootDir string) *Client {
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	oauthClient := oauth2.NewClient(context.Background(), tokenSource)

	return newClient(putio.NewClient(oauthClient), rootDir)
}

func newClient(putioClient *putio.Client, rootDir string) *Client {
	if rootDir == "" {
		rootDir = DefaultRootDir
	}

	return &Client{
		putioClient: putioClient,
		httpClient:  &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		rootDir:     rootDir,
		folders:     make(map[string]int64),
	}
}

// Authenticate checks the token against the account endpoint.
func (c *Client) Authenticate(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	logger.InfoContext(ctx, "authenticating with Put.io")

	user, err := c.putioClient.Account.Info(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "failed to get account info", "err", err)

		return classify("authenticate", err)
	}

	logger.InfoContext(ctx, "authenticated with Put.io", "user", user.Username)

	return nil
}

func fileName(a transfer.Attachment) string {
	return a.Object + "." + a.Attribute
}

func (c *Client) Send(ctx context.Context, a transfer.Attachment, body io.Reader, size int64) error {
	logger := logctx.LoggerFromContext(ctx).With("attachment", a.String())

	dirID, err := c.bucketFolder(ctx, a.Bucket, true)
	if err != nil {
		return err
	}

	previous, err := c.findFile(ctx, dirID, fileName(a))
	if err != nil {
		return err
	}

	logger.DebugContext(ctx, "uploading attachment to Put.io", "size_bytes", size, "dir_id", dirID)

	upload, err := c.putioClient.Files.Upload(ctx, body, fileName(a), dirID)
	if err != nil {
		return classify("upload", err)
	}

	if upload.File == nil {
		return &transfer.TransportError{
			Operation: "upload",
			Kind:      transfer.Permanent,
			Message:   "Put.io did not return the uploaded file",
		}
	}

	// Put.io keeps both files on a name clash, so the older copy is removed afterwards.
	if previous != nil && previous.ID != upload.File.ID {
		if err := c.putioClient.Files.Delete(ctx, previous.ID); err != nil {
			logger.WarnContext(ctx, "failed to delete previous attachment version", "file_id", previous.ID, "err", err)
		}
	}

	logger.DebugContext(ctx, "attachment uploaded to Put.io", "file_id", upload.File.ID)

	return nil
}

func (c *Client) Receive(ctx context.Context, a transfer.Attachment) (io.ReadCloser, int64, error) {
	logger := logctx.LoggerFromContext(ctx).With("attachment", a.String())

	dirID, err := c.bucketFolder(ctx, a.Bucket, false)
	if err != nil {
		return nil, 0, err
	}

	file, err := c.findFile(ctx, dirID, fileName(a))
	if err != nil {
		return nil, 0, err
	}

	if file == nil {
		return nil, 0, notFound("receive", fileName(a))
	}

	url, err := c.putioClient.Files.URL(ctx, file.ID, false)
	if err != nil {
		logger.ErrorContext(ctx, "failed to get file download url", "file_id", file.ID, "err", err)

		return nil, 0, classify("file_url", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, transfer.AsTransportError("download", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()

		return nil, 0, &transfer.TransportError{
			Operation:  "download",
			Kind:       transfer.KindForStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    resp.Status,
		}
	}

	length := resp.ContentLength
	if length < 0 && file.Size > 0 {
		length = file.Size
	}

	return resp.Body, length, nil
}

// bucketFolder resolves the folder of a bucket, creating the root and bucket folders when asked.
func (c *Client) bucketFolder(ctx context.Context, bucket string, create bool) (int64, error) {
	rootID, err := c.folder(ctx, 0, c.rootDir, create)
	if err != nil {
		return 0, err
	}

	return c.folder(ctx, rootID, bucket, create)
}

func (c *Client) folder(ctx context.Context, parentID int64, name string, create bool) (int64, error) {
	cacheKey := fmt.Sprintf("%d/%s", parentID, name)

	c.mu.Lock()
	id, ok := c.folders[cacheKey]
	c.mu.Unlock()

	if ok {
		return id, nil
	}

	existing, err := c.findFile(ctx, parentID, name)
	if err != nil {
		return 0, err
	}

	switch {
	case existing != nil && existing.IsDir():
		id = existing.ID
	case existing != nil:
		return 0, &transfer.TransportError{
			Operation: "resolve_folder",
			Kind:      transfer.Permanent,
			Message:   fmt.Sprintf("%s is not a directory", name),
		}
	case !create:
		return 0, notFound("resolve_folder", name)
	default:
		folder, err := c.putioClient.Files.CreateFolder(ctx, name, parentID)
		if err != nil {
			return 0, classify("create_folder", err)
		}

		id = folder.ID
	}

	c.mu.Lock()
	c.folders[cacheKey] = id
	c.mu.Unlock()

	return id, nil
}

func (c *Client) findFile(ctx context.Context, parentID int64, name string) (*putio.File, error) {
	files, _, err := c.putioClient.Files.List(ctx, parentID)
	if err != nil {
		return nil, classify("list", err)
	}

	for i := range files {
		if files[i].Name == name {
			return &files[i], nil
		}
	}

	return nil, nil
}

func notFound(operation, name string) error {
	return &transfer.TransportError{
		Operation:  operation,
		Kind:       transfer.Permanent,
		StatusCode: http.StatusNotFound,
		Message:    fmt.Sprintf("%s not found", name),
	}
}

// classify converts a Put.io API error into a transfer.TransportError.
func classify(operation string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *putio.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		return &transfer.TransportError{
			Operation:  operation,
			Kind:       transfer.KindForStatus(apiErr.Response.StatusCode),
			StatusCode: apiErr.Response.StatusCode,
			Message:    apiErr.Message,
			Err:        err,
		}
	}

	return transfer.AsTransportError(operation, err)
}
