// Package driveapi is the concrete cloud-drive HTTP client. It implements
// remote.Transport against the real Google Drive v3 REST API: request
// construction, response normalization, and error classification into the
// sentinel errors remote.Adapter retries on.
package driveapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/tamsinhale/drivesync/internal/remote"
)

// fieldsProjection is the exact projection FileInfo needs off the wire.
const fieldsProjection = "id,name,mimeType,md5Checksum,size,modifiedTime,parents,trashed"

const listPageSize = 1000

// Client is a thin wrapper over *drive.Service satisfying remote.Transport.
// Requests are not retried here — the Remote Client Adapter (internal/remote)
// owns retry-once semantics; this package only classifies errors so the
// adapter can tell transient from permanent.
type Client struct {
	svc    *drive.Service
	logger *slog.Logger
}

// TokenSource is defined at the consumer per "accept interfaces, return
// structs" — it documents the shape a caller's token provider must have.
type TokenSource interface {
	Token() (string, error)
}

// New creates a Client. httpClient should already have an oauth2.Transport
// installed (see NewAuthenticatedHTTPClient).
func New(ctx context.Context, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	svc, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("driveapi: creating drive service: %w", err)
	}

	return &Client{svc: svc, logger: logger}, nil
}

// classify wraps err with remote.ErrTransient when it represents a
// connection-reset-class or 5xx/429 fault; otherwise it is returned as-is
// so the adapter propagates it immediately.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %s", remote.ErrTransient, err)
		case gerr.Code == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s", remote.ErrTransient, err)
		default:
			return err
		}
	}

	// Anything that isn't a classified API error (DNS failure, connection
	// reset, context deadline from the transport) is treated as transient
	// by default, since it isn't an HTTP response at all.
	return fmt.Errorf("%w: %s", remote.ErrTransient, err)
}

func toFileInfo(f *drive.File) remote.FileInfo {
	info := remote.FileInfo{
		ID:          f.Id,
		Name:        f.Name,
		MimeType:    f.MimeType,
		MD5Checksum: f.Md5Checksum,
		Parents:     append([]string(nil), f.Parents...),
		Trashed:     f.Trashed,
		HasSize:     f.Size > 0 || f.Md5Checksum != "",
		Size:        f.Size,
	}

	if t, err := parseRFC3339(f.ModifiedTime); err == nil {
		info.ModifiedTime = t
	}

	return info
}

func (c *Client) ListFolder(ctx context.Context, folderID, pageToken string) ([]remote.FileInfo, string, error) {
	call := c.svc.Files.List().
		Context(ctx).
		Q(fmt.Sprintf("'%s' in parents and trashed = false", folderID)).
		PageSize(listPageSize).
		Fields(googleapi.Field(fmt.Sprintf("nextPageToken,files(%s)", fieldsProjection))).
		Corpora("user").
		Spaces("drive")

	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	resp, err := call.Do()
	if err != nil {
		return nil, "", classify(err)
	}

	files := make([]remote.FileInfo, 0, len(resp.Files))
	for _, f := range resp.Files {
		files = append(files, toFileInfo(f))
	}

	return files, resp.NextPageToken, nil
}

func (c *Client) GetMetadata(ctx context.Context, id string) (remote.FileInfo, error) {
	f, err := c.svc.Files.Get(id).Context(ctx).Fields(googleapi.Field(fieldsProjection)).Do()
	if err != nil {
		return remote.FileInfo{}, classify(err)
	}

	return toFileInfo(f), nil
}

func (c *Client) GetContent(ctx context.Context, id string) (io.ReadCloser, error) {
	resp, err := c.svc.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return nil, classify(err)
	}

	return resp.Body, nil
}

func (c *Client) CreateFile(ctx context.Context, info remote.FileInfo, body io.Reader) (remote.FileInfo, error) {
	f := &drive.File{Name: info.Name, Parents: info.Parents, MimeType: info.MimeType}

	call := c.svc.Files.Create(f).Context(ctx).Fields(googleapi.Field(fieldsProjection))
	if body != nil {
		call = call.Media(body)
	}

	result, err := call.Do()
	if err != nil {
		return remote.FileInfo{}, classify(err)
	}

	return toFileInfo(result), nil
}

func (c *Client) UpdateFile(ctx context.Context, id string, body io.Reader) (remote.FileInfo, error) {
	result, err := c.svc.Files.Update(id, &drive.File{}).
		Context(ctx).
		Media(body).
		Fields(googleapi.Field(fieldsProjection)).
		Do()
	if err != nil {
		return remote.FileInfo{}, classify(err)
	}

	return toFileInfo(result), nil
}

func (c *Client) DeleteFile(ctx context.Context, id string) error {
	if err := c.svc.Files.Delete(id).Context(ctx).Do(); err != nil {
		return classify(err)
	}

	return nil
}

func (c *Client) ChangesStartPageToken(ctx context.Context) (string, error) {
	resp, err := c.svc.Changes.GetStartPageToken().Context(ctx).Do()
	if err != nil {
		return "", classify(err)
	}

	return resp.StartPageToken, nil
}

func (c *Client) ChangesList(ctx context.Context, pageToken string) (remote.Page, error) {
	resp, err := c.svc.Changes.List(pageToken).
		Context(ctx).
		PageSize(listPageSize).
		RestrictToMyDrive(true).
		Spaces("drive").
		Fields(googleapi.Field(fmt.Sprintf(
			"nextPageToken,newStartPageToken,changes(fileId,removed,file(%s))", fieldsProjection,
		))).
		Do()
	if err != nil {
		return remote.Page{}, classify(err)
	}

	page := remote.Page{NextPageToken: resp.NextPageToken, NewStartToken: resp.NewStartPageToken}

	for _, ch := range resp.Changes {
		change := remote.Change{FileID: ch.FileId, Removed: ch.Removed}

		if !change.Removed && ch.File != nil {
			info := toFileInfo(ch.File)
			change.File = &info
		}

		page.Changes = append(page.Changes, change)
	}

	return page, nil
}
