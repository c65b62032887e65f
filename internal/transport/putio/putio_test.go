package putio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/italolelis/attachment_transfer/internal/transfer"
	putio "github.com/putdotio/go-putio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var photo = transfer.Attachment{Bucket: "notes", Object: "42", Attribute: "photo"}

func newTestClient(serverURL string) *Client {
	goputioClient := putio.NewClient(nil)
	u, _ := url.Parse(serverURL)
	goputioClient.BaseURL = u

	return newClient(goputioClient, "")
}

// fakeAPI serves folder listings keyed by parent_id plus download URLs for files.
func fakeAPI(t *testing.T, listings map[string]string, downloads map[string]string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	var srv *httptest.Server

	mux.HandleFunc("/v2/files/list", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		body, ok := listings[r.URL.Query().Get("parent_id")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error_type":"NOT_FOUND","error_message":"not found","status_code":404}`)

			return
		}

		fmt.Fprint(w, body)
	})

	mux.HandleFunc("/v2/files/30/url", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"url":%q,"status":"OK"}`, srv.URL+"/download/30")
	})

	mux.HandleFunc("/download/", func(w http.ResponseWriter, r *http.Request) {
		content, ok := downloads[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		fmt.Fprint(w, content)
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

var standardListings = map[string]string{
	"0": `{"files":[{"id":10,"name":"attachments","size":0,"file_type":"FOLDER","content_type":"application/x-directory"}],
		"parent":{"id":0,"name":"root","file_type":"FOLDER","content_type":"application/x-directory"},"status":"OK"}`,
	"10": `{"files":[{"id":20,"name":"notes","size":0,"file_type":"FOLDER","content_type":"application/x-directory"}],
		"parent":{"id":10,"name":"attachments","file_type":"FOLDER","content_type":"application/x-directory"},"status":"OK"}`,
	"20": `{"files":[{"id":30,"name":"42.photo","size":11,"file_type":"IMAGE","content_type":"image/jpeg"}],
		"parent":{"id":20,"name":"notes","file_type":"FOLDER","content_type":"application/x-directory"},"status":"OK"}`,
}

func TestClient_Receive(t *testing.T) {
	srv := fakeAPI(t, standardListings, map[string]string{"/download/30": "binary blob"})
	client := newTestClient(srv.URL)

	body, length, err := client.Receive(context.Background(), photo)
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "binary blob", string(data))
	assert.Equal(t, int64(11), length)
}

func TestClient_ReceiveMissingAttachment(t *testing.T) {
	srv := fakeAPI(t, standardListings, nil)
	client := newTestClient(srv.URL)

	_, _, err := client.Receive(context.Background(), transfer.Attachment{Bucket: "notes", Object: "43", Attribute: "photo"})

	var te *transfer.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusNotFound, te.StatusCode)
	assert.Equal(t, transfer.Permanent, te.Kind)
}

func TestClient_ReceiveMissingBucketDoesNotCreateIt(t *testing.T) {
	srv := fakeAPI(t, standardListings, nil)
	client := newTestClient(srv.URL)

	_, _, err := client.Receive(context.Background(), transfer.Attachment{Bucket: "tasks", Object: "1", Attribute: "file"})

	var te *transfer.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "resolve_folder", te.Operation)
}

func TestClient_ReceiveDownloadUnavailable(t *testing.T) {
	srv := fakeAPI(t, standardListings, map[string]string{})
	client := newTestClient(srv.URL)

	_, _, err := client.Receive(context.Background(), photo)

	var te *transfer.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "download", te.Operation)
	assert.Equal(t, http.StatusServiceUnavailable, te.StatusCode)
	assert.True(t, transfer.IsTransient(err))
}

func TestClient_FolderIDsAreCached(t *testing.T) {
	srv := fakeAPI(t, standardListings, map[string]string{"/download/30": "binary blob"})
	client := newTestClient(srv.URL)

	id, err := client.bucketFolder(context.Background(), "notes", false)
	require.NoError(t, err)
	assert.Equal(t, int64(20), id)

	client.mu.Lock()
	defer client.mu.Unlock()

	assert.Equal(t, int64(10), client.folders["0/attachments"])
	assert.Equal(t, int64(20), client.folders["10/notes"])
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   transfer.ErrorKind
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, want: transfer.Permanent},
		{name: "payload too large", status: http.StatusRequestEntityTooLarge, want: transfer.Permanent},
		{name: "rate limited", status: http.StatusTooManyRequests, want: transfer.Transient},
		{name: "bad gateway", status: http.StatusBadGateway, want: transfer.Transient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := &putio.ErrorResponse{
				Response: &http.Response{StatusCode: tt.status},
				Message:  "api error",
			}

			err := classify("upload", fmt.Errorf("request failed: %w", apiErr))

			var te *transfer.TransportError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.want, te.Kind)
			assert.Equal(t, tt.status, te.StatusCode)
			assert.Equal(t, "api error", te.Message)
		})
	}
}

func TestClassify_NonAPIErrors(t *testing.T) {
	assert.Equal(t, context.Canceled, classify("list", context.Canceled))
	assert.Equal(t, transfer.ClassPermanent, transfer.Classify(classify("list", errors.New("boom"))))
	assert.True(t, transfer.IsTransient(classify("list", context.DeadlineExceeded)))
}
