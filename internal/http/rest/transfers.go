package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/attachment_transfer/internal/blobstore"
	"github.com/italolelis/attachment_transfer/internal/logctx"
	"github.com/italolelis/attachment_transfer/internal/storage"
	"github.com/italolelis/attachment_transfer/internal/transfer"
)

const defaultHistoryLimit = 100

// TransferManager is the part of transfer.Manager the API drives.
type TransferManager interface {
	RequestUpload(ctx context.Context, bucket, object, attribute string, data []byte) (*transfer.Handle, error)
	RequestDownload(ctx context.Context, bucket, object, attribute string, expectedLength int64) (*transfer.Handle, error)
	CancelByID(id string) bool
	Lookup(id string) (*transfer.Handle, bool)
	Active() []transfer.Info
}

// BlobReader serves attachments that were downloaded into the sink.
type BlobReader interface {
	Open(ctx context.Context, a transfer.Attachment) (io.ReadCloser, int64, error)
}

type TransferResponse struct {
	ID                string   `json:"id"`
	Bucket            string   `json:"bucket"`
	Object            string   `json:"object"`
	Attribute         string   `json:"attribute"`
	Direction         string   `json:"direction"`
	ClientID          string   `json:"client_id"`
	ExpectedLength    int64    `json:"expected_length"`
	TransferredLength int64    `json:"transferred_length"`
	State             string   `json:"state"`
	Progress          *float64 `json:"progress,omitempty"`
	Error             string   `json:"error,omitempty"`
}

type DownloadRequest struct {
	ExpectedLength int64 `json:"expected_length"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func NewTransferResponse(info transfer.Info) TransferResponse {
	resp := TransferResponse{
		ID:                info.ID,
		Bucket:            info.Key.Bucket,
		Object:            info.Key.Object,
		Attribute:         info.Key.Attribute,
		Direction:         info.Key.Direction.String(),
		ClientID:          info.ClientID,
		ExpectedLength:    info.ExpectedLength,
		TransferredLength: info.TransferredLength,
		State:             info.State.String(),
	}

	if ratio, ok := info.Ratio(); ok {
		resp.Progress = &ratio
	}

	return resp
}

type TransfersHandler struct {
	username      string
	password      string
	manager       TransferManager
	history       storage.TransferReadRepository
	blobs         BlobReader
	maxUploadSize int64
}

// NewTransfersHandler creates the admin API handler. An empty username disables basic auth.
func NewTransfersHandler(username, password string, m TransferManager, history storage.TransferReadRepository, blobs BlobReader, maxUploadSize int64) *TransfersHandler {
	return &TransfersHandler{
		username:      username,
		password:      password,
		manager:       m,
		history:       history,
		blobs:         blobs,
		maxUploadSize: maxUploadSize,
	}
}

func (h *TransfersHandler) Routes() http.Handler {
	r := chi.NewRouter()

	if h.username != "" {
		r.Use(h.basicAuthMiddleware)
	}

	r.Get("/transfers", h.HandleList)
	r.Get("/transfers/history", h.HandleHistory)
	r.Get("/transfers/{id}", h.HandleGet)
	r.Delete("/transfers/{id}", h.HandleCancel)
	r.Post("/transfers/upload/{bucket}/{object}/{attribute}", h.HandleUpload)
	r.Post("/transfers/download/{bucket}/{object}/{attribute}", h.HandleDownload)
	r.Get("/blobs/{bucket}/{object}/{attribute}", h.HandleBlob)

	return r
}

// HandleList returns the pending and in-progress transfers in request order.
func (h *TransfersHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	active := h.manager.Active()

	resp := make([]TransferResponse, 0, len(active))
	for _, info := range active {
		resp = append(resp, NewTransferResponse(info))
	}

	writeJSON(w, r, http.StatusOK, resp)
}

func (h *TransfersHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, r, http.StatusOK, []storage.TransferRecord{})

		return
	}

	q := r.URL.Query()

	filter := storage.HistoryFilter{
		Bucket: q.Get("bucket"),
		Object: q.Get("object"),
		Status: q.Get("status"),
		Limit:  defaultHistoryLimit,
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, r, http.StatusBadRequest, "limit must be a positive integer")

			return
		}

		filter.Limit = limit
	}

	records, err := h.history.GetTransfers(r.Context(), filter)
	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to query transfer history", "err", err)
		writeError(w, r, http.StatusInternalServerError, "failed to query transfer history")

		return
	}

	if records == nil {
		records = []storage.TransferRecord{}
	}

	writeJSON(w, r, http.StatusOK, records)
}

// HandleGet returns an active transfer, falling back to its history record once finished.
func (h *TransfersHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if handle, ok := h.manager.Lookup(id); ok {
		writeJSON(w, r, http.StatusOK, NewTransferResponse(handle.Info()))

		return
	}

	if h.history != nil {
		rec, err := h.history.GetTransfer(r.Context(), id)

		switch {
		case err == nil:
			writeJSON(w, r, http.StatusOK, rec)

			return
		case !errors.Is(err, storage.ErrNotFound):
			logctx.LoggerFromContext(r.Context()).Error("failed to get transfer record", "transfer_id", id, "err", err)
			writeError(w, r, http.StatusInternalServerError, "failed to get transfer")

			return
		}
	}

	writeError(w, r, http.StatusNotFound, "transfer not found")
}

func (h *TransfersHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	r = r.WithContext(logctx.With(r.Context(), "transfer_id", id))

	if !h.manager.CancelByID(id) {
		writeError(w, r, http.StatusNotFound, "transfer not found")

		return
	}

	logctx.LoggerFromContext(r.Context()).Info("transfer cancelled via api")

	w.WriteHeader(http.StatusNoContent)
}

// HandleUpload schedules an upload of the request body. With ?wait=true the response is
// sent once the transfer finished.
func (h *TransfersHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	body := r.Body
	if h.maxUploadSize > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "attachment exceeds the maximum upload size")

			return
		}

		writeError(w, r, http.StatusBadRequest, "failed to read request body")

		return
	}

	handle, err := h.manager.RequestUpload(r.Context(),
		chi.URLParam(r, "bucket"), chi.URLParam(r, "object"), chi.URLParam(r, "attribute"), data)
	if err != nil {
		writeRequestError(w, r, err)

		return
	}

	h.respondAccepted(w, r, handle)
}

func (h *TransfersHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	var req DownloadRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, "invalid request body")

		return
	}

	if req.ExpectedLength < 0 {
		writeError(w, r, http.StatusBadRequest, "expected_length must not be negative")

		return
	}

	handle, err := h.manager.RequestDownload(r.Context(),
		chi.URLParam(r, "bucket"), chi.URLParam(r, "object"), chi.URLParam(r, "attribute"), req.ExpectedLength)
	if err != nil {
		writeRequestError(w, r, err)

		return
	}

	h.respondAccepted(w, r, handle)
}

// HandleBlob streams a downloaded attachment.
func (h *TransfersHandler) HandleBlob(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, r, http.StatusNotFound, "blob not found")

		return
	}

	a := transfer.Attachment{
		Bucket:    chi.URLParam(r, "bucket"),
		Object:    chi.URLParam(r, "object"),
		Attribute: chi.URLParam(r, "attribute"),
	}

	rc, size, err := h.blobs.Open(r.Context(), a)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "blob not found")

			return
		}

		if errors.Is(err, blobstore.ErrInvalidPath) {
			writeError(w, r, http.StatusBadRequest, err.Error())

			return
		}

		logctx.LoggerFromContext(r.Context()).Error("failed to open blob", "attachment", a.String(), "err", err)
		writeError(w, r, http.StatusInternalServerError, "failed to open blob")

		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))

	if _, err := io.Copy(w, rc); err != nil {
		logctx.LoggerFromContext(r.Context()).Warn("failed to stream blob", "attachment", a.String(), "err", err)
	}
}

func (h *TransfersHandler) respondAccepted(w http.ResponseWriter, r *http.Request, handle *transfer.Handle) {
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); !wait {
		writeJSON(w, r, http.StatusAccepted, NewTransferResponse(handle.Info()))

		return
	}

	err := handle.Wait(r.Context())
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// client went away; the transfer keeps running
		return
	}

	resp := NewTransferResponse(handle.Info())
	status := http.StatusOK

	if err != nil {
		resp.Error = err.Error()
		status = statusForOutcome(err)
	}

	writeJSON(w, r, status, resp)
}

func (h *TransfersHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if username != h.username || password != h.password {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func statusForOutcome(err error) int {
	switch transfer.Classify(err) {
	case transfer.ClassCancelled:
		return http.StatusConflict
	case transfer.ClassTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func writeRequestError(w http.ResponseWriter, r *http.Request, err error) {
	var dup *transfer.DuplicateTransferError

	switch {
	case errors.As(err, &dup):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, transfer.ErrInvalidAttachment):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, transfer.ErrManagerClosed):
		writeError(w, r, http.StatusServiceUnavailable, err.Error())
	default:
		logctx.LoggerFromContext(r.Context()).Error("failed to request transfer", "err", err)
		writeError(w, r, http.StatusInternalServerError, "failed to request transfer")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}
