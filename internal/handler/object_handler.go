package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"orbitdrive/internal/auth"
	"orbitdrive/internal/domain"
	"orbitdrive/internal/service"
	"orbitdrive/internal/service/s3"
)

// ObjectStore — клиент хранилища, выдающий временные ссылки.
// Байты объектов через сервис не проходят.
type ObjectStore interface {
	PresignUpload(ctx context.Context, key string, expires time.Duration) (string, error)
	PresignDownload(ctx context.Context, key string, expires time.Duration) (string, error)
	HeadObject(ctx context.Context, key string) (*s3.ObjectInfo, error)
}

type ObjectHandler struct {
	ledger  *service.LedgerService
	storage ObjectStore
}

func NewObjectHandler(ledger *service.LedgerService, storage ObjectStore) *ObjectHandler {
	return &ObjectHandler{
		ledger:  ledger,
		storage: storage,
	}
}

// Reserve берет бронь под загрузку и выдает временную ссылку на неё.
// Если ключ не передан, генерируем новый в пространстве пользователя.
func (h *ObjectHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Key               string `json:"key,omitempty"`
		ExpectedSizeBytes int64  `json:"expected_size_bytes"`
		TTLSeconds        int64  `json:"ttl_seconds,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Key == "" {
		req.Key = fmt.Sprintf("%s/%s", userID, uuid.NewString())
	}

	result, err := h.ledger.Reserve(r.Context(), userID, req.Key, req.ExpectedSizeBytes, req.TTLSeconds)
	if err != nil {
		writeError(w, err)
		return
	}

	uploadURL, err := h.storage.PresignUpload(r.Context(), req.Key, time.Until(result.ExpiresAt))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Key       string `json:"key"`
		UploadURL string `json:"upload_url"`
		*service.ReserveResult
	}{
		Key:           req.Key,
		UploadURL:     uploadURL,
		ReserveResult: result,
	})
}

// Confirm фиксирует завершенную загрузку. Если размер не передан,
// спрашиваем хранилище о фактических размере и etag.
func (h *ObjectHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Key       string `json:"key"`
		SizeBytes *int64 `json:"size_bytes,omitempty"`
		ETag      string `json:"etag,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Key == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return
	}

	sizeBytes := int64(0)
	etag := req.ETag
	if req.SizeBytes != nil {
		sizeBytes = *req.SizeBytes
	} else {
		info, err := h.storage.HeadObject(r.Context(), req.Key)
		if err != nil {
			writeError(w, err)
			return
		}
		sizeBytes = info.SizeBytes
		if etag == "" {
			etag = info.ETag
		}
	}

	result, err := h.ledger.Confirm(r.Context(), userID, req.Key, sizeBytes, etag)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Upsert — прямая запись в обход брони для мелких доверенных загрузок
func (h *ObjectHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Key       string `json:"key"`
		SizeBytes int64  `json:"size_bytes"`
		ETag      string `json:"etag,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.ledger.Upsert(r.Context(), userID, req.Key, req.SizeBytes, req.ETag)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *ObjectHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Keys []string `json:"keys"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.ledger.Cancel(r.Context(), userID, req.Keys); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *ObjectHandler) DeleteKeys(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Keys []string `json:"keys"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	usage, err := h.ledger.DeleteKeys(r.Context(), userID, req.Keys)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Usage domain.Usage `json:"usage"`
	}{Usage: usage})
}

func (h *ObjectHandler) DeletePrefix(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Prefix string `json:"prefix"`
		Limit  int    `json:"limit,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.ledger.DeletePrefix(r.Context(), userID, req.Prefix, req.Limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *ObjectHandler) ListByPrefix(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	prefix := r.URL.Query().Get("prefix")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	keys, err := h.ledger.ListActiveByPrefix(r.Context(), userID, prefix, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Keys []string `json:"keys"`
	}{Keys: keys})
}

func (h *ObjectHandler) GetActiveSize(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	key := r.URL.Query().Get("key")

	size, err := h.ledger.GetActiveSize(r.Context(), userID, key)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Key       string `json:"key"`
		SizeBytes int64  `json:"size_bytes"`
	}{Key: key, SizeBytes: size})
}

// Download выдает временную ссылку на скачивание активного объекта
func (h *ObjectHandler) Download(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	key := r.URL.Query().Get("key")

	// Проверяем существование, а не размер: пустой объект тоже скачиваемый
	exists, err := h.ledger.HasActive(r.Context(), userID, key)
	if err != nil {
		writeError(w, err)
		return
	}
	if !exists {
		http.Error(w, "object not found", http.StatusNotFound)
		return
	}

	downloadURL, err := h.storage.PresignDownload(r.Context(), key, 15*time.Minute)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Key         string `json:"key"`
		DownloadURL string `json:"download_url"`
	}{Key: key, DownloadURL: downloadURL})
}
