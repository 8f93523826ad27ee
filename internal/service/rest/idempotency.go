package rest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/brandcatalog/internal/domain"
)

const (
	idempotencyKeyHeader      = "Idempotency-Key"
	idempotencyReplayedHeader = "Idempotency-Replayed"
	maxIdempotentBodyBytes    = 1 << 20
)

// responseRecorder дублирует тело ответа, чтобы сохранить его для повтора.
type responseRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *responseRecorder) Write(data []byte) (int, error) {
	w.body.Write(data)
	return w.ResponseWriter.Write(data)
}

func (w *responseRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// idempotent сохраняет ответ POST-запроса с заголовком Idempotency-Key и
// повторяет его на запросы с тем же ключом и телом. Без заголовка запрос
// выполняется как обычно.
func (h *Handler) idempotent() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.idempotency == nil {
			c.Next()
			return
		}
		key := strings.TrimSpace(c.GetHeader(idempotencyKeyHeader))
		if key == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxIdempotentBodyBytes))
		if err != nil {
			writeErrorMessage(c, http.StatusBadRequest, "failed to read request body")
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		entry := h.logger.WithFields(log.Fields{"idempotency_key": key, "path": c.Request.URL.Path})
		record, err := h.idempotency.CreateProcessing(key, requestHash(c.Request.Method, c.Request.URL.Path, body), time.Now().UTC().Add(h.idempotencyTTL))
		if err != nil {
			h.replay(c, entry, err, record)
			return
		}

		// Паника обработчика доходит до gin.Recovery мимо кода ниже; без этого
		// ключ остался бы в processing до истечения TTL.
		defer func() {
			if r := recover(); r != nil {
				if err := h.idempotency.MarkFailed(key, internalErrorBody(), http.StatusInternalServerError); err != nil {
					entry.WithError(err).Warn("failed to release idempotency key after panic")
				}
				entry.WithField("panic", r).Error("handler panicked, idempotency key marked failed")
				panic(r)
			}
		}()

		recorder := &responseRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder
		c.Next()

		status := recorder.Status()
		if status < http.StatusBadRequest {
			err = h.idempotency.MarkDone(key, recorder.body.Bytes(), status)
		} else {
			err = h.idempotency.MarkFailed(key, recorder.body.Bytes(), status)
		}
		if err != nil {
			entry.WithError(err).Warn("failed to store idempotent response")
		}
	}
}

func (h *Handler) replay(c *gin.Context, entry *log.Entry, createErr error, record domain.IdempotencyRecord) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		writeErrorMessage(c, http.StatusConflict, "idempotency key is already used with different request payload")
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		if record.Status == domain.IdempotencyStatusProcessing {
			writeErrorMessage(c, http.StatusConflict, "request with the same idempotency key is already processing")
			return
		}
		if !record.Finished() || record.HTTPStatus == 0 {
			entry.WithField("status", record.Status).Warn("idempotency record has no stored response")
			writeErrorMessage(c, http.StatusInternalServerError, "internal server error")
			return
		}
		c.Header(idempotencyReplayedHeader, "true")
		if len(record.ResponseBody) == 0 {
			c.AbortWithStatus(record.HTTPStatus)
			return
		}
		c.Data(record.HTTPStatus, "application/json; charset=utf-8", record.ResponseBody)
		c.Abort()
	default:
		entry.WithError(createErr).Warn("failed to create idempotency record")
		writeErrorMessage(c, http.StatusInternalServerError, "internal server error")
	}
}

func internalErrorBody() []byte {
	body, _ := json.Marshal(ErrorResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Status:    http.StatusInternalServerError,
		Error:     http.StatusText(http.StatusInternalServerError),
		Message:   "internal server error",
	})
	return body
}

func requestHash(method, path string, body []byte) string {
	sum := sha256.New()
	sum.Write([]byte(method))
	sum.Write([]byte{':'})
	sum.Write([]byte(path))
	sum.Write([]byte{':'})
	sum.Write(body)
	return hex.EncodeToString(sum.Sum(nil))
}
