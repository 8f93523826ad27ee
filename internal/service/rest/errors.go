package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/brandcatalog/internal/domain"
)

// ErrorResponse — тело ответа с ошибкой.
type ErrorResponse struct {
	Timestamp string `json:"timestamp"`
	Status    int    `json:"status"`
	Error     string `json:"error"`
	Message   string `json:"message"`
}

// statusFromError сопоставляет доменную ошибку HTTP-статусу.
func statusFromError(err error) int {
	switch {
	case domain.IsNotFound(err), domain.IsNoQualifyingBrand(err):
		return http.StatusNotFound
	case domain.IsInvalidInput(err):
		return http.StatusBadRequest
	case domain.IsDuplicateName(err), domain.IsDuplicateBrandCategory(err), domain.IsVersionConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError пишет ответ для ошибки сервиса. Внутренние ошибки не раскрываются клиенту.
func (h *Handler) writeError(c *gin.Context, err error) {
	status := statusFromError(err)
	entry := h.logger.WithError(err).WithField("path", c.FullPath())
	if requestID := c.GetString(requestIDKey); requestID != "" {
		entry = entry.WithField("request_id", requestID)
	}

	message := err.Error()
	switch {
	case status == http.StatusInternalServerError:
		entry.Error("request failed")
		message = "internal server error"
	case status == http.StatusConflict:
		entry.Warn("request conflicted")
	default:
		entry.Debug("request rejected")
	}

	writeErrorMessage(c, status, message)
}

func writeErrorMessage(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Status:    status,
		Error:     http.StatusText(status),
		Message:   message,
	})
}
