package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/maynagashev/pereval/internal/logger"
	"github.com/maynagashev/pereval/internal/metrics"
	"github.com/maynagashev/pereval/internal/services"
	"github.com/maynagashev/pereval/internal/validation"
	"github.com/maynagashev/pereval/models"
)

// DefaultMaxBodyBytes ограничивает тело запроса: изображения приходят в base64.
const DefaultMaxBodyBytes = 32 << 20

// PerevalHandler обрабатывает HTTP-запросы /submitData.
type PerevalHandler struct {
	service      services.PerevalService
	validator    *validation.Validator
	metrics      *metrics.Recorder
	maxBodyBytes int64
}

// Option настраивает необязательные параметры обработчика.
type Option func(*PerevalHandler)

// WithMetrics включает учет отклоненных валидацией запросов.
func WithMetrics(m *metrics.Recorder) Option {
	return func(h *PerevalHandler) { h.metrics = m }
}

// WithMaxBodyBytes задает предельный размер тела запроса.
func WithMaxBodyBytes(n int64) Option {
	return func(h *PerevalHandler) { h.maxBodyBytes = n }
}

// NewPerevalHandler создает новый экземпляр PerevalHandler.
func NewPerevalHandler(s services.PerevalService, v *validation.Validator, opts ...Option) *PerevalHandler {
	h := &PerevalHandler{service: s, validator: v, maxBodyBytes: DefaultMaxBodyBytes}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

var handlerLog = logger.Component("PerevalHandler")

// Submit обрабатывает POST /submitData: проверяет и сохраняет новую запись.
func (h *PerevalHandler) Submit(w http.ResponseWriter, r *http.Request) {
	body, status, err := h.readValid(w, r, validation.SchemaSubmit)
	if err != nil {
		h.metrics.ObserveSubmission(metrics.ResultInvalid)
		writeJSON(w, status, models.SubmitResponse{Status: status, Message: err.Error()})
		return
	}

	var doc models.Document
	if err = json.Unmarshal(body, &doc); err != nil {
		handlerLog.Warnf("Ошибка декодирования отправки: %v", err)
		h.metrics.ObserveSubmission(metrics.ResultInvalid)
		writeJSON(w, http.StatusBadRequest, models.SubmitResponse{
			Status: http.StatusBadRequest, Message: "Неверный формат запроса",
		})
		return
	}

	id, err := h.service.Submit(r.Context(), doc)
	if err != nil {
		status, message := http.StatusInternalServerError, "Ошибка при добавлении записи в базу данных"
		if errors.Is(err, services.ErrDuplicatePereval) {
			status, message = http.StatusConflict, "Такая запись уже существует"
		} else {
			handlerLog.Errorf("Ошибка сервиса при добавлении перевала: %v", err)
		}
		writeJSON(w, status, models.SubmitResponse{Status: status, Message: message})
		return
	}

	writeJSON(w, http.StatusOK, models.SubmitResponse{
		Status: http.StatusOK, Message: "Отправлено успешно", ID: &id,
	})
}

// GetByID обрабатывает GET /submitData/{id}.
func (h *PerevalHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.DataResponse{Status: http.StatusBadRequest, Message: err.Error()})
		return
	}

	resp, err := h.service.Fetch(r.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrPerevalNotFound) {
			writeJSON(w, http.StatusNotFound, models.DataResponse{
				Status:  http.StatusNotFound,
				Message: fmt.Sprintf("Перевал с ID %d не найден.", id),
			})
			return
		}
		handlerLog.Errorf("Ошибка сервиса при получении перевала ID %d: %v", id, err)
		writeJSON(w, http.StatusInternalServerError, models.DataResponse{
			Status: http.StatusInternalServerError, Message: "Внутренняя ошибка сервера",
		})
		return
	}

	writeJSON(w, http.StatusOK, models.DataResponse{Status: http.StatusOK, Message: "Успешно получено", Data: resp})
}

// Update обрабатывает PATCH /submitData/{id}. Отказ по бизнес-правилам отдается
// как state 0 с кодом 200, отсутствующая запись - как state 0 с кодом 404,
// параллельное изменение - как state 0 с кодом 409.
func (h *PerevalHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.UpdateResponse{Message: err.Error()})
		return
	}

	body, status, err := h.readValid(w, r, validation.SchemaPatch)
	if err != nil {
		h.metrics.ObserveUpdate(metrics.ResultInvalid)
		writeJSON(w, status, models.UpdateResponse{Message: err.Error()})
		return
	}

	var patch models.Patch
	if err = json.Unmarshal(body, &patch); err != nil {
		handlerLog.Warnf("Ошибка декодирования обновления перевала ID %d: %v", id, err)
		h.metrics.ObserveUpdate(metrics.ResultInvalid)
		writeJSON(w, http.StatusBadRequest, models.UpdateResponse{Message: "Неверный формат запроса"})
		return
	}

	err = h.service.Update(r.Context(), id, patch)
	var notEditable *services.NotEditableError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, models.UpdateResponse{State: 1, Message: "Запись успешно обновлена"})
	case errors.As(err, &notEditable):
		writeJSON(w, http.StatusOK, models.UpdateResponse{
			Message: fmt.Sprintf("Редактирование невозможно: статус записи '%s'", notEditable.Status),
		})
	case errors.Is(err, services.ErrSubmitterImmutable):
		writeJSON(w, http.StatusOK, models.UpdateResponse{
			Message: "Редактирование невозможно: ФИО, почту и телефон отправителя менять нельзя",
		})
	case errors.Is(err, services.ErrPerevalNotFound):
		writeJSON(w, http.StatusNotFound, models.UpdateResponse{
			Message: fmt.Sprintf("Перевал с ID %d не найден.", id),
		})
	case errors.Is(err, services.ErrConcurrentUpdate):
		writeJSON(w, http.StatusConflict, models.UpdateResponse{
			Message: "Запись изменена другим запросом, получите её заново и повторите обновление",
		})
	default:
		handlerLog.Errorf("Ошибка сервиса при обновлении перевала ID %d: %v", id, err)
		writeJSON(w, http.StatusInternalServerError, models.UpdateResponse{Message: "Внутренняя ошибка сервера"})
	}
}

// ListByEmail обрабатывает GET /submitData?user__email=<email>.
func (h *PerevalHandler) ListByEmail(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("user__email")
	if !validation.IsEmail(email) {
		writeJSON(w, http.StatusBadRequest, models.DataResponse{
			Status: http.StatusBadRequest, Message: "Параметр user__email должен содержать корректный email",
		})
		return
	}

	list, err := h.service.FetchByEmail(r.Context(), email)
	if err != nil {
		handlerLog.Errorf("Ошибка сервиса при поиске перевалов по email %s: %v", email, err)
		writeJSON(w, http.StatusInternalServerError, models.DataResponse{
			Status: http.StatusInternalServerError, Message: "Ошибка при получении данных о перевалах.",
		})
		return
	}

	writeJSON(w, http.StatusOK, models.DataResponse{Status: http.StatusOK, Message: "Успешно получено", Data: list})
}

// readValid читает тело запроса и проверяет его по схеме. При ошибке возвращает
// HTTP-код ответа: 413 для слишком большого тела, иначе 400.
func (h *PerevalHandler) readValid(w http.ResponseWriter, r *http.Request, schemaID string) ([]byte, int, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			handlerLog.Warnf("Тело запроса превышает %d байт", tooLarge.Limit)
			//nolint:stylecheck // текст уходит клиенту
			return nil, http.StatusRequestEntityTooLarge, fmt.Errorf("Тело запроса превышает %d байт", tooLarge.Limit)
		}
		handlerLog.Warnf("Ошибка чтения тела запроса: %v", err)
		return nil, http.StatusBadRequest, errors.New("Не удалось прочитать тело запроса") //nolint:stylecheck // текст уходит клиенту
	}
	if err = h.validator.ValidateBytes(body, schemaID); err != nil {
		handlerLog.Infof("Запрос отклонен валидацией: %v", err)
		return nil, http.StatusBadRequest, err
	}
	return body, http.StatusOK, nil
}

func parseID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("Некорректный ID перевала: %q", raw) //nolint:stylecheck // текст уходит клиенту
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		handlerLog.Errorf("Ошибка кодирования ответа: %v", err)
	}
}
