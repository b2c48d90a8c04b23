package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/maynagashev/pereval/internal/logger"
	"github.com/maynagashev/pereval/internal/merge"
	"github.com/maynagashev/pereval/internal/metrics"
	"github.com/maynagashev/pereval/internal/repository"
	"github.com/maynagashev/pereval/internal/storage"
	"github.com/maynagashev/pereval/models"
)

// PerevalService определяет операции над записями о перевалах.
type PerevalService interface {
	Submit(ctx context.Context, doc models.Document) (int64, error)
	Fetch(ctx context.Context, id int64) (*models.PerevalResponse, error)
	FetchByEmail(ctx context.Context, email string) ([]models.PerevalResponse, error)
	Update(ctx context.Context, id int64, patch models.Patch) error
}

// NotEditableError - запись существует, но её статус уже не "new".
type NotEditableError = repository.NotEditableError

// Кастомные ошибки сервиса.
var (
	ErrPerevalNotFound    = errors.New("перевал не найден")
	ErrDuplicatePereval   = errors.New("такая запись о перевале уже существует")
	ErrSubmitterImmutable = errors.New("данные отправителя нельзя изменить")
	ErrPerevalNotEditable = repository.ErrPerevalNotEditable
	ErrStorage            = errors.New("ошибка хранилища данных")
	ErrConcurrentUpdate   = errors.New("запись изменена другим запросом, повторите обновление")
)

// archiveTimeout ограничивает фоновую выгрузку изображений одной записи.
const archiveTimeout = 2 * time.Minute

var _ PerevalService = (*Perevals)(nil)

// Perevals реализует PerevalService.
type Perevals struct {
	repo    repository.PerevalRepository
	archive storage.ImageArchive
	metrics *metrics.Recorder
	wg      sync.WaitGroup
}

// Option настраивает необязательные зависимости сервиса.
type Option func(*Perevals)

// WithArchive включает фоновое копирование изображений в архив.
func WithArchive(a storage.ImageArchive) Option {
	return func(s *Perevals) { s.archive = a }
}

// WithMetrics включает учет исходов операций в Prometheus.
func WithMetrics(m *metrics.Recorder) Option {
	return func(s *Perevals) { s.metrics = m }
}

var serviceLog = logger.Component("PerevalService")

// NewPerevalService создает сервис поверх репозитория перевалов.
func NewPerevalService(repo repository.PerevalRepository, opts ...Option) *Perevals {
	s := &Perevals{repo: repo}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Wait дожидается завершения фоновой архивации изображений.
func (s *Perevals) Wait() {
	s.wg.Wait()
}

// Submit сохраняет новую запись со статусом "new" и возвращает её ID.
func (s *Perevals) Submit(ctx context.Context, doc models.Document) (int64, error) {
	id, err := s.repo.CreatePereval(ctx, doc)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicatePereval) {
			s.metrics.ObserveSubmission(metrics.ResultDuplicate)
			return 0, ErrDuplicatePereval
		}
		serviceLog.Errorf("Ошибка репозитория при добавлении перевала: %v", err)
		s.metrics.ObserveSubmission(metrics.ResultError)
		return 0, errors.Join(ErrStorage, err)
	}

	s.metrics.ObserveSubmission(metrics.ResultOK)
	serviceLog.Infof("Перевал ID %d добавлен отправителем %s", id, doc.User.Email)
	s.archiveImages(ctx, id, doc.Images)
	return id, nil
}

// archiveImages копирует изображения в архив в фоне. Источником истины остается БД,
// поэтому ошибка архива только логируется.
func (s *Perevals) archiveImages(ctx context.Context, id int64, images models.Images) {
	if s.archive == nil || len(images) == 0 {
		return
	}
	images = images.Clone()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
		defer cancel()
		if err := s.archive.ArchiveImages(actx, id, images); err != nil {
			serviceLog.Warnf("Изображения перевала ID %d не заархивированы: %v", id, err)
		}
	}()
}

// Fetch возвращает запись по ID в виде для клиента.
func (s *Perevals) Fetch(ctx context.Context, id int64) (*models.PerevalResponse, error) {
	rec, err := s.repo.GetPerevalByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrPerevalNotFound) {
			return nil, ErrPerevalNotFound
		}
		serviceLog.Errorf("Ошибка репозитория при получении перевала ID %d: %v", id, err)
		return nil, errors.Join(ErrStorage, err)
	}
	resp := toResponse(*rec)
	return &resp, nil
}

// FetchByEmail возвращает все записи отправителя. Если записей нет, список пустой.
func (s *Perevals) FetchByEmail(ctx context.Context, email string) ([]models.PerevalResponse, error) {
	recs, err := s.repo.GetPerevalsByEmail(ctx, email)
	if err != nil {
		serviceLog.Errorf("Ошибка репозитория при поиске перевалов по email %s: %v", email, err)
		return nil, errors.Join(ErrStorage, err)
	}
	out := make([]models.PerevalResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toResponse(rec))
	}
	return out, nil
}

// Update редактирует запись, пока её статус "new". Попытка изменить отправителя
// отклоняется до записи при любом статусе. Если между чтением и записью документ
// изменил другой запрос, возвращается ErrConcurrentUpdate и ничего не пишется.
func (s *Perevals) Update(ctx context.Context, id int64, patch models.Patch) error {
	err := s.update(ctx, id, patch)
	s.metrics.ObserveUpdate(updateResult(err))
	return err
}

func (s *Perevals) update(ctx context.Context, id int64, patch models.Patch) error {
	rec, err := s.repo.GetPerevalByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrPerevalNotFound) {
			return ErrPerevalNotFound
		}
		serviceLog.Errorf("Ошибка репозитория при чтении перевала ID %d: %v", id, err)
		return errors.Join(ErrStorage, err)
	}

	if merge.HasSubmitter(patch) {
		serviceLog.Warnf("Отклонена попытка изменить отправителя перевала ID %d", id)
		return ErrSubmitterImmutable
	}

	merged := merge.Apply(rec.RawData, patch)
	err = s.repo.UpdatePerevalIfNew(ctx, id, rec.Version, merged)
	if err == nil {
		return nil
	}

	var notEditable *NotEditableError
	switch {
	case errors.As(err, &notEditable):
		return notEditable
	case errors.Is(err, repository.ErrPerevalNotFound):
		return ErrPerevalNotFound
	case errors.Is(err, repository.ErrPerevalStale):
		serviceLog.Warnf("Перевал ID %d изменён параллельным запросом, обновление отклонено", id)
		return ErrConcurrentUpdate
	default:
		serviceLog.Errorf("Ошибка репозитория при обновлении перевала ID %d: %v", id, err)
		return errors.Join(ErrStorage, err)
	}
}

func updateResult(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, ErrPerevalNotFound):
		return metrics.ResultNotFound
	case errors.Is(err, ErrSubmitterImmutable):
		return metrics.ResultSubmitterImmutable
	case errors.Is(err, ErrPerevalNotEditable):
		return metrics.ResultNotEditable
	case errors.Is(err, ErrConcurrentUpdate):
		return metrics.ResultConflict
	default:
		return metrics.ResultError
	}
}

func toResponse(rec models.PerevalRecord) models.PerevalResponse {
	doc := rec.RawData
	if doc.Images == nil {
		doc.Images = models.Images{}
	}
	return models.PerevalResponse{
		ID:        rec.ID,
		DateAdded: rec.DateAdded.UTC().Format(models.DateLayout),
		RawData:   doc,
		Images:    NormalizeImages(rec.Images),
		Status:    rec.Status,
	}
}

// NormalizeImages приводит содержимое колонки images к списку {data, title}.
// Поддерживаются список и старый формат {"images": [...]}. Элементы, которые не
// являются объектом со строковым data, пропускаются; отсутствующий title - пустая строка.
func NormalizeImages(raw []byte) models.Images {
	out := models.Images{}
	if len(raw) == 0 {
		return out
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		var legacy struct {
			Images []json.RawMessage `json:"images"`
		}
		if err = json.Unmarshal(raw, &legacy); err != nil {
			serviceLog.Warnf("Не удалось разобрать список изображений: %v", err)
			return out
		}
		entries = legacy.Images
	}

	for _, entry := range entries {
		var img struct {
			Data  *string `json:"data"`
			Title *string `json:"title"`
		}
		if err := json.Unmarshal(entry, &img); err != nil || img.Data == nil {
			continue
		}
		item := models.Image{Data: *img.Data}
		if img.Title != nil {
			item.Title = *img.Title
		}
		out = append(out, item)
	}
	return out
}
