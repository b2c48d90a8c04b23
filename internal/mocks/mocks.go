// Package mocks содержит testify-моки интерфейсов сервера для тестов.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/maynagashev/pereval/models"
)

// PerevalRepository - мок repository.PerevalRepository.
type PerevalRepository struct {
	mock.Mock
}

func (m *PerevalRepository) CreatePereval(ctx context.Context, doc models.Document) (int64, error) {
	args := m.Called(ctx, doc)
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return args.Get(0).(int64), args.Error(1)
}

func (m *PerevalRepository) GetPerevalByID(ctx context.Context, id int64) (*models.PerevalRecord, error) {
	args := m.Called(ctx, id)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return ret.(*models.PerevalRecord), args.Error(1)
}

func (m *PerevalRepository) GetPerevalsByEmail(ctx context.Context, email string) ([]models.PerevalRecord, error) {
	args := m.Called(ctx, email)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return ret.([]models.PerevalRecord), args.Error(1)
}

func (m *PerevalRepository) UpdatePerevalIfNew(ctx context.Context, id, version int64, doc models.Document) error {
	return m.Called(ctx, id, version, doc).Error(0)
}

func (m *PerevalRepository) SetPerevalStatus(ctx context.Context, id int64, status models.Status) error {
	return m.Called(ctx, id, status).Error(0)
}

// PerevalService - мок services.PerevalService.
type PerevalService struct {
	mock.Mock
}

func (m *PerevalService) Submit(ctx context.Context, doc models.Document) (int64, error) {
	args := m.Called(ctx, doc)
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return args.Get(0).(int64), args.Error(1)
}

func (m *PerevalService) Fetch(ctx context.Context, id int64) (*models.PerevalResponse, error) {
	args := m.Called(ctx, id)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return ret.(*models.PerevalResponse), args.Error(1)
}

func (m *PerevalService) FetchByEmail(ctx context.Context, email string) ([]models.PerevalResponse, error) {
	args := m.Called(ctx, email)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return ret.([]models.PerevalResponse), args.Error(1)
}

func (m *PerevalService) Update(ctx context.Context, id int64, patch models.Patch) error {
	return m.Called(ctx, id, patch).Error(0)
}

// ImageArchive - мок storage.ImageArchive.
type ImageArchive struct {
	mock.Mock
}

func (m *ImageArchive) ArchiveImages(ctx context.Context, perevalID int64, images models.Images) error {
	return m.Called(ctx, perevalID, images).Error(0)
}
