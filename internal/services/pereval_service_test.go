package services_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maynagashev/pereval/internal/metrics"
	"github.com/maynagashev/pereval/internal/mocks"
	"github.com/maynagashev/pereval/internal/repository"
	"github.com/maynagashev/pereval/internal/services"
	"github.com/maynagashev/pereval/models"
)

func strPtr(s string) *string { return &s }

func testDocument(email string) models.Document {
	return models.Document{
		BeautyTitle: "пер. ",
		Title:       "Пхия",
		OtherTitles: strPtr("Триев"),
		Connect:     strPtr(""),
		AddTime:     strPtr("2021-09-22 13:18:13"),
		User: models.User{
			Email: email,
			Fam:   "Пупкин",
			Name:  "Василий",
			Otc:   strPtr("Иванович"),
			Phone: "+7 555 55 55",
		},
		Coords: models.Coords{Latitude: "46.0", Longitude: "7.0", Height: "2500"},
		Level:  models.Level{Summer: strPtr("1А"), Autumn: strPtr("1А")},
		Images: models.Images{{Data: "aGVsbG8=", Title: "Седловина"}},
	}
}

func testRecord(id int64, status models.Status) *models.PerevalRecord {
	doc := testDocument("qwerty@mail.ru")
	images, _ := json.Marshal(doc.Images)
	return &models.PerevalRecord{
		ID:        id,
		DateAdded: time.Date(2024, 5, 1, 10, 20, 30, 0, time.UTC),
		RawData:   doc,
		Images:    images,
		Status:    status,
	}
}

// setupSQLiteRepo открывает настоящую SQLite во временном каталоге.
func setupSQLiteRepo(t *testing.T) repository.PerevalRepository {
	t.Helper()
	db, err := repository.NewSQLiteDB(filepath.Join(t.TempDir(), "pereval.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, repository.EnsureSchema(context.Background(), db))
	return repository.NewPerevalRepository(db)
}

// setupSQLiteService собирает сервис поверх настоящей SQLite.
func setupSQLiteService(t *testing.T) (*services.Perevals, repository.PerevalRepository) {
	t.Helper()
	repo := setupSQLiteRepo(t)
	return services.NewPerevalService(repo), repo
}

// readBarrierRepo отдает результат GetPerevalByID только после того, как
// прочитать запись успели все участники.
type readBarrierRepo struct {
	repository.PerevalRepository
	reads *sync.WaitGroup
}

func (r readBarrierRepo) GetPerevalByID(ctx context.Context, id int64) (*models.PerevalRecord, error) {
	rec, err := r.PerevalRepository.GetPerevalByID(ctx, id)
	r.reads.Done()
	r.reads.Wait()
	return rec, err
}

func TestPerevals_Submit(t *testing.T) {
	ctx := context.Background()
	doc := testDocument("qwerty@mail.ru")

	tests := []struct {
		name          string
		mockSetup     func(repo *mocks.PerevalRepository)
		expectedID    int64
		expectedError error
		result        string
	}{
		{
			name: "Успешное добавление",
			mockSetup: func(repo *mocks.PerevalRepository) {
				repo.On("CreatePereval", ctx, doc).Return(int64(5), nil).Once()
			},
			expectedID: 5,
			result:     metrics.ResultOK,
		},
		{
			name: "Дубликат",
			mockSetup: func(repo *mocks.PerevalRepository) {
				repo.On("CreatePereval", ctx, doc).Return(int64(0), repository.ErrDuplicatePereval).Once()
			},
			expectedError: services.ErrDuplicatePereval,
			result:        metrics.ResultDuplicate,
		},
		{
			name: "Ошибка БД",
			mockSetup: func(repo *mocks.PerevalRepository) {
				repo.On("CreatePereval", ctx, doc).Return(int64(0), errors.New("connection refused")).Once()
			},
			expectedError: services.ErrStorage,
			result:        metrics.ResultError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(mocks.PerevalRepository)
			tt.mockSetup(repo)
			rec := metrics.New()
			svc := services.NewPerevalService(repo, services.WithMetrics(rec))

			id, err := svc.Submit(ctx, doc)

			if tt.expectedError != nil {
				require.ErrorIs(t, err, tt.expectedError)
				assert.Zero(t, id)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expectedID, id)
			}
			assert.InDelta(t, 1, testutil.ToFloat64(rec.Submissions().WithLabelValues(tt.result)), 0)
			repo.AssertExpectations(t)
		})
	}
}

func TestPerevals_Submit_Archive(t *testing.T) {
	ctx := context.Background()
	doc := testDocument("qwerty@mail.ru")

	t.Run("Изображения отправляются в архив", func(t *testing.T) {
		repo := new(mocks.PerevalRepository)
		archive := new(mocks.ImageArchive)
		repo.On("CreatePereval", ctx, doc).Return(int64(9), nil).Once()
		archive.On("ArchiveImages", mock.Anything, int64(9), doc.Images).Return(nil).Once()

		svc := services.NewPerevalService(repo, services.WithArchive(archive))
		id, err := svc.Submit(ctx, doc)
		svc.Wait()

		require.NoError(t, err)
		assert.Equal(t, int64(9), id)
		archive.AssertExpectations(t)
	})

	t.Run("Ошибка архива не влияет на результат", func(t *testing.T) {
		repo := new(mocks.PerevalRepository)
		archive := new(mocks.ImageArchive)
		repo.On("CreatePereval", ctx, doc).Return(int64(10), nil).Once()
		archive.On("ArchiveImages", mock.Anything, int64(10), doc.Images).
			Return(errors.New("minio недоступен")).Once()

		svc := services.NewPerevalService(repo, services.WithArchive(archive))
		id, err := svc.Submit(ctx, doc)
		svc.Wait()

		require.NoError(t, err)
		assert.Equal(t, int64(10), id)
		archive.AssertExpectations(t)
	})

	t.Run("Без изображений архив не вызывается", func(t *testing.T) {
		noImages := testDocument("qwerty@mail.ru")
		noImages.Images = models.Images{}
		repo := new(mocks.PerevalRepository)
		archive := new(mocks.ImageArchive)
		repo.On("CreatePereval", ctx, noImages).Return(int64(11), nil).Once()

		svc := services.NewPerevalService(repo, services.WithArchive(archive))
		_, err := svc.Submit(ctx, noImages)
		svc.Wait()

		require.NoError(t, err)
		archive.AssertNotCalled(t, "ArchiveImages", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestPerevals_Fetch(t *testing.T) {
	ctx := context.Background()

	t.Run("Запись найдена", func(t *testing.T) {
		repo := new(mocks.PerevalRepository)
		repo.On("GetPerevalByID", ctx, int64(1)).Return(testRecord(1, models.StatusNew), nil).Once()
		svc := services.NewPerevalService(repo)

		resp, err := svc.Fetch(ctx, 1)

		require.NoError(t, err)
		assert.Equal(t, int64(1), resp.ID)
		assert.Equal(t, "2024-05-01T10:20:30", resp.DateAdded)
		assert.Equal(t, models.StatusNew, resp.Status)
		assert.Equal(t, models.Images{{Data: "aGVsbG8=", Title: "Седловина"}}, resp.Images)
		assert.Equal(t, "qwerty@mail.ru", resp.RawData.User.Email)
		repo.AssertExpectations(t)
	})

	t.Run("Запись не найдена", func(t *testing.T) {
		repo := new(mocks.PerevalRepository)
		repo.On("GetPerevalByID", ctx, int64(2)).Return(nil, repository.ErrPerevalNotFound).Once()
		svc := services.NewPerevalService(repo)

		resp, err := svc.Fetch(ctx, 2)

		require.ErrorIs(t, err, services.ErrPerevalNotFound)
		assert.Nil(t, resp)
	})

	t.Run("Ошибка БД", func(t *testing.T) {
		repo := new(mocks.PerevalRepository)
		repo.On("GetPerevalByID", ctx, int64(3)).Return(nil, errors.New("timeout")).Once()
		svc := services.NewPerevalService(repo)

		_, err := svc.Fetch(ctx, 3)

		require.ErrorIs(t, err, services.ErrStorage)
		assert.NotErrorIs(t, err, services.ErrPerevalNotFound)
	})
}

func TestPerevals_FetchByEmail(t *testing.T) {
	ctx := context.Background()

	t.Run("Пустой результат - пустой список", func(t *testing.T) {
		repo := new(mocks.PerevalRepository)
		repo.On("GetPerevalsByEmail", ctx, "unused@test.com").Return([]models.PerevalRecord{}, nil).Once()
		svc := services.NewPerevalService(repo)

		list, err := svc.FetchByEmail(ctx, "unused@test.com")

		require.NoError(t, err)
		assert.NotNil(t, list)
		assert.Empty(t, list)
	})

	t.Run("Ошибка БД", func(t *testing.T) {
		repo := new(mocks.PerevalRepository)
		repo.On("GetPerevalsByEmail", ctx, "x@y.z").Return(nil, errors.New("timeout")).Once()
		svc := services.NewPerevalService(repo)

		_, err := svc.FetchByEmail(ctx, "x@y.z")
		require.ErrorIs(t, err, services.ErrStorage)
	})
}

func TestPerevals_Update(t *testing.T) {
	ctx := context.Background()
	heightPatch := models.Patch{Coords: &models.CoordsPatch{Height: strPtr("2600")}}

	t.Run("Успешное обновление", func(t *testing.T) {
		repo := new(mocks.PerevalRepository)
		rec := metrics.New()
		current := testRecord(1, models.StatusNew)
		current.Version = 4
		repo.On("GetPerevalByID", ctx, int64(1)).Return(current, nil).Once()
		repo.On("UpdatePerevalIfNew", ctx, int64(1), int64(4), mock.MatchedBy(func(doc models.Document) bool {
			return doc.Coords == models.Coords{Latitude: "46.0", Longitude: "7.0", Height: "2600"} &&
				assert.ObjectsAreEqual(current.RawData.User, doc.User)
		})).Return(nil).Once()
		svc := services.NewPerevalService(repo, services.WithMetrics(rec))

		require.NoError(t, svc.Update(ctx, 1, heightPatch))
		assert.InDelta(t, 1, testutil.ToFloat64(rec.Updates().WithLabelValues(metrics.ResultOK)), 0)
		repo.AssertExpectations(t)
	})

	t.Run("Попытка изменить отправителя", func(t *testing.T) {
		for _, status := range []models.Status{models.StatusNew, models.StatusAccepted} {
			repo := new(mocks.PerevalRepository)
			rec := metrics.New()
			repo.On("GetPerevalByID", ctx, int64(1)).Return(testRecord(1, status), nil).Once()
			svc := services.NewPerevalService(repo, services.WithMetrics(rec))

			patch := models.Patch{User: json.RawMessage(`{"email":"other@mail.ru"}`)}
			err := svc.Update(ctx, 1, patch)

			require.ErrorIs(t, err, services.ErrSubmitterImmutable, "статус %s", status)
			repo.AssertNotCalled(t, "UpdatePerevalIfNew", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			assert.InDelta(t, 1,
				testutil.ToFloat64(rec.Updates().WithLabelValues(metrics.ResultSubmitterImmutable)), 0)
		}
	})

	t.Run("Запись не найдена", func(t *testing.T) {
		repo := new(mocks.PerevalRepository)
		repo.On("GetPerevalByID", ctx, int64(7)).Return(nil, repository.ErrPerevalNotFound).Once()
		svc := services.NewPerevalService(repo)

		require.ErrorIs(t, svc.Update(ctx, 7, heightPatch), services.ErrPerevalNotFound)
	})

	t.Run("Статус сменился до записи", func(t *testing.T) {
		repo := new(mocks.PerevalRepository)
		repo.On("GetPerevalByID", ctx, int64(1)).Return(testRecord(1, models.StatusNew), nil).Once()
		repo.On("UpdatePerevalIfNew", ctx, int64(1), int64(0), mock.Anything).
			Return(&repository.NotEditableError{ID: 1, Status: models.StatusPending}).Once()
		svc := services.NewPerevalService(repo)

		err := svc.Update(ctx, 1, heightPatch)

		var notEditable *services.NotEditableError
		require.ErrorAs(t, err, &notEditable)
		assert.Equal(t, models.StatusPending, notEditable.Status)
		assert.ErrorIs(t, err, services.ErrPerevalNotEditable)
	})

	t.Run("Запись удалена между чтением и записью", func(t *testing.T) {
		repo := new(mocks.PerevalRepository)
		repo.On("GetPerevalByID", ctx, int64(1)).Return(testRecord(1, models.StatusNew), nil).Once()
		repo.On("UpdatePerevalIfNew", ctx, int64(1), int64(0), mock.Anything).Return(repository.ErrPerevalNotFound).Once()
		svc := services.NewPerevalService(repo)

		require.ErrorIs(t, svc.Update(ctx, 1, heightPatch), services.ErrPerevalNotFound)
	})

	t.Run("Запись изменена параллельным запросом", func(t *testing.T) {
		repo := new(mocks.PerevalRepository)
		rec := metrics.New()
		repo.On("GetPerevalByID", ctx, int64(1)).Return(testRecord(1, models.StatusNew), nil).Once()
		repo.On("UpdatePerevalIfNew", ctx, int64(1), int64(0), mock.Anything).Return(repository.ErrPerevalStale).Once()
		svc := services.NewPerevalService(repo, services.WithMetrics(rec))

		err := svc.Update(ctx, 1, heightPatch)

		require.ErrorIs(t, err, services.ErrConcurrentUpdate)
		assert.NotErrorIs(t, err, services.ErrStorage)
		assert.InDelta(t, 1, testutil.ToFloat64(rec.Updates().WithLabelValues(metrics.ResultConflict)), 0)
	})

	t.Run("Ошибка БД при записи", func(t *testing.T) {
		repo := new(mocks.PerevalRepository)
		repo.On("GetPerevalByID", ctx, int64(1)).Return(testRecord(1, models.StatusNew), nil).Once()
		repo.On("UpdatePerevalIfNew", ctx, int64(1), int64(0), mock.Anything).Return(errors.New("disk full")).Once()
		svc := services.NewPerevalService(repo)

		require.ErrorIs(t, svc.Update(ctx, 1, heightPatch), services.ErrStorage)
	})
}

func TestNormalizeImages(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want models.Images
	}{
		{name: "Пустая колонка", raw: "", want: models.Images{}},
		{name: "NULL в JSON", raw: "null", want: models.Images{}},
		{name: "Список", raw: `[{"data":"a","title":"1"},{"data":"b","title":"2"}]`,
			want: models.Images{{Data: "a", Title: "1"}, {Data: "b", Title: "2"}}},
		{name: "Старый формат с обёрткой", raw: `{"images":[{"data":"a","title":"1"}]}`,
			want: models.Images{{Data: "a", Title: "1"}}},
		{name: "Некорректные элементы пропускаются",
			raw:  `[{"data":"a","title":"1"}, "строка", 42, null, {"title":"без данных"}, {"data":7}, {"data":"b"}]`,
			want: models.Images{{Data: "a", Title: "1"}, {Data: "b"}}},
		{name: "Мусор в колонке", raw: `"не список"`, want: models.Images{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, services.NormalizeImages([]byte(tt.raw)))
		})
	}
}

func TestPerevals_SQLiteScenarios(t *testing.T) {
	ctx := context.Background()

	t.Run("Отправка и получение", func(t *testing.T) {
		svc, _ := setupSQLiteService(t)
		doc := testDocument("qwerty@mail.ru")

		id, err := svc.Submit(ctx, doc)
		require.NoError(t, err)

		resp, err := svc.Fetch(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusNew, resp.Status)
		assert.Equal(t, doc.User, resp.RawData.User)
		assert.Equal(t, doc.Coords, resp.RawData.Coords)
		assert.Equal(t, doc.Title, resp.RawData.Title)
		assert.Equal(t, doc.BeautyTitle, resp.RawData.BeautyTitle)
		assert.Equal(t, doc.Images, resp.Images)
	})

	t.Run("Правка высоты сохраняет остальные координаты", func(t *testing.T) {
		svc, _ := setupSQLiteService(t)
		id, err := svc.Submit(ctx, testDocument("qwerty@mail.ru"))
		require.NoError(t, err)

		require.NoError(t, svc.Update(ctx, id, models.Patch{Coords: &models.CoordsPatch{Height: strPtr("2600")}}))

		resp, err := svc.Fetch(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.Coords{Latitude: "46.0", Longitude: "7.0", Height: "2600"}, resp.RawData.Coords)
		assert.Equal(t, testDocument("qwerty@mail.ru").User, resp.RawData.User)
	})

	t.Run("Замена изображений синхронизирует колонку", func(t *testing.T) {
		svc, _ := setupSQLiteService(t)
		id, err := svc.Submit(ctx, testDocument("qwerty@mail.ru"))
		require.NoError(t, err)

		newImages := models.Images{{Data: "bmV3", Title: "Новое"}, {Data: "bW9yZQ==", Title: "Ещё"}}
		require.NoError(t, svc.Update(ctx, id, models.Patch{Images: &newImages}))

		resp, err := svc.Fetch(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, newImages, resp.Images)
		assert.Equal(t, newImages, resp.RawData.Images)
	})

	t.Run("Отправитель не меняется", func(t *testing.T) {
		svc, _ := setupSQLiteService(t)
		doc := testDocument("qwerty@mail.ru")
		id, err := svc.Submit(ctx, doc)
		require.NoError(t, err)

		err = svc.Update(ctx, id, models.Patch{
			Title: strPtr("Новое название"),
			User:  json.RawMessage(`{"email":"hacker@mail.ru"}`),
		})
		require.ErrorIs(t, err, services.ErrSubmitterImmutable)

		resp, err := svc.Fetch(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, doc.User, resp.RawData.User)
		assert.Equal(t, doc.Title, resp.RawData.Title, "запись не должна измениться")
	})

	t.Run("Запись после модерации не редактируется", func(t *testing.T) {
		svc, repo := setupSQLiteService(t)
		doc := testDocument("qwerty@mail.ru")
		id, err := svc.Submit(ctx, doc)
		require.NoError(t, err)
		require.NoError(t, repo.SetPerevalStatus(ctx, id, models.StatusAccepted))

		err = svc.Update(ctx, id, models.Patch{Title: strPtr("Поздно")})

		var notEditable *services.NotEditableError
		require.ErrorAs(t, err, &notEditable)
		assert.Equal(t, models.StatusAccepted, notEditable.Status)

		resp, err := svc.Fetch(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, doc.Title, resp.RawData.Title)
	})

	t.Run("Поиск по email", func(t *testing.T) {
		svc, _ := setupSQLiteService(t)
		for _, email := range []string{"user1@test.com", "user1@test.com", "user2@test.com"} {
			_, err := svc.Submit(ctx, testDocument(email))
			require.NoError(t, err)
		}

		list, err := svc.FetchByEmail(ctx, "user1@test.com")
		require.NoError(t, err)
		require.Len(t, list, 2)
		for _, item := range list {
			assert.Equal(t, "user1@test.com", item.RawData.User.Email)
		}

		list, err = svc.FetchByEmail(ctx, "unused@test.com")
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestPerevals_ConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	base := setupSQLiteRepo(t)
	doc := testDocument("qwerty@mail.ru")
	id, err := base.CreatePereval(ctx, doc)
	require.NoError(t, err)

	var reads sync.WaitGroup
	reads.Add(2)
	svc := services.NewPerevalService(readBarrierRepo{PerevalRepository: base, reads: &reads})

	patches := []models.Patch{
		{Title: strPtr("A-title")},
		{Coords: &models.CoordsPatch{Height: strPtr("2600")}},
	}
	errs := make([]error, len(patches))
	var wg sync.WaitGroup
	for i, patch := range patches {
		i, patch := i, patch
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = svc.Update(ctx, id, patch)
		}()
	}
	wg.Wait()

	// Оба запроса прочитали одну версию: записать может только один
	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, services.ErrConcurrentUpdate):
			lost++
		default:
			t.Fatalf("неожиданная ошибка: %v", err)
		}
	}
	require.Equal(t, 1, won)
	require.Equal(t, 1, lost)

	rec, err := base.GetPerevalByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version)
	if errs[0] == nil {
		assert.Equal(t, "A-title", rec.RawData.Title)
		assert.Equal(t, doc.Coords, rec.RawData.Coords)
	} else {
		assert.Equal(t, doc.Title, rec.RawData.Title)
		assert.Equal(t, "2600", rec.RawData.Coords.Height)
	}

	t.Run("Повтор проигравшего применяется поверх победителя", func(t *testing.T) {
		loser := 0
		if errs[0] == nil {
			loser = 1
		}
		var again sync.WaitGroup
		again.Add(1)
		retry := services.NewPerevalService(readBarrierRepo{PerevalRepository: base, reads: &again})
		require.NoError(t, retry.Update(ctx, id, patches[loser]))

		rec, err := base.GetPerevalByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "A-title", rec.RawData.Title)
		assert.Equal(t, "2600", rec.RawData.Coords.Height)
		assert.Equal(t, int64(2), rec.Version)
	})
}
