package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/maynagashev/pereval/internal/logger"
	"github.com/maynagashev/pereval/models"
)

// PerevalRepository определяет методы для работы с записями о перевалах.
type PerevalRepository interface {
	CreatePereval(ctx context.Context, doc models.Document) (int64, error)
	GetPerevalByID(ctx context.Context, id int64) (*models.PerevalRecord, error)
	GetPerevalsByEmail(ctx context.Context, email string) ([]models.PerevalRecord, error)
	UpdatePerevalIfNew(ctx context.Context, id, version int64, doc models.Document) error
	SetPerevalStatus(ctx context.Context, id int64, status models.Status) error
}

// NotEditableError возвращается, когда запись существует, но её статус уже не "new".
type NotEditableError struct {
	ID     int64
	Status models.Status
}

func (e *NotEditableError) Error() string {
	return fmt.Sprintf("перевал ID %d нельзя редактировать: статус '%s'", e.ID, e.Status)
}

// Is позволяет сравнивать ошибку с ErrPerevalNotEditable через errors.Is.
func (e *NotEditableError) Is(target error) bool {
	return target == ErrPerevalNotEditable
}

// Кастомные ошибки репозитория.
var (
	ErrPerevalNotFound    = errors.New("перевал не найден")
	ErrPerevalNotEditable = errors.New("перевал нельзя редактировать")
	ErrDuplicatePereval   = errors.New("запись о перевале нарушает ограничение уникальности")
	ErrUnsupportedDriver  = errors.New("неподдерживаемый драйвер БД")
	ErrPerevalStale       = errors.New("запись изменена другим запросом")
)

// perevalQueries - запросы, переведенные в синтаксис конкретного диалекта.
type perevalQueries struct {
	insert       string
	selectByID   string
	selectByMail string
	updateIfNew  string
	selectStatus string
	setStatus    string
}

func buildPerevalQueries(d dialect) perevalQueries {
	const columns = `id, date_added, raw_data, images, status, version`
	return perevalQueries{
		insert: d.rebind(fmt.Sprintf(
			`INSERT INTO pereval_added (date_added, raw_data, images, status) VALUES (?, %s, %s, ?) RETURNING id`,
			d.jsonParam, d.jsonParam)),
		selectByID: d.rebind(`SELECT ` + columns + ` FROM pereval_added WHERE id = ?`),
		selectByMail: d.rebind(fmt.Sprintf(
			`SELECT `+columns+` FROM pereval_added WHERE %s = ? ORDER BY id`, d.emailExpr)),
		updateIfNew: d.rebind(fmt.Sprintf(
			`UPDATE pereval_added SET raw_data = %s, images = %s, version = version + 1 `+
				`WHERE id = ? AND status = ? AND version = ?`,
			d.jsonParam, d.jsonParam)),
		selectStatus: d.rebind(`SELECT status FROM pereval_added WHERE id = ?`),
		setStatus:    d.rebind(`UPDATE pereval_added SET status = ? WHERE id = ?`),
	}
}

// sqlPerevalRepository реализует PerevalRepository поверх sqlx (PostgreSQL или SQLite).
type sqlPerevalRepository struct {
	pool    func(ctx context.Context) (*sqlx.DB, error)
	queries perevalQueries
	now     func() time.Time
}

var repoLog = logger.Component("PerevalRepo")

// NewPerevalRepository создает репозиторий перевалов. Диалект SQL выбирается по имени драйвера
// пула; для nil или неизвестного драйвера используется PostgreSQL.
func NewPerevalRepository(db *sqlx.DB) PerevalRepository {
	d := postgresDialect
	if db != nil {
		if found, err := dialectFor(db.DriverName()); err == nil {
			d = found
		}
	}
	return &sqlPerevalRepository{
		pool:    func(context.Context) (*sqlx.DB, error) { return db, nil },
		queries: buildPerevalQueries(d),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// NewConnectedPerevalRepository создает репозиторий, который берет пул у Connector
// перед каждым запросом, поэтому замененный после обрыва пул подхватывается сразу.
func NewConnectedPerevalRepository(c *Connector) (PerevalRepository, error) {
	d, err := dialectFor(c.driver)
	if err != nil {
		return nil, err
	}
	return &sqlPerevalRepository{
		pool:    c.Connect,
		queries: buildPerevalQueries(d),
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (r *sqlPerevalRepository) conn(ctx context.Context) (*sqlx.DB, error) {
	db, err := r.pool(ctx)
	if err != nil {
		repoLog.Errorf("Нет соединения с БД: %v", err)
		return nil, fmt.Errorf("ошибка получения соединения с БД: %w", err)
	}
	return db, nil
}

// CreatePereval сохраняет новую запись со статусом "new" и возвращает её ID.
// Список изображений дублируется в отдельную колонку images.
func (r *sqlPerevalRepository) CreatePereval(ctx context.Context, doc models.Document) (int64, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return 0, err
	}
	var id int64
	err = db.QueryRowxContext(ctx, r.queries.insert,
		r.now(), doc, doc.Images, models.StatusNew).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			repoLog.Warnf("Запись от '%s' нарушает ограничение уникальности", doc.User.Email)
			return 0, ErrDuplicatePereval
		}
		repoLog.Errorf("Ошибка при добавлении перевала: %v", err)
		return 0, fmt.Errorf("ошибка выполнения запроса на добавление перевала: %w", err)
	}

	repoLog.Infof("Запись о перевале успешно добавлена. ID: %d", id)
	return id, nil
}

// GetPerevalByID находит запись по ID. Возвращает ErrPerevalNotFound, если записи нет.
func (r *sqlPerevalRepository) GetPerevalByID(ctx context.Context, id int64) (*models.PerevalRecord, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	var rec models.PerevalRecord
	err = db.GetContext(ctx, &rec, r.queries.selectByID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			repoLog.Debugf("Перевал с ID %d не найден", id)
			return nil, ErrPerevalNotFound
		}
		repoLog.Errorf("Ошибка при получении перевала по ID %d: %v", id, err)
		return nil, fmt.Errorf("ошибка выполнения запроса на получение перевала: %w", err)
	}
	return &rec, nil
}

// GetPerevalsByEmail возвращает все записи отправителя с указанным email в порядке ID.
// Если записей нет, возвращается пустой срез.
func (r *sqlPerevalRepository) GetPerevalsByEmail(ctx context.Context, email string) ([]models.PerevalRecord, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	recs := []models.PerevalRecord{}
	if err = db.SelectContext(ctx, &recs, r.queries.selectByMail, email); err != nil {
		repoLog.Errorf("Ошибка при получении перевалов по email %s: %v", email, err)
		return nil, fmt.Errorf("ошибка выполнения запроса на получение перевалов: %w", err)
	}
	repoLog.Debugf("Найдено %d перевалов для email %s", len(recs), email)
	return recs, nil
}

// UpdatePerevalIfNew записывает документ, только если статус записи всё ещё "new"
// и её версия совпадает с прочитанной. Проверка и запись выполняются одним UPDATE;
// при нуле затронутых строк дополнительное чтение лишь уточняет причину: записи нет,
// статус уже другой или запись успел изменить другой запрос (ErrPerevalStale).
func (r *sqlPerevalRepository) UpdatePerevalIfNew(ctx context.Context, id, version int64, doc models.Document) error {
	db, err := r.conn(ctx)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, r.queries.updateIfNew, doc, doc.Images, id, models.StatusNew, version)
	if err != nil {
		repoLog.Errorf("Ошибка при обновлении перевала ID %d: %v", id, err)
		return fmt.Errorf("ошибка выполнения запроса на обновление перевала: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка получения результата обновления перевала: %w", err)
	}
	if affected > 0 {
		repoLog.Infof("Обновление перевала ID %d успешно.", id)
		return nil
	}

	var status models.Status
	err = db.GetContext(ctx, &status, r.queries.selectStatus, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrPerevalNotFound
		}
		return fmt.Errorf("ошибка выполнения запроса на получение статуса перевала: %w", err)
	}
	if status == models.StatusNew {
		repoLog.Infof("Обновление перевала ID %d отклонено: версия %d устарела", id, version)
		return ErrPerevalStale
	}
	repoLog.Infof("Обновление перевала ID %d невозможно: статус '%s'", id, status)
	return &NotEditableError{ID: id, Status: status}
}

// SetPerevalStatus меняет статус модерации записи.
func (r *sqlPerevalRepository) SetPerevalStatus(ctx context.Context, id int64, status models.Status) error {
	if !status.Valid() {
		return fmt.Errorf("недопустимый статус '%s'", status)
	}
	db, err := r.conn(ctx)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, r.queries.setStatus, status, id)
	if err != nil {
		repoLog.Errorf("Ошибка при смене статуса перевала ID %d: %v", id, err)
		return fmt.Errorf("ошибка выполнения запроса на смену статуса: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка получения результата смены статуса: %w", err)
	}
	if affected == 0 {
		return ErrPerevalNotFound
	}
	repoLog.Infof("Статус перевала ID %d изменен на '%s'", id, status)
	return nil
}
