package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Status - статус модерации записи о перевале.
type Status string

// Допустимые статусы модерации.
const (
	StatusNew      Status = "new"      // Запись создана и может редактироваться автором
	StatusPending  Status = "pending"  // Модератор взял запись в работу
	StatusAccepted Status = "accepted" // Модерация прошла успешно
	StatusRejected Status = "rejected" // Информация не принята
)

// Valid сообщает, относится ли статус к допустимому набору.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusPending, StatusAccepted, StatusRejected:
		return true
	default:
		return false
	}
}

// ParseStatus преобразует строку в Status, возвращая ошибку для неизвестных значений.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("неизвестный статус модерации: %q", s)
	}
	return st, nil
}

// User - данные отправителя. Задаются при создании и больше никогда не меняются.
type User struct {
	Email string  `json:"email"`
	Fam   string  `json:"fam"`
	Name  string  `json:"name"`
	Otc   *string `json:"otc,omitempty"`
	Phone string  `json:"phone"`
}

// Coords - координаты перевала. Значения хранятся строками с десятичным числом.
type Coords struct {
	Latitude  string `json:"latitude"`
	Longitude string `json:"longitude"`
	Height    string `json:"height"`
}

// Level - категория трудности по сезонам.
type Level struct {
	Winter *string `json:"winter,omitempty"`
	Summer *string `json:"summer,omitempty"`
	Autumn *string `json:"autumn,omitempty"`
	Spring *string `json:"spring,omitempty"`
}

// Image - изображение с подписью. Data - содержимое (обычно base64) или ссылка.
type Image struct {
	Data  string `json:"data"`
	Title string `json:"title"`
}

// Images - упорядоченный список изображений, хранится в отдельной JSON-колонке.
type Images []Image

// Value сериализует список изображений для записи в БД.
// Пустой список всегда записывается как [], а не NULL.
// Значение передаётся строкой: так его одинаково принимают jsonb и TEXT.
func (im Images) Value() (driver.Value, error) {
	if im == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]Image(im))
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации изображений: %w", err)
	}
	return string(b), nil
}

// Clone возвращает независимую копию списка.
func (im Images) Clone() Images {
	if im == nil {
		return nil
	}
	out := make(Images, len(im))
	copy(out, im)
	return out
}

// Document - исходные данные о перевале (колонка raw_data).
type Document struct {
	BeautyTitle string  `json:"beautyTitle"`
	Title       string  `json:"title"`
	OtherTitles *string `json:"other_titles,omitempty"`
	Connect     *string `json:"connect,omitempty"`
	AddTime     *string `json:"add_time,omitempty"`
	User        User    `json:"user"`
	Coords      Coords  `json:"coords"`
	Level       Level   `json:"level"`
	Images      Images  `json:"images"`
}

// Value сериализует документ для записи в JSON-колонку.
func (d Document) Value() (driver.Value, error) {
	if d.Images == nil {
		d.Images = Images{}
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации документа: %w", err)
	}
	return string(b), nil
}

// Scan читает документ из JSON-колонки (jsonb в PostgreSQL, TEXT в SQLite).
func (d *Document) Scan(src any) error {
	b, err := jsonBytes(src)
	if err != nil {
		return err
	}
	if b == nil {
		*d = Document{}
		return nil
	}
	var doc Document
	if err = json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("ошибка разбора документа из БД: %w", err)
	}
	*d = doc
	return nil
}

// RawJSON - необработанное содержимое JSON-колонки.
// Колонка images читается как есть: её формат нормализует сервисный слой.
type RawJSON []byte

// Scan копирует содержимое колонки, чтобы не зависеть от буфера драйвера.
func (r *RawJSON) Scan(src any) error {
	b, err := jsonBytes(src)
	if err != nil {
		return err
	}
	if b == nil {
		*r = nil
		return nil
	}
	*r = append(RawJSON(nil), b...)
	return nil
}

func jsonBytes(src any) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("неподдерживаемый тип JSON-колонки: %T", src)
	}
}

// PerevalRecord - строка таблицы pereval_added.
type PerevalRecord struct {
	ID        int64     `db:"id"`
	DateAdded time.Time `db:"date_added"`
	RawData   Document  `db:"raw_data"`
	Images    RawJSON   `db:"images"`
	Status    Status    `db:"status"`
	// Version растет на единицу при каждом редактировании.
	Version int64 `db:"version"`
}

// CoordsPatch - частичное обновление координат.
type CoordsPatch struct {
	Latitude  *string `json:"latitude,omitempty"`
	Longitude *string `json:"longitude,omitempty"`
	Height    *string `json:"height,omitempty"`
}

// LevelPatch - частичное обновление категорий трудности.
type LevelPatch struct {
	Winter *string `json:"winter,omitempty"`
	Summer *string `json:"summer,omitempty"`
	Autumn *string `json:"autumn,omitempty"`
	Spring *string `json:"spring,omitempty"`
}

// Patch - тело запроса на редактирование. Отсутствующие поля не меняются.
// User сохраняется как сырой JSON, чтобы отличить попытку изменить отправителя.
type Patch struct {
	BeautyTitle *string         `json:"beautyTitle,omitempty"`
	Title       *string         `json:"title,omitempty"`
	OtherTitles *string         `json:"other_titles,omitempty"`
	Connect     *string         `json:"connect,omitempty"`
	AddTime     *string         `json:"add_time,omitempty"`
	User        json.RawMessage `json:"user,omitempty"`
	Coords      *CoordsPatch    `json:"coords,omitempty"`
	Level       *LevelPatch     `json:"level,omitempty"`
	Images      *Images         `json:"images,omitempty"`
}

// PerevalResponse - запись о перевале в виде, отдаваемом клиенту.
type PerevalResponse struct {
	ID        int64    `json:"id"`
	DateAdded string   `json:"date_added"`
	RawData   Document `json:"raw_data"`
	Images    Images   `json:"images"`
	Status    Status   `json:"status"`
}

// DateLayout - формат date_added в ответах (ISO 8601 с точностью до секунд).
const DateLayout = "2006-01-02T15:04:05"
