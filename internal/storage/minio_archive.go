package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/maynagashev/pereval/internal/logger"
	"github.com/maynagashev/pereval/models"
)

// ImageArchive сохраняет копии изображений перевала во внешнем хранилище.
type ImageArchive interface {
	ArchiveImages(ctx context.Context, perevalID int64, images models.Images) error
}

// objectPutter - часть клиента MinIO, нужная архиву.
type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64,
		opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinioArchive реализует ImageArchive для MinIO.
type MinioArchive struct {
	client     objectPutter
	bucketName string
	newKey     func(perevalID int64) string
}

var _ ImageArchive = (*MinioArchive)(nil)

// MinioConfig содержит параметры для подключения к MinIO.
type MinioConfig struct {
	Endpoint        string // Адрес MinIO (например, "localhost:9000")
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	BucketName      string
	Region          string
}

var minioLog = logger.Component("Minio")

// NewMinioArchive создает клиент MinIO и при необходимости бакет.
func NewMinioArchive(ctx context.Context, cfg MinioConfig) (*MinioArchive, error) {
	minioLog.Infof("Инициализация клиента MinIO для эндпоинта %s...", cfg.Endpoint)

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации клиента MinIO: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("ошибка проверки существования бакета '%s': %w", cfg.BucketName, err)
	}
	if !exists {
		minioLog.Infof("Бакет '%s' не найден, попытка создания...", cfg.BucketName)
		err = client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{Region: cfg.Region})
		if err != nil {
			return nil, fmt.Errorf("ошибка создания бакета '%s': %w", cfg.BucketName, err)
		}
	}

	minioLog.Infof("Клиент MinIO успешно инициализирован для бакета '%s'.", cfg.BucketName)
	return newMinioArchive(client, cfg.BucketName), nil
}

func newMinioArchive(client objectPutter, bucket string) *MinioArchive {
	return &MinioArchive{client: client, bucketName: bucket, newKey: ObjectKey}
}

// ObjectKey возвращает ключ нового объекта: perevals/<id>/<uuid>.
func ObjectKey(perevalID int64) string {
	return "perevals/" + strconv.FormatInt(perevalID, 10) + "/" + uuid.NewString()
}

// ArchiveImages загружает каждое изображение отдельным объектом.
// Ошибки отдельных загрузок не прерывают остальные и возвращаются вместе.
func (a *MinioArchive) ArchiveImages(ctx context.Context, perevalID int64, images models.Images) error {
	var errs []error
	for i, img := range images {
		payload := DecodePayload(img.Data)
		key := a.newKey(perevalID)
		opts := minio.PutObjectOptions{
			ContentType: http.DetectContentType(payload),
			UserMetadata: map[string]string{
				"pereval-id": strconv.FormatInt(perevalID, 10),
				"position":   strconv.Itoa(i),
				// Заголовки S3 допускают только ASCII
				"caption": url.QueryEscape(img.Title),
			},
		}
		info, err := a.client.PutObject(ctx, a.bucketName, key, bytes.NewReader(payload), int64(len(payload)), opts)
		if err != nil {
			minioLog.Warnf("Ошибка загрузки изображения %d перевала %d: %v", i, perevalID, err)
			errs = append(errs, fmt.Errorf("изображение %d: %w", i, err))
			continue
		}
		minioLog.Debugf("Изображение '%s' загружено, размер: %d, ETag: %s", key, info.Size, info.ETag)
	}
	if len(errs) > 0 {
		return fmt.Errorf("ошибка архивации изображений перевала %d: %w", perevalID, errors.Join(errs...))
	}
	return nil
}

// DecodePayload извлекает байты изображения. Поддерживаются data URL и base64;
// если строка не декодируется, она сохраняется как есть (например, ссылка).
func DecodePayload(data string) []byte {
	s := strings.TrimSpace(data)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ";base64,"); i >= 0 {
			s = s[i+len(";base64,"):]
		}
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding} {
		if b, err := enc.DecodeString(s); err == nil && len(b) > 0 {
			return b
		}
	}
	return []byte(data)
}
