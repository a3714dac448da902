package attachment

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
)

// Compressor сжатие изображения перед выгрузкой. Реализация внешняя.
type Compressor interface {
	Compress(ctx context.Context, data []byte, mediaType string) ([]byte, error)
}

// NopCompressor отдаёт данные без изменений
type NopCompressor struct{}

func (NopCompressor) Compress(_ context.Context, data []byte, _ string) ([]byte, error) {
	return data, nil
}

// ObjectPutter часть клиента S3, нужная для выгрузки
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Options параметры бакета для фотографий
type Options struct {
	Bucket        string
	Region        string
	KeyPrefix     string
	PublicBaseURL string
}

// S3Uploader выгружает фотографии в S3 совместимое хранилище
type S3Uploader struct {
	client     ObjectPutter
	compressor Compressor
	opts       Options
	logger     *logrus.Logger
	now        func() time.Time
}

func NewS3Uploader(client ObjectPutter, compressor Compressor, opts Options, logger *logrus.Logger) *S3Uploader {
	if compressor == nil {
		compressor = NopCompressor{}
	}
	return &S3Uploader{
		client:     client,
		compressor: compressor,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// Upload кладёт объект под именем name и возвращает его публичный URL
func (u *S3Uploader) Upload(ctx context.Context, data []byte, name string) (string, error) {
	key := u.objectKey(name)
	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	log := u.logger.WithFields(logrus.Fields{
		"service": "attachment",
		"method":  "Upload",
		"bucket":  u.opts.Bucket,
		"key":     key,
	})

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.opts.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		log.WithError(err).Warn("Failed to put object")
		return "", fmt.Errorf("attachment: could not upload %s: %w", key, err)
	}

	log.WithField("size", len(data)).Info("Photo uploaded")
	return u.publicURL(key), nil
}

// UploadPhoto раскодирует встроенную фотографию отчёта, сжимает и выгружает её
func (u *S3Uploader) UploadPhoto(ctx context.Context, reportID, photo string) (string, error) {
	payload, err := ParseDataURI(photo)
	if err != nil {
		return "", fmt.Errorf("attachment: report %s: %w", reportID, err)
	}

	data, err := u.compressor.Compress(ctx, payload.Data, payload.MediaType)
	if err != nil {
		return "", fmt.Errorf("attachment: could not compress photo of report %s: %w", reportID, err)
	}

	return u.Upload(ctx, data, ObjectName(reportID, u.now(), payload.MediaType))
}

func (u *S3Uploader) objectKey(name string) string {
	if u.opts.KeyPrefix == "" {
		return name
	}
	return path.Join(u.opts.KeyPrefix, name)
}

func (u *S3Uploader) publicURL(key string) string {
	if u.opts.PublicBaseURL != "" {
		return strings.TrimSuffix(u.opts.PublicBaseURL, "/") + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.opts.Bucket, u.opts.Region, key)
}
