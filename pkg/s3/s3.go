// Package s3 создаёт клиента S3 с поддержкой собственного endpoint (MinIO, LocalStack).
package s3

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Options параметры подключения к хранилищу
type Options struct {
	Region       string
	Endpoint     string
	UsePathStyle bool
}

// NewClient загружает стандартную AWS конфигурацию и создаёт клиента S3
func NewClient(ctx context.Context, opts Options) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			// Локальные эмуляторы не поддерживают virtual-hosted адреса
			o.UsePathStyle = true
		}
		if opts.UsePathStyle {
			o.UsePathStyle = true
		}
	})
	return client, nil
}
