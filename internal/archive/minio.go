// Package archive writes closed-chat transcripts to S3-compatible object
// storage so support history outlives the live document store.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"

	"github.com/Rnbprasad1/ChatSupport/internal/chat"
)

// MinioArchiver stores one JSON object per closed chat under
// transcripts/<chatId>.json.
type MinioArchiver struct {
	client *minio.Client
	bucket string
}

// Config carries the object storage connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewMinioArchiver connects to object storage and ensures the bucket exists.
func NewMinioArchiver(ctx context.Context, cfg Config) (*MinioArchiver, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("make bucket: %w", err)
		}
	}

	return &MinioArchiver{client: client, bucket: cfg.Bucket}, nil
}

// transcript is the archived object shape.
type transcript struct {
	Chat       chat.Chat      `json:"chat"`
	Messages   []chat.Message `json:"messages"`
	ArchivedAt time.Time      `json:"archivedAt"`
}

// Archive uploads the transcript. Called after a successful close; the chat
// in the store is already marked closed when this runs.
func (a *MinioArchiver) Archive(ctx context.Context, c chat.Chat, messages []chat.Message) error {
	payload, err := json.Marshal(transcript{
		Chat:       c,
		Messages:   messages,
		ArchivedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}

	objectName := "transcripts/" + c.ID + ".json"
	_, err = a.client.PutObject(ctx, a.bucket, objectName,
		bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("put transcript: %w", err)
	}

	log.Info().Str("chatId", c.ID).Str("object", objectName).Msg("transcript archived")
	return nil
}
