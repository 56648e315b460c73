// Package archive keeps a copy of every concluded match in S3.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"ludo/internal/game"
)

// API is the subset of the S3 client the archiver calls.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Archiver writes final match documents to a bucket.
type Archiver struct {
	client API
	bucket string
}

// New wraps an existing client.
func New(client API, bucket string) *Archiver {
	return &Archiver{client: client, bucket: bucket}
}

// NewFromRegion loads the default AWS config for region and builds a client.
func NewFromRegion(ctx context.Context, region, bucket string) (*Archiver, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return New(s3.NewFromConfig(cfg), bucket), nil
}

// Key returns the object key for a match.
func Key(matchID string) string {
	return "matches/" + matchID + ".json"
}

// Archive stores the match document. Only completed matches are accepted.
func (a *Archiver) Archive(ctx context.Context, m *game.Match) error {
	if m.Status != game.StatusCompleted {
		return fmt.Errorf("archive %s: %w", m.ID, game.ErrMatchNotInProgress)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal match: %w", err)
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(Key(m.ID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"winner": m.WinnerID,
			"tier":   m.Tier,
		},
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", Key(m.ID), err)
	}
	return nil
}

// Load reads an archived match back.
func (a *Archiver) Load(ctx context.Context, matchID string) (*game.Match, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(Key(matchID)),
	})
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return nil, game.ErrMatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", Key(matchID), err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", Key(matchID), err)
	}
	var m game.Match
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal match: %w", err)
	}
	return &m, nil
}
