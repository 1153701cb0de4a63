package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const defaultChunkSize = 8 << 20

// S3API is the part of *s3.Client the store uses.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Options configures the S3 client and store layout.
type S3Options struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	SessionToken string
	ChunkSize    int
}

// NewS3Client builds a client with static credentials. A custom endpoint
// switches to path-style addressing.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		creds := aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, opts.SessionToken))
		loadOpts = append(loadOpts, config.WithCredentialsProvider(creds))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// S3Store keeps each content id as numbered part objects
// <prefix><id>/part-NNNNNN. Every chunk of an append becomes its own part,
// so a failed append loses at most the chunk in flight.
type S3Store struct {
	client    S3API
	bucket    string
	prefix    string
	chunkSize int
}

func NewS3Store(client S3API, opts S3Options) *S3Store {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	return &S3Store{client: client, bucket: opts.Bucket, prefix: opts.Prefix, chunkSize: opts.ChunkSize}
}

type part struct {
	key   string
	index int
	size  int64
}

func (s *S3Store) AddFile(ctx context.Context, r io.Reader) (string, error) {
	id := uuid.NewString()
	if err := s.writeParts(ctx, id, 0, r, true); err != nil {
		return "", fmt.Errorf("add file: %w", err)
	}
	return id, nil
}

func (s *S3Store) ByteSize(ctx context.Context, id string) (int64, error) {
	parts, err := s.parts(ctx, id)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, p := range parts {
		total += p.size
	}
	return total, nil
}

func (s *S3Store) AppendStream(ctx context.Context, id string, r io.Reader) error {
	parts, err := s.parts(ctx, id)
	if err != nil {
		return err
	}
	next := parts[len(parts)-1].index + 1
	if err := s.writeParts(ctx, id, next, r, false); err != nil {
		return fmt.Errorf("append to %s: %w", id, err)
	}
	return nil
}

// Open streams the parts of id in order.
func (s *S3Store) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	parts, err := s.parts(ctx, id)
	if err != nil {
		return nil, err
	}
	return &partsReader{ctx: ctx, store: s, parts: parts}, nil
}

func (s *S3Store) writeParts(ctx context.Context, id string, index int, r io.Reader, always bool) error {
	buf := make([]byte, s.chunkSize)
	for {
		n, readErr := io.ReadFull(contextReader{ctx: ctx, r: r}, buf)
		if n > 0 || always {
			if err := s.putPart(ctx, id, index, buf[:n]); err != nil {
				return err
			}
			index++
			always = false
		}
		switch {
		case readErr == nil:
			continue
		case errors.Is(readErr, io.EOF), errors.Is(readErr, io.ErrUnexpectedEOF):
			return nil
		default:
			return fmt.Errorf("read source: %w", readErr)
		}
	}
}

func (s *S3Store) putPart(ctx context.Context, id string, index int, data []byte) error {
	key := s.partKey(id, index)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	log.Ctx(ctx).Debug().Str("key", key).Int("bytes", len(data)).Msg("part stored")
	return nil
}

func (s *S3Store) partKey(id string, index int) string {
	return fmt.Sprintf("%s%s/part-%06d", s.prefix, id, index)
}

// parts lists the parts of id ordered by index.
func (s *S3Store) parts(ctx context.Context, id string) ([]part, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	prefix := s.prefix + id + "/part-"
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	var parts []part
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list parts of %s: %w", id, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			var index int
			if _, err := fmt.Sscanf(strings.TrimPrefix(key, prefix), "%d", &index); err != nil {
				continue
			}
			parts = append(parts, part{key: key, index: index, size: aws.ToInt64(obj.Size)})
		}
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].index < parts[j].index })
	return parts, nil
}

type partsReader struct {
	ctx     context.Context
	store   *S3Store
	parts   []part
	current io.ReadCloser
}

func (r *partsReader) Read(p []byte) (int, error) {
	for {
		if r.current == nil {
			if len(r.parts) == 0 {
				return 0, io.EOF
			}
			out, err := r.store.client.GetObject(r.ctx, &s3.GetObjectInput{
				Bucket: aws.String(r.store.bucket),
				Key:    aws.String(r.parts[0].key),
			})
			if err != nil {
				return 0, fmt.Errorf("get %s: %w", r.parts[0].key, err)
			}
			r.current = out.Body
			r.parts = r.parts[1:]
		}
		n, err := r.current.Read(p)
		if errors.Is(err, io.EOF) {
			_ = r.current.Close()
			r.current = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err //nolint:wrapcheck
	}
}

func (r *partsReader) Close() error {
	if r.current == nil {
		return nil
	}
	err := r.current.Close()
	r.current = nil
	return err //nolint:wrapcheck
}
