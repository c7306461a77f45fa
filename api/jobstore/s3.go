package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"scaffold/api/model"
	"scaffold/api/storage"
)

// Objects is the subset of the S3 client the job store needs.
type Objects interface {
	Put(ctx context.Context, bucket, key string, data []byte) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Remove(ctx context.Context, bucket, key string) error
	List(ctx context.Context, bucket, prefix string) ([]storage.Object, error)
}

// S3 stores records as s3://<bucket>/<prefix>/<buildId>/<file>.
type S3 struct {
	objects Objects
	bucket  string
	prefix  string
	file    string
}

func NewS3(objects Objects, bucket, prefix, file string) *S3 {
	if file == "" {
		file = DefaultFile
	}
	return &S3{objects: objects, bucket: bucket, prefix: strings.Trim(prefix, "/"), file: file}
}

func (s *S3) key(buildID string) string {
	return path.Join(s.prefix, buildID, s.file)
}

func (s *S3) Put(ctx context.Context, buildID string, rec *model.JobRecord) (string, error) {
	if err := validBuildID(buildID); err != nil {
		return "", err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode job record: %w", err)
	}
	key := s.key(buildID)
	if err := s.objects.Put(ctx, s.bucket, key, data); err != nil {
		return "", err
	}
	return "s3://" + s.bucket + "/" + key, nil
}

func (s *S3) Get(ctx context.Context, buildID string) (*model.JobRecord, error) {
	if err := validBuildID(buildID); err != nil {
		return nil, err
	}
	data, err := s.objects.Get(ctx, s.bucket, s.key(buildID))
	if errors.Is(err, storage.ErrNoSuchKey) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, buildID)
	}
	if err != nil {
		return nil, err
	}
	var rec model.JobRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode job record %s: %w", buildID, err)
	}
	return &rec, nil
}

func (s *S3) Delete(ctx context.Context, buildID string) error {
	if err := validBuildID(buildID); err != nil {
		return err
	}
	return s.objects.Remove(ctx, s.bucket, s.key(buildID))
}

func (s *S3) List(ctx context.Context) ([]Entry, error) {
	prefix := s.prefix
	if prefix != "" {
		prefix += "/"
	}
	objs, err := s.objects.List(ctx, s.bucket, prefix)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, o := range objs {
		rel := strings.TrimPrefix(o.Key, prefix)
		dir, file := path.Split(rel)
		if file != s.file || strings.Count(dir, "/") != 1 {
			continue
		}
		out = append(out, Entry{
			BuildID:   strings.TrimSuffix(dir, "/"),
			SpecPath:  "s3://" + s.bucket + "/" + o.Key,
			WrittenAt: o.LastModified,
		})
	}
	return out, nil
}
