package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"scaffold/api/model"
)

// Objects reads job records written to S3 by the build manager.
type Objects interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
}

// SpecLoader reads the job record a spec path points at. Paths are either
// local files or s3://bucket/key.
type SpecLoader struct {
	Objects Objects
}

func (l *SpecLoader) Load(ctx context.Context, specPath string) (*model.JobRecord, error) {
	var data []byte
	var err error
	if rest, ok := strings.CutPrefix(specPath, "s3://"); ok {
		bucket, key, found := strings.Cut(rest, "/")
		if !found || bucket == "" || key == "" {
			return nil, fmt.Errorf("invalid spec path %q", specPath)
		}
		if l.Objects == nil {
			return nil, fmt.Errorf("spec path %q needs S3, which is not configured", specPath)
		}
		data, err = l.Objects.Get(ctx, bucket, key)
	} else {
		data, err = os.ReadFile(specPath)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", specPath, err)
	}
	var rec model.JobRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", specPath, err)
	}
	return &rec, nil
}
