package worker

import (
	"context"

	"paperqa/features/job"
	"paperqa/internal/settings"
)

type Warmer interface {
	Warm(ctx context.Context, document string, size, overlap int) error
}

type SettingsReader interface {
	Get(ctx context.Context) (*settings.Settings, error)
}

type FailedJobStore interface {
	Save(ctx context.Context, j *job.Job) error
}
