package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"VizFM/db"
	"VizFM/logger"
)

const jobStatusTTL = 30 * time.Minute

// JobStatus is the cached view of an export job for the fast status path.
type JobStatus struct {
	JobID      string `json:"jobId"`
	State      string `json:"state"`
	StatusText string `json:"statusText"`
	Progress   int    `json:"progress"`
	Error      string `json:"error,omitempty"`
}

// SetJobStatus caches a job's status. No-op without Redis; cache write
// failures are logged, never escalated.
func SetJobStatus(st JobStatus) {
	if db.RedisClient == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := json.Marshal(st)
	if err != nil {
		return
	}
	if err := db.RedisClient.Set(ctx, "export:status:"+st.JobID, data, jobStatusTTL).Err(); err != nil {
		logger.Warn("failed to cache job status",
			logger.String("jobId", st.JobID),
			logger.ErrorField(err))
	}
}

// GetJobStatus looks up a cached job status. Returns nil on miss or when
// Redis is unavailable.
func GetJobStatus(jobID string) *JobStatus {
	if db.RedisClient == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := db.RedisClient.Get(ctx, "export:status:"+jobID).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn("failed to read job status cache",
				logger.String("jobId", jobID),
				logger.ErrorField(err))
		}
		return nil
	}

	var st JobStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return nil
	}
	return &st
}
