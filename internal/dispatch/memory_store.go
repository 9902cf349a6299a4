package dispatch

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "lestnet-sdk/internal/errors"
)

// MemoryStore 在内存中保存任务状态，适合测试与单进程部署。
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

// NewMemoryStore 创建一个空的内存任务存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

// Create 保存新任务。
func (s *MemoryStore) Create(_ context.Context, job *Job) error {
	if job == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "job 不能为空")
	}
	if strings.TrimSpace(job.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return ErrJobConflict
	}
	now := time.Now().Unix()
	job.CreatedAt = now
	job.UpdatedAt = now
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// Get 返回任务的副本。
func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return cloneJob(job), nil
}

// Claim 将待执行或可重试的任务标记为运行中。
func (s *MemoryStore) Claim(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	switch job.Status {
	case StatusSucceeded:
		return cloneJob(job), ErrJobCompleted
	case StatusRunning:
		return cloneJob(job), ErrJobConflict
	}
	if job.Attempts >= job.MaxRetries {
		return cloneJob(job), ErrJobExhausted
	}
	job.Status = StatusRunning
	job.Attempts++
	job.LastError = ""
	job.ErrorCode = ""
	job.UpdatedAt = time.Now().Unix()
	return cloneJob(job), nil
}

// MarkSucceeded 记录链上结果。
func (s *MemoryStore) MarkSucceeded(_ context.Context, id string, result Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = StatusSucceeded
	job.Result = &result
	job.LastError = ""
	job.ErrorCode = ""
	job.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkFailed 记录失败原因；terminal 为 true 时任务不再被领取。
func (s *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = StatusFailed
	job.LastError = lastError
	job.ErrorCode = string(code)
	if terminal && job.Attempts < job.MaxRetries {
		job.Attempts = job.MaxRetries
	}
	job.UpdatedAt = time.Now().Unix()
	return nil
}

// List 按过滤条件返回任务。
func (s *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Job, error) {
	opts.applyDefaults()

	s.mu.Lock()
	matched := s.filterLocked(opts)
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.UpdatedAt != b.UpdatedAt {
			if opts.Order == SortByUpdatedAsc {
				return a.UpdatedAt < b.UpdatedAt
			}
			return a.UpdatedAt > b.UpdatedAt
		}
		if opts.Order == SortByUpdatedAsc {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})

	if opts.Offset >= len(matched) {
		return []*Job{}, nil
	}
	matched = matched[opts.Offset:]
	if len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

// Stats 统计符合条件的任务。
func (s *MemoryStore) Stats(_ context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()

	s.mu.Lock()
	matched := s.filterLocked(opts)
	s.mu.Unlock()

	var stats Stats
	for _, job := range matched {
		stats.Total++
		switch job.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusSucceeded:
			stats.Succeeded++
		case StatusFailed:
			stats.Failed++
		}
		if stats.OldestUpdatedAt == 0 || job.UpdatedAt < stats.OldestUpdatedAt {
			stats.OldestUpdatedAt = job.UpdatedAt
		}
		if job.UpdatedAt > stats.NewestUpdatedAt {
			stats.NewestUpdatedAt = job.UpdatedAt
		}
	}
	return stats, nil
}

// Close 内存存储无需释放资源。
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) filterLocked(opts ListOptions) []*Job {
	var statuses map[Status]struct{}
	if len(opts.Statuses) > 0 {
		statuses = make(map[Status]struct{}, len(opts.Statuses))
		for _, status := range opts.Statuses {
			statuses[status] = struct{}{}
		}
	}
	result := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if statuses != nil {
			if _, ok := statuses[job.Status]; !ok {
				continue
			}
		}
		if opts.UpdatedGTE > 0 && job.UpdatedAt < opts.UpdatedGTE {
			continue
		}
		if opts.UpdatedLTE > 0 && job.UpdatedAt > opts.UpdatedLTE {
			continue
		}
		result = append(result, cloneJob(job))
	}
	return result
}

var _ Store = (*MemoryStore)(nil)
