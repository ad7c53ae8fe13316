// Package scheduler 收盘后按 cron 预热诊断缓存
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/shoswaller/Ghetto-style-Quant-Trading/diagnosis"
)

// Diagnoser runs one diagnosis.
type Diagnoser interface {
	Diagnose(ctx context.Context, req diagnosis.Request) (*diagnosis.Result, error)
}

// Options configures a Scheduler.
type Options struct {
	Spec       string
	Symbols    []string
	Categories []string
	// JobTimeout bounds one full warm-up pass.
	JobTimeout time.Duration
	Logger     *zap.Logger
}

// Stats 调度统计
type Stats struct {
	Running        bool      `json:"running"`
	Spec           string    `json:"spec"`
	Symbols        int       `json:"symbols"`
	ExecutionCount int64     `json:"execution_count"`
	LastExecution  time.Time `json:"last_execution"`
	LastWarmed     int       `json:"last_warmed"`
	LastCached     int       `json:"last_cached"`
	LastFailed     int       `json:"last_failed"`
}

// Scheduler 预热调度器。一次执行内按股票顺序串行诊断，避免突发 LLM 调用。
type Scheduler struct {
	mu         sync.RWMutex
	cron       *cron.Cron
	diagnoser  Diagnoser
	spec       string
	symbols    []string
	categories []string
	jobTimeout time.Duration
	running    bool
	logger     *zap.Logger

	executionCount int64
	lastExecution  time.Time
	lastWarmed     int
	lastCached     int
	lastFailed     int

	runMu sync.Mutex
}

// New 创建调度器；spec 为带秒字段的 cron 表达式
func New(d Diagnoser, opts Options) (*Scheduler, error) {
	if d == nil {
		return nil, errors.New("diagnoser not set")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 30 * time.Minute
	}
	if len(opts.Categories) == 0 {
		opts.Categories = []string{"daily"}
	}

	s := &Scheduler{
		cron:       cron.New(cron.WithSeconds()),
		diagnoser:  d,
		spec:       opts.Spec,
		symbols:    append([]string(nil), opts.Symbols...),
		categories: append([]string(nil), opts.Categories...),
		jobTimeout: opts.JobTimeout,
		logger:     opts.Logger,
	}
	if _, err := s.cron.AddFunc(opts.Spec, s.runScheduled); err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", opts.Spec, err)
	}
	return s, nil
}

// Start 启动调度器
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("scheduler is already running")
	}
	if len(s.symbols) == 0 {
		return errors.New("no symbols configured")
	}
	s.running = true
	s.cron.Start()
	s.logger.Info("预热调度器已启动", zap.String("spec", s.spec), zap.Int("symbols", len(s.symbols)))
	return nil
}

// Stop 停止调度器并等待正在执行的任务结束
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("预热调度器已停止")
}

// IsRunning 检查调度器是否运行中
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// SetSymbols 替换预热股票列表，下次执行生效
func (s *Scheduler) SetSymbols(symbols []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols = append([]string(nil), symbols...)
}

// Next 下一次执行时间，未启动时为零值
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// GetStats 获取调度器统计信息
func (s *Scheduler) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Running:        s.running,
		Spec:           s.spec,
		Symbols:        len(s.symbols),
		ExecutionCount: s.executionCount,
		LastExecution:  s.lastExecution,
		LastWarmed:     s.lastWarmed,
		LastCached:     s.lastCached,
		LastFailed:     s.lastFailed,
	}
}

func (s *Scheduler) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()
	s.RunOnce(ctx)
}

// RunOnce 立即执行一次预热。并发调用会串行执行。
func (s *Scheduler) RunOnce(ctx context.Context) Stats {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.RLock()
	symbols := append([]string(nil), s.symbols...)
	categories := append([]string(nil), s.categories...)
	s.mu.RUnlock()

	start := time.Now()
	var warmed, cached, failed int
	for _, code := range symbols {
		for _, category := range categories {
			if ctx.Err() != nil {
				failed++
				continue
			}
			res, err := s.diagnoser.Diagnose(ctx, diagnosis.Request{
				Code:      code,
				Category:  category,
				RequestID: "warmup-" + start.Format("20060102150405"),
			})
			switch {
			case err != nil:
				failed++
				s.logger.Warn("预热失败",
					zap.String("code", code),
					zap.String("category", category),
					zap.Error(err))
			case res.Cached:
				cached++
			default:
				warmed++
			}
		}
	}

	s.mu.Lock()
	s.executionCount++
	s.lastExecution = start
	s.lastWarmed, s.lastCached, s.lastFailed = warmed, cached, failed
	s.mu.Unlock()

	s.logger.Info("缓存预热完成",
		zap.Int("warmed", warmed),
		zap.Int("cached", cached),
		zap.Int("failed", failed),
		zap.Duration("duration", time.Since(start)))
	return s.GetStats()
}
