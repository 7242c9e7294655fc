package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ericomondi/e-api/internal/queue"
	"github.com/ericomondi/e-api/pkg/logger"
	"github.com/ericomondi/e-api/pkg/redis"
	"github.com/ericomondi/e-api/pkg/worker"
)

const (
	ProcessingTimeout = 10 * time.Second
	HealthInterval    = 30 * time.Second
	StatsInterval     = 30 * time.Second
	ShutdownTimeout   = time.Minute
	highLagThreshold  = 1000
)

type Config struct {
	Queue     queue.QueueConfig
	Consumers int
	Workers   int
}

// Service drains the orphan callback stream. Each consumer owns its own
// stream reader; replays run on a shared worker pool so a slow store does
// not multiply with the consumer count.
type Service struct {
	adapter   redis.RedisAdapter
	config    Config
	processor *OrphanProcessor
	queues    []*queue.Queue
	pool      *worker.Pool
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewService(adapter redis.RedisAdapter, processor *OrphanProcessor, config Config) *Service {
	if config.Consumers <= 0 {
		config.Consumers = 1
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		adapter:   adapter,
		config:    config,
		processor: processor,
		pool:      worker.NewPool(config.Workers*2, config.Workers),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *Service) Start() error {
	logger.Info("starting reconciler",
		"queue", s.config.Queue.Name,
		"consumers", s.config.Consumers,
		"workers", s.config.Workers)

	s.pool.SetWorker(s.workerHandler)
	if err := s.pool.Start(); err != nil {
		return err
	}

	for i := 0; i < s.config.Consumers; i++ {
		qc := s.config.Queue
		qc.ConsumerName = fmt.Sprintf("%s-%d", qc.ConsumerName, i)

		q, err := queue.NewQueue(s.ctx, s.adapter, qc)
		if err != nil {
			return fmt.Errorf("failed to create queue consumer %d: %w", i, err)
		}
		if err := q.Consume(s.messageHandler); err != nil {
			return fmt.Errorf("failed to start consumer %d: %w", i, err)
		}
		s.queues = append(s.queues, q)
	}

	s.wg.Add(2)
	go s.statsReporter()
	go s.healthChecker()

	logger.Info("reconciler started", "consumers", len(s.queues))
	return nil
}

func (s *Service) Stop() {
	logger.Info("shutting down reconciler...")
	s.cancel()

	var qwg sync.WaitGroup
	for i, q := range s.queues {
		qwg.Add(1)
		go func(index int, q *queue.Queue) {
			defer qwg.Done()
			if err := q.Stop(ShutdownTimeout); err != nil {
				logger.Error("error stopping queue consumer", "consumer", index, "error", err)
			}
		}(i, q)
	}
	qwg.Wait()

	s.pool.Stop()
	s.wg.Wait()
	s.reportStats()
	logger.Info("reconciler stopped")
}

type replayJob struct {
	ctx    context.Context
	msg    *queue.Message
	result chan error
}

// messageHandler hands the message to the pool and waits, so the queue
// only acks after the replay finished.
func (s *Service) messageHandler(ctx context.Context, msg *queue.Message) error {
	jobCtx, cancel := context.WithTimeout(ctx, ProcessingTimeout)
	defer cancel()

	job := &replayJob{ctx: jobCtx, msg: msg, result: make(chan error, 1)}
	if err := s.pool.Enqueue(jobCtx, job); err != nil {
		return fmt.Errorf("enqueue replay: %w", err)
	}

	select {
	case err := <-job.result:
		return err
	case <-jobCtx.Done():
		return fmt.Errorf("timeout waiting for replay: %w", jobCtx.Err())
	}
}

func (s *Service) workerHandler(workerIndex int, j interface{}) {
	job, ok := j.(*replayJob)
	if !ok {
		logger.Error("invalid job type in reconciler worker", "worker", workerIndex)
		return
	}
	if job.ctx.Err() != nil {
		logger.Warn("replay job expired before start", "worker", workerIndex, "id", job.msg.ID)
		return
	}
	job.result <- s.processor.Process(job.ctx, job.msg)
}

func (s *Service) statsReporter() {
	defer s.wg.Done()

	ticker := time.NewTicker(StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reportStats()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Service) reportStats() {
	st := s.processor.stats.snapshot()
	logger.Info("reconciler stats",
		"applied", st["applied"],
		"duplicates", st["duplicates"],
		"dropped", st["dropped"],
		"retried", st["retried"],
		"avg_duration_ms", st["avg_duration_ms"],
		"uptime_seconds", st["uptime_seconds"],
		"pool_pending", s.pool.Pending())

	if len(s.queues) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if qs, err := s.queues[0].GetStats(ctx); err == nil {
		logger.Info("orphan queue stats", "total", qs.TotalMessages, "pending", qs.PendingMessages, "dead_letters", qs.DeadLetters)
	}
}

func (s *Service) healthChecker() {
	defer s.wg.Done()

	ticker := time.NewTicker(HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.checkHealth(s.ctx)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Service) checkHealth(ctx context.Context) {
	if err := s.adapter.Ping(ctx); err != nil {
		logger.Error("reconciler health check failed: redis", "error", err)
		return
	}
	if len(s.queues) == 0 {
		return
	}
	stats, err := s.queues[0].GetStats(ctx)
	if err != nil {
		logger.Warn("reconciler health check: queue stats unavailable", "error", err)
		return
	}
	if stats.PendingMessages > highLagThreshold {
		logger.Warn("reconciler health check: orphan backlog is high", "pending", stats.PendingMessages)
	}
	if stats.DeadLetters > 0 {
		logger.Warn("reconciler health check: dead letters need attention", "dead_letters", stats.DeadLetters)
	}
}
