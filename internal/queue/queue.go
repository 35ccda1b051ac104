package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"kestrel/internal/config"
	"kestrel/internal/logger"
)

// TaskTypeEvaluateRule is the single task type the engine processes. The
// payload carries only the rule ID; the handler re-fetches the rule so a
// queued evaluation always sees the latest persisted shape.
const TaskTypeEvaluateRule = "rule:evaluate"

type EvaluatePayload struct {
	RuleID string `json:"rule_id"`
}

// Client enqueues evaluation tasks onto Redis.
type Client struct {
	client   *asynq.Client
	queue    string
	maxRetry int
}

func NewClient(redis asynq.RedisConnOpt, cfg config.QueueConfig) *Client {
	return &Client{
		client:   asynq.NewClient(redis),
		queue:    cfg.Name,
		maxRetry: cfg.MaxRetry,
	}
}

func (c *Client) EnqueueEvaluation(ctx context.Context, ruleID string) error {
	payload, err := json.Marshal(EvaluatePayload{RuleID: ruleID})
	if err != nil {
		return fmt.Errorf("failed to marshal evaluation payload: %w", err)
	}

	task := asynq.NewTask(TaskTypeEvaluateRule, payload)
	if _, err := c.client.EnqueueContext(ctx, task,
		asynq.Queue(c.queue),
		asynq.MaxRetry(c.maxRetry),
	); err != nil {
		return fmt.Errorf("failed to enqueue evaluation for rule %s: %w", ruleID, err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// EvaluationHandler processes one queued evaluation.
type EvaluationHandler interface {
	HandleEvaluation(ctx context.Context, ruleID string) error
}

// Server runs the asynq worker pool. Failed tasks retry with asynq's
// default backoff up to the configured maximum, then land in the archive
// for inspection.
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewServer(redis asynq.RedisConnOpt, cfg config.QueueConfig, handler EvaluationHandler, log logger.Logger) *Server {
	server := asynq.NewServer(redis, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      map[string]int{cfg.Name: 1},
		Logger:      &asynqLogger{log: log},
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeEvaluateRule, func(ctx context.Context, task *asynq.Task) error {
		var payload EvaluatePayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("failed to unmarshal evaluation payload: %w", asynq.SkipRetry)
		}
		return handler.HandleEvaluation(ctx, payload.RuleID)
	})

	return &Server{server: server, mux: mux}
}

func (s *Server) Start() error {
	return s.server.Start(s.mux)
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

// asynqLogger routes asynq's internal logging through our logger.
type asynqLogger struct {
	log logger.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) { l.log.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.log.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.log.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.log.Error(fmt.Sprint(args...)) }
func (l *asynqLogger) Fatal(args ...interface{}) { l.log.Fatal(fmt.Sprint(args...)) }
