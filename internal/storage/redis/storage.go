package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/yegors/voxdesk/internal/store"
	"github.com/yegors/voxdesk/pkg/logger"
)

// Options configures the Redis connection
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Storage is a Redis-backed TaskStore and CalendarStore.
//
// Keys:
//
//	<prefix>lists          list of list names in creation order
//	<prefix>listset        set of list names
//	<prefix>list:<name>    list of task ids in order
//	<prefix>task:<id>      hash of task fields
//	<prefix>events         sorted set of event ids scored by start time
//	<prefix>event:<id>     hash of event fields
type Storage struct {
	client *redis.Client
	prefix string
	logger *logger.Logger
	now    func() time.Time
}

// NewStorage connects and pings the server
func NewStorage(ctx context.Context, opts Options, log *logger.Logger) (*Storage, error) {
	if opts.Prefix == "" {
		opts.Prefix = "voxdesk:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}

	log = log.Named("redis")
	log.Info("Connected to Redis",
		logger.String("addr", opts.Addr),
		logger.Int("db", opts.DB),
		logger.String("prefix", opts.Prefix))

	return &Storage{client: client, prefix: opts.Prefix, logger: log, now: time.Now}, nil
}

// Close closes the client
func (s *Storage) Close() error {
	return s.client.Close()
}

func (s *Storage) key(parts ...string) string {
	k := s.prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

func (s *Storage) Lists(ctx context.Context) ([]store.TaskList, error) {
	names, err := s.client.LRange(ctx, s.key("lists"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read task lists: %w", err)
	}

	lists := make([]store.TaskList, 0, len(names))
	for _, name := range names {
		ids, err := s.client.LRange(ctx, s.key("list", name), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read list %s: %w", name, err)
		}

		pipe := s.client.Pipeline()
		cmds := make([]*redis.MapStringStringCmd, len(ids))
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.key("task", id))
		}
		if len(ids) > 0 {
			if _, err := pipe.Exec(ctx); err != nil {
				return nil, fmt.Errorf("failed to read tasks of %s: %w", name, err)
			}
		}

		tasks := make([]store.Task, 0, len(ids))
		for i, cmd := range cmds {
			fields := cmd.Val()
			if len(fields) == 0 {
				continue
			}
			t, err := decodeTask(ids[i], fields)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
		lists = append(lists, store.TaskList{Name: name, Tasks: tasks})
	}
	return lists, nil
}

func decodeTask(id string, f map[string]string) (store.Task, error) {
	t := store.Task{ID: id, Text: f["text"], Completed: f["completed"] == "1"}
	created, err := time.Parse(time.RFC3339Nano, f["created_at"])
	if err != nil {
		return store.Task{}, fmt.Errorf("failed to parse created_at of task %s: %w", id, err)
	}
	t.CreatedAt = created
	if v := f["completed_at"]; v != "" {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return store.Task{}, fmt.Errorf("failed to parse completed_at of task %s: %w", id, err)
		}
		t.CompletedAt = &ts
	}
	return t, nil
}

func (s *Storage) EnsureList(ctx context.Context, name string) error {
	added, err := s.client.SAdd(ctx, s.key("listset"), name).Result()
	if err != nil {
		return fmt.Errorf("failed to create task list: %w", err)
	}
	if added == 0 {
		return nil
	}
	if err := s.client.RPush(ctx, s.key("lists"), name).Err(); err != nil {
		return fmt.Errorf("failed to create task list: %w", err)
	}
	return nil
}

func (s *Storage) AppendTasks(ctx context.Context, list string, texts []string) ([]store.Task, error) {
	if err := s.EnsureList(ctx, list); err != nil {
		return nil, err
	}

	added := make([]store.Task, 0, len(texts))
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, text := range texts {
			t := store.Task{ID: uuid.NewString(), Text: text, CreatedAt: s.now().UTC()}
			pipe.HSet(ctx, s.key("task", t.ID), map[string]any{
				"text":       t.Text,
				"completed":  "0",
				"created_at": t.CreatedAt.Format(time.RFC3339Nano),
				"list":       list,
			})
			pipe.RPush(ctx, s.key("list", list), t.ID)
			added = append(added, t)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append tasks: %w", err)
	}
	s.logger.Debug("Appended tasks",
		logger.String("list", list),
		logger.Int("count", len(added)))
	return added, nil
}

func (s *Storage) CompleteTask(ctx context.Context, list, taskID string) (store.Task, error) {
	fields, err := s.client.HGetAll(ctx, s.key("task", taskID)).Result()
	if err != nil {
		return store.Task{}, fmt.Errorf("failed to read task: %w", err)
	}
	if len(fields) == 0 || fields["list"] != list {
		return store.Task{}, fmt.Errorf("%w: %s", store.ErrTaskNotFound, taskID)
	}

	now := s.now().UTC().Format(time.RFC3339Nano)
	if err := s.client.HSet(ctx, s.key("task", taskID), "completed", "1", "completed_at", now).Err(); err != nil {
		return store.Task{}, fmt.Errorf("failed to complete task: %w", err)
	}
	fields["completed"] = "1"
	fields["completed_at"] = now
	return decodeTask(taskID, fields)
}

func (s *Storage) CreateEvent(ctx context.Context, ev store.CalendarEvent) (store.CalendarEvent, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now().UTC()
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key("event", ev.ID), map[string]any{
			"title":      ev.Title,
			"start":      ev.Start.UTC().Format(time.RFC3339),
			"end":        ev.End.UTC().Format(time.RFC3339),
			"created_at": ev.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		pipe.ZAdd(ctx, s.key("events"), redis.Z{Score: float64(ev.Start.Unix()), Member: ev.ID})
		return nil
	})
	if err != nil {
		return store.CalendarEvent{}, fmt.Errorf("failed to store calendar event: %w", err)
	}
	return ev, nil
}

func (s *Storage) Events(ctx context.Context) ([]store.CalendarEvent, error) {
	ids, err := s.client.ZRange(ctx, s.key("events"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read calendar events: %w", err)
	}

	out := make([]store.CalendarEvent, 0, len(ids))
	for _, id := range ids {
		f, err := s.client.HGetAll(ctx, s.key("event", id)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read event %s: %w", id, err)
		}
		if len(f) == 0 {
			continue
		}
		ev := store.CalendarEvent{ID: id, Title: f["title"]}
		if ev.Start, err = time.Parse(time.RFC3339, f["start"]); err != nil {
			return nil, fmt.Errorf("failed to parse start of event %s: %w", id, err)
		}
		if ev.End, err = time.Parse(time.RFC3339, f["end"]); err != nil {
			return nil, fmt.Errorf("failed to parse end of event %s: %w", id, err)
		}
		if ev.CreatedAt, err = time.Parse(time.RFC3339Nano, f["created_at"]); err != nil {
			return nil, fmt.Errorf("failed to parse created_at of event %s: %w", id, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// FlushPrefix deletes every key under the storage prefix
func (s *Storage) FlushPrefix(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}
