// Package redisstore implements store.Store against Redis, keyed
// `document_workflow:<thread_id>` with TTL and optimistic concurrency:
// mutations read-modify-write guarded by a WATCH/MULTI/EXEC transaction,
// retried a bounded number of times before failing with
// apperr.ConcurrentUpdate. Grounded on the durable-backend split pattern in
// features/session/mongo/store.go, adapted to redis for the shared
// key-value backend the spec calls for explicitly.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
	"github.com/lawercase/petition-orchestrator/internal/clock"
	"github.com/lawercase/petition-orchestrator/internal/workflow"
	"github.com/lawercase/petition-orchestrator/internal/workflow/store"
)

const activeIndexKey = "document_workflow:active"

const maxCASAttempts = 5

// Store is a redis-backed store.Store.
type Store struct {
	client *redis.Client
	clock  clock.Clock
	notify store.Broadcaster
	ttl    time.Duration
}

// New returns a Store over client with the given state TTL (default 24h
// per the spec).
func New(client *redis.Client, c clock.Clock, notify store.Broadcaster, ttl time.Duration) *Store {
	if notify == nil {
		notify = store.NoopBroadcaster{}
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{client: client, clock: c, notify: notify, ttl: ttl}
}

func redisKey(threadID string) string {
	return "document_workflow:" + threadID
}

func (s *Store) Save(ctx context.Context, state workflow.State) error {
	state.UpdatedAt = s.clock.Now()
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisKey(state.ThreadID), raw, s.ttl)
	pipe.SAdd(ctx, activeIndexKey, state.ThreadID)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "workflow store: save failed", err)
	}
	s.notify.Publish(ctx, workflow.Delta{ThreadID: state.ThreadID, Kind: "full", State: state})
	return nil
}

func (s *Store) Load(ctx context.Context, threadID string) (workflow.State, error) {
	raw, err := s.client.Get(ctx, redisKey(threadID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return workflow.State{}, apperr.New(apperr.NotFound, "workflow store: thread not found")
	}
	if err != nil {
		return workflow.State{}, apperr.Wrap(apperr.StoreUnavailable, "workflow store: load failed", err)
	}
	var st workflow.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return workflow.State{}, err
	}
	return st, nil
}

// casUpdate reads the current state, applies fn, and writes it back inside
// a WATCH transaction on the key, retrying on a conflicting concurrent
// writer up to maxCASAttempts times.
func (s *Store) casUpdate(ctx context.Context, threadID string, fn func(*workflow.State) error) (workflow.State, error) {
	key := redisKey(threadID)

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		var result workflow.State
		txf := func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return apperr.New(apperr.NotFound, "workflow store: thread not found")
			}
			if err != nil {
				return err
			}
			var st workflow.State
			if err := json.Unmarshal(raw, &st); err != nil {
				return err
			}
			if err := fn(&st); err != nil {
				return err
			}
			st.UpdatedAt = s.clock.Now()
			newRaw, err := json.Marshal(st)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, newRaw, s.ttl)
				return nil
			})
			if err != nil {
				return err
			}
			result = st
			return nil
		}

		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue // another writer won the race; retry from a fresh read
		}
		if apperr.KindOf(err) == apperr.NotFound {
			return workflow.State{}, err
		}
		return workflow.State{}, apperr.Wrap(apperr.StoreUnavailable, "workflow store: update failed", err)
	}
	return workflow.State{}, apperr.New(apperr.ConcurrentUpdate, "workflow store: too many concurrent writers")
}

func (s *Store) UpdateSection(ctx context.Context, threadID, sectionID string, patch workflow.SectionPatch) error {
	st, err := s.casUpdate(ctx, threadID, func(st *workflow.State) error {
		for i := range st.Sections {
			if st.Sections[i].SectionID == sectionID {
				st.Sections[i] = patch.Apply(st.Sections[i], s.clock.Now())
				return nil
			}
		}
		return apperr.New(apperr.NotFound, "workflow store: section not found")
	})
	if err != nil {
		return err
	}
	s.notify.Publish(ctx, workflow.Delta{ThreadID: threadID, Kind: "section_update", State: st})
	return nil
}

func (s *Store) AddExhibit(ctx context.Context, threadID string, exhibit workflow.Exhibit) error {
	st, err := s.casUpdate(ctx, threadID, func(st *workflow.State) error {
		st.Exhibits = append(st.Exhibits, exhibit)
		return nil
	})
	if err != nil {
		return err
	}
	s.notify.Publish(ctx, workflow.Delta{ThreadID: threadID, Kind: "exhibit_added", State: st})
	return nil
}

func (s *Store) AddLog(ctx context.Context, threadID string, entry workflow.LogEntry) error {
	st, err := s.casUpdate(ctx, threadID, func(st *workflow.State) error {
		st.Logs = append(st.Logs, entry)
		return nil
	})
	if err != nil {
		return err
	}
	s.notify.Publish(ctx, workflow.Delta{ThreadID: threadID, Kind: "log_added", State: st})
	return nil
}

func (s *Store) SetStatus(ctx context.Context, threadID string, status workflow.Status, at time.Time) error {
	st, err := s.casUpdate(ctx, threadID, func(st *workflow.State) error {
		st.Status = status
		if status == workflow.StatusCompleted || status == workflow.StatusError {
			completed := at
			st.CompletedAt = &completed
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.notify.Publish(ctx, workflow.Delta{ThreadID: threadID, Kind: "status_changed", State: st})
	return nil
}

func (s *Store) Delete(ctx context.Context, threadID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, redisKey(threadID))
	pipe.SRem(ctx, activeIndexKey, threadID)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "workflow store: delete failed", err)
	}
	return nil
}

func (s *Store) ListActive(ctx context.Context) ([]workflow.State, error) {
	ids, err := s.client.SMembers(ctx, activeIndexKey).Result()
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, "workflow store: list active failed", err)
	}
	out := make([]workflow.State, 0, len(ids))
	for _, id := range ids {
		st, err := s.Load(ctx, id)
		if apperr.Is(err, apperr.NotFound) {
			s.client.SRem(ctx, activeIndexKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if st.Status == workflow.StatusGenerating || st.Status == workflow.StatusPaused {
			out = append(out, st)
		}
	}
	return out, nil
}
