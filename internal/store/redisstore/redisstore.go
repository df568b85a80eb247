// Package redisstore realizes the realtime document store on Redis.
// Documents are JSON values; ordering lives in sorted sets scored by
// creation time; liveness is notify-then-read: every write publishes on a
// notify channel and each live subscription re-reads its snapshot on every
// notification.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"crewdeck/internal/domain"
	"crewdeck/internal/store"
	crewdeck_errors "crewdeck/pkg/errors"
	"crewdeck/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Store implements store.Store over a Redis instance.
type Store struct {
	rdb *redis.Client
	log *logger.Logger
}

// New wraps a Redis client as a document store.
func New(rdb *redis.Client, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{rdb: rdb, log: log}
}

// Key layout. Message scopes are "chan:<id>" or "thread:<id>".
func msgDocsKey(scope string) string  { return "msgdocs:" + scope }
func msgIndexKey(scope string) string { return "msgidx:" + scope }
func threadKey(id string) string      { return "thread:" + id }
func threadIndexKey(serverID string) string {
	return "threadidx:" + serverID
}
func threadSourceKey(channelID, messageID string) string {
	return "threadsrc:" + channelID + ":" + messageID
}
func cursorKey(uid, threadID string) string {
	return "cursor:" + uid + ":" + threadID
}
func channelCursorKey(uid, channelID string) string {
	return "ccursor:" + uid + ":" + channelID
}
func profileKey(uid string) string { return "profile:" + uid }

func notifyMsgs(scope string) string    { return "notify:msgs:" + scope }
func notifyThreads(serverID string) string {
	return "notify:threads:" + serverID
}
func notifyProfile(uid string) string { return "notify:profile:" + uid }
func notifyCursor(uid, threadID string) string {
	return "notify:cursor:" + uid + ":" + threadID
}

// subscribe runs the notify-then-read loop: an initial snapshot, then one
// re-read per notification, each emitted on out. It returns when ctx is
// cancelled.
func subscribe[T any](ctx context.Context, rdb *redis.Client, notifyChannel string, read func(context.Context) (T, error), log *logger.Logger) (*store.Sub[T], error) {
	ctx, cancel := context.WithCancel(ctx)
	ps := rdb.Subscribe(ctx, notifyChannel)
	if _, err := ps.Receive(ctx); err != nil {
		cancel()
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", notifyChannel, err)
	}
	out := make(chan T, 16)
	sub := store.NewSub[T](out, func() {
		cancel()
		_ = ps.Close()
	})
	go func() {
		defer close(out)
		emit := func() bool {
			snap, err := read(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Errorf("snapshot read for %s failed: %v", notifyChannel, err)
					sub.Fail(err)
				}
				return false
			}
			select {
			case out <- snap:
			case <-ctx.Done():
				return false
			}
			return true
		}
		if !emit() {
			return
		}
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				if !emit() {
					return
				}
			}
		}
	}()
	return sub, nil
}

func (s *Store) SubscribeChannelMessages(ctx context.Context, channelID string, limit int) (*store.MessageSub, error) {
	scope := "chan:" + channelID
	return subscribe(ctx, s.rdb, notifyMsgs(scope), func(ctx context.Context) ([]domain.RawDoc, error) {
		return s.readTail(ctx, scope, limit)
	}, s.log)
}

func (s *Store) SubscribeThreadMessages(ctx context.Context, threadID string, limit int) (*store.MessageSub, error) {
	scope := "thread:" + threadID
	return subscribe(ctx, s.rdb, notifyMsgs(scope), func(ctx context.Context) ([]domain.RawDoc, error) {
		return s.readTail(ctx, scope, limit)
	}, s.log)
}

func (s *Store) readTail(ctx context.Context, scope string, limit int) ([]domain.RawDoc, error) {
	stop := int64(-1)
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	ids, err := s.rdb.ZRange(ctx, msgIndexKey(scope), start, stop).Result()
	if err != nil {
		return nil, err
	}
	return s.readDocs(ctx, scope, ids)
}

func (s *Store) readDocs(ctx context.Context, scope string, ids []string) ([]domain.RawDoc, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raws, err := s.rdb.HMGet(ctx, msgDocsKey(scope), ids...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.RawDoc, 0, len(raws))
	for _, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var doc domain.RawDoc
		if err := json.Unmarshal([]byte(str), &doc); err != nil {
			s.log.Warnf("skipping undecodable record in %s: %v", scope, err)
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}

func (s *Store) SubscribeChannelThreads(ctx context.Context, serverID, channelID string) (*store.ThreadSub, error) {
	return subscribe(ctx, s.rdb, notifyThreads(serverID), func(ctx context.Context) ([]domain.Thread, error) {
		all, err := s.readThreads(ctx, serverID)
		if err != nil {
			return nil, err
		}
		out := all[:0]
		for _, t := range all {
			if t.ChannelID == channelID {
				out = append(out, t)
			}
		}
		return out, nil
	}, s.log)
}

func (s *Store) SubscribeServerThreads(ctx context.Context, serverID string) (*store.ThreadSub, error) {
	return subscribe(ctx, s.rdb, notifyThreads(serverID), func(ctx context.Context) ([]domain.Thread, error) {
		return s.readThreads(ctx, serverID)
	}, s.log)
}

func (s *Store) readThreads(ctx context.Context, serverID string) ([]domain.Thread, error) {
	// newest activity first
	ids, err := s.rdb.ZRevRange(ctx, threadIndexKey(serverID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Thread, 0, len(ids))
	for _, id := range ids {
		t, err := s.ThreadByID(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) SubscribeProfile(ctx context.Context, uid string) (*store.ProfileSub, error) {
	return subscribe(ctx, s.rdb, notifyProfile(uid), func(ctx context.Context) (domain.RawDoc, error) {
		raw, err := s.rdb.Get(ctx, profileKey(uid)).Result()
		if err == redis.Nil {
			return domain.RawDoc{"uid": uid}, nil
		}
		if err != nil {
			return nil, err
		}
		var doc domain.RawDoc
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, err
		}
		return doc, nil
	}, s.log)
}

func (s *Store) SubscribeReadCursor(ctx context.Context, uid, threadID string) (*store.CursorSub, error) {
	return subscribe(ctx, s.rdb, notifyCursor(uid, threadID), func(ctx context.Context) (*domain.ReadCursor, error) {
		raw, err := s.rdb.Get(ctx, cursorKey(uid, threadID)).Result()
		if err == redis.Nil {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		var c domain.ReadCursor
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, err
		}
		return &c, nil
	}, s.log)
}

func (s *Store) ThreadBySourceMessage(ctx context.Context, channelID, messageID string) (domain.Thread, error) {
	id, err := s.rdb.Get(ctx, threadSourceKey(channelID, messageID)).Result()
	if err == redis.Nil {
		return domain.Thread{}, crewdeck_errors.ErrNotFound
	}
	if err != nil {
		return domain.Thread{}, err
	}
	return s.ThreadByID(ctx, id)
}

func (s *Store) ThreadByID(ctx context.Context, id string) (domain.Thread, error) {
	raw, err := s.rdb.Get(ctx, threadKey(id)).Result()
	if err == redis.Nil {
		return domain.Thread{}, crewdeck_errors.ErrNotFound
	}
	if err != nil {
		return domain.Thread{}, err
	}
	var t domain.Thread
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return domain.Thread{}, fmt.Errorf("decode thread %s: %w", id, err)
	}
	return t, nil
}

func (s *Store) MessageByID(ctx context.Context, channelID, id string) (domain.RawDoc, error) {
	raw, err := s.rdb.HGet(ctx, msgDocsKey("chan:"+channelID), id).Result()
	if err == redis.Nil {
		return nil, crewdeck_errors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var doc domain.RawDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode message %s: %w", id, err)
	}
	return doc, nil
}

func (s *Store) ChannelMessagesBefore(ctx context.Context, channelID string, before int64, limit int) ([]domain.RawDoc, error) {
	scope := "chan:" + channelID
	opt := &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("(%d", before),
	}
	if limit > 0 {
		opt.Offset = 0
		opt.Count = int64(limit)
	}
	// take the newest `limit` below the cursor, then restore ascending order
	ids, err := s.rdb.ZRevRangeByScore(ctx, msgIndexKey(scope), opt).Result()
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return s.readDocs(ctx, scope, ids)
}

func (s *Store) SendChannelMessage(ctx context.Context, channelID string, doc domain.RawDoc) (string, error) {
	return s.appendMessage(ctx, "chan:"+channelID, doc)
}

func (s *Store) SendThreadMessage(ctx context.Context, threadID string, doc domain.RawDoc) (string, error) {
	id, err := s.appendMessage(ctx, "thread:"+threadID, doc)
	if err != nil {
		return "", err
	}
	t, err := s.ThreadByID(ctx, threadID)
	if err != nil {
		return id, nil
	}
	t.LastMessageAt = store.DocCreatedAt(doc)
	t.MessageCount++
	if err := s.writeThread(ctx, t); err != nil {
		s.log.Errorf("bump thread %s after send: %v", threadID, err)
	}
	return id, nil
}

func (s *Store) appendMessage(ctx context.Context, scope string, doc domain.RawDoc) (string, error) {
	doc = store.CloneDoc(doc)
	id := store.DocID(doc)
	if id == "" {
		id = uuid.NewString()
		doc["id"] = id
	}
	at := store.DocCreatedAt(doc)
	if at == 0 {
		at = time.Now().UnixMilli()
		doc["createdAt"] = at
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, msgDocsKey(scope), id, raw)
	pipe.ZAdd(ctx, msgIndexKey(scope), redis.Z{Score: float64(at), Member: id})
	pipe.Publish(ctx, notifyMsgs(scope), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) CreateThread(ctx context.Context, t domain.Thread) (string, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt == 0 {
		t.CreatedAt = time.Now().UnixMilli()
	}
	if t.Status == "" {
		t.Status = domain.ThreadActive
	}
	// SETNX on the source index is the idempotency point: one thread per
	// root message even across concurrent creates.
	ok, err := s.rdb.SetNX(ctx, threadSourceKey(t.ChannelID, t.CreatedFromMessageID), t.ID, 0).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		existing, err := s.rdb.Get(ctx, threadSourceKey(t.ChannelID, t.CreatedFromMessageID)).Result()
		if err != nil {
			return "", err
		}
		return existing, nil
	}
	if err := s.writeThread(ctx, t); err != nil {
		return "", err
	}
	return t.ID, nil
}

// ArchiveThread soft-archives a thread; threads are never hard-deleted.
func (s *Store) ArchiveThread(ctx context.Context, id string) error {
	t, err := s.ThreadByID(ctx, id)
	if err != nil {
		return err
	}
	t.Status = domain.ThreadArchived
	t.ArchivedAt = time.Now().UnixMilli()
	return s.writeThread(ctx, t)
}

func (s *Store) writeThread(ctx context.Context, t domain.Thread) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode thread: %w", err)
	}
	score := t.LastMessageAt
	if score == 0 {
		score = t.CreatedAt
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, threadKey(t.ID), raw, 0)
	pipe.ZAdd(ctx, threadIndexKey(t.ServerID), redis.Z{Score: float64(score), Member: t.ID})
	pipe.Publish(ctx, notifyThreads(t.ServerID), t.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) SetReadCursor(ctx context.Context, uid, threadID string, c domain.ReadCursor) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, cursorKey(uid, threadID), raw, 0)
	pipe.Publish(ctx, notifyCursor(uid, threadID), threadID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) SetChannelCursor(ctx context.Context, uid, channelID string, c domain.ReadCursor) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, channelCursorKey(uid, channelID), raw, 0).Err()
}

// SetProfile merges a partial profile document and notifies subscribers.
func (s *Store) SetProfile(ctx context.Context, uid string, doc domain.RawDoc) error {
	merged := domain.RawDoc{"uid": uid}
	raw, err := s.rdb.Get(ctx, profileKey(uid)).Result()
	if err == nil {
		_ = json.Unmarshal([]byte(raw), &merged)
	} else if err != redis.Nil {
		return err
	}
	for k, v := range doc {
		merged[k] = v
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, profileKey(uid), out, 0)
	pipe.Publish(ctx, notifyProfile(uid), uid)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) ToggleReaction(ctx context.Context, channelID, messageID, emoji, uid string) error {
	return s.mutateMessage(ctx, "chan:"+channelID, messageID, func(doc domain.RawDoc) {
		store.ToggleReactionDoc(doc, emoji, uid)
	})
}

func (s *Store) SubmitVote(ctx context.Context, channelID, messageID, optionID, uid string) error {
	return s.mutateMessage(ctx, "chan:"+channelID, messageID, func(doc domain.RawDoc) {
		store.SetVoteDoc(doc, optionID, uid)
	})
}

func (s *Store) SubmitFormResponse(ctx context.Context, channelID, messageID, uid string, values map[string]string) error {
	return s.mutateMessage(ctx, "chan:"+channelID, messageID, func(doc domain.RawDoc) {
		store.SetFormResponseDoc(doc, uid, values)
	})
}

func (s *Store) mutateMessage(ctx context.Context, scope, messageID string, mutate func(domain.RawDoc)) error {
	raw, err := s.rdb.HGet(ctx, msgDocsKey(scope), messageID).Result()
	if err == redis.Nil {
		return crewdeck_errors.ErrNotFound
	}
	if err != nil {
		return err
	}
	var doc domain.RawDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("decode message %s: %w", messageID, err)
	}
	mutate(doc)
	out, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, msgDocsKey(scope), messageID, out)
	pipe.Publish(ctx, notifyMsgs(scope), messageID)
	_, err = pipe.Exec(ctx)
	return err
}
