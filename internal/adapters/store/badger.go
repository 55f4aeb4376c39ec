// Package store persists call records and chat audit entries in badger.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dkeye/CallRelay/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var ErrCallExists = errors.New("call already exists")

const (
	callPrefix = "call:"
	msgPrefix  = "msg:"

	conflictRetries = 5
)

type CallStore struct {
	db  *badger.DB
	now func() time.Time
}

// Open opens a store under path, or an in-memory one when path is empty.
func Open(path string) (*CallStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger %q: %w", path, err)
	}
	log.Info().Str("module", "store").Str("path", path).Bool("in_memory", path == "").Msg("call store opened")
	return New(db), nil
}

func New(db *badger.DB) *CallStore {
	return &CallStore{db: db, now: time.Now}
}

func (s *CallStore) Close() error { return s.db.Close() }

func callKey(key domain.RoomKey) []byte { return []byte(callPrefix + string(key)) }

func msgKey(key domain.RoomKey, at time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", msgPrefix, key, at.UnixNano(), id))
}

func getCall(txn *badger.Txn, key domain.RoomKey) (domain.CallRecord, error) {
	var rec domain.CallRecord
	item, err := txn.Get(callKey(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return rec, domain.ErrCallNotFound
	}
	if err != nil {
		return rec, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	return rec, err
}

func putCall(txn *badger.Txn, rec domain.CallRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal call: %w", err)
	}
	return txn.Set(callKey(rec.RoomKey), data)
}

// update retries fn on transaction conflicts so concurrent claims resolve
// to a single winner instead of an error.
func (s *CallStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for range conflictRetries {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (s *CallStore) CreateCall(ctx context.Context, key domain.RoomKey, domainID string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		if _, err := getCall(txn, key); err == nil {
			return ErrCallExists
		} else if !errors.Is(err, domain.ErrCallNotFound) {
			return err
		}
		return putCall(txn, domain.CallRecord{RoomKey: key, DomainID: domainID, StartTime: s.now().UTC()})
	})
}

func (s *CallStore) Call(ctx context.Context, key domain.RoomKey) (domain.CallRecord, error) {
	var rec domain.CallRecord
	if err := ctx.Err(); err != nil {
		return rec, err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getCall(txn, key)
		return err
	})
	return rec, err
}

func (s *CallStore) Owner(ctx context.Context, key domain.RoomKey, side domain.Side) (domain.UserID, bool, error) {
	rec, err := s.Call(ctx, key)
	if errors.Is(err, domain.ErrCallNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	owner, ok := rec.Owner(side)
	return owner, ok, nil
}

// Claim binds user to side in one transaction. A record that does not
// exist yet is created on the fly.
func (s *CallStore) Claim(ctx context.Context, key domain.RoomKey, side domain.Side, user domain.UserID) (bool, error) {
	first := false
	err := s.update(ctx, func(txn *badger.Txn) error {
		first = false
		rec, err := getCall(txn, key)
		if errors.Is(err, domain.ErrCallNotFound) {
			rec = domain.CallRecord{RoomKey: key, DomainID: key.DomainID(), StartTime: s.now().UTC()}
		} else if err != nil {
			return err
		}
		if owner, ok := rec.Owner(side); ok {
			if owner != user {
				return domain.ErrConflictingOwner
			}
			return nil
		}
		u := user
		switch side {
		case domain.SideAgent:
			rec.AgentID = &u
		case domain.SideVisitor:
			rec.VisitorID = &u
		}
		first = true
		return putCall(txn, rec)
	})
	if err != nil {
		return false, err
	}
	return first, nil
}

func (s *CallStore) LogCallStart(ctx context.Context, key domain.RoomKey, domainID string, agentID domain.UserID) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		rec, err := getCall(txn, key)
		if errors.Is(err, domain.ErrCallNotFound) {
			rec = domain.CallRecord{RoomKey: key, DomainID: domainID, StartTime: s.now().UTC()}
		} else if err != nil {
			return err
		}
		if rec.AgentID == nil {
			a := agentID
			rec.AgentID = &a
		}
		return putCall(txn, rec)
	})
}

func (s *CallStore) LogCallEnd(ctx context.Context, key domain.RoomKey) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		rec, err := getCall(txn, key)
		if err != nil {
			return err
		}
		end := s.now().UTC()
		rec.EndTime = &end
		return putCall(txn, rec)
	})
}

func (s *CallStore) LogMessage(ctx context.Context, key domain.RoomKey, senderID domain.UserID, content string) error {
	rec := domain.ChatAuditRecord{
		ID:        uuid.NewString(),
		RoomKey:   key,
		SenderID:  senderID,
		Timestamp: s.now().UTC(),
		Content:   content,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Set(msgKey(key, rec.Timestamp, rec.ID), data)
	})
}

// Messages returns the chat audit of a call, oldest first.
func (s *CallStore) Messages(ctx context.Context, key domain.RoomKey) ([]domain.ChatAuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []domain.ChatAuditRecord
	prefix := []byte(msgPrefix + string(key) + ":")
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec domain.ChatAuditRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}
