package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/aarutech20/indicVoice/internal/store"
)

const defaultKeyPrefix = "indicvoice"

// Options configure the Redis connection.
type Options struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
	KeyPrefix   string
}

// Store is a store.Store backed by Redis.
type Store struct {
	rdb    *goredis.Client
	prefix string
}

var _ store.Store = (*Store)(nil)

var createSessionScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'language_code', ARGV[1], 'active', ARGV[2], 'created_at', ARGV[3], 'updated_at', ARGV[4])
return 1
`)

var endSessionScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], 'active', '0')
local current = tonumber(redis.call('HGET', KEYS[1], 'updated_at'))
if tonumber(ARGV[1]) > current then
	redis.call('HSET', KEYS[1], 'updated_at', ARGV[1])
end
return 1
`)

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, opts Options) (*Store, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		PoolSize:    opts.PoolSize,
		DialTimeout: opts.DialTimeout,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}

	return New(rdb, opts.KeyPrefix), nil
}

// New wraps an existing client. An empty prefix selects the default.
func New(rdb *goredis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) sessionKey(id string) string { return s.prefix + ":session:" + id }
func (s *Store) resultsKey(id string) string { return s.prefix + ":results:" + id }
func (s *Store) seqKey() string              { return s.prefix + ":results:seq" }

// CreateSessionIfAbsent implements store.Store.
func (s *Store) CreateSessionIfAbsent(ctx context.Context, sess store.Session) (*store.Session, bool, error) {
	created, err := createSessionScript.Run(ctx, s.rdb,
		[]string{s.sessionKey(sess.ID)},
		sess.LanguageCode, formatBool(sess.Active), toMicros(sess.CreatedAt), toMicros(sess.UpdatedAt),
	).Int()
	if err != nil {
		return nil, false, fmt.Errorf("create session: %w", err)
	}

	stored, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		return nil, false, err
	}
	return stored, created == 1, nil
}

// GetSession implements store.Store.
func (s *Store) GetSession(ctx context.Context, id string) (*store.Session, error) {
	fields, err := s.rdb.HGetAll(ctx, s.sessionKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if len(fields) == 0 {
		return nil, store.ErrNotFound
	}

	createdAt, err := parseMicros(fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("session %s created_at: %w", id, err)
	}
	updatedAt, err := parseMicros(fields["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("session %s updated_at: %w", id, err)
	}

	return &store.Session{
		ID:           id,
		LanguageCode: fields["language_code"],
		Active:       fields["active"] == "1",
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}, nil
}

// EndSession implements store.Store.
func (s *Store) EndSession(ctx context.Context, id string, at time.Time) (bool, error) {
	existed, err := endSessionScript.Run(ctx, s.rdb, []string{s.sessionKey(id)}, toMicros(at)).Int()
	if err != nil {
		return false, fmt.Errorf("end session: %w", err)
	}
	return existed == 1, nil
}

type resultRecord struct {
	ChunkNumber int      `json:"chunk_number"`
	Text        string   `json:"text"`
	Confidence  *float64 `json:"confidence,omitempty"`
	Timestamp   int64    `json:"ts"`
}

// AppendResult implements store.Store. The sequence number is drawn before
// the write, so a failed ZADD leaves a gap in IDs but never a partial record.
func (s *Store) AppendResult(ctx context.Context, r store.ChunkResult) (*store.ChunkResult, error) {
	exists, err := s.rdb.Exists(ctx, s.sessionKey(r.SessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("check session: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("append result for session %s: %w", r.SessionID, store.ErrNotFound)
	}

	id, err := s.rdb.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("next result id: %w", err)
	}

	payload, err := json.Marshal(resultRecord{
		ChunkNumber: r.ChunkNumber,
		Text:        r.Text,
		Confidence:  r.Confidence,
		Timestamp:   r.Timestamp.UTC().UnixMicro(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}

	member := fmt.Sprintf("%020d|%s", id, payload)
	if err := s.rdb.ZAdd(ctx, s.resultsKey(r.SessionID), goredis.Z{
		Score:  float64(r.ChunkNumber),
		Member: member,
	}).Err(); err != nil {
		return nil, fmt.Errorf("insert result: %w", err)
	}

	out := r
	out.ID = id
	out.Timestamp = time.UnixMicro(r.Timestamp.UTC().UnixMicro()).UTC()
	return &out, nil
}

// ListResults implements store.Store.
func (s *Store) ListResults(ctx context.Context, sessionID string) ([]store.ChunkResult, error) {
	members, err := s.rdb.ZRange(ctx, s.resultsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}

	results := make([]store.ChunkResult, 0, len(members))
	for _, m := range members {
		r, err := decodeMember(sessionID, m)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

func decodeMember(sessionID, member string) (store.ChunkResult, error) {
	seq, payload, ok := strings.Cut(member, "|")
	if !ok {
		return store.ChunkResult{}, fmt.Errorf("malformed result member %q", member)
	}

	id, err := strconv.ParseInt(seq, 10, 64)
	if err != nil {
		return store.ChunkResult{}, fmt.Errorf("result id: %w", err)
	}

	var rec resultRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return store.ChunkResult{}, fmt.Errorf("decode result %d: %w", id, err)
	}

	return store.ChunkResult{
		ID:          id,
		SessionID:   sessionID,
		ChunkNumber: rec.ChunkNumber,
		Text:        rec.Text,
		Confidence:  rec.Confidence,
		Timestamp:   time.UnixMicro(rec.Timestamp).UTC(),
	}, nil
}

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the client.
func (s *Store) Close() error {
	if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		return err
	}
	return nil
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func toMicros(t time.Time) string {
	return strconv.FormatInt(t.UTC().UnixMicro(), 10)
}

func parseMicros(v string) (time.Time, error) {
	us, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMicro(us).UTC(), nil
}
