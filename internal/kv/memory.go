package kv

import (
	"context"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and single-replica
// development runs. Semantics mirror the Redis implementation closely
// enough for the coordination logic: atomicity comes from one mutex.
type MemoryStore struct {
	mu       sync.Mutex
	strings  map[string]string
	hashes   map[string]map[string]string
	sets     map[string]map[string]struct{}
	zsets    map[string]map[string]float64
	expireAt map[string]time.Time
	subs     []*memorySub
}

type memorySub struct {
	patterns []string
	ch       chan Message
	done     <-chan struct{}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		strings:  make(map[string]string),
		hashes:   make(map[string]map[string]string),
		sets:     make(map[string]map[string]struct{}),
		zsets:    make(map[string]map[string]float64),
		expireAt: make(map[string]time.Time),
	}
}

// purgeLocked drops the key if its TTL elapsed. Callers hold mu.
func (s *MemoryStore) purgeLocked(key string) {
	if exp, ok := s.expireAt[key]; ok && time.Now().After(exp) {
		delete(s.strings, key)
		delete(s.hashes, key)
		delete(s.sets, key)
		delete(s.zsets, key)
		delete(s.expireAt, key)
	}
}

func (s *MemoryStore) setTTLLocked(key string, ttl time.Duration) {
	if ttl > 0 {
		s.expireAt[key] = time.Now().Add(ttl)
	} else {
		delete(s.expireAt, key)
	}
}

func (s *MemoryStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked(key)
	if _, exists := s.strings[key]; exists {
		return false, nil
	}
	s.strings[key] = value
	s.setTTLLocked(key, ttl)
	return true, nil
}

func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strings[key] = value
	s.setTTLLocked(key, ttl)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked(key)
	val, ok := s.strings[key]
	return val, ok, nil
}

func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.strings, key)
		delete(s.hashes, key)
		delete(s.sets, key)
		delete(s.zsets, key)
		delete(s.expireAt, key)
	}
	return nil
}

func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setTTLLocked(key, ttl)
	return nil
}

func (s *MemoryStore) Incr(ctx context.Context, key string) (int64, error) {
	return s.incrBy(key, 1)
}

func (s *MemoryStore) Decr(ctx context.Context, key string) (int64, error) {
	return s.incrBy(key, -1)
}

func (s *MemoryStore) incrBy(key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked(key)
	n, _ := strconv.ParseInt(s.strings[key], 10, 64)
	n += delta
	s.strings[key] = strconv.FormatInt(n, 10)
	return n, nil
}

func (s *MemoryStore) CompareAndDelete(ctx context.Context, key, expect string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked(key)
	if s.strings[key] != expect {
		return false, nil
	}
	delete(s.strings, key)
	delete(s.expireAt, key)
	return true, nil
}

func (s *MemoryStore) CompareAndSwap(ctx context.Context, key, old, new string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked(key)
	cur, ok := s.strings[key]
	if !ok || cur != old {
		return false, nil
	}
	s.strings[key] = new
	s.setTTLLocked(key, ttl)
	return true, nil
}

func (s *MemoryStore) SAdd(ctx context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked(key)
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) SRem(ctx context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range members {
		delete(s.sets[key], m)
	}
	return nil
}

func (s *MemoryStore) SMembers(ctx context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked(key)
	out := make([]string, 0, len(s.sets[key]))
	for m := range s.sets[key] {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) SCard(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked(key)
	return int64(len(s.sets[key])), nil
}

func (s *MemoryStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	zset, ok := s.zsets[key]
	if !ok {
		zset = make(map[string]float64)
		s.zsets[key] = zset
	}
	zset[member] = score
	return nil
}

func (s *MemoryStore) ZRem(ctx context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range members {
		delete(s.zsets[key], m)
	}
	return nil
}

func (s *MemoryStore) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type entry struct {
		member string
		score  float64
	}
	var entries []entry
	for m, sc := range s.zsets[key] {
		if sc >= min && sc <= max {
			entries = append(entries, entry{m, sc})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].score < entries[j].score })
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.member
	}
	return out, nil
}

func (s *MemoryStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked(key)
	hash, ok := s.hashes[key]
	if !ok {
		hash = make(map[string]string)
		s.hashes[key] = hash
	}
	for k, v := range fields {
		hash[k] = v
	}
	return nil
}

func (s *MemoryStore) HGet(ctx context.Context, key, field string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked(key)
	val, ok := s.hashes[key][field]
	return val, ok, nil
}

func (s *MemoryStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked(key)
	out := make(map[string]string, len(s.hashes[key]))
	for k, v := range s.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) HDel(ctx context.Context, key string, fields ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range fields {
		delete(s.hashes[key], f)
	}
	return nil
}

func (s *MemoryStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	collect := func(key string) {
		s.purgeLocked(key)
		if matchPattern(pattern, key) {
			seen[key] = struct{}{}
		}
	}
	for k := range s.strings {
		collect(k)
	}
	for k := range s.hashes {
		collect(k)
	}
	for k := range s.sets {
		collect(k)
	}
	for k := range s.zsets {
		collect(k)
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		if _, still := s.strings[k]; !still {
			if _, still = s.hashes[k]; !still {
				if _, still = s.sets[k]; !still {
					if _, still = s.zsets[k]; !still {
						continue
					}
				}
			}
		}
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Publish(ctx context.Context, channel string, payload []byte) error {
	s.mu.Lock()
	subs := make([]*memorySub, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		select {
		case <-sub.done:
			continue
		default:
		}
		for _, p := range sub.patterns {
			if matchPattern(p, channel) {
				select {
				case sub.ch <- Message{Channel: channel, Payload: append([]byte(nil), payload...)}:
				default:
				}
				break
			}
		}
	}
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, patterns ...string) (<-chan Message, error) {
	sub := &memorySub{
		patterns: patterns,
		ch:       make(chan Message, 256),
		done:     ctx.Done(),
	}
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		for i, candidate := range s.subs {
			if candidate == sub {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		close(sub.ch)
	}()
	return sub.ch, nil
}

func (s *MemoryStore) Close() error { return nil }

// matchPattern matches Redis-style glob patterns. Keys never contain '/',
// so path.Match gives the same semantics for '*' and '?'.
func matchPattern(pattern, s string) bool {
	ok, err := path.Match(pattern, s)
	return err == nil && ok
}
