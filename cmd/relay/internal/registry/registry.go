package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

const (
	countPrefix       = "stock:count:"
	sessionPrefix     = "session:stocks:"
	userSessionPrefix = "user:sessions:"
)

// ErrUnavailable wraps every failure of the backing store.
var ErrUnavailable = errors.New("subscription registry unavailable")

// Transition reports the effect of a session attach or detach.
// Changed is false when the session set already held (or lacked) the symbol,
// in which case the counter was not touched. Edge is true on 0->1 for an
// attach and on ->0 for a detach.
type Transition struct {
	Changed bool
	Edge    bool
	Count   int64
}

// DECR and DEL in one step so a concurrent INCR can't land between them.
var unsubscribeScript = redis.NewScript(`
local n = redis.call('DECR', KEYS[1])
if n <= 0 then
	redis.call('DEL', KEYS[1])
end
return n
`)

var attachScript = redis.NewScript(`
if redis.call('SADD', KEYS[1], ARGV[1]) == 0 then
	return {0, tonumber(redis.call('GET', KEYS[2]) or '0')}
end
return {1, redis.call('INCR', KEYS[2])}
`)

var detachScript = redis.NewScript(`
if redis.call('SREM', KEYS[1], ARGV[1]) == 0 then
	return {0, tonumber(redis.call('GET', KEYS[2]) or '0')}
end
local n = redis.call('DECR', KEYS[2])
if n <= 0 then
	redis.call('DEL', KEYS[2])
end
return {1, n}
`)

// Registry is the cluster-wide subscription bookkeeping shared by every
// relay node through Redis.
type Registry struct {
	client redis.UniversalClient
}

func New(client redis.UniversalClient) *Registry {
	return &Registry{client: client}
}

func CountKey(symbol string) string        { return countPrefix + symbol }
func SessionKey(sessionID string) string   { return sessionPrefix + sessionID }
func UserSessionsKey(userID string) string { return userSessionPrefix + userID }

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

// Subscribe increments the global count and reports whether this call took
// it from 0 to 1.
func (r *Registry) Subscribe(ctx context.Context, symbol string) (bool, error) {
	n, err := r.client.Incr(ctx, CountKey(symbol)).Result()
	if err != nil {
		return false, unavailable("subscribe "+symbol, err)
	}
	return n == 1, nil
}

// Unsubscribe decrements the global count, removing the key once it reaches
// zero, and reports whether this call released the last subscriber.
func (r *Registry) Unsubscribe(ctx context.Context, symbol string) (bool, error) {
	n, err := unsubscribeScript.Run(ctx, r.client, []string{CountKey(symbol)}).Int64()
	if err != nil {
		return false, unavailable("unsubscribe "+symbol, err)
	}
	return n <= 0, nil
}

// AttachSession records symbol on the session and, only if it was not
// already there, increments the global count.
func (r *Registry) AttachSession(ctx context.Context, sessionID, symbol string) (Transition, error) {
	res, err := attachScript.Run(ctx, r.client, []string{SessionKey(sessionID), CountKey(symbol)}, symbol).Int64Slice()
	if err != nil {
		return Transition{}, unavailable("attach "+symbol, err)
	}
	t := Transition{Changed: res[0] == 1, Count: res[1]}
	t.Edge = t.Changed && t.Count == 1
	return t, nil
}

// DetachSession removes symbol from the session and, only if it was there,
// decrements the global count.
func (r *Registry) DetachSession(ctx context.Context, sessionID, symbol string) (Transition, error) {
	res, err := detachScript.Run(ctx, r.client, []string{SessionKey(sessionID), CountKey(symbol)}, symbol).Int64Slice()
	if err != nil {
		return Transition{}, unavailable("detach "+symbol, err)
	}
	t := Transition{Changed: res[0] == 1, Count: res[1]}
	t.Edge = t.Changed && t.Count <= 0
	if t.Count < 0 {
		t.Count = 0
	}
	return t, nil
}

// Count returns the global subscriber count for symbol (0 when absent).
func (r *Registry) Count(ctx context.Context, symbol string) (int64, error) {
	n, err := r.client.Get(ctx, CountKey(symbol)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("count "+symbol, err)
	}
	return n, nil
}

func (r *Registry) AddSessionSymbol(ctx context.Context, sessionID, symbol string) error {
	if err := r.client.SAdd(ctx, SessionKey(sessionID), symbol).Err(); err != nil {
		return unavailable("add session symbol", err)
	}
	return nil
}

func (r *Registry) RemoveSessionSymbol(ctx context.Context, sessionID, symbol string) error {
	if err := r.client.SRem(ctx, SessionKey(sessionID), symbol).Err(); err != nil {
		return unavailable("remove session symbol", err)
	}
	return nil
}

// SessionSymbols returns the symbols attached to a session, sorted.
func (r *Registry) SessionSymbols(ctx context.Context, sessionID string) ([]string, error) {
	symbols, err := r.client.SMembers(ctx, SessionKey(sessionID)).Result()
	if err != nil {
		return nil, unavailable("session symbols", err)
	}
	sort.Strings(symbols)
	return symbols, nil
}

func (r *Registry) DeleteSession(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, SessionKey(sessionID)).Err(); err != nil {
		return unavailable("delete session", err)
	}
	return nil
}

func (r *Registry) AddUserSession(ctx context.Context, userID, sessionID string) error {
	if err := r.client.SAdd(ctx, UserSessionsKey(userID), sessionID).Err(); err != nil {
		return unavailable("add user session", err)
	}
	return nil
}

// RemoveUserSession drops the session from the user's index; the index key
// disappears with its last member.
func (r *Registry) RemoveUserSession(ctx context.Context, userID, sessionID string) error {
	if err := r.client.SRem(ctx, UserSessionsKey(userID), sessionID).Err(); err != nil {
		return unavailable("remove user session", err)
	}
	return nil
}

func (r *Registry) UserSessions(ctx context.Context, userID string) ([]string, error) {
	ids, err := r.client.SMembers(ctx, UserSessionsKey(userID)).Result()
	if err != nil {
		return nil, unavailable("user sessions", err)
	}
	sort.Strings(ids)
	return ids, nil
}
