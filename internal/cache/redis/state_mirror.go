package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// stateTTL bounds how long a venue observation survives without being
// refreshed, so a dead process does not leave live-looking state behind.
const stateTTL = 10 * time.Minute

// StateMirror implements domain.StateMirror using Redis hashes. Each venue's
// latest observation lives at "venue:{id}" with fields pair, quote, base,
// fee and ts (Unix nanoseconds).
type StateMirror struct {
	rdb *redis.Client
}

// NewStateMirror creates a StateMirror backed by the given Client.
func NewStateMirror(c *Client) *StateMirror {
	return &StateMirror{rdb: c.Underlying()}
}

func venueKey(venueID string) string {
	return "venue:" + venueID
}

func stateFields(pair string, s domain.VenueState) map[string]interface{} {
	return map[string]interface{}{
		"pair":  pair,
		"quote": strconv.FormatFloat(s.QuoteReserve, 'f', -1, 64),
		"base":  strconv.FormatFloat(s.BaseReserve, 'f', -1, 64),
		"fee":   strconv.FormatFloat(s.FeeRate, 'f', -1, 64),
		"ts":    strconv.FormatInt(s.ObservedAt.UnixNano(), 10),
	}
}

func parseState(venueID string, vals map[string]string) (domain.VenueState, error) {
	if len(vals) == 0 {
		return domain.VenueState{}, domain.ErrNotFound
	}
	st := domain.VenueState{VenueID: venueID}
	for field, dst := range map[string]*float64{
		"quote": &st.QuoteReserve,
		"base":  &st.BaseReserve,
		"fee":   &st.FeeRate,
	} {
		raw, ok := vals[field]
		if !ok {
			return domain.VenueState{}, domain.ErrNotFound
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return domain.VenueState{}, fmt.Errorf("redis: parse %s of %s: %w", field, venueID, err)
		}
		*dst = v
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.VenueState{}, fmt.Errorf("redis: parse ts of %s: %w", venueID, err)
	}
	st.ObservedAt = time.Unix(0, tsNano).UTC()
	return st, nil
}

// PutState stores the latest observation of a venue.
func (m *StateMirror) PutState(ctx context.Context, pair string, state domain.VenueState) error {
	key := venueKey(state.VenueID)
	pipe := m.rdb.TxPipeline()
	pipe.HSet(ctx, key, stateFields(pair, state))
	pipe.Expire(ctx, key, stateTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: put state %s: %w", state.VenueID, err)
	}
	return nil
}

// GetState retrieves the latest observation of a venue. It returns
// domain.ErrNotFound when nothing has been mirrored.
func (m *StateMirror) GetState(ctx context.Context, venueID string) (domain.VenueState, error) {
	vals, err := m.rdb.HGetAll(ctx, venueKey(venueID)).Result()
	if err != nil {
		return domain.VenueState{}, fmt.Errorf("redis: get state %s: %w", venueID, err)
	}
	return parseState(venueID, vals)
}

// GetStates retrieves several venues with one pipeline. Venues without a
// mirrored state are omitted.
func (m *StateMirror) GetStates(ctx context.Context, venueIDs []string) (map[string]domain.VenueState, error) {
	if len(venueIDs) == 0 {
		return map[string]domain.VenueState{}, nil
	}

	pipe := m.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(venueIDs))
	for _, id := range venueIDs {
		cmds[id] = pipe.HGetAll(ctx, venueKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get states pipeline: %w", err)
	}

	out := make(map[string]domain.VenueState, len(venueIDs))
	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		st, err := parseState(id, vals)
		if err != nil {
			continue
		}
		out[id] = st
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.StateMirror = (*StateMirror)(nil)
