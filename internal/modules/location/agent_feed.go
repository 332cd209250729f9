// README: Delivery-agent positions read from the Firebase RTDB location feed.
package location

import (
	"context"
	"errors"
	"fmt"
	"time"

	"firebase.google.com/go/v4/db"

	"dropmart/internal/types"
)

const agentLocationsNode = "agent_locations"

var (
	ErrNoFix    = errors.New("location: no position reported")
	ErrStaleFix = errors.New("location: position too old")
)

// Fix is a reported position and when the device recorded it.
type Fix struct {
	Position   types.Point
	RecordedAt time.Time
}

// rtdbAgentEntry mirrors /agent_locations/{agentId} written by the agent app.
type rtdbAgentEntry struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Timestamp int64   `json:"timestamp"`
}

type pathReader interface {
	Get(ctx context.Context, path string, v any) error
}

type rtdbReader struct {
	client *db.Client
}

func (r rtdbReader) Get(ctx context.Context, path string, v any) error {
	return r.client.NewRef(path).Get(ctx, v)
}

// AgentFeed resolves an agent's current position from RTDB, rejecting fixes
// older than maxAge.
type AgentFeed struct {
	reader pathReader
	maxAge time.Duration
	now    func() time.Time
}

func NewAgentFeed(client *db.Client, maxAge time.Duration) *AgentFeed {
	return &AgentFeed{reader: rtdbReader{client: client}, maxAge: maxAge, now: time.Now}
}

func (f *AgentFeed) AgentPosition(ctx context.Context, agentID types.ID) (Fix, error) {
	var entry *rtdbAgentEntry
	if err := f.reader.Get(ctx, agentLocationsNode+"/"+string(agentID), &entry); err != nil {
		return Fix{}, fmt.Errorf("reading agent %s location: %w", agentID, err)
	}
	if entry == nil || entry.Timestamp == 0 {
		return Fix{}, ErrNoFix
	}
	fix := Fix{
		Position:   types.Point{Lat: entry.Lat, Lng: entry.Lng},
		RecordedAt: time.UnixMilli(entry.Timestamp),
	}
	if f.maxAge > 0 && f.now().Sub(fix.RecordedAt) > f.maxAge {
		return fix, ErrStaleFix
	}
	return fix, nil
}
