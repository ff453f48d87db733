package models

import (
	"sort"
	"strconv"
	"time"
)

// BucketWidth is the window observations are coalesced into.
const BucketWidth = 5 * time.Minute

// Activity values.
const (
	ActivityUnknown = "-"
	ActivityActive  = "*"
)

// Debris tokens.
const (
	DebrisYes = "yes"
	DebrisNo  = "no"
)

// Observation is one point-in-time sighting of a subject at a coordinate.
type Observation struct {
	SubjectKey      string `json:"subjectKey"`
	SubjectName     string `json:"subjectName"`
	Coordinate      string `json:"coordinate"`
	SeenAt          int64  `json:"seenAt"`
	BucketTimestamp int64  `json:"bucketTimestamp"`
	PlanetActivity  string `json:"planetActivity"`
	MoonActivity    string `json:"moonActivity"`
	DebrisPresent   string `json:"debrisPresent"`
}

// BucketID returns the aggregate key of the bucket this observation falls in.
func (o Observation) BucketID() string {
	return BucketID(o.SubjectKey, o.Coordinate, o.BucketTimestamp)
}

// BucketID joins the bucket key triple.
func BucketID(subjectKey, coordinate string, bucketTimestamp int64) string {
	return subjectKey + "|" + coordinate + "|" + strconv.FormatInt(bucketTimestamp, 10)
}

// ActivityEntry is the retained sample of a bucket.
type ActivityEntry struct {
	SeenAt int64  `json:"seenAt"`
	Planet string `json:"planet"`
	Moon   string `json:"moon"`
	Debris string `json:"debris"`
}

// ActivityBucket holds the latest observation of a subject at a coordinate
// within one bucket window.
type ActivityBucket struct {
	ID              string        `json:"id"`
	SubjectKey      string        `json:"subjectKey"`
	SubjectName     string        `json:"subjectName"`
	Coordinate      string        `json:"coordinate"`
	BucketTimestamp int64         `json:"bucketTimestamp"`
	Entry           ActivityEntry `json:"entry"`
	LastUpdated     int64         `json:"lastUpdated"`
}

// PlayerSummary tracks the most recent sighting of a subject.
type PlayerSummary struct {
	SubjectKey  string `json:"subjectKey"`
	SubjectName string `json:"subjectName"`
	LastSeen    int64  `json:"lastSeen"`
}

// Activity is the merged observation log.
type Activity struct {
	Players   map[string]PlayerSummary  `json:"players"`
	Buckets   map[string]ActivityBucket `json:"buckets"`
	UpdatedAt int64                     `json:"updatedAt"`
}

// NewActivity returns an empty aggregate.
func NewActivity() Activity {
	return Activity{
		Players: map[string]PlayerSummary{},
		Buckets: map[string]ActivityBucket{},
	}
}

// Clone returns a copy that shares nothing with the receiver.
func (a Activity) Clone() Activity {
	out := Activity{
		Players:   make(map[string]PlayerSummary, len(a.Players)),
		Buckets:   make(map[string]ActivityBucket, len(a.Buckets)),
		UpdatedAt: a.UpdatedAt,
	}
	for k, v := range a.Players {
		out.Players[k] = v
	}
	for k, v := range a.Buckets {
		out.Buckets[k] = v
	}
	return out
}

// ActivitySummary is the compact view of the activity log returned by default.
type ActivitySummary struct {
	Players     []PlayerSummary `json:"players"`
	BucketCount int             `json:"bucketCount"`
	UpdatedAt   int64           `json:"updatedAt"`
}

// Summary lists players by most recent sighting first.
func (a Activity) Summary() ActivitySummary {
	players := make([]PlayerSummary, 0, len(a.Players))
	for _, p := range a.Players {
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool {
		if players[i].LastSeen != players[j].LastSeen {
			return players[i].LastSeen > players[j].LastSeen
		}
		return players[i].SubjectKey < players[j].SubjectKey
	})
	return ActivitySummary{
		Players:     players,
		BucketCount: len(a.Buckets),
		UpdatedAt:   a.UpdatedAt,
	}
}

// SharedCoords maps a subject key to the coordinates it has been seen at.
type SharedCoords map[string][]string

// Clone returns a deep copy.
func (s SharedCoords) Clone() SharedCoords {
	out := make(SharedCoords, len(s))
	for k, v := range s {
		out[k] = append([]string(nil), v...)
	}
	return out
}
