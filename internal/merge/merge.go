// Package merge folds observation batches into the server's append-only
// aggregates. Every function is pure: inputs are never mutated.
package merge

import (
	"github.com/joescharf/scoutsync/internal/models"
	"github.com/joescharf/scoutsync/internal/normalize"
)

// MergeActivity merges a batch of normalized observations into an activity
// aggregate. Within a bucket the observation with the greatest seenAt is
// retained; an equal seenAt replaces the entry, so re-applying a batch leaves
// the bucket content unchanged.
func MergeActivity(existing models.Activity, batch []models.Observation) models.Activity {
	out := existing.Clone()
	for _, obs := range batch {
		id := obs.BucketID()
		entry := models.ActivityEntry{
			SeenAt: obs.SeenAt,
			Planet: obs.PlanetActivity,
			Moon:   obs.MoonActivity,
			Debris: obs.DebrisPresent,
		}

		bucket, ok := out.Buckets[id]
		switch {
		case !ok:
			out.Buckets[id] = models.ActivityBucket{
				ID:              id,
				SubjectKey:      obs.SubjectKey,
				SubjectName:     obs.SubjectName,
				Coordinate:      obs.Coordinate,
				BucketTimestamp: obs.BucketTimestamp,
				Entry:           entry,
				LastUpdated:     obs.SeenAt,
			}
		case obs.SeenAt >= bucket.LastUpdated:
			bucket.Entry = entry
			bucket.LastUpdated = obs.SeenAt
			if obs.SubjectName != "" {
				bucket.SubjectName = obs.SubjectName
			}
			out.Buckets[id] = bucket
		}

		player, ok := out.Players[obs.SubjectKey]
		if !ok || obs.SeenAt >= player.LastSeen {
			out.Players[obs.SubjectKey] = models.PlayerSummary{
				SubjectKey:  obs.SubjectKey,
				SubjectName: obs.SubjectName,
				LastSeen:    obs.SeenAt,
			}
		}
	}
	return out
}

// MergeSharedCoords unions a coordinate batch into the per-subject index.
// Coordinates are never removed; each list stays sorted and deduplicated.
func MergeSharedCoords(existing, batch models.SharedCoords) models.SharedCoords {
	out := existing.Clone()
	for key, coords := range batch {
		if key == "" || len(coords) == 0 {
			continue
		}
		merged := normalize.Coords(append(out[key], coords...))
		if len(merged) == 0 {
			continue
		}
		normalize.SortCoords(merged)
		out[key] = merged
	}
	return out
}
