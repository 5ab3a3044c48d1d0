// Package syncengine computes and applies the one-way diff that makes a
// target playlist mirror its source, resolving track identities across
// services through the links resolver.
package syncengine

import (
	"fmt"
	"strings"

	"github.com/mthorsen/playlistwatch/internal/provider"
)

// idKey is exact identity on one service.
func idKey(svc provider.Service, externalID string) string {
	return string(svc) + ":" + externalID
}

// metadataKey is the fallback equality class for tracks that cannot be
// resolved by id: case-folded, whitespace-collapsed artist and title plus
// duration rounded to the nearest second. Good enough to stop re-adding the
// same song every cycle, loose enough to survive per-service duration jitter.
func metadataKey(track provider.Track) string {
	seconds := (track.DurationMS + 500) / 1000
	return fmt.Sprintf("%s|%s|%d", normalize(track.Artist), normalize(track.Title), seconds)
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// dedupe keeps the first occurrence of each track, by id when present and
// by metadata otherwise.
func dedupe(tracks []provider.Track) []provider.Track {
	seen := make(map[string]struct{}, len(tracks))
	out := make([]provider.Track, 0, len(tracks))
	for _, track := range tracks {
		key := metadataKey(track)
		if track.ExternalID != "" {
			key = idKey(track.Service, track.ExternalID)
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, track)
	}
	return out
}
