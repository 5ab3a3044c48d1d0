package spotify

import (
	"strings"

	"github.com/mthorsen/playlistwatch/internal/provider"
)

// API payload shapes, trimmed to the fields the adapter reads.

type playlistPage struct {
	Items []playlistItem `json:"items"`
	Next  string         `json:"next"`
	Total int            `json:"total"`
}

type playlistItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Public      bool   `json:"public"`
	Owner       struct {
		ID string `json:"id"`
	} `json:"owner"`
	Tracks struct {
		Total int `json:"total"`
	} `json:"tracks"`
}

func (p playlistItem) toPlaylist() provider.Playlist {
	return provider.Playlist{
		Service:     provider.ServiceSpotify,
		ExternalID:  p.ID,
		Name:        p.Name,
		Description: p.Description,
		TotalTracks: p.Tracks.Total,
		Public:      p.Public,
		OwnerID:     p.Owner.ID,
	}
}

type trackPage struct {
	Items []trackItem `json:"items"`
	Next  string      `json:"next"`
	Total int         `json:"total"`
}

type trackItem struct {
	Track trackObject `json:"track"`
}

type trackObject struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	DurationMS int    `json:"duration_ms"`
	Artists    []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Album struct {
		Name string `json:"name"`
	} `json:"album"`
	ExternalURLs struct {
		Spotify string `json:"spotify"`
	} `json:"external_urls"`
}

func (t trackObject) toTrack() provider.Track {
	names := make([]string, 0, len(t.Artists))
	for _, artist := range t.Artists {
		names = append(names, artist.Name)
	}
	return provider.Track{
		Service:    provider.ServiceSpotify,
		ExternalID: t.ID,
		Title:      t.Name,
		Artist:     strings.Join(names, ", "),
		Album:      t.Album.Name,
		DurationMS: t.DurationMS,
		URL:        t.ExternalURLs.Spotify,
	}
}
