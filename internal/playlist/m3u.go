// SPDX-License-Identifier: MIT

// Package playlist renders the client-facing HLS media playlist for a
// sequence of tracks.
package playlist

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"net/url"
	"strconv"
	"strings"
)

// Options are the per-request playlist parameters.
type Options struct {
	// BaseURL prefixes every segment URL, e.g. https://host/api/hls.
	BaseURL        string
	Token          string
	PlaylistID     string
	SegmentSeconds int
}

// Item is one track in playback order.
type Item struct {
	TrackID string
	Title   string
	// Duration is the upstream track length in seconds, used when no
	// cached segment durations are known.
	Duration float64
	// Durations are the exact cached segment lengths. Nil means estimate.
	Durations []float64
}

// Build writes a VOD playlist for items. Tracks are separated by
// EXT-X-DISCONTINUITY so players reset timestamps at track boundaries.
func Build(w io.Writer, opts Options, items []Item) error {
	if opts.SegmentSeconds <= 0 {
		return fmt.Errorf("playlist: segment duration must be positive")
	}

	type track struct {
		item      Item
		durations []float64
	}
	tracks := make([]track, 0, len(items))
	target := opts.SegmentSeconds
	for _, it := range items {
		ds := it.Durations
		if ds == nil {
			ds = EstimateDurations(it.Duration, opts.SegmentSeconds)
		}
		for _, d := range ds {
			if c := int(math.Ceil(d)); c > target {
				target = c
			}
		}
		tracks = append(tracks, track{item: it, durations: ds})
	}

	buf := &bytes.Buffer{}
	buf.WriteString("#EXTM3U\n")
	buf.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(buf, "#EXT-X-TARGETDURATION:%d\n", target)
	buf.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	buf.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	for i, t := range tracks {
		if i > 0 {
			buf.WriteString("#EXT-X-DISCONTINUITY\n")
		}
		title := sanitizeTitle(t.item.Title)
		for idx, d := range t.durations {
			fmt.Fprintf(buf, "#EXTINF:%s,%s\n", strconv.FormatFloat(d, 'f', 3, 64), title)
			buf.WriteString(SegmentURL(opts.BaseURL, opts.Token, opts.PlaylistID, t.item.TrackID, idx))
			buf.WriteByte('\n')
		}
	}
	buf.WriteString("#EXT-X-ENDLIST\n")

	_, err := io.Copy(w, buf)
	return err
}

// EstimateDurations splits total seconds into ceil(total/segment) entries,
// the last one truncated to the remainder. An unknown length yields one
// full segment so the track stays addressable.
func EstimateDurations(total float64, segment int) []float64 {
	if segment <= 0 {
		return nil
	}
	seg := float64(segment)
	if total <= 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return []float64{seg}
	}
	n := int(math.Ceil(total / seg))
	out := make([]float64, n)
	for i := range out {
		out[i] = seg
	}
	if rem := total - seg*float64(n-1); rem < seg {
		out[n-1] = rem
	}
	return out
}

// SegmentURL returns {base}/{token}/{playlistID}/seg/{trackID}/{index}.
func SegmentURL(base, token, playlistID, trackID string, index int) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(base, "/"))
	for _, p := range []string{token, playlistID, "seg", trackID} {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(p))
	}
	b.WriteByte('/')
	b.WriteString(strconv.Itoa(index))
	return b.String()
}

func sanitizeTitle(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		return r
	}, s)
}
