// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package transcoder

import (
	"bufio"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
)

// Segment is one entry of an encoder-written media playlist.
type Segment struct {
	Name     string
	Duration float64
}

// ParsePlaylist reads #EXTINF durations and the segment names that follow
// them from an HLS media playlist. Names are reduced to their base name.
func ParsePlaylist(r io.Reader) ([]Segment, error) {
	sc := bufio.NewScanner(r)
	var (
		out     []Segment
		pending = -1.0
		lineNo  int
		sawHead bool
	)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case line == "#EXTM3U":
			sawHead = true
		case strings.HasPrefix(line, "#EXTINF:"):
			v := strings.TrimPrefix(line, "#EXTINF:")
			if i := strings.IndexByte(v, ','); i >= 0 {
				v = v[:i]
			}
			d, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil || d < 0 {
				return nil, fmt.Errorf("line %d: invalid EXTINF duration %q", lineNo, v)
			}
			pending = d
		case strings.HasPrefix(line, "#"):
			continue
		default:
			if pending < 0 {
				return nil, fmt.Errorf("line %d: segment %q without EXTINF", lineNo, line)
			}
			out = append(out, Segment{Name: path.Base(strings.ReplaceAll(line, "\\", "/")), Duration: pending})
			pending = -1
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if !sawHead {
		return nil, fmt.Errorf("missing #EXTM3U header")
	}
	return out, nil
}
