// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package transcoder

import (
	"fmt"
	"path/filepath"
	"strconv"
)

// PlaylistName is the encoder's own VOD playlist inside the output dir.
const PlaylistName = "index.m3u8"

// EncodeParams describes one encoder invocation.
type EncodeParams struct {
	// CoverPath is the still image. Empty renders a black background.
	CoverPath string
	AudioPath string
	OutDir    string

	Width          int
	Height         int
	FPS            int
	SegmentSeconds int
	Threads        int
}

// BuildArgs returns the ffmpeg arguments that render a still cover over the
// audio as H.264/AAC HLS segments. Keyframes are forced on every segment
// boundary and scene-cut detection is off, so the segmenter cuts exactly at
// SegmentSeconds.
func BuildArgs(p EncodeParams) []string {
	fps := max(p.FPS, 1)
	seg := max(p.SegmentSeconds, 1)
	size := fmt.Sprintf("%dx%d", p.Width, p.Height)

	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error", "-y"}
	if p.CoverPath != "" {
		args = append(args, "-loop", "1", "-framerate", strconv.Itoa(fps), "-i", p.CoverPath)
	} else {
		args = append(args, "-f", "lavfi", "-i", fmt.Sprintf("color=c=black:s=%s:r=%d", size, fps))
	}
	args = append(args,
		"-i", p.AudioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-vf", fmt.Sprintf(
			"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,format=yuv420p",
			p.Width, p.Height, p.Width, p.Height),
		"-r", strconv.Itoa(fps),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "stillimage",
		"-g", strconv.Itoa(fps*seg),
		"-keyint_min", strconv.Itoa(fps*seg),
		"-sc_threshold", "0",
		"-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", seg),
		"-c:a", "aac",
		"-b:a", "192k",
		"-ac", "2",
		"-shortest",
	)
	if p.Threads > 0 {
		args = append(args, "-threads", strconv.Itoa(p.Threads))
	}
	args = append(args,
		"-f", "hls",
		"-hls_time", strconv.Itoa(seg),
		"-hls_list_size", "0",
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(p.OutDir, "segment_%03d.ts"),
		filepath.Join(p.OutDir, PlaylistName),
	)
	return args
}
