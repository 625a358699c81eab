package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strconv"
	"strings"

	"contentdir/internal/cds"
)

// FFmpegHandler probes audio/video containers by shelling out to ffprobe —
// the same approach the original implementation takes (it links libav
// directly; we have no Go binding for that in the corpus, so the external
// CLI is the grounded equivalent rather than a reimplemented demuxer). See
// DESIGN.md.
type FFmpegHandler struct {
	// FFprobePath overrides the binary name/path; empty means "ffprobe" on
	// PATH.
	FFprobePath string
}

func (h FFmpegHandler) HandlerType() string { return cds.HandlerFFmpeg }

func (FFmpegHandler) Accepts(mimeType string) bool {
	return strings.HasPrefix(mimeType, "video/") || strings.HasPrefix(mimeType, "audio/")
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
	BitRate  string `json:"bit_rate"`
}

type ffprobeStream struct {
	CodecType string `json:"codec_type"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Channels  int    `json:"channels"`
}

type ffprobeOutput struct {
	Format  ffprobeFormat    `json:"format"`
	Streams []ffprobeStream  `json:"streams"`
}

func (h FFmpegHandler) FillMetadata(ctx context.Context, path string, obj cds.CdsObject) error {
	bin := h.FFprobePath
	if bin == "" {
		bin = "ffprobe"
	}
	cmd := exec.CommandContext(ctx, bin,
		"-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", path)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		// ffprobe missing or the file isn't a container it understands —
		// not fatal, the item still gets the "default" resource.
		return nil
	}

	var out ffprobeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return &cds.HandlerError{Handler: cds.HandlerFFmpeg, Cause: err}
	}

	head := obj.Head()
	for i := range head.Resources {
		if head.Resources[i].HandlerType != cds.HandlerDefault {
			continue
		}
		if out.Format.Duration != "" {
			head.Resources[i].Attributes[cds.AttrDuration] = formatDuration(out.Format.Duration)
		}
		if out.Format.BitRate != "" {
			head.Resources[i].Attributes[cds.AttrBitrate] = out.Format.BitRate
		}
		for _, s := range out.Streams {
			switch s.CodecType {
			case "video":
				if s.Width > 0 && s.Height > 0 {
					head.Resources[i].Attributes[cds.AttrResolution] = cds.FormatResolution(s.Width, s.Height)
				}
			case "audio":
				if s.Channels > 0 {
					head.Resources[i].Attributes[cds.AttrAudioChannels] = strconv.Itoa(s.Channels)
				}
			}
		}
	}
	return nil
}

// formatDuration renders ffprobe's fractional-seconds duration as
// "H:MM:SS" the way res@duration expects it.
func formatDuration(seconds string) string {
	f, err := strconv.ParseFloat(seconds, 64)
	if err != nil {
		return seconds
	}
	total := int(f)
	hh := total / 3600
	mm := (total % 3600) / 60
	ss := total % 60
	return strconv.Itoa(hh) + ":" + pad2(mm) + ":" + pad2(ss)
}

func pad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

var _ Handler = FFmpegHandler{}
