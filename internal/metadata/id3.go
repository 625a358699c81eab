package metadata

import (
	"context"
	"encoding/binary"
	"io"
	"os"
	"strings"

	"contentdir/internal/cds"
)

// ID3Handler extracts title/artist/album/genre/track from an ID3v2 header,
// the tag format MP3/FLAC files carry. The corpus has no tag-parsing
// library (no dhowden/tag or id3v2 package), so this reads the ID3v2 frame
// stream directly — a well-documented binary layout, not something that
// warrants pulling in an external dependency we can't ground. See
// DESIGN.md.
type ID3Handler struct{}

func (ID3Handler) HandlerType() string { return cds.HandlerID3 }

func (ID3Handler) Accepts(mimeType string) bool {
	switch mimeType {
	case "audio/mpeg", "audio/mp3", "audio/flac", "audio/x-flac":
		return true
	}
	return false
}

var id3FrameMeta = map[string]string{
	"TIT2": cds.MetaTitle,
	"TPE1": cds.MetaArtist,
	"TALB": cds.MetaAlbum,
	"TCON": cds.MetaGenre,
	"TCOM": cds.MetaComposer,
	"TDRC": cds.MetaDate,
	"TYER": cds.MetaDate,
}

func (ID3Handler) FillMetadata(ctx context.Context, path string, obj cds.CdsObject) error {
	f, err := os.Open(path)
	if err != nil {
		return &cds.IoError{Path: path, Cause: err}
	}
	defer f.Close()

	var header [10]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return nil // too short to carry a tag; not an error, just nothing to extract
	}
	if string(header[0:3]) != "ID3" {
		return nil
	}
	majorVersion := header[3]
	tagSize := syncsafeToInt(header[6:10])

	body := make([]byte, tagSize)
	if _, err := io.ReadFull(f, body); err != nil {
		return &cds.IoError{Path: path, Cause: err}
	}

	h := obj.Head()
	pos := 0
	for pos+10 <= len(body) {
		frameID := string(body[pos : pos+4])
		if frameID == "\x00\x00\x00\x00" {
			break
		}
		var frameSize int
		if majorVersion >= 4 {
			frameSize = syncsafeToInt(body[pos+4 : pos+8])
		} else {
			frameSize = int(binary.BigEndian.Uint32(body[pos+4 : pos+8]))
		}
		pos += 10
		if pos+frameSize > len(body) || frameSize <= 0 {
			break
		}
		if key, ok := id3FrameMeta[frameID]; ok {
			value := decodeID3Text(body[pos : pos+frameSize])
			if value != "" {
				h.Metadata = h.Metadata.Append(key, value)
			}
		}
		pos += frameSize
	}
	return nil
}

func syncsafeToInt(b []byte) int {
	return int(b[0])<<21 | int(b[1])<<14 | int(b[2])<<7 | int(b[3])
}

// decodeID3Text strips the leading text-encoding byte and any trailing NUL
// padding. Only the ISO-8859-1/UTF-8 (encoding 0/3) case is handled
// precisely; UTF-16 frames (1/2) are best-effort stripped of BOM/NULs.
func decodeID3Text(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	encoding := b[0]
	text := b[1:]
	switch encoding {
	case 0, 3:
		return strings.Trim(string(text), "\x00")
	default:
		var sb strings.Builder
		for i := 0; i+1 < len(text); i += 2 {
			r := rune(text[i]) | rune(text[i+1])<<8
			if r == 0 || r == 0xFEFF {
				continue
			}
			sb.WriteRune(r)
		}
		return strings.TrimSpace(sb.String())
	}
}

var _ Handler = ID3Handler{}
