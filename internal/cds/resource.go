package cds

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Well-known resource attribute/parameter keys (spec §3.1, §6).
const (
	AttrProtocolInfo  = "protocolInfo"
	AttrResolution    = "resolution"
	AttrDuration      = "duration"
	AttrBitrate       = "bitrate"
	AttrSize          = "size"
	AttrAudioChannels = "nrAudioChannels"
	AttrResourceFile  = "resourceFile" // absolute path of the file actually serving this resource

	ParamContentType = "contentType"
	ParamType        = "type"
)

// Handler type tags (spec §3.1, §4.3).
const (
	HandlerDefault      = "default"
	HandlerLibExif      = "libexif"
	HandlerID3          = "id3"
	HandlerFFmpeg       = "ffmpeg"
	HandlerFanart       = "fanart"
	HandlerContainerArt = "container-art"
	HandlerSubtitle     = "subtitle"
	HandlerResource     = "resource"
	HandlerTranscoder   = "transcoder"
)

// CdsResource is one servable representation of an item (spec §3.1).
type CdsResource struct {
	HandlerType string
	Attributes  map[string]string
	Parameters  map[string]string
	Options     map[string]string
}

// NewResource returns a CdsResource with initialized maps.
func NewResource(handlerType string) CdsResource {
	return CdsResource{
		HandlerType: handlerType,
		Attributes:  make(map[string]string),
		Parameters:  make(map[string]string),
		Options:     make(map[string]string),
	}
}

// Equal reports whether r and other encode to the same resource, independent
// of Go map iteration order.
func (r *CdsResource) Equal(other *CdsResource) bool {
	if r.HandlerType != other.HandlerType {
		return false
	}
	return mapsEqual(r.Attributes, other.Attributes) &&
		mapsEqual(r.Parameters, other.Parameters) &&
		mapsEqual(r.Options, other.Options)
}

func mapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// Encode serializes a resource to the four `~`-separated fields used to
// round-trip a resource through a text channel such as a URL fragment
// (spec §6): `handlerType ~ dictEncode(attributes) ~ dictEncode(parameters)
// ~ dictEncode(options)`.
func (r *CdsResource) Encode() string {
	return strings.Join([]string{
		r.HandlerType,
		dictEncode(r.Attributes),
		dictEncode(r.Parameters),
		dictEncode(r.Options),
	}, "~")
}

// DecodeResource parses the text produced by Encode. 2–4 fields are
// accepted; missing tail fields become empty maps.
func DecodeResource(s string) (CdsResource, error) {
	fields := strings.Split(s, "~")
	if len(fields) < 2 || len(fields) > 4 {
		return CdsResource{}, fmt.Errorf("cds: invalid resource encoding: %q", s)
	}
	r := NewResource(fields[0])
	var err error
	if len(fields) >= 2 {
		if r.Attributes, err = dictDecode(fields[1]); err != nil {
			return CdsResource{}, fmt.Errorf("cds: decoding attributes: %w", err)
		}
	}
	if len(fields) >= 3 {
		if r.Parameters, err = dictDecode(fields[2]); err != nil {
			return CdsResource{}, fmt.Errorf("cds: decoding parameters: %w", err)
		}
	}
	if len(fields) == 4 {
		if r.Options, err = dictDecode(fields[3]); err != nil {
			return CdsResource{}, fmt.Errorf("cds: decoding options: %w", err)
		}
	}
	return r, nil
}

// dictEncode URL-encodes keys and values and joins entries with '/', in a
// stable key order so Encode is deterministic.
func dictEncode(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]string, 0, len(m))
	for _, k := range keys {
		entries = append(entries, url.QueryEscape(k)+"="+url.QueryEscape(m[k]))
	}
	return strings.Join(entries, "/")
}

func dictDecode(s string) (map[string]string, error) {
	out := make(map[string]string)
	if s == "" {
		return out, nil
	}
	for _, entry := range strings.Split(s, "/") {
		kv := strings.SplitN(entry, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("cds: malformed dict entry: %q", entry)
		}
		k, err := url.QueryUnescape(kv[0])
		if err != nil {
			return nil, fmt.Errorf("cds: decoding key %q: %w", kv[0], err)
		}
		v, err := url.QueryUnescape(kv[1])
		if err != nil {
			return nil, fmt.Errorf("cds: decoding value %q: %w", kv[1], err)
		}
		out[k] = v
	}
	return out, nil
}

// ResID returns the index of r within resources, matching invariant 5
// (resId equals position). Resources are addressed by position, not a
// stored field, so this is a lookup helper rather than an accessor.
func ResID(resources []CdsResource, r *CdsResource) int {
	for i := range resources {
		if &resources[i] == r {
			return i
		}
	}
	return -1
}

// FormatResolution renders a width/height pair the way res@resolution wants
// it ("WxH").
func FormatResolution(w, h int) string {
	return strconv.Itoa(w) + "x" + strconv.Itoa(h)
}
