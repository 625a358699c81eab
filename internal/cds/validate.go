package cds

import "net/url"

// Validate checks the invariants spec §4.1 requires before an object may be
// inserted: items need a non-empty location and mimeType; containers need a
// non-empty title; external items need a URL-shaped location.
func Validate(o CdsObject) error {
	h := o.Head()

	switch v := o.(type) {
	case *Container:
		if v.Title == "" {
			return &InvalidObjectError{Reason: "container requires a non-empty title"}
		}
	case *Item:
		if h.Location == "" {
			return &InvalidObjectError{Reason: "item requires a non-empty location"}
		}
		if v.MimeType == "" {
			return &InvalidObjectError{Reason: "item requires a non-empty mimeType"}
		}
	case *ExternalItem:
		if h.Location == "" {
			return &InvalidObjectError{Reason: "external item requires a non-empty location"}
		}
		u, err := url.Parse(h.Location)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return &InvalidObjectError{Reason: "external item location must be a URL"}
		}
		if v.MimeType == "" {
			return &InvalidObjectError{Reason: "external item requires a non-empty mimeType"}
		}
	default:
		return &InvalidObjectError{Reason: "unknown object type"}
	}

	// Invariant 5: resId equals position. We never store a separate resId
	// field, so this always holds by construction and is not checked here.
	return nil
}
