package contentmgr

import "contentdir/internal/cds"

// AutoScanSetting configures one import pass driven by the content manager
// (spec §4.5). A nil Adir marks a one-shot, non-autoscan import.
type AutoScanSetting struct {
	FollowSymlinks bool
	Recursive      bool
	Hidden         bool
	RescanResource bool
	Adir           *cds.AutoscanDirectory
}
