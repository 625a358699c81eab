// Package contentmgr implements the C5 content manager: drives imports,
// walks directories, and owns the bounded task pool that backs async
// scanning (spec §4.5).
package contentmgr

import (
	"context"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"contentdir/internal/cds"
	"contentdir/internal/fs"
	"contentdir/internal/metadata"
	"contentdir/internal/transformer"
)

// ContentManager drives file discovery, metadata extraction, and
// transformer invocation, writing the result through Storage.
type ContentManager struct {
	storage   cds.Storage
	handlers  *metadata.Registry
	transform transformer.Transformer
	mimeProbe cds.Mime
	pool      *TaskPool
	log       cds.Logger
	clock     cds.Clock
	metrics   *Metrics
	ignore    *fs.IgnoreMatcher

	// FSRootID is the physical filesystem root container's id (spec §6,
	// configurable — default 1).
	FSRootID int32
}

// SetIgnoreMatcher installs the ignore-pattern matcher consulted during
// import and autoscan. A nil matcher (the default) ignores nothing beyond
// the hidden-file rule already applied per AutoScanSetting.Hidden.
func (m *ContentManager) SetIgnoreMatcher(matcher *fs.IgnoreMatcher) {
	m.ignore = matcher
}

// New returns a ContentManager wired to the given collaborators. mimeProbe
// may be nil, falling back to extension-based sniffing via the standard
// library's mime package.
func New(storage cds.Storage, handlers *metadata.Registry, tr transformer.Transformer, mimeProbe cds.Mime, pool *TaskPool, log cds.Logger, clock cds.Clock, metrics *Metrics) *ContentManager {
	if log == nil {
		log = cds.NewNopLogger()
	}
	if tr == nil {
		tr = transformer.NopTransformer{}
	}
	if clock == nil {
		clock = cds.RealClock{}
	}
	return &ContentManager{
		storage: storage, handlers: handlers, transform: tr, mimeProbe: mimeProbe,
		pool: pool, log: log, clock: clock, metrics: metrics, FSRootID: cds.FSRootID,
	}
}

// TreeStatus reports whether AddContainerTree found the terminal container
// already present or had to create part of the chain.
type TreeStatus int

const (
	TreeExisted TreeStatus = iota
	TreeCreated
)

// AddFile runs the import algorithm of spec §4.5 for path p. When async is
// true and m.pool is non-nil, the call enqueues a task and returns
// immediately with cds.UnassignedID; otherwise it runs inline and returns
// the resulting item's id.
func (m *ContentManager) AddFile(ctx context.Context, p, rootPath string, setting AutoScanSetting, async, lowPriority, cancellable bool) (int32, error) {
	run := func(ctx context.Context) (int32, error) {
		return m.addFileSync(ctx, p, rootPath, setting)
	}

	if !async || m.pool == nil {
		return run(ctx)
	}

	taskCtx := ctx
	var cancel context.CancelFunc
	if cancellable {
		taskCtx, cancel = context.WithCancel(ctx)
	}
	task := Task{
		Run: func(context.Context) {
			if _, err := run(taskCtx); err != nil && m.log != nil {
				m.log.Warn("async import failed", "path", p, "error", err)
				if m.metrics != nil {
					m.metrics.ImportErrors.Inc()
				}
			}
		},
		Cancel:     cancel,
		Persistent: setting.Adir != nil && setting.Adir.Persistent,
	}
	if lowPriority {
		m.pool.SubmitLowPriority(task)
	} else {
		m.pool.Submit(task)
	}
	return cds.UnassignedID, nil
}

func (m *ContentManager) addFileSync(ctx context.Context, p, rootPath string, setting AutoScanSetting) (int32, error) {
	start := m.clock.Now()
	defer func() {
		if m.metrics != nil {
			m.metrics.ImportDuration.Observe(m.clock.Now().Sub(start).Seconds())
		}
	}()

	if err := ctx.Err(); err != nil {
		return cds.UnassignedID, &cds.ShutdownError{}
	}

	fi, err := os.Lstat(p)
	if err != nil {
		return cds.UnassignedID, &cds.IoError{Path: p, Cause: err}
	}

	if fi.Mode()&os.ModeSymlink != 0 && !setting.FollowSymlinks {
		return cds.UnassignedID, nil
	}
	if isHidden(p) && !setting.Hidden {
		return cds.UnassignedID, nil
	}
	if m.ignore != nil {
		rel := p
		if rootPath != "" {
			if r, err := filepath.Rel(rootPath, p); err == nil {
				rel = r
			}
		}
		if m.ignore.Match(rel) {
			return cds.UnassignedID, nil
		}
	}

	if fi.IsDir() {
		return m.addDirectory(ctx, p, rootPath, setting)
	}
	return m.addRegularFile(ctx, p, fi, setting)
}

func (m *ContentManager) addDirectory(ctx context.Context, p, rootPath string, setting AutoScanSetting) (int32, error) {
	containerID, err := m.EnsurePathExistence(ctx, p)
	if err != nil {
		return cds.UnassignedID, err
	}
	if !setting.Recursive {
		return containerID, nil
	}

	entries, err := os.ReadDir(p)
	if err != nil {
		return cds.UnassignedID, &cds.IoError{Path: p, Cause: err}
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return cds.UnassignedID, &cds.ShutdownError{}
		}
		child := filepath.Join(p, e.Name())
		if _, err := m.AddFile(ctx, child, rootPath, setting, false, false, false); err != nil {
			m.log.Warn("import child failed", "path", child, "error", err)
		}
	}
	return containerID, nil
}

func (m *ContentManager) addRegularFile(ctx context.Context, p string, fi os.FileInfo, setting AutoScanSetting) (int32, error) {
	mtime := fi.ModTime().Unix()

	existingID, err := m.storage.FindByPath(ctx, p, true)
	if err != nil {
		return cds.UnassignedID, err
	}
	if existingID != cds.UnassignedID {
		existing, err := m.storage.Load(ctx, existingID)
		if err != nil {
			return cds.UnassignedID, err
		}
		if existing.Head().Mtime == mtime && !setting.RescanResource {
			existing.Head().Utime = m.clock.Now().Unix()
			if err := m.storage.Update(ctx, existing); err != nil {
				return cds.UnassignedID, err
			}
			return existingID, nil
		}
	}

	mimeType, err := m.probeMime(p)
	if err != nil {
		return cds.UnassignedID, err
	}

	item := &cds.Item{
		Header: cds.Header{
			ID: cds.UnassignedID, ParentID: cds.UnassignedID, RefID: cds.UnassignedID,
			Title: stem(p), UpnpClass: classifyMime(mimeType), Location: p,
			Mtime: mtime, Utime: m.clock.Now().Unix(), Auxdata: map[string]string{},
		},
		MimeType: mimeType,
	}

	if m.handlers != nil {
		m.handlers.FillAll(ctx, p, item, mimeType)
	}

	parentID, err := m.EnsurePathExistence(ctx, filepath.Dir(p))
	if err != nil {
		return cds.UnassignedID, err
	}
	item.ParentID = parentID

	var id int32
	if existingID != cds.UnassignedID {
		item.ID = existingID
		if err := m.storage.Update(ctx, item); err != nil {
			return cds.UnassignedID, err
		}
		id = existingID
	} else {
		id, err = m.storage.Insert(ctx, item)
		if err != nil {
			return cds.UnassignedID, err
		}
		item.ID = id
	}

	if m.metrics != nil {
		m.metrics.FilesImported.Inc()
	}

	if err := m.transform.Transform(ctx, item, &storageCallbacks{mgr: m}); err != nil {
		m.log.Warn("transformer failed", "path", p, "error", err)
	}

	return id, nil
}

// EnsurePathExistence walks path's components under FSRootID, creating any
// missing container, and returns the terminal container's id.
func (m *ContentManager) EnsurePathExistence(ctx context.Context, path string) (int32, error) {
	clean := filepath.Clean(path)
	if clean == "/" || clean == "." {
		return m.FSRootID, nil
	}
	parts := strings.Split(strings.TrimPrefix(clean, "/"), string(filepath.Separator))
	return m.ensureChain(ctx, m.FSRootID, parts, false)
}

// AddContainerTree ensures the chain of virtual containers exists (spec
// §4.4's addContainerTree callback), creating missing ones under the
// virtual root, and returns (terminalId, status).
func (m *ContentManager) AddContainerTree(ctx context.Context, chain []cds.CdsObject) (int32, TreeStatus, error) {
	titles := make([]string, len(chain))
	for i, c := range chain {
		titles[i] = c.Head().Title
	}
	existed := true
	parent := cds.VirtualRootID
	for _, title := range titles {
		if title == "" {
			continue
		}
		cid, err := m.findChildByTitle(ctx, parent, title)
		if err != nil {
			return cds.UnassignedID, TreeExisted, err
		}
		if cid == cds.UnassignedID {
			existed = false
			break
		}
		parent = cid
	}
	id, err := m.ensureChain(ctx, cds.VirtualRootID, titles, true)
	if err != nil {
		return cds.UnassignedID, TreeExisted, err
	}
	if existed {
		return id, TreeExisted, nil
	}
	return id, TreeCreated, nil
}

func (m *ContentManager) ensureChain(ctx context.Context, rootID int32, titles []string, virtual bool) (int32, error) {
	parent := rootID
	for _, title := range titles {
		if title == "" {
			continue
		}
		id, err := m.findChildByTitle(ctx, parent, title)
		if err != nil {
			return cds.UnassignedID, err
		}
		if id == cds.UnassignedID {
			c := &cds.Container{Header: cds.Header{
				ID: cds.UnassignedID, ParentID: parent, RefID: cds.UnassignedID,
				Title: title, UpnpClass: "object.container", Virtual: virtual,
				Auxdata: map[string]string{},
			}}
			id, err = m.storage.Insert(ctx, c)
			if err != nil {
				return cds.UnassignedID, err
			}
		}
		parent = id
	}
	return parent, nil
}

func (m *ContentManager) findChildByTitle(ctx context.Context, parentID int32, title string) (int32, error) {
	objs, _, err := m.storage.Browse(ctx, parentID, 0, 0, nil)
	if err != nil {
		return cds.UnassignedID, err
	}
	for _, o := range objs {
		if o.IsContainer() && o.Head().Title == title {
			return o.Head().ID, nil
		}
	}
	return cds.UnassignedID, nil
}

// RemoveObject deletes id's subtree. rescanResource is accepted to mirror
// the spec signature but is not used: it has no effect on the delete or on
// any later re-import.
func (m *ContentManager) RemoveObject(ctx context.Context, adir *cds.AutoscanDirectory, id int32, rescanResource bool) error {
	allowRefs := adir != nil
	return m.storage.RemoveSubtree(ctx, id, allowRefs)
}

// RescanDirectory re-imports location under containerID using adir's
// autoscan settings.
func (m *ContentManager) RescanDirectory(ctx context.Context, adir *cds.AutoscanDirectory, containerID int32, location string, cancellable bool) error {
	setting := AutoScanSetting{
		Recursive:      adir.Recursive,
		Hidden:         adir.Hidden,
		FollowSymlinks: false,
		RescanResource: false,
		Adir:           adir,
	}
	_, err := m.AddFile(ctx, location, location, setting, false, false, cancellable)
	return err
}

func (m *ContentManager) probeMime(path string) (string, error) {
	if m.mimeProbe != nil {
		return m.mimeProbe.Probe(path, true)
	}
	t := mime.TypeByExtension(filepath.Ext(path))
	if t == "" {
		return "application/octet-stream", nil
	}
	if i := strings.Index(t, ";"); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	return t, nil
}

func classifyMime(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "audio/"):
		return "object.item.audioItem.musicTrack"
	case strings.HasPrefix(mimeType, "video/"):
		return "object.item.videoItem.movie"
	case strings.HasPrefix(mimeType, "image/"):
		return "object.item.imageItem.photo"
	default:
		return "object.item"
	}
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
