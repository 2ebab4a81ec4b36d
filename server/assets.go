package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"lukechampine.com/blake3"

	"github.com/orbitmp/matchserver/storage"
)

// flagNamePattern validates flag names on upload.
var flagNamePattern = regexp.MustCompile(`^[-_a-zA-Z0-9/]+$`)

// writeJob is one deferred persistence call. Uploads are acknowledged
// on the tick thread and written off it so a slow disk cannot blow the
// tick budget.
type writeJob struct {
	collection string
	key        string
	value      []byte
}

// assetBroker mediates craft, screenshot and flag transfers. All
// handler methods run on the match tick goroutine; only the write
// worker runs elsewhere. Cancelling the worker mid-write at terminate
// is acceptable and the write is not retried.
type assetBroker struct {
	m      *Match
	jobs   chan writeJob
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// syncWrites bypasses the worker; tests use it so reads observe
	// uploads immediately.
	syncWrites bool
}

func newAssetBroker(m *Match) *assetBroker {
	ctx, cancel := context.WithCancel(context.Background())
	b := &assetBroker{
		m:      m,
		jobs:   make(chan writeJob, 64),
		ctx:    ctx,
		cancel: cancel,
	}
	b.wg.Add(1)
	go b.writeLoop()
	return b
}

func (b *assetBroker) writeLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case job := <-b.jobs:
			if err := b.m.store.Write(job.collection, job.key, job.value); err != nil {
				b.m.metrics.storageErrors.Inc()
				b.m.log.Error().Err(err).Str("collection", job.collection).Str("key", job.key).Msg("deferred asset write failed")
			}
		}
	}
}

func (b *assetBroker) stop() {
	b.cancel()
	b.wg.Wait()
}

// defer enqueues a write; if the queue is saturated the write happens
// inline, trading one slow tick for not losing the asset.
func (b *assetBroker) deferWrite(collection, key string, value []byte) {
	if b.syncWrites {
		if err := b.m.store.Write(collection, key, value); err != nil {
			b.m.metrics.storageErrors.Inc()
			b.m.log.Error().Err(err).Str("key", key).Msg("asset write failed")
		}
		return
	}
	select {
	case b.jobs <- writeJob{collection: collection, key: key, value: value}:
	default:
		if err := b.m.store.Write(collection, key, value); err != nil {
			b.m.metrics.storageErrors.Inc()
			b.m.log.Error().Err(err).Str("key", key).Msg("inline asset write failed")
		}
	}
}

// storedAsset is the persisted envelope for every asset kind.
type storedAsset struct {
	Folder     string `json:"folder"`
	Name       string `json:"name"`
	Type       string `json:"type,omitempty"`
	NumBytes   int64  `json:"num_bytes"`
	UploadedAt int64  `json:"uploaded_at"`
	Digest     string `json:"digest"`
	Data       []byte `json:"data"`
	Thumbnail  []byte `json:"thumbnail,omitempty"`
}

func digestOf(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func craftKey(folder, typ, name string) string {
	return folder + "/" + typ + "/" + name
}

func screenshotKey(folder string, dateTaken int64) string {
	return folder + "/" + strconv.FormatInt(dateTaken, 10)
}

func flagKey(folder, name string) string {
	return folder + "/" + name
}

// checkSize enforces the per-upload byte cap, advising the sender when
// it trips.
func (b *assetBroker) checkSize(c *Client, data []byte, what string) bool {
	if len(data) > b.m.cfg.MaxAssetKB*1024 {
		b.m.dispatch.Advise(c.sessionID, fmt.Sprintf("%s too large (limit %d KB)", what, b.m.cfg.MaxAssetKB))
		return false
	}
	return true
}

// enforceQuota applies the per-user item cap by evicting the oldest
// items in the user's folder, then the global folder cap by evicting
// the folder with the oldest newest-item. Returns false if, after
// eviction, the upload still cannot be accepted.
func (b *assetBroker) enforceQuota(c *Client, collection, folder string) bool {
	entries, err := b.m.store.List(collection, folder+"/")
	if err != nil {
		b.m.metrics.storageErrors.Inc()
		b.m.log.Error().Err(err).Msg("quota listing failed")
		return true // don't lose uploads over a listing failure
	}
	// List is oldest-first; drop until there is room for one more.
	for len(entries) >= b.m.cfg.MaxCraftsPerUser {
		oldest := entries[0]
		entries = entries[1:]
		if err := b.m.store.Delete(collection, oldest.Key); err != nil {
			b.m.metrics.storageErrors.Inc()
			b.m.dispatch.Advise(c.sessionID, "Storage quota exceeded")
			return false
		}
		b.m.log.Info().Str("key", oldest.Key).Msg("quota eviction")
	}
	return b.enforceFolderCap(c, folder)
}

// enforceFolderCap keeps the distinct folder count across all asset
// kinds at or below the configured cap, evicting oldest-first.
func (b *assetBroker) enforceFolderCap(c *Client, incoming string) bool {
	type folderAge struct {
		collection string
		folder     string
		mtime      time.Time
	}
	ages := make(map[string]*folderAge)
	for _, collection := range []string{storage.CollectionCrafts, storage.CollectionScreenshots, storage.CollectionFlags} {
		entries, err := b.m.store.List(collection, "")
		if err != nil {
			b.m.metrics.storageErrors.Inc()
			return true
		}
		for _, e := range entries {
			folder := e.Key
			if i := strings.IndexByte(folder, '/'); i >= 0 {
				folder = folder[:i]
			}
			if a, ok := ages[folder]; !ok || e.MTime.After(a.mtime) {
				ages[folder] = &folderAge{collection: collection, folder: folder, mtime: e.MTime}
			}
		}
	}
	if _, exists := ages[incoming]; exists || len(ages) < b.m.cfg.MaxFolders {
		return true
	}

	ordered := make([]*folderAge, 0, len(ages))
	for _, a := range ages {
		ordered = append(ordered, a)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].mtime.Before(ordered[j].mtime) })

	for len(ordered) >= b.m.cfg.MaxFolders && len(ordered) > 0 {
		victim := ordered[0]
		ordered = ordered[1:]
		b.deleteFolder(victim.folder)
		b.m.log.Info().Str("folder", victim.folder).Msg("folder cap eviction")
	}
	return true
}

func (b *assetBroker) deleteFolder(folder string) {
	for _, collection := range []string{storage.CollectionCrafts, storage.CollectionScreenshots, storage.CollectionFlags} {
		entries, err := b.m.store.List(collection, folder+"/")
		if err != nil {
			continue
		}
		for _, e := range entries {
			if err := b.m.store.Delete(collection, e.Key); err != nil {
				b.m.metrics.storageErrors.Inc()
			}
		}
	}
}

// --- crafts ---

func (b *assetBroker) handleCraftUpload(c *Client, payload []byte, now time.Time) {
	var msg CraftUploadMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.m.protocolDrop(c, "craft_upload", err)
		return
	}
	if msg.Name == "" || msg.Type == "" || len(msg.Data) == 0 {
		b.m.protocolDrop(c, "craft_upload", errUnknownEnum("incomplete craft"))
		return
	}
	if !b.m.state.CraftLimits.Allow(c.userID, now) {
		b.m.metrics.rateLimited.Inc()
		b.m.dispatch.Advise(c.sessionID, "Craft uploads are limited to one every 5 seconds")
		return
	}
	if !b.checkSize(c, msg.Data, "Craft") {
		return
	}
	folder := c.username
	if !b.enforceQuota(c, storage.CollectionCrafts, folder) {
		return
	}

	asset := storedAsset{
		Folder:     folder,
		Name:       msg.Name,
		Type:       msg.Type,
		NumBytes:   int64(len(msg.Data)),
		UploadedAt: now.UnixMilli(),
		Digest:     digestOf(msg.Data),
		Data:       msg.Data,
	}
	blob, err := json.Marshal(asset)
	if err != nil {
		b.m.log.Error().Err(err).Msg("marshal craft")
		return
	}
	b.deferWrite(storage.CollectionCrafts, craftKey(folder, msg.Type, msg.Name), blob)
	b.m.dispatch.Broadcast(OpCraftNotify, AssetNotifyMsg{
		Folder: folder, Name: msg.Name, Type: msg.Type, Digest: asset.Digest,
	})
}

func (b *assetBroker) handleCraftDownload(c *Client, payload []byte, now time.Time) {
	var msg CraftDownloadRequestMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.m.protocolDrop(c, "craft_download", err)
		return
	}
	if !b.m.state.CraftLimits.Allow(c.userID, now) {
		b.m.metrics.rateLimited.Inc()
		b.m.dispatch.Advise(c.sessionID, "Craft downloads are limited to one every 5 seconds")
		return
	}
	resp := CraftDownloadResponseMsg{Folder: msg.Folder, Type: msg.Type, Name: msg.Name}
	if asset, ok := b.readAsset(storage.CollectionCrafts, craftKey(msg.Folder, msg.Type, msg.Name)); ok {
		resp.Data = asset.Data
		resp.Found = true
	}
	b.m.dispatch.Unicast(OpCraftDownloadResponse, resp, c.sessionID)
}

func (b *assetBroker) handleCraftListFolders(c *Client) {
	b.m.dispatch.Unicast(OpCraftListFolders, CraftListFoldersMsg{
		Folders: b.listFolders(storage.CollectionCrafts),
	}, c.sessionID)
}

func (b *assetBroker) handleCraftListItems(c *Client, payload []byte) {
	var msg CraftListItemsMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.m.protocolDrop(c, "craft_list", err)
		return
	}
	msg.Items = b.listItems(storage.CollectionCrafts, msg.Folder)
	b.m.dispatch.Unicast(OpCraftListItems, msg, c.sessionID)
}

func (b *assetBroker) handleCraftDelete(c *Client, payload []byte) {
	var msg CraftDeleteMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.m.protocolDrop(c, "craft_delete", err)
		return
	}
	if msg.Folder != c.username && !b.m.state.IsAdmin(c.sessionID) {
		b.m.metrics.denied.Inc()
		b.m.log.Info().Str("session", c.sessionID).Str("folder", msg.Folder).Msg("craft delete not permitted")
		return
	}
	if err := b.m.store.Delete(storage.CollectionCrafts, craftKey(msg.Folder, msg.Type, msg.Name)); err != nil {
		b.m.metrics.storageErrors.Inc()
		b.m.log.Error().Err(err).Msg("craft delete")
		return
	}
	b.m.dispatch.Broadcast(OpCraftNotify, AssetNotifyMsg{
		Folder: msg.Folder, Name: msg.Name, Type: msg.Type, Deleted: true,
	})
}

// --- screenshots ---

func (b *assetBroker) handleScreenshotUpload(c *Client, payload []byte, now time.Time) {
	var msg ScreenshotUploadMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.m.protocolDrop(c, "screenshot_upload", err)
		return
	}
	if msg.DateTaken == 0 || len(msg.Data) == 0 {
		b.m.protocolDrop(c, "screenshot_upload", errUnknownEnum("incomplete screenshot"))
		return
	}
	if !b.m.state.ScreenshotLimits.Allow(c.userID, now) {
		b.m.metrics.rateLimited.Inc()
		b.m.dispatch.Advise(c.sessionID, "Screenshot uploads are limited to one every 15 seconds")
		return
	}
	if !b.checkSize(c, msg.Data, "Screenshot") {
		return
	}
	folder := c.username
	if !b.enforceQuota(c, storage.CollectionScreenshots, folder) {
		return
	}

	name := strconv.FormatInt(msg.DateTaken, 10)
	asset := storedAsset{
		Folder:     folder,
		Name:       name,
		NumBytes:   int64(len(msg.Data)),
		UploadedAt: now.UnixMilli(),
		Digest:     digestOf(msg.Data),
		Data:       msg.Data,
		Thumbnail:  msg.Thumbnail,
	}
	blob, err := json.Marshal(asset)
	if err != nil {
		b.m.log.Error().Err(err).Msg("marshal screenshot")
		return
	}
	b.deferWrite(storage.CollectionScreenshots, screenshotKey(folder, msg.DateTaken), blob)
	b.m.dispatch.Broadcast(OpScreenshotNotify, AssetNotifyMsg{
		Folder: folder, Name: name, Digest: asset.Digest,
	})
}

func (b *assetBroker) handleScreenshotDownload(c *Client, payload []byte) {
	var msg ScreenshotDownloadRequestMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.m.protocolDrop(c, "screenshot_download", err)
		return
	}
	resp := ScreenshotDownloadResponseMsg{Folder: msg.Folder, DateTaken: msg.DateTaken}
	if asset, ok := b.readAsset(storage.CollectionScreenshots, screenshotKey(msg.Folder, msg.DateTaken)); ok {
		resp.Data = asset.Data
		resp.Found = true
	}
	b.m.dispatch.Unicast(OpScreenshotDownloadResponse, resp, c.sessionID)
}

func (b *assetBroker) handleScreenshotListFolders(c *Client) {
	b.m.dispatch.Unicast(OpScreenshotListFolders, ScreenshotListFoldersMsg{
		Folders: b.listFolders(storage.CollectionScreenshots),
	}, c.sessionID)
}

func (b *assetBroker) handleScreenshotListItems(c *Client, payload []byte) {
	var msg ScreenshotListItemsMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.m.protocolDrop(c, "screenshot_list", err)
		return
	}
	msg.Items = b.listItems(storage.CollectionScreenshots, msg.Folder)
	b.m.dispatch.Unicast(OpScreenshotListItems, msg, c.sessionID)
}

// --- flags ---

func (b *assetBroker) handleFlagUpload(c *Client, payload []byte) {
	var msg FlagUploadMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.m.protocolDrop(c, "flag_upload", err)
		return
	}
	if !flagNamePattern.MatchString(msg.Name) {
		b.m.protocolDrop(c, "flag_upload", errUnknownEnum("invalid flag name"))
		return
	}
	if len(msg.Data) == 0 || !b.checkSize(c, msg.Data, "Flag") {
		return
	}
	folder := c.username
	if !b.enforceQuota(c, storage.CollectionFlags, folder) {
		return
	}

	now := b.m.now()
	asset := storedAsset{
		Folder:     folder,
		Name:       msg.Name,
		NumBytes:   int64(len(msg.Data)),
		UploadedAt: now.UnixMilli(),
		Digest:     digestOf(msg.Data),
		Data:       msg.Data,
	}
	blob, err := json.Marshal(asset)
	if err != nil {
		b.m.log.Error().Err(err).Msg("marshal flag")
		return
	}
	b.deferWrite(storage.CollectionFlags, flagKey(folder, msg.Name), blob)
	b.m.dispatch.Broadcast(OpFlagList, FlagListMsg{Flags: []AssetInfo{{
		Folder:     folder,
		Name:       msg.Name,
		NumBytes:   asset.NumBytes,
		UploadedAt: asset.UploadedAt,
		Digest:     asset.Digest,
	}}})
}

func (b *assetBroker) handleFlagList(c *Client) {
	entries, err := b.m.store.List(storage.CollectionFlags, "")
	if err != nil {
		b.m.metrics.storageErrors.Inc()
		return
	}
	msg := FlagListMsg{}
	for _, e := range entries {
		folder, name := splitKey(e.Key)
		msg.Flags = append(msg.Flags, AssetInfo{
			Folder:     folder,
			Name:       name,
			NumBytes:   e.Size,
			UploadedAt: e.MTime.UnixMilli(),
		})
	}
	b.m.dispatch.Unicast(OpFlagList, msg, c.sessionID)
}

func (b *assetBroker) handleFlagDelete(c *Client, payload []byte) {
	var msg FlagDeleteMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.m.protocolDrop(c, "flag_delete", err)
		return
	}
	if msg.Folder != c.username && !b.m.state.IsAdmin(c.sessionID) {
		b.m.metrics.denied.Inc()
		return
	}
	if err := b.m.store.Delete(storage.CollectionFlags, flagKey(msg.Folder, msg.Name)); err != nil {
		b.m.metrics.storageErrors.Inc()
		return
	}
	b.m.dispatch.Broadcast(OpFlagDelete, AssetNotifyMsg{
		Folder: msg.Folder, Name: msg.Name, Deleted: true,
	})
}

// --- shared helpers ---

func (b *assetBroker) readAsset(collection, key string) (storedAsset, bool) {
	raw, err := b.m.store.Read(collection, key)
	if err != nil {
		if err != storage.ErrNotFound {
			b.m.metrics.storageErrors.Inc()
			b.m.log.Error().Err(err).Str("key", key).Msg("asset read failed")
		}
		return storedAsset{}, false
	}
	var asset storedAsset
	if err := json.Unmarshal(raw, &asset); err != nil {
		b.m.log.Error().Err(err).Str("key", key).Msg("corrupt asset envelope")
		return storedAsset{}, false
	}
	return asset, true
}

func (b *assetBroker) listFolders(collection string) []string {
	entries, err := b.m.store.List(collection, "")
	if err != nil {
		b.m.metrics.storageErrors.Inc()
		return nil
	}
	seen := make(map[string]bool)
	var folders []string
	for _, e := range entries {
		folder, _ := splitKey(e.Key)
		if !seen[folder] {
			seen[folder] = true
			folders = append(folders, folder)
		}
	}
	sort.Strings(folders)
	return folders
}

func (b *assetBroker) listItems(collection, folder string) []AssetInfo {
	entries, err := b.m.store.List(collection, folder+"/")
	if err != nil {
		b.m.metrics.storageErrors.Inc()
		return nil
	}
	items := make([]AssetInfo, 0, len(entries))
	for _, e := range entries {
		_, rest := splitKey(e.Key)
		name, typ := rest, ""
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			typ, name = rest[:i], rest[i+1:]
		}
		items = append(items, AssetInfo{
			Folder:     folder,
			Name:       name,
			Type:       typ,
			NumBytes:   e.Size,
			UploadedAt: e.MTime.UnixMilli(),
		})
	}
	return items
}

func splitKey(key string) (folder, rest string) {
	if i := strings.IndexByte(key, '/'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}
