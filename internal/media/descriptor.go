// Package media turns post records into downloadable file descriptors and
// sanitizes the names they are stored under.
package media

import (
	"fmt"
	"strings"
	"time"

	"github.com/RazorBackRoar/4Charm/internal/board"
	"github.com/RazorBackRoar/4Charm/internal/config"
)

// Descriptor is one discovered downloadable file and its transfer state.
// It is created by extraction and mutated in place by the transfer engine;
// a descriptor is never shared between two concurrent transfers.
type Descriptor struct {
	URL          string
	Filename     string
	Board        string
	ThreadID     string
	ExpectedSize int64 // API-reported size, 0 when absent
	Size         int64 // observed size on disk after transfer
	Downloaded   bool
	SpeedMBps    float64
	StartedAt    time.Time
	Hash         string
}

// FromPosts builds descriptors for every eligible post: one that carries a
// media attachment whose extension is in the configured whitelist. The CDN
// serves original, full-quality files keyed by timestamp id. Ineligible
// posts are skipped silently. Two posts sanitizing to the same filename
// within one thread take last-write-wins at transfer time; the CDN's
// microsecond timestamp ids make that collision practically impossible.
func FromPosts(cfg *config.Config, posts []board.Post, boardName, threadID string) []*Descriptor {
	var out []*Descriptor
	for _, post := range posts {
		if !post.HasMedia() {
			continue
		}
		ext := strings.ToLower(post.Ext)
		if !cfg.AllowedExtension(ext) {
			continue
		}

		original := post.Filename
		if original == "" {
			original = "unnamed"
		}

		d := &Descriptor{
			URL:      fmt.Sprintf("%s/%s/%d%s", cfg.Remote.MediaBase, boardName, post.Tim, ext),
			Filename: SanitizeFilename(original+ext, cfg.Output.MaxFilenameLength),
			Board:    boardName,
			ThreadID: threadID,
		}
		if post.Fsize > 0 {
			d.ExpectedSize = post.Fsize
		}
		out = append(out, d)
	}
	return out
}

// FolderName resolves the destination folder for a locator: the thread
// title when available and non-blank, else board-id; catalog and board runs
// use board-catalog and the bare board name.
func FolderName(loc *board.Locator, title string, maxLen int) string {
	switch loc.Kind {
	case board.KindThread:
		if name := sanitizeComponent(title); name != "" {
			if len([]rune(name)) > maxLen {
				name = strings.TrimRight(string([]rune(name)[:maxLen]), "-_ ")
			}
			if name != "" {
				return name
			}
		}
		return loc.Board + "-" + loc.ThreadID
	case board.KindCatalog:
		return loc.Board + "-catalog"
	default:
		return loc.Board
	}
}
