package platform

import (
	"path/filepath"
	"strings"

	"github.com/ytget/clipqueue/internal/model"
)

// Markers recognized in fetch tool output
const (
	markerAsset             = "#"
	markerDestination       = "Destination: "
	markerMerging           = "Merging formats into"
	markerDownloadPrefix    = "[download] "
	markerAlreadyDownloaded = " has already been downloaded"
	markerSkipping          = "[download] Skipping "
	markerArchived          = "has already been recorded in the archive"
)

// Generic folders skipped when deriving a handle from a path
var genericSiteFolders = map[string]bool{
	string(model.PlatformInstagram): true,
	string(model.PlatformTikTok):    true,
	string(model.PlatformYouTube):   true,
	string(model.PlatformPinterest): true,
}

// ParsedFile is one result file recovered from tool output
type ParsedFile struct {
	Handle string `json:"handle"`
	Name   string `json:"name"`
	Path   string `json:"path"`
}

// lineMatcher extracts a candidate path from one trimmed line
type lineMatcher func(line, dirHint string) (string, bool)

// outputMatchers are tried in order; the first match wins for a line
var outputMatchers = []lineMatcher{
	matchAssetLine,
	matchDestination,
	matchMerging,
	matchAbsolutePath,
	matchAlreadyDownloaded,
	matchArchiveSkip,
}

// ParseOutput recovers result file paths from fetch tool output.
//
// Paths are deduplicated by first occurrence. When no path is found a single
// record derived from the link alone is returned with an empty Path.
func ParseOutput(output, link, dirHint string) []ParsedFile {
	var candidates []string
	seen := make(map[string]bool)

	for _, raw := range strings.Split(output, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		for _, match := range outputMatchers {
			p, ok := match(line, dirHint)
			if !ok {
				continue
			}
			if p != "" && !seen[p] {
				seen[p] = true
				candidates = append(candidates, p)
			}
			break
		}
	}

	igHandle, igID := InstagramHandleAndID(link)
	isIG := IsInstagram(link)

	if len(candidates) == 0 {
		handle, name := model.UnknownHandle, model.UnknownHandle
		if igHandle != "" {
			handle = igHandle
		}
		if isIG && igID != "" {
			name = igID
		}
		return []ParsedFile{{Handle: handle, Name: name}}
	}

	results := make([]ParsedFile, 0, len(candidates))
	for _, p := range candidates {
		name := displayName(p)
		handle := igHandle
		if handle == "" {
			handle = handleFromPath(p)
		}
		if isIG && igID != "" {
			name = igID
		}
		results = append(results, ParsedFile{Handle: handle, Name: name, Path: p})
	}
	return results
}

// FirstPath returns the first non-empty path in the parsed records
func FirstPath(files []ParsedFile) string {
	for _, f := range files {
		if f.Path != "" {
			return f.Path
		}
	}
	return ""
}

func matchAssetLine(line, _ string) (string, bool) {
	if !strings.HasPrefix(line, markerAsset) || len(line) <= 2 {
		return "", false
	}
	return strings.TrimSpace(line[2:]), true
}

func matchDestination(line, _ string) (string, bool) {
	idx := strings.Index(line, markerDestination)
	if idx < 0 {
		return "", false
	}
	return strings.TrimSpace(line[idx+len(markerDestination):]), true
}

func matchMerging(line, _ string) (string, bool) {
	if !strings.Contains(line, markerMerging) {
		return "", false
	}
	if q1 := strings.Index(line, `"`); q1 >= 0 {
		if q2 := strings.Index(line[q1+1:], `"`); q2 >= 0 {
			return line[q1+1 : q1+1+q2], true
		}
	}
	if _, after, ok := strings.Cut(line, "into"); ok {
		return strings.Trim(after, `" `), true
	}
	return "", false
}

func matchAbsolutePath(line, dirHint string) (string, bool) {
	abs := strings.HasPrefix(line, "/") || isWindowsAbs(line)
	if !abs && (dirHint == "" || !strings.HasPrefix(line, dirHint)) {
		return "", false
	}
	if !strings.Contains(line, ".") {
		return "", false
	}
	return line, true
}

func matchAlreadyDownloaded(line, dirHint string) (string, bool) {
	if !strings.HasPrefix(line, markerDownloadPrefix) || !strings.Contains(line, markerAlreadyDownloaded) {
		return "", false
	}
	name, _, _ := strings.Cut(strings.TrimPrefix(line, markerDownloadPrefix), markerAlreadyDownloaded)
	name = strings.TrimSpace(name)
	if name == "" {
		return "", true
	}
	if strings.HasPrefix(name, "/") || isWindowsAbs(name) {
		return name, true
	}
	if dirHint == "" {
		return "", true
	}
	return dirHint + "/" + name, true
}

func matchArchiveSkip(line, dirHint string) (string, bool) {
	if !strings.HasPrefix(line, markerSkipping) || !strings.Contains(line, markerArchived) {
		return "", false
	}
	name, _, _ := strings.Cut(strings.TrimPrefix(line, markerSkipping), ":")
	name = strings.TrimSpace(name)
	if name == "" || dirHint == "" {
		return "", true
	}
	return dirHint + "/" + name, true
}

func isWindowsAbs(s string) bool {
	return len(s) > 2 && s[1] == ':' && (s[2] == '\\' || s[2] == '/')
}

// baseName splits on both separators so windows paths parse on any OS
func baseName(p string) string {
	if idx := strings.LastIndexAny(p, `/\`); idx >= 0 {
		return p[idx+1:]
	}
	return p
}

func parentDir(p string) string {
	if idx := strings.LastIndexAny(p, `/\`); idx >= 0 {
		return p[:idx]
	}
	return ""
}

// displayName turns "uploader - title [id].ext" into "title"
func displayName(p string) string {
	stem := strings.TrimSuffix(baseName(p), filepath.Ext(baseName(p)))
	bracket := strings.Index(stem, "[")
	if bracket < 0 {
		return stem
	}
	before := strings.TrimSpace(stem[:bracket])
	if _, title, ok := strings.Cut(before, " - "); ok {
		return strings.TrimSpace(title)
	}
	return before
}

// handleFromPath uses the parent folder, stepping over one generic site folder
func handleFromPath(p string) string {
	parent := parentDir(p)
	last := baseName(parent)
	if last == "" {
		return model.UnknownHandle
	}
	if !genericSiteFolders[last] {
		return last
	}
	prev := baseName(parentDir(parent))
	if prev == "" || genericSiteFolders[prev] {
		return model.UnknownHandle
	}
	return prev
}
