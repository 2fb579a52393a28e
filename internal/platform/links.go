package platform

import (
	"strings"

	"github.com/ytget/clipqueue/internal/model"
)

// Legacy markers older clients appended to links
const (
	MarkerAudioOnly = "#__audio_only__"
	MarkerFlat      = "#__flat__"
)

// Host fragments used for site detection
const (
	hostInstagram = "instagram.com"
	hostTikTok    = "tiktok.com"
	hostYouTube   = "youtube.com"
	hostYouTu     = "youtu.be"
	hostPinterest = "pinterest.com"
	hostPinIt     = "pin.it"
)

// Path fragments
const (
	segmentReel   = "reel"
	segmentPost   = "p"
	pathPost      = "/p/"
	pathPhoto     = "/photo/"
	pathVideo     = "/video/"
	pathShorts    = "/shorts/"
	pathWatch     = "/watch"
	queryVideoKey = "v"
)

// StripLegacyMarkers removes the legacy markers from a link and reports which
// ones were present.
func StripLegacyMarkers(link string) (cleaned string, audioOnly, flat bool) {
	cleaned = link
	if strings.Contains(cleaned, MarkerAudioOnly) {
		audioOnly = true
		cleaned = strings.ReplaceAll(cleaned, MarkerAudioOnly, "")
	}
	if strings.Contains(cleaned, MarkerFlat) {
		flat = true
		cleaned = strings.ReplaceAll(cleaned, MarkerFlat, "")
	}
	return cleaned, audioOnly, flat
}

// SanitizeLink trims whitespace and legacy markers from user input
func SanitizeLink(raw string) string {
	cleaned, _, _ := StripLegacyMarkers(strings.TrimSpace(raw))
	return cleaned
}

// StripQuery drops everything after the first '?'
func StripQuery(link string) string {
	if idx := strings.Index(link, "?"); idx >= 0 {
		return link[:idx]
	}
	return link
}

// IsInstagram reports whether the link points at Instagram
func IsInstagram(link string) bool {
	return strings.Contains(link, hostInstagram+"/")
}

// IsInstagramPost reports whether the link is an Instagram /p/ post
func IsInstagramPost(link string) bool {
	return IsInstagram(link) && strings.Contains(link, pathPost)
}

// IsTikTokPhoto reports whether the link is a TikTok photo post
func IsTikTokPhoto(link string) bool {
	return strings.Contains(link, hostTikTok+"/") && strings.Contains(link, pathPhoto)
}

// IsPinterest reports whether the link points at Pinterest
func IsPinterest(link string) bool {
	return strings.Contains(link, hostPinterest) || strings.Contains(link, hostPinIt)
}

// InferSite returns the destination folder name for a link
func InferSite(link string) model.Platform {
	switch {
	case strings.Contains(link, hostInstagram):
		return model.PlatformInstagram
	case strings.Contains(link, hostTikTok):
		return model.PlatformTikTok
	case strings.Contains(link, hostYouTube) || strings.Contains(link, hostYouTu):
		return model.PlatformYouTube
	case IsPinterest(link):
		return model.PlatformPinterest
	default:
		return model.PlatformOther
	}
}

// InferPlatform returns the platform for a manually added link. Unrecognized
// hosts are treated as YouTube-compatible since the video tool handles them.
func InferPlatform(link string) model.Platform {
	if p := InferSite(link); p != model.PlatformOther {
		return p
	}
	return model.PlatformYouTube
}

// InferMedia returns the media kind for a manually added link
func InferMedia(link string) model.MediaKind {
	if strings.Contains(link, pathPhoto) || strings.Contains(link, hostPinterest) {
		return model.MediaImage
	}
	return model.MediaVideo
}

// InstagramHandleAndID extracts the account handle and media id from
// instagram.com/<handle>/reel/<id> or instagram.com/<handle>/p/<id>.
// Both are empty when the link has another shape.
func InstagramHandleAndID(link string) (handle, id string) {
	pos := strings.Index(link, hostInstagram+"/")
	if pos < 0 {
		return "", ""
	}
	rest := strings.Trim(link[pos+len(hostInstagram)+1:], "/")
	parts := strings.Split(rest, "/")
	if len(parts) < 3 {
		return "", ""
	}
	if parts[1] != segmentReel && parts[1] != segmentPost {
		return "", ""
	}
	return parts[0], parts[2]
}

// TikTokID returns the id after /video/ or /photo/
func TikTokID(link string) string {
	for _, key := range []string{pathVideo, pathPhoto} {
		if idx := strings.Index(link, key); idx >= 0 {
			if id := firstToken(link[idx+len(key):]); id != "" {
				return id
			}
		}
	}
	return ""
}

// YouTubeID returns the id from a v= query parameter or a /shorts/ path
func YouTubeID(link string) string {
	if q := strings.Index(link, "?"); q >= 0 {
		for _, pair := range strings.Split(link[q+1:], "&") {
			k, v, ok := strings.Cut(pair, "=")
			if ok && k == queryVideoKey && v != "" {
				return v
			}
		}
	}
	if idx := strings.Index(link, pathShorts); idx >= 0 {
		return firstToken(link[idx+len(pathShorts):])
	}
	return ""
}

// LastSegment returns the final path segment, ignoring query and trailing slash
func LastSegment(link string) string {
	base := strings.TrimRight(StripQuery(link), "/")
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		return base[idx+1:]
	}
	return base
}

// NameFromLink derives a display name from the media id in a link, falling
// back to the last path segment.
func NameFromLink(link string) string {
	var id string
	switch {
	case IsInstagram(link):
		_, id = InstagramHandleAndID(link)
	case strings.Contains(link, hostTikTok+"/"):
		id = TikTokID(link)
	case strings.Contains(link, hostYouTube+"/") || strings.Contains(link, hostYouTu+"/"):
		id = YouTubeID(link)
	}
	if id == "" {
		id = LastSegment(link)
	}
	if id == "" {
		return model.UnknownHandle
	}
	return id
}

// NormalizeLink reduces a link to a comparison key: no scheme, lowercase
// host, no www. prefix, no query and no trailing slash. YouTube watch links
// keep their v parameter since it is the only thing telling videos apart.
func NormalizeLink(link string) string {
	s := strings.TrimSpace(link)
	if idx := strings.Index(s, "://"); idx >= 0 {
		s = s[idx+3:]
	}
	host := s
	if idx := strings.Index(s, "/"); idx >= 0 {
		host = strings.ToLower(s[:idx])
		s = host + s[idx:]
	} else {
		s = strings.ToLower(s)
		host = s
	}
	s = strings.TrimPrefix(s, "www.")

	videoID := ""
	if strings.HasSuffix(host, hostYouTube) {
		videoID = YouTubeID(s)
	}
	s = strings.TrimRight(StripQuery(s), "/")
	if videoID != "" && strings.HasSuffix(s, pathWatch) {
		s += "?" + queryVideoKey + "=" + videoID
	}
	return s
}

func firstToken(s string) string {
	if idx := strings.IndexAny(s, "/?&"); idx >= 0 {
		return s[:idx]
	}
	return s
}
