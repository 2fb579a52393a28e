package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobIDPrefix prefixes every generated job identifier
const JobIDPrefix = "job-"

// Platform identifies the site a job fetches from
type Platform string

const (
	PlatformYouTube   Platform = "youtube"
	PlatformTikTok    Platform = "tiktok"
	PlatformInstagram Platform = "instagram"
	PlatformPinterest Platform = "pinterest"
	PlatformOther     Platform = "other"
)

// ParsePlatform maps a stored token to a Platform, defaulting to PlatformOther
func ParsePlatform(token string) Platform {
	switch p := Platform(strings.ToLower(strings.TrimSpace(token))); p {
	case PlatformYouTube, PlatformTikTok, PlatformInstagram, PlatformPinterest:
		return p
	default:
		return PlatformOther
	}
}

// MediaKind is the kind of asset a job produces
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// ParseMediaKind maps a stored token to a MediaKind, defaulting to video
func ParseMediaKind(token string) MediaKind {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "image", "images", "pictures":
		return MediaImage
	default:
		return MediaVideo
	}
}

// Origin describes where on the source site a job was collected from
type Origin string

const (
	OriginRecommendation Origin = "recommendation"
	OriginPlaylist       Origin = "playlist"
	OriginProfile        Origin = "profile"
	OriginBookmarks      Origin = "bookmarks"
	OriginPinboard       Origin = "pinboard"
	OriginLiked          Origin = "liked"
	OriginReposts        Origin = "reposts"
	OriginOther          Origin = "other"
	OriginManual         Origin = "manual"
)

// ParseOrigin maps a stored token to an Origin, defaulting to manual
func ParseOrigin(token string) Origin {
	switch o := Origin(strings.ToLower(strings.TrimSpace(token))); o {
	case OriginRecommendation, OriginPlaylist, OriginProfile, OriginBookmarks,
		OriginPinboard, OriginLiked, OriginReposts, OriginOther:
		return o
	default:
		return OriginManual
	}
}

// OutputFormat is the per-job output preference
type OutputFormat string

const (
	OutputDefault OutputFormat = "default"
	OutputAudio   OutputFormat = "audio"
	OutputVideo   OutputFormat = "video"
)

// ParseOutputFormat maps a stored token to an OutputFormat
func ParseOutputFormat(token string) OutputFormat {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "audio":
		return OutputAudio
	case "video":
		return OutputVideo
	default:
		return OutputDefault
	}
}

// WantsAudio returns the audio preference carried by the format, or nil when
// the format defers to the process-wide default.
func (f OutputFormat) WantsAudio() *bool {
	switch f {
	case OutputAudio:
		v := true
		return &v
	case OutputVideo:
		v := false
		return &v
	default:
		return nil
	}
}

// DuplicatePolicy decides what happens when a destination name is taken
type DuplicatePolicy string

const (
	DuplicateOverwrite DuplicatePolicy = "overwrite"
	DuplicateDoNothing DuplicatePolicy = "do_nothing"
	DuplicateCreateNew DuplicatePolicy = "create_new"
)

// ParseDuplicatePolicy maps a setting token to a policy, defaulting to CreateNew
func ParseDuplicatePolicy(token string) DuplicatePolicy {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "overwrite":
		return DuplicateOverwrite
	case "do_nothing", "donothing", "skip":
		return DuplicateDoNothing
	default:
		return DuplicateCreateNew
	}
}

// UnmarshalText implements encoding.TextUnmarshaler so settings loaders can
// decode the policy directly.
func (p *DuplicatePolicy) UnmarshalText(text []byte) error {
	*p = ParseDuplicatePolicy(string(text))
	return nil
}

// Job is one unit of work: a source link to fetch and place into the
// destination tree.
type Job struct {
	ID           string       `json:"id"`
	Platform     Platform     `json:"platform"`
	Media        MediaKind    `json:"media"`
	Origin       Origin       `json:"origin"`
	Handle       string       `json:"handle"`
	Name         string       `json:"name"`
	Link         string       `json:"link"`
	OutputFormat OutputFormat `json:"output_format"`
	Status       Status       `json:"status"`
	Path         string       `json:"path,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	CompletedAt  time.Time    `json:"completed_at,omitempty"`
}

// CredentialProfile is one identity usable by the fetch tools, such as a
// browser cookie store. Argument is passed to the tools verbatim.
type CredentialProfile struct {
	Label    string `json:"label"`
	Argument string `json:"argument"`
}

// Overrides are per-invocation options supplied with StartNow
type Overrides struct {
	// ForceAudio overrides the job's output preference when set
	ForceAudio *bool
	// FlatDestination places files directly into the root directory
	FlatDestination bool
}

// Outcome is the result of executing one job
type Outcome struct {
	Success    bool
	Path       string
	Diagnostic string
	Err        error
}

// NewJobID generates a unique job ID using UUID v7 so IDs sort by creation time
func NewJobID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to timestamp if UUID generation fails
		return fmt.Sprintf(JobIDPrefix+"%d", time.Now().UnixNano())
	}
	return JobIDPrefix + id.String()
}

// GetDisplayTitle returns name, filename, or link in order of preference
func (j *Job) GetDisplayTitle() string {
	// First priority: explicit name (non-URL)
	if j.Name != "" && !strings.HasPrefix(j.Name, "http") {
		return j.Name
	}

	// Second priority: filename from Path
	if j.Path != "" {
		// Support both / and \ separators
		parts := strings.FieldsFunc(j.Path, func(r rune) bool {
			return r == '/' || r == '\\'
		})
		if len(parts) > 0 {
			filename := parts[len(parts)-1]
			if idx := strings.LastIndex(filename, "."); idx > 0 {
				filename = filename[:idx]
			}
			return filename
		}
	}

	return j.Link
}
