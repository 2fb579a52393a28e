package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ytget/clipqueue/internal/model"
)

func TestStripLegacyMarkers(t *testing.T) {
	cleaned, audio, flat := StripLegacyMarkers("https://youtu.be/abc#__audio_only__#__flat__")
	assert.Equal(t, "https://youtu.be/abc", cleaned)
	assert.True(t, audio)
	assert.True(t, flat)

	cleaned, audio, flat = StripLegacyMarkers("https://youtu.be/abc")
	assert.Equal(t, "https://youtu.be/abc", cleaned)
	assert.False(t, audio)
	assert.False(t, flat)
}

func TestInstagramHandleAndID(t *testing.T) {
	tests := []struct {
		url    string
		handle string
		id     string
	}{
		{"https://instagram.com/alice/reel/abc123", "alice", "abc123"},
		{"https://www.instagram.com/alice/p/XYZ/", "alice", "XYZ"},
		{"https://instagram.com/alice/", "", ""},
		{"https://instagram.com/alice/stories/1", "", ""},
		{"https://youtube.com/watch?v=1", "", ""},
	}

	for _, tt := range tests {
		h, id := InstagramHandleAndID(tt.url)
		if h != tt.handle || id != tt.id {
			t.Errorf("InstagramHandleAndID(%q) = (%q, %q), expected (%q, %q)", tt.url, h, id, tt.handle, tt.id)
		}
	}
}

func TestTikTokID(t *testing.T) {
	assert.Equal(t, "7300", TikTokID("https://www.tiktok.com/@bob/video/7300?lang=en"))
	assert.Equal(t, "42", TikTokID("https://www.tiktok.com/@bob/photo/42"))
	assert.Equal(t, "", TikTokID("https://www.tiktok.com/@bob"))
}

func TestYouTubeID(t *testing.T) {
	assert.Equal(t, "dQw4", YouTubeID("https://www.youtube.com/watch?list=x&v=dQw4"))
	assert.Equal(t, "s1", YouTubeID("https://youtube.com/shorts/s1?feature=share"))
	assert.Equal(t, "", YouTubeID("https://youtube.com/@channel"))
}

func TestLastSegment(t *testing.T) {
	assert.Equal(t, "clip", LastSegment("https://example.com/a/clip/?x=1"))
	assert.Equal(t, "example.com", LastSegment("example.com"))
}

func TestNormalizeLink_DistinctYouTubeVideos(t *testing.T) {
	assert.NotEqual(t,
		NormalizeLink("https://www.youtube.com/watch?v=AAAA"),
		NormalizeLink("https://www.youtube.com/watch?v=BBBB"))
}

func TestNameFromLink(t *testing.T) {
	tests := []struct {
		link     string
		expected string
	}{
		{"https://instagram.com/alice/reel/abc123", "abc123"},
		{"https://instagram.com/alice/", "alice"},
		{"https://www.tiktok.com/@bob/video/7300?lang=en", "7300"},
		{"https://www.tiktok.com/@bob", "@bob"},
		{"https://www.youtube.com/watch?v=dQw4", "dQw4"},
		{"https://youtu.be/xyz", "xyz"},
		{"https://vimeo.com/12345/", "12345"},
		{"", "Unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, NameFromLink(tt.link), tt.link)
	}
}

func TestNormalizeLink(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"https://WWW.YouTube.com/watch?v=1", "youtube.com/watch?v=1"},
		{"https://youtube.com/watch?feature=share&v=AAAA&t=10", "youtube.com/watch?v=AAAA"},
		{"https://m.youtube.com/watch/?v=BBBB", "m.youtube.com/watch?v=BBBB"},
		{"https://youtube.com/shorts/s1?feature=share", "youtube.com/shorts/s1"},
		{"https://example.com/watch?v=1", "example.com/watch"},
		{"http://Instagram.com/Alice/p/X/", "instagram.com/Alice/p/X"},
		{"  tiktok.com  ", "tiktok.com"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, NormalizeLink(tt.in), tt.in)
	}
}

func TestInferSiteAndMedia(t *testing.T) {
	assert.Equal(t, model.PlatformInstagram, InferSite("https://instagram.com/a/p/1"))
	assert.Equal(t, model.PlatformYouTube, InferSite("https://youtu.be/x"))
	assert.Equal(t, model.PlatformPinterest, InferSite("https://pin.it/x"))
	assert.Equal(t, model.PlatformOther, InferSite("https://vimeo.com/1"))
	assert.Equal(t, model.PlatformYouTube, InferPlatform("https://vimeo.com/1"))

	assert.Equal(t, model.MediaImage, InferMedia("https://tiktok.com/@a/photo/1"))
	assert.Equal(t, model.MediaImage, InferMedia("https://pinterest.com/pin/1"))
	assert.Equal(t, model.MediaVideo, InferMedia("https://tiktok.com/@a/video/1"))
}

func TestLinkPredicates(t *testing.T) {
	assert.True(t, IsInstagramPost("https://instagram.com/a/p/1"))
	assert.False(t, IsInstagramPost("https://instagram.com/a/reel/1"))
	assert.True(t, IsTikTokPhoto("https://tiktok.com/@a/photo/1"))
	assert.False(t, IsTikTokPhoto("https://tiktok.com/@a/video/1"))
	assert.Equal(t, "https://instagram.com/a/reel/1", StripQuery("https://instagram.com/a/reel/1?igsh=zz"))
}
