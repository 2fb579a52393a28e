package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOutput_Destination(t *testing.T) {
	out := "[youtube] Extracting URL\n[download] Destination: /tmp/out/Alice - Funny Clip [123].mp4\n[download] 100% of 1.2MiB"
	got := ParseOutput(out, "https://youtube.com/watch?v=123", "/tmp/out")

	require.Len(t, got, 1)
	assert.Equal(t, "/tmp/out/Alice - Funny Clip [123].mp4", got[0].Path)
	assert.Equal(t, "Funny Clip", got[0].Name)
	assert.Equal(t, "out", got[0].Handle)
}

func TestParseOutput_NoPathsInstagram(t *testing.T) {
	got := ParseOutput("", "https://instagram.com/alice/reel/abc123", "")

	require.Len(t, got, 1)
	assert.Equal(t, ParsedFile{Handle: "alice", Name: "abc123", Path: ""}, got[0])
}

func TestParseOutput_NoPathsOther(t *testing.T) {
	got := ParseOutput("ERROR: unable to download", "https://tiktok.com/@bob/video/1", "/dl")

	require.Len(t, got, 1)
	assert.Equal(t, ParsedFile{Handle: "Unknown", Name: "Unknown"}, got[0])
}

func TestParseOutput_Matchers(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		hint     string
		expected []string
	}{
		{
			name:     "gallery-dl asset line",
			output:   "# /tmp/gdl/instagram/alice/1.jpg",
			expected: []string{"/tmp/gdl/instagram/alice/1.jpg"},
		},
		{
			name:     "merging quoted",
			output:   `[Merger] Merging formats into "/dl/youtube/manual - Unknown/Bob - Song [x].mp4"`,
			expected: []string{"/dl/youtube/manual - Unknown/Bob - Song [x].mp4"},
		},
		{
			name:     "merging unquoted",
			output:   `[Merger] Merging formats into /dl/a.mp4`,
			expected: []string{"/dl/a.mp4"},
		},
		{
			name:     "windows absolute path",
			output:   `C:\Users\me\Downloads\clip.mp4`,
			expected: []string{`C:\Users\me\Downloads\clip.mp4`},
		},
		{
			name:     "absolute path without dot is ignored",
			output:   "/usr/local/bin",
			expected: nil,
		},
		{
			name:     "relative line under dir hint",
			output:   "dl/tiktok/x.mp4",
			hint:     "dl",
			expected: []string{"dl/tiktok/x.mp4"},
		},
		{
			name:     "already downloaded joins hint",
			output:   "[download] Bob - Song [x].mp4 has already been downloaded",
			hint:     "/dl/youtube",
			expected: []string{"/dl/youtube/Bob - Song [x].mp4"},
		},
		{
			name:     "already downloaded without hint",
			output:   "[download] Bob - Song [x].mp4 has already been downloaded",
			expected: nil,
		},
		{
			name:     "archive skip",
			output:   "[download] Skipping abc.mp4: abc has already been recorded in the archive",
			hint:     "/dl",
			expected: []string{"/dl/abc.mp4"},
		},
		{
			name:     "dedup by first occurrence",
			output:   "[download] Destination: /dl/a.mp4\n/dl/b.mp4\n[download] Destination: /dl/a.mp4",
			expected: []string{"/dl/a.mp4", "/dl/b.mp4"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseOutput(tt.output, "https://example.com/v", tt.hint)
			var paths []string
			for _, f := range got {
				if f.Path != "" {
					paths = append(paths, f.Path)
				}
			}
			assert.Equal(t, tt.expected, paths)
		})
	}
}

func TestParseOutput_HandleFromPath(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"/dl/tiktok/liked - bob/clip.mp4", "liked - bob"},
		{"/dl/bob/tiktok/clip.mp4", "bob"},
		{"/dl/youtube/tiktok/clip.mp4", "Unknown"},
		{"clip.mp4", "Unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, handleFromPath(tt.path), tt.path)
	}
}

func TestParseOutput_InstagramForcesName(t *testing.T) {
	out := "[download] Destination: /dl/instagram/profile - alice/alice - Post [C1]-001.jpg"
	got := ParseOutput(out, "https://instagram.com/alice/p/C1", "/dl")

	require.Len(t, got, 1)
	assert.Equal(t, "alice", got[0].Handle)
	assert.Equal(t, "C1", got[0].Name)
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"/a/Alice - Funny Clip [123].mp4", "Funny Clip"},
		{"/a/Funny Clip [123].mp4", "Funny Clip"},
		{"/a/plain.mp4", "plain"},
		{`C:\a\Bob - Song - Live [9].webm`, "Song - Live"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, displayName(tt.path), tt.path)
	}
}

func TestFirstPath(t *testing.T) {
	assert.Equal(t, "", FirstPath([]ParsedFile{{Name: "x"}}))
	assert.Equal(t, "/b", FirstPath([]ParsedFile{{}, {Path: "/b"}}))
}
