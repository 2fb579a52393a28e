// Package fetch wraps the external fetch tools: yt-dlp for video (through
// github.com/lrstanley/go-ytdlp) and gallery-dl for image sets. Both tools are
// opaque; callers get the combined log text and a success flag back and are
// expected to recover result paths with platform.ParseOutput.
package fetch
