package fsops

import (
	"path/filepath"
	"strings"
)

// kindOf buckets a file name by extension for listing clients.
func kindOf(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	switch ext {
	case "png", "bmp", "jpg", "jpeg", "gif", "tga", "dds", "heic", "webp", "tif", "tiff", "ico":
		return "image"
	case "zip", "rar", "tar", "7z", "gz", "xz", "z", "deb", "rpm":
		return "archive"
	case "mkv", "webm", "flv", "avi", "mov", "wmv", "mp4", "m4v", "mpg", "mpeg":
		return "video"
	case "aac", "mp3", "m4a", "acc", "wav", "wma", "ogg", "flac", "aiff", "alac", "dsd", "mqa", "opus":
		return "music"
	case "c", "cgi", "pl", "class", "cpp", "cs", "h", "java", "php", "html", "css", "py", "swift", "vb", "rs", "go":
		return "code"
	case "exe", "msi", "apk", "bat", "bin", "com", "jar", "ps1", "sh":
		return "executable"
	case "pdf":
		return "pdf"
	default:
		return "file"
	}
}
