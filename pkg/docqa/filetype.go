package docqa

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	DocumentExtensions = []string{".pdf", ".txt", ".docx"}
	AudioExtensions    = []string{".wav", ".mp3", ".m4a"}
)

// Fingerprint is the content hash used to tell a new upload from a re-render of the same file.
func Fingerprint(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func hasExtension(filename string, allowed []string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, a := range allowed {
		if ext == a {
			return true
		}
	}
	return false
}

// ValidateDocument rejects uploads before any remote call is made.
func ValidateDocument(filename string, content []byte) error {
	if !hasExtension(filename, DocumentExtensions) {
		return fmt.Errorf("%q (allowed: %s): %w", filename, strings.Join(DocumentExtensions, ", "), ErrUnsupportedFileType)
	}
	if len(content) == 0 {
		return ErrEmptyDocument
	}
	return nil
}

// ValidateAudio rejects voice notes with an unknown container.
func ValidateAudio(filename string, content []byte) error {
	if !hasExtension(filename, AudioExtensions) {
		return fmt.Errorf("%q (allowed: %s): %w", filename, strings.Join(AudioExtensions, ", "), ErrUnsupportedFileType)
	}
	if len(content) == 0 {
		return fmt.Errorf("audio is empty: %w", ErrUnsupportedFileType)
	}
	return nil
}
