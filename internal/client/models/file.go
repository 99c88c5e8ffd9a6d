// Package models defines the client-side data shapes shared by the vault,
// the fetch scheduler, the stream server and the repositories.
package models

import "fmt"

// FileKind is the destination classification of a course file. It decides
// how the file is sealed at rest.
type FileKind string

const (
	FileKindVideo    FileKind = "video"
	FileKindDocument FileKind = "document"
	FileKindImage    FileKind = "image"
	FileKindText     FileKind = "text"
)

// Streamed reports whether files of this kind use the seekable layout.
// Text stays atomic so it is authenticated before use.
func (k FileKind) Streamed() bool {
	switch k {
	case FileKindVideo, FileKindImage, FileKindDocument:
		return true
	default:
		return false
	}
}

func (k FileKind) Valid() bool {
	switch k {
	case FileKindVideo, FileKindDocument, FileKindImage, FileKindText:
		return true
	}
	return false
}

// File is one artifact of a download task, already normalized from whatever
// shape the upstream API delivered.
type File struct {
	// ID is the artifact identity; it keys the vault entry.
	ID string `yaml:"id" json:"id"`

	LessonID string `yaml:"lesson_id" json:"lesson_id"`

	// Name is the original logical path inside the course.
	Name string `yaml:"name" json:"name"`

	// Locator is a remote URL, possibly time-limited. Empty when Inline is set.
	Locator string `yaml:"locator,omitempty" json:"locator,omitempty"`

	// Inline carries small content delivered with the manifest itself.
	Inline string `yaml:"inline,omitempty" json:"inline,omitempty"`

	Size int64 `yaml:"size" json:"size"`

	// Checksum is an optional hex md5 (32 chars) or sha256 (64 chars).
	Checksum string `yaml:"checksum,omitempty" json:"checksum,omitempty"`

	Kind        FileKind `yaml:"kind" json:"kind"`
	ContentType string   `yaml:"content_type,omitempty" json:"content_type,omitempty"`

	// RequiresAuth means a 401 on Locator signals an expired locator
	// rather than denied access.
	RequiresAuth bool `yaml:"requires_auth,omitempty" json:"requires_auth,omitempty"`

	// Priority is the cache priority (1..10) the artifact gets in the vault.
	Priority int `yaml:"priority,omitempty" json:"priority,omitempty"`
}

func (f File) String() string {
	return fmt.Sprintf("%s(%s, %d bytes)", f.ID, f.Kind, f.Size)
}
