// Package manifest loads course manifests: YAML documents that list the
// lessons of a course and the files each lesson needs. Load normalizes
// them into the flat models.File list the scheduler consumes.
package manifest

import (
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"os"
	"path"
	"strings"

	"github.com/dmitrijs2005/coursekeeper/internal/client/models"
	"gopkg.in/yaml.v3"
)

const DefaultPriority = 5

var ErrInvalid = errors.New("invalid manifest")

type fileSpec struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	URL          string `yaml:"url"`
	Inline       string `yaml:"inline"`
	Size         int64  `yaml:"size"`
	Checksum     string `yaml:"checksum"`
	Kind         string `yaml:"kind"`
	ContentType  string `yaml:"content_type"`
	RequiresAuth bool   `yaml:"requires_auth"`
	Priority     int    `yaml:"priority"`
}

type lessonSpec struct {
	ID    string     `yaml:"id"`
	Title string     `yaml:"title"`
	Files []fileSpec `yaml:"files"`
}

type document struct {
	ID       string       `yaml:"id"`
	Title    string       `yaml:"title"`
	Priority int          `yaml:"priority"`
	Lessons  []lessonSpec `yaml:"lessons"`
	// Files lists course-level files outside any lesson.
	Files []fileSpec `yaml:"files"`
}

// Manifest is a normalized course manifest.
type Manifest struct {
	CourseID string
	Title    string
	Priority int
	Files    []models.File
}

// TotalSize is the sum of declared sizes.
func (m *Manifest) TotalSize() int64 {
	var n int64
	for _, f := range m.Files {
		n += f.Size
	}
	return n
}

func Load(filename string) (*Manifest, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Manifest, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	if doc.ID == "" {
		return nil, fmt.Errorf("%w: course id is required", ErrInvalid)
	}

	m := &Manifest{CourseID: doc.ID, Title: doc.Title, Priority: doc.Priority}
	if m.Title == "" {
		m.Title = doc.ID
	}
	if m.Priority == 0 {
		m.Priority = DefaultPriority
	}
	if m.Priority < 1 || m.Priority > 10 {
		return nil, fmt.Errorf("%w: priority %d out of range 1..10", ErrInvalid, m.Priority)
	}

	seen := map[string]bool{}
	add := func(lessonID string, specs []fileSpec) error {
		for _, s := range specs {
			f, err := normalize(lessonID, s, m.Priority)
			if err != nil {
				return err
			}
			if seen[f.ID] {
				return fmt.Errorf("%w: duplicate file id %q", ErrInvalid, f.ID)
			}
			seen[f.ID] = true
			m.Files = append(m.Files, f)
		}
		return nil
	}

	if err := add("", doc.Files); err != nil {
		return nil, err
	}
	for _, l := range doc.Lessons {
		if err := add(l.ID, l.Files); err != nil {
			return nil, err
		}
	}

	if len(m.Files) == 0 {
		return nil, fmt.Errorf("%w: course %s lists no files", ErrInvalid, m.CourseID)
	}
	return m, nil
}

func normalize(lessonID string, s fileSpec, defPriority int) (models.File, error) {
	f := models.File{
		ID:           s.ID,
		LessonID:     lessonID,
		Name:         s.Name,
		Locator:      s.URL,
		Inline:       s.Inline,
		Size:         s.Size,
		Checksum:     strings.ToLower(strings.TrimSpace(s.Checksum)),
		Kind:         models.FileKind(strings.ToLower(s.Kind)),
		ContentType:  s.ContentType,
		RequiresAuth: s.RequiresAuth,
		Priority:     s.Priority,
	}

	if f.ID == "" {
		return f, fmt.Errorf("%w: file without id in lesson %q", ErrInvalid, lessonID)
	}
	if f.Name == "" {
		f.Name = f.ID
	}
	if f.Locator == "" && f.Inline == "" {
		return f, fmt.Errorf("%w: file %s has neither url nor inline content", ErrInvalid, f.ID)
	}
	if f.Inline != "" && f.Size == 0 {
		f.Size = int64(len(f.Inline))
	}
	if f.Size < 0 {
		return f, fmt.Errorf("%w: file %s has negative size", ErrInvalid, f.ID)
	}

	if f.Checksum != "" {
		if len(f.Checksum) != 32 && len(f.Checksum) != 64 {
			return f, fmt.Errorf("%w: file %s checksum must be md5 or sha256 hex", ErrInvalid, f.ID)
		}
		if _, err := hex.DecodeString(f.Checksum); err != nil {
			return f, fmt.Errorf("%w: file %s checksum is not hex", ErrInvalid, f.ID)
		}
	}

	if f.ContentType == "" {
		f.ContentType = mime.TypeByExtension(path.Ext(f.Name))
	}
	if f.Kind == "" {
		f.Kind = kindOf(f.ContentType)
	}
	if !f.Kind.Valid() {
		return f, fmt.Errorf("%w: file %s has unknown kind %q", ErrInvalid, f.ID, f.Kind)
	}
	if f.ContentType == "" {
		f.ContentType = "application/octet-stream"
	}

	if f.Priority == 0 {
		f.Priority = defPriority
	}
	if f.Priority < 1 || f.Priority > 10 {
		return f, fmt.Errorf("%w: file %s priority %d out of range 1..10", ErrInvalid, f.ID, f.Priority)
	}
	return f, nil
}

func kindOf(contentType string) models.FileKind {
	ct, _, _ := strings.Cut(contentType, ";")
	switch {
	case strings.HasPrefix(ct, "video/"), strings.HasPrefix(ct, "audio/"):
		return models.FileKindVideo
	case strings.HasPrefix(ct, "image/"):
		return models.FileKindImage
	case strings.HasPrefix(ct, "text/"), ct == "application/json":
		return models.FileKindText
	default:
		return models.FileKindDocument
	}
}
