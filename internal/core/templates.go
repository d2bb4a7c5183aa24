package core

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TemplateMatchThreshold is the minimum share of a template's headers an
// uploaded file must contain for the template to be suggested.
const TemplateMatchThreshold = 0.7

// MappingTemplate is a saved header mapping for one import mode.
type MappingTemplate struct {
	ID        string     `json:"id"`
	Mode      ImportMode `json:"mode"`
	Name      string     `json:"name"`
	Mapping   Mapping    `json:"mapping"`
	Headers   []string   `json:"headers"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// TemplateMatch is a template suggested for an uploaded file.
type TemplateMatch struct {
	Template MappingTemplate `json:"template"`
	Score    float64         `json:"score"`
}

func validateTemplate(t MappingTemplate) error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTemplate)
	}
	if _, err := ParseImportMode(string(t.Mode)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	if t.Mapping.Mapped() == 0 {
		return fmt.Errorf("%w: no column mapped", ErrInvalidTemplate)
	}
	return nil
}

// FindTemplate returns the index of the template with id, or -1.
func (ds *Dataset) FindTemplate(id string) int {
	for i := range ds.Templates {
		if ds.Templates[i].ID == id {
			return i
		}
	}
	return -1
}

func (ds *Dataset) templateNameTaken(mode ImportMode, name, exceptID string) bool {
	for _, t := range ds.Templates {
		if t.Mode == mode && t.ID != exceptID && sameText(t.Name, name) {
			return true
		}
	}
	return false
}

// AddTemplate stores a new template. Names are unique per mode.
func (ds *Dataset) AddTemplate(t MappingTemplate, now time.Time) (MappingTemplate, error) {
	mode, err := ParseImportMode(string(t.Mode))
	if err == nil {
		t.Mode = mode
	}
	t.Name = collapseSpaces(t.Name)
	if err := validateTemplate(t); err != nil {
		return MappingTemplate{}, err
	}
	if ds.templateNameTaken(t.Mode, t.Name, "") {
		return MappingTemplate{}, fmt.Errorf("%w: template %q already exists for %s", ErrInvalidTemplate, t.Name, t.Mode)
	}

	t.ID = uuid.NewString()
	t.Mapping = t.Mapping.Clone()
	t.Headers = normalizeHeaders(t.Headers)
	t.CreatedAt = now
	t.UpdatedAt = now
	ds.Templates = append(ds.Templates, t)
	return t, nil
}

// UpdateTemplate replaces the name, mapping and headers of template id.
func (ds *Dataset) UpdateTemplate(id, name string, mapping Mapping, headers []string, now time.Time) (MappingTemplate, error) {
	idx := ds.FindTemplate(id)
	if idx < 0 {
		return MappingTemplate{}, fmt.Errorf("template %s: %w", id, ErrTemplateNotFound)
	}
	t := ds.Templates[idx]
	t.Name = collapseSpaces(name)
	t.Mapping = mapping.Clone()
	t.Headers = normalizeHeaders(headers)
	if err := validateTemplate(t); err != nil {
		return MappingTemplate{}, err
	}
	if ds.templateNameTaken(t.Mode, t.Name, id) {
		return MappingTemplate{}, fmt.Errorf("%w: template %q already exists for %s", ErrInvalidTemplate, t.Name, t.Mode)
	}
	t.UpdatedAt = now
	ds.Templates[idx] = t
	return t, nil
}

// DeleteTemplate removes template id.
func (ds *Dataset) DeleteTemplate(id string) error {
	idx := ds.FindTemplate(id)
	if idx < 0 {
		return fmt.Errorf("template %s: %w", id, ErrTemplateNotFound)
	}
	ds.Templates = append(ds.Templates[:idx], ds.Templates[idx+1:]...)
	return nil
}

// TemplatesForMode returns the templates of mode sorted by name.
func TemplatesForMode(templates []MappingTemplate, mode ImportMode) []MappingTemplate {
	out := make([]MappingTemplate, 0, len(templates))
	for _, t := range templates {
		if mode == "" || t.Mode == mode {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

// MatchTemplates returns the templates of mode whose headers are mostly
// present in header, best match first.
func MatchTemplates(templates []MappingTemplate, mode ImportMode, header []string) []TemplateMatch {
	var matches []TemplateMatch
	for _, t := range templates {
		if t.Mode != mode {
			continue
		}
		score := matchTemplateHeaders(header, t.Headers)
		if score >= TemplateMatchThreshold {
			matches = append(matches, TemplateMatch{Template: t, Score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}

// matchTemplateHeaders returns the share of templateHeaders found in header.
func matchTemplateHeaders(header, templateHeaders []string) float64 {
	if len(templateHeaders) == 0 {
		return 0
	}

	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[NormalizeHeader(h)] = true
	}

	matched := 0
	for _, h := range templateHeaders {
		if present[NormalizeHeader(h)] {
			matched++
		}
	}
	return float64(matched) / float64(len(templateHeaders))
}

func normalizeHeaders(headers []string) []string {
	out := make([]string, 0, len(headers))
	for _, h := range headers {
		if n := NormalizeHeader(h); n != "" {
			out = append(out, n)
		}
	}
	return out
}
