package core

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"
)

var reportTagPattern = regexp.MustCompile(`(?i)tasy[\s._-]*([0-9]+)`)

// ExtractIdentityTag finds the identity tag in a report file name such as
// "Laudo TASY_1234 2024.pdf". Returns "" when the name carries none.
func ExtractIdentityTag(fileName string) string {
	m := reportTagPattern.FindStringSubmatch(fileName)
	if m == nil {
		return ""
	}
	return m[1]
}

// ReportFile is a file listed by a report source.
type ReportFile struct {
	ID          string
	Name        string
	Link        string
	ContentType string
	ModifiedAt  time.Time
}

// IsPDF reports whether the file is a PDF by content type or extension.
func (f ReportFile) IsPDF() bool {
	return f.ContentType == "application/pdf" || strings.EqualFold(path.Ext(f.Name), ".pdf")
}

// ReportScanSummary counts the outcome of a report scan.
type ReportScanSummary struct {
	PDFs             int `json:"pdfs"`
	Matched          int `json:"matched"`
	Linked           int `json:"linked"`
	Updated          int `json:"updated"`
	MissingEquipment int `json:"missingEquipment"`
	Fulfilled        int `json:"fulfilled"`
}

func (s ReportScanSummary) String() string {
	return fmt.Sprintf("pdfs=%d matched=%d linked=%d updated=%d missing_equipment=%d fulfilled=%d",
		s.PDFs, s.Matched, s.Linked, s.Updated, s.MissingEquipment, s.Fulfilled)
}

// LinkReports attaches the newest PDF per identity tag to its equipment and
// records it in ds.Reports. Files whose tag has no equipment are counted
// and skipped.
func LinkReports(ds *Dataset, files []ReportFile, now time.Time, j Journal) ReportScanSummary {
	var sum ReportScanSummary
	newest := make(map[string]ReportFile)

	for _, f := range files {
		if !f.IsPDF() {
			continue
		}
		sum.PDFs++
		tag := ExtractIdentityTag(f.Name)
		if tag == "" {
			continue
		}
		sum.Matched++
		if cur, ok := newest[tag]; !ok || !f.ModifiedAt.Before(cur.ModifiedAt) {
			newest[tag] = f
		}
	}

	tags := make([]string, 0, len(newest))
	for tag := range newest {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	for _, tag := range tags {
		f := newest[tag]
		idx := ds.FindEquipmentByTag(tag)
		if idx < 0 {
			sum.MissingEquipment++
			continue
		}
		eq := &ds.Equipment[idx]
		key := eq.Key()
		isNew := eq.ReportFileID != f.ID || eq.ReportLink != f.Link

		eq.ReportLink = f.Link
		eq.ReportFileID = f.ID
		eq.ReportFileName = f.Name
		eq.ReportModifiedAt = f.ModifiedAt

		if r := ds.findReport(f.ID); r >= 0 {
			rep := &ds.Reports[r]
			rep.Link = f.Link
			rep.FileName = f.Name
			rep.ModifiedAt = f.ModifiedAt
			rep.ScannedAt = now
			rep.IdentityTag = tag
			rep.EquipmentKey = key
			sum.Updated++
		} else {
			ds.Reports = append(ds.Reports, Report{
				ID:           "report:" + f.ID,
				FileID:       f.ID,
				FileName:     f.Name,
				Link:         f.Link,
				IdentityTag:  tag,
				EquipmentKey: key,
				ModifiedAt:   f.ModifiedAt,
				ScannedAt:    now,
			})
			sum.Linked++
		}

		if isNew && j != nil {
			j.AppendTimelineEvent(TimelineEvent{
				EquipmentKey: key,
				IdentityTag:  tag,
				Type:         EventReports,
				Title:        "Laudo vinculado",
				Details:      f.Name + " " + f.Link,
			})
		}
	}
	return sum
}

func (ds *Dataset) findReport(fileID string) int {
	for i := range ds.Reports {
		if ds.Reports[i].FileID == fileID {
			return i
		}
	}
	return -1
}

// LatestReport returns the most recently modified report linked to e by
// equipment key or identity tag.
func (ds *Dataset) LatestReport(e Equipment) (Report, bool) {
	key := e.Key()
	tag := strings.TrimSpace(e.IdentityTag)

	var best Report
	found := false
	for _, r := range ds.Reports {
		if !(key != "" && r.EquipmentKey == key) && !(tag != "" && strings.TrimSpace(r.IdentityTag) == tag) {
			continue
		}
		if r.Link == "" {
			continue
		}
		if !found || reportTime(r).After(reportTime(best)) {
			best = r
			found = true
		}
	}
	return best, found
}

func reportTime(r Report) time.Time {
	if !r.ModifiedAt.IsZero() {
		return r.ModifiedAt
	}
	return r.ScannedAt
}
