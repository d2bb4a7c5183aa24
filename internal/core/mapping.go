package core

import "strings"

// Role is a canonical field an import column can be mapped to.
type Role string

const (
	RoleIdentityTag Role = "identity_tag"
	RoleAssetTag    Role = "asset_tag"
	RoleName        Role = "name"
	RoleSector      Role = "sector"
	RoleModel       Role = "model"
	RoleType        Role = "type"
	RoleActivity    Role = "activity"
	RoleStatus      Role = "status"
	RoleLastDate    Role = "last_date"
	RoleNextDate    Role = "next_date"
	RolePeriodicity Role = "periodicity"
	RoleReportLink  Role = "report_link"
)

// Roles lists every role in display order.
var Roles = []Role{
	RoleIdentityTag, RoleAssetTag, RoleName, RoleSector, RoleModel, RoleType,
	RoleActivity, RoleStatus, RoleLastDate, RoleNextDate, RolePeriodicity, RoleReportLink,
}

// Mapping assigns header labels to roles. Labels may be given in any
// spelling; Row.Pick normalizes them.
type Mapping map[Role]string

// Get returns the label mapped to role, or "".
func (m Mapping) Get(role Role) string {
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[role])
}

// Clone returns a copy of m.
func (m Mapping) Clone() Mapping {
	if m == nil {
		return nil
	}
	c := make(Mapping, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// Mapped returns the number of roles with a non-empty label.
func (m Mapping) Mapped() int {
	n := 0
	for _, v := range m {
		if strings.TrimSpace(v) != "" {
			n++
		}
	}
	return n
}

// Candidates lists, per role, header names to try in priority order.
type Candidates map[Role][]string

// DefaultCandidates returns the header vocabulary of the hospital's
// equipment and maintenance spreadsheets.
func DefaultCandidates() Candidates {
	return Candidates{
		RoleIdentityTag: {"tasy", "cod tasy", "cód tasy", "codigo tasy", "cod. tasy"},
		RoleAssetTag:    {"patrimonio", "patrimônio"},
		RoleName:        {"descricao", "descrição", "descriao", "equipamento", "nome"},
		RoleSector:      {"setor", "unidade", "local"},
		RoleModel:       {"coluna 4", "marca", "fabricante", "modelo"},
		RoleType:        {"tipo", "categoria"},
		RoleActivity:    {"atividade", "coluna 4", "descricao atividade"},
		RoleStatus:      {"situacao", "situação", "status"},
		RoleLastDate:    {"data da ultima preventiva", "data da última preventiva", "ultima preventiva", "data da ultima"},
		RoleNextDate:    {"data da proxima", "data da próxima", "proxima preventiva", "data_final", "data final", "data fim"},
		RolePeriodicity: {"periodicidade", "periodicidade (dias)"},
		RoleReportLink:  {"coluna 10", "laudo", "link"},
	}
}

// Merge returns a copy of c with the lists in extra prepended, so
// configured vocabulary takes priority over the defaults.
func (c Candidates) Merge(extra Candidates) Candidates {
	out := make(Candidates, len(c))
	for role, list := range c {
		out[role] = append([]string(nil), list...)
	}
	for role, list := range extra {
		out[role] = append(append([]string(nil), list...), out[role]...)
	}
	return out
}

// Autodetect maps each role to the first candidate present in header.
// header must already be normalized (Table.Header is). Roles with no
// matching candidate are left empty.
func Autodetect(header []string, cands Candidates) Mapping {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[NormalizeHeader(h)] = true
	}

	m := make(Mapping, len(Roles))
	for _, role := range Roles {
		m[role] = ""
		for _, c := range cands[role] {
			if n := NormalizeHeader(c); present[n] {
				m[role] = n
				break
			}
		}
	}
	return m
}

// UpdateFlags selects which existing fields an import may overwrite.
type UpdateFlags struct {
	Name        bool `json:"name"`
	Sector      bool `json:"sector"`
	Model       bool `json:"model"`
	AssetTag    bool `json:"assetTag"`
	Type        bool `json:"type"`
	Status      bool `json:"status"`
	Dates       bool `json:"dates"`
	Periodicity bool `json:"periodicity"`
	Activity    bool `json:"activity"`
	ReportLink  bool `json:"reportLink"`
}

// AllUpdates returns flags allowing every field to update.
func AllUpdates() UpdateFlags {
	return UpdateFlags{
		Name: true, Sector: true, Model: true, AssetTag: true, Type: true,
		Status: true, Dates: true, Periodicity: true, Activity: true, ReportLink: true,
	}
}

// MissingRowPolicy controls equipment that is absent from an import batch.
type MissingRowPolicy string

const (
	// MissingIgnore leaves absent equipment untouched.
	MissingIgnore MissingRowPolicy = "ignore"
	// MissingMarkDiscontinued discontinues active equipment absent from the batch.
	MissingMarkDiscontinued MissingRowPolicy = "mark_missing"
)

// ParseEquipmentStatus maps a status cell to a status. Portuguese and
// English spellings and single-letter codes are accepted; anything else
// yields "" (no status signal).
func ParseEquipmentStatus(raw string) EquipmentStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "a", "ativo", "ativa", "active":
		return StatusActive
	case "i", "inativo", "inativa", "d", "descontinuado", "descontinuada",
		"inactive", "discontinued":
		return StatusDiscontinued
	default:
		return ""
	}
}
