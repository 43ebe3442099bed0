package types

import (
	"strings"
	"time"
)

// CareerStage represents where a member is in their career
type CareerStage string

const (
	StageStudent   CareerStage = "student"
	StageEarly     CareerStage = "early_career"
	StageMid       CareerStage = "mid_career"
	StageSenior    CareerStage = "senior"
	StageEmeritus  CareerStage = "emeritus"
	StageUndefined CareerStage = ""
)

// Member is a directory profile
type Member struct {
	// Identification
	ID       int64  `json:"id" yaml:"id"`
	Username string `json:"username" yaml:"username"`

	// Profile
	DisplayName  string      `json:"display_name" yaml:"display_name"`
	Role         string      `json:"role" yaml:"role"`
	Organization string      `json:"organization" yaml:"organization"`
	CareerStage  CareerStage `json:"career_stage" yaml:"career_stage"`
	Location     string      `json:"location" yaml:"location"`
	Bio          string      `json:"bio" yaml:"bio"`

	// Activity
	Karma    int       `json:"karma" yaml:"karma"`
	JoinedAt time.Time `json:"joined_at" yaml:"joined_at"`
}

// ValidateCareerStage checks if the career stage is known. An empty stage is allowed.
func (m *Member) ValidateCareerStage() error {
	switch m.CareerStage {
	case StageStudent, StageEarly, StageMid, StageSenior, StageEmeritus, StageUndefined:
		return nil
	default:
		return ErrInvalidCareerStage
	}
}

// Validate performs validation of the member record
func (m *Member) Validate() error {
	if strings.TrimSpace(m.Username) == "" {
		return ErrMissingUsername
	}
	if strings.ContainsAny(m.Username, " \t\n") {
		return ErrInvalidUsername
	}
	if err := m.ValidateCareerStage(); err != nil {
		return err
	}
	if m.Karma < 0 {
		return ErrNegativeKarma
	}
	return nil
}

// Normalize trims whitespace and fills the display name from the username
func (m *Member) Normalize() {
	m.Username = strings.TrimSpace(m.Username)
	m.DisplayName = strings.TrimSpace(m.DisplayName)
	m.Role = strings.TrimSpace(m.Role)
	m.Organization = strings.TrimSpace(m.Organization)
	m.Location = strings.TrimSpace(m.Location)
	m.Bio = strings.TrimSpace(m.Bio)
	m.CareerStage = CareerStage(strings.ToLower(strings.TrimSpace(string(m.CareerStage))))
	if m.DisplayName == "" {
		m.DisplayName = m.Username
	}
}

// Facet identifiers
const (
	FacetRole         = "role"
	FacetOrganization = "organization"
	FacetCareerStage  = "career_stage"
	FacetLocation     = "location"
	FacetKeywords     = "keywords"
)

// FieldFacets lists the facets backed by a single member field
var FieldFacets = []string{FacetRole, FacetOrganization, FacetCareerStage, FacetLocation}

// IsFieldFacet reports whether id is looked up directly on a member field
func IsFieldFacet(id string) bool {
	for _, f := range FieldFacets {
		if f == id {
			return true
		}
	}
	return false
}

// IsKnownFacet reports whether id names a facet
func IsKnownFacet(id string) bool {
	return id == FacetKeywords || IsFieldFacet(id)
}
