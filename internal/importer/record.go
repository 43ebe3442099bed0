package importer

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/memberdir/pkg/types"
)

// ErrEmptyFile is returned for a profile file with no members in it
var ErrEmptyFile = errors.New("no members in file")

// memberRecord is the on-disk shape of a profile. JSON files are read with
// the same decoder since JSON is valid YAML.
type memberRecord struct {
	Username     string `yaml:"username"`
	DisplayName  string `yaml:"display_name"`
	Role         string `yaml:"role"`
	Organization string `yaml:"organization"`
	CareerStage  string `yaml:"career_stage"`
	Location     string `yaml:"location"`
	Bio          string `yaml:"bio"`
	Karma        int    `yaml:"karma"`
	JoinedAt     string `yaml:"joined_at"`
}

// memberFile is the wrapped form: a top level "members" list
type memberFile struct {
	Members []memberRecord `yaml:"members"`
}

var joinedAtLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

func parseJoinedAt(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range joinedAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid joined_at %q", s)
}

// toMember converts and normalizes a record. The result is not validated.
func (r memberRecord) toMember() (types.Member, error) {
	joined, err := parseJoinedAt(r.JoinedAt)
	if err != nil {
		return types.Member{}, err
	}
	m := types.Member{
		Username:     r.Username,
		DisplayName:  r.DisplayName,
		Role:         r.Role,
		Organization: r.Organization,
		CareerStage:  types.CareerStage(r.CareerStage),
		Location:     r.Location,
		Bio:          r.Bio,
		Karma:        r.Karma,
		JoinedAt:     joined,
	}
	m.Normalize()
	return m, nil
}

// decodeRecords accepts a single profile, a list of profiles or a
// {members: [...]} document
func decodeRecords(data []byte) ([]memberRecord, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyFile
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, ErrEmptyFile
	}
	root := doc.Content[0]

	var records []memberRecord
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&records); err != nil {
			return nil, err
		}
	case yaml.MappingNode:
		if hasKey(root, "members") {
			var f memberFile
			if err := root.Decode(&f); err != nil {
				return nil, err
			}
			records = f.Members
			break
		}
		var r memberRecord
		if err := root.Decode(&r); err != nil {
			return nil, err
		}
		records = []memberRecord{r}
	default:
		return nil, fmt.Errorf("unexpected document at line %d: want a profile or a list of profiles", root.Line)
	}

	if len(records) == 0 {
		return nil, ErrEmptyFile
	}
	return records, nil
}

func hasKey(mapping *yaml.Node, key string) bool {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return true
		}
	}
	return false
}

// parseFile reads one profile file. Records that fail conversion are
// reported per record so the rest of the file still imports.
func parseFile(path string) ([]types.Member, []error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	records, err := decodeRecords(data)
	if err != nil {
		return nil, nil, err
	}

	members := make([]types.Member, 0, len(records))
	var problems []error
	for i, r := range records {
		m, err := r.toMember()
		if err != nil {
			problems = append(problems, fmt.Errorf("record %d: %w", i+1, err))
			continue
		}
		members = append(members, m)
	}
	return members, problems, nil
}
