package audit

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ReferenceData holds the identity lists ownership checks validate against.
// Checks receive it by value; they must never mutate it.
type ReferenceData struct {
	Teams       map[string]bool
	Users       map[string]bool
	EmailDomain string
}

type referenceFile struct {
	Teams []string `yaml:"teams"`
	Users []string `yaml:"users"`
}

// LoadReferenceData reads the teams/users YAML file. An empty path is an
// error so callers fall back to the built-in data.
func LoadReferenceData(path, emailDomain string) (ReferenceData, error) {
	if path == "" {
		return ReferenceData{}, fmt.Errorf("no reference data path configured")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ReferenceData{}, fmt.Errorf("reading reference data: %w", err)
	}

	var file referenceFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return ReferenceData{}, fmt.Errorf("parsing reference data: %w", err)
	}
	if len(file.Teams) == 0 && len(file.Users) == 0 {
		return ReferenceData{}, fmt.Errorf("reference data %s lists no teams or users", path)
	}

	ref := ReferenceData{
		Teams:       make(map[string]bool, len(file.Teams)),
		Users:       make(map[string]bool, len(file.Users)),
		EmailDomain: emailDomain,
	}
	for _, team := range file.Teams {
		ref.Teams[team] = true
	}
	for _, user := range file.Users {
		ref.Users[user] = true
	}
	return ref, nil
}

func builtinReferenceData(emailDomain string) ReferenceData {
	return ReferenceData{
		Teams: map[string]bool{
			"infra":    true,
			"security": true,
		},
		Users: map[string]bool{
			"root": true,
		},
		EmailDomain: emailDomain,
	}
}
