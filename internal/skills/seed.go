package skills

import (
	"strings"

	"github.com/hiresignal/jobs-pipeline/internal/pipeline"
)

// seedSkills is the starter catalog used when no curated catalog exists yet.
// Canonical names and aliases are stored lowercase.
var seedSkills = []struct {
	name      string
	skillType string
	aliases   []string
}{
	{"python", "language", []string{"py"}},
	{"javascript", "language", []string{"js"}},
	{"typescript", "language", []string{"ts"}},
	{"go", "language", []string{"golang"}},
	{"java", "language", nil},
	{"sql", "language", nil},
	{"node.js", "tool", []string{"nodejs", "node"}},
	{"react", "tool", []string{"reactjs", "react.js"}},
	{"vue", "tool", []string{"vuejs", "vue.js"}},
	{"angular", "tool", []string{"angularjs"}},
	{"kubernetes", "tool", []string{"k8s"}},
	{"docker", "tool", nil},
	{"terraform", "tool", []string{"tf"}},
	{"postgresql", "tool", []string{"postgres"}},
	{"microsoft sql server", "tool", []string{"sql server", "mssql"}},
	{"amazon web services", "platform", []string{"aws"}},
	{"google cloud", "platform", []string{"gcp", "google cloud platform"}},
	{"azure", "platform", []string{"microsoft azure"}},
	{"salesforce", "tool", []string{"sfdc"}},
	{"hubspot", "tool", nil},
	{"marketo", "tool", nil},
	{"outreach", "tool", nil},
	{"gong", "tool", nil},
	{"tableau", "tool", nil},
	{"looker", "tool", nil},
	{"dbt", "tool", nil},
	{"snowflake", "tool", nil},
	{"excel", "tool", []string{"microsoft excel"}},
}

// SeedCatalog returns the built-in starter catalog with deterministic IDs.
// Production catalogs live in the skill table; this seeds local runs and
// fresh deployments.
func SeedCatalog() []pipeline.Skill {
	out := make([]pipeline.Skill, 0, len(seedSkills))
	for _, s := range seedSkills {
		out = append(out, pipeline.Skill{
			ID:            "skill-" + strings.ReplaceAll(s.name, " ", "-"),
			CanonicalName: s.name,
			SkillType:     s.skillType,
			Aliases:       s.aliases,
		})
	}
	return out
}
