package list

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp-forge/dtmigrate/internal/cmd/base"
	"github.com/hashicorp-forge/dtmigrate/internal/config"
	"github.com/hashicorp-forge/dtmigrate/pkg/crm"
	"github.com/hashicorp-forge/dtmigrate/pkg/crm/memstore"
	"github.com/hashicorp-forge/dtmigrate/pkg/templates"
)

func TestListShowsRemapping(t *testing.T) {
	source := memstore.New("source", map[string]int{"account": 1, "new_widget": 10004, "legacy_entity": 10020})
	dest := memstore.New("destination", map[string]int{"account": 1, "new_widget": 10010})
	for name, entity := range map[string]string{"Invoice": "new_widget", "Legacy": "legacy_entity"} {
		source.Seed(templates.Entity, crm.Attributes{
			templates.AttrName:                     name,
			templates.AttrContent:                  "UEsDBA==",
			templates.AttrAssociatedEntityTypeCode: entity,
			templates.AttrDocumentType:             templates.DocumentTypeWord,
			templates.AttrStatus:                   false,
			templates.AttrCreatedByName:            "Alex Doe",
		})
	}
	source.Seed(templates.Entity, crm.Attributes{
		templates.AttrName:                     "Shipped",
		templates.AttrContent:                  "UEsDBA==",
		templates.AttrAssociatedEntityTypeCode: "account",
		templates.AttrDocumentType:             templates.DocumentTypeWord,
		templates.AttrStatus:                   false,
		templates.AttrCreatedByName:            templates.SystemAuthor,
	})

	path := filepath.Join(t.TempDir(), "dtmigrate.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`
source { url = "https://dev.example.com" }
destination { url = "https://prod.example.com" }
`), 0o600))

	ui := cli.NewMockUi()
	b := base.NewCommand(hclog.NewNullLogger(), ui)
	b.OpenStores = func(cfg *config.Config, log hclog.Logger) (crm.Store, crm.Store, error) {
		return source, dest, nil
	}

	code := (&Command{Command: b}).Run([]string{"-config", path})
	require.Equal(t, 0, code, ui.ErrorWriter.String())

	out := ui.OutputWriter.String()
	assert.Contains(t, out, "Invoice\tnew_widget/10004 -> new_widget/10010")
	assert.Contains(t, out, "2 templates, 1 without entity metadata")
	assert.NotContains(t, out, "Shipped")
	assert.Contains(t, ui.ErrorWriter.String(), "Legacy\tlegacy_entity\tentity missing in destination")
	assert.Zero(t, dest.Count(templates.Entity))
}

func TestListReportsUnreadableTemplates(t *testing.T) {
	source := memstore.New("source", map[string]int{"account": 1})
	dest := memstore.New("destination", map[string]int{"account": 1})
	source.Seed(templates.Entity, crm.Attributes{
		templates.AttrName:                     "Broken",
		templates.AttrContent:                  "!!! not base64 !!!",
		templates.AttrAssociatedEntityTypeCode: "account",
		templates.AttrDocumentType:             templates.DocumentTypeWord,
		templates.AttrStatus:                   false,
		templates.AttrCreatedByName:            "Alex Doe",
	})

	path := filepath.Join(t.TempDir(), "dtmigrate.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`
source { url = "https://dev.example.com" }
destination { url = "https://prod.example.com" }
`), 0o600))

	ui := cli.NewMockUi()
	b := base.NewCommand(hclog.NewNullLogger(), ui)
	b.OpenStores = func(cfg *config.Config, log hclog.Logger) (crm.Store, crm.Store, error) {
		return source, dest, nil
	}

	code := (&Command{Command: b}).Run([]string{"-config", path})
	require.Equal(t, 0, code, ui.ErrorWriter.String())
	assert.Contains(t, ui.OutputWriter.String(), "1 templates, 0 without entity metadata")
	assert.Contains(t, ui.ErrorWriter.String(), "Broken\t-\t")
	assert.Contains(t, ui.ErrorWriter.String(), "1 templates could not be read")
}

func TestListRequiresConfig(t *testing.T) {
	ui := cli.NewMockUi()
	code := (&Command{Command: base.NewCommand(hclog.NewNullLogger(), ui)}).Run(nil)
	assert.Equal(t, 1, code)
}
