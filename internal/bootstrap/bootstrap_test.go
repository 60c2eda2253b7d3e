package bootstrap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/user-provisioner/internal/config"
	"github.com/cuongbtq/user-provisioner/internal/importer"
)

func TestImportDefaults(t *testing.T) {
	core, meta, err := ImportDefaults(&config.ImportConfig{
		DefaultRole: "author",
		CoreGroup:   "core-g",
		MetaGroup:   "meta-g",
		MetaLead:    90 * time.Second,
		MetaMode:    "open",
		AllowList:   map[string][]string{"phone": {"telefono"}},
	})
	require.NoError(t, err)

	assert.Equal(t, importer.Options{Role: "author", Group: "core-g"}, core)
	assert.Equal(t, "meta-g", meta.Group)
	assert.Equal(t, 90*time.Second, meta.Lead)
	assert.Equal(t, importer.MetaModeOpen, meta.MetaMode)
	assert.Equal(t, importer.AllowList{"phone": {"telefono"}}, meta.AllowList)

	_, meta, err = ImportDefaults(&config.ImportConfig{})
	require.NoError(t, err)
	assert.Equal(t, importer.MetaModeAllowList, meta.MetaMode)
	assert.Nil(t, meta.AllowList, "nil falls back to the built-in allow-list")

	_, _, err = ImportDefaults(&config.ImportConfig{MetaMode: "auto"})
	assert.ErrorIs(t, err, importer.ErrInvalidMetaMode)
}

func TestInitLogger(t *testing.T) {
	l, err := InitLogger(&config.LoggingConfig{Level: "debug", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	assert.NotNil(t, l.Logger)
	assert.NoError(t, l.Close())
}
