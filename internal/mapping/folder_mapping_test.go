package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestFolderFor(t *testing.T) {
	fms := NewFolderMappingService(zap.NewNop())
	fms.LoadMapping(map[string]string{
		"7":  "resumes",
		"9":  "/invoices/",
		"":   "ignored",
		"12": " ",
	}, "uploads")

	assert.Equal(t, "resumes", fms.FolderFor("7"))
	assert.Equal(t, "invoices", fms.FolderFor("9"))
	assert.Equal(t, "uploads", fms.FolderFor("12"))
	assert.Equal(t, "uploads", fms.FolderFor("unknown"))

	stats := fms.GetMappingStats()
	assert.Equal(t, 2, stats["total_forms"])
}

func TestLoadMappingReplaces(t *testing.T) {
	fms := NewFolderMappingService(zap.NewNop())
	assert.Empty(t, fms.FolderFor("7"))

	fms.LoadMapping(map[string]string{"7": "resumes"}, "")
	assert.Equal(t, "resumes", fms.FolderFor("7"))

	fms.LoadMapping(map[string]string{"8": "photos"}, "misc")
	assert.Equal(t, "misc", fms.FolderFor("7"))
	assert.Equal(t, "photos", fms.FolderFor("8"))
}
