package mapping

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FolderMapping represents the form ID to storage folder mapping
type FolderMapping struct {
	FormToFolder  map[string]string `json:"form_to_folder"`
	DefaultFolder string            `json:"default_folder"`
	LastUpdated   time.Time         `json:"last_updated"`
}

// FolderMappingService resolves the storage folder for pulled attachments
type FolderMappingService struct {
	mu      sync.RWMutex
	mapping *FolderMapping
	logger  *zap.Logger
}

// NewFolderMappingService creates a new folder mapping service
func NewFolderMappingService(logger *zap.Logger) *FolderMappingService {
	return &FolderMappingService{
		mapping: &FolderMapping{
			FormToFolder: make(map[string]string),
			LastUpdated:  time.Now(),
		},
		logger: logger,
	}
}

// LoadMapping replaces the current mapping. Entries with an empty form ID or
// folder are ignored.
func (fms *FolderMappingService) LoadMapping(folders map[string]string, defaultFolder string) {
	next := &FolderMapping{
		FormToFolder:  make(map[string]string, len(folders)),
		DefaultFolder: strings.Trim(strings.TrimSpace(defaultFolder), "/"),
		LastUpdated:   time.Now(),
	}
	for formID, folder := range folders {
		formID = strings.TrimSpace(formID)
		folder = strings.Trim(strings.TrimSpace(folder), "/")
		if formID == "" || folder == "" {
			fms.logger.Warn("Ignoring invalid folder mapping",
				zap.String("form_id", formID),
				zap.String("folder", folder))
			continue
		}
		next.FormToFolder[formID] = folder
	}

	fms.mu.Lock()
	fms.mapping = next
	fms.mu.Unlock()

	fms.logger.Info("Folder mapping loaded",
		zap.Int("total_forms", len(next.FormToFolder)),
		zap.String("default_folder", next.DefaultFolder))
}

// FolderFor returns the folder configured for formID, or the default folder.
func (fms *FolderMappingService) FolderFor(formID string) string {
	fms.mu.RLock()
	defer fms.mu.RUnlock()
	if folder, ok := fms.mapping.FormToFolder[formID]; ok {
		return folder
	}
	return fms.mapping.DefaultFolder
}

// GetMappingStats returns statistics about the current mapping
func (fms *FolderMappingService) GetMappingStats() map[string]interface{} {
	fms.mu.RLock()
	defer fms.mu.RUnlock()
	forms := make(map[string]string, len(fms.mapping.FormToFolder))
	for k, v := range fms.mapping.FormToFolder {
		forms[k] = v
	}
	return map[string]interface{}{
		"total_forms":    len(forms),
		"default_folder": fms.mapping.DefaultFolder,
		"last_updated":   fms.mapping.LastUpdated,
		"form_to_folder": forms,
	}
}
