package engine

import "path/filepath"

// Saved-model layout, relative to the model directory.
const (
	SavedModelFile     = "saved_model.pb"
	VariablesDir       = "variables"
	VariablesIndexFile = "variables.index"
	VariablesDataFile  = "variables.data-00000-of-00001"
)

// Suffixes a save operation appends to the location prefix it is fed.
const (
	IndexSuffix = ".index"
	DataSuffix  = ".data-00000-of-00001"
)

// SavedModelFiles lists the files that make up a saved model, relative to its directory.
func SavedModelFiles() []string {
	return []string{
		SavedModelFile,
		filepath.ToSlash(filepath.Join(VariablesDir, VariablesIndexFile)),
		filepath.ToSlash(filepath.Join(VariablesDir, VariablesDataFile)),
	}
}
