package shared

// ChangeType classifies a working-tree path against the index.
type ChangeType string

const (
	ChangeModified  ChangeType = "modified"
	ChangeDeleted   ChangeType = "deleted"
	ChangeUntracked ChangeType = "untracked"
)

// Change is a single classified path.
type Change struct {
	Path    string     `json:"path"`
	Type    ChangeType `json:"type"`
	OldHash string     `json:"old_hash,omitempty"` // digest recorded in the index
	NewHash string     `json:"new_hash,omitempty"` // digest of the working file
}
