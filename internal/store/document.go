package store

// Document is a whole-replacement JSON document addressed by a
// slash-separated path, the shared store's unit of write. Deletes are
// tombstones so watchers observe them in commit order.
type Document struct {
	Path        string `gorm:"column:path;primaryKey;size:512;not null"`
	Parent      string `gorm:"column:parent;size:512;not null;index:idx_documents_parent"`
	PayloadJSON string `gorm:"column:payload_json;type:text;not null"`
	CommitSeq   int64  `gorm:"column:commit_seq;not null;index:idx_documents_commit_seq"`
	IsDeleted   bool   `gorm:"column:is_deleted;not null;default:false"`
	UpdatedAtS  int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "documents"
}
