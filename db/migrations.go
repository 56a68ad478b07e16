package db

import (
	"fmt"

	"github.com/TemirkhanN/intrakill/content"
	"github.com/TemirkhanN/intrakill/models"
)

// VaultMigrations the schema history of the vault DB
func VaultMigrations() []Migration {
	return []Migration{
		{
			Version:     models.MustVersion(2026, 2, 25, 17, 0),
			Description: "initial schema",
			Statements: []string{
				`CREATE TABLE entry (
					id TEXT PRIMARY KEY NOT NULL CHECK (length(id) = 36),
					name TEXT NOT NULL,
					preview BLOB NOT NULL,
					created_at INTEGER NOT NULL
				)`,
				`CREATE INDEX idx_entry_created_at ON entry (created_at)`,
				`CREATE INDEX idx_entry_name ON entry (name)`,
				`CREATE TABLE attachment (
					id TEXT PRIMARY KEY NOT NULL CHECK (length(id) = 36),
					entry_id TEXT NOT NULL REFERENCES entry (id) ON DELETE CASCADE,
					content BLOB NOT NULL,
					preview BLOB,
					mime_type TEXT NOT NULL CHECK (length(mime_type) > 5),
					created_at INTEGER NOT NULL,
					hashsum BLOB NOT NULL
				)`,
				`CREATE INDEX idx_attachment_entry_id ON attachment (entry_id)`,
				`CREATE INDEX idx_attachment_entry_created ON attachment (entry_id, created_at)`,
				`CREATE INDEX idx_attachment_hashsum ON attachment (hashsum)`,
				fmt.Sprintf(`CREATE TABLE tags (
					entry_id TEXT NOT NULL REFERENCES entry (id) ON DELETE CASCADE,
					tag TEXT NOT NULL CHECK (length(tag) <= %d),
					PRIMARY KEY (entry_id, tag)
				)`, models.MaxTagLength),
				`CREATE INDEX idx_tags_tag ON tags (tag)`,
				`CREATE INDEX idx_tags_entry_id ON tags (entry_id)`,
			},
		},
		{
			Version:     models.MustVersion(2026, 2, 25, 18, 0),
			Description: "record attachment content size",
			Statements: []string{
				`ALTER TABLE attachment ADD COLUMN size INTEGER NOT NULL DEFAULT 0`,
				`UPDATE attachment SET size = length(content)`,
			},
		},
		{
			Version:     models.MustVersion(2026, 2, 25, 22, 0),
			Description: "split attachment content into chunks",
			Statements: []string{
				`CREATE TABLE attachment_new (
					id TEXT PRIMARY KEY NOT NULL CHECK (length(id) = 36),
					entry_id TEXT NOT NULL REFERENCES entry (id) ON DELETE CASCADE,
					preview BLOB,
					size INTEGER NOT NULL DEFAULT 0,
					mime_type TEXT NOT NULL CHECK (length(mime_type) > 5),
					created_at INTEGER NOT NULL,
					hashsum BLOB NOT NULL
				)`,
				`CREATE TABLE attachment_chunk (
					attachment_id TEXT NOT NULL REFERENCES attachment_new (id) ON DELETE CASCADE,
					sequence_number INTEGER NOT NULL,
					data BLOB NOT NULL,
					PRIMARY KEY (attachment_id, sequence_number)
				)`,
				`INSERT INTO attachment_new (id, entry_id, preview, size, mime_type, created_at, hashsum)
					SELECT id, entry_id, preview, size, mime_type, created_at, hashsum FROM attachment`,
				fmt.Sprintf(`WITH RECURSIVE split (attachment_id, sequence_number, start_at, content) AS (
					SELECT id, 0, 1, content FROM attachment WHERE length(content) > 0
					UNION ALL
					SELECT attachment_id, sequence_number + 1, start_at + %[1]d, content
						FROM split WHERE start_at + %[1]d <= length(content)
				)
				INSERT INTO attachment_chunk (attachment_id, sequence_number, data)
					SELECT attachment_id, sequence_number, substr(content, start_at, %[1]d) FROM split`,
					content.MaxChunkSize),
				`DROP TABLE attachment`,
				`ALTER TABLE attachment_new RENAME TO attachment`,
				`CREATE INDEX idx_attachment_entry_id ON attachment (entry_id)`,
				`CREATE INDEX idx_attachment_entry_created ON attachment (entry_id, created_at)`,
				`CREATE INDEX idx_attachment_hashsum ON attachment (hashsum)`,
				`CREATE INDEX idx_attachment_chunk_id ON attachment_chunk (attachment_id)`,
			},
		},
		{
			Version:     models.MustVersion(2026, 3, 1, 9, 0),
			Description: "vault event log",
			Statements: []string{
				`CREATE TABLE vault_events (
					id TEXT PRIMARY KEY NOT NULL,
					type TEXT NOT NULL,
					metadata TEXT,
					created_at INTEGER NOT NULL
				)`,
				`CREATE INDEX idx_vault_events_created_at ON vault_events (created_at)`,
			},
		},
	}
}

// NewVaultMigrator define the migrator for the vault DB
func NewVaultMigrator() (*Migrator, error) {
	return NewMigrator(VaultMigrations()...)
}
