// Package sync reconciles the local contact store with a remote
// mailing list. A run is staged: collect local members and remote
// members into per-list staging tables, drop the rows that already
// match, then apply what is left in the chosen direction.
package sync

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/cadencehq/listsync/crm"
	"github.com/cadencehq/listsync/errors"
	"github.com/cadencehq/listsync/mailer"
	"github.com/cadencehq/listsync/mapping"
)

// Direction selects which side wins the reconciliation.
type Direction string

const (
	// Push makes the remote list match the local store.
	Push Direction = "push"
	// Pull makes the local store match the remote list.
	Pull Direction = "pull"
)

// Sync drives the staged reconciliation for one or more lists.
type Sync struct {
	db       *sql.DB
	contacts *crm.Store
	mappings *mapping.Store
	mailer   mailer.Client
	log      *zap.SugaredLogger
	pageSize int
}

// New creates a sync engine. pageSize bounds how many remote members
// are fetched per request during collection.
func New(db *sql.DB, client mailer.Client, log *zap.SugaredLogger, pageSize int) *Sync {
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &Sync{
		db:       db,
		contacts: crm.NewStore(db),
		mappings: mapping.NewStore(db),
		mailer:   client,
		log:      log,
		pageSize: pageSize,
	}
}

// journal records a per-record problem encountered during apply.
// Problems are skipped, not fatal; the run continues with the rest of
// the list.
func (s *Sync) journal(ctx context.Context, listID, email, message string) error {
	s.log.Warnw("sync record skipped", "list_id", listID, "email", email, "reason", message)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_errors (list_id, email, message) VALUES (?, ?, ?)`,
		listID, email, message)
	if err != nil {
		return errors.Wrap(err, "journal sync error")
	}
	return nil
}
