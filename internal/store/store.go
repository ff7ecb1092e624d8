package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"kravsak/internal/domain"
)

// Store is the append-only event log plus the case registry. The log is the
// only shared mutable resource per case; readers always see a consistent
// prefix and writers go through the conditional append.
type Store struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (s Store) InsertSak(ctx context.Context, sak domain.Sak) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO saker(id,tittel,kontrakt_ref,te_navn,bh_navn,created_at) VALUES (?,?,?,?,?,?)`,
		sak.ID, sak.Tittel, nullable(sak.KontraktRef), nullable(sak.TENavn), nullable(sak.BHNavn), sak.CreatedAt)
	return err
}

func (s Store) GetSak(ctx context.Context, id string) (domain.Sak, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT id,tittel,COALESCE(kontrakt_ref,''),COALESCE(te_navn,''),COALESCE(bh_navn,''),created_at FROM saker WHERE id=?`, id)
	var sak domain.Sak
	err := row.Scan(&sak.ID, &sak.Tittel, &sak.KontraktRef, &sak.TENavn, &sak.BHNavn, &sak.CreatedAt)
	if err == sql.ErrNoRows {
		return sak, ErrNotFound
	}
	return sak, err
}

func (s Store) ListSaker(ctx context.Context) ([]domain.Sak, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id,tittel,COALESCE(kontrakt_ref,''),COALESCE(te_navn,''),COALESCE(bh_navn,''),created_at FROM saker ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Sak
	for rows.Next() {
		var sak domain.Sak
		if err := rows.Scan(&sak.ID, &sak.Tittel, &sak.KontraktRef, &sak.TENavn, &sak.BHNavn, &sak.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, sak)
	}
	return res, rows.Err()
}

// ListEvents returns the full ordered log for a case, ascending by sequence.
func (s Store) ListEvents(ctx context.Context, sakID string) ([]domain.Event, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id,sak_id,seq,ts,actor,role,COALESCE(track,''),type,data_json FROM hendelser WHERE sak_id=? ORDER BY seq`, sakID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var ev domain.Event
		var dataJSON string
		if err := rows.Scan(&ev.ID, &ev.SakID, &ev.Seq, &ev.Time, &ev.Actor, &ev.Role, &ev.Track, &ev.Type, &dataJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(dataJSON), &ev.Data); err != nil {
			return nil, fmt.Errorf("unmarshal event %s payload: %w", ev.ID, err)
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}

// CountEvents returns the log length for a case, which doubles as its
// optimistic-concurrency version.
func (s Store) CountEvents(ctx context.Context, sakID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0) FROM hendelser WHERE sak_id=?`, sakID).Scan(&n)
	return n, err
}

// Append appends one event iff the case's current event count equals
// expectedVersion. The compare and the insert run in one transaction, and
// the (sak_id, seq) primary key backstops racing appends, so either the
// whole event lands or nothing does.
func (s Store) Append(ctx context.Context, ev domain.Event, expectedVersion int) (domain.Event, error) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return domain.Event{}, fmt.Errorf("marshal event payload: %w", err)
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Event{}, err
	}
	defer tx.Rollback()

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0) FROM hendelser WHERE sak_id=?`, ev.SakID).Scan(&current); err != nil {
		return domain.Event{}, err
	}
	if current != expectedVersion {
		return domain.Event{}, domain.VersionConflictError{SakID: ev.SakID, Expected: expectedVersion, Actual: current}
	}
	ev.Seq = current + 1
	_, err = tx.ExecContext(ctx, `INSERT INTO hendelser(id,sak_id,seq,ts,actor,role,track,type,data_json) VALUES (?,?,?,?,?,?,?,?,?)`,
		ev.ID, ev.SakID, ev.Seq, ev.Time, ev.Actor, ev.Role, nullable(string(ev.Track)), ev.Type, string(data))
	if err != nil {
		return domain.Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Event{}, err
	}
	return ev, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
