// Package db is the single persistence layer shared by the Dispatcher,
// Scheduler, and Matchmaker: a SQLite-backed store for bots, code
// versions, games, participants, and per-move board states, per
// spec.md §4.H.
package db

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"lineup"
	"lineup/cmd"
)

//go:embed sql/*.sql
var sqlDir embed.FS

// farFuture is an open upper bound for window queries against the most
// recent CodeVersion, which has no successor to bound it above.
var farFuture = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

// DB is the database manager. read serves prepared select-* statements
// against a read-only-ish connection pool; write serializes every mutating
// statement through a single connection, mirroring the teacher's
// single-writer SQLite discipline.
type DB struct {
	read  *sql.DB
	write *sql.DB

	queries  map[string]*sql.Stmt
	commands map[string]*sql.Stmt
}

func (db *DB) String() string { return "Database Manager" }

// Start runs periodic maintenance: a daily PRAGMA optimize, matching the
// teacher's db.go Start loop.
func (db *DB) Start(st *cmd.State) {
	tick := time.NewTicker(24 * time.Hour)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			if _, err := db.write.Exec("PRAGMA optimize;"); err != nil {
				log.Print(err)
			}
		case <-st.Context.Done():
			return
		}
	}
}

func (db *DB) Shutdown() {
	if _, err := db.write.Exec("PRAGMA optimize;"); err != nil {
		log.Print(err)
	}
	if err := db.write.Close(); err != nil {
		log.Print(err)
	}
	if err := db.read.Close(); err != nil {
		log.Print(err)
	}
}

// Register opens conf.Database.File, applies PRAGMAs, loads every SQL
// file under sql/, and registers the resulting DB as a cmd.Manager on
// st (for periodic maintenance). It returns the DB so the caller can wire
// it into the Dispatcher/Scheduler/Matchmaker components that need
// it directly.
func Register(st *cmd.State, conf *cmd.Conf) *DB {
	read, err := sql.Open("sqlite3", conf.Database.File)
	if err != nil {
		log.Fatal(err, ": ", conf.Database)
	}
	read.SetConnMaxLifetime(0)
	read.SetMaxIdleConns(1)

	write, err := sql.Open("sqlite3", conf.Database.File)
	if err != nil {
		log.Fatal(err, ": ", conf.Database)
	}
	write.SetConnMaxLifetime(0)
	write.SetMaxIdleConns(1)
	write.SetMaxOpenConns(1)

	d := &DB{
		read:     read,
		write:    write,
		queries:  make(map[string]*sql.Stmt),
		commands: make(map[string]*sql.Stmt),
	}

	for _, pragma := range []string{
		"journal_mode = WAL",
		"synchronous = normal",
		"foreign_keys = on",
	} {
		lineup.Debug.Printf("run PRAGMA %v", pragma)
		if _, err := d.write.Exec("PRAGMA " + pragma + ";"); err != nil {
			log.Fatal(err)
		}
	}

	entries, err := fs.ReadDir(sqlDir, "sql")
	if err != nil {
		log.Fatal(err)
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		base := path.Base(entry.Name())
		data, err := fs.ReadFile(sqlDir, path.Join("sql", entry.Name()))
		if err != nil {
			log.Fatal(err)
		}

		switch {
		case strings.HasPrefix(base, "create-"):
			if _, err = d.write.Exec(string(data)); err == nil {
				lineup.Debug.Printf("executed %v", base)
			}
		default:
			name := strings.TrimSuffix(base, ".sql")
			if strings.HasPrefix(name, "select-") {
				d.queries[name], err = d.read.Prepare(string(data))
				lineup.Debug.Printf("registered query %v", name)
			} else {
				d.commands[name], err = d.write.Prepare(string(data))
				lineup.Debug.Printf("registered command %v", name)
			}
		}
		if err != nil {
			log.Fatal(entry.Name(), ": ", err)
		}
	}

	if len(d.queries) == 0 {
		panic("no queries loaded")
	}

	st.Register(d)
	return d
}

// --- bots --------------------------------------------------------------

func scanBot(scan func(dest ...interface{}) error) (*lineup.Bot, error) {
	var b lineup.Bot
	if err := scan(&b.Id, &b.Token, &b.Suspended); err != nil {
		return nil, err
	}
	return &b, nil
}

// BotByToken resolves the Bot owning token, or nil if none does.
func (db *DB) BotByToken(ctx context.Context, token string) (*lineup.Bot, error) {
	b, err := scanBot(db.queries["select-bot-by-token"].QueryRowContext(ctx, token).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return b, err
}

// BotByID resolves a Bot by its primary key, or nil if it doesn't exist.
func (db *DB) BotByID(ctx context.Context, id int64) (*lineup.Bot, error) {
	b, err := scanBot(db.queries["select-bot"].QueryRowContext(ctx, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return b, err
}

// InsertBot creates a new Bot identity with the given token.
func (db *DB) InsertBot(ctx context.Context, token string) (*lineup.Bot, error) {
	res, err := db.commands["insert-bot"].ExecContext(ctx, token)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &lineup.Bot{Id: id, Token: token}, nil
}

// RevokeBot replaces token with an unguessable, never-again-authenticating
// replacement and suspends its owning bot, without touching any of its
// games/participants/states history. Reports whether a bot owned token.
func (db *DB) RevokeBot(ctx context.Context, token string) (bool, error) {
	res, err := db.commands["update-bot-revoke"].ExecContext(ctx, "revoked:"+uuid.NewString(), token)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// BotsWithCode returns every non-suspended bot with at least one
// CodeVersion — the Matchmaker's bots_with_code (spec.md §4.F).
func (db *DB) BotsWithCode(ctx context.Context) ([]lineup.Bot, error) {
	rows, err := db.queries["select-bots-with-code"].QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBots(rows)
}

// BotsWithNotEnoughGames returns eligible bots whose participation count
// for games strictly after their latest CodeVersion's created_at is below
// minGames — the Matchmaker's bots_with_not_enough_games (spec.md §4.F).
func (db *DB) BotsWithNotEnoughGames(ctx context.Context, minGames int) ([]lineup.Bot, error) {
	rows, err := db.queries["select-bots-with-not-enough-games"].QueryContext(ctx, minGames)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBots(rows)
}

// BotsByParticipationDesc returns eligible bots ordered by descending
// participation count, used to extend to_match when it is shorter than
// MIN_GAMES_PER_VERSION (spec.md §4.F step 3).
func (db *DB) BotsByParticipationDesc(ctx context.Context) ([]lineup.Bot, error) {
	rows, err := db.queries["select-bots-by-participation-desc"].QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bots []lineup.Bot
	for rows.Next() {
		var b lineup.Bot
		var count int
		if err := rows.Scan(&b.Id, &b.Token, &b.Suspended, &count); err != nil {
			return nil, err
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

func scanBots(rows *sql.Rows) ([]lineup.Bot, error) {
	var bots []lineup.Bot
	for rows.Next() {
		b, err := scanBot(rows.Scan)
		if err != nil {
			return nil, err
		}
		bots = append(bots, *b)
	}
	return bots, rows.Err()
}

// --- code versions -------------------------------------------------------

func scanCodeVersion(scan func(dest ...interface{}) error) (*lineup.CodeVersion, error) {
	var cv lineup.CodeVersion
	var created string
	if err := scan(&cv.Id, &cv.BotId, &created, &cv.Source, &cv.ClsName); err != nil {
		return nil, err
	}
	t, err := parseTimestamp(created)
	if err != nil {
		return nil, err
	}
	cv.CreatedAt = t
	return &cv, nil
}

// LatestCodeVersion returns botID's most recent CodeVersion, or nil if it
// has none.
func (db *DB) LatestCodeVersion(ctx context.Context, botID int64) (*lineup.CodeVersion, error) {
	cv, err := scanCodeVersion(db.queries["select-latest-code-version"].QueryRowContext(ctx, botID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return cv, err
}

// CodeVersions returns botID's most recent limit CodeVersions, oldest
// first (fetched newest-first and reversed, per the same convention as
// ParticipantInfo).
func (db *DB) CodeVersions(ctx context.Context, botID int64, limit int) ([]lineup.CodeVersion, error) {
	rows, err := db.queries["select-code-versions"].QueryContext(ctx, botID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []lineup.CodeVersion
	for rows.Next() {
		cv, err := scanCodeVersion(rows.Scan)
		if err != nil {
			return nil, err
		}
		versions = append(versions, *cv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverseCodeVersions(versions)
	return versions, nil
}

func reverseCodeVersions(vs []lineup.CodeVersion) {
	for i, j := 0, len(vs)-1; i < j; i, j = i+1, j-1 {
		vs[i], vs[j] = vs[j], vs[i]
	}
}

// InsertCodeVersionAndUnsuspend inserts a new CodeVersion for botID and
// clears Bot.Suspended in one transaction, per spec.md §4.I's
// /update_code handler.
func (db *DB) InsertCodeVersionAndUnsuspend(ctx context.Context, botID int64, source, clsName string) (*lineup.CodeVersion, error) {
	tx, err := db.write.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	res, err := tx.Stmt(db.commands["insert-code-version"]).ExecContext(ctx,
		botID, formatTimestamp(now), source, clsName)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	if _, err := tx.Stmt(db.commands["update-bot-suspended"]).ExecContext(ctx, false, botID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &lineup.CodeVersion{Id: id, BotId: botID, CreatedAt: now, Source: source, ClsName: clsName}, nil
}

// --- games & participants ------------------------------------------------

// CreateGameWithParticipants inserts a new Game and its two Participant
// rows (one per Side) in a single transaction, per spec.md §4.G's pass
// body: "insert a new Game + two Participant rows (committed)".
func (db *DB) CreateGameWithParticipants(ctx context.Context, blueBotID, redBotID int64) (*lineup.Game, error) {
	tx, err := db.write.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	game := &lineup.Game{Id: uuid.NewString(), CreatedAt: time.Now().UTC()}
	if _, err := tx.Stmt(db.commands["insert-game"]).ExecContext(ctx,
		game.Id, formatTimestamp(game.CreatedAt)); err != nil {
		return nil, err
	}

	for _, p := range []struct {
		side  lineup.Side
		botID int64
	}{
		{lineup.Blue, blueBotID},
		{lineup.Red, redBotID},
	} {
		if _, err := tx.Stmt(db.commands["insert-participant"]).ExecContext(ctx,
			game.Id, p.botID, int(p.side), formatTimestamp(game.CreatedAt)); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return game, nil
}

type participantRow struct {
	id        int64
	gameID    string
	botID     int64
	side      lineup.Side
	createdAt time.Time
	result    sql.NullString
	exception sql.NullString
}

// querier is satisfied by a prepared statement (optionally bound to a
// transaction via tx.Stmt), letting participantsByGame run inside or
// outside a transaction.
type querier interface {
	QueryContext(ctx context.Context, args ...interface{}) (*sql.Rows, error)
}

func (db *DB) participantsByGame(ctx context.Context, q querier, gameID string) ([]participantRow, error) {
	rows, err := q.QueryContext(ctx, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []participantRow
	for rows.Next() {
		var p participantRow
		var created string
		var side int
		if err := rows.Scan(&p.id, &p.gameID, &p.botID, &side, &created, &p.result, &p.exception); err != nil {
			return nil, err
		}
		p.side = lineup.Side(side)
		t, err := parseTimestamp(created)
		if err != nil {
			return nil, err
		}
		p.createdAt = t
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveGameResult applies a finished GameLog's outcome to its two
// Participant rows and inserts its StoredState rows, per spec.md §4.I's
// save_game_result. Re-delivery of the same game_id is a no-op.
func (db *DB) SaveGameResult(ctx context.Context, log *lineup.GameLog) error {
	tx, err := db.write.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	parts, err := db.participantsByGame(ctx, tx.Stmt(db.queries["select-participants-by-game"]), log.GameId)
	if err != nil {
		return err
	}
	if len(parts) != 2 {
		return fmt.Errorf("game %s: expected 2 participants, found %d", log.GameId, len(parts))
	}

	for _, p := range parts {
		if p.result.Valid {
			// Already ingested: idempotent no-op (spec.md §4.I).
			return nil
		}
	}

	byside := map[lineup.Side]participantRow{}
	for _, p := range parts {
		byside[p.side] = p
	}

	setResult := func(p participantRow, result lineup.Result, exc *lineup.ExceptionInfo) error {
		var excJSON sql.NullString
		if exc != nil {
			b, err := json.Marshal(exc)
			if err != nil {
				return err
			}
			excJSON = sql.NullString{String: string(b), Valid: true}
		}
		_, err := tx.Stmt(db.commands["update-participant-result"]).ExecContext(ctx, string(result), excJSON, p.id)
		return err
	}

	switch {
	case log.Exception != nil:
		offender := byside[log.Exception.CausedBySide]
		other := byside[log.Exception.CausedBySide.Other()]
		if err := setResult(offender, lineup.Crashed, log.Exception); err != nil {
			return err
		}
		if err := setResult(other, lineup.OpponentCrashed, nil); err != nil {
			return err
		}
		if _, err := tx.Stmt(db.commands["update-bot-suspended"]).ExecContext(ctx, true, offender.botID); err != nil {
			return err
		}
	case log.Winner != nil:
		winner := byside[*log.Winner]
		loser := byside[log.Winner.Other()]
		if err := setResult(winner, lineup.Victory, nil); err != nil {
			return err
		}
		if err := setResult(loser, lineup.Loss, nil); err != nil {
			return err
		}
		if _, err := tx.Stmt(db.commands["update-game-winner"]).ExecContext(ctx, winner.botID, log.GameId); err != nil {
			return err
		}
	default:
		for _, p := range parts {
			if err := setResult(p, lineup.Tie, nil); err != nil {
				return err
			}
		}
	}

	for serial, state := range log.States {
		encoded, err := EncodeState(state)
		if err != nil {
			return err
		}
		if _, err := tx.Stmt(db.commands["insert-state"]).ExecContext(ctx,
			log.GameId, serial, string(encoded), int(state.NextSide), formatTimestamp(time.Now().UTC())); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// --- dispatcher read models ----------------------------------------------

// ParticipantInfo returns up to limit finished participations for botID
// created after, ascending by created_at (spec.md §4.I get_part_info).
func (db *DB) ParticipantInfo(ctx context.Context, botID int64, after time.Time, limit int) ([]lineup.ParticipantInfo, error) {
	rows, err := db.queries["select-participant-info"].QueryContext(ctx, botID, formatTimestamp(after), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []lineup.ParticipantInfo
	for rows.Next() {
		var created string
		var result string
		var excJSON sql.NullString
		if err := rows.Scan(&created, &result, &excJSON); err != nil {
			return nil, err
		}
		t, err := parseTimestamp(created)
		if err != nil {
			return nil, err
		}
		info := lineup.ParticipantInfo{CreatedAt: t, Result: lineup.Result(result)}
		if excJSON.Valid {
			var exc lineup.ExceptionInfo
			if err := json.Unmarshal([]byte(excJSON.String), &exc); err != nil {
				return nil, err
			}
			info.Exception = &exc
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// LatestVersionsInfo returns up to limit of botID's most recent
// CodeVersions, oldest first, each annotated with either the latest crash
// in its window or aggregate win/loss/tie stats (spec.md §4.I
// latest_versions_info).
func (db *DB) LatestVersionsInfo(ctx context.Context, botID int64, limit int) ([]lineup.VersionInfo, error) {
	versions, err := db.CodeVersions(ctx, botID, limit)
	if err != nil {
		return nil, err
	}

	out := make([]lineup.VersionInfo, len(versions))
	for i, cv := range versions {
		start := cv.CreatedAt
		end := farFuture
		if i+1 < len(versions) {
			end = versions[i+1].CreatedAt
		}

		info := lineup.VersionInfo{CreatedAt: cv.CreatedAt, Loc: strings.Count(cv.Source, "\n") + 1}

		var excJSON sql.NullString
		err := db.queries["select-latest-crashed-exception-in-window"].QueryRowContext(ctx,
			botID, formatTimestamp(start), formatTimestamp(end)).Scan(&excJSON)
		switch {
		case err == nil && excJSON.Valid:
			var exc lineup.ExceptionInfo
			if err := json.Unmarshal([]byte(excJSON.String), &exc); err != nil {
				return nil, err
			}
			info.Exception = &exc
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			return nil, err
		default:
			stats, err := db.statsInWindow(ctx, botID, start, end)
			if err != nil {
				return nil, err
			}
			info.Stats = stats
		}

		out[i] = info
	}
	return out, nil
}

func (db *DB) statsInWindow(ctx context.Context, botID int64, start, end time.Time) (*lineup.Stats, error) {
	rows, err := db.queries["select-participant-stats-in-window"].QueryContext(ctx,
		botID, formatTimestamp(start), formatTimestamp(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &lineup.Stats{}
	for rows.Next() {
		var result string
		var count int
		if err := rows.Scan(&result, &count); err != nil {
			return nil, err
		}
		switch lineup.Result(result) {
		case lineup.Victory:
			stats.Victories = count
		case lineup.Loss:
			stats.Losses = count
		case lineup.Tie:
			stats.Ties = count
		}
	}
	return stats, rows.Err()
}

// --- timestamp helpers ----------------------------------------------------

// timestampLayout fixes the fractional-seconds field at 9 digits rather
// than RFC3339Nano's trimmed-trailing-zeros behavior, so that two
// timestamps in the same second always compare correctly under SQLite's
// plain TEXT ordering: RFC3339Nano would print a whole-second timestamp as
// "...T10:00:00Z", which sorts after "...T10:00:00.5Z" ('.' < 'Z' in
// ASCII) even though it is earlier.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTimestamp(t time.Time) string { return t.UTC().Format(timestampLayout) }

func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(timestampLayout, s)
}
