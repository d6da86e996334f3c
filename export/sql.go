package export

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/golang/glog"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	// Database drivers selectable with Open.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"github.com/gwdetchar/omegascan/omega"
)

const (
	DriverSQLite = "sqlite3"
	DriverMySQL  = "mysql"

	sqlSummaryCountInfo = 100

	sqlInsertSummaryTmpl = `INSERT INTO summaries (
		run_id,
		ifo,
		gps,
		block_name,
		channel,
		central_time,
		central_frequency,
		q,
		energy,
		snr,
		correlated,
		max_correlation,
		std_dev,
		delay_ms
	) VALUES (
		:run_id, :ifo, :gps, :block_name, :channel,
		:central_time, :central_frequency, :q, :energy, :snr,
		:correlated, :max_correlation, :std_dev, :delay_ms
	)`
	sqlSelectSummariesTmpl = `SELECT
		id, run_id, ifo, gps, block_name, channel,
		central_time, central_frequency, q, energy, snr,
		correlated, max_correlation, std_dev, delay_ms
	FROM summaries`
)

//go:embed migrations/sqlite3/*.sql migrations/mysql/*.sql
var embedMigrations embed.FS

var dialects = map[string]goose.Dialect{
	DriverSQLite: goose.DialectSQLite3,
	DriverMySQL:  goose.DialectMySQL,
}

// summaryRow is the flattened database form of omega.Summary.
type summaryRow struct {
	ID         int64   `db:"id"`
	RunID      string  `db:"run_id"`
	IFO        string  `db:"ifo"`
	GPS        float64 `db:"gps"`
	Block      string  `db:"block_name"`
	Channel    string  `db:"channel"`
	Time       float64 `db:"central_time"`
	Frequency  float64 `db:"central_frequency"`
	Q          float64 `db:"q"`
	Energy     float64 `db:"energy"`
	SNR        float64 `db:"snr"`
	Correlated bool    `db:"correlated"`
	Max        float64 `db:"max_correlation"`
	StdDev     float64 `db:"std_dev"`
	Delay      float64 `db:"delay_ms"`
}

func newSummaryRow(s omega.Summary) summaryRow {
	r := summaryRow{
		RunID:     s.RunID,
		IFO:       s.IFO,
		GPS:       s.GPS,
		Block:     s.Block,
		Channel:   s.Channel,
		Time:      s.Tile.Time,
		Frequency: s.Tile.Frequency,
		Q:         s.Tile.Q,
		Energy:    s.Tile.Energy,
		SNR:       s.Tile.SNR,
	}
	if c := s.Correlation; c != nil {
		r.Correlated = true
		r.Max, r.StdDev, r.Delay = c.Max, c.StdDev, c.Delay
	}
	return r
}

func (r summaryRow) summary() omega.Summary {
	s := omega.Summary{
		RunID:   r.RunID,
		IFO:     r.IFO,
		GPS:     r.GPS,
		Block:   r.Block,
		Channel: r.Channel,
		Tile: omega.Tile{
			Time:      r.Time,
			Frequency: r.Frequency,
			Q:         r.Q,
			Energy:    r.Energy,
			SNR:       r.SNR,
		},
	}
	if r.Correlated {
		s.Correlation = &omega.Correlation{Max: r.Max, StdDev: r.StdDev, Delay: r.Delay}
	}
	return s
}

// SQL stores summaries in a sqlite3 or mysql database.
type SQL struct {
	DB *sqlx.DB
}

// Open connects to the database and applies all pending migrations.
func Open(driver, dsn string) (*SQL, error) {
	dialect, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to db: %w", err)
	}
	if driver == DriverSQLite {
		// sqlite only supports a single writer.
		db.SetMaxOpenConns(1)
	}

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(string(dialect)); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting dialect for migrations: %w", err)
	}
	if err := goose.Up(db.DB, "migrations/"+driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying migrations: %w", err)
	}
	return &SQL{DB: db}, nil
}

func (s *SQL) Close() error {
	return s.DB.Close()
}

func (s *SQL) Write(ctx context.Context, summaries <-chan omega.Summary) error {
	counts := map[string]int{
		"error":   0,
		"success": 0,
		"total":   0,
	}
	for summary := range summaries {
		counts["total"] += 1
		if err := s.Insert(ctx, summary); err != nil {
			counts["error"] += 1
			glog.Warningf("Summary export counts: %+v\n", counts)
			return fmt.Errorf("error storing summary of %s: %w", summary.Channel, err)
		}
		counts["success"] += 1
		if counts["total"]%sqlSummaryCountInfo == 0 {
			glog.Infof("Summary export counts: %+v\n", counts)
		}
	}
	glog.Infof("Summary export counts: %+v\n", counts)
	return nil
}

// Insert stores summaries in a single transaction.
func (s *SQL) Insert(ctx context.Context, summaries ...omega.Summary) error {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	for _, summary := range summaries {
		if _, err := tx.NamedExecContext(ctx, sqlInsertSummaryTmpl, newSummaryRow(summary)); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Query selects stored summaries. Zero fields match everything.
type Query struct {
	RunID string
	IFO   string
	Start float64
	End   float64
	Limit int
}

// Summaries returns the stored summaries matching q ordered by insertion.
func (s *SQL) Summaries(ctx context.Context, q Query) ([]omega.Summary, error) {
	var (
		where []string
		args  []interface{}
	)
	if q.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, q.RunID)
	}
	if q.IFO != "" {
		where = append(where, "ifo = ?")
		args = append(args, q.IFO)
	}
	if q.Start > 0 {
		where = append(where, "gps >= ?")
		args = append(args, q.Start)
	}
	if q.End > 0 {
		where = append(where, "gps < ?")
		args = append(args, q.End)
	}
	query := sqlSelectSummariesTmpl
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	var rows []summaryRow
	if err := s.DB.SelectContext(ctx, &rows, s.DB.Rebind(query), args...); err != nil {
		return nil, err
	}
	summaries := make([]omega.Summary, 0, len(rows))
	for _, r := range rows {
		summaries = append(summaries, r.summary())
	}
	return summaries, nil
}
