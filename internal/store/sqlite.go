// Package store persists processed documents, their rules, the
// needs-review channel and reviewer suggestions in SQLite.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/ppiankov/authrules/internal/model"
)

// timeLayout is fixed width so stored timestamps compare as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when a document is not stored
var ErrNotFound = errors.New("document not found")

var documentNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/ppiankov/authrules/document"))

// DocumentID derives the stable identifier of a source. Reprocessing the
// same source replaces its rows.
func DocumentID(source string) string {
	return uuid.NewSHA1(documentNamespace, []byte(source)).String()
}

// Document describes one processed source
type Document struct {
	ID          string    `db:"id"`
	Source      string    `db:"source"`
	Payer       string    `db:"payer"`
	TextSHA256  string    `db:"text_sha256"`
	Rules       int       `db:"rules_produced"`
	Flagged     int       `db:"flagged_for_review"`
	ProcessedAt time.Time `db:"-"`
}

// NewDocument builds the document record for source and its text.
// processedAt is when processing started.
func NewDocument(source, text string, processedAt time.Time) Document {
	sum := sha256.Sum256([]byte(text))
	return Document{
		ID:          DocumentID(source),
		Source:      source,
		TextSHA256:  hex.EncodeToString(sum[:]),
		ProcessedAt: processedAt.UTC(),
	}
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id                 TEXT PRIMARY KEY,
	source             TEXT NOT NULL,
	payer              TEXT NOT NULL DEFAULT '',
	text_sha256        TEXT NOT NULL,
	rules_produced     INTEGER NOT NULL DEFAULT 0,
	flagged_for_review INTEGER NOT NULL DEFAULT 0,
	audit              TEXT NOT NULL DEFAULT '{}',
	processed_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS rules (
	document_id      TEXT NOT NULL,
	position         INTEGER NOT NULL,
	id               TEXT NOT NULL,
	service          TEXT NOT NULL DEFAULT '',
	category         TEXT NOT NULL DEFAULT '',
	auth_requirement TEXT NOT NULL,
	cpt_codes        TEXT NOT NULL DEFAULT '[]',
	icd_codes        TEXT NOT NULL DEFAULT '[]',
	exceptions       TEXT NOT NULL DEFAULT '[]',
	confidence       REAL NOT NULL,
	source_refs      TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (document_id, position)
);

CREATE TABLE IF NOT EXISTS review_items (
	document_id TEXT NOT NULL,
	position    INTEGER NOT NULL,
	ordinal     INTEGER NOT NULL,
	reason      TEXT NOT NULL,
	detail      TEXT NOT NULL DEFAULT '',
	label       TEXT NOT NULL DEFAULT '',
	confidence  REAL NOT NULL DEFAULT 0,
	line        INTEGER NOT NULL DEFAULT 0,
	text        TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (document_id, position)
);

CREATE TABLE IF NOT EXISTS suggestions (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id      TEXT NOT NULL,
	ordinal          INTEGER NOT NULL,
	reason           TEXT NOT NULL,
	label            TEXT NOT NULL DEFAULT '',
	auth_requirement TEXT NOT NULL DEFAULT '',
	codes            TEXT NOT NULL DEFAULT '[]',
	rationale        TEXT NOT NULL DEFAULT '',
	provider         TEXT NOT NULL DEFAULT '',
	model            TEXT NOT NULL DEFAULT '',
	tokens_used      INTEGER NOT NULL DEFAULT 0,
	created_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_suggestions_document ON suggestions (document_id, ordinal);
`

// SQLiteStore is a SQLite-backed report store. Safe for concurrent use;
// writes are serialized on a single connection.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type ruleRow struct {
	DocumentID      string  `db:"document_id"`
	Position        int     `db:"position"`
	ID              string  `db:"id"`
	Service         string  `db:"service"`
	Category        string  `db:"category"`
	AuthRequirement string  `db:"auth_requirement"`
	CPTCodes        string  `db:"cpt_codes"`
	ICDCodes        string  `db:"icd_codes"`
	Exceptions      string  `db:"exceptions"`
	Confidence      float64 `db:"confidence"`
	SourceRefs      string  `db:"source_refs"`
}

type reviewRow struct {
	DocumentID string  `db:"document_id"`
	Position   int     `db:"position"`
	Ordinal    int     `db:"ordinal"`
	Reason     string  `db:"reason"`
	Detail     string  `db:"detail"`
	Label      string  `db:"label"`
	Confidence float64 `db:"confidence"`
	Line       int     `db:"line"`
	Text       string  `db:"text"`
}

type suggestionRow struct {
	model.Suggestion
	CodesJSON string `db:"codes"`
	CreatedAt string `db:"created_at"`
}

// SaveReport stores a processed document, replacing any earlier run of the
// same source. Suggestions survive only while the text is unchanged.
func (s *SQLiteStore) SaveReport(ctx context.Context, doc Document, report *model.Report) error {
	if doc.ID == "" {
		doc.ID = DocumentID(doc.Source)
	}
	if doc.ProcessedAt.IsZero() {
		doc.ProcessedAt = s.now().UTC()
	}
	doc.Payer = report.Payer
	doc.Rules = len(report.Rules)
	doc.Flagged = report.Audit.FlaggedForReview

	audit, err := json.Marshal(report.Audit)
	if err != nil {
		return fmt.Errorf("marshal audit: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var previous string
	err = tx.GetContext(ctx, &previous, `SELECT text_sha256 FROM documents WHERE id = ?`, doc.ID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("read document: %w", err)
	case previous != doc.TextSHA256:
		// Suggestions written since processing started belong to this text
		if _, err := tx.ExecContext(ctx, `DELETE FROM suggestions WHERE document_id = ? AND created_at < ?`,
			doc.ID, doc.ProcessedAt.UTC().Format(timeLayout)); err != nil {
			return fmt.Errorf("clear suggestions: %w", err)
		}
	}

	for _, table := range []string{"rules", "review_items"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE document_id = ?`, doc.ID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO documents
		(id, source, payer, text_sha256, rules_produced, flagged_for_review, audit, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Source, doc.Payer, doc.TextSHA256, doc.Rules, doc.Flagged, string(audit),
		doc.ProcessedAt.UTC().Format(timeLayout)); err != nil {
		return fmt.Errorf("write document: %w", err)
	}

	for i := range report.Rules {
		row, err := toRuleRow(doc.ID, i, &report.Rules[i])
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, `INSERT INTO rules
			(document_id, position, id, service, category, auth_requirement, cpt_codes, icd_codes, exceptions, confidence, source_refs)
			VALUES (:document_id, :position, :id, :service, :category, :auth_requirement, :cpt_codes, :icd_codes, :exceptions, :confidence, :source_refs)`,
			row); err != nil {
			return fmt.Errorf("write rule %s: %w", row.ID, err)
		}
	}

	for i, item := range report.Review {
		row := reviewRow{
			DocumentID: doc.ID,
			Position:   i,
			Ordinal:    item.Ordinal,
			Reason:     string(item.Reason),
			Detail:     item.Detail,
			Label:      string(item.Label),
			Confidence: item.Confidence,
			Line:       item.Source.Line,
			Text:       item.Text,
		}
		if _, err := tx.NamedExecContext(ctx, `INSERT INTO review_items
			(document_id, position, ordinal, reason, detail, label, confidence, line, text)
			VALUES (:document_id, :position, :ordinal, :reason, :detail, :label, :confidence, :line, :text)`,
			row); err != nil {
			return fmt.Errorf("write review item %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetDocument returns the stored document record
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	var row struct {
		Document
		Audit       string `db:"audit"`
		ProcessedAt string `db:"processed_at"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT * FROM documents WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	doc := row.Document
	doc.ProcessedAt, _ = time.Parse(time.RFC3339Nano, row.ProcessedAt)
	return &doc, nil
}

// ListRules returns the document's rules in document order
func (s *SQLiteStore) ListRules(ctx context.Context, docID string) ([]model.Rule, error) {
	var rows []ruleRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM rules WHERE document_id = ? ORDER BY position`, docID); err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}

	rules := make([]model.Rule, 0, len(rows))
	for _, row := range rows {
		rule, err := row.rule()
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", row.ID, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// ListReview returns the document's needs-review items in report order
func (s *SQLiteStore) ListReview(ctx context.Context, docID string) ([]model.ReviewItem, error) {
	var rows []reviewRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM review_items WHERE document_id = ? ORDER BY position`, docID); err != nil {
		return nil, fmt.Errorf("list review: %w", err)
	}

	items := make([]model.ReviewItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, model.ReviewItem{
			Ordinal:    row.Ordinal,
			Text:       row.Text,
			Reason:     model.ReviewReason(row.Reason),
			Detail:     row.Detail,
			Label:      model.ContentType(row.Label),
			Confidence: row.Confidence,
			Source:     model.SourceRef{Line: row.Line},
		})
	}
	return items, nil
}

// SaveSuggestion appends a reviewer suggestion
func (s *SQLiteStore) SaveSuggestion(ctx context.Context, suggestion model.Suggestion) error {
	codes := suggestion.Codes
	if codes == nil {
		codes = []string{}
	}
	codesJSON, err := json.Marshal(codes)
	if err != nil {
		return fmt.Errorf("marshal codes: %w", err)
	}

	row := suggestionRow{
		Suggestion: suggestion,
		CodesJSON:  string(codesJSON),
		CreatedAt:  s.now().UTC().Format(timeLayout),
	}
	if _, err := s.db.NamedExecContext(ctx, `INSERT INTO suggestions
		(document_id, ordinal, reason, label, auth_requirement, codes, rationale, provider, model, tokens_used, created_at)
		VALUES (:document_id, :ordinal, :reason, :label, :auth_requirement, :codes, :rationale, :provider, :model, :tokens_used, :created_at)`,
		row); err != nil {
		return fmt.Errorf("write suggestion: %w", err)
	}
	return nil
}

// ListSuggestions returns the document's suggestions, oldest first
func (s *SQLiteStore) ListSuggestions(ctx context.Context, docID string) ([]model.Suggestion, error) {
	var rows []suggestionRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT document_id, ordinal, reason, label, auth_requirement, codes,
		rationale, provider, model, tokens_used, created_at
		FROM suggestions WHERE document_id = ? ORDER BY id`, docID); err != nil {
		return nil, fmt.Errorf("list suggestions: %w", err)
	}

	out := make([]model.Suggestion, 0, len(rows))
	for _, row := range rows {
		suggestion := row.Suggestion
		if err := json.Unmarshal([]byte(row.CodesJSON), &suggestion.Codes); err != nil {
			return nil, fmt.Errorf("decode suggestion codes: %w", err)
		}
		out = append(out, suggestion)
	}
	return out, nil
}

func toRuleRow(docID string, position int, rule *model.Rule) (ruleRow, error) {
	record := rule.Record()
	encoded := make([]string, 4)
	for i, v := range []interface{}{record.CPTCodes, record.ICDCodes, record.Exceptions, record.SourceRefs} {
		data, err := json.Marshal(v)
		if err != nil {
			return ruleRow{}, fmt.Errorf("marshal rule %s: %w", rule.ID, err)
		}
		encoded[i] = string(data)
	}
	return ruleRow{
		DocumentID:      docID,
		Position:        position,
		ID:              record.ID,
		Service:         record.Service,
		Category:        record.Category,
		AuthRequirement: record.AuthRequirement,
		CPTCodes:        encoded[0],
		ICDCodes:        encoded[1],
		Exceptions:      encoded[2],
		Confidence:      record.Confidence,
		SourceRefs:      encoded[3],
	}, nil
}

func (r ruleRow) rule() (model.Rule, error) {
	record := model.RuleRecord{
		ID:              r.ID,
		Service:         r.Service,
		Category:        r.Category,
		AuthRequirement: r.AuthRequirement,
		Confidence:      r.Confidence,
	}
	for _, field := range []struct {
		data string
		into interface{}
	}{
		{r.CPTCodes, &record.CPTCodes},
		{r.ICDCodes, &record.ICDCodes},
		{r.Exceptions, &record.Exceptions},
		{r.SourceRefs, &record.SourceRefs},
	} {
		if err := json.Unmarshal([]byte(field.data), field.into); err != nil {
			return model.Rule{}, err
		}
	}
	return record.Rule(), nil
}
