// Package pqp provides SQLite writing for the relational peptide query
// parameter (PQP) library store.
package pqp

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"pqpgen/pkg/core"
)

// missingDriftTime marks precursors without an ion mobility coordinate.
const missingDriftTime = -1.0

// Writer handles writing library entries to a PQP SQLite store. The
// whole store is written inside one transaction committed by Finalize,
// so a failed write never leaves a partial store behind.
type Writer struct {
	db        *sql.DB
	tx        *sql.Tx
	finalized bool

	proteinStmt             *sql.Stmt
	peptideStmt             *sql.Stmt
	peptideProteinStmt      *sql.Stmt
	precursorStmt           *sql.Stmt
	precursorPeptideStmt    *sql.Stmt
	transitionStmt          *sql.Stmt
	transitionPrecursorStmt *sql.Stmt

	proteinIDs map[string]int64
	peptideIDs map[string]int64

	nextProteinID    int64
	nextPeptideID    int64
	nextPrecursorID  int64
	nextTransitionID int64
}

// NewWriter creates a new PQP store writer at outputPath.
func NewWriter(outputPath string) (*Writer, error) {
	db, err := sql.Open("sqlite3", outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	w := &Writer{
		db:         db,
		proteinIDs: make(map[string]int64),
		peptideIDs: make(map[string]int64),
	}

	if err := w.createTables(); err != nil {
		db.Close()
		return nil, err
	}

	w.tx, err = db.Begin()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := w.prepareStatements(); err != nil {
		w.tx.Rollback()
		db.Close()
		return nil, err
	}

	return w, nil
}

// createTables creates the relational library schema
func (w *Writer) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS PROTEIN (
		ID INTEGER PRIMARY KEY,
		PROTEIN_ACCESSION TEXT NOT NULL,
		DECOY INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS PEPTIDE (
		ID INTEGER PRIMARY KEY,
		UNMODIFIED_SEQUENCE TEXT NOT NULL,
		MODIFIED_SEQUENCE TEXT NOT NULL,
		DECOY INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS PEPTIDE_PROTEIN_MAPPING (
		PEPTIDE_ID INTEGER NOT NULL REFERENCES PEPTIDE(ID),
		PROTEIN_ID INTEGER NOT NULL REFERENCES PROTEIN(ID)
	);

	CREATE TABLE IF NOT EXISTS PRECURSOR (
		ID INTEGER PRIMARY KEY,
		PRECURSOR_MZ REAL NOT NULL,
		CHARGE INTEGER NOT NULL,
		LIBRARY_RT REAL NOT NULL,
		LIBRARY_DRIFT_TIME REAL NOT NULL DEFAULT -1,
		DECOY INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS PRECURSOR_PEPTIDE_MAPPING (
		PRECURSOR_ID INTEGER NOT NULL REFERENCES PRECURSOR(ID),
		PEPTIDE_ID INTEGER NOT NULL REFERENCES PEPTIDE(ID)
	);

	CREATE TABLE IF NOT EXISTS TRANSITION (
		ID INTEGER PRIMARY KEY,
		PRODUCT_MZ REAL NOT NULL,
		CHARGE INTEGER NOT NULL,
		TYPE TEXT NOT NULL,
		ORDINAL INTEGER NOT NULL,
		ANNOTATION TEXT NOT NULL,
		LIBRARY_INTENSITY REAL NOT NULL,
		DETECTING INTEGER NOT NULL DEFAULT 1,
		DECOY INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS TRANSITION_PRECURSOR_MAPPING (
		TRANSITION_ID INTEGER NOT NULL REFERENCES TRANSITION(ID),
		PRECURSOR_ID INTEGER NOT NULL REFERENCES PRECURSOR(ID)
	);
	`

	_, err := w.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	return nil
}

// prepareStatements prepares SQL statements for batch insertion
func (w *Writer) prepareStatements() error {
	stmts := []struct {
		target **sql.Stmt
		query  string
	}{
		{&w.proteinStmt, `INSERT INTO PROTEIN (ID, PROTEIN_ACCESSION, DECOY) VALUES (?, ?, ?)`},
		{&w.peptideStmt, `INSERT INTO PEPTIDE (ID, UNMODIFIED_SEQUENCE, MODIFIED_SEQUENCE, DECOY) VALUES (?, ?, ?, ?)`},
		{&w.peptideProteinStmt, `INSERT INTO PEPTIDE_PROTEIN_MAPPING (PEPTIDE_ID, PROTEIN_ID) VALUES (?, ?)`},
		{&w.precursorStmt, `INSERT INTO PRECURSOR (ID, PRECURSOR_MZ, CHARGE, LIBRARY_RT, LIBRARY_DRIFT_TIME, DECOY) VALUES (?, ?, ?, ?, ?, ?)`},
		{&w.precursorPeptideStmt, `INSERT INTO PRECURSOR_PEPTIDE_MAPPING (PRECURSOR_ID, PEPTIDE_ID) VALUES (?, ?)`},
		{&w.transitionStmt, `INSERT INTO TRANSITION (ID, PRODUCT_MZ, CHARGE, TYPE, ORDINAL, ANNOTATION, LIBRARY_INTENSITY, DETECTING, DECOY) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`},
		{&w.transitionPrecursorStmt, `INSERT INTO TRANSITION_PRECURSOR_MAPPING (TRANSITION_ID, PRECURSOR_ID) VALUES (?, ?)`},
	}

	for _, s := range stmts {
		stmt, err := w.tx.Prepare(s.query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		*s.target = stmt
	}

	return nil
}

// WriteEntry writes a single library entry and its fragments to the
// store, reusing protein and peptide rows shared between precursors.
func (w *Writer) WriteEntry(entry *core.LibraryEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	decoy := 0
	if entry.Decoy {
		decoy = 1
	}

	peptideID, ok := w.peptideIDs[entry.ModifiedPeptide]
	if !ok {
		peptideID = w.nextPeptideID
		w.nextPeptideID++
		w.peptideIDs[entry.ModifiedPeptide] = peptideID

		if _, err := w.peptideStmt.Exec(peptideID, entry.PeptideSequence, entry.ModifiedPeptide, decoy); err != nil {
			return fmt.Errorf("failed to insert peptide: %w", err)
		}

		for _, acc := range entry.ProteinAccessions() {
			proteinID, ok := w.proteinIDs[acc]
			if !ok {
				proteinID = w.nextProteinID
				w.nextProteinID++
				w.proteinIDs[acc] = proteinID
				if _, err := w.proteinStmt.Exec(proteinID, acc, decoy); err != nil {
					return fmt.Errorf("failed to insert protein: %w", err)
				}
			}
			if _, err := w.peptideProteinStmt.Exec(peptideID, proteinID); err != nil {
				return fmt.Errorf("failed to insert peptide-protein mapping: %w", err)
			}
		}
	}

	driftTime := missingDriftTime
	if entry.IonMobility != nil {
		driftTime = *entry.IonMobility
	}

	precursorID := w.nextPrecursorID
	w.nextPrecursorID++
	if _, err := w.precursorStmt.Exec(precursorID, entry.PrecursorMZ, entry.PrecursorCharge,
		entry.RetentionTime, driftTime, decoy); err != nil {
		return fmt.Errorf("failed to insert precursor: %w", err)
	}
	if _, err := w.precursorPeptideStmt.Exec(precursorID, peptideID); err != nil {
		return fmt.Errorf("failed to insert precursor-peptide mapping: %w", err)
	}

	for _, f := range entry.Fragments {
		transitionID := w.nextTransitionID
		w.nextTransitionID++
		if _, err := w.transitionStmt.Exec(transitionID, f.ProductMZ, f.FragmentCharge,
			f.FragmentType, f.Ordinal, f.Annotation, f.Intensity, 1, decoy); err != nil {
			return fmt.Errorf("failed to insert transition: %w", err)
		}
		if _, err := w.transitionPrecursorStmt.Exec(transitionID, precursorID); err != nil {
			return fmt.Errorf("failed to insert transition-precursor mapping: %w", err)
		}
	}

	return nil
}

// Finalize commits the store and closes the database
func (w *Writer) Finalize() error {
	w.closeStatements()

	if err := w.tx.Commit(); err != nil {
		w.db.Close()
		return fmt.Errorf("failed to commit store: %w", err)
	}
	w.finalized = true

	if err := w.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

// Close rolls back and closes the database when Finalize was not
// reached, discarding the partial store.
func (w *Writer) Close() error {
	if w.finalized {
		return nil
	}
	w.closeStatements()
	w.tx.Rollback()
	return w.db.Close()
}

// WriteStore writes all entries to a new PQP store at outputPath.
func WriteStore(outputPath string, entries []core.LibraryEntry) error {
	w, err := NewWriter(outputPath)
	if err != nil {
		return err
	}
	defer w.Close()

	for i := range entries {
		if err := w.WriteEntry(&entries[i]); err != nil {
			return err
		}
	}

	return w.Finalize()
}

func (w *Writer) closeStatements() {
	for _, stmt := range []*sql.Stmt{
		w.proteinStmt, w.peptideStmt, w.peptideProteinStmt,
		w.precursorStmt, w.precursorPeptideStmt,
		w.transitionStmt, w.transitionPrecursorStmt,
	} {
		if stmt != nil {
			stmt.Close()
		}
	}
}
