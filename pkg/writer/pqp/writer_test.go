package pqp

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"pqpgen/pkg/core"
)

func testEntries() []core.LibraryEntry {
	im := 0.92
	return []core.LibraryEntry{
		{
			PeptideSequence: "PEPTIDEK",
			ModifiedPeptide: "PEPT(UniMod:21)IDEK",
			PrecursorCharge: 2,
			PrecursorMZ:     501.25,
			ProteinID:       "P12345",
			GeneName:        "GENE1",
			RetentionTime:   42.0,
			IonMobility:     &im,
			Fragments: []core.Fragment{
				{Annotation: "b2", FragmentType: "b", Ordinal: 2, FragmentCharge: 1, ProductMZ: 227.1, Intensity: 1000},
				{Annotation: "y4", FragmentType: "y", Ordinal: 4, FragmentCharge: 1, ProductMZ: 490.3, Intensity: 8000},
			},
		},
		{
			PeptideSequence: "PEPTIDEK",
			ModifiedPeptide: "PEPT(UniMod:21)IDEK",
			PrecursorCharge: 3,
			PrecursorMZ:     334.5,
			ProteinID:       "P12345",
			GeneName:        "GENE1",
			RetentionTime:   42.0,
			Fragments: []core.Fragment{
				{Annotation: "y4", FragmentType: "y", Ordinal: 4, FragmentCharge: 1, ProductMZ: 490.3, Intensity: 7000},
			},
		},
		{
			PeptideSequence: "ANOTHERR",
			ModifiedPeptide: "ANOTHERR",
			PrecursorCharge: 2,
			PrecursorMZ:     480.26,
			ProteinID:       "P12345;Q67890",
			RetentionTime:   17.5,
			Fragments: []core.Fragment{
				{Annotation: "y3", FragmentType: "y", Ordinal: 3, FragmentCharge: 1, ProductMZ: 375.2, Intensity: 500},
			},
		},
	}
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("counting %s: %v", table, err)
	}
	return n
}

func TestWriteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "library.pqp")

	if err := WriteStore(path, testEntries()); err != nil {
		t.Fatalf("WriteStore() error = %v", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer db.Close()

	counts := map[string]int{
		"PROTEIN":                      2,
		"PEPTIDE":                      2,
		"PEPTIDE_PROTEIN_MAPPING":      3,
		"PRECURSOR":                    3,
		"PRECURSOR_PEPTIDE_MAPPING":    3,
		"TRANSITION":                   4,
		"TRANSITION_PRECURSOR_MAPPING": 4,
	}
	for table, want := range counts {
		if got := countRows(t, db, table); got != want {
			t.Errorf("%s rows = %d, want %d", table, got, want)
		}
	}
}

func TestWriteStoreDriftTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "library.pqp")

	if err := WriteStore(path, testEntries()); err != nil {
		t.Fatalf("WriteStore() error = %v", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer db.Close()

	var withIM float64
	err = db.QueryRow(`SELECT LIBRARY_DRIFT_TIME FROM PRECURSOR WHERE CHARGE = 2 AND PRECURSOR_MZ > 500`).Scan(&withIM)
	if err != nil {
		t.Fatalf("querying drift time: %v", err)
	}
	if withIM != 0.92 {
		t.Errorf("LIBRARY_DRIFT_TIME = %v, want 0.92", withIM)
	}

	var withoutIM float64
	err = db.QueryRow(`SELECT LIBRARY_DRIFT_TIME FROM PRECURSOR WHERE CHARGE = 3`).Scan(&withoutIM)
	if err != nil {
		t.Fatalf("querying drift time: %v", err)
	}
	if withoutIM != -1 {
		t.Errorf("missing ion mobility stored as %v, want -1", withoutIM)
	}
}

func TestWriteStoreReferentialIntegrity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "library.pqp")

	if err := WriteStore(path, testEntries()); err != nil {
		t.Fatalf("WriteStore() error = %v", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer db.Close()

	orphanQueries := map[string]string{
		"transition without precursor": `
			SELECT COUNT(*) FROM TRANSITION t
			LEFT JOIN TRANSITION_PRECURSOR_MAPPING m ON t.ID = m.TRANSITION_ID
			WHERE m.PRECURSOR_ID IS NULL`,
		"precursor without peptide": `
			SELECT COUNT(*) FROM PRECURSOR p
			LEFT JOIN PRECURSOR_PEPTIDE_MAPPING m ON p.ID = m.PRECURSOR_ID
			WHERE m.PEPTIDE_ID IS NULL`,
		"peptide without protein": `
			SELECT COUNT(*) FROM PEPTIDE p
			LEFT JOIN PEPTIDE_PROTEIN_MAPPING m ON p.ID = m.PEPTIDE_ID
			WHERE m.PROTEIN_ID IS NULL`,
		"mapping to missing protein": `
			SELECT COUNT(*) FROM PEPTIDE_PROTEIN_MAPPING m
			LEFT JOIN PROTEIN pr ON m.PROTEIN_ID = pr.ID
			WHERE pr.ID IS NULL`,
	}
	for name, query := range orphanQueries {
		var n int
		if err := db.QueryRow(query).Scan(&n); err != nil {
			t.Fatalf("%s query: %v", name, err)
		}
		if n != 0 {
			t.Errorf("%s: %d orphaned rows", name, n)
		}
	}
}

func TestWriteEntryInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "library.pqp")

	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}
	defer w.Close()

	entry := &core.LibraryEntry{ModifiedPeptide: "PEPTIDEK"}
	if err := w.WriteEntry(entry); err == nil {
		t.Error("expected error for incomplete entry, got nil")
	}
}

func TestCloseWithoutFinalizeDiscardsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "library.pqp")

	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}
	entries := testEntries()
	if err := w.WriteEntry(&entries[0]); err != nil {
		t.Fatalf("WriteEntry() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer db.Close()

	if got := countRows(t, db, "PRECURSOR"); got != 0 {
		t.Errorf("PRECURSOR rows after rollback = %d, want 0", got)
	}
}
