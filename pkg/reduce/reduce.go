// Package reduce shrinks a PQP store to a retention-time-stratified
// subset of precursors, for example to build an alignment library from
// a full one.
package reduce

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"pqpgen/pkg/config"
)

// ErrIntegrity is returned when a reduction would leave orphaned rows
// behind. The store is rolled back and left untouched.
var ErrIntegrity = errors.New("store integrity violation")

// requiredTables is the schema a store must carry to be reducible.
var requiredTables = []string{
	"PROTEIN",
	"PEPTIDE",
	"PEPTIDE_PROTEIN_MAPPING",
	"PRECURSOR",
	"PRECURSOR_PEPTIDE_MAPPING",
	"TRANSITION",
	"TRANSITION_PRECURSOR_MAPPING",
}

type anchor struct {
	id int64
	rt float64
}

// Reduce stratifies the non-decoy precursors of the input store into
// equal-width retention time bins, keeps the first PeptidesPerBin
// precursors of each bin and cascades the deletion of everything else
// through the relational schema. With an output path set the input is
// copied first and reduced there; otherwise the store is reduced in
// place. The whole reduction runs in one transaction.
func Reduce(cfg config.Reduce, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	path := cfg.Input
	if cfg.Output != "" {
		same, err := samePath(cfg.Input, cfg.Output)
		if err != nil {
			return err
		}
		// Copying a store onto itself would truncate it before the
		// first byte is read; an identical output path means in-place.
		if !same {
			if err := copyFile(cfg.Input, cfg.Output); err != nil {
				return err
			}
			path = cfg.Output
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer db.Close()

	if err := validateSchema(db); err != nil {
		return err
	}

	precursors, err := loadPrecursors(db)
	if err != nil {
		return err
	}

	anchors := selectAnchors(precursors, cfg.Bins, cfg.PeptidesPerBin)
	logger.Info("selected anchors",
		"precursors", len(precursors),
		"anchors", len(anchors),
		"bins", cfg.Bins,
		"peptides_per_bin", cfg.PeptidesPerBin)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := applyReduction(tx, anchors); err != nil {
		tx.Rollback()
		return err
	}

	if err := checkIntegrity(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reduction: %w", err)
	}

	// Reclaim the space freed by the deleted rows. The reduction is
	// already committed, so a vacuum failure only costs disk space.
	if _, err := db.Exec("VACUUM"); err != nil {
		logger.Warn("failed to vacuum store", "path", path, "err", err)
	}

	logger.Info("reduced store", "path", path, "precursors_kept", len(anchors))
	return nil
}

// validateSchema verifies the store carries the full relational schema
// before any row is touched.
func validateSchema(db *sql.DB) error {
	for _, table := range requiredTables {
		var name string
		err := db.QueryRow(
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("not a library store: missing table %s", table)
		}
		if err != nil {
			return fmt.Errorf("failed to inspect schema: %w", err)
		}
	}
	return nil
}

// loadPrecursors reads the non-decoy precursors in stable row order.
func loadPrecursors(db *sql.DB) ([]anchor, error) {
	rows, err := db.Query(`SELECT ID, LIBRARY_RT FROM PRECURSOR WHERE DECOY = 0 ORDER BY ID`)
	if err != nil {
		return nil, fmt.Errorf("failed to read precursors: %w", err)
	}
	defer rows.Close()

	var precursors []anchor
	for rows.Next() {
		var a anchor
		if err := rows.Scan(&a.id, &a.rt); err != nil {
			return nil, fmt.Errorf("failed to scan precursor: %w", err)
		}
		precursors = append(precursors, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read precursors: %w", err)
	}
	return precursors, nil
}

// selectAnchors partitions the precursors into equal-width retention
// time bins over the observed range and keeps the first perBin
// precursors of each bin in row order. Empty bins contribute nothing.
// The bin boundaries derive from the data range, so reducing an
// already reduced store only leaves it unchanged when every surviving
// cluster still falls inside a single new bin.
func selectAnchors(precursors []anchor, bins, perBin int) []anchor {
	if len(precursors) == 0 || perBin == 0 {
		return nil
	}

	minRT, maxRT := precursors[0].rt, precursors[0].rt
	for _, p := range precursors[1:] {
		minRT = math.Min(minRT, p.rt)
		maxRT = math.Max(maxRT, p.rt)
	}
	width := (maxRT - minRT) / float64(bins)

	counts := make([]int, bins)
	var anchors []anchor
	for _, p := range precursors {
		idx := 0
		if width > 0 {
			idx = int((p.rt - minRT) / width)
			if idx >= bins {
				idx = bins - 1
			}
		}
		if counts[idx] < perBin {
			counts[idx]++
			anchors = append(anchors, p)
		}
	}
	return anchors
}

// cascadeSteps walks the schema children-first from the pruned
// precursor set, so every delete only removes rows whose parent is
// already gone.
var cascadeSteps = []struct {
	name  string
	query string
}{
	{"transition-precursor mappings", `
		DELETE FROM TRANSITION_PRECURSOR_MAPPING
		WHERE PRECURSOR_ID NOT IN (SELECT ID FROM PRECURSOR)`},
	{"transitions", `
		DELETE FROM TRANSITION
		WHERE ID NOT IN (SELECT TRANSITION_ID FROM TRANSITION_PRECURSOR_MAPPING)`},
	{"precursor-peptide mappings", `
		DELETE FROM PRECURSOR_PEPTIDE_MAPPING
		WHERE PRECURSOR_ID NOT IN (SELECT ID FROM PRECURSOR)`},
	{"peptides", `
		DELETE FROM PEPTIDE
		WHERE ID NOT IN (SELECT PEPTIDE_ID FROM PRECURSOR_PEPTIDE_MAPPING)`},
	{"peptide-protein mappings", `
		DELETE FROM PEPTIDE_PROTEIN_MAPPING
		WHERE PEPTIDE_ID NOT IN (SELECT ID FROM PEPTIDE)`},
	{"proteins", `
		DELETE FROM PROTEIN
		WHERE ID NOT IN (SELECT PROTEIN_ID FROM PEPTIDE_PROTEIN_MAPPING)`},
}

// applyReduction prunes the precursor table down to the anchors and
// cascades the deletion through every dependent table.
func applyReduction(tx *sql.Tx, anchors []anchor) error {
	if _, err := tx.Exec(`CREATE TEMP TABLE temp_anchors (ID INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("failed to create anchor table: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO temp_anchors (ID) VALUES (?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare anchor insert: %w", err)
	}
	for _, a := range anchors {
		if _, err := stmt.Exec(a.id); err != nil {
			stmt.Close()
			return fmt.Errorf("failed to insert anchor: %w", err)
		}
	}
	stmt.Close()

	// Everything outside the anchor set goes, decoys included: only
	// target precursors are sampled as anchors.
	if _, err := tx.Exec(
		`DELETE FROM PRECURSOR WHERE ID NOT IN (SELECT ID FROM temp_anchors)`); err != nil {
		return fmt.Errorf("failed to prune precursors: %w", err)
	}

	for _, step := range cascadeSteps {
		if _, err := tx.Exec(step.query); err != nil {
			return fmt.Errorf("failed to delete orphaned %s: %w", step.name, err)
		}
	}

	if _, err := tx.Exec(`DROP TABLE temp_anchors`); err != nil {
		return fmt.Errorf("failed to drop anchor table: %w", err)
	}
	return nil
}

// orphanChecks are anti-joins that must all come back empty after the
// cascade, otherwise the reduction broke a reference.
var orphanChecks = []struct {
	name  string
	query string
}{
	{"transitions without precursor", `
		SELECT COUNT(*) FROM TRANSITION_PRECURSOR_MAPPING m
		LEFT JOIN PRECURSOR p ON m.PRECURSOR_ID = p.ID
		WHERE p.ID IS NULL`},
	{"mappings without transition", `
		SELECT COUNT(*) FROM TRANSITION_PRECURSOR_MAPPING m
		LEFT JOIN TRANSITION t ON m.TRANSITION_ID = t.ID
		WHERE t.ID IS NULL`},
	{"precursors without peptide", `
		SELECT COUNT(*) FROM PRECURSOR p
		LEFT JOIN PRECURSOR_PEPTIDE_MAPPING m ON p.ID = m.PRECURSOR_ID
		WHERE m.PEPTIDE_ID IS NULL`},
	{"mappings without peptide", `
		SELECT COUNT(*) FROM PRECURSOR_PEPTIDE_MAPPING m
		LEFT JOIN PEPTIDE pe ON m.PEPTIDE_ID = pe.ID
		WHERE pe.ID IS NULL`},
	{"peptides without protein", `
		SELECT COUNT(*) FROM PEPTIDE_PROTEIN_MAPPING m
		LEFT JOIN PROTEIN pr ON m.PROTEIN_ID = pr.ID
		WHERE pr.ID IS NULL`},
}

func checkIntegrity(tx *sql.Tx) error {
	for _, check := range orphanChecks {
		var n int
		if err := tx.QueryRow(check.query).Scan(&n); err != nil {
			return fmt.Errorf("failed integrity check %q: %w", check.name, err)
		}
		if n != 0 {
			return fmt.Errorf("%w: %d %s", ErrIntegrity, n, check.name)
		}
	}
	return nil
}

// samePath reports whether two paths name the same file. A
// not-yet-existing destination is compared by absolute path.
func samePath(src, dst string) (bool, error) {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return false, fmt.Errorf("failed to stat input store: %w", err)
	}
	dstInfo, err := os.Stat(dst)
	if err == nil {
		return os.SameFile(srcInfo, dstInfo), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("failed to stat output store: %w", err)
	}

	srcAbs, err := filepath.Abs(src)
	if err != nil {
		return false, err
	}
	dstAbs, err := filepath.Abs(dst)
	if err != nil {
		return false, err
	}
	return srcAbs == dstAbs, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open input store: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create output store: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy store: %w", err)
	}
	return out.Close()
}
