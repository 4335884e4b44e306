package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/faceclock/internal/database"
	"github.com/kozaktomas/faceclock/internal/facematch"
)

const staffColumns = `id, name, template, template_weights, template_norm, document_embedding,
	registration_note, created_at, updated_at`

// StaffRepository provides PostgreSQL-backed staff storage with an optional
// in-memory HNSW index over templates.
type StaffRepository struct {
	pool      *Pool
	index     *database.TemplateIndex
	indexPath string
	indexMu   sync.RWMutex
}

// NewStaffRepository creates a new PostgreSQL staff repository.
func NewStaffRepository(pool *Pool) *StaffRepository {
	return &StaffRepository{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStaff(row rowScanner) (*database.Staff, error) {
	var (
		s        database.Staff
		template pgvector.Vector
		weights  pq.Float64Array
		document sql.Null[pgvector.Vector]
	)
	if err := row.Scan(&s.ID, &s.Name, &template, &weights, &s.TemplateNorm, &document,
		&s.RegistrationNote, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Template = template.Slice()
	s.TemplateWeights = weights
	if document.Valid {
		s.DocumentEmbedding = document.V.Slice()
	}
	return &s, nil
}

func scanStaffRows(rows *sql.Rows) ([]database.Staff, error) {
	var staff []database.Staff
	for rows.Next() {
		s, err := scanStaff(rows)
		if err != nil {
			return nil, fmt.Errorf("scan staff: %w", err)
		}
		staff = append(staff, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate staff: %w", err)
	}
	return staff, nil
}

// GetStaff retrieves a staff member by ID, nil if not found.
func (r *StaffRepository) GetStaff(ctx context.Context, id string) (*database.Staff, error) {
	s, err := scanStaff(r.pool.QueryRow(ctx, "SELECT "+staffColumns+" FROM staff WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get staff %s: %w", id, err)
	}
	return s, nil
}

// ListStaff returns staff ordered by name.
func (r *StaffRepository) ListStaff(ctx context.Context, limit, offset int) ([]database.Staff, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT "+staffColumns+" FROM staff ORDER BY name_normalized, id LIMIT $1 OFFSET $2", limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list staff: %w", err)
	}
	defer rows.Close()
	return scanStaffRows(rows)
}

// CountStaff returns the number of enrolled staff.
func (r *StaffRepository) CountStaff(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM staff").Scan(&count); err != nil {
		return 0, fmt.Errorf("count staff: %w", err)
	}
	return count, nil
}

// FindStaffByName finds staff by normalized name, so "jan-novak" matches "Jan Novák".
func (r *StaffRepository) FindStaffByName(ctx context.Context, name string) ([]database.Staff, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT "+staffColumns+" FROM staff WHERE name_normalized = $1 ORDER BY id",
		facematch.NormalizeStaffName(name))
	if err != nil {
		return nil, fmt.Errorf("find staff by name: %w", err)
	}
	defer rows.Close()
	return scanStaffRows(rows)
}

// GetEmbeddings returns the raw embeddings of a staff member ordered by position.
func (r *StaffRepository) GetEmbeddings(ctx context.Context, staffID string) ([]database.StoredEmbedding, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, staff_id, position, embedding, det_score, quality, created_at
		FROM staff_embeddings
		WHERE staff_id = $1
		ORDER BY position
	`, staffID)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	var out []database.StoredEmbedding
	for rows.Next() {
		var (
			e   database.StoredEmbedding
			vec pgvector.Vector
		)
		if err := rows.Scan(&e.ID, &e.StaffID, &e.Position, &vec, &e.DetScore, &e.Quality, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		e.Embedding = vec.Slice()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return out, nil
}

// GetAllTemplates returns every staff member, templates included.
func (r *StaffRepository) GetAllTemplates(ctx context.Context) ([]database.Staff, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+staffColumns+" FROM staff ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()
	return scanStaffRows(rows)
}

// GetIdentityEmbeddings returns raw embeddings grouped by staff member.
func (r *StaffRepository) GetIdentityEmbeddings(ctx context.Context) ([]database.IdentityEmbeddings, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.id, s.name, e.embedding
		FROM staff s
		JOIN staff_embeddings e ON e.staff_id = s.id
		ORDER BY s.id, e.position
	`)
	if err != nil {
		return nil, fmt.Errorf("query identity embeddings: %w", err)
	}
	defer rows.Close()

	var out []database.IdentityEmbeddings
	for rows.Next() {
		var (
			id, name string
			vec      pgvector.Vector
		)
		if err := rows.Scan(&id, &name, &vec); err != nil {
			return nil, fmt.Errorf("scan identity embedding: %w", err)
		}
		if len(out) == 0 || out[len(out)-1].StaffID != id {
			out = append(out, database.IdentityEmbeddings{StaffID: id, Name: name})
		}
		last := &out[len(out)-1]
		last.Embeddings = append(last.Embeddings, vec.Slice())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identity embeddings: %w", err)
	}
	return out, nil
}

func nullableVector(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}

// CreateStaff stores a staff member and their raw embeddings in one transaction.
func (r *StaffRepository) CreateStaff(ctx context.Context, s *database.Staff, embeddings []database.StoredEmbedding) error {
	if len(s.Template) == 0 {
		return errors.New("staff template is required")
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO staff (id, name, name_normalized, template, template_weights, template_norm,
		                   document_embedding, registration_note, created_at, updated_at)
		VALUES ($1, $2, $3, $4::vector, $5, $6, $7::vector, $8, $9, $9)
	`, s.ID, s.Name, facematch.NormalizeStaffName(s.Name), pgvector.NewVector(s.Template),
		pq.Array(s.TemplateWeights), s.TemplateNorm, nullableVector(s.DocumentEmbedding), s.RegistrationNote, now)
	if err != nil {
		return fmt.Errorf("insert staff: %w", err)
	}

	for i := range embeddings {
		e := &embeddings[i]
		e.StaffID = s.ID
		e.CreatedAt = now
		err := tx.QueryRowContext(ctx, `
			INSERT INTO staff_embeddings (staff_id, position, embedding, det_score, quality, created_at)
			VALUES ($1, $2, $3::vector, $4, $5, $6)
			RETURNING id
		`, s.ID, e.Position, pgvector.NewVector(e.Embedding), e.DetScore, e.Quality, now).Scan(&e.ID)
		if err != nil {
			return fmt.Errorf("insert embedding %d: %w", e.Position, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit staff: %w", err)
	}

	r.indexUpsert(s)
	return nil
}

// UpdateTemplate replaces the template of a staff member.
func (r *StaffRepository) UpdateTemplate(
	ctx context.Context, staffID string, template []float32, weights []float64, norm float64,
) error {
	res, err := r.pool.Exec(ctx, `
		UPDATE staff
		SET template = $2::vector, template_weights = $3, template_norm = $4, updated_at = NOW()
		WHERE id = $1
	`, staffID, pgvector.NewVector(template), pq.Array(weights), norm)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("staff %s not found", staffID)
	}

	if s, err := r.GetStaff(ctx, staffID); err == nil && s != nil {
		r.indexUpsert(s)
	}
	return nil
}

// UpdateEmbedding replaces the vector of a stored embedding.
func (r *StaffRepository) UpdateEmbedding(ctx context.Context, id int64, embedding []float32) error {
	res, err := r.pool.Exec(ctx, "UPDATE staff_embeddings SET embedding = $2::vector WHERE id = $1",
		id, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("update embedding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("embedding %d not found", id)
	}
	return nil
}

// SearchTemplates finds the nearest templates. Uses the in-memory index when
// enabled, otherwise pgvector's HNSW index.
func (r *StaffRepository) SearchTemplates(ctx context.Context, embedding []float32, k int) ([]database.TemplateMatch, error) {
	r.indexMu.RLock()
	index := r.index
	r.indexMu.RUnlock()

	if index != nil {
		return index.Search(embedding, k)
	}
	return r.searchPostgres(ctx, embedding, k)
}

func (r *StaffRepository) searchPostgres(ctx context.Context, embedding []float32, k int) ([]database.TemplateMatch, error) {
	tx, err := r.pool.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // read-only

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", database.HNSWEfSearch)); err != nil {
		return nil, fmt.Errorf("set ef_search: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, name, 1 - (template <=> $1::vector) AS similarity
		FROM staff
		ORDER BY template <=> $1::vector
		LIMIT $2
	`, pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("query similar templates: %w", err)
	}
	defer rows.Close()

	var matches []database.TemplateMatch
	for rows.Next() {
		var m database.TemplateMatch
		if err := rows.Scan(&m.StaffID, &m.Name, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scan template match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate template matches: %w", err)
	}
	return matches, nil
}

func (r *StaffRepository) indexUpsert(s *database.Staff) {
	r.indexMu.RLock()
	index := r.index
	r.indexMu.RUnlock()
	if index == nil {
		return
	}
	if err := index.Upsert(s); err != nil {
		log.Printf("Warning: failed to add staff %s to template index: %v", s.ID, err)
	}
}

func (r *StaffRepository) templateStats(ctx context.Context) (int, time.Time, error) {
	var (
		count int
		maxAt sql.NullTime
	)
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*), MAX(updated_at) FROM staff").Scan(&count, &maxAt)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to get staff stats: %w", err)
	}
	return count, maxAt.Time, nil
}

// tryLoadIndex loads a cached index whose metadata matches the database.
func (r *StaffRepository) tryLoadIndex(indexPath string, count int, maxAt time.Time) *database.TemplateIndex {
	meta, err := database.LoadIndexMetadata(indexPath)
	if err != nil {
		log.Printf("Template index: no usable cache at %s: %v", indexPath, err)
		return nil
	}
	if meta.StaffCount != count || !meta.MaxUpdatedAt.Equal(maxAt) {
		log.Printf("Template index: cache is stale (%d staff cached, %d in database)", meta.StaffCount, count)
		return nil
	}

	index := database.NewTemplateIndex(database.FaceEmbeddingDim)
	if err := index.Load(indexPath); err != nil {
		log.Printf("Template index: failed to load cache: %v (will rebuild)", err)
		return nil
	}
	return index
}

// EnableIndex loads or builds the in-memory template index. When indexPath is
// set a fresh cache is loaded from disk and a rebuilt index is saved there.
func (r *StaffRepository) EnableIndex(ctx context.Context, indexPath string) error {
	count, maxAt, err := r.templateStats(ctx)
	if err != nil {
		return err
	}

	var index *database.TemplateIndex
	if indexPath != "" {
		index = r.tryLoadIndex(indexPath, count, maxAt)
	}
	if index == nil {
		staff, err := r.GetAllTemplates(ctx)
		if err != nil {
			return fmt.Errorf("failed to load templates: %w", err)
		}
		index = database.NewTemplateIndex(database.FaceEmbeddingDim)
		if err := index.Build(staff); err != nil {
			return fmt.Errorf("failed to build template index: %w", err)
		}
		if indexPath != "" {
			index.SetPath(indexPath)
			if err := index.Save(database.IndexMetadata{MaxUpdatedAt: maxAt, BuildTime: time.Now()}); err != nil {
				log.Printf("Warning: failed to save template index to disk: %v", err)
			}
		}
	}

	r.indexMu.Lock()
	r.index = index
	r.indexPath = indexPath
	r.indexMu.Unlock()
	return nil
}

// RebuildIndex rebuilds the in-memory index from the database.
func (r *StaffRepository) RebuildIndex(ctx context.Context) error {
	r.indexMu.RLock()
	path := r.indexPath
	r.indexMu.RUnlock()
	return r.EnableIndex(ctx, path)
}

// IndexCount returns the number of templates in the in-memory index.
func (r *StaffRepository) IndexCount() int {
	r.indexMu.RLock()
	defer r.indexMu.RUnlock()
	if r.index == nil {
		return 0
	}
	return r.index.Count()
}

// SaveIndex writes the in-memory index to its configured path.
func (r *StaffRepository) SaveIndex() error {
	r.indexMu.RLock()
	index := r.index
	r.indexMu.RUnlock()
	if index == nil || index.Path() == "" {
		return nil
	}

	_, maxAt, err := r.templateStats(context.Background())
	if err != nil {
		return err
	}
	return index.Save(database.IndexMetadata{MaxUpdatedAt: maxAt, BuildTime: time.Now()})
}
