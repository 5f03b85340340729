// ABOUTME: SQLite persistence for uploaded document text and Google-backed users
// ABOUTME: Both use find-or-create with a unique index and re-fetch on conflict

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SaveDocument stores extracted text for an owner. Identical text from the
// same owner resolves to the existing document.
func (s *SQLiteStore) SaveDocument(ctx context.Context, ownerID, fullText string) (*Document, error) {
	hash := HashText(fullText)

	doc, err := s.getDocumentByHash(ctx, ownerID, hash)
	if err == nil {
		return verifyDocumentText(doc, fullText)
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	doc = &Document{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Hash:      hash,
		FullText:  fullText,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, owner_id, text_hash, full_text, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, doc.ID, doc.OwnerID, doc.Hash, doc.FullText, formatTime(doc.CreatedAt))
	if err != nil {
		if !isConstraintViolation(err) {
			return nil, fmt.Errorf("inserting document: %w", err)
		}
		// Lost a race with a concurrent upload of the same text
		existing, lookupErr := s.getDocumentByHash(ctx, ownerID, hash)
		if lookupErr != nil {
			return nil, fmt.Errorf("re-fetching document after conflict: %w", lookupErr)
		}
		return verifyDocumentText(existing, fullText)
	}

	s.logger.Debug("stored document", "id", doc.ID, "owner_id", ownerID, "bytes", len(fullText))
	return doc, nil
}

func verifyDocumentText(doc *Document, fullText string) (*Document, error) {
	if doc.FullText != fullText {
		return nil, ErrHashCollision
	}
	return doc, nil
}

// GetDocument retrieves a document by ID.
// Returns ErrNotFound if the document doesn't exist.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, text_hash, full_text, created_at
		FROM documents WHERE id = ?
	`, id)
	return scanDocument(row)
}

func (s *SQLiteStore) getDocumentByHash(ctx context.Context, ownerID, hash string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, text_hash, full_text, created_at
		FROM documents WHERE owner_id = ? AND text_hash = ?
	`, ownerID, hash)
	return scanDocument(row)
}

func scanDocument(row rowScanner) (*Document, error) {
	var doc Document
	var createdAtStr string
	err := row.Scan(&doc.ID, &doc.OwnerID, &doc.Hash, &doc.FullText, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying document: %w", err)
	}
	doc.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &doc, nil
}

// UpsertUserByGoogleID returns the user for a Google subject, creating it on first sign-in.
func (s *SQLiteStore) UpsertUserByGoogleID(ctx context.Context, googleID, name, email string) (*User, error) {
	user, err := s.getUserByGoogleID(ctx, googleID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	user = &User{
		ID:        uuid.New().String(),
		GoogleID:  googleID,
		Name:      name,
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, google_id, name, email, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, user.ID, user.GoogleID, user.Name, user.Email, formatTime(user.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return s.getUserByGoogleID(ctx, googleID)
		}
		return nil, fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Info("created user", "id", user.ID, "email", user.Email)
	return user, nil
}

// GetUser retrieves a user by ID.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, google_id, name, email, created_at FROM users WHERE id = ?
	`, id)
	return scanUser(row)
}

func (s *SQLiteStore) getUserByGoogleID(ctx context.Context, googleID string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, google_id, name, email, created_at FROM users WHERE google_id = ?
	`, googleID)
	return scanUser(row)
}

func scanUser(row rowScanner) (*User, error) {
	var user User
	var createdAtStr string
	err := row.Scan(&user.ID, &user.GoogleID, &user.Name, &user.Email, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	user.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &user, nil
}
