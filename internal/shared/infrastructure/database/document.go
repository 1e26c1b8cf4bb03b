package database

import (
	"context"
	"fmt"
)

// DocumentIDField is the column every ledger table uses for its
// store-assigned document identifier.
const DocumentIDField = "document_id"

// Document is one result row keyed by column name.
type Document map[string]any

// String returns the named field as a string. Drivers hand text back either
// as string or []byte; anything else reports false.
func (d Document) String(field string) (string, bool) {
	switch v := d[field].(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	default:
		return "", false
	}
}

// ResultSet is the outcome of a statement run inside a ledger transaction.
type ResultSet struct {
	documents   []Document
	documentIDs []string
}

// NewResultSet builds a result set. It is exported for test doubles.
func NewResultSet(documents []Document, documentIDs []string) *ResultSet {
	return &ResultSet{documents: documents, documentIDs: documentIDs}
}

// Documents returns the result documents in the order the store produced them.
func (r *ResultSet) Documents() []Document {
	if r == nil {
		return nil
	}
	return r.documents
}

// DocumentIDs returns the store-assigned identifiers of written documents.
func (r *ResultSet) DocumentIDs() []string {
	if r == nil {
		return nil
	}
	return r.documentIDs
}

// Len returns the number of result documents.
func (r *ResultSet) Len() int {
	return len(r.Documents())
}

// Txn is the handle an attempt uses to talk to the ledger.
type Txn interface {
	// Query runs a read statement and returns its documents.
	Query(ctx context.Context, statement string, args ...any) (*ResultSet, error)
	// Execute runs a write statement. Statements that RETURN the document_id
	// column report the affected documents through DocumentIDs.
	Execute(ctx context.Context, statement string, args ...any) (*ResultSet, error)
}

type executorTxn struct {
	exec Executor
}

// NewTxn adapts an Executor (normally an open Transaction) to the Txn handle.
func NewTxn(exec Executor) Txn {
	return &executorTxn{exec: exec}
}

func (t *executorTxn) Query(ctx context.Context, statement string, args ...any) (*ResultSet, error) {
	docs, err := collectDocuments(ctx, t.exec, statement, args)
	if err != nil {
		return nil, err
	}
	return &ResultSet{documents: docs}, nil
}

func (t *executorTxn) Execute(ctx context.Context, statement string, args ...any) (*ResultSet, error) {
	docs, err := collectDocuments(ctx, t.exec, statement, args)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		if _, present := doc[DocumentIDField]; !present {
			continue
		}
		id, ok := doc.String(DocumentIDField)
		if !ok {
			return nil, fmt.Errorf("document_id has unexpected type %T", doc[DocumentIDField])
		}
		ids = append(ids, id)
	}
	return &ResultSet{documents: docs, documentIDs: ids}, nil
}

func collectDocuments(ctx context.Context, exec Executor, statement string, args []any) ([]Document, error) {
	rows, err := exec.Query(ctx, statement, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var docs []Document
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		doc := make(Document, len(columns))
		for i, col := range columns {
			doc[col] = values[i]
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}
