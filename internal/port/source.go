package port

import "retrace/internal/domain"

// DocumentSource enumerates and reads the capture text files. The source
// is append-only from the core's point of view; the core never writes it.
type DocumentSource interface {
	// List returns all candidate documents, sorted lexicographically by path.
	List() ([]domain.Document, error)

	// Read returns the UTF-8 content of one document.
	Read(path string) (string, error)
}
