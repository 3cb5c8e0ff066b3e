// internal/services/hooks.go
package services

import (
	"context"
	"sync"

	"github.com/javajoker/catalog-metamodel/internal/models"
)

// InstanceReader gives hooks read access to one composite instance.
type InstanceReader interface {
	Instance() *models.InstanceModel
	Model() *models.MetaModel
	Get(name string) (interface{}, error)
}

// UnicodeFunc may override the display string of an instance. An empty
// result defers to the next function, then to the model's template.
type UnicodeFunc func(ctx context.Context, r InstanceReader) (string, error)

// DocumentFunc derives extra search document fields from an instance and
// the document built so far.
type DocumentFunc func(ctx context.Context, r InstanceReader, doc Document) (Document, error)

type namedUnicodeFunc struct {
	name string
	fn   UnicodeFunc
}

type namedDocumentFunc struct {
	name string
	fn   DocumentFunc
}

// Hooks holds the enrichment callbacks registered at startup. They run in
// registration order.
type Hooks struct {
	mu        sync.RWMutex
	unicode   []namedUnicodeFunc
	documents []namedDocumentFunc
}

func NewHooks() *Hooks {
	return &Hooks{}
}

func (h *Hooks) RegisterUnicodeFunc(name string, fn UnicodeFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unicode = append(h.unicode, namedUnicodeFunc{name: name, fn: fn})
}

func (h *Hooks) RegisterDocumentFunc(name string, fn DocumentFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.documents = append(h.documents, namedDocumentFunc{name: name, fn: fn})
}

func (h *Hooks) unicodeFuncs() []namedUnicodeFunc {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]namedUnicodeFunc(nil), h.unicode...)
}

func (h *Hooks) documentFuncs() []namedDocumentFunc {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]namedDocumentFunc(nil), h.documents...)
}
