// internal/services/document_service.go
package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/javajoker/catalog-metamodel/internal/errors"
	"github.com/javajoker/catalog-metamodel/internal/models"
)

// Document is a flat search document: scalar or list values keyed by
// underscore-joined attribute paths.
type Document map[string]interface{}

// FlatDocument is the projection of one instance graph handed to the
// search index.
type FlatDocument struct {
	Fields Document `json:"fields"`
	// distinct tokens in first-seen order
	Keywords []string `json:"keywords"`
}

type DocumentService struct {
	db        *gorm.DB
	registry  *SchemaRegistry
	instances *InstanceService
	hooks     *Hooks
}

func NewDocumentService(db *gorm.DB, registry *SchemaRegistry, instances *InstanceService, hooks *Hooks) *DocumentService {
	return &DocumentService{
		db:        db,
		registry:  registry,
		instances: instances,
		hooks:     hooks,
	}
}

// Flatten projects inst and everything it references into one document.
// Fields without a value are left out; an instance already on the current
// path is not entered again. Registered document functions run last and
// can only add keys.
//
// Keywords form a set: every distinct non-empty token appears once, in the
// order it is first met. Term frequency is not kept.
func (s *DocumentService) Flatten(ctx context.Context, inst *models.InstanceModel) (*FlatDocument, error) {
	tx := s.db.WithContext(ctx)
	model, err := s.registry.Model(tx, inst.ModelID)
	if err != nil {
		return nil, err
	}

	if kind, ok := model.Kind(); ok {
		value, err := kind.Decode(inst.Storage())
		if err != nil {
			return nil, err
		}
		v := documentValue(kind, value)
		return &FlatDocument{
			Fields:   Document{"id": inst.ID.String(), "value": v},
			Keywords: []string{keywordOf(v)},
		}, nil
	}

	doc, keywords, err := s.flatten(tx, inst, model, map[uuid.UUID]bool{})
	if err != nil {
		return nil, err
	}

	reader := &instanceReader{svc: s.instances, tx: tx, inst: inst, model: model}
	for _, h := range s.hooks.documentFuncs() {
		extra, err := h.fn(ctx, reader, doc)
		if err != nil {
			return nil, errors.Wrapf(err, "document function %s", h.name)
		}
		for key, value := range extra {
			if _, exists := doc[key]; !exists {
				doc[key] = value
			}
		}
	}

	return &FlatDocument{Fields: doc, Keywords: dedupe(keywords)}, nil
}

func (s *DocumentService) flatten(tx *gorm.DB, inst *models.InstanceModel, model *models.MetaModel, path map[uuid.UUID]bool) (Document, []string, error) {
	path[inst.ID] = true
	defer delete(path, inst.ID)

	display := inst.DisplayString()
	doc := Document{
		"id":      inst.ID.String(),
		"unicode": display,
	}
	keywords := strings.Fields(display)

	fields, err := s.registry.Fields(tx, model.ID)
	if err != nil {
		return nil, nil, err
	}

	for i := range fields {
		field := &fields[i]
		cells, err := s.instances.fields.cells(tx, inst.ID, field.ID)
		if err != nil {
			return nil, nil, err
		}
		if len(cells) == 0 {
			continue
		}

		kind, primitive, err := s.registry.IsPrimitive(tx, field.ModelID)
		if err != nil {
			return nil, nil, err
		}
		if !field.Multiple {
			cells = cells[:1]
		}

		if primitive {
			values := make([]interface{}, 0, len(cells))
			for _, cell := range cells {
				hostValue, err := cellHostValue(cell, kind, true)
				if err != nil {
					return nil, nil, err
				}
				v := documentValue(kind, hostValue)
				values = append(values, v)
				keywords = append(keywords, keywordOf(v))
			}
			if field.Multiple {
				doc[field.Name] = values
			} else {
				doc[field.Name] = values[0]
			}
			continue
		}

		target, err := s.registry.Model(tx, field.ModelID)
		if err != nil {
			return nil, nil, err
		}
		var children []Document
		for _, cell := range cells {
			if cell.Value == nil {
				return nil, nil, errors.IntegrityViolationf("%s points at missing instance %s", field.Name, cell.ValueID)
			}
			if path[cell.Value.ID] {
				continue
			}
			child, childKeywords, err := s.flatten(tx, cell.Value, target, path)
			if err != nil {
				return nil, nil, err
			}
			children = append(children, child)
			keywords = append(keywords, childKeywords...)
		}
		if len(children) == 0 {
			continue
		}

		if field.Multiple {
			for key, values := range transpose(children) {
				doc[field.Name+"_"+key] = values
			}
		} else {
			for key, value := range children[0] {
				doc[field.Name+"_"+key] = value
			}
		}
	}

	return doc, keywords, nil
}

// transpose turns per-child documents into parallel lists, one per key.
// Children missing a key hold nil at their position.
func transpose(children []Document) map[string][]interface{} {
	keys := make(map[string]bool)
	for _, child := range children {
		for key := range child {
			keys[key] = true
		}
	}
	sorted := make([]string, 0, len(keys))
	for key := range keys {
		sorted = append(sorted, key)
	}
	sort.Strings(sorted)

	result := make(map[string][]interface{}, len(sorted))
	for _, key := range sorted {
		values := make([]interface{}, len(children))
		for i, child := range children {
			values[i] = child[key]
		}
		result[key] = values
	}
	return result
}

// documentValue converts a host value into what the index stores.
func documentValue(kind models.Kind, value interface{}) interface{} {
	switch v := value.(type) {
	case decimal.Decimal:
		return v.InexactFloat64()
	case models.StoredFile:
		return v.Path
	case time.Time:
		if kind == models.KindDate {
			return v.Format("2006-01-02")
		}
		return v.UTC().Format(time.RFC3339Nano)
	}
	return value
}

func keywordOf(v interface{}) string {
	return fmt.Sprint(v)
}

func dedupe(keywords []string) []string {
	seen := make(map[string]bool, len(keywords))
	result := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		result = append(result, k)
	}
	return result
}
