// Package templates reads document templates from a record store and writes
// them to another with create-or-update semantics keyed by template name.
package templates

import (
	"encoding/base64"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/hashicorp-forge/dtmigrate/pkg/crm"
)

// Record attribute names of the document template entity.
const (
	Entity = "documenttemplate"

	AttrID                       = "documenttemplateid"
	AttrName                     = "name"
	AttrContent                  = "content"
	AttrAssociatedEntityTypeCode = "associatedentitytypecode"
	AttrDocumentType             = "documenttype"
	AttrClientData               = "clientdata"
	AttrStatus                   = "status"
	AttrCreatedByName            = "createdbyname"
)

// Document types.
const (
	DocumentTypeExcel = 1
	DocumentTypeWord  = 2
)

// SystemAuthor is the creator name of templates shipped with the store.
const SystemAuthor = "SYSTEM"

// Template is a document template as stored in a record store.
type Template struct {
	ID   uuid.UUID
	Name string
	// Content is the packaged document.
	Content []byte
	// EntityName is the logical name of the entity the template binds to.
	EntityName string
	// EntityTypeCode is the numeric entity code written to the destination.
	// When zero, the entity name is written instead.
	EntityTypeCode int
	DocumentType   int
	ClientData     string
	// Inactive mirrors the status attribute (false means active).
	Inactive      bool
	CreatedByName string

	// ReadErr is set when the source record could not be converted. Such a
	// template carries only its ID and, when readable, its Name.
	ReadErr error
}

// Validate validates that the template can be written to a store.
func (t *Template) Validate() error {
	return validation.ValidateStruct(t,
		validation.Field(&t.Name, validation.Required),
		validation.Field(&t.EntityName, validation.Required),
		validation.Field(&t.Content, validation.Required),
		validation.Field(&t.EntityTypeCode, validation.Min(0)),
	)
}

// FromRecord converts a store record into a Template.
func FromRecord(rec crm.Record) (Template, error) {
	t := Template{ID: rec.ID}
	var err error

	if t.Name, err = rec.String(AttrName); err != nil {
		return Template{}, err
	}
	if t.Content, err = rec.Bytes(AttrContent); err != nil {
		return Template{}, fmt.Errorf("template %q: %w", t.Name, err)
	}
	if t.EntityName, err = rec.String(AttrAssociatedEntityTypeCode); err != nil {
		return Template{}, fmt.Errorf("template %q: %w", t.Name, err)
	}
	if t.DocumentType, err = rec.Int(AttrDocumentType); err != nil {
		return Template{}, fmt.Errorf("template %q: %w", t.Name, err)
	}
	if t.ClientData, err = rec.String(AttrClientData); err != nil {
		return Template{}, fmt.Errorf("template %q: %w", t.Name, err)
	}
	if t.Inactive, err = rec.Bool(AttrStatus); err != nil {
		return Template{}, fmt.Errorf("template %q: %w", t.Name, err)
	}
	if t.CreatedByName, err = rec.String(AttrCreatedByName); err != nil {
		return Template{}, fmt.Errorf("template %q: %w", t.Name, err)
	}
	return t, nil
}

// Attributes returns the attributes written on create and update.
func (t *Template) Attributes() crm.Attributes {
	attrs := crm.Attributes{
		AttrName:         t.Name,
		AttrContent:      base64.StdEncoding.EncodeToString(t.Content),
		AttrDocumentType: t.DocumentType,
		AttrClientData:   t.ClientData,
	}
	if t.EntityTypeCode != 0 {
		attrs[AttrAssociatedEntityTypeCode] = t.EntityTypeCode
	} else {
		attrs[AttrAssociatedEntityTypeCode] = t.EntityName
	}
	return attrs
}
