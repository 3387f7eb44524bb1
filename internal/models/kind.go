// Package models provides data model definitions for CraftTrack.
package models

import (
	"github.com/kimhsiao/crafttrack/internal/errors"
)

// Kind identifies an entity collection.
type Kind string

const (
	KindProject  Kind = "project"
	KindMaterial Kind = "material"
	KindSession  Kind = "session"
	KindNote     Kind = "note"
	KindPhoto    Kind = "photo"
	KindCategory Kind = "category"
)

// Kinds returns every stored entity kind.
func Kinds() []Kind {
	return []Kind{KindMaterial, KindProject, KindSession, KindNote, KindPhoto, KindCategory}
}

// PushKinds returns the kinds the device pushes, parents before children.
// Categories are reference data and only ever pulled.
func PushKinds() []Kind {
	return []Kind{KindMaterial, KindProject, KindSession, KindNote, KindPhoto}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindProject, KindMaterial, KindSession, KindNote, KindPhoto, KindCategory:
		return true
	default:
		return false
	}
}

// TableName returns the collection name, used for both the local table and
// the remote resource path.
func (k Kind) TableName() string {
	if k == KindCategory {
		return "categories"
	}
	return string(k) + "s"
}

// Pushable reports whether local edits of this kind are sent upstream.
func (k Kind) Pushable() bool {
	return k.Valid() && k != KindCategory
}

// Dependents returns the kinds whose records hold references to k.
func (k Kind) Dependents() []Kind {
	switch k {
	case KindMaterial, KindCategory:
		return []Kind{KindProject}
	case KindProject:
		return []Kind{KindSession, KindNote, KindPhoto}
	default:
		return nil
	}
}

// ParseKind converts s to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", errors.Newf(errors.ErrInvalid, "unknown entity kind %q", s)
	}
	return k, nil
}

// New returns an empty entity of kind k.
func New(k Kind) (Entity, error) {
	switch k {
	case KindProject:
		return &Project{}, nil
	case KindMaterial:
		return &Material{}, nil
	case KindSession:
		return &Session{}, nil
	case KindNote:
		return &Note{}, nil
	case KindPhoto:
		return &Photo{}, nil
	case KindCategory:
		return &Category{}, nil
	default:
		return nil, errors.Newf(errors.ErrInvalid, "unknown entity kind %q", k)
	}
}
