package gamedb

import "errors"

var (
	ErrBadObject     = errors.New("gamedb: invalid object")
	ErrBadAttrName   = errors.New("gamedb: invalid attribute name")
	ErrBadAttrOption = errors.New("gamedb: unknown attribute option")
	ErrAttrExists    = errors.New("gamedb: attribute already defined")
	ErrTooManyAttrs  = errors.New("gamedb: too many user-defined attributes")
	ErrNoSuchAttr    = errors.New("gamedb: no such attribute")
	ErrComputedAttr  = errors.New("gamedb: attribute is computed")
	ErrPermission    = errors.New("gamedb: permission denied")
	ErrCycle         = errors.New("gamedb: parent would create a cycle")
	ErrAlreadyParent = errors.New("gamedb: already a parent")
	ErrNotParent     = errors.New("gamedb: not a parent")
	ErrTableFull     = errors.New("gamedb: object table limit reached")
	ErrNotEmpty      = errors.New("gamedb: database is not empty")
)
