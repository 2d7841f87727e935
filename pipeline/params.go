package pipeline

import (
	"fmt"

	apperrors "graph-ingest/errors"

	"github.com/go-playground/validator/v10"
)

// Source selects which upstream a run reads.
type Source string

const (
	SourceForum Source = "forum"
	SourceTop   Source = "top"
	SourceLaws  Source = "laws"
)

// Params are the recognized per-run options. Zero values are replaced by the
// runner's defaults before validation.
type Params struct {
	Source    Source `json:"source" validate:"required,oneof=forum top laws"`
	Tag       string `json:"tag" validate:"max=64,excludesall=;&?#"`
	NumPages  int    `json:"num_pages" validate:"gte=0,lte=250"`
	StartPage int    `json:"start_page" validate:"gte=0"`
	LawFrom   int64  `json:"from" validate:"gte=0"`
	LawTo     int64  `json:"to" validate:"gte=0,gtefield=LawFrom"`
}

// Defaults fill unset Params fields.
type Defaults struct {
	Tag     string
	LawFrom int64
	LawTo   int64
}

func (p Params) withDefaults(d Defaults) Params {
	switch p.Source {
	case SourceForum:
		if p.Tag == "" {
			p.Tag = d.Tag
		}
		if p.NumPages == 0 {
			p.NumPages = 1
		}
		if p.StartPage == 0 {
			p.StartPage = 1
		}
	case SourceLaws:
		if p.LawFrom == 0 && p.LawTo == 0 {
			p.LawFrom, p.LawTo = d.LawFrom, d.LawTo
		} else if p.LawTo == 0 {
			p.LawTo = p.LawFrom
		}
	}
	return p
}

func (p Params) validate(v *validator.Validate) error {
	if err := v.Struct(p); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, err)
	}
	if p.Source == SourceForum && p.Tag == "" {
		return fmt.Errorf("%w: a tag is required for forum imports", apperrors.ErrInvalidInput)
	}
	if p.Source == SourceLaws && p.LawFrom < 1 {
		return fmt.Errorf("%w: law ids start at 1", apperrors.ErrInvalidInput)
	}
	return nil
}

// plannedUnits is the upper bound of units a run will process.
func (p Params) plannedUnits() int {
	switch p.Source {
	case SourceForum:
		return p.NumPages
	case SourceTop:
		return 1
	case SourceLaws:
		return int(p.LawTo - p.LawFrom + 1)
	}
	return 0
}
