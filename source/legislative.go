package source

import (
	"context"
	"fmt"
	"strings"

	apperrors "graph-ingest/errors"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

const lawExpand = "KNS_IsraelLawNames,KNS_LawBindings,KNS_IsraelLawMinsitries,KNS_IsraelLawClassificiations"

// LawName is one name variant of a law.
type LawName struct {
	Name string `json:"Name"`
}

type LawClassification struct {
	ClassificiationDesc string `json:"ClassificiationDesc"`
}

type LawMinistry struct {
	GovMinistryID int64 `json:"GovMinistryID"`
}

// LawBinding links a law to a law that amends it. Detail and Document are
// resolved by the adapter after the record is decoded.
type LawBinding struct {
	LawID           int64   `json:"LawID"`
	BindingTypeDesc *string `json:"BindingTypeDesc"`

	Detail   *LawDetail   `json:"-"`
	Document DocumentLink `json:"-"`
}

// LawRecord is a KNS_IsraelLaw entity with its expanded collections.
type LawRecord struct {
	ID                    int64               `json:"IsraelLawID"`
	Name                  *string             `json:"Name"`
	PublicationDate       *string             `json:"PublicationDate"`
	LatestPublicationDate *string             `json:"LatestPublicationDate"`
	LawValidityDesc       *string             `json:"LawValidityDesc"`
	Names                 []LawName           `json:"KNS_IsraelLawNames"`
	Bindings              []LawBinding        `json:"KNS_LawBindings"`
	Ministries            []LawMinistry       `json:"KNS_IsraelLawMinsitries"`
	Classifications       []LawClassification `json:"KNS_IsraelLawClassificiations"`
}

// LawDetail is the bill or law entity behind a binding.
type LawDetail struct {
	Name            *string `json:"Name"`
	PublicationDate *string `json:"PublicationDate"`
}

// DocumentLink is the download path of a binding's PDF. The zero value
// means the catalog has no binary attached.
type DocumentLink struct {
	path string
}

func NewDocumentLink(path string) DocumentLink {
	return DocumentLink{path: strings.TrimSpace(path)}
}

func (l DocumentLink) Present() bool { return l.path != "" }
func (l DocumentLink) Path() string  { return l.path }

type documentEntry struct {
	ApplicationDesc string `json:"ApplicationDesc"`
	FilePath        string `json:"FilePath"`
}

type odataCollection[T any] struct {
	Value []T `json:"value"`
}

// LegislativeConfig configures the OData adapter.
type LegislativeConfig struct {
	BaseURL   string
	CacheSize int
}

// LegislativeAdapter reads laws and their amendments from the parliament's
// OData service.
type LegislativeAdapter struct {
	baseURL string
	fetcher *Fetcher
	cache   *lru.Cache
	logger  *zap.Logger
}

func NewLegislativeAdapter(cfg LegislativeConfig, fetcher *Fetcher, logger *zap.Logger) (*LegislativeAdapter, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create lookup cache: %w", err)
	}
	return &LegislativeAdapter{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		fetcher: fetcher,
		cache:   cache,
		logger:  logger,
	}, nil
}

// FetchLaw loads one law and resolves the detail and PDF link of every
// binding. A law that does not exist is ErrSourceUnavailable; a binding
// without detail or document is returned with those fields absent.
func (a *LegislativeAdapter) FetchLaw(ctx context.Context, id int64) (*LawRecord, error) {
	rawURL := fmt.Sprintf("%s/KNS_IsraelLaw(%d)?$format=json&$expand=%s", a.baseURL, id, lawExpand)

	var law LawRecord
	if err := a.fetcher.GetJSON(ctx, rawURL, &law); err != nil {
		if apperrors.IsNotFound(err) {
			return nil, fmt.Errorf("%w: law %d: %w", apperrors.ErrSourceUnavailable, id, err)
		}
		return nil, fmt.Errorf("law %d: %w", id, err)
	}
	if law.ID == 0 {
		law.ID = id
	}

	for i := range law.Bindings {
		b := &law.Bindings[i]
		detail, err := a.Detail(ctx, b.LawID)
		if err != nil {
			return nil, fmt.Errorf("law %d binding %d: %w", id, b.LawID, err)
		}
		b.Detail = detail

		link, err := a.DocumentLink(ctx, b.LawID)
		if err != nil {
			return nil, fmt.Errorf("law %d binding %d: %w", id, b.LawID, err)
		}
		b.Document = link
	}

	a.logger.Debug("Fetched law",
		zap.Int64("law_id", id),
		zap.Int("bindings", len(law.Bindings)))
	return &law, nil
}

// Detail returns the bill entity for id, falling back to the law entity.
// It returns nil when neither exists.
func (a *LegislativeAdapter) Detail(ctx context.Context, id int64) (*LawDetail, error) {
	cacheKey := fmt.Sprintf("detail:%d", id)
	if v, ok := a.cache.Get(cacheKey); ok {
		return v.(*LawDetail), nil
	}

	var detail *LawDetail
	for _, entity := range []string{"KNS_Bill", "KNS_Law"} {
		var d LawDetail
		err := a.fetcher.GetJSON(ctx, fmt.Sprintf("%s/%s(%d)?$format=json", a.baseURL, entity, id), &d)
		if err == nil {
			detail = &d
			break
		}
		if !apperrors.IsNotFound(err) {
			return nil, err
		}
	}

	a.cache.Add(cacheKey, detail)
	return detail, nil
}

// DocumentLink returns the first PDF attached to the bill id, falling back
// to documents attached to the law id.
func (a *LegislativeAdapter) DocumentLink(ctx context.Context, id int64) (DocumentLink, error) {
	cacheKey := fmt.Sprintf("doc:%d", id)
	if v, ok := a.cache.Get(cacheKey); ok {
		return v.(DocumentLink), nil
	}

	var link DocumentLink
	lookups := []struct{ entity, field string }{
		{"KNS_DocumentBill", "BillID"},
		{"KNS_DocumentLaw", "LawID"},
	}
	for _, l := range lookups {
		rawURL := fmt.Sprintf("%s/%s?$format=json&$filter=%s%%20eq%%20%d", a.baseURL, l.entity, l.field, id)
		var docs odataCollection[documentEntry]
		err := a.fetcher.GetJSON(ctx, rawURL, &docs)
		if err != nil {
			if apperrors.IsNotFound(err) {
				continue
			}
			return DocumentLink{}, err
		}
		if path, ok := firstPDF(docs.Value); ok {
			link = NewDocumentLink(path)
			break
		}
	}

	a.cache.Add(cacheKey, link)
	return link, nil
}

func firstPDF(docs []documentEntry) (string, bool) {
	for _, d := range docs {
		if d.ApplicationDesc == "PDF" && strings.TrimSpace(d.FilePath) != "" {
			return d.FilePath, true
		}
	}
	return "", false
}
