package searchindex

import (
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

// Schema fields, per spec.md §4.5.
const (
	fieldID           = "id"
	fieldDomain       = "domain"
	fieldURL          = "url"
	fieldTitle        = "title"
	fieldDescription  = "description"
	fieldContent      = "content"
	fieldTags         = "tags"
	fieldPublished    = "published"
	fieldLastModified = "lastmodified"
)

func buildMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()

	if err := addSpyglassAnalyzer(im); err != nil {
		return nil, err
	}

	keyword := bleve.NewTextFieldMapping()
	keyword.Analyzer = "keyword"
	keyword.Store = true
	keyword.IncludeInAll = false

	text := bleve.NewTextFieldMapping()
	text.Analyzer = analyzerName
	text.Store = true
	text.IncludeInAll = true

	tags := bleve.NewNumericFieldMapping()
	tags.Store = true
	tags.IncludeInAll = false

	date := bleve.NewDateTimeFieldMapping()
	date.Store = true
	date.IncludeInAll = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt(fieldID, keyword)
	doc.AddFieldMappingsAt(fieldDomain, keyword)
	doc.AddFieldMappingsAt(fieldURL, keyword)
	doc.AddFieldMappingsAt(fieldTitle, text)
	doc.AddFieldMappingsAt(fieldDescription, text)
	doc.AddFieldMappingsAt(fieldContent, text)
	doc.AddFieldMappingsAt(fieldTags, tags)
	doc.AddFieldMappingsAt(fieldPublished, date)
	doc.AddFieldMappingsAt(fieldLastModified, date)

	im.DefaultMapping = doc
	im.DefaultAnalyzer = analyzerName

	return im, nil
}
