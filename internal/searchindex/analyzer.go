package searchindex

import "github.com/blevesearch/bleve/v2/mapping"

// analyzerName is the tokenizer pipeline registered by name and shared by
// both the indexer and the query parser for title/description/content, per
// spec.md §4.5: lowercase -> ASCII-folding -> remove-long(>40) -> English
// stop-words -> English stemmer.
const analyzerName = "spyglass"

const maxTokenLength = 40

func addSpyglassAnalyzer(im *mapping.IndexMappingImpl) error {
	if err := im.AddCustomTokenFilter("length_40", map[string]interface{}{
		"type": "length",
		"min":  0.0,
		"max":  float64(maxTokenLength),
	}); err != nil {
		return err
	}

	return im.AddCustomAnalyzer(analyzerName, map[string]interface{}{
		"type":      "custom",
		"tokenizer": "unicode",
		"token_filters": []string{
			"to_lower",
			"asciifolding",
			"length_40",
			"stop_en",
			"stemmer_en_snowball",
		},
	})
}
