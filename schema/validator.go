package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed raw_article_batch.schema.json
var rawArticleBatchSchemaJSON string

// RawArticle is one producer item. Per-article problems such as a blank title are left to
// ingestion so they fail only that article.
type RawArticle struct {
	Title        string  `json:"title"`
	Body         string  `json:"body"`
	SourceURL    string  `json:"source_url"`
	Author       *string `json:"author,omitempty"`
	ImageURL     *string `json:"image_url,omitempty"`
	PublishedAt  *string `json:"published_at,omitempty"`
	DiscoveredAt *string `json:"discovered_at,omitempty"`
}

type RawArticleBatch struct {
	PayloadVersion string       `json:"payload_version"`
	SourceID       int64        `json:"source_id"`
	BatchUUID      string       `json:"batch_uuid,omitempty"`
	TopicID        int64        `json:"topic_id,omitempty"`
	ImportKind     string       `json:"import_kind,omitempty"`
	Producer       string       `json:"producer,omitempty"`
	Operator       string       `json:"operator,omitempty"`
	Note           string       `json:"note,omitempty"`
	Reason         string       `json:"reason,omitempty"`
	ScrapeError    string       `json:"scrape_error,omitempty"`
	Articles       []RawArticle `json:"articles"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

func ValidateRawArticleBatch(payload json.RawMessage) (*RawArticleBatch, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize payload JSON: %w", err)
	}

	var batch RawArticleBatch
	if err := json.Unmarshal(normalized, &batch); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := validateSemantics(&batch); err != nil {
		return nil, err
	}

	return &batch, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("raw_article_batch.schema.json", strings.NewReader(rawArticleBatchSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("raw_article_batch.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func validateSemantics(batch *RawArticleBatch) error {
	if batch == nil {
		return fmt.Errorf("payload is nil")
	}

	if batch.ImportKind == "manual" && strings.TrimSpace(batch.Operator) == "" {
		return fmt.Errorf("operator must not be empty for manual imports")
	}
	if len(batch.Articles) == 0 && strings.TrimSpace(batch.ScrapeError) == "" {
		return fmt.Errorf("articles must not be empty unless scrape_error is set")
	}

	for i, article := range batch.Articles {
		if article.PublishedAt != nil {
			if _, err := time.Parse(time.RFC3339, strings.TrimSpace(*article.PublishedAt)); err != nil {
				return fmt.Errorf("articles[%d].published_at must be RFC3339: %w", i, err)
			}
		}
		if article.DiscoveredAt != nil {
			if _, err := time.Parse(time.RFC3339, strings.TrimSpace(*article.DiscoveredAt)); err != nil {
				return fmt.Errorf("articles[%d].discovered_at must be RFC3339: %w", i, err)
			}
		}
	}

	return nil
}

// ParseTimestamp reads an optional RFC3339 field; nil and blank mean absent.
func ParseTimestamp(value *string) (*time.Time, error) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(*value))
	if err != nil {
		return nil, err
	}
	parsed = parsed.UTC()
	return &parsed, nil
}
