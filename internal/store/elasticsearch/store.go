// Package elasticsearch stores incident documents in Elasticsearch.
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/Horgix/incidents-automation-app/internal/domain"
	"github.com/Horgix/incidents-automation-app/internal/incidents"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const maxQueryHits = 100

// indexMapping makes chat_room_id an exact match field so channel lookups
// are not tokenized.
var indexMapping = map[string]interface{}{
	"mappings": map[string]interface{}{
		"properties": map[string]interface{}{
			domain.FieldChatRoomID: map[string]string{"type": "keyword"},
			"state":                map[string]string{"type": "keyword"},
			"priority":             map[string]string{"type": "keyword"},
			"tracker_issue_key":    map[string]string{"type": "keyword"},
		},
	},
}

// Config holds Elasticsearch connection configuration.
type Config struct {
	Addresses []string
	Username  string
	Password  string
}

// Store implements incidents.SearchStore.
type Store struct {
	es *elasticsearch.Client
}

// New creates a new Elasticsearch store.
func New(config Config) (*Store, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: config.Addresses,
		Username:  config.Username,
		Password:  config.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return &Store{es: es}, nil
}

// EnsureIndex creates the index with its mapping unless it already exists.
func (s *Store) EnsureIndex(ctx context.Context, index string) error {
	res, err := s.es.Indices.Exists([]string{index}, s.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", index, err)
	}
	_ = res.Body.Close()
	if res.StatusCode == 200 {
		return nil
	}

	body, err := json.Marshal(indexMapping)
	if err != nil {
		return fmt.Errorf("marshal mapping: %w", err)
	}

	res, err = s.es.Indices.Create(index,
		s.es.Indices.Create.WithBody(bytes.NewReader(body)),
		s.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", index, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		respErr := responseError(res)
		if respErr.Type == "resource_already_exists_exception" {
			return nil
		}
		return fmt.Errorf("create index %s: %w", index, respErr)
	}

	slog.Info("elasticsearch index created", "index", index)
	return nil
}

// IndexDocument creates or replaces the document with the given id.
func (s *Store) IndexDocument(ctx context.Context, index, id string, body []byte) error {
	res, err := s.es.Index(index, bytes.NewReader(body),
		s.es.Index.WithDocumentID(id),
		s.es.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("index document %s: %w", id, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return fmt.Errorf("index document %s: %w", id, responseError(res))
	}
	return nil
}

// RefreshIndex makes recent writes visible to searches.
func (s *Store) RefreshIndex(ctx context.Context, index string) error {
	res, err := s.es.Indices.Refresh(
		s.es.Indices.Refresh.WithIndex(index),
		s.es.Indices.Refresh.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("refresh index %s: %w", index, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return fmt.Errorf("refresh index %s: %w", index, responseError(res))
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Query returns the documents whose field exactly equals the filter value.
// A missing index holds no documents.
func (s *Store) Query(ctx context.Context, index string, filter incidents.Filter) ([][]byte, error) {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{
				filter.Field: filter.Value,
			},
		},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	res, err := s.es.Search(
		s.es.Search.WithIndex(index),
		s.es.Search.WithBody(bytes.NewReader(body)),
		s.es.Search.WithSize(maxQueryHits),
		s.es.Search.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", index, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		respErr := responseError(res)
		if respErr.Type == "index_not_found_exception" {
			return nil, nil
		}
		return nil, fmt.Errorf("search %s: %w", index, respErr)
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	docs := make([][]byte, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		docs = append(docs, []byte(hit.Source))
	}
	return docs, nil
}

// Ping checks that the cluster answers.
func (s *Store) Ping(ctx context.Context) error {
	res, err := s.es.Ping(s.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return fmt.Errorf("ping elasticsearch: status %d", res.StatusCode)
	}
	return nil
}

// ResponseError is an error reported by Elasticsearch.
type ResponseError struct {
	Status int
	Type   string
	Reason string
}

func (e *ResponseError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("elasticsearch error %d", e.Status)
	}
	return fmt.Sprintf("elasticsearch error %d: %s: %s", e.Status, e.Type, e.Reason)
}

func responseError(res *esapi.Response) *ResponseError {
	respErr := &ResponseError{Status: res.StatusCode}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return respErr
	}

	var body struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		respErr.Reason = strings.TrimSpace(string(raw))
		return respErr
	}
	respErr.Type = body.Error.Type
	respErr.Reason = body.Error.Reason
	return respErr
}
