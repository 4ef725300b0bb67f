package readstore

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/auction/config"
)

const retryOnConflict = 3

// itemsMapping keeps the filterable attributes as keywords so exact-match
// filters and sorts work without a text analyzer
const itemsMapping = `{
  "mappings": {
    "properties": {
      "id":         {"type": "keyword"},
      "seller":     {"type": "keyword"},
      "make":       {"type": "keyword"},
      "model":      {"type": "keyword"},
      "color":      {"type": "keyword"},
      "mileage":    {"type": "integer"},
      "year":       {"type": "integer"},
      "created_at": {"type": "date"},
      "updated_at": {"type": "date"}
    }
  }
}`

// NewElasticsearchClient creates a new Elasticsearch client and checks the connection
func NewElasticsearchClient(cfg config.ElasticConfig) (*elasticsearch.Client, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 10,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "error creating Elasticsearch client")
	}

	res, err := client.Info()
	if err != nil {
		return nil, errors.Wrap(err, "error connecting to Elasticsearch")
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, errors.Errorf("Elasticsearch returned error: %s", res.String())
	}

	log.Info().Msg("Successfully connected to Elasticsearch")
	return client, nil
}

// ElasticStore keeps the projection in one Elasticsearch index, one document
// per auction id. Single-document index, update and delete calls are atomic
// per id, which is all the projection relies on.
type ElasticStore struct {
	client *elasticsearch.Client
	index  string
}

// NewElasticStore creates a store over index
func NewElasticStore(client *elasticsearch.Client, index string) *ElasticStore {
	return &ElasticStore{client: client, index: index}
}

// EnsureIndex creates the index with its mapping when it does not exist
func (s *ElasticStore) EnsureIndex(ctx context.Context) error {
	res, err := esapi.IndicesExistsRequest{Index: []string{s.index}}.Do(ctx, s.client)
	if err != nil {
		return errors.Wrapf(err, "error checking if index %s exists", s.index)
	}
	res.Body.Close()

	if res.StatusCode == http.StatusOK {
		return nil
	}

	log.Info().Str("index", s.index).Msg("Creating index")
	res, err = esapi.IndicesCreateRequest{
		Index: s.index,
		Body:  bytes.NewReader([]byte(itemsMapping)),
	}.Do(ctx, s.client)
	if err != nil {
		return errors.Wrapf(err, "error creating index %s", s.index)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg := res.String()
		// another replica may have created it first
		if strings.Contains(msg, "resource_already_exists_exception") {
			return nil
		}
		return errors.Errorf("error creating index %s: %s", s.index, msg)
	}
	return nil
}

func (s *ElasticStore) Upsert(ctx context.Context, item Item) error {
	body, err := json.Marshal(item)
	if err != nil {
		return errors.Wrap(err, "failed to marshal item")
	}

	res, err := esapi.IndexRequest{
		Index:      s.index,
		DocumentID: item.ID,
		Body:       bytes.NewReader(body),
	}.Do(ctx, s.client)
	if err != nil {
		return errors.Wrapf(err, "failed to index item %s", item.ID)
	}
	defer res.Body.Close()

	if res.IsError() {
		return errors.Errorf("failed to index item %s: %s", item.ID, res.String())
	}
	return nil
}

func (s *ElasticStore) ApplyPartial(ctx context.Context, id string, fields Fields) (bool, error) {
	body, err := json.Marshal(map[string]interface{}{
		"doc":           fields.doc(id),
		"doc_as_upsert": true,
	})
	if err != nil {
		return false, errors.Wrap(err, "failed to marshal update doc")
	}

	retries := retryOnConflict
	res, err := esapi.UpdateRequest{
		Index:           s.index,
		DocumentID:      id,
		Body:            bytes.NewReader(body),
		RetryOnConflict: &retries,
	}.Do(ctx, s.client)
	if err != nil {
		return false, errors.Wrapf(err, "failed to update item %s", id)
	}
	defer res.Body.Close()

	if res.IsError() {
		return false, errors.Errorf("failed to update item %s: %s", id, res.String())
	}

	var result struct {
		Result string `json:"result"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return false, errors.Wrap(err, "failed to parse update response")
	}
	return result.Result == "created", nil
}

func (s *ElasticStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := esapi.DeleteRequest{
		Index:      s.index,
		DocumentID: id,
	}.Do(ctx, s.client)
	if err != nil {
		return false, errors.Wrapf(err, "failed to delete item %s", id)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if res.IsError() {
		return false, errors.Errorf("failed to delete item %s: %s", id, res.String())
	}
	return true, nil
}

func (s *ElasticStore) Exists(ctx context.Context, id string) (bool, error) {
	res, err := esapi.ExistsRequest{
		Index:      s.index,
		DocumentID: id,
	}.Do(ctx, s.client)
	if err != nil {
		return false, errors.Wrapf(err, "failed to check item %s", id)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, errors.Errorf("failed to check item %s: %s", id, res.Status())
	}
}

// Count returns the number of entries; a missing index counts as empty
func (s *ElasticStore) Count(ctx context.Context) (int64, error) {
	res, err := esapi.CountRequest{Index: []string{s.index}}.Do(ctx, s.client)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count items")
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if res.IsError() {
		return 0, errors.Errorf("failed to count items: %s", res.String())
	}

	var result struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return 0, errors.Wrap(err, "failed to parse count response")
	}
	return result.Count, nil
}

func (s *ElasticStore) Get(ctx context.Context, id string) (*Item, error) {
	res, err := esapi.GetRequest{
		Index:      s.index,
		DocumentID: id,
	}.Do(ctx, s.client)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get item %s", id)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if res.IsError() {
		return nil, errors.Errorf("failed to get item %s: %s", id, res.String())
	}

	var result struct {
		Found  bool `json:"found"`
		Source Item `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to parse get response")
	}
	if !result.Found {
		return nil, ErrNotFound
	}
	return &result.Source, nil
}
