package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"shadowlog/internal/config"
	"shadowlog/internal/util"
)

// attackIndexMapping keeps credentials as keywords so they aggregate.
const attackIndexMapping = `{
  "mappings": {
    "properties": {
      "event_id":       {"type": "keyword"},
      "event_time":     {"type": "date"},
      "event_date":     {"type": "keyword"},
      "source_address": {"type": "keyword"},
      "ip_address":     {"type": "ip"},
      "username":       {"type": "keyword"},
      "password":       {"type": "keyword"},
      "region":         {"type": "keyword"},
      "threat_level":   {"type": "integer"}
    }
  }
}`

type ESClient struct {
	Client *elasticsearch.Client
	config *config.ElasticsearchConfig
	logger *zap.Logger
}

func NewElasticsearchClient(cfg *config.Config, logger *zap.Logger) (*ESClient, error) {
	esConfig := cfg.Elasticsearch

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.IsDevelopment(), // Skip verify in dev only
		},
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{esConfig.URL},
		Username:  esConfig.Username,
		Password:  esConfig.Password,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	util.Info("Elasticsearch client initialized",
		zap.String("url", esConfig.URL),
		zap.String("index", esConfig.Index),
	)

	return &ESClient{
		Client: client,
		config: &esConfig,
		logger: logger,
	}, nil
}

func (e *ESClient) Index() string {
	return e.config.Index
}

func (e *ESClient) Close() error {
	util.Info("Elasticsearch client shutdown")
	return nil
}

func (e *ESClient) HealthCheck(ctx context.Context) error {
	res, err := e.Client.Info(e.Client.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to get cluster info: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch error: %s", res.String())
	}
	return nil
}

// EnsureIndex creates the attack index with its mapping if it is missing.
func (e *ESClient) EnsureIndex(ctx context.Context) error {
	res, err := e.Client.Indices.Exists([]string{e.config.Index}, e.Client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("error checking index: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	res, err = e.Client.Indices.Create(e.config.Index,
		e.Client.Indices.Create.WithContext(ctx),
		e.Client.Indices.Create.WithBody(strings.NewReader(attackIndexMapping)),
	)
	if err != nil {
		return fmt.Errorf("error creating index: %w", err)
	}
	// a concurrent creator wins with resource_already_exists_exception
	if res.IsError() && res.StatusCode != http.StatusBadRequest {
		return checkResponse(res)
	}
	res.Body.Close()

	e.logger.Info("Elasticsearch index ready", zap.String("index", e.config.Index))
	return nil
}

// IndexDocument stores document under id in the attack index.
func (e *ESClient) IndexDocument(ctx context.Context, id string, document interface{}) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(document); err != nil {
		return fmt.Errorf("error encoding document: %w", err)
	}

	res, err := e.Client.Index(
		e.config.Index,
		&buf,
		e.Client.Index.WithContext(ctx),
		e.Client.Index.WithDocumentID(id),
	)
	if err != nil {
		return fmt.Errorf("error indexing document: %w", err)
	}
	return checkResponse(res)
}

func checkResponse(res *esapi.Response) error {
	defer res.Body.Close()

	if !res.IsError() {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}

	var body struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return fmt.Errorf("elasticsearch error: [%s]", res.Status())
	}
	return fmt.Errorf("elasticsearch error: [%s] %s: %s", res.Status(), body.Error.Type, body.Error.Reason)
}
