package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// milvusClient speaks the Milvus RESTful v2 vector database API.
type milvusClient struct {
	baseURL    string
	httpClient *http.Client
}

func newMilvusClient(baseURL, proxyURL string, timeout time.Duration) (*milvusClient, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := http.DefaultTransport
	if proxyURL != "" {
		proxy, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.Proxy = http.ProxyURL(proxy)
		transport = t
	}
	return &milvusClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}, nil
}

// milvusResponse is the envelope every v2 endpoint returns. A non-zero
// code indicates failure even when HTTP status is 200.
type milvusResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (c *milvusClient) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("milvus %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("milvus %s: read response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("milvus %s: status %d: %s", path, resp.StatusCode, string(respBody))
	}

	var envelope milvusResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("milvus %s: decode response: %w", path, err)
	}
	if envelope.Code != 0 {
		return fmt.Errorf("milvus %s: code %d: %s", path, envelope.Code, envelope.Message)
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("milvus %s: decode data: %w", path, err)
		}
	}
	return nil
}

// ping lists collections as a cheap connectivity check.
func (c *milvusClient) ping(ctx context.Context) error {
	return c.post(ctx, "/v2/vectordb/collections/list", map[string]any{}, nil)
}

func (c *milvusClient) hasCollection(ctx context.Context, name string) (bool, error) {
	var data struct {
		Has bool `json:"has"`
	}
	err := c.post(ctx, "/v2/vectordb/collections/has", map[string]any{
		"collectionName": name,
	}, &data)
	if err != nil {
		return false, err
	}
	return data.Has, nil
}

func (c *milvusClient) dropCollection(ctx context.Context, name string) error {
	return c.post(ctx, "/v2/vectordb/collections/drop", map[string]any{
		"collectionName": name,
	}, nil)
}

// createCollection builds the record schema: auto-assigned int64 primary
// id, bounded-length text, fixed-dimension float vector, JSON metadata.
func (c *milvusClient) createCollection(ctx context.Context, name string, dim, maxTextLength int) error {
	return c.post(ctx, "/v2/vectordb/collections/create", map[string]any{
		"collectionName": name,
		"schema": map[string]any{
			"autoID":             true,
			"enableDynamicField": false,
			"fields": []map[string]any{
				{
					"fieldName": "id",
					"dataType":  "Int64",
					"isPrimary": true,
				},
				{
					"fieldName": "text",
					"dataType":  "VarChar",
					"elementTypeParams": map[string]any{
						"max_length": strconv.Itoa(maxTextLength),
					},
				},
				{
					"fieldName": "embedding",
					"dataType":  "FloatVector",
					"elementTypeParams": map[string]any{
						"dim": strconv.Itoa(dim),
					},
				},
				{
					"fieldName": "metadata",
					"dataType":  "JSON",
				},
			},
		},
	}, nil)
}

func (c *milvusClient) createIndex(ctx context.Context, collection string, nlist int) error {
	return c.post(ctx, "/v2/vectordb/indexes/create", map[string]any{
		"collectionName": collection,
		"indexParams": []map[string]any{
			{
				"fieldName":  "embedding",
				"indexName":  "embedding_index",
				"metricType": "L2",
				"indexType":  "IVF_FLAT",
				"params": map[string]any{
					"nlist": nlist,
				},
			},
		},
	}, nil)
}

func (c *milvusClient) loadCollection(ctx context.Context, name string) error {
	return c.post(ctx, "/v2/vectordb/collections/load", map[string]any{
		"collectionName": name,
	}, nil)
}

// row is the wire form of one record; ids are assigned by the backend.
type row struct {
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
	Metadata  any       `json:"metadata"`
}

func (c *milvusClient) insert(ctx context.Context, collection string, rows []row) (int, error) {
	var data struct {
		InsertCount int `json:"insertCount"`
	}
	err := c.post(ctx, "/v2/vectordb/entities/insert", map[string]any{
		"collectionName": collection,
		"data":           rows,
	}, &data)
	if err != nil {
		return 0, err
	}
	return data.InsertCount, nil
}

// flush forces written entities into sealed, searchable segments.
func (c *milvusClient) flush(ctx context.Context, collection string) error {
	return c.post(ctx, "/v2/vectordb/collections/flush", map[string]any{
		"collectionName": collection,
	}, nil)
}

// hit is one search result row; distance is the raw L2 metric value.
type hit struct {
	Distance float64        `json:"distance"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

func (c *milvusClient) search(ctx context.Context, collection string, vector []float32, limit, nprobe int) ([]hit, error) {
	var data []hit
	err := c.post(ctx, "/v2/vectordb/entities/search", map[string]any{
		"collectionName": collection,
		"data":           [][]float32{vector},
		"annsField":      "embedding",
		"limit":          limit,
		"outputFields":   []string{"text", "metadata"},
		"searchParams": map[string]any{
			"metricType": "L2",
			"params": map[string]any{
				"nprobe": nprobe,
			},
		},
	}, &data)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Close releases idle connections.
func (c *milvusClient) Close() {
	c.httpClient.CloseIdleConnections()
}
