package mesh

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/monorkin/mesh-node-stats/internal/ingest"
	"github.com/monorkin/mesh-node-stats/internal/version"
)

const (
	DEFAULT_NODES_PATH = "/json/nodes"
	REQUEST_TIMEOUT    = 5 * time.Second
	MAX_RESPONSE_BYTES = 8 << 20
)

// NodeSource supplies the nodes currently known to the mesh.
type NodeSource interface {
	FetchNodes(ctx context.Context) ([]ingest.Observation, error)
}

// Client reads the node database of a mesh gateway over HTTP.
type Client struct {
	httpClient http.Client
	baseURL    string
	nodesPath  string
	logger     *slog.Logger
}

func NewClient(host string) *Client {
	return NewClientWithLogger(host, nil)
}

func NewClientWithLogger(host string, logger *slog.Logger) *Client {
	baseURL := strings.TrimRight(host, "/")
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}

	return &Client{
		httpClient: http.Client{
			Timeout: REQUEST_TIMEOUT,
		},
		baseURL:   baseURL,
		nodesPath: DEFAULT_NODES_PATH,
		logger:    logger,
	}
}

func (client *Client) SetNodesPath(path string) {
	if path == "" {
		path = DEFAULT_NODES_PATH
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	client.nodesPath = path
}

func (client *Client) log(level slog.Level, msg string, args ...any) {
	if client.logger != nil {
		client.logger.Log(context.Background(), level, msg, args...)
	}
}

func (client *Client) URL() string {
	return client.baseURL + client.nodesPath
}

func (client *Client) FetchNodes(ctx context.Context) ([]ingest.Observation, error) {
	url := client.URL()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	request.Header.Set("User-Agent", version.UserAgent())
	request.Header.Set("Accept", "application/json")

	response, err := client.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch nodes: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch nodes: %s", response.Status)
	}

	body, err := io.ReadAll(io.LimitReader(response.Body, MAX_RESPONSE_BYTES))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	nodes, err := DecodeNodes(body)
	if err != nil {
		return nil, err
	}

	client.log(slog.LevelDebug, "Nodes fetched", "url", url, "nodes_count", len(nodes))

	return Observations(nodes), nil
}

// FileSource reads a saved node database dump from disk.
type FileSource struct {
	Path string
}

func (source FileSource) FetchNodes(ctx context.Context) ([]ingest.Observation, error) {
	var data []byte
	var err error
	if source.Path == "-" {
		data, err = io.ReadAll(io.LimitReader(os.Stdin, MAX_RESPONSE_BYTES))
	} else {
		data, err = os.ReadFile(source.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read node dump: %w", err)
	}

	nodes, err := DecodeNodes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", source.Path, err)
	}

	return Observations(nodes), nil
}
