package sources

import (
	"github.com/sentinelmarket/sentinel-sync/internal/config"
	"github.com/sentinelmarket/sentinel-sync/internal/httpclient"
)

// apiReaderFactory creates APIReaders against a single base URL
type apiReaderFactory struct {
	baseURL string
	client  httpclient.Client
}

var _ ReaderFactory = (*apiReaderFactory)(nil)

// NewReaderFactory creates a factory whose readers share client and baseURL
func NewReaderFactory(baseURL string, client httpclient.Client) ReaderFactory {
	return &apiReaderFactory{
		baseURL: baseURL,
		client:  client,
	}
}

// CreateReader builds an APIReader for source
func (f *apiReaderFactory) CreateReader(source config.SourceConfig, params map[string]string) (Reader, error) {
	return NewAPIReader(f.baseURL, source, params, f.client)
}
