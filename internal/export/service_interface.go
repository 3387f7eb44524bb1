package export

import "context"

// ExportServiceInterface defines the contract for backup writers.
type ExportServiceInterface interface {
	// Export writes a backup archive with the given configuration.
	Export(ctx context.Context, config *ExportConfig) (*ExportResult, error)
}

// Ensure *ExportService implements the interface at compile time.
var _ ExportServiceInterface = (*ExportService)(nil)
