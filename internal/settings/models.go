package settings

// Keys that may be stored. config.MergeFromDB reads them at startup, so a
// change takes effect on the next restart.
const (
	KeyIMVDbAPIKey            = "imvdb_api_key"
	KeyDownloadDir            = "download_dir"
	KeyMaxConcurrentDownloads = "max_concurrent_downloads"
	KeyMaxRetries             = "max_retries"
	KeyExportNFO              = "export_nfo"
)

var knownKeys = map[string]bool{
	KeyIMVDbAPIKey:            true,
	KeyDownloadDir:            true,
	KeyMaxConcurrentDownloads: true,
	KeyMaxRetries:             true,
	KeyExportNFO:              true,
}

// secretKeys are reported as set or unset, never echoed back.
var secretKeys = map[string]bool{
	KeyIMVDbAPIKey: true,
}

type Setting struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
