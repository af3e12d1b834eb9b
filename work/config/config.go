package config

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// Config holds all runtime configuration for the signal resolution and
// stream proxy engine: upstream fetch behavior, cache sizing, the refresh
// scheduler window, failover thresholds and the entry mirror list.
type Config struct {
	BaseURL             string        `json:"baseURL"`             // Base URL the proxy advertises in rewritten manifests
	ListenPort          int           `json:"listenPort"`          // HTTP listen port
	DBPath              string        `json:"dbPath"`              // SQLite database file for the mapping store
	RequestTimeout      time.Duration `json:"requestTimeout"`      // Timeout for each upstream page/manifest fetch
	WorkerThreads       int           `json:"workerThreads"`       // Resolution worker pool size
	MaxHops             int           `json:"maxHops"`             // Page resolver hop bound per candidate
	RequestsPerSecond   int           `json:"requestsPerSecond"`   // Per-host upstream rate limit
	ManifestCacheTTL    time.Duration `json:"manifestCacheTTL"`    // Rewritten manifest cache TTL (short, live content)
	SegmentCacheTTL     time.Duration `json:"segmentCacheTTL"`     // Segment cache TTL (long, segments are immutable)
	CacheMaxBytes       int64         `json:"cacheMaxBytes"`       // Total byte budget per proxy cache
	RefreshInterval     time.Duration `json:"refreshInterval"`     // Background refresh cycle interval
	RefreshMinAge       time.Duration `json:"refreshMinAge"`       // Mapping age before it is eligible for refresh
	RefreshMaxAge       time.Duration `json:"refreshMaxAge"`       // Mapping age after which refresh is pointless
	RefreshBatchSize    int           `json:"refreshBatchSize"`    // Maximum mappings re-resolved per cycle
	DomainFailThreshold int           `json:"domainFailThreshold"` // Failure count before a mirror may be disabled
	DomainFailRate      float64       `json:"domainFailRate"`      // Failure rate that, with the count, disables a mirror
	StatsWindow         time.Duration `json:"statsWindow"`         // Rolling window for per-host success scoring
	SessionTTL          time.Duration `json:"sessionTTL"`          // Lifetime of stored resolution cookies
	UserAgent           string        `json:"userAgent"`           // Desktop header profile User-Agent
	MobileUserAgent     string        `json:"mobileUserAgent"`     // Mobile header profile User-Agent (second attempt)
	DefaultReferer      string        `json:"defaultReferer"`      // Referer for the first hop when the caller gives none
	ForceReferer        bool          `json:"forceReferer"`        // Always send the referer on proxied media fetches
	ProbeResolved       bool          `json:"probeResolved"`       // Probe resolved manifests for variant quality
	EntryDomains        []EntryDomain `json:"entryDomains"`        // Mirror hosts serving the entry/player pages
	ExcludeKeywords     []string      `json:"excludeKeywords"`     // Channel labels/urls to drop (commentary tracks)
	AdKeywords          []string      `json:"adKeywords"`          // Media URL substrings that mark ad/junk content
	Debug               bool          `json:"debug"`               // Enable debug logging
	ObfuscateUrls       bool          `json:"obfuscateUrls"`       // Obfuscate URLs in logs
	LogLevel            string        `json:"logLevel"`            // DEBUG, INFO, WARN or ERROR
}

// EntryDomain is one upstream mirror serving entry/player pages. Lower
// priority is tried first.
type EntryDomain struct {
	URL      string `json:"url"`      // Scheme+host of the mirror
	Priority int    `json:"priority"` // Try order, lower first
	Label    string `json:"label"`    // Operator-facing name
}

// ConfigFile mirrors Config for the JSON file on disk; duration fields are
// strings (e.g. "20m") parsed into time.Duration values.
type ConfigFile struct {
	BaseURL             string        `json:"baseURL"`
	ListenPort          int           `json:"listenPort"`
	DBPath              string        `json:"dbPath"`
	RequestTimeout      string        `json:"requestTimeout"`
	WorkerThreads       int           `json:"workerThreads"`
	MaxHops             int           `json:"maxHops"`
	RequestsPerSecond   int           `json:"requestsPerSecond"`
	ManifestCacheTTL    string        `json:"manifestCacheTTL"`
	SegmentCacheTTL     string        `json:"segmentCacheTTL"`
	CacheMaxBytes       int64         `json:"cacheMaxBytes"`
	RefreshInterval     string        `json:"refreshInterval"`
	RefreshMinAge       string        `json:"refreshMinAge"`
	RefreshMaxAge       string        `json:"refreshMaxAge"`
	RefreshBatchSize    int           `json:"refreshBatchSize"`
	DomainFailThreshold int           `json:"domainFailThreshold"`
	DomainFailRate      float64       `json:"domainFailRate"`
	StatsWindow         string        `json:"statsWindow"`
	SessionTTL          string        `json:"sessionTTL"`
	UserAgent           string        `json:"userAgent"`
	MobileUserAgent     string        `json:"mobileUserAgent"`
	DefaultReferer      string        `json:"defaultReferer"`
	ForceReferer        bool          `json:"forceReferer"`
	ProbeResolved       bool          `json:"probeResolved"`
	EntryDomains        []EntryDomain `json:"entryDomains"`
	ExcludeKeywords     []string      `json:"excludeKeywords"`
	AdKeywords          []string      `json:"adKeywords"`
	Debug               bool          `json:"debug"`
	ObfuscateUrls       bool          `json:"obfuscateUrls"`
	LogLevel            string        `json:"logLevel"`
}

var (
	configCache *Config      // Cached configuration instance (singleton)
	configMutex sync.RWMutex // Mutex for safe concurrent access to configCache
)

// LoadConfig loads the configuration from file or returns the cached
// instance.
//
// Process:
//   - Uses double-checked locking to avoid redundant reloads.
//   - Attempts to load from the path in CONFIG_PATH, falling back to
//     /settings/config.json.
//   - Falls back to default config if the file is missing or invalid.
//   - Runs validation to ensure safe defaults.
func LoadConfig() *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	// Double-check under write lock
	if configCache != nil {
		return configCache
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "/settings/config.json"
	}

	config, err := loadFromFile(configPath)
	if err != nil {
		log.Printf("Failed to load config from %s: %v", configPath, err)
		log.Printf("Falling back to default configuration...")
		config = getDefaultConfig()
	}

	// Ensure safe defaults for missing values
	validateAndSetDefaults(config)

	// Cache for future calls
	configCache = config

	if config.Debug {
		log.Printf("Configuration loaded:")
		log.Printf("  Entry domains: %d configured", len(config.EntryDomains))
		for i := range config.EntryDomains {
			d := &config.EntryDomains[i]
			log.Printf("    Domain %d (%s): %s (priority: %d)", i+1, d.Label, obfuscateURL(d.URL), d.Priority)
		}
		log.Printf("  Worker threads: %d", config.WorkerThreads)
		log.Printf("  Max hops: %d", config.MaxHops)
		log.Printf("  Refresh: every %s, window %s-%s, batch %d",
			config.RefreshInterval, config.RefreshMinAge, config.RefreshMaxAge, config.RefreshBatchSize)
	}

	return config
}

// loadFromFile reads and parses the configuration from a JSON file.
func loadFromFile(path string) (*Config, error) {

	// read from the file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// unmarshal the config file
	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// convert to our settings
	return convertFromFile(&configFile)
}

// convertFromFile converts a ConfigFile to Config,
// parsing duration strings into time.Duration.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	config := &Config{
		BaseURL:             cf.BaseURL,
		ListenPort:          cf.ListenPort,
		DBPath:              cf.DBPath,
		WorkerThreads:       cf.WorkerThreads,
		MaxHops:             cf.MaxHops,
		RequestsPerSecond:   cf.RequestsPerSecond,
		CacheMaxBytes:       cf.CacheMaxBytes,
		RefreshBatchSize:    cf.RefreshBatchSize,
		DomainFailThreshold: cf.DomainFailThreshold,
		DomainFailRate:      cf.DomainFailRate,
		UserAgent:           cf.UserAgent,
		MobileUserAgent:     cf.MobileUserAgent,
		DefaultReferer:      cf.DefaultReferer,
		ForceReferer:        cf.ForceReferer,
		ProbeResolved:       cf.ProbeResolved,
		EntryDomains:        cf.EntryDomains,
		ExcludeKeywords:     cf.ExcludeKeywords,
		AdKeywords:          cf.AdKeywords,
		Debug:               cf.Debug,
		ObfuscateUrls:       cf.ObfuscateUrls,
		LogLevel:            cf.LogLevel,
	}

	// Parse duration fields; empty strings fall back to defaults later
	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"requestTimeout", cf.RequestTimeout, &config.RequestTimeout},
		{"manifestCacheTTL", cf.ManifestCacheTTL, &config.ManifestCacheTTL},
		{"segmentCacheTTL", cf.SegmentCacheTTL, &config.SegmentCacheTTL},
		{"refreshInterval", cf.RefreshInterval, &config.RefreshInterval},
		{"refreshMinAge", cf.RefreshMinAge, &config.RefreshMinAge},
		{"refreshMaxAge", cf.RefreshMaxAge, &config.RefreshMaxAge},
		{"statsWindow", cf.StatsWindow, &config.StatsWindow},
		{"sessionTTL", cf.SessionTTL, &config.SessionTTL},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	return config, nil
}

// getDefaultConfig returns a baseline configuration
// with sensible defaults when no file is present.
func getDefaultConfig() *Config {
	return &Config{
		BaseURL:             "http://localhost:8080",
		ListenPort:          8080,
		DBPath:              "/settings/mappings.db",
		RequestTimeout:      10 * time.Second,
		WorkerThreads:       2,
		MaxHops:             4,
		RequestsPerSecond:   4,
		ManifestCacheTTL:    5 * time.Second,
		SegmentCacheTTL:     5 * time.Minute,
		CacheMaxBytes:       256 << 20,
		RefreshInterval:     20 * time.Minute,
		RefreshMinAge:       20 * time.Minute,
		RefreshMaxAge:       2 * time.Hour,
		RefreshBatchSize:    50,
		DomainFailThreshold: 5,
		DomainFailRate:      0.7,
		StatsWindow:         6 * time.Hour,
		SessionTTL:          15 * time.Minute,
		UserAgent:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		MobileUserAgent:     "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
		DefaultReferer:      "https://www.jrs80.com/",
		ForceReferer:        false,
		ProbeResolved:       false,
		EntryDomains: []EntryDomain{
			{URL: "http://play.jgdhds.com", Priority: 1, Label: "mirror-1"},
			{URL: "http://play.sportsteam7777.com", Priority: 2, Label: "mirror-2"},
			{URL: "http://play.sportsteam368.com", Priority: 3, Label: "mirror-3"},
		},
		ExcludeKeywords: []string{"主播", "解说", "commentator", "host"},
		AdKeywords:      []string{"ad", "banner", "popup", "jrs945", "jrs04", "jrs0"},
		Debug:           false,
		ObfuscateUrls:   false,
		LogLevel:        "INFO",
	}
}

// validateAndSetDefaults ensures all config values are valid,
// filling in defaults for missing/invalid ones.
func validateAndSetDefaults(config *Config) {
	def := getDefaultConfig()

	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.ListenPort <= 0 {
		config.ListenPort = def.ListenPort
	}
	if config.DBPath == "" {
		config.DBPath = def.DBPath
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = def.RequestTimeout
	}
	if config.WorkerThreads <= 0 {
		config.WorkerThreads = def.WorkerThreads
	}
	if config.MaxHops <= 0 {
		config.MaxHops = def.MaxHops
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = def.RequestsPerSecond
	}
	if config.ManifestCacheTTL <= 0 {
		config.ManifestCacheTTL = def.ManifestCacheTTL
	}
	if config.SegmentCacheTTL <= 0 {
		config.SegmentCacheTTL = def.SegmentCacheTTL
	}
	if config.CacheMaxBytes <= 0 {
		config.CacheMaxBytes = def.CacheMaxBytes
	}
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = def.RefreshInterval
	}
	if config.RefreshMinAge <= 0 {
		config.RefreshMinAge = def.RefreshMinAge
	}
	if config.RefreshMaxAge <= config.RefreshMinAge {
		config.RefreshMaxAge = def.RefreshMaxAge
	}
	if config.RefreshBatchSize <= 0 {
		config.RefreshBatchSize = def.RefreshBatchSize
	}
	if config.DomainFailThreshold <= 0 {
		config.DomainFailThreshold = def.DomainFailThreshold
	}
	if config.DomainFailRate <= 0 || config.DomainFailRate > 1 {
		config.DomainFailRate = def.DomainFailRate
	}
	if config.StatsWindow <= 0 {
		config.StatsWindow = def.StatsWindow
	}
	if config.SessionTTL <= 0 {
		config.SessionTTL = def.SessionTTL
	}
	if config.UserAgent == "" {
		config.UserAgent = def.UserAgent
	}
	if config.MobileUserAgent == "" {
		config.MobileUserAgent = def.MobileUserAgent
	}
	if config.DefaultReferer == "" {
		config.DefaultReferer = def.DefaultReferer
	}
	if len(config.EntryDomains) == 0 {
		config.EntryDomains = def.EntryDomains
	}
	if len(config.ExcludeKeywords) == 0 {
		config.ExcludeKeywords = def.ExcludeKeywords
	}
	if len(config.AdKeywords) == 0 {
		config.AdKeywords = def.AdKeywords
	}
	if config.LogLevel == "" {
		config.LogLevel = def.LogLevel
	}

	// Validate each entry domain
	for i := range config.EntryDomains {
		d := &config.EntryDomains[i]
		d.URL = strings.TrimRight(d.URL, "/")
		if d.Priority <= 0 {
			d.Priority = i + 1
		}
		if d.Label == "" {
			d.Label = fmt.Sprintf("mirror-%d", i+1)
		}
	}
}

// DomainsByPriority returns a copy of the entry domains sorted by their
// Priority field. The original slice remains unmodified.
func (c *Config) DomainsByPriority() []EntryDomain {

	domains := make([]EntryDomain, len(c.EntryDomains))
	copy(domains, c.EntryDomains)

	// Simple bubble sort (sufficient since the mirror list is small)
	for i := 0; i < len(domains)-1; i++ {
		for j := i + 1; j < len(domains); j++ {
			if domains[i].Priority > domains[j].Priority {
				domains[i], domains[j] = domains[j], domains[i]
			}
		}
	}

	return domains
}

// CreateExampleConfig creates an example config file on disk.
func CreateExampleConfig(path string) error {
	def := getDefaultConfig()
	example := ConfigFile{
		BaseURL:             def.BaseURL,
		ListenPort:          def.ListenPort,
		DBPath:              def.DBPath,
		RequestTimeout:      "10s",
		WorkerThreads:       def.WorkerThreads,
		MaxHops:             def.MaxHops,
		RequestsPerSecond:   def.RequestsPerSecond,
		ManifestCacheTTL:    "5s",
		SegmentCacheTTL:     "5m",
		CacheMaxBytes:       def.CacheMaxBytes,
		RefreshInterval:     "20m",
		RefreshMinAge:       "20m",
		RefreshMaxAge:       "2h",
		RefreshBatchSize:    def.RefreshBatchSize,
		DomainFailThreshold: def.DomainFailThreshold,
		DomainFailRate:      def.DomainFailRate,
		StatsWindow:         "6h",
		SessionTTL:          "15m",
		UserAgent:           def.UserAgent,
		MobileUserAgent:     def.MobileUserAgent,
		DefaultReferer:      def.DefaultReferer,
		ForceReferer:        false,
		ProbeResolved:       true,
		EntryDomains:        def.EntryDomains,
		ExcludeKeywords:     def.ExcludeKeywords,
		AdKeywords:          def.AdKeywords,
		Debug:               false,
		ObfuscateUrls:       true,
		LogLevel:            "INFO",
	}

	// setup the data properly
	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return err
	}

	// write the config file
	return os.WriteFile(path, data, 0644)
}

// ClearConfigCache resets the configCache to nil.
// Forces a reload on the next LoadConfig() call.
func ClearConfigCache() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}

// obfuscateURL masks sensitive parts of a URL for logging.
func obfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return "***OBFUSCATED***"
	}
	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if u.Fragment != "" {
		result += "#***"
	}
	return result
}
