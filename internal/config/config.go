// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures every knob the crawl pipeline reads, loaded via Viper from
// file, environment, or defaults.
type Config struct {
	Browser    BrowserConfig   `mapstructure:"browser"`
	Proxy      ProxyConfig     `mapstructure:"proxy"`
	Parsing    ParsingConfig   `mapstructure:"parsing"`
	Selectors  SelectorsConfig `mapstructure:"selectors"`
	DataFields []DataField     `mapstructure:"data_fields"`
	Cache      CacheConfig     `mapstructure:"cache"`
	Output     OutputConfig    `mapstructure:"output"`
	Metrics    MetricsConfig   `mapstructure:"metrics"`
}

// BrowserConfig sizes the session pool.
type BrowserConfig struct {
	MaxSessions       int    `mapstructure:"max_sessions"`
	DetailConcurrency int    `mapstructure:"detail_concurrency"`
	Headless          bool   `mapstructure:"headless"`
	UserAgent         string `mapstructure:"user_agent"`
}

// ProxyConfig lists upstream proxies in compact string form.
type ProxyConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	List    []string `mapstructure:"list"`
}

// ParsingConfig governs navigation timing and retry behavior.
type ParsingConfig struct {
	PageTimeout     time.Duration `mapstructure:"page_timeout"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`
	ClickTimeout    time.Duration `mapstructure:"click_timeout"`
	DelayMin        time.Duration `mapstructure:"delay_min"`
	DelayMax        time.Duration `mapstructure:"delay_max"`
	RetryAttempts   int           `mapstructure:"retry_attempts"`
	ListingsPerPage int           `mapstructure:"listings_per_page"`
}

// SelectorsConfig holds the ordered candidate strategies for each probe or
// extraction concern. The first strategy that succeeds wins.
type SelectorsConfig struct {
	CatalogLinks []string `mapstructure:"catalog_links"`
	CatalogReady []string `mapstructure:"catalog_ready"`
	ListingReady []string `mapstructure:"listing_ready"`
	PhoneButtons []string `mapstructure:"phone_buttons"`
	PhoneVisible []string `mapstructure:"phone_visible"`
}

// DataField names one output column and the ordered selectors that fill it.
type DataField struct {
	Name      string   `mapstructure:"name"`
	Selectors []string `mapstructure:"selectors"`
}

// CacheConfig controls the listing cache store.
type CacheConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
}

// OutputConfig controls the CSV sink.
type OutputConfig struct {
	File      string `mapstructure:"file"`
	Delimiter string `mapstructure:"delimiter"`
	Encoding  string `mapstructure:"encoding"`
	BatchSize int    `mapstructure:"batch_size"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from disk and environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RIA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("browser.max_sessions", 3)
	v.SetDefault("browser.detail_concurrency", 5)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("proxy.enabled", false)
	v.SetDefault("parsing.page_timeout", "30s")
	v.SetDefault("parsing.probe_timeout", "5s")
	v.SetDefault("parsing.click_timeout", "3s")
	v.SetDefault("parsing.delay_min", "1s")
	v.SetDefault("parsing.delay_max", "3s")
	v.SetDefault("parsing.retry_attempts", 3)
	v.SetDefault("parsing.listings_per_page", 0)
	v.SetDefault("selectors.catalog_links", []string{
		"//a[@data-car-id]",
		"//section[contains(@class,'proposition')]//a[contains(@class,'proposition_link')]",
	})
	v.SetDefault("selectors.catalog_ready", []string{
		"#items .items-list",
		"nav.pagination",
	})
	v.SetDefault("selectors.listing_ready", []string{"#basicInfo"})
	v.SetDefault("selectors.phone_buttons", []string{
		"//button[contains(.,'номер')]",
		"//span[contains(@class,'phone_show_link')]",
	})
	v.SetDefault("selectors.phone_visible", []string{
		"div.popup-inner",
		"//div[contains(@class,'react_modal__body')]//a[starts-with(@href,'tel:')]",
		"//div[@id='seller_info']//div[starts-with(@data-key,'phone')]//a[starts-with(@href,'tel:')]",
	})
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.directory", "./cache")
	v.SetDefault("output.file", "output.csv")
	v.SetDefault("output.delimiter", ";")
	v.SetDefault("output.encoding", "utf-8")
	v.SetDefault("output.batch_size", 100)
	v.SetDefault("metrics.addr", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Browser.MaxSessions <= 0 {
		return fmt.Errorf("browser.max_sessions must be > 0")
	}
	if c.Browser.DetailConcurrency <= 0 {
		return fmt.Errorf("browser.detail_concurrency must be > 0")
	}
	if c.Parsing.PageTimeout <= 0 {
		return fmt.Errorf("parsing.page_timeout must be > 0")
	}
	if c.Parsing.ProbeTimeout <= 0 {
		return fmt.Errorf("parsing.probe_timeout must be > 0")
	}
	if c.Parsing.DelayMin < 0 || c.Parsing.DelayMax < c.Parsing.DelayMin {
		return fmt.Errorf("parsing.delay_max must be >= parsing.delay_min >= 0")
	}
	if c.Parsing.RetryAttempts < 0 {
		return fmt.Errorf("parsing.retry_attempts must be >= 0")
	}
	if n := c.Parsing.ListingsPerPage; n != 0 && (n < 10 || n > 100) {
		return fmt.Errorf("parsing.listings_per_page must be 0 or between 10 and 100")
	}
	if len(c.DataFields) == 0 {
		return fmt.Errorf("data_fields must declare at least one field")
	}
	for i, f := range c.DataFields {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("data_fields[%d].name must be set", i)
		}
	}
	if c.Output.BatchSize <= 0 {
		return fmt.Errorf("output.batch_size must be > 0")
	}
	if len([]rune(c.Output.Delimiter)) != 1 {
		return fmt.Errorf("output.delimiter must be a single character")
	}
	if c.Proxy.Enabled && len(c.Proxy.List) == 0 {
		return fmt.Errorf("proxy.list must not be empty when proxy.enabled is set")
	}
	return nil
}

// ProxyList returns the configured proxies, or nil when proxying is off.
func (c Config) ProxyList() []string {
	if !c.Proxy.Enabled {
		return nil
	}
	return c.Proxy.List
}

// FieldNames returns the configured column names in declaration order.
func (c Config) FieldNames() []string {
	names := make([]string, 0, len(c.DataFields))
	for _, f := range c.DataFields {
		names = append(names, f.Name)
	}
	return names
}

// ReadInputURLs reads catalog URLs from a text file, one per line. Blank
// lines and lines starting with '#' are skipped.
func ReadInputURLs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input file: %w", err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read input file: %w", err)
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("input file %s contains no catalog URLs", path)
	}
	return urls, nil
}
