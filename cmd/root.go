package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/farmasearch/farmasearch/internal/utils"
	"github.com/farmasearch/farmasearch/pkg/storage"
	"github.com/farmasearch/farmasearch/pkg/vendors"
	"github.com/farmasearch/farmasearch/pkg/whttp"
	"github.com/spf13/cobra"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "farmasearch",
	Short: "Cross-pharmacy price comparison from scraped product data.",
	Long: `farmasearch imports product prices scraped from online pharmacies, matches
the same product across vendors (by EAN, or by normalized name when no
usable EAN exists) and ranks products by how much you save buying from
the cheapest vendor.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.farmasearch.yaml)")

	// Global flags
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
	rootCmd.PersistentFlags().String("driver", "", "Database driver: sqlite or pgx (default from config, sqlite)")
	rootCmd.PersistentFlags().String("dsn", "", "SQLite file path or PostgreSQL connection string")
	rootCmd.PersistentFlags().StringP("proxy", "", "", "HTTP Proxy for remote feeds (Example: http://127.0.0.1:8080)")

	viper.BindPFlag("db.driver", rootCmd.PersistentFlags().Lookup("driver"))
	viper.BindPFlag("db.dsn", rootCmd.PersistentFlags().Lookup("dsn"))
	viper.BindPFlag("http.proxy", rootCmd.PersistentFlags().Lookup("proxy"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	viper.SetDefault("db.driver", storage.DriverSQLite)
	viper.SetDefault("db.dsn", "")
	viper.SetDefault("db.path", "farmasearch.sqlite")
	viper.SetDefault("consolidate.page_size", 10000)
	viper.SetDefault("vendors", vendors.Default)
	viper.SetDefault("vendor_domains", domainPairs(vendors.DefaultDomains))
	viper.SetDefault("http.retry_max", 5)
	viper.SetDefault("http.timeout", "30s")
	viper.SetDefault("http.user_agent", whttp.DefaultUserAgent)
	viper.SetDefault("import.batch_size", 500)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".farmasearch")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("FARMASEARCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := filepath.Join(home, ".farmasearch.yaml")
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				utils.Log.Debugf("Could not create config file: %v", err)
			}
		} else {
			utils.Log.Warnf("Could not read config file: %v", err)
		}
	}

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	if err := utils.SetLogLevel(levelString); err != nil {
		utils.Log.Fatal(err)
	}
}

// dbTarget returns the configured driver and DSN.
func dbTarget() (driver, dsn string) {
	driver = viper.GetString("db.driver")
	dsn = viper.GetString("db.dsn")
	if dsn == "" && (driver == "" || driver == storage.DriverSQLite) {
		dsn = viper.GetString("db.path")
	}
	return driver, dsn
}

func openDB() (*storage.DB, error) {
	driver, dsn := dbTarget()
	db, err := storage.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}
	return db, nil
}

// withWriteLock runs fn holding the inter-process lock of the SQLite file.
// PostgreSQL handles concurrent writers itself.
func withWriteLock(ctx context.Context, fn func() error) error {
	driver, dsn := dbTarget()
	if driver != "" && driver != storage.DriverSQLite {
		return fn()
	}

	lock, err := utils.AcquireWriteLock(ctx, dsn)
	if err != nil {
		return err
	}
	defer lock.Release()
	return fn()
}

func vendorRegistry() *vendors.Registry {
	names := viper.GetStringSlice("vendors")
	if len(names) == 0 {
		names = vendors.Default
	}
	domains := make(map[string]string)
	for _, pair := range viper.GetStringSlice("vendor_domains") {
		domain, vendor, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(domain) == "" || strings.TrimSpace(vendor) == "" {
			utils.Log.Warnf("Ignoring vendor_domains entry %q, expected domain=Vendor", pair)
			continue
		}
		domains[strings.TrimSpace(domain)] = strings.TrimSpace(vendor)
	}
	if len(domains) == 0 {
		domains = vendors.DefaultDomains
	}
	return vendors.NewRegistry(names, domains)
}

// domainPairs renders a domain map as "domain=Vendor" entries. Viper splits
// map keys on dots, so domains cannot be map keys in the config file.
func domainPairs(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for d, v := range m {
		out = append(out, d+"="+v)
	}
	sort.Strings(out)
	return out
}

func httpClient() (*whttp.Client, error) {
	return whttp.NewClient(whttp.Options{
		RetryMax:  viper.GetInt("http.retry_max"),
		Timeout:   viper.GetDuration("http.timeout"),
		Proxy:     viper.GetString("http.proxy"),
		UserAgent: viper.GetString("http.user_agent"),
	})
}
