package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"drivecast/internal"
	"drivecast/onedrive"
	"drivecast/provider"
	"drivecast/utils"
)

var (
	configPath string
	drive      string
	root       string
	codec      string
	duration   string
	proxyURL   string
	quiet      bool
	debug      bool
	logLevel   string
	logFile    string
	config     *internal.Config
)

var rootCmd = &cobra.Command{
	Use:     "drivecast",
	Short:   "Serve audio albums stored on OneDrive",
	Version: "v1.0.0",
	Long: `drivecast serves albums stored as folders on a OneDrive or SharePoint drive.

Each album is a folder named by its 36-character ID, holding one folder per
disc with numbered tracks inside:

  {root}/{album}/{disc}/{track}.{codec}
  {root}/{album}/cover.jpg
  {root}/{album}/{disc}/cover.jpg

Examples:
  drivecast albums
  drivecast info 0f8fad5b-d9cb-469f-a165-70867728950e 1 3
  drivecast fetch -o track.flac 0f8fad5b-d9cb-469f-a165-70867728950e 1 3
  drivecast scan --root Music
  drivecast serve --listen 127.0.0.1:8090

Environment Variables:
  DRIVECAST_CLIENT_ID       Application (client) ID
  DRIVECAST_CLIENT_SECRET   Client secret, if the application is confidential
  DRIVECAST_REFRESH_TOKEN   Refresh token used for the first exchange
  DRIVECAST_TENANT          Directory tenant (default: common)
  DRIVECAST_DRIVE           Drive location: me, drive:ID, user:ID, group:ID, site:ID
  DRIVECAST_ROOT            Folder holding the albums
  DRIVECAST_CODEC           Track file extension: flac or mp3
  DRIVECAST_DURATION        Duration strategy: auto, probe or metadata
  DRIVECAST_PROXY           HTTP/SOCKS proxy URL`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfiguration(cmd.Root().PersistentFlags()); err != nil {
			return fmt.Errorf("configuration error: %v", err)
		}

		if err := internal.InitLogger(config); err != nil {
			return fmt.Errorf("failed to initialize logger: %v", err)
		}

		internal.LogDebug("Configuration loaded: %s", config.Summary())
		return nil
	},
}

// loadConfiguration reads the config file, then the environment, then
// applies flags that were set explicitly
func loadConfiguration(flags *pflag.FlagSet) error {
	cfg, err := internal.LoadConfigFile(configPath)
	if err != nil {
		return err
	}
	config = cfg
	config.LoadFromEnv()

	if flags.Changed("drive") {
		config.Drive = drive
	}
	if flags.Changed("root") {
		config.Root = root
	}
	if flags.Changed("codec") {
		config.Codec = codec
	}
	if flags.Changed("duration") {
		config.DurationStrategy = duration
	}
	if flags.Changed("proxy") {
		config.ProxyURL = proxyURL
	}

	if debug {
		config.EnableDebug = true
		config.LogLevel = "debug"
	}
	if quiet {
		config.QuietMode = true
	}
	if logLevel != "" {
		config.LogLevel = logLevel
	}
	if logFile != "" {
		config.LogFile = logFile
	}

	return config.ValidateConfig()
}

// signalContext returns a context cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			internal.LogWarn("Received signal %v, shutting down", sig)
			if !config.QuietMode {
				fmt.Fprintf(os.Stderr, "\n🛑 Received %v signal, shutting down gracefully...\n", sig)
			}
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

// openProvider wires credentials, the Graph drive and the provider from the
// loaded configuration and loads the catalog
func openProvider(ctx context.Context) (*provider.Provider, error) {
	logger := internal.GetLogger()

	location, err := onedrive.ParseDriveLocation(config.Drive)
	if err != nil {
		return nil, err
	}

	tokenClient, err := utils.NewHTTPClientWithConfig(&utils.HTTPClientConfig{
		Timeout:         30 * time.Second,
		ProxyURL:        config.ProxyURL,
		FollowRedirects: true,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	creds, err := onedrive.NewCredentialManager(onedrive.CredentialConfig{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		RefreshToken: config.RefreshToken,
		Tenant:       config.Tenant,
		HTTPClient:   tokenClient,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	if err := creds.Login(ctx); err != nil {
		return nil, err
	}

	graphClient, err := utils.NewHTTPClientWithConfig(&utils.HTTPClientConfig{
		ProxyURL:        config.ProxyURL,
		FollowRedirects: false,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	backend, err := onedrive.NewDrive(onedrive.DriveConfig{
		GraphURL:   config.GraphURL,
		Location:   location,
		Tokens:     creds,
		HTTPClient: graphClient,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	strategy, err := provider.NewDurationStrategy(config.DurationStrategy, config.Codec)
	if err != nil {
		return nil, err
	}

	downloadClient, err := utils.NewHTTPClientWithConfig(&utils.HTTPClientConfig{
		ProxyURL:        config.ProxyURL,
		FollowRedirects: true,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	return provider.Open(ctx, backend, provider.Config{
		Root:       config.NormalizedRoot(),
		Codec:      config.Codec,
		Strategy:   strategy,
		HTTPClient: downloadClient,
		Logger:     logger,
	})
}

// report logs err with its full detail and returns it for cobra to print
func report(err error) error {
	var (
		pe *internal.ProviderError
		ve *internal.ValidationError
	)
	suggestion := ""
	switch {
	case errors.As(err, &pe):
		internal.LogProviderError(pe)
		suggestion = pe.Suggestion
	case errors.As(err, &ve):
		internal.LogValidationError(ve)
		suggestion = ve.Suggestion
	default:
		internal.LogError("%v", err)
	}

	if suggestion != "" && (config == nil || !config.QuietMode) {
		fmt.Fprintf(os.Stderr, "💡 %s\n", suggestion)
	}
	return err
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Config file (default: ./drivecast.yaml or ~/.config/drivecast/config.yaml)")
	flags.StringVar(&drive, "drive", "", "Drive location: me, drive:ID, user:ID, group:ID, site:ID (env: DRIVECAST_DRIVE)")
	flags.StringVar(&root, "root", "", "Folder holding the albums (env: DRIVECAST_ROOT)")
	flags.StringVar(&codec, "codec", "", "Track file extension: flac or mp3 (env: DRIVECAST_CODEC)")
	flags.StringVar(&duration, "duration", "", "Duration strategy: auto, probe or metadata (env: DRIVECAST_DURATION)")
	flags.StringVar(&proxyURL, "proxy", "", "HTTP/SOCKS proxy URL (env: DRIVECAST_PROXY)")
	flags.BoolVarP(&quiet, "quiet", "q", false, "Suppress progress and status output")

	// Logging flags
	flags.BoolVarP(&debug, "debug", "d", false, "Enable debug logging with file and line information (env: DRIVECAST_DEBUG)")
	flags.StringVar(&logLevel, "log-level", "", "Set log level (debug, info, warn, error) (env: DRIVECAST_LOG_LEVEL)")
	flags.StringVar(&logFile, "log-file", "", "Write logs to file instead of stderr (env: DRIVECAST_LOG_FILE)")

	rootCmd.AddCommand(albumsCmd, infoCmd, fetchCmd, coverCmd, scanCmd, serveCmd)
}

func Execute() error {
	return rootCmd.Execute()
}
