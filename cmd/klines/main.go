// Kline archive downloader CLI
// This application downloads historical kline archives from the exchange's public
// data repository, assembles one parquet file per symbol and interval, and
// optionally uploads the files to object storage.
//
// Usage:
//
//	klines download -t spot -s BTCUSDT ETHUSDT -i 1h 1d -y 2023 2024
//	klines download -t um -d 2024-01-01 2024-01-02 -c
//	klines symbols -t cm
//	klines schedule -t spot -s BTCUSDT -i 1m --cron "30 1 * * *"
//	klines config --save
//
// For detailed help on any command, use: klines <command> --help
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/johnayoung/go-kline-archiver/internal/collector"
	"github.com/johnayoung/go-kline-archiver/internal/config"
	apperrors "github.com/johnayoung/go-kline-archiver/internal/errors"
	"github.com/johnayoung/go-kline-archiver/internal/exchange"
	"github.com/johnayoung/go-kline-archiver/internal/logger"
	"github.com/johnayoung/go-kline-archiver/internal/metrics"
	"github.com/johnayoung/go-kline-archiver/internal/models"
	"github.com/johnayoung/go-kline-archiver/internal/publisher"
	"github.com/johnayoung/go-kline-archiver/internal/storage"
)

// CLI version information
const (
	Version    = "1.0.0"
	AppName    = "klines"
	ConfigFile = "klines.json"
)

// Exit codes following standard conventions
const (
	ExitSuccess       = 0
	ExitUsageError    = 1
	ExitConfigError   = 2
	ExitConnectionErr = 3
	ExitDataError     = 4
	ExitInterrupt     = 130
)

// CLI represents the main CLI application
type CLI struct {
	configMgr  *config.ConfigManager
	config     *config.AppConfig
	loggerMgr  *logger.LoggerManager
	logger     *logger.ComponentLogger
	classifier *apperrors.ErrorClassifier
}

// main is the entry point for the CLI application
func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(ExitUsageError)
	}

	command := os.Args[1]
	switch command {
	case "--version", "-v":
		fmt.Printf("%s version %s\n", AppName, Version)
		return
	case "--help", "-h", "help":
		if len(os.Args) > 2 {
			printCommandHelp(os.Args[2])
		} else {
			printUsage()
		}
		return
	case "download", "symbols", "schedule", "config":
	default:
		fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", command)
		printUsage()
		os.Exit(ExitUsageError)
	}

	global, args, err := extractGlobalFlags(os.Args[2:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitUsageError)
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cli := &CLI{}
	if err := cli.initialize(ctx, global); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to initialize CLI: %v\n", err)
		os.Exit(ExitConfigError)
	}
	defer cli.loggerMgr.Close()

	ctx = logger.WithRunID(ctx, logger.NewRunID())

	switch command {
	case "download":
		err = cli.handleDownload(ctx, args)
	case "symbols":
		err = cli.handleSymbols(ctx, args)
	case "schedule":
		err = cli.handleSchedule(ctx, args)
	case "config":
		err = cli.handleConfig(ctx, args)
	}

	if err != nil {
		code := exitCode(ctx, err)
		if code == ExitUsageError {
			fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
			printCommandHelp(command)
		} else {
			cli.logger.ErrorWithContext(ctx, command+" failed", err, "stage", collector.GetErrorStage(err))
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		cli.loggerMgr.Close()
		os.Exit(code)
	}
}

// exitCode maps a command error to a process exit code.
func exitCode(ctx context.Context, err error) int {
	var ue *usageError
	switch {
	case errors.As(err, &ue):
		return ExitUsageError
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		return ExitInterrupt
	}

	switch apperrors.GetErrorType(err) {
	case apperrors.ErrorTypeNetwork, apperrors.ErrorTypeTimeout,
		apperrors.ErrorTypeRateLimit, apperrors.ErrorTypeServerError:
		return ExitConnectionErr
	case apperrors.ErrorTypeConfiguration:
		return ExitConfigError
	}
	return ExitDataError
}

// initialize loads configuration and sets up logging
func (cli *CLI) initialize(ctx context.Context, global GlobalFlags) error {
	configPath := global.ConfigPath
	if configPath == "" {
		configPath = os.Getenv(config.EnvPrefix + "CONFIG")
	}
	if configPath == "" {
		configPath = ConfigFile
	}

	manager := config.NewConfigManager(configPath, nil)
	if global.EnvFile != "" {
		manager.WithEnvFile(global.EnvFile)
	}

	cfg, err := manager.LoadConfig(ctx)
	if err != nil {
		return err
	}
	cli.configMgr = manager
	cli.config = cfg

	loggerMgr, err := logger.NewLoggerManager(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	cli.loggerMgr = loggerMgr
	slog.SetDefault(loggerMgr.GetLogger())
	cli.logger = loggerMgr.GetComponentLogger("cli")
	cli.classifier = apperrors.NewErrorClassifier(cfg.ErrorHandling, loggerMgr.GetComponentLogger("errors").Logger)

	return nil
}

func (cli *CLI) tradingType(flag string) (models.TradingType, error) {
	if flag == "" {
		flag = cli.config.Archive.TradingType
	}
	tt, err := models.ParseTradingType(flag)
	if err != nil {
		return "", usagef("%v", err)
	}
	return tt, nil
}

func (cli *CLI) newRepository() (*exchange.BinanceVision, error) {
	return exchange.NewBinanceVision(cli.config.Archive, cli.config.HTTPTimeout(), cli.classifier,
		cli.loggerMgr.GetComponentLogger("exchange").Logger)
}

// newFetcher wires the repository client, parquet writer and publisher into a fetcher.
// The returned cleanup closes the writer.
func (cli *CLI) newFetcher(ctx context.Context, repo exchange.ArchiveSource, folder string, progress collector.ProgressFactory) (*collector.Fetcher, func(), error) {
	defaults, err := cli.config.Defaults.Resolve(time.Now())
	if err != nil {
		return nil, nil, fmt.Errorf("invalid defaults: %w", err)
	}

	if folder == "" {
		folder = cli.config.Output.Folder
	}
	writer, err := storage.NewParquetWriter(ctx, folder, cli.config.Output.Compression,
		cli.loggerMgr.GetComponentLogger("storage").Logger)
	if err != nil {
		return nil, nil, err
	}

	pub, err := publisher.New(ctx, cli.config.Publisher, cli.loggerMgr.GetComponentLogger("publisher").Logger)
	if err != nil {
		writer.Close()
		return nil, nil, fmt.Errorf("failed to create publisher: %w", err)
	}

	fetcher, err := collector.NewBuilder().
		WithSource(repo).
		WithWriter(writer).
		WithPublisher(pub).
		WithDefaults(defaults).
		WithTempDir(cli.config.Output.TempDir).
		WithProgress(progress).
		WithMetrics(metrics.NewRunMetrics()).
		WithLogger(cli.loggerMgr.GetComponentLogger("collector")).
		Build()
	if err != nil {
		writer.Close()
		return nil, nil, err
	}

	cleanup := func() {
		if err := writer.Close(); err != nil {
			cli.logger.Warn("failed to close writer", "error", err)
		}
	}
	return fetcher, cleanup, nil
}

func parseDate(flag, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(models.DateLayout, value)
	if err != nil {
		return time.Time{}, usagef("invalid %s %q, use YYYY-MM-DD", flag, value)
	}
	return t, nil
}

// handleDownload handles the 'download' command
func (cli *CLI) handleDownload(ctx context.Context, args []string) error {
	flags, err := parseDownloadFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("download")
		return nil
	}

	tt, err := cli.tradingType(flags.Type)
	if err != nil {
		return err
	}
	for _, iv := range flags.Intervals {
		if !models.IsKnownInterval(iv) {
			return usagef("unknown interval %q, supported: %s", iv, strings.Join(models.Intervals, ", "))
		}
	}

	start, err := parseDate("--start-date", flags.StartDate)
	if err != nil {
		return err
	}
	end, err := parseDate("--end-date", flags.EndDate)
	if err != nil {
		return err
	}

	dates := make([]time.Time, 0, len(flags.Dates))
	for _, d := range flags.Dates {
		p, err := models.ParseDailyPeriod(d)
		if err != nil {
			return usagef("invalid --dates value: %v", err)
		}
		dates = append(dates, p.Date)
	}

	repo, err := cli.newRepository()
	if err != nil {
		return err
	}

	if len(flags.Symbols) == 0 {
		fmt.Println("fetching all symbols from exchange")
	}
	symbols, err := collector.ResolveSymbols(ctx, repo, tt, flags.Symbols)
	if err != nil {
		return err
	}

	fetcher, cleanup, err := cli.newFetcher(ctx, repo, flags.Folder, collector.BarProgress)
	if err != nil {
		return err
	}
	defer cleanup()

	checksum := flags.Checksum || cli.config.Archive.VerifyChecksum
	report := &collector.Report{}

	// explicit dates select the daily phase only
	if len(dates) == 0 && !flags.SkipMonthly {
		err := cli.logger.LogOperation(ctx, "monthly_phase", func() error {
			monthly, err := fetcher.FetchMonthly(ctx, collector.MonthlyRequest{
				TradingType:    tt,
				Symbols:        symbols,
				Intervals:      flags.Intervals,
				Years:          flags.Years,
				Months:         flags.Months,
				Start:          start,
				End:            end,
				VerifyChecksum: checksum,
			})
			report.Merge(monthly)
			return err
		})
		if err != nil {
			return err
		}
	}

	if !flags.SkipDaily {
		err := cli.logger.LogOperation(ctx, "daily_phase", func() error {
			daily, err := fetcher.FetchDaily(ctx, collector.DailyRequest{
				TradingType:    tt,
				Symbols:        symbols,
				Intervals:      flags.Intervals,
				Dates:          dates,
				Start:          start,
				End:            end,
				VerifyChecksum: checksum,
			})
			report.Merge(daily)
			return err
		})
		if err != nil {
			return err
		}
	}

	reporter := metrics.NewReporter(cli.config.Metrics, cli.loggerMgr)
	if err := reporter.Report(ctx, fetcher.Metrics()); err != nil {
		cli.logger.WarnWithContext(ctx, "failed to write metrics report", "error", err)
	}
	for errType, stats := range cli.classifier.GetStats() {
		cli.logger.DebugWithContext(ctx, "classified errors", "type", string(errType), "count", stats.Count)
	}

	printSummary(report)
	return nil
}

// handleSymbols handles the 'symbols' command
func (cli *CLI) handleSymbols(ctx context.Context, args []string) error {
	flags, err := parseSymbolsFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("symbols")
		return nil
	}

	tt, err := cli.tradingType(flags.Type)
	if err != nil {
		return err
	}

	repo, err := cli.newRepository()
	if err != nil {
		return err
	}

	symbols, err := repo.ListSymbols(ctx, tt)
	if err != nil {
		return err
	}
	for _, s := range symbols {
		fmt.Println(s)
	}
	return nil
}

// handleSchedule handles the 'schedule' command
func (cli *CLI) handleSchedule(ctx context.Context, args []string) error {
	flags, err := parseScheduleFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("schedule")
		return nil
	}

	tt, err := cli.tradingType(flags.Type)
	if err != nil {
		return err
	}

	schedCfg := cli.config.Scheduler
	if flags.Cron != "" {
		schedCfg.Cron = flags.Cron
	}
	if flags.Timezone != "" {
		schedCfg.Timezone = flags.Timezone
	}
	if len(flags.Symbols) > 0 {
		schedCfg.Symbols = flags.Symbols
	}

	opts, err := collector.NewSchedulerOptions(schedCfg)
	if err != nil {
		return usagef("%v", err)
	}

	repo, err := cli.newRepository()
	if err != nil {
		return err
	}

	fetcher, cleanup, err := cli.newFetcher(ctx, repo, flags.Folder, collector.NopProgress)
	if err != nil {
		return err
	}
	defer cleanup()

	opts.TradingType = tt
	opts.Intervals = flags.Intervals
	opts.VerifyChecksum = flags.Checksum || cli.config.Archive.VerifyChecksum
	opts.Symbols = func(ctx context.Context) ([]string, error) {
		return collector.ResolveSymbols(ctx, repo, tt, schedCfg.Symbols)
	}

	scheduler, err := collector.NewScheduler(fetcher, opts, cli.loggerMgr.GetComponentLogger("scheduler"))
	if err != nil {
		return usagef("%v", err)
	}

	reporter := metrics.NewReporter(cli.config.Metrics, cli.loggerMgr)

	if flags.RunNow {
		report, err := scheduler.RunOnce(ctx)
		if err != nil {
			return err
		}
		printSummary(report)
	}

	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	fmt.Printf("Scheduler started (%s, %s), next run at %s\n",
		schedCfg.Cron, opts.Location, scheduler.GetStats().NextRunTime.Format(time.RFC3339))
	fmt.Println("Press Ctrl+C to stop gracefully")

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if scheduler.IsRunning() {
		if err := scheduler.Stop(stopCtx); err != nil {
			return err
		}
	}

	if err := reporter.Report(context.Background(), fetcher.Metrics()); err != nil {
		cli.logger.Warn("failed to write metrics report", "error", err)
	}
	return nil
}

// handleConfig handles the 'config' command
func (cli *CLI) handleConfig(ctx context.Context, args []string) error {
	flags, err := parseConfigFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("config")
		return nil
	}

	fmt.Println(cli.configMgr.GetConfig().String())

	if flags.Save {
		if err := cli.configMgr.SaveConfig(ctx); err != nil {
			return &apperrors.ClassifiedError{
				Err:       err,
				Type:      apperrors.ErrorTypeConfiguration,
				Component: "config",
				Operation: "save",
			}
		}
		fmt.Printf("Configuration saved to %s\n", cli.config.ConfigPath)
	}
	return nil
}

func printSummary(report *collector.Report) {
	fmt.Printf("Fetched %d archives (%d missing, %d bad, %d checksum mismatches)\n",
		report.Count(collector.StatusFetched),
		report.Count(collector.StatusMissing),
		report.Count(collector.StatusBadArchive),
		report.Count(collector.StatusChecksumMismatch))
	for _, o := range report.Outputs {
		line := fmt.Sprintf("  %s %s: %d rows -> %s", o.Symbol, o.Interval, o.Rows, o.Path)
		if o.PublishedKey != "" {
			line += " (published " + o.PublishedKey + ")"
		}
		fmt.Println(line)
	}
	if len(report.Empty) > 0 {
		fmt.Printf("  no data: %s\n", strings.Join(report.Empty, ", "))
	}
}

// printUsage displays the main usage information
func printUsage() {
	fmt.Printf(`%s - Kline Archive Downloader v%s

USAGE:
    %s <command> [options]

COMMANDS:
    download    Download monthly and daily kline archives and assemble parquet files
    symbols     List the symbols the exchange reports for a trading type
    schedule    Refresh yesterday's daily archives on a cron schedule
    config      Show the effective configuration, optionally saving it

GLOBAL OPTIONS:
    --config <path>     Configuration file (default: %s)
    --env-file <path>   Load environment variables from a .env file
    --help, -h          Show help information
    --version, -v       Show version information

EXAMPLES:
    # Download BTCUSDT daily klines for 2024
    %s download -t spot -s BTCUSDT -i 1d -y 2024

    # Download USD-M futures daily archives for two dates, verifying checksums
    %s download -t um -s BTCUSDT -i 1h -d 2024-01-01 2024-01-02 -c

    # Refresh every spot symbol at 01:30 UTC
    %s schedule -t spot -i 1m 1h --cron "30 1 * * *"

CONFIGURATION:
    Configuration can be provided via:
    - Config file: %s (JSON format)
    - Environment variables: %s* (e.g., %sPUBLISHER_TYPE=s3)

    Example config file:
    {
        "archive": {"trading_type": "spot", "verify_checksum": true},
        "output": {"folder": "data", "compression": "zstd"},
        "publisher": {"type": "s3", "bucket": "klines", "region": "us-east-1"}
    }

For detailed help on a specific command, use:
    %s <command> --help
`, AppName, Version, AppName, ConfigFile, AppName, AppName, AppName, ConfigFile,
		config.EnvPrefix, config.EnvPrefix, AppName)
}

// printCommandHelp displays help for a specific command
func printCommandHelp(command string) {
	switch command {
	case "download":
		fmt.Printf(`%s download - Download kline archives

USAGE:
    %s download [options]

OPTIONS:
    --type, -t <type>            Trading type: spot, um, cm (default from config)
    --symbols, -s <symbols...>   Symbols to download; all exchange symbols when omitted
    --intervals, -i <iv...>      Intervals (default: all)
                                 Supported: %s
    --years, -y <years...>       Years of monthly archives
    --months, -m <months...>     Months of monthly archives (1-12)
    --dates, -d <dates...>       Daily archive dates (YYYY-MM-DD); skips the monthly phase
    --start-date <date>          First date to include (YYYY-MM-DD)
    --end-date <date>            Last date to include (YYYY-MM-DD)
    --folder <dir>               Output directory for parquet files
    --checksum, -c [0|1]         Verify each archive against its .CHECKSUM file
    --skip-monthly [0|1]         Skip monthly archives
    --skip-daily [0|1]           Skip daily archives
    --help, -h                   Show this help message

Values may be given space or comma separated.

EXAMPLES:
    # All intervals of ETHUSDT for 2023, monthly archives only
    %s download -s ETHUSDT -y 2023 --skip-daily 1

    # Coin-M futures, January and February of 2024
    %s download -t cm -s BTCUSD_PERP -i 1d -y 2024 -m 1 2
`, AppName, AppName, strings.Join(models.Intervals, ", "), AppName, AppName)

	case "symbols":
		fmt.Printf(`%s symbols - List exchange symbols

USAGE:
    %s symbols [options]

OPTIONS:
    --type, -t <type>   Trading type: spot, um, cm (default from config)
    --help, -h          Show this help message
`, AppName, AppName)

	case "schedule":
		fmt.Printf(`%s schedule - Refresh daily archives on a schedule

Each tick downloads the previous day's daily archives and writes them to
date-tagged files, {SYMBOL}-{interval}-{YYYY-MM-DD}.parquet, published as
{SYMBOL}/klines/{interval}-{YYYY-MM-DD}.parquet. Full-history files written
by 'download' are left untouched.

USAGE:
    %s schedule [options]

OPTIONS:
    --type, -t <type>            Trading type: spot, um, cm (default from config)
    --symbols, -s <symbols...>   Symbols to refresh; all exchange symbols when omitted
    --intervals, -i <iv...>      Intervals with daily archives (default: all)
    --cron <expr>                Five-field cron expression (default from config)
    --timezone, --tz <zone>      Location the cron expression runs in (default: UTC)
    --folder <dir>               Output directory for parquet files
    --checksum, -c [0|1]         Verify each archive against its .CHECKSUM file
    --run-now                    Run once immediately before waiting for the schedule
    --help, -h                   Show this help message

EXAMPLES:
    # Refresh BTCUSDT 1m klines every day at 02:00 Tokyo time
    %s schedule -s BTCUSDT -i 1m --cron "0 2 * * *" --tz Asia/Tokyo
`, AppName, AppName, AppName)

	case "config":
		fmt.Printf(`%s config - Show the effective configuration

Prints the configuration after defaults, the config file, the .env file and
%s* environment variables have been applied.

USAGE:
    %s config [options]

OPTIONS:
    --save        Write the effective configuration to the config file
    --help, -h    Show this help message

EXAMPLES:
    # Create klines.json from defaults and the current environment
    %s config --save
`, AppName, config.EnvPrefix, AppName, AppName)

	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
	}
}
