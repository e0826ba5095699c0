package main

import (
	"fmt"
	"strconv"
	"strings"
)

// GlobalFlags are accepted by every command.
type GlobalFlags struct {
	ConfigPath string
	EnvFile    string
}

// DownloadFlags represents flags for the download command
type DownloadFlags struct {
	Type        string
	Symbols     []string
	Intervals   []string
	Years       []int
	Months      []int
	Dates       []string
	StartDate   string
	EndDate     string
	Folder      string
	Checksum    bool
	SkipMonthly bool
	SkipDaily   bool
	Help        bool
}

// SymbolsFlags represents flags for the symbols command
type SymbolsFlags struct {
	Type string
	Help bool
}

// ScheduleFlags represents flags for the schedule command
type ScheduleFlags struct {
	Type      string
	Symbols   []string
	Intervals []string
	Cron      string
	Timezone  string
	Folder    string
	Checksum  bool
	RunNow    bool
	Help      bool
}

// ConfigFlags represents flags for the config command
type ConfigFlags struct {
	Save bool
	Help bool
}

// usageError marks errors caused by bad command line input.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// extractGlobalFlags removes --config and --env-file from args.
func extractGlobalFlags(args []string) (GlobalFlags, []string, error) {
	var g GlobalFlags
	rest := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			if i+1 >= len(args) {
				return g, nil, usagef("--config requires a value")
			}
			g.ConfigPath = args[i+1]
			i++
		case "--env-file":
			if i+1 >= len(args) {
				return g, nil, usagef("--env-file requires a value")
			}
			g.EnvFile = args[i+1]
			i++
		default:
			rest = append(rest, args[i])
		}
	}
	return g, rest, nil
}

// takeValues consumes the values following args[i] up to the next flag. Values may
// also be comma separated. It returns the values and the index of the last one used.
func takeValues(args []string, i int) ([]string, int, error) {
	flag := args[i]
	var values []string
	j := i + 1
	for ; j < len(args) && !strings.HasPrefix(args[j], "-"); j++ {
		for _, v := range strings.Split(args[j], ",") {
			if v = strings.TrimSpace(v); v != "" {
				values = append(values, v)
			}
		}
	}
	if len(values) == 0 {
		return nil, i, usagef("%s requires a value", flag)
	}
	return values, j - 1, nil
}

// takeValue consumes exactly one value following args[i].
func takeValue(args []string, i int) (string, int, error) {
	if i+1 >= len(args) || strings.HasPrefix(args[i+1], "-") {
		return "", i, usagef("%s requires a value", args[i])
	}
	return args[i+1], i + 1, nil
}

// takeSwitch reads a boolean flag that may be followed by an explicit 0 or 1.
func takeSwitch(args []string, i int) (bool, int) {
	if i+1 < len(args) {
		switch args[i+1] {
		case "1", "true":
			return true, i + 1
		case "0", "false":
			return false, i + 1
		}
	}
	return true, i
}

func atoiAll(flag string, values []string) ([]int, error) {
	out := make([]int, 0, len(values))
	for _, v := range values {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, usagef("invalid %s value %q", flag, v)
		}
		out = append(out, n)
	}
	return out, nil
}

// parseDownloadFlags parses command line arguments for the download command
func parseDownloadFlags(args []string) (*DownloadFlags, error) {
	flags := &DownloadFlags{}

	for i := 0; i < len(args); i++ {
		var err error
		switch args[i] {
		case "--type", "-t":
			flags.Type, i, err = takeValue(args, i)
		case "--symbols", "-s":
			flags.Symbols, i, err = takeValues(args, i)
		case "--intervals", "-i":
			flags.Intervals, i, err = takeValues(args, i)
		case "--years", "-y":
			var values []string
			if values, i, err = takeValues(args, i); err == nil {
				flags.Years, err = atoiAll("--years", values)
			}
		case "--months", "-m":
			var values []string
			if values, i, err = takeValues(args, i); err == nil {
				flags.Months, err = atoiAll("--months", values)
			}
		case "--dates", "-d":
			flags.Dates, i, err = takeValues(args, i)
		case "--start-date", "-startDate":
			flags.StartDate, i, err = takeValue(args, i)
		case "--end-date", "-endDate":
			flags.EndDate, i, err = takeValue(args, i)
		case "--folder", "-folder":
			flags.Folder, i, err = takeValue(args, i)
		case "--checksum", "-c":
			flags.Checksum, i = takeSwitch(args, i)
		case "--skip-monthly", "-skip-monthly":
			flags.SkipMonthly, i = takeSwitch(args, i)
		case "--skip-daily", "-skip-daily":
			flags.SkipDaily, i = takeSwitch(args, i)
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, usagef("unknown flag: %s", args[i])
		}
		if err != nil {
			return nil, err
		}
	}

	for _, m := range flags.Months {
		if m < 1 || m > 12 {
			return nil, usagef("invalid month %d, must be between 1 and 12", m)
		}
	}

	return flags, nil
}

// parseSymbolsFlags parses command line arguments for the symbols command
func parseSymbolsFlags(args []string) (*SymbolsFlags, error) {
	flags := &SymbolsFlags{}

	for i := 0; i < len(args); i++ {
		var err error
		switch args[i] {
		case "--type", "-t":
			flags.Type, i, err = takeValue(args, i)
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, usagef("unknown flag: %s", args[i])
		}
		if err != nil {
			return nil, err
		}
	}
	return flags, nil
}

// parseScheduleFlags parses command line arguments for the schedule command
func parseScheduleFlags(args []string) (*ScheduleFlags, error) {
	flags := &ScheduleFlags{}

	for i := 0; i < len(args); i++ {
		var err error
		switch args[i] {
		case "--type", "-t":
			flags.Type, i, err = takeValue(args, i)
		case "--symbols", "-s":
			flags.Symbols, i, err = takeValues(args, i)
		case "--intervals", "-i":
			flags.Intervals, i, err = takeValues(args, i)
		case "--cron":
			flags.Cron, i, err = takeValue(args, i)
		case "--timezone", "--tz":
			flags.Timezone, i, err = takeValue(args, i)
		case "--folder", "-folder":
			flags.Folder, i, err = takeValue(args, i)
		case "--checksum", "-c":
			flags.Checksum, i = takeSwitch(args, i)
		case "--run-now":
			flags.RunNow = true
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, usagef("unknown flag: %s", args[i])
		}
		if err != nil {
			return nil, err
		}
	}
	return flags, nil
}

// parseConfigFlags parses command line arguments for the config command
func parseConfigFlags(args []string) (*ConfigFlags, error) {
	flags := &ConfigFlags{}

	for _, arg := range args {
		switch arg {
		case "--save":
			flags.Save = true
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, usagef("unknown flag: %s", arg)
		}
	}
	return flags, nil
}
