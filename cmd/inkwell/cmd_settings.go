package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"inkwell/internal/config"
	"inkwell/internal/fault"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Inspect and change inkwell settings",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the current settings as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		// The API key never prints.
		settings.Remote.APIKey = ""
		data, err := json.MarshalIndent(settings, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set key=value [key=value ...]",
	Short: "Change settings",
	Long: `Changes one or more settings and persists them atomically.

Keys:
  completion.enabled          true|false
  completion.model_selection  model id from 'inkwell models list'
  completion.debounce_ms      integer
  completion.max_tokens       integer
  remote.provider             openai|gemini
  remote.model                model name
  proxy.enabled               true|false
  proxy.baseUrl               https://...
  logging.debug_mode          true|false
  logging.level               debug|info|warn|error`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		for _, arg := range args {
			key, value, found := strings.Cut(arg, "=")
			if !found {
				return fault.InvalidArgument("args", "expected key=value, got %q", arg)
			}
			if err := applySetting(settings, key, value); err != nil {
				return err
			}
		}

		// The manager path validates model selection against the catalog
		// and broadcasts the change to anything live.
		mgr, err := buildManager(settings)
		if err != nil {
			return err
		}
		defer mgr.Close()
		if err := mgr.UpdateSettings(*settings); err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, arg := range args {
			key, value, _ := strings.Cut(arg, "=")
			fmt.Fprintf(w, "%s\t= %s\n", key, value)
		}
		return w.Flush()
	},
}

func applySetting(s *config.Settings, key, value string) error {
	parseBool := func() (bool, error) {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return false, fault.InvalidArgument(key, "expected true or false, got %q", value)
		}
		return b, nil
	}
	parseInt := func() (int, error) {
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, fault.InvalidArgument(key, "expected an integer, got %q", value)
		}
		return n, nil
	}

	switch key {
	case "completion.enabled":
		b, err := parseBool()
		if err != nil {
			return err
		}
		s.Completion.Enabled = b
	case "completion.model_selection":
		s.Completion.ModelSelection = value
	case "completion.debounce_ms":
		n, err := parseInt()
		if err != nil {
			return err
		}
		s.Completion.DebounceMS = n
	case "completion.max_tokens":
		n, err := parseInt()
		if err != nil {
			return err
		}
		s.Completion.MaxTokens = n
	case "remote.provider":
		s.Remote.Provider = value
	case "remote.model":
		s.Remote.Model = value
	case "proxy.enabled":
		b, err := parseBool()
		if err != nil {
			return err
		}
		s.Proxy.Enabled = b
	case "proxy.baseUrl":
		s.Proxy.BaseURL = value
	case "logging.debug_mode":
		b, err := parseBool()
		if err != nil {
			return err
		}
		s.Logging.DebugMode = b
	case "logging.level":
		s.Logging.Level = value
	default:
		return fault.InvalidArgument(key, "unknown setting")
	}
	return nil
}
