package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/waveq/waveq-engine/pkg/client"
)

var (
	serverURL    string
	clientID     string
	apiKey       string
	outputFormat string
	cfgFile      string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "waveq",
	Short: "CLI for the waveq audio edit engine",
	Long:  `waveq is a command line interface for submitting, inspecting, and managing audio edit requests on a waveqd daemon.`,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.waveq/config)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "engine API URL (default from config or http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&clientID, "client-id", "", "client id sent with every call (default from config)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for daemons with auth enabled (default from config)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(filepath.Join(home, ".waveq"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()
	viper.BindEnv("server_url", "WAVEQ_SERVER")
	viper.BindEnv("client_id", "WAVEQ_CLIENT_ID")
	viper.BindEnv("api_key", "WAVEQ_API_KEY")

	viper.ReadInConfig()

	if serverURL == "" && viper.GetString("server_url") != "" {
		serverURL = viper.GetString("server_url")
	}
	if clientID == "" && viper.GetString("client_id") != "" {
		clientID = viper.GetString("client_id")
	}
	if apiKey == "" && viper.GetString("api_key") != "" {
		apiKey = viper.GetString("api_key")
	}

	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}
}

// GetServerURL returns the configured engine URL with trailing slashes removed
func GetServerURL() string {
	return strings.TrimRight(serverURL, "/")
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}

func apiClient() *client.Client {
	c := client.New(GetServerURL(), clientID)
	if apiKey != "" {
		c = c.WithAPIKey(apiKey)
	}
	return c
}

func printJSON(v interface{}) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(output))
	return nil
}
