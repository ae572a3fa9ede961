package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/calmora/tessera/internal/harvest"
)

// version is stamped into the default User-Agent and the API health response.
const version = "1.0.0"

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tessera [manifest-url]",
	Short: "Download and stitch tiled page images from IIIF manifests",
	Long: `tessera reads a IIIF presentation manifest, downloads the image tiles
for each selected page, and stitches them into one JPEG per page.

Tiles and the manifest are cached next to the output, so interrupted runs
pick up where they left off and already-assembled pages are skipped.

Examples:
  # Harvest every page of a manifest into the current directory
  tessera https://iiif.wellcomecollection.org/presentation/v2/b21538906

  # Pages 1-3 and 7 only, into a named folder
  tessera -o scans -p 1-3,7 https://iiif.example.org/ms-2141/manifest.json

  # Halve the resolution and run eight parallel downloads
  tessera -s 2 -j 8 https://iiif.example.org/ms-2141/manifest.json

  # Rebuild everything, ignoring cached tiles and finished pages
  tessera --force https://iiif.example.org/ms-2141/manifest.json

  # Start HTTP server
  tessera serve --port 8080`,
	Args: cobra.MaximumNArgs(1),
	// If no manifest URL is given, show help
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}
		return runHarvest(cmd, args)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.tessera.yaml)")

	// Output options
	rootCmd.Flags().StringP("output", "o", ".", "output folder")
	rootCmd.Flags().BoolP("force", "f", false, "re-download tiles and overwrite finished pages")

	// Page selection
	rootCmd.Flags().StringP("pages", "p", "", "pages to harvest, e.g. '1-3,5,7-9' (default: all)")

	// Tile options
	rootCmd.Flags().IntP("scale", "s", 1, "scale factor to request (falls back to smallest offered)")
	rootCmd.Flags().IntP("jobs", "j", 4, "parallel tile downloads")

	// HTTP options
	rootCmd.Flags().String("user-agent", "tessera/"+version, "HTTP User-Agent header")

	// Bind flags to viper for root command
	viper.BindPFlag("output", rootCmd.Flags().Lookup("output"))
	viper.BindPFlag("force", rootCmd.Flags().Lookup("force"))
	viper.BindPFlag("pages", rootCmd.Flags().Lookup("pages"))
	viper.BindPFlag("scale", rootCmd.Flags().Lookup("scale"))
	viper.BindPFlag("jobs", rootCmd.Flags().Lookup("jobs"))
	viper.BindPFlag("user-agent", rootCmd.Flags().Lookup("user-agent"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".tessera" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".tessera")
	}

	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func runHarvest(cmd *cobra.Command, args []string) error {
	jobs := viper.GetInt("jobs")
	if jobs < 1 {
		return fmt.Errorf("jobs must be at least 1 (use --jobs)")
	}

	scale := viper.GetInt("scale")
	if scale < 0 {
		return fmt.Errorf("scale must not be negative (use --scale)")
	}

	opts := harvest.Options{
		ManifestURL: args[0],
		OutputDir:   viper.GetString("output"),
		Pages:       viper.GetString("pages"),
		Scale:       scale,
		Force:       viper.GetBool("force"),
		Jobs:        jobs,
		UserAgent:   viper.GetString("user-agent"),
	}

	h := harvest.New(opts)
	return h.Run(cmd.Context())
}
