package main

import (
	"fmt"
	"io/fs"
	"os"

	"github.com/Art-Therapy-Chat/web-front/cmd/cli/interpret"
	"github.com/Art-Therapy-Chat/web-front/cmd/cli/journal"
	"github.com/Art-Therapy-Chat/web-front/cmd/cli/sketch"
	"github.com/Art-Therapy-Chat/web-front/internal/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func init() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	rootCmd.AddGroup(interpret.Group)
	rootCmd.AddCommand(interpret.NewCommand())
	rootCmd.AddGroup(sketch.Group)
	rootCmd.AddCommand(sketch.Generate)
	rootCmd.AddGroup(journal.Group)
	rootCmd.AddCommand(journal.Stats)
}

var rootCmd = &cobra.Command{
	Use:          "htpchat",
	Long:         `Command line utilities for the house-tree-person interpretation chat`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	Execute()
}
