package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/accord/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("accord version %s\n", version.Get())
	},
}
