package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// Secrets (bot token, API keys, ProMED credentials) may live in .env.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "asha",
		Short: "Asha is a healthcare chat assistant relay",
	}
	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the relay",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
