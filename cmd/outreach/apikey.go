package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

var apikeyCost int

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "API key commands",
}

var apikeyGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a random API key and its bcrypt hash",
	RunE:  runAPIKeyGenerate,
}

var apikeyHashCmd = &cobra.Command{
	Use:   "hash [key]",
	Short: "Print the bcrypt hash of a key for api.api_key_hash",
	Long:  `Hash reads the key from the argument, or from stdin when no argument is given.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAPIKeyHash,
}

func init() {
	apikeyCmd.PersistentFlags().IntVar(&apikeyCost, "cost", bcrypt.DefaultCost, "bcrypt cost")

	apikeyCmd.AddCommand(apikeyGenerateCmd, apikeyHashCmd)
	rootCmd.AddCommand(apikeyCmd)
}

func hashKey(key string, cost int) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash key: %w", err)
	}
	return string(hash), nil
}

func runAPIKeyGenerate(cmd *cobra.Command, args []string) error {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}
	key := hex.EncodeToString(buf)

	hash, err := hashKey(key, apikeyCost)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "API key:  %s\n", key)
	fmt.Fprintf(out, "Hash:     %s\n", hash)
	return nil
}

func runAPIKeyHash(cmd *cobra.Command, args []string) error {
	var key string
	if len(args) == 1 {
		key = args[0]
	} else {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read key: %w", err)
		}
		key = strings.TrimSpace(string(data))
	}

	hash, err := hashKey(key, apikeyCost)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}
