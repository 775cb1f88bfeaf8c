package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

var apiKeyLength int

var apiKeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "API key helpers",
}

var apiKeyGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a random API key and its bcrypt hash",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := generateAPIKey(apiKeyLength)
		if err != nil {
			return err
		}
		hash, err := hashAPIKey(key)
		if err != nil {
			return err
		}
		fmt.Printf("API key:  %s\n", key)
		fmt.Printf("Hash:     %s\n\n", hash)
		fmt.Printf("Put the hash into api.api_key_hash and hand the key to API clients.\n")
		return nil
	},
}

var apiKeyHashCmd = &cobra.Command{
	Use:   "hash",
	Short: "Print the bcrypt hash of an API key read from the terminal or stdin",
	RunE:  runAPIKeyHash,
}

func init() {
	apiKeyGenerateCmd.Flags().IntVar(&apiKeyLength, "length", 32, "key length in bytes")

	apiKeyCmd.AddCommand(apiKeyGenerateCmd, apiKeyHashCmd)
	rootCmd.AddCommand(apiKeyCmd)
}

func runAPIKeyHash(cmd *cobra.Command, args []string) error {
	var key string
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Print("Enter API key: ")
		first, err := term.ReadPassword(fd)
		if err != nil {
			return fmt.Errorf("failed to read key: %w", err)
		}
		fmt.Println()

		fmt.Print("Confirm API key: ")
		second, err := term.ReadPassword(fd)
		if err != nil {
			return fmt.Errorf("failed to read key: %w", err)
		}
		fmt.Println()

		if string(first) != string(second) {
			return fmt.Errorf("keys do not match")
		}
		key = string(first)
	} else {
		var err error
		key, err = readLine(os.Stdin)
		if err != nil {
			return err
		}
	}

	hash, err := hashAPIKey(key)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read key: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func generateAPIKey(length int) (string, error) {
	// bcrypt only reads the first 72 bytes of the hex encoding
	if length < 16 || length > 36 {
		return "", fmt.Errorf("key length must be between 16 and 36 bytes")
	}
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func hashAPIKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("API key must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash key: %w", err)
	}
	return string(hash), nil
}
