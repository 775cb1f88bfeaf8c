package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/foxzi/mailcast/internal/api"
)

var (
	testTo       string
	testName     string
	testPhone    string
	testSubject  string
	testHTML     string
	testHTMLFile string
)

var sendTestCmd = &cobra.Command{
	Use:   "send-test",
	Short: "Send a single test message through the configured provider",
	Long: `Send one personalized message through the provider configured on the server.
Tracking is never applied to test messages.`,
	RunE: runSendTest,
}

func init() {
	sendTestCmd.Flags().StringVar(&testTo, "to", "", "recipient email address (required)")
	sendTestCmd.Flags().StringVar(&testName, "name", "", "recipient name for {{name}}")
	sendTestCmd.Flags().StringVar(&testPhone, "phone", "", "recipient phone for SMS providers")
	sendTestCmd.Flags().StringVar(&testSubject, "subject", "Mailcast test message", "message subject")
	sendTestCmd.Flags().StringVar(&testHTML, "html", "<p>Hello {{name}}, this is a test from Mailcast.</p>", "HTML body")
	sendTestCmd.Flags().StringVar(&testHTMLFile, "html-file", "", "read the HTML body from a file")
	sendTestCmd.MarkFlagRequired("to")
	sendTestCmd.MarkFlagsMutuallyExclusive("html", "html-file")
	addRemoteFlags(sendTestCmd)

	rootCmd.AddCommand(sendTestCmd)
}

func runSendTest(cmd *cobra.Command, args []string) error {
	html := testHTML
	if testHTMLFile != "" {
		data, err := os.ReadFile(testHTMLFile)
		if err != nil {
			return fmt.Errorf("failed to read HTML file: %w", err)
		}
		html = string(data)
	}

	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), apiTimeout)
	defer cancel()

	result, err := c.TestSend(ctx, &api.TestSendRequest{
		To:      testTo,
		Name:    testName,
		Phone:   testPhone,
		Subject: testSubject,
		HTML:    html,
	})
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("provider rejected message: %s", result.Error)
	}

	fmt.Printf("Test message sent to %s\n", testTo)
	if result.MessageID != "" {
		fmt.Printf("  Message ID: %s\n", result.MessageID)
	}
	return nil
}
