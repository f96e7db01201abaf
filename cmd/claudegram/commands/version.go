package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// releasesURL is the GitHub API endpoint for the latest release.
const releasesURL = "https://api.github.com/repos/claudegram/claudegram/releases/latest"

func newVersionCmd(version string) *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show the version",
		RunE: func(_ *cobra.Command, _ []string) error {
			fmt.Printf("claudegram %s\n", version)
			if !check {
				return nil
			}

			latest, err := fetchLatestVersion()
			if err != nil {
				return fmt.Errorf("checking latest release: %w", err)
			}
			if sameVersion(version, latest) {
				fmt.Println("You are up to date.")
			} else {
				fmt.Printf("Latest release is %s.\n", latest)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "check GitHub for a newer release")
	return cmd
}

func fetchLatestVersion() (string, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(releasesURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	var release struct {
		TagName string `json:"tag_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return "", err
	}
	if release.TagName == "" {
		return "", fmt.Errorf("release has no tag name")
	}
	return release.TagName, nil
}

func sameVersion(a, b string) bool {
	return strings.TrimPrefix(a, "v") == strings.TrimPrefix(b, "v")
}
