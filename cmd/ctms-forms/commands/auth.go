package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/clinprecision/ctms-forms/internal/audit"
	"github.com/clinprecision/ctms-forms/internal/authstore"
	"github.com/clinprecision/ctms-forms/internal/config"
	"github.com/clinprecision/ctms-forms/internal/logging"
	"github.com/spf13/cobra"
)

// stdin is read by `auth login --token-stdin`.
var stdin io.Reader = os.Stdin

var (
	loginToken      string
	loginTokenStdin bool
	loginBaseURL    string
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage CTMS API credentials",
	Long: `Store, inspect and remove the bearer tokens used against the CTMS API.

Tokens are kept per profile in an AES-GCM encrypted file in the config
directory. The passphrase is read from the environment variable named by
auth.passphrase_env (CTMS_FORMS_PASSPHRASE by default).`,
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store a token for the profile",
	Long: `Store a bearer token for the selected profile.

Examples:
  # Preferred: keeps the token out of shell history
  ctms-forms auth login --token-stdin < token.txt

  ctms-forms auth login --profile staging --base-url https://ctms.example.org --token-stdin`,
	RunE: runAuthLogin,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the profile's stored credential",
	RunE:  runAuthLogout,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the profile's token claims",
	RunE:  runAuthStatus,
}

var authListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored profiles",
	RunE:  runAuthList,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authListCmd)

	authLoginCmd.Flags().StringVar(&loginToken, "token", "", "bearer token (visible in process lists; prefer --token-stdin)")
	authLoginCmd.Flags().BoolVar(&loginTokenStdin, "token-stdin", false, "read the token from stdin")
	authLoginCmd.Flags().StringVar(&loginBaseURL, "base-url", "", "CTMS API base URL for this profile")
	authLoginCmd.MarkFlagsMutuallyExclusive("token", "token-stdin")
	authLogoutCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation")
}

// openAuth loads config and the credentials file for the auth commands.
func openAuth() (*config.Config, *authstore.FileStore, *audit.Logger, error) {
	cfg, secrets, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := openCredentials(cfg, secrets)
	if err != nil {
		return nil, nil, nil, err
	}
	verboseLog("Using credentials file %s", store.Path())
	return cfg, store, openAudit(cfg, logger), nil
}

func readToken() (string, error) {
	if !loginTokenStdin {
		if loginToken == "" {
			return "", fmt.Errorf("a token is required: use --token-stdin or --token")
		}
		return strings.TrimSpace(loginToken), nil
	}

	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("failed to read token: %w", err)
		}
		return "", fmt.Errorf("no token on stdin")
	}
	token := strings.TrimSpace(scanner.Text())
	if token == "" {
		return "", fmt.Errorf("no token on stdin")
	}
	return token, nil
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	token, err := readToken()
	if err != nil {
		return err
	}

	cfg, store, auditLog, err := openAuth()
	if err != nil {
		return err
	}
	defer auditLog.Close()

	name := cfg.Auth.Profile
	baseURL := loginBaseURL
	if baseURL == "" {
		baseURL = cfg.API.BaseURL
	}

	err = store.Put(authstore.Credential{Name: name, BaseURL: baseURL, Token: token})
	auditLog.LogTokenOperation(audit.EventTokenStore, name, err == nil, map[string]interface{}{
		"base_url": baseURL,
	})
	if err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}

	fmt.Fprintf(stdout, "Stored token for profile %s.\n", name)
	if claims, err := authstore.Inspect(token); err == nil && claims.Expired(time.Now()) {
		fmt.Fprintf(os.Stderr, "Warning: token expired at %s\n", claims.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	cfg, store, auditLog, err := openAuth()
	if err != nil {
		return err
	}
	defer auditLog.Close()

	name := cfg.Auth.Profile
	if !confirm(cmd.Context(), fmt.Sprintf("Remove the stored credential for profile %s?", name)) {
		fmt.Fprintln(os.Stderr, "Aborted.")
		return nil
	}
	err = store.Delete(name)
	if errors.Is(err, authstore.ErrNotFound) {
		fmt.Fprintf(stdout, "Profile %s has no stored credential.\n", name)
		return nil
	}
	auditLog.LogTokenOperation(audit.EventTokenDelete, name, err == nil, nil)
	if err != nil {
		return fmt.Errorf("failed to remove credential: %w", err)
	}
	fmt.Fprintf(stdout, "Removed credential for profile %s.\n", name)
	return nil
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	cfg, store, auditLog, err := openAuth()
	if err != nil {
		return err
	}
	defer auditLog.Close()

	name := cfg.Auth.Profile
	cred, err := authstore.NewProfileTokens(store, name).Credential()
	switch {
	case errors.Is(err, authstore.ErrNotFound), errors.Is(err, authstore.ErrNoToken):
		fmt.Fprintf(stdout, "Profile %s: not logged in.\n", name)
		return nil
	case err != nil:
		return err
	}

	rows := [][]string{
		{"Profile", cred.Name},
		{"Base URL", orDash(cred.BaseURL)},
		{"Updated", cred.UpdatedAt.Format(time.RFC3339)},
	}
	claims, err := authstore.Inspect(cred.Token)
	if err != nil {
		rows = append(rows, []string{"Token", "opaque (not a JWT)"})
	} else {
		state := "valid"
		if claims.Expired(time.Now()) {
			state = "expired"
		}
		rows = append(rows,
			[]string{"Subject", orDash(claims.Subject)},
			[]string{"Issuer", orDash(claims.Issuer)},
			[]string{"Expires", formatTime(claims.ExpiresAt)},
			[]string{"Status", state},
		)
	}
	return printTable([]string{"FIELD", "VALUE"}, rows)
}

func runAuthList(cmd *cobra.Command, args []string) error {
	cfg, store, auditLog, err := openAuth()
	if err != nil {
		return err
	}
	defer auditLog.Close()

	names, err := store.List()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintln(stdout, "No profiles stored. Run `ctms-forms auth login` to add one.")
		return nil
	}

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		cred, err := store.Get(name)
		if err != nil {
			return err
		}
		marker := ""
		if name == cfg.Auth.Profile {
			marker = "*"
		}
		hasToken := "no"
		if cred.Token != "" {
			hasToken = "yes"
		}
		rows = append(rows, []string{marker + name, orDash(cred.BaseURL), hasToken, cred.UpdatedAt.Format("2006-01-02 15:04")})
	}
	return printTable([]string{"PROFILE", "BASE URL", "TOKEN", "UPDATED"}, rows)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
