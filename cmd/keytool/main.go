// Command keytool generates vault keys, seals provider secrets and mints
// project API keys for manual provisioning.
//
// Usage:
//
//	keytool genkey
//	keytool encrypt [-value secret] [-verify]   (reads the secret from stdin when -value is absent)
//	keytool issue -project proj_123 [-expires 720h]
package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"llm-gateway/config"
	"llm-gateway/internal/vault"
	"llm-gateway/models"
	"llm-gateway/services"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

const (
	projectKeyScheme = "pk_"
	tokenBytes       = 32
	suffixLength     = 4
)

var errUsage = errors.New("usage: keytool genkey | encrypt [-value secret] [-verify] | issue -project id [-expires duration]")

func main() {
	_ = godotenv.Load()

	if err := run(os.Args[1:], os.Stdin, os.Stdout, config.Load); err != nil {
		fmt.Fprintln(os.Stderr, "keytool:", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer, loadConfig func() (*config.Config, error)) error {
	if len(args) == 0 {
		return errUsage
	}

	switch args[0] {
	case "genkey":
		key, err := vault.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "ENCRYPTION_KEY=%s\n", key)
		return nil
	case "encrypt":
		return encrypt(args[1:], stdin, stdout, loadConfig)
	case "issue":
		return issue(args[1:], stdout, loadConfig)
	default:
		return errUsage
	}
}

func openVault(cfg *config.Config) (*vault.Vault, error) {
	return vault.New(vault.Config{
		PrimaryKey:   cfg.Encryption.Key,
		PrimaryKeyID: cfg.Encryption.KeyID,
		PreviousKeys: cfg.Encryption.PreviousKeys,
	})
}

// encrypt seals a provider secret for the llm_api_keys table
func encrypt(args []string, stdin io.Reader, stdout io.Writer, loadConfig func() (*config.Config, error)) error {
	fs := flag.NewFlagSet("encrypt", flag.ContinueOnError)
	value := fs.String("value", "", "secret to encrypt (default: first line of stdin)")
	verify := fs.Bool("verify", false, "check the secret against the provider before sealing it")
	if err := fs.Parse(args); err != nil {
		return err
	}

	secret := *value
	if secret == "" {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read secret: %w", err)
		}
		secret = strings.TrimSpace(line)
	}
	if secret == "" {
		return errors.New("empty secret")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if *verify {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ProviderTimeout())
		defer cancel()
		if err := services.NewOpenAIProvider(cfg).VerifyKey(ctx, secret); err != nil {
			return fmt.Errorf("provider rejected the secret: %w", err)
		}
	}

	v, err := openVault(cfg)
	if err != nil {
		return err
	}
	blob, err := v.EncryptString(secret)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "encrypted_key=%s\n", blob)
	fmt.Fprintf(stdout, "key_prefix=%s\n", models.ProviderKeyPrefix(secret))
	return nil
}

// issue mints a project key and prints the row to store. The plaintext is
// shown once and never persisted.
func issue(args []string, stdout io.Writer, loadConfig func() (*config.Config, error)) error {
	fs := flag.NewFlagSet("issue", flag.ContinueOnError)
	projectID := fs.String("project", "", "project id the key belongs to")
	expires := fs.Duration("expires", 0, "lifetime of the key (0 = never expires)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *projectID == "" {
		return errors.New("-project is required")
	}
	if *expires < 0 {
		return errors.New("-expires must not be negative")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	v, err := openVault(cfg)
	if err != nil {
		return err
	}

	token, err := newProjectToken()
	if err != nil {
		return err
	}
	blob, err := v.EncryptString(token)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "api_key=%s\n", token)
	fmt.Fprintf(stdout, "key_id=pkey_%s\n", uuid.NewString())
	fmt.Fprintf(stdout, "project_id=%s\n", *projectID)
	fmt.Fprintf(stdout, "encrypted_key=%s\n", blob)
	fmt.Fprintf(stdout, "fingerprint=%s\n", v.Fingerprint(token))
	fmt.Fprintf(stdout, "key_prefix=%s\n", models.ProjectKeyPrefix(token))
	fmt.Fprintf(stdout, "key_suffix=%s\n", token[len(token)-suffixLength:])
	if *expires > 0 {
		fmt.Fprintf(stdout, "expires_at=%s\n", time.Now().UTC().Add(*expires).Format(time.RFC3339))
	}
	return nil
}

func newProjectToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return projectKeyScheme + base64.RawURLEncoding.EncodeToString(buf), nil
}
