package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/bbva/deeptracy-api/internal/models"
	"github.com/bbva/deeptracy-api/pkg/config"
	"github.com/bbva/deeptracy-api/pkg/webhook/parsers"
)

// PayloadFlags select the payload and the provider settings used to read it
type PayloadFlags struct {
	File         string `name:"file" description:"Webhook payload to read. Reads stdin when empty or -"`
	Config       string `name:"config" description:"deeptracy-api configuration file providing the ssh accounts"`
	BitbucketSSH string `name:"bitbucket-ssh" description:"ssh account of Bitbucket remotes, e.g. git@bitbucket.org"`
	GitHubSSH    string `name:"github-ssh" description:"ssh account of GitHub remotes, e.g. git@github.com"`
}

type ProvidersFlags struct{}

var stdout io.Writer = os.Stdout

func parseCmd(flags *PayloadFlags) error {
	registry, payload, err := load(flags)
	if err != nil {
		return err
	}

	parser := registry.Detect(payload)
	if parser == nil {
		return printJSON([]*models.Hook{})
	}

	hooks, err := parser.Parse(payload)
	if err != nil {
		return err
	}
	return printJSON(hooks)
}

func detectCmd(flags *PayloadFlags) error {
	registry, payload, err := load(flags)
	if err != nil {
		return err
	}

	parser := registry.Detect(payload)
	if parser == nil {
		return errors.New("payload matches no provider")
	}
	_, err = fmt.Fprintln(stdout, parser.Provider())
	return err
}

func providersCmd(_ *ProvidersFlags) error {
	for _, p := range parsers.NewRegistry(&config.Config{}).ListProviders() {
		if _, err := fmt.Fprintln(stdout, p); err != nil {
			return err
		}
	}
	return nil
}

// load builds the parser registry from the flags and reads the payload
func load(flags *PayloadFlags) (*parsers.Registry, []byte, error) {
	cfg := &config.Config{}
	if flags.Config != "" {
		loaded, err := config.Load(flags.Config)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
	}
	setSSHAccount(cfg, models.ProviderBitbucket, flags.BitbucketSSH)
	setSSHAccount(cfg, models.ProviderGitHub, flags.GitHubSSH)

	payload, err := readPayload(flags.File)
	if err != nil {
		return nil, nil, err
	}
	return parsers.NewRegistry(cfg), payload, nil
}

// setSSHAccount overrides the ssh account of a provider when account is set
func setSSHAccount(cfg *config.Config, provider models.Provider, account string) {
	if account == "" {
		return
	}
	if pc, ok := cfg.Provider(provider); ok {
		pc.SSHAccount = account
		return
	}
	cfg.Providers = append(cfg.Providers, config.ProviderConfig{Name: string(provider), SSHAccount: account})
}

func readPayload(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return payload, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
